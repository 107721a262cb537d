package messaging

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies provider failures.
type Kind int

const (
	KindOther Kind = iota
	KindInvalidPhone
	KindPhoneNotRegistered
	KindTwoFactorRequired
	KindWrongCode
	KindChallengeExpired
	KindRateLimited
	KindRateLimitedGeneric
	KindFloodControlExceeded
	KindRecipientNotFound
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindInvalidPhone:
		return "invalid_phone"
	case KindPhoneNotRegistered:
		return "phone_not_registered"
	case KindTwoFactorRequired:
		return "two_factor_required"
	case KindWrongCode:
		return "wrong_code"
	case KindChallengeExpired:
		return "challenge_expired"
	case KindRateLimited:
		return "rate_limited"
	case KindRateLimitedGeneric:
		return "rate_limited_generic"
	case KindFloodControlExceeded:
		return "flood_control_exceeded"
	case KindRecipientNotFound:
		return "recipient_not_found"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "other"
	}
}

// Error is a classified provider failure. Wait is set for KindRateLimited.
type Error struct {
	Kind    Kind
	Wait    time.Duration
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindRateLimited:
		return fmt.Sprintf("%s: wait %s", e.Kind, e.Wait)
	case e.Message != "":
		return e.Kind.String() + ": " + e.Message
	case e.Err != nil:
		return e.Kind.String() + ": " + e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Classified wraps err with kind.
func Classified(kind Kind, err error) *Error {
	e := &Error{Kind: kind, Err: err}
	if err != nil {
		e.Message = err.Error()
	}
	return e
}

// FloodWait builds a rate-limit error with an explicit wait.
func FloodWait(d time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Wait: d}
}

// KindOf returns the classification of err, KindOther when unclassified.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindOther
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the provider diagnostic for err.
func Message(err error) string {
	var me *Error
	if errors.As(err, &me) && me.Message != "" {
		return me.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
