package auth

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPhoneFormat   = errors.New("phone must be in international format, e.g. +15551234567")
	ErrInvalidPhone         = errors.New("phone number rejected by provider")
	ErrPhoneNotRegistered   = errors.New("phone number is not registered")
	ErrInvalidCodeFormat    = errors.New("code must be exactly 5 digits")
	ErrCancelled            = errors.New("authentication cancelled")
	ErrTwoFactorUnsupported = errors.New("accounts with two-factor authentication are not supported")
	ErrTooManyAttempts      = errors.New("too many wrong codes")
	ErrChallengeExpired     = errors.New("login code expired")
	ErrNoPendingAuth        = errors.New("no authentication in progress")
	ErrClosed               = errors.New("authenticator closed")
)

// WrongCodeError reports a well-formed but rejected code. The session stays
// open for another try.
type WrongCodeError struct {
	AttemptsLeft int
}

func (e *WrongCodeError) Error() string {
	return fmt.Sprintf("wrong code, %d attempts left", e.AttemptsLeft)
}

// ProviderError carries an unclassified provider diagnostic.
type ProviderError struct {
	Message string
	Err     error
}

func (e *ProviderError) Error() string { return "provider error: " + e.Message }

func (e *ProviderError) Unwrap() error { return e.Err }
