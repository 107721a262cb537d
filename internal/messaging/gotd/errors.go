package gotd

import (
	"errors"
	"strings"

	"github.com/gotd/td/tgerr"

	"tgbroadcast/internal/messaging"
)

// classify maps RPC errors to messaging kinds. Unknown errors become
// KindOther with the RPC error text.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var me *messaging.Error
	if errors.As(err, &me) {
		return err
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return &messaging.Error{Kind: messaging.KindRateLimited, Wait: d, Err: err}
	}
	switch {
	case tgerr.Is(err, "PHONE_NUMBER_INVALID", "PHONE_NUMBER_BANNED"):
		return messaging.Classified(messaging.KindInvalidPhone, err)
	case tgerr.Is(err, "PHONE_NUMBER_UNOCCUPIED"):
		return messaging.Classified(messaging.KindPhoneNotRegistered, err)
	case tgerr.Is(err, "SESSION_PASSWORD_NEEDED"):
		return messaging.Classified(messaging.KindTwoFactorRequired, err)
	case tgerr.Is(err, "PHONE_CODE_INVALID", "PHONE_CODE_EMPTY"):
		return messaging.Classified(messaging.KindWrongCode, err)
	case tgerr.Is(err, "PHONE_CODE_EXPIRED"):
		return messaging.Classified(messaging.KindChallengeExpired, err)
	case tgerr.Is(err, "USERNAME_NOT_OCCUPIED", "USERNAME_INVALID", "PEER_ID_INVALID"):
		return messaging.Classified(messaging.KindRecipientNotFound, err)
	case tgerr.Is(err, "PEER_FLOOD"):
		return messaging.Classified(messaging.KindFloodControlExceeded, err)
	case tgerr.Is(err, "AUTH_KEY_UNREGISTERED", "SESSION_REVOKED", "USER_DEACTIVATED", "USER_DEACTIVATED_BAN"):
		return messaging.Classified(messaging.KindUnauthorized, err)
	}
	if rpc, ok := tgerr.As(err); ok {
		switch rpc.Code {
		case 420, 429:
			return messaging.Classified(messaging.KindRateLimitedGeneric, err)
		case 401:
			return messaging.Classified(messaging.KindUnauthorized, err)
		}
	}
	if strings.Contains(strings.ToLower(err.Error()), "could not find") {
		return messaging.Classified(messaging.KindRecipientNotFound, err)
	}
	return messaging.Classified(messaging.KindOther, err)
}
