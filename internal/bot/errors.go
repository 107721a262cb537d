package bot

import (
	"errors"

	"tgbroadcast/internal/account"
	"tgbroadcast/internal/auth"
	"tgbroadcast/internal/broadcast"
	"tgbroadcast/internal/campaign"
	"tgbroadcast/internal/entitlement"
	"tgbroadcast/pkg/tgui"
)

// explain maps a domain error to a user-facing title and hint. ok is false
// for errors the user cannot act on; those surface as a generic failure.
func explain(err error) (title, detail string, ok bool) {
	var (
		wrong    *auth.WrongCodeError
		provider *auth.ProviderError
		rng      *account.RangeError
	)
	switch {
	case errors.As(err, &wrong):
		return "Wrong code", err.Error(), true
	case errors.As(err, &provider):
		return "Telegram refused the request", provider.Message, true
	case errors.As(err, &rng):
		return "Value out of range", err.Error(), true

	case errors.Is(err, auth.ErrInvalidPhoneFormat):
		return "Invalid phone number", err.Error(), true
	case errors.Is(err, auth.ErrInvalidPhone):
		return "Phone number rejected", "Check the number and try again with /auth.", true
	case errors.Is(err, auth.ErrPhoneNotRegistered):
		return "This number is not registered in Telegram", "Use the number of an existing account.", true
	case errors.Is(err, auth.ErrInvalidCodeFormat):
		return "Invalid code format", "The code has 5 digits. Authorization was cancelled, start again with /auth.", true
	case errors.Is(err, auth.ErrTwoFactorUnsupported):
		return "Two-step verification is enabled", "Accounts with a cloud password are not supported. Disable it or use another account.", true
	case errors.Is(err, auth.ErrTooManyAttempts):
		return "Too many wrong codes", "Authorization was cancelled. Start again with /auth.", true
	case errors.Is(err, auth.ErrChallengeExpired):
		return "The code expired", "Request a new one with /auth.", true
	case errors.Is(err, auth.ErrNoPendingAuth):
		return "No authorization in progress", "Start one with /auth.", true
	case errors.Is(err, auth.ErrCancelled):
		return "Authorization cancelled", "", true
	case errors.Is(err, auth.ErrClosed), errors.Is(err, campaign.ErrShuttingDown):
		return "The bot is restarting", "Try again in a minute.", true

	case errors.Is(err, campaign.ErrNoSession):
		return "No authorized account", "Authorize with /auth first.", true
	case errors.Is(err, campaign.ErrSessionInvalid):
		return "The saved session is no longer valid", "Authorize again with /auth.", true
	case errors.Is(err, campaign.ErrNoRecipients):
		return "No recipients", "Set them with /recipients.", true
	case errors.Is(err, campaign.ErrNoMessage):
		return "No message", "Set it with /message.", true
	case errors.Is(err, campaign.ErrAlreadyRunning):
		return "A broadcast is already running", "Check it with /status or stop it with /stop.", true
	case errors.Is(err, campaign.ErrNotRunning):
		return "No broadcast is running", "", true

	case errors.Is(err, broadcast.ErrEmptyRecipients):
		return "No usernames found", "Send at least one username, e.g. @alice.", true
	case errors.Is(err, broadcast.ErrEmptyMessage):
		return "The message is empty", "Send some text.", true
	case errors.Is(err, broadcast.ErrMessageTooLong):
		return "The message is too long", err.Error(), true
	case errors.Is(err, broadcast.ErrCampaignRunning):
		return "A broadcast is running", "Stop it first with /stop.", true

	case errors.Is(err, account.ErrInvalidNumber):
		return "Not a number", "Send a number like 5 or 2.5.", true
	case errors.Is(err, entitlement.ErrAccountNotFound):
		return "Unknown user", "The user has not started the bot yet.", true
	}
	return "", "", false
}

// failureView renders err for user id. Entitlement failures get the access
// screen; unknown errors are returned so the router replies generically.
func failureView(err error, id int64, kb *tgui.Inline) (tgui.Message, error) {
	if errors.Is(err, entitlement.ErrEntitlementRequired) {
		return accessRequiredView(id), nil
	}
	title, detail, ok := explain(err)
	if !ok {
		return tgui.Message{}, err
	}
	if kb == nil {
		kb = backKeyboard()
	}
	return errorView(title, detail, kb), nil
}
