// Package messaging defines the external messaging account capability the
// core drives: login challenges, session credentials and plain sends.
//
// Implementations classify provider failures into *Error so callers can
// branch with errors.As or IsKind.
package messaging

import "context"

// Client is one connection to the external messaging provider. A client is
// not safe for concurrent use; each auth attempt and each campaign owns one.
type Client interface {
	Connect(ctx context.Context) error
	IsAuthorized(ctx context.Context) (bool, error)
	// RequestLoginChallenge sends a login code to phone and returns the
	// challenge correlation token.
	RequestLoginChallenge(ctx context.Context, phone string) (string, error)
	// SubmitCode completes the login and returns the durable credential.
	SubmitCode(ctx context.Context, challenge, code string) (string, error)
	Send(ctx context.Context, recipient, text string) error
	Disconnect(ctx context.Context) error
}

// Dialer creates clients. An empty credential yields an unauthorized client
// suitable for login.
type Dialer interface {
	Dial(credential string, dev Device) (Client, error)
}
