// Package campaign runs bounded-duration broadcasts: one job per account,
// a shuffled send loop with provider backoff, progress notices and
// cooperative stop.
package campaign

import (
	"context"
	"errors"
	"time"

	"tgbroadcast/internal/entitlement"
)

var (
	ErrEntitlementRequired = entitlement.ErrEntitlementRequired
	ErrNoSession           = errors.New("no authorized session")
	ErrSessionInvalid      = errors.New("session is no longer authorized")
	ErrNoRecipients        = errors.New("recipient list is empty")
	ErrNoMessage           = errors.New("message is empty")
	ErrAlreadyRunning      = errors.New("campaign already running")
	ErrNotRunning          = errors.New("no campaign running")
	ErrShuttingDown        = errors.New("dispatcher is shutting down")
)

// Reason explains why a job ended.
type Reason string

const (
	ReasonCompleted         Reason = "completed"
	ReasonTimeExpired       Reason = "time_expired"
	ReasonStopped           Reason = "stopped"
	ReasonAuthorizationLost Reason = "authorization_lost"
	ReasonShutdown          Reason = "shutdown"
)

// EventKind names a notification emitted by a running job.
type EventKind string

const (
	EventStarted      EventKind = "started"
	EventProgress     EventKind = "progress"
	EventFloodWait    EventKind = "flood_wait"
	EventRateLimited  EventKind = "rate_limited"
	EventFloodControl EventKind = "flood_control"
	EventManyErrors   EventKind = "many_errors"
	EventFinished     EventKind = "finished"
)

// Payload carries the numbers an event is rendered from. Fields not relevant
// to a kind are zero.
type Payload struct {
	Sent       int64
	Errors     int64
	Recipients int
	Duration   time.Duration
	Delay      time.Duration
	Remaining  time.Duration
	Wait       time.Duration
	Reason     Reason
	Diagnostic string
}

// Notifier delivers job events to the account owner. It must not block the
// loop for long and its failures are never surfaced.
type Notifier interface {
	Notify(ctx context.Context, accountID int64, kind EventKind, p Payload)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, accountID int64, kind EventKind, p Payload)

func (f NotifierFunc) Notify(ctx context.Context, accountID int64, kind EventKind, p Payload) {
	f(ctx, accountID, kind, p)
}

// Summary is what the caller confirms before a job starts.
type Summary struct {
	AccountID  int64
	Recipients int
	Delay      time.Duration
	Duration   time.Duration
}

// Snapshot is a point-in-time view of a running job.
type Snapshot struct {
	AccountID  int64         `json:"account_id"`
	StartedAt  time.Time     `json:"started_at"`
	Sent       int64         `json:"sent"`
	Errors     int64         `json:"errors"`
	Recipients int           `json:"recipients"`
	Duration   time.Duration `json:"duration"`
	Delay      time.Duration `json:"delay"`
	Remaining  time.Duration `json:"remaining"`
	Stopping   bool          `json:"stopping"`
}

// Clock abstracts time for the send loop.
type Clock interface {
	Now() time.Time
	// Sleep waits d or until ctx is done, returning ctx.Err() in that case.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
