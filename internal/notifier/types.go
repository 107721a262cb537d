package notifier

import (
	"context"
	"time"

	kit "tgbroadcast/internal/transport"
)

// Config controls the async delivery pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	HistorySize     int
}

// Sender is the part of the chat adapter the notifier needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type HistoryItem struct {
	At        time.Time `json:"at"`
	AccountID int64     `json:"account_id"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
}

// DeliveryEvent is the Data of notifier.* bus events.
type DeliveryEvent struct {
	Kind  string `json:"kind"`
	Key   string `json:"key,omitempty"`
	Error string `json:"error,omitempty"`
}
