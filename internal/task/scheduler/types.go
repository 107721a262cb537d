package scheduler

import (
	"context"
	"time"
)

type Config struct {
	Enabled        bool
	Timezone       string // IANA name, empty for local time
	DefaultTimeout time.Duration
	HistorySize    int
}

// Job is one unit of housekeeping work.
type Job func(ctx context.Context) error

type ScheduleInfo struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Next    time.Time     `json:"next"`
	Prev    time.Time     `json:"prev"`
	Runs    uint64        `json:"runs"`
	Skipped uint64        `json:"skipped"`
}

type HistoryItem struct {
	Name    string        `json:"name"`
	Started time.Time     `json:"started"`
	Took    time.Duration `json:"took"`
	Error   string        `json:"error,omitempty"`
}

type Snapshot struct {
	Enabled   bool           `json:"enabled"`
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
	History   []HistoryItem  `json:"history"`
}
