package bot

import (
	"sync"
	"time"
)

// FlowKind says what the next free-text message of a user means.
type FlowKind int

const (
	FlowNone FlowKind = iota
	FlowAuthPhone
	FlowAuthCode
	FlowRecipients
	FlowMessage
	FlowHours
	FlowDelay
)

func (k FlowKind) String() string {
	switch k {
	case FlowAuthPhone:
		return "auth_phone"
	case FlowAuthCode:
		return "auth_code"
	case FlowRecipients:
		return "recipients"
	case FlowMessage:
		return "message"
	case FlowHours:
		return "hours"
	case FlowDelay:
		return "delay"
	default:
		return "none"
	}
}

// Flow is the open input step of one user.
type Flow struct {
	Kind  FlowKind
	Since time.Time
}

// Flows holds at most one open flow per user. Entries older than the TTL
// read as absent.
type Flows struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time
	m   map[int64]Flow
}

func NewFlows(ttl time.Duration, now func() time.Time) *Flows {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Flows{ttl: ttl, now: now, m: map[int64]Flow{}}
}

// SetTTL changes the expiry of open and future flows.
func (f *Flows) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	f.mu.Lock()
	f.ttl = ttl
	f.mu.Unlock()
}

// Open replaces whatever flow id had.
func (f *Flows) Open(id int64, kind FlowKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kind == FlowNone {
		delete(f.m, id)
		return
	}
	f.m[id] = Flow{Kind: kind, Since: f.now()}
}

func (f *Flows) Get(id int64) (Flow, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fl, ok := f.m[id]
	if !ok {
		return Flow{}, false
	}
	if f.now().Sub(fl.Since) > f.ttl {
		delete(f.m, id)
		return Flow{}, false
	}
	return fl, true
}

// Close removes the flow of id and returns it.
func (f *Flows) Close(id int64) (Flow, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fl, ok := f.m[id]
	delete(f.m, id)
	return fl, ok
}

// Sweep drops expired flows and returns how many were removed.
func (f *Flows) Sweep() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	n := 0
	for id, fl := range f.m {
		if now.Sub(fl.Since) > f.ttl {
			delete(f.m, id)
			n++
		}
	}
	return n
}

func (f *Flows) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.m)
}
