package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"tgbroadcast/internal/eventbus"
	logx "tgbroadcast/pkg/logx"
)

var ErrDuplicate = errors.New("schedule already registered")

type schedule struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	entryID cron.EntryID

	running atomic.Bool
	runs    atomic.Uint64
	skipped atomic.Uint64
}

type Service struct {
	mu sync.Mutex

	cfg    Config
	log    logx.Logger
	bus    eventbus.Bus
	parser cron.Parser
	c      *cron.Cron
	loc    *time.Location
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	defs   []*schedule

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log.With(logx.String("comp", "scheduler")),
		bus: bus,
		// SecondOptional accepts both 5- and 6-field specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// NormalizeSpec turns a plain interval into "@every <d>" and validates cron
// expressions.
func (s *Service) NormalizeSpec(raw string) (string, error) {
	spec := strings.TrimSpace(raw)
	if spec == "" {
		return "", errors.New("schedule required")
	}
	if d, err := time.ParseDuration(spec); err == nil {
		if d < time.Second {
			return "", fmt.Errorf("interval %s is below one second", d)
		}
		return "@every " + d.String(), nil
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return "", fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return spec, nil
}

// Add registers job under name. It may be called before or after Start.
func (s *Service) Add(name, spec string, timeout time.Duration, job Job) error {
	if job == nil {
		return errors.New("scheduler: nil job")
	}
	norm, err := s.NormalizeSpec(spec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.defs {
		if d.name == name {
			return fmt.Errorf("%w: %s", ErrDuplicate, name)
		}
	}
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	def := &schedule{name: name, spec: norm, timeout: timeout, job: job}
	if s.c != nil {
		if err := s.addCronLocked(def); err != nil {
			return err
		}
	}
	s.defs = append(s.defs, def)
	return nil
}

// Start begins triggering. It is idempotent and a no-op when disabled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return nil
	}
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("scheduler timezone: %w", err)
		}
		loc = l
	}
	s.loc = loc
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, d := range s.defs {
		if err := s.addCronLocked(d); err != nil {
			s.log.Warn("schedule not registered", logx.String("name", d.name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
	return nil
}

func (s *Service) addCronLocked(d *schedule) error {
	id, err := s.c.AddFunc(d.spec, func() { s.trigger(d) })
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

// RunNow triggers name outside its schedule, respecting the overlap guard.
func (s *Service) RunNow(name string) bool {
	s.mu.Lock()
	var def *schedule
	for _, d := range s.defs {
		if d.name == name {
			def = d
		}
	}
	started := s.c != nil
	s.mu.Unlock()
	if def == nil || !started {
		return false
	}
	return s.trigger(def)
}

func (s *Service) trigger(d *schedule) bool {
	if !d.running.CompareAndSwap(false, true) {
		d.skipped.Add(1)
		s.log.Debug("schedule still running; skipped", logx.String("name", d.name))
		return false
	}
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		d.running.Store(false)
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer d.running.Store(false)
		s.execute(ctx, d)
	}()
	return true
}

func (s *Service) execute(parent context.Context, d *schedule) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, d.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in scheduled job", logx.String("name", d.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return d.job(ctx)
	}()
	d.runs.Add(1)

	item := HistoryItem{Name: d.name, Started: start, Took: time.Since(start)}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("scheduled job failed", logx.String("name", d.name), logx.Duration("took", item.Took), logx.Err(err))
	} else {
		s.log.Debug("scheduled job done", logx.String("name", d.name), logx.Duration("took", item.Took))
	}
	s.record(item)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.SchedulerRun, Data: item})
	}
}

func (s *Service) record(it HistoryItem) {
	max := s.cfg.HistorySize
	if max <= 0 {
		max = 100
	}
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}

// Stop halts triggering, cancels running jobs and waits for them until ctx
// is done.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Timezone: s.cfg.Timezone}
	if s.loc != nil {
		snap.Timezone = s.loc.String()
	}
	c := s.c
	defs := append([]*schedule(nil), s.defs...)
	s.mu.Unlock()

	for _, d := range defs {
		info := ScheduleInfo{
			Name:    d.name,
			Spec:    d.spec,
			Timeout: d.timeout,
			Runs:    d.runs.Load(),
			Skipped: d.skipped.Load(),
		}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, info)
	}
	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}
