package campaign

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"tgbroadcast/internal/account"
	"tgbroadcast/internal/entitlement"
	"tgbroadcast/internal/messaging"
	"tgbroadcast/internal/runtime/supervisor"
	"tgbroadcast/pkg/logx"
	"tgbroadcast/pkg/tgui"
)

const diagnosticMaxRunes = 200

// Config holds the loop tunables. Zero values take the defaults.
type Config struct {
	ProgressEvery       int
	ManyErrors          int
	GenericBackoff      time.Duration
	FloodControlBackoff time.Duration
	ConnectTimeout      time.Duration
	DisconnectTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = 10
	}
	if c.ManyErrors <= 0 {
		c.ManyErrors = 5
	}
	if c.GenericBackoff <= 0 {
		c.GenericBackoff = 30 * time.Second
	}
	if c.FloodControlBackoff <= 0 {
		c.FloodControlBackoff = 60 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.DisconnectTimeout <= 0 {
		c.DisconnectTimeout = 10 * time.Second
	}
	return c
}

// Gate admits privileged calls and returns the fresh account.
type Gate interface {
	Admit(ctx context.Context, id int64) (account.Account, error)
}

// Deps are the dispatcher collaborators. Clock, Picker, Rand and Log are
// optional.
type Deps struct {
	Gate     Gate
	Dialer   messaging.Dialer
	Notifier Notifier
	Picker   messaging.Picker
	Clock    Clock
	Rand     *rand.Rand
	Log      logx.Logger
}

type Dispatcher struct {
	gate     Gate
	dialer   messaging.Dialer
	notifier Notifier
	pick     messaging.Picker
	clock    Clock
	log      logx.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	mu  sync.Mutex
	cfg Config

	registry *Registry
	sup      *supervisor.Supervisor
}

// New creates a dispatcher whose jobs live until parent is cancelled or
// Shutdown is called.
func New(parent context.Context, cfg Config, deps Deps) *Dispatcher {
	d := &Dispatcher{
		gate:     deps.Gate,
		dialer:   deps.Dialer,
		notifier: deps.Notifier,
		pick:     deps.Picker,
		clock:    deps.Clock,
		log:      deps.Log,
		rng:      deps.Rand,
		cfg:      cfg.withDefaults(),
		registry: NewRegistry(),
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	d.log = d.log.With(logx.String("comp", "campaign"))
	if d.clock == nil {
		d.clock = realClock{}
	}
	if d.pick == nil {
		d.pick = messaging.RandomPicker(messaging.DefaultDevices, nil)
	}
	if d.rng == nil {
		d.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if d.notifier == nil {
		d.notifier = NotifierFunc(func(context.Context, int64, EventKind, Payload) {})
	}
	d.sup = supervisor.New(parent, supervisor.WithLogger(d.log))
	return d
}

// Apply swaps the tunables; running jobs pick them up on their next wait.
func (d *Dispatcher) Apply(cfg Config) {
	d.mu.Lock()
	d.cfg = cfg.withDefaults()
	d.mu.Unlock()
}

func (d *Dispatcher) config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Registry exposes the job table for housekeeping and metrics.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// admit runs the gate and maps its errors into this package's taxonomy.
func (d *Dispatcher) admit(ctx context.Context, id int64) (account.Account, error) {
	a, err := d.gate.Admit(ctx, id)
	switch {
	case err == nil:
		return a, nil
	case errors.Is(err, entitlement.ErrEntitlementRequired), errors.Is(err, entitlement.ErrAccountNotFound):
		return account.Account{}, ErrEntitlementRequired
	default:
		return account.Account{}, err
	}
}

// RequestStart checks every precondition and returns the summary to
// confirm. Nothing is started.
func (d *Dispatcher) RequestStart(ctx context.Context, id int64) (Summary, error) {
	if d.sup.Context().Err() != nil {
		return Summary{}, ErrShuttingDown
	}
	a, err := d.admit(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	if !a.HasCredential() {
		return Summary{}, ErrNoSession
	}
	if err := d.validateSession(ctx, a); err != nil {
		return Summary{}, err
	}
	if err := checkContent(a); err != nil {
		return Summary{}, err
	}
	if _, busy := d.registry.Get(id); busy {
		return Summary{}, ErrAlreadyRunning
	}
	return summaryOf(a), nil
}

// ConfirmAndStart claims the registry slot, snapshots the account and starts
// the send loop. It returns as soon as the loop is scheduled.
func (d *Dispatcher) ConfirmAndStart(ctx context.Context, id int64) (Summary, error) {
	if d.sup.Context().Err() != nil {
		return Summary{}, ErrShuttingDown
	}
	a, err := d.admit(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	if !a.HasCredential() {
		return Summary{}, ErrNoSession
	}
	if err := checkContent(a); err != nil {
		return Summary{}, err
	}

	job := newJob(id, d.clock.Now(), d.shuffled(a.Recipients), tgui.CloseTags(a.Message), a.Credential, a.Duration, a.Delay)
	if !d.registry.TryAdd(job) {
		return Summary{}, ErrAlreadyRunning
	}
	started := d.sup.Go0("campaign."+strconv.FormatInt(id, 10), func(ctx context.Context) {
		d.run(ctx, job)
	})
	if !started {
		// Shutdown won the race after the check above.
		d.registry.Remove(id, job)
		return Summary{}, ErrShuttingDown
	}
	d.log.Info("campaign started",
		logx.Int64("account_id", id),
		logx.Int("recipients", len(job.recipients)),
		logx.Duration("duration", job.duration),
		logx.Duration("delay", job.delay),
	)
	return summaryOf(a), nil
}

// RequestStop flags the running job of id. The loop observes the flag
// before its next send, so termination may lag by one delay or backoff.
func (d *Dispatcher) RequestStop(ctx context.Context, id int64) error {
	_ = ctx
	job, ok := d.registry.Get(id)
	if !ok {
		return ErrNotRunning
	}
	if job.RequestStop() {
		d.log.Info("campaign stop requested", logx.Int64("account_id", id))
	}
	return nil
}

func (d *Dispatcher) Status(id int64) (Snapshot, bool) {
	job, ok := d.registry.Get(id)
	if !ok {
		return Snapshot{}, false
	}
	return job.snapshot(d.clock.Now()), true
}

func (d *Dispatcher) Active() []Snapshot {
	return d.registry.Snapshot(d.clock.Now())
}

// Shutdown cancels every job and waits for their finalization.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	return d.sup.Stop(ctx)
}

// Supervisor exposes goroutine stats.
func (d *Dispatcher) Supervisor() *supervisor.Supervisor { return d.sup }

func (d *Dispatcher) validateSession(ctx context.Context, a account.Account) error {
	cfg := d.config()
	client, err := d.dialer.Dial(a.Credential, d.pick())
	if err != nil {
		d.log.Warn("session dial failed", logx.Int64("account_id", a.ID), logx.Err(err))
		return ErrSessionInvalid
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.DisconnectTimeout)
		defer cancel()
		_ = client.Disconnect(dctx)
	}()

	cctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Connect(cctx); err != nil {
		d.log.Warn("session connect failed", logx.Int64("account_id", a.ID), logx.Err(err))
		return ErrSessionInvalid
	}
	ok, err := client.IsAuthorized(cctx)
	if err != nil || !ok {
		return ErrSessionInvalid
	}
	return nil
}

func checkContent(a account.Account) error {
	if len(a.Recipients) == 0 {
		return ErrNoRecipients
	}
	if strings.TrimSpace(a.Message) == "" {
		return ErrNoMessage
	}
	return nil
}

func summaryOf(a account.Account) Summary {
	return Summary{AccountID: a.ID, Recipients: len(a.Recipients), Delay: a.Delay, Duration: a.Duration}
}

func (d *Dispatcher) shuffled(in []string) []string {
	out := append([]string(nil), in...)
	d.rngMu.Lock()
	d.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	d.rngMu.Unlock()
	return out
}
