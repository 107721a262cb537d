package router

import (
	"context"
	"hash/fnv"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tgbroadcast/internal/runtime/supervisor"
	kit "tgbroadcast/internal/transport"
	"tgbroadcast/pkg/logx"
	"tgbroadcast/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	// Hidden commands work but stay out of help and the command menu.
	Hidden  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

// CallbackRoute handles inline button data "scope:action[:payload]".
type CallbackRoute struct {
	Scope   string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	FromID   int64
	FromName string
	Owner    bool

	// Command is the matched command name, "cb:<scope>:<action>" for
	// callbacks and empty for free text.
	Command string
	Args    []string
	// Text is the raw remainder after the command, or the whole message for
	// free text.
	Text      string
	Payload   string
	MessageID int
	ReqID     string

	Adapter kit.Adapter
	Logger  logx.Logger

	callbackID string
	answered   atomic.Bool
}

func (r *Request) IsCallback() bool { return r.callbackID != "" }

// Reply sends msg to the request chat.
func (r *Request) Reply(ctx context.Context, msg tgui.Message) (kit.MessageRef, error) {
	return msg.Send(ctx, r.Adapter, r.Chat)
}

// ReplyText sends plain text without markup.
func (r *Request) ReplyText(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// Present edits the message a callback came from, or sends a new one for
// commands and when the edit fails.
func (r *Request) Present(ctx context.Context, msg tgui.Message) error {
	if r.IsCallback() && r.MessageID != 0 {
		ref := kit.MessageRef{ChatID: r.Chat.ChatID, ThreadID: r.Chat.ThreadID, MessageID: r.MessageID}
		if err := msg.Edit(ctx, r.Adapter, ref); err == nil {
			return nil
		}
	}
	_, err := r.Reply(ctx, msg)
	return err
}

// Answer acknowledges a callback with an optional toast. Only the first
// call reaches Telegram.
func (r *Request) Answer(ctx context.Context, text string) error {
	if !r.IsCallback() || !r.answered.CompareAndSwap(false, true) {
		return nil
	}
	return r.Adapter.AnswerCallback(ctx, r.callbackID, text)
}

type Config struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	// PrivateOnly ignores messages from groups and channels.
	PrivateOnly bool
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
		if c.Workers < 2 {
			c.Workers = 2
		}
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Router maps updates to handlers and runs them on a worker pool. Updates of
// one chat always land on the same worker, so a conversation is handled in
// order.
type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	cfg     Config

	mu        sync.RWMutex
	commands  map[string]*Command
	list      []Command
	callbacks map[string]CallbackRoute
	text      HandlerFunc
	owners    map[int64]struct{}

	runMu  sync.Mutex
	sup    *supervisor.Supervisor
	queues []chan func()

	rejected atomic.Uint64
}

func New(adapter kit.Adapter, log logx.Logger, cfg Config, owners []int64) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		log:       log.With(logx.String("comp", "telegram.router")),
		adapter:   adapter,
		cfg:       cfg.withDefaults(),
		commands:  map[string]*Command{},
		callbacks: map[string]CallbackRoute{},
	}
	r.SetOwners(owners)
	return r
}

// SetOwners replaces the owner list. Safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	set := make(map[int64]struct{}, len(owners))
	for _, id := range owners {
		set[id] = struct{}{}
	}
	r.mu.Lock()
	r.owners = set
	r.mu.Unlock()
}

func (r *Router) IsOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.owners[id]
	return ok
}

// Register installs the handler set. A help command is added unless cmds
// already has one. text receives non-command messages and may be nil.
func (r *Router) Register(cmds []Command, cbs []CallbackRoute, text HandlerFunc) {
	list := make([]Command, 0, len(cmds)+1)
	index := map[string]*Command{}
	hasHelp := false
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		if name == "help" {
			hasHelp = true
		}
		list = append(list, c)
	}
	if !hasHelp {
		list = append(list, r.helpCommand())
	}
	for i := range list {
		c := &list[i]
		index[c.Name] = c
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.ContainsAny(a, " \t") {
				continue
			}
			if _, taken := index[a]; !taken {
				index[a] = c
			}
		}
	}

	routes := map[string]CallbackRoute{}
	for _, cb := range cbs {
		s, a := strings.TrimSpace(cb.Scope), strings.TrimSpace(cb.Action)
		if s == "" || a == "" || cb.Handle == nil {
			continue
		}
		routes[s+":"+a] = cb
	}

	r.mu.Lock()
	r.list = list
	r.commands = index
	r.callbacks = routes
	r.text = text
	r.mu.Unlock()
}

// Commands returns the registered commands in registration order.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Command(nil), r.list...)
}

// Supervisor returns the worker pool supervisor (nil when not running).
func (r *Router) Supervisor() *supervisor.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.sup
}

// Run consumes updates until ctx is cancelled or updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log),
		supervisor.WithCancelOnError(false),
	)
	queues := make([]chan func(), r.cfg.Workers)
	for i := range queues {
		queues[i] = make(chan func(), r.cfg.QueueSize)
	}
	r.runMu.Lock()
	r.sup = sup
	r.queues = queues
	r.runMu.Unlock()

	r.log.Info("router started", logx.Int("workers", len(queues)), logx.Int("queue_cap", r.cfg.QueueSize))

	for i, q := range queues {
		idx, q := i, q
		sup.GoRestart("worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-q:
					if !ok {
						return nil
					}
					r.runJob(idx, job)
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithPublishFirstError(true),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	if up, ok := r.adapter.(kit.CommandMenuUpdater); ok {
		menu := menuCommands(r.Commands())
		sup.Go0("menu.update", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 10*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, menu); err != nil {
				r.log.Warn("menu update failed", logx.Err(err))
			}
		})
	}

	defer func() {
		r.runMu.Lock()
		r.queues = nil
		for _, q := range queues {
			close(q)
		}
		r.runMu.Unlock()
		// Queued jobs drain while the context is still live.
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		r.runMu.Lock()
		r.sup = nil
		r.runMu.Unlock()
		r.log.Info("router stopped", logx.Uint64("rejected", r.rejected.Load()))
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.Route(ctx, up)
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in router job", logx.Int("worker", worker), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (r *Router) enqueue(chatID int64, job func()) bool {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if len(r.queues) == 0 {
		return false
	}
	select {
	case r.queues[shard(chatID, len(r.queues))] <- job:
		return true
	default:
		r.rejected.Add(1)
		return false
	}
}

func shard(chatID int64, n int) int {
	h := fnv.New32a()
	h.Write([]byte(strconv.FormatInt(chatID, 10)))
	return int(h.Sum32() % uint32(n))
}

// Route dispatches one update. Exposed for tests and for adapters that
// deliver updates without a channel.
func (r *Router) Route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		r.routeMessage(ctx, up)
	case kit.UpdateCallback:
		r.routeCallback(ctx, up)
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	if r.cfg.PrivateOnly && !msg.Private {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	var (
		handle  HandlerFunc
		timeout time.Duration
		name    string
		args    []string
		rest    string
	)
	if word, tail, ok := splitCommand(msg.Text); ok {
		r.mu.RLock()
		cmd := r.commands[word]
		r.mu.RUnlock()
		if cmd == nil {
			_, _ = r.adapter.SendText(ctx, chat, "Unknown command. Try /help", nil)
			return
		}
		if cmd.Access == AccessOwnerOnly && !r.IsOwner(msg.FromID) {
			_, _ = r.adapter.SendText(ctx, chat, "⛔ This command is reserved for the bot owner.", nil)
			return
		}
		handle, timeout, name = cmd.Handle, cmd.Timeout, cmd.Name
		rest = tail
		args = strings.Fields(tail)
	} else {
		r.mu.RLock()
		handle = r.text
		r.mu.RUnlock()
		if handle == nil {
			return
		}
		rest = msg.Text
	}

	req := r.newRequest(up, chat, msg.FromID, name)
	req.FromName = msg.FromName
	req.Args = args
	req.Text = rest
	req.MessageID = msg.ID

	final := r.chain(handle, timeout)
	if !r.enqueue(msg.ChatID, func() { _ = final(ctx, req) }) {
		_, _ = r.adapter.SendText(ctx, chat, "Busy, try again in a moment.", nil)
	}
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	scope, action, payload, ok := tgui.ParseData(cb.Data)
	if !ok {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	r.mu.RLock()
	route, found := r.callbacks[scope+":"+action]
	r.mu.RUnlock()
	if !found {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "This button is no longer active.")
		return
	}
	if route.Access == AccessOwnerOnly && !r.IsOwner(cb.FromID) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "forbidden")
		return
	}

	chat := kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
	req := r.newRequest(up, chat, cb.FromID, "cb:"+scope+":"+action)
	req.Payload = payload
	req.MessageID = cb.MessageID
	req.callbackID = cb.ID

	final := r.chain(route.Handle, route.Timeout)
	if !r.enqueue(cb.ChatID, func() {
		_ = final(ctx, req)
		// stop the client spinner if the handler did not
		_ = req.Answer(ctx, "")
	}) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "Busy, try again.")
	}
}

func (r *Router) newRequest(up kit.Update, chat kit.ChatTarget, from int64, name string) *Request {
	rid := newReqID()
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  from,
		Owner:   r.IsOwner(from),
		Command: name,
		ReqID:   rid,
		Adapter: r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from),
		),
	}
}

func (r *Router) chain(h HandlerFunc, timeout time.Duration) HandlerFunc {
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}
	return Chain(h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWErrorReply(),
		MWTimeout(timeout),
	)
}
