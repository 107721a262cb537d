// Package httpapi is the optional operator API: login with a bcrypt
// password, bearer JWTs, per-operator rate limiting, account administration
// and a Prometheus endpoint.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"tgbroadcast/internal/account"
	"tgbroadcast/internal/broadcast"
	"tgbroadcast/internal/campaign"
	"tgbroadcast/internal/notifier"
	logx "tgbroadcast/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string
	// JWTSecret signs operator tokens (HS256).
	JWTSecret string
	TokenTTL  time.Duration
	// Operators maps a username to its bcrypt hash.
	Operators    map[string]string
	RatePerSec   float64
	Burst        int
	MaxBodyBytes int64
	// Pprof mounts /debug/pprof/ behind operator tokens.
	Pprof bool
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8080"
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 12 * time.Hour
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	if c.Burst <= 0 {
		c.Burst = 10
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	return c
}

// Broadcast is the part of the façade the API drives.
type Broadcast interface {
	Stats(ctx context.Context) (broadcast.Stats, error)
	Accounts(ctx context.Context) ([]account.Account, error)
	ActiveCampaigns() []campaign.Snapshot
	Grant(ctx context.Context, id int64, days int) (account.Account, error)
	Revoke(ctx context.Context, id int64) (account.Account, error)
	RequestStop(ctx context.Context, id int64) error
}

// Notices exposes recent user notices.
type Notices interface {
	History() []notifier.HistoryItem
}

type Deps struct {
	Broadcast Broadcast
	Notices   Notices
	Metrics   http.Handler
	// Health reports process health for /healthz; nil means always healthy.
	Health func() error
	Log    logx.Logger
	Now    func() time.Time
}

type Server struct {
	cfg    Config
	deps   Deps
	log    logx.Logger
	tokens *tokenIssuer
	engine *gin.Engine
	srv    *http.Server
}

func New(cfg Config, deps Deps) (*Server, error) {
	cfg = cfg.withDefaults()
	if cfg.JWTSecret == "" {
		return nil, errors.New("httpapi: jwt secret is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		log:    log.With(logx.String("comp", "httpapi")),
		tokens: &tokenIssuer{secret: []byte(cfg.JWTSecret), ttl: cfg.TokenTTL, now: deps.Now},
	}
	s.engine = s.routes()
	return s, nil
}

// Handler returns the router; tests drive it with httptest.
func (s *Server) Handler() http.Handler { return s.engine }

var releaseMode sync.Once

func (s *Server) routes() *gin.Engine {
	releaseMode.Do(func() { gin.SetMode(gin.ReleaseMode) })
	r := gin.New()
	r.Use(recovery(s.log), accessLog(s.log), securityHeaders(), bodyLimit(s.cfg.MaxBodyBytes))

	r.GET("/healthz", s.health)
	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}
	r.POST("/api/auth/login", s.login)

	api := r.Group("/api", s.requireToken(), newLimiter(s.cfg.RatePerSec, s.cfg.Burst).perSubject())
	api.GET("/stats", s.stats)
	api.GET("/accounts", s.accounts)
	api.GET("/campaigns", s.campaigns)
	api.GET("/notices", s.notices)
	api.POST("/accounts/:id/grant", s.grant)
	api.POST("/accounts/:id/revoke", s.revoke)
	api.POST("/accounts/:id/stop", s.stop)

	if s.cfg.Pprof {
		s.mountPprof(r)
	}
	return r
}

// Start listens on cfg.Addr and serves until Shutdown. It returns once the
// listener is bound.
func (s *Server) Start(ctx context.Context) (<-chan error, error) {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return nil, err
	}
	s.srv = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errc <- err
		close(errc)
	}()
	if !isLoopbackAddr(s.cfg.Addr) {
		s.log.Warn("http api bound to a non-loopback address; terminate TLS in front of it", logx.String("addr", s.cfg.Addr))
	}
	s.log.Info("http api listening", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", s.cfg.Pprof))
	return errc, nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
