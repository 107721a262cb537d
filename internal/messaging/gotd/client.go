// Package gotd implements messaging.Client on top of the gotd/td MTProto
// client. The credential is the base64 encoded session blob.
package gotd

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/html"
	"github.com/gotd/td/tg"

	"tgbroadcast/internal/messaging"
	"tgbroadcast/pkg/logx"
)

var (
	ErrNotConnected     = errors.New("client not connected")
	ErrAlreadyConnected = errors.New("client already connected")
)

// Dialer creates MTProto clients for one API application.
type Dialer struct {
	AppID          int
	AppHash        string
	AppVersion     string
	ConnectTimeout time.Duration
	Log            logx.Logger
}

func (d Dialer) Dial(credential string, dev messaging.Device) (messaging.Client, error) {
	if d.AppID == 0 || strings.TrimSpace(d.AppHash) == "" {
		return nil, errors.New("gotd: api_id and api_hash are required")
	}
	st := new(session.StorageMemory)
	if credential = strings.TrimSpace(credential); credential != "" {
		raw, err := base64.StdEncoding.DecodeString(credential)
		if err != nil {
			return nil, messaging.Classified(messaging.KindUnauthorized, fmt.Errorf("decode credential: %w", err))
		}
		if err := st.StoreSession(context.Background(), raw); err != nil {
			return nil, err
		}
	}

	appVersion := dev.AppVersion
	if appVersion == "" {
		appVersion = d.AppVersion
	}
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := d.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &client{
		storage: st,
		timeout: timeout,
		log:     log.With(logx.String("comp", "mtproto"), logx.String("device", dev.Model)),
	}
	c.tg = telegram.NewClient(d.AppID, d.AppHash, telegram.Options{
		SessionStorage: st,
		NoUpdates:      true,
		Device: telegram.DeviceConfig{
			DeviceModel:    dev.Model,
			SystemVersion:  dev.SystemVersion,
			AppVersion:     appVersion,
			LangCode:       "en",
			SystemLangCode: "en",
		},
	})
	return c, nil
}

type client struct {
	tg      *telegram.Client
	storage *session.StorageMemory
	timeout time.Duration
	log     logx.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error
	phone  string
	sender *message.Sender
}

// Connect starts the client run loop and returns once the connection is
// usable. The loop stays alive until Disconnect.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		done <- c.tg.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	tctx, tcancel := context.WithTimeout(ctx, c.timeout)
	defer tcancel()
	select {
	case <-ready:
		c.mu.Lock()
		c.sender = message.NewSender(c.tg.API())
		c.mu.Unlock()
		c.log.Debug("connected")
		return nil
	case err := <-done:
		c.reset()
		if err == nil {
			err = errors.New("connection closed")
		}
		return classify(fmt.Errorf("connect: %w", err))
	case <-tctx.Done():
		cancel()
		<-done
		c.reset()
		return fmt.Errorf("connect: %w", tctx.Err())
	}
}

func (c *client) reset() {
	c.mu.Lock()
	c.cancel = nil
	c.done = nil
	c.sender = nil
	c.mu.Unlock()
}

// Disconnect stops the run loop. Calling it on a closed client is a no-op.
func (c *client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	c.reset()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	c.log.Debug("disconnected")
	return err
}

func (c *client) connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sender != nil
}

func (c *client) IsAuthorized(ctx context.Context) (bool, error) {
	if !c.connected() {
		return false, ErrNotConnected
	}
	st, err := c.tg.Auth().Status(ctx)
	if err != nil {
		return false, classify(err)
	}
	return st.Authorized, nil
}

func (c *client) RequestLoginChallenge(ctx context.Context, phone string) (string, error) {
	if !c.connected() {
		return "", ErrNotConnected
	}
	sent, err := c.tg.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return "", classify(err)
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return "", messaging.Classified(messaging.KindOther, fmt.Errorf("unexpected sent code type %T", sent))
	}
	c.mu.Lock()
	c.phone = phone
	c.mu.Unlock()
	return code.PhoneCodeHash, nil
}

func (c *client) SubmitCode(ctx context.Context, challenge, code string) (string, error) {
	if !c.connected() {
		return "", ErrNotConnected
	}
	c.mu.Lock()
	phone := c.phone
	c.mu.Unlock()

	if _, err := c.tg.Auth().SignIn(ctx, phone, code, challenge); err != nil {
		if errors.Is(err, auth.ErrPasswordAuthNeeded) {
			return "", messaging.Classified(messaging.KindTwoFactorRequired, err)
		}
		var signUp *auth.SignUpRequired
		if errors.As(err, &signUp) {
			return "", messaging.Classified(messaging.KindPhoneNotRegistered, err)
		}
		return "", classify(err)
	}
	raw, err := c.storage.Bytes(nil)
	if err != nil {
		return "", fmt.Errorf("export session: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Send delivers text, parsed as Telegram HTML, to a public username.
func (c *client) Send(ctx context.Context, recipient, text string) error {
	c.mu.Lock()
	sender := c.sender
	c.mu.Unlock()
	if sender == nil {
		return ErrNotConnected
	}
	recipient = strings.TrimPrefix(strings.TrimSpace(recipient), "@")
	if recipient == "" {
		return messaging.Classified(messaging.KindRecipientNotFound, errors.New("empty recipient"))
	}
	_, err := sender.Resolve(recipient).StyledText(ctx, html.String(noUserResolver, text))
	return classify(err)
}

// noUserResolver rejects tg://user mentions; campaigns only address public
// usernames.
func noUserResolver(id int64) (tg.InputUserClass, error) {
	return nil, fmt.Errorf("user mention %d not supported", id)
}
