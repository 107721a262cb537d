// Package messagingtest provides an in-memory messaging.Client for tests.
package messagingtest

import (
	"context"
	"errors"
	"sync"

	"tgbroadcast/internal/messaging"
)

// Client records every call. Zero value is a connected-on-demand client that
// authorizes and delivers everything.
type Client struct {
	mu sync.Mutex

	Credential string
	Device     messaging.Device

	ConnectErr   error
	Unauthorized bool
	AuthErr      error
	ChallengeErr error
	// CodeErrs is consumed one entry per SubmitCode call; a nil entry or an
	// exhausted slice means success.
	CodeErrs []error
	Issued   string // credential returned on successful SubmitCode
	// SendFunc decides the outcome of each Send. Nil means success.
	SendFunc func(recipient, text string) error

	connects    int
	disconnects int
	codes       []string
	sent        []string
	attempts    int
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	return c.ConnectErr
}

func (c *Client) IsAuthorized(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.AuthErr != nil {
		return false, c.AuthErr
	}
	return !c.Unauthorized && c.Credential != "", nil
}

func (c *Client) RequestLoginChallenge(ctx context.Context, phone string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ChallengeErr != nil {
		return "", c.ChallengeErr
	}
	return "hash-" + phone, nil
}

func (c *Client) SubmitCode(ctx context.Context, challenge, code string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes = append(c.codes, code)
	if len(c.CodeErrs) > 0 {
		err := c.CodeErrs[0]
		c.CodeErrs = c.CodeErrs[1:]
		if err != nil {
			return "", err
		}
	}
	if c.Issued == "" {
		return "credential", nil
	}
	return c.Issued, nil
}

func (c *Client) Send(ctx context.Context, recipient, text string) error {
	c.mu.Lock()
	fn := c.SendFunc
	c.attempts++
	c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	var err error
	if fn != nil {
		err = fn(recipient, text)
	}
	if err == nil {
		c.mu.Lock()
		c.sent = append(c.sent, recipient)
		c.mu.Unlock()
	}
	return err
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	return nil
}

func (c *Client) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

func (c *Client) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

// Codes returns the normalized codes submitted so far.
func (c *Client) Codes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.codes...)
}

// Sent returns the recipients of successful sends, in order.
func (c *Client) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// Attempts counts every Send call.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Dialer hands out clients built by New, or zero-value clients.
type Dialer struct {
	mu sync.Mutex

	New     func(credential string) *Client
	DialErr error

	clients []*Client
}

var ErrDial = errors.New("dial failed")

func (d *Dialer) Dial(credential string, dev messaging.Device) (messaging.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	var c *Client
	if d.New != nil {
		c = d.New(credential)
	} else {
		c = &Client{}
	}
	c.Credential = credential
	c.Device = dev
	d.clients = append(d.clients, c)
	return c, nil
}

// Clients returns every client dialed so far.
func (d *Dialer) Clients() []*Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Client(nil), d.clients...)
}

// Last returns the most recently dialed client or nil.
func (d *Dialer) Last() *Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.clients) == 0 {
		return nil
	}
	return d.clients[len(d.clients)-1]
}
