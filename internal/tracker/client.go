package tracker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/gazectl/internal/observability"
	"github.com/danmuck/gazectl/internal/protocol"
	"github.com/danmuck/gazectl/internal/sink"
	"github.com/rs/zerolog"
)

// SinkOpener builds the output sinks for one session.
type SinkOpener func(ctx context.Context, cfg Config, prefix string) (sink.Set, error)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDialer replaces DialTCP.
func WithDialer(d Dialer) ClientOption {
	return func(c *Client) {
		c.dial = d
	}
}

// WithSinkOpener replaces OpenSinks.
func WithSinkOpener(o SinkOpener) ClientOption {
	return func(c *Client) {
		c.openSinks = o
	}
}

func WithClientLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// Status describes the client and its current session.
type Status struct {
	Active          bool              `json:"active"`
	Starting        bool              `json:"starting,omitempty"`
	Address         string            `json:"address"`
	SessionID       string            `json:"session_id,omitempty"`
	Output          string            `json:"output,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
	Calibrated      bool              `json:"calibrated"`
	Worker          string            `json:"worker,omitempty"`
	Stats           Stats             `json:"stats"`
	LastCalibration map[string]string `json:"last_calibration,omitempty"`
	LastError       string            `json:"last_error,omitempty"`
}

// Client is the session controller. At most one session is active at a time.
type Client struct {
	cfg       Config
	dial      Dialer
	openSinks SinkOpener
	logger    zerolog.Logger

	mu       sync.Mutex
	session  *Session
	starting bool
	lastErr  error
}

func NewClient(cfg Config, opts ...ClientOption) *Client {
	c := &Client{
		cfg:       cfg.WithDefaults(),
		dial:      DialTCP,
		openSinks: OpenSinks,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Config() Config {
	return c.cfg
}

// StartSession connects, opens the output files for prefix, enables the data
// streams, starts the worker and starts calibration. Nothing is created on a
// failed connect.
func (c *Client) StartSession(ctx context.Context, prefix string) (*Session, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, ErrOutputRequired
	}
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	// The slot is reserved under the lock; the dial runs outside it so Status
	// stays responsive while connecting.
	c.mu.Lock()
	if c.session != nil || c.starting {
		c.mu.Unlock()
		return nil, ErrSessionActive
	}
	c.starting = true
	c.mu.Unlock()
	reserved := true
	defer func() {
		if reserved {
			c.mu.Lock()
			c.starting = false
			c.mu.Unlock()
		}
	}()

	logger := c.logger.With().Str("addr", c.cfg.Address).Logger()
	transport, err := c.dial(ctx, c.cfg)
	if err != nil {
		var connErr *ConnectionError
		if !errors.As(err, &connErr) {
			err = &ConnectionError{Addr: c.cfg.Address, Err: err}
		}
		logger.Error().Err(err).Msg("connect_failed")
		return nil, err
	}
	logger.Info().Msg("connected")

	sinks, err := c.openSinks(ctx, c.cfg, prefix)
	if err != nil {
		_ = transport.Close()
		return nil, err
	}

	s := newSession(prefix, c.cfg, transport, sinks, logger, c.sessionExited)
	c.mu.Lock()
	c.session = s
	c.starting = false
	c.lastErr = nil
	c.mu.Unlock()
	reserved = false

	if err := s.start(); err != nil {
		c.mu.Lock()
		if c.session == s {
			c.session = nil
		}
		c.mu.Unlock()
		_ = s.Stop(context.Background())
		return nil, err
	}
	c.mu.Lock()
	if c.session == s {
		observability.SetSessionActive(true)
	}
	c.mu.Unlock()
	return s, nil
}

// StopSession ends the active session and returns its teardown result.
func (c *Client) StopSession(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()
	if s == nil {
		return ErrNoSession
	}

	err := s.Stop(ctx)
	observability.SetSessionActive(false)
	if err != nil {
		c.setLastErr(err)
	}
	return err
}

// Session returns the active session, or nil.
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Send writes a raw command line to the active session's device.
func (c *Client) Send(cmd string) error {
	s := c.Session()
	if s == nil {
		return ErrNoSession
	}
	c.logger.Debug().Str("cmd", cmd).Msg("send")
	return s.Send(cmd)
}

// SendSet writes a SET command for id.
func (c *Client) SendSet(id, state string) error {
	cmd, err := protocol.SetValue(id, state)
	if err != nil {
		return err
	}
	return c.Send(cmd)
}

func (c *Client) Status() Status {
	c.mu.Lock()
	s := c.session
	starting := c.starting
	lastErr := c.lastErr
	c.mu.Unlock()

	st := Status{Address: c.cfg.Address, Starting: starting}
	if lastErr != nil {
		st.LastError = lastErr.Error()
	}
	if s == nil {
		return st
	}
	st.Active = true
	st.SessionID = s.ID()
	st.Output = s.Prefix()
	st.StartedAt = s.startedAt
	st.Calibrated = s.Calibrated()
	st.Worker = s.WorkerState().String()
	st.Stats = s.Stats()
	if msg, ok := s.LastCalibration(); ok {
		st.LastCalibration = make(map[string]string, len(msg.Attrs))
		for _, a := range msg.Attrs {
			st.LastCalibration[a.Name] = a.Value
		}
	}
	return st
}

// Close stops any active session.
func (c *Client) Close(ctx context.Context) error {
	err := c.StopSession(ctx)
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	return err
}

// sessionExited runs on the worker goroutine. A fatal worker error tears the
// session down from a separate goroutine, since Stop waits on the worker.
func (c *Client) sessionExited(s *Session, err error) {
	if err == nil {
		return
	}
	go func() {
		c.mu.Lock()
		owned := c.session == s
		if owned {
			c.session = nil
		}
		c.mu.Unlock()

		stopErr := s.Stop(context.Background())
		if owned {
			observability.SetSessionActive(false)
			c.setLastErr(stopErr)
		}
	}()
}

func (c *Client) setLastErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

// OpenSinks opens the three session files for prefix and, when the mirror is
// enabled, tees the records file into a Redis publisher via MirrorRecords.
func OpenSinks(ctx context.Context, cfg Config, prefix string) (sink.Set, error) {
	var pub *sink.Publisher
	if cfg.Mirror.Enabled {
		p, err := sink.NewPublisher(ctx, cfg.Mirror.publisherConfig())
		if err != nil {
			return sink.Set{}, err
		}
		pub = p
	}
	set, err := sink.OpenFiles(prefix)
	if err != nil {
		if pub != nil {
			_ = pub.Close()
		}
		return sink.Set{}, err
	}
	if pub != nil {
		set = MirrorRecords(set, pub, observability.Component("mirror"))
	}
	return set, nil
}

// MirrorRecords tees the records sink into mirror. Mirror failures are logged
// and counted but never fail the session; the files stay the durable output.
func MirrorRecords(set sink.Set, mirror sink.Sink, logger zerolog.Logger) sink.Set {
	set.Records = sink.Tee(set.Records, sink.BestEffort(mirror, func(op string, err error) {
		observability.RecordMirrorError(op)
		logger.Warn().Err(err).Str("op", op).Msg("mirror_failed")
	}))
	return set
}
