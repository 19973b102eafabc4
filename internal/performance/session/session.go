// Package session drives persistent WebSocket sessions for virtual users.
//
// Each session sends tagged messages, matches the target's replies to the
// sends they answer, and records the round-trip latency. Two policies are
// supported: single-slot keeps exactly one message in flight and resends
// when it goes stale, fixed-rate sends a bounded number of messages at a
// steady interval.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/volley/internal/performance"
	"github.com/wesleyorama2/volley/internal/performance/check"
	"github.com/wesleyorama2/volley/internal/performance/metrics"
	"github.com/wesleyorama2/volley/internal/performance/rate"
)

// Policy selects how a session paces and correlates messages.
type Policy string

const (
	// PolicySingleSlot keeps one message outstanding and sends the next as
	// soon as it is answered.
	PolicySingleSlot Policy = "single-slot"
	// PolicyFixedRate sends Count messages, one per Interval.
	PolicyFixedRate Policy = "fixed-rate"
)

// ParsePolicy accepts a policy name or one of its load-profile aliases.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "single-slot", "high-load":
		return PolicySingleSlot, nil
	case "fixed-rate", "steady":
		return PolicyFixedRate, nil
	default:
		return "", fmt.Errorf("unknown session policy %q (valid: single-slot, fixed-rate)", s)
	}
}

// Defaults applied to zero Config fields.
const (
	DefaultStaleAfter       = 500 * time.Millisecond
	DefaultInterval         = time.Second
	DefaultCount            = 60
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultCloseGrace       = time.Second
)

// CheckConnected is the check recorded for every handshake.
const CheckConnected = "Connected"

// Config describes the sessions a scenario opens.
type Config struct {
	URL     string
	Headers map[string]string
	Policy  Policy

	// StaleAfter is how long a single-slot message may go unanswered
	// before it is superseded.
	StaleAfter time.Duration

	// Interval and Count pace the fixed-rate policy.
	Interval time.Duration
	Count    int

	HandshakeTimeout time.Duration
	CloseGrace       time.Duration

	// MaxDuration caps how long one session stays open. Zero means the
	// session lasts until the scenario ends.
	MaxDuration time.Duration
}

// WithDefaults returns a copy of c with zero fields set to their defaults.
func (c Config) WithDefaults() Config {
	if c.Policy == "" {
		c.Policy = PolicySingleSlot
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.Count == 0 {
		c.Count = DefaultCount
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.CloseGrace == 0 {
		c.CloseGrace = DefaultCloseGrace
	}
	return c
}

// Validate checks that c can open sessions.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("websocket url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid websocket url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("websocket url must use ws or wss, got %q", u.Scheme)
	}
	if c.Policy != PolicySingleSlot && c.Policy != PolicyFixedRate {
		return fmt.Errorf("unknown session policy %q", c.Policy)
	}
	if c.StaleAfter < 0 || c.Interval < 0 || c.HandshakeTimeout < 0 || c.CloseGrace < 0 || c.MaxDuration < 0 {
		return errors.New("session durations must not be negative")
	}
	if c.Count < 0 {
		return fmt.Errorf("message count must not be negative, got %d", c.Count)
	}
	return nil
}

// State is the lifecycle state of a session.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats are the per-session message tallies.
type Stats struct {
	Sent       int64
	Received   int64
	Completed  int64
	Abandoned  int64
	Unanswered int64
}

// errSendWindowClosed means the session may not send any more: the deadline
// passed or the VU was told to stop.
var errSendWindowClosed = errors.New("send window closed")

// Workload runs one persistent session per VU lifetime.
type Workload struct {
	cfg     Config
	header  http.Header
	dialer  Dialer
	metrics *metrics.Engine
	checks  *check.Registry
	logger  *zap.Logger
}

// NewWorkload validates cfg and returns a workload that opens sessions with
// dialer. A nil dialer uses a WebSocketDialer and a nil logger disables
// logging.
func NewWorkload(cfg Config, dialer Dialer, metricsEngine *metrics.Engine, checks *check.Registry, logger *zap.Logger) (*Workload, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dialer == nil {
		dialer = &WebSocketDialer{HandshakeTimeout: cfg.HandshakeTimeout}
	}
	if checks == nil {
		checks = check.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	header := make(http.Header, len(cfg.Headers))
	for k, v := range cfg.Headers {
		header.Set(k, v)
	}

	return &Workload{
		cfg:     cfg,
		header:  header,
		dialer:  dialer,
		metrics: metricsEngine,
		checks:  checks,
		logger:  logger,
	}, nil
}

// Config returns the effective configuration.
func (w *Workload) Config() Config {
	return w.cfg
}

// NewSession prepares a session for vu without connecting it.
func (w *Workload) NewSession(vu int) *Session {
	return &Session{
		cfg:     w.cfg,
		header:  w.header,
		vu:      vu,
		dialer:  w.dialer,
		store:   NewStore(),
		metrics: w.metrics,
		checks:  w.checks,
		logger:  w.logger.With(zap.Int("vu", vu)),
	}
}

// Iterate runs a session to completion. A VU whose connection failed
// retries while the scenario still has time; otherwise it has nothing more
// to do.
func (w *Workload) Iterate(ctx context.Context, it performance.Iteration) performance.Outcome {
	s := w.NewSession(it.VU)
	stats, err := s.Run(ctx, it)
	if err == nil {
		s.logger.Debug("session closed",
			zap.Int64("sent", stats.Sent),
			zap.Int64("completed", stats.Completed),
			zap.Int64("abandoned", stats.Abandoned),
			zap.Int64("unanswered", stats.Unanswered))
		return performance.OutcomeFinished
	}

	s.logger.Debug("session failed", zap.Error(err))
	var connErr *ConnectionError
	if errors.As(err, &connErr) && !it.Stopped() && (it.Deadline.IsZero() || time.Now().Before(it.Deadline)) {
		return performance.OutcomeRetry
	}
	return performance.OutcomeFinished
}

// Session is one persistent connection owned by a single VU goroutine.
type Session struct {
	cfg    Config
	header http.Header
	vu     int
	seq    int64

	dialer Dialer
	conn   Conn
	store  *Store

	metrics *metrics.Engine
	checks  *check.Registry
	logger  *zap.Logger

	state atomic.Int32
	stats Stats
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Stats returns the session tallies. Call it after Run returns.
func (s *Session) Stats() Stats {
	return s.stats
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Run connects, exchanges messages under the configured policy and closes
// the connection. It returns a ConnectionError if the handshake failed or
// the transport broke while open; stopping at the deadline is not an error.
func (s *Session) Run(ctx context.Context, it performance.Iteration) (Stats, error) {
	s.setState(StateConnecting)
	if it.Stopped() || pastDeadline(it.Deadline) {
		s.setState(StateClosed)
		return s.stats, nil
	}

	conn, status, err := s.dialer.Dial(ctx, s.cfg.URL, s.header)
	connected := err == nil && status == http.StatusSwitchingProtocols
	s.checks.Record(CheckConnected, connected)
	if !connected {
		if conn != nil {
			conn.Close(0)
		}
		if err == nil {
			err = fmt.Errorf("unexpected handshake status %d", status)
		}
		s.metrics.Counter(metrics.WSConnectFailures).Inc()
		s.metrics.RecordFailure()
		s.setState(StateClosed)
		return s.stats, &ConnectionError{Op: "dial", Status: status, Err: err}
	}

	s.conn = conn
	s.setState(StateOpen)
	s.metrics.Counter(metrics.WSSessions).Inc()

	deadline := it.Deadline
	if s.cfg.MaxDuration > 0 {
		capAt := time.Now().Add(s.cfg.MaxDuration)
		if deadline.IsZero() || capAt.Before(deadline) {
			deadline = capAt
		}
	}

	var (
		openCtx context.Context
		cancel  context.CancelFunc
	)
	if deadline.IsZero() {
		openCtx, cancel = context.WithCancel(ctx)
	} else {
		openCtx, cancel = context.WithDeadline(ctx, deadline)
	}
	defer cancel()
	go func() {
		select {
		case <-it.Stop:
			cancel()
		case <-openCtx.Done():
		}
	}()

	var runErr error
	switch s.cfg.Policy {
	case PolicyFixedRate:
		runErr = s.runFixedRate(openCtx, deadline)
	default:
		runErr = s.runSingleSlot(openCtx, deadline)
	}

	s.close()
	return s.stats, runErr
}

// runSingleSlot keeps one message in flight until the deadline.
func (s *Session) runSingleSlot(ctx context.Context, deadline time.Time) error {
	sentAt, err := s.send(ctx, deadline, false)
	if err != nil {
		return ignoreClosedWindow(err)
	}

	for {
		frame, err := s.conn.Receive(ctx, sentAt.Add(s.cfg.StaleAfter))
		switch {
		case err == nil:
			if !s.handleFrame(frame) {
				continue
			}
			if sentAt, err = s.send(ctx, deadline, false); err != nil {
				return ignoreClosedWindow(err)
			}
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrReceiveTimeout):
			// Deadline first: a stale message at the end of the run is
			// left outstanding, not resent.
			if !canSend(ctx, deadline) {
				return nil
			}
			if sentAt, err = s.send(ctx, deadline, true); err != nil {
				return ignoreClosedWindow(err)
			}
		default:
			return &ConnectionError{Op: "receive", Err: err}
		}
	}
}

// runFixedRate sends Count messages one Interval apart, then listens for
// one more interval before closing.
func (s *Session) runFixedRate(ctx context.Context, deadline time.Time) error {
	pacer := rate.NewIntervalBucket(s.cfg.Interval)
	next := pacer.Next()

	for {
		if !time.Now().Before(next) {
			if s.stats.Sent >= int64(s.cfg.Count) {
				return nil
			}
			if _, err := s.send(ctx, deadline, false); err != nil {
				return ignoreClosedWindow(err)
			}
			next = pacer.Next()
			continue
		}

		frame, err := s.conn.Receive(ctx, next)
		switch {
		case err == nil:
			s.handleFrame(frame)
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrReceiveTimeout):
		default:
			return &ConnectionError{Op: "receive", Err: err}
		}
	}
}

// send writes the next message. With supersede set the oldest pending
// message is abandoned in favour of the new one.
//
// The send time is read once and is both the deadline check and the
// recorded timestamp, so no message is stamped at or after the deadline.
func (s *Session) send(ctx context.Context, deadline time.Time, supersede bool) (time.Time, error) {
	sentAt := time.Now()
	if ctx.Err() != nil || (!deadline.IsZero() && !sentAt.Before(deadline)) {
		return time.Time{}, errSendWindowClosed
	}

	s.seq++
	id, payload, err := EncodeMessage(s.cfg.Policy, s.vu, s.seq, sentAt)
	if err != nil {
		return time.Time{}, err
	}
	if err := s.conn.Send(ctx, payload); err != nil {
		return time.Time{}, &ConnectionError{Op: "send", Err: err}
	}

	s.stats.Sent++
	s.metrics.Counter(metrics.MessagesSent).Inc()

	if !supersede {
		s.store.Track(id, sentAt)
		return sentAt, nil
	}
	if old, ok := s.store.Supersede(id, sentAt); ok {
		s.stats.Abandoned++
		s.metrics.Counter(metrics.MessagesAbandoned).Inc()
		s.metrics.RecordFailure()
		s.logger.Debug("message superseded", zap.String("abandoned", old), zap.String("id", id))
	}
	return sentAt, nil
}

// handleFrame counts frame and records a latency sample if it answers a
// pending message. It reports whether a match was made.
func (s *Session) handleFrame(frame Frame) bool {
	s.stats.Received++
	s.metrics.Counter(metrics.MessagesReceived).Inc()

	_, id, err := DecodeReply(frame.Data)
	if err != nil {
		s.logger.Debug("discarding frame", zap.Error(err))
		return false
	}

	latency, ok := s.store.Resolve(id, frame.At)
	if !ok {
		return false
	}

	s.stats.Completed++
	s.metrics.RecordLatency(latency, metrics.WebSocketLatency, true, int64(len(frame.Data)))
	s.metrics.Counter(metrics.CompletedRoundTrips).Inc()
	return true
}

func (s *Session) close() {
	s.setState(StateClosing)

	if ids := s.store.Outstanding(); len(ids) > 0 {
		s.stats.Unanswered = int64(len(ids))
		s.metrics.Counter(metrics.MessagesUnanswered).Add(int64(len(ids)))
		oldest, _ := s.store.SentAt(ids[0])
		s.logger.Debug("closing with unanswered messages",
			zap.Strings("ids", ids),
			zap.Duration("oldest_age", time.Since(oldest)))
	}
	if err := s.conn.Close(s.cfg.CloseGrace); err != nil {
		s.logger.Debug("close handshake failed", zap.Error(err))
	}

	s.setState(StateClosed)
}

func canSend(ctx context.Context, deadline time.Time) bool {
	return ctx.Err() == nil && !pastDeadline(deadline)
}

func pastDeadline(deadline time.Time) bool {
	return !deadline.IsZero() && !time.Now().Before(deadline)
}

func ignoreClosedWindow(err error) error {
	if errors.Is(err, errSendWindowClosed) {
		return nil
	}
	return err
}
