package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"arbitrage_go/internal/domain"
	"arbitrage_go/internal/event"
	"arbitrage_go/internal/infra"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
)

// Config controls reconnect and heartbeat behavior of a Supervisor.
type Config struct {
	ReconnectDelay   time.Duration
	MaxAttempts      int
	BackoffFactor    float64
	MaxDelay         time.Duration
	PingInterval     time.Duration
	LivenessInterval time.Duration
	HeartbeatWindow  time.Duration
}

// DefaultConfig returns fixed 5s reconnects capped at 5 attempts.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:   5 * time.Second,
		MaxAttempts:      5,
		BackoffFactor:    1,
		MaxDelay:         60 * time.Second,
		PingInterval:     20 * time.Second,
		LivenessInterval: 15 * time.Second,
		HeartbeatWindow:  45 * time.Second,
	}
}

// Protocol is the venue-specific half of a socket: where to dial, what to
// send once open, and how the heartbeat looks on the wire.
type Protocol interface {
	Venue() domain.Venue
	Channel() domain.Channel
	// Endpoint is resolved on every (re)connect so account streams can
	// fetch a fresh listen key.
	Endpoint(ctx context.Context) (string, error)
	// OnOpen authenticates and subscribes. It runs on every connect with
	// the same subscription set.
	OnOpen(ctx context.Context, s *Session) error
	// Ping returns an application ping frame, or nil to use a websocket
	// control ping.
	Ping() []byte
	// IsPong reports whether msg answers a ping. Pongs are not forwarded.
	IsPong(msg []byte) bool
}

// Maintainer is implemented by protocols that need periodic out-of-band
// upkeep while connected (listen key keepalive).
type Maintainer interface {
	MaintainInterval() time.Duration
	Maintain(ctx context.Context) error
}

// Session is the write side of an open socket.
type Session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Send writes a text frame.
func (s *Session) Send(msg []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

// SendJSON writes v as a JSON text frame.
func (s *Session) SendJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

// Expect reads frames until match accepts one or returns an error. Only
// valid inside OnOpen, before the read loop owns the socket.
func (s *Session) Expect(timeout time.Duration, match func(msg []byte) (bool, error)) error {
	s.conn.SetReadDeadline(time.Now().Add(timeout))
	defer s.conn.SetReadDeadline(time.Time{})

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		ok, err := match(msg)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
}

func (s *Session) ping() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// Supervisor owns one venue socket: connect, heartbeat, liveness check,
// bounded reconnects and identical resubscription. Frames and state
// changes are posted to the sequencer inbox.
type Supervisor struct {
	proto   Protocol
	cfg     Config
	inbox   chan<- event.Event
	alerter domain.Alerter
	metrics *infra.Metrics
	dialer  websocket.Dialer
	logger  *slog.Logger

	connected atomic.Bool
	exhausted atomic.Bool
	lastPong  atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithAlerter sends an operator alert when the supervisor gives up.
func WithAlerter(a domain.Alerter) Option { return func(s *Supervisor) { s.alerter = a } }

// WithMetrics replaces the global metrics.
func WithMetrics(m *infra.Metrics) Option { return func(s *Supervisor) { s.metrics = m } }

var _ domain.ExchangeWorker = (*Supervisor)(nil)

// NewSupervisor creates a supervisor for proto.
func NewSupervisor(proto Protocol, cfg Config, inbox chan<- event.Event, opts ...Option) *Supervisor {
	s := &Supervisor{
		proto:   proto,
		cfg:     cfg,
		inbox:   inbox,
		metrics: infra.GlobalMetrics,
		dialer:  websocket.Dialer{HandshakeTimeout: handshakeTimeout, Proxy: http.ProxyFromEnvironment},
		logger: slog.Default().With(
			"module", "supervisor",
			"venue", string(proto.Venue()),
			"channel", string(proto.Channel())),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.MaxAttempts <= 0 {
		s.cfg.MaxAttempts = 1
	}
	return s
}

// Connect starts the supervised loop in the background.
func (s *Supervisor) Connect(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run(ctx)
	}()
	return nil
}

// Disconnect stops the loop and waits for every timer and goroutine to end.
func (s *Supervisor) Disconnect() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// IsConnected reports whether the socket is open and subscribed.
func (s *Supervisor) IsConnected() bool { return s.connected.Load() }

// Exhausted reports whether the supervisor gave up reconnecting.
func (s *Supervisor) Exhausted() bool { return s.exhausted.Load() }

// Run blocks until ctx is done or the reconnect budget is spent. Giving up
// is not an error for the process: the venue just stays untradable.
func (s *Supervisor) Run(ctx context.Context) error {
	b := &backoff.Backoff{
		Min:    s.cfg.ReconnectDelay,
		Max:    s.cfg.MaxDelay,
		Factor: s.cfg.BackoffFactor,
	}
	attempt := 0

	for {
		opened, err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if opened {
			attempt = 0
			b.Reset()
		}

		// rejected credentials do not get better on retry
		if attempt >= s.cfg.MaxAttempts || (!opened && isFatal(err)) {
			s.giveUp(ctx, err)
			return nil
		}
		attempt++
		s.metrics.RecordReconnect()

		delay := b.Duration()
		s.logger.Warn("Socket closed, scheduling reconnect",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", s.cfg.MaxAttempts),
			slog.Duration("delay", delay))
		s.postState(ctx, attempt)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// isFatal reports a connect-time error explicitly marked non-retriable.
func isFatal(err error) bool {
	var netErr *domain.NetworkError
	return errors.As(err, &netErr) && !netErr.IsRetriable()
}

func (s *Supervisor) giveUp(ctx context.Context, err error) {
	err = fmt.Errorf("%w: %v", domain.ErrMaxReconnects, err)
	s.exhausted.Store(true)
	s.logger.Error("💀 Reconnect attempts exhausted, venue left disconnected",
		slog.Any("error", err),
		slog.Int("max_attempts", s.cfg.MaxAttempts))
	s.metrics.RecordError()
	s.postState(ctx, s.cfg.MaxAttempts)

	if s.alerter != nil {
		msg := fmt.Sprintf("%s %s socket gave up after %d attempts: %v",
			s.proto.Venue(), s.proto.Channel(), s.cfg.MaxAttempts, err)
		alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if aerr := s.alerter.Alert(alertCtx, "Venue disconnected", msg); aerr != nil {
			s.logger.Error("Failed to send alert", slog.Any("error", aerr))
		}
	}
}

// session runs one connection from dial to close. opened is true once the
// protocol's OnOpen succeeded.
func (s *Supervisor) session(ctx context.Context) (opened bool, err error) {
	url, err := s.proto.Endpoint(ctx)
	if err != nil {
		return false, domain.NewNetworkError("endpoint", err)
	}

	conn, _, err := s.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return false, domain.NewNetworkError("dial", fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err))
	}
	defer conn.Close()

	sessCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		conn.Close()
		wg.Wait()
	}()
	// unblocks ReadMessage and OnOpen reads on shutdown
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-sessCtx.Done()
		conn.Close()
	}()

	sess := &Session{conn: conn}
	s.markAlive()
	conn.SetPongHandler(func(string) error {
		s.markAlive()
		return nil
	})

	if err := s.proto.OnOpen(sessCtx, sess); err != nil {
		var netErr *domain.NetworkError
		if errors.As(err, &netErr) {
			return false, err
		}
		return false, domain.NewNetworkError("open", err)
	}

	s.connected.Store(true)
	s.metrics.IncrementConnections()
	s.postState(ctx, 0)
	s.logger.Info("✅ Socket connected")
	defer func() {
		s.connected.Store(false)
		s.metrics.DecrementConnections()
		s.postState(ctx, 0)
	}()

	wg.Add(2)
	go func() {
		defer wg.Done()
		s.heartbeat(sessCtx, sess)
	}()
	go func() {
		defer wg.Done()
		s.liveness(sessCtx, conn)
	}()
	if m, ok := s.proto.(Maintainer); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.maintain(sessCtx, m)
		}()
	}

	return true, s.readLoop(sessCtx, conn)
}

func (s *Supervisor) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.cfg.HeartbeatWindow > 0 {
			conn.SetReadDeadline(time.Now().Add(s.cfg.HeartbeatWindow))
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return domain.NewNetworkError("read", err)
		}
		if s.proto.IsPong(msg) {
			s.markAlive()
			continue
		}
		s.forward(ctx, msg)
	}
}

// forward posts a frame. Market frames are dropped when the inbox is full,
// account frames wait for room.
func (s *Supervisor) forward(ctx context.Context, msg []byte) {
	now := time.Now()
	if s.proto.Channel() == domain.ChannelMarket {
		ev := event.AcquireMarketMessage()
		ev.Ts = now
		ev.Venue = s.proto.Venue()
		ev.Raw = append(ev.Raw[:0], msg...)
		select {
		case s.inbox <- ev:
		default:
			event.ReleaseMarketMessage(ev)
			s.metrics.RecordDropped()
		}
		return
	}

	ev := &event.AccountMessage{
		BaseEvent: event.BaseEvent{Ts: now},
		Venue:     s.proto.Venue(),
		Raw:       msg,
	}
	select {
	case s.inbox <- ev:
	case <-ctx.Done():
	}
}

func (s *Supervisor) heartbeat(ctx context.Context, sess *Session) {
	if s.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var err error
			if frame := s.proto.Ping(); frame != nil {
				err = sess.Send(frame)
			} else {
				err = sess.ping()
			}
			if err != nil {
				s.logger.Warn("Ping failed", slog.Any("error", err))
			}
		}
	}
}

// liveness closes a socket that still looks open but has not answered a
// heartbeat within the window. Closing makes the read loop fail, which
// takes the normal reconnect path.
func (s *Supervisor) liveness(ctx context.Context, conn *websocket.Conn) {
	if s.cfg.LivenessInterval <= 0 || s.cfg.HeartbeatWindow <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.LivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			silent := time.Since(time.Unix(0, s.lastPong.Load()))
			if silent > s.cfg.HeartbeatWindow {
				s.logger.Warn("No heartbeat response, forcing reconnect",
					slog.Duration("silent", silent))
				conn.Close()
				return
			}
		}
	}
}

func (s *Supervisor) maintain(ctx context.Context, m Maintainer) {
	interval := m.MaintainInterval()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Maintain(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("Stream upkeep failed", slog.Any("error", err))
			}
		}
	}
}

func (s *Supervisor) markAlive() {
	s.lastPong.Store(time.Now().UnixNano())
}

func (s *Supervisor) postState(ctx context.Context, attempt int) {
	ev := &event.ConnectionChange{
		BaseEvent: event.BaseEvent{Ts: time.Now()},
		State: domain.ConnectionState{
			Venue:            s.proto.Venue(),
			Channel:          s.proto.Channel(),
			Connected:        s.connected.Load(),
			ReconnectAttempt: attempt,
			Exhausted:        s.exhausted.Load(),
		},
	}
	select {
	case s.inbox <- ev:
	case <-ctx.Done():
	}
}
