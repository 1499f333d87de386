package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"arbitrage_go/internal/domain"
	"arbitrage_go/internal/event"
	"arbitrage_go/internal/execution"
	"arbitrage_go/internal/infra"
	"arbitrage_go/internal/service"
	"arbitrage_go/internal/strategy"

	"github.com/shopspring/decimal"
)

const (
	publishTimeout = 2 * time.Second
	recentProfits  = 5
)

// Config holds sequencer settings.
type Config struct {
	InboxSize      int
	ReportInterval time.Duration
	Mode           string
	DumpPath       string
}

// Detector is the strategy plus the read side the status report needs.
type Detector interface {
	strategy.Strategy
	Stats() ([]strategy.RouteStats, uint64)
	Setting() domain.SymbolSetting
}

// StatusPublisher mirrors status snapshots and realized profit elsewhere.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, v any) error
	SetProfit(ctx context.Context, profit decimal.Decimal) error
}

// ProfitHistory is the read side of the profit store.
type ProfitHistory interface {
	DailyGains(ctx context.Context, symbol string, since time.Time) ([]domain.DailyGain, error)
	ListProfits(ctx context.Context, symbol string, limit int) ([]domain.ProfitRecord, error)
}

// Sequencer is the core single-threaded event processor. It owns the quote
// book, balance tracker, detector and coordinator: every mutation of their
// state happens on the Run goroutine.
type Sequencer struct {
	cfg      Config
	inbox    chan event.Event
	done     chan struct{}
	stopOnce sync.Once
	nextSeq  uint64

	book     *service.QuoteBook
	tracker  *service.BalanceTracker
	detector Detector
	coord    *execution.Coordinator
	decoders map[domain.Venue]domain.AccountDecoder

	publisher StatusPublisher
	history   ProfitHistory
	metrics   *infra.Metrics
	outMu     sync.Mutex
	out       io.Writer
	now       func() time.Time
	started   time.Time
	logger    *slog.Logger
}

// Option customizes a Sequencer.
type Option func(*Sequencer)

// WithPublisher mirrors every status report.
func WithPublisher(p StatusPublisher) Option { return func(s *Sequencer) { s.publisher = p } }

// WithProfitHistory adds today's gains and the latest cycles to reports
// and to StatusWithHistory.
func WithProfitHistory(h ProfitHistory) Option { return func(s *Sequencer) { s.history = h } }

// WithReportWriter redirects the human-readable report (stdout by default).
func WithReportWriter(w io.Writer) Option { return func(s *Sequencer) { s.out = w } }

// WithMetrics replaces the global metrics.
func WithMetrics(m *infra.Metrics) Option { return func(s *Sequencer) { s.metrics = m } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Sequencer) { s.now = now } }

// NewSequencer creates a sequencer. The coordinator is attached later with
// SetCoordinator because it posts back into this sequencer's inbox.
func NewSequencer(cfg Config, book *service.QuoteBook, tracker *service.BalanceTracker, detector Detector, opts ...Option) *Sequencer {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 4096
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = 10 * time.Second
	}
	if cfg.DumpPath == "" {
		cfg.DumpPath = "panic_dump.json"
	}
	s := &Sequencer{
		cfg:      cfg,
		inbox:    make(chan event.Event, cfg.InboxSize),
		done:     make(chan struct{}),
		nextSeq:  1,
		book:     book,
		tracker:  tracker,
		detector: detector,
		decoders: make(map[domain.Venue]domain.AccountDecoder),
		metrics:  infra.GlobalMetrics,
		out:      os.Stdout,
		now:      time.Now,
		logger:   slog.Default().With("module", "sequencer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.started = s.now()
	book.OnQuote(s.onQuote)
	return s
}

// SetCoordinator attaches the execution coordinator. Call before Run.
func (s *Sequencer) SetCoordinator(c *execution.Coordinator) { s.coord = c }

// RegisterAccountDecoder installs the account-stream decoder for venue.
func (s *Sequencer) RegisterAccountDecoder(venue domain.Venue, dec domain.AccountDecoder) {
	s.decoders[venue] = dec
}

// Inbox returns the event channel. Supervisors send frames here.
func (s *Sequencer) Inbox() chan<- event.Event {
	return s.inbox
}

// Post delivers an event from any goroutine. It blocks while the inbox is
// full and gives up once the sequencer has stopped.
func (s *Sequencer) Post(ev event.Event) {
	select {
	case s.inbox <- ev:
	case <-s.done:
	}
}

// Run starts the main event loop. This MUST be run in a single goroutine.
func (s *Sequencer) Run(ctx context.Context) error {
	s.logger.Info("Sequencer started", slog.Int("inbox", cap(s.inbox)))
	defer s.stopOnce.Do(func() { close(s.done) })

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			s.DumpState(s.cfg.DumpPath)
			// halt after dump
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	ticker := time.NewTicker(s.cfg.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sequencer stopping...")
			return nil
		case ev := <-s.inbox:
			s.processEvent(ev)
		case <-ticker.C:
			s.report(ctx)
		}
	}
}

func (s *Sequencer) processEvent(ev event.Event) {
	ev.SetSeq(s.nextSeq)
	s.nextSeq++

	now := s.now()
	switch e := ev.(type) {
	case *event.MarketMessage:
		at := e.Ts
		if at.IsZero() {
			at = now
		}
		s.book.OnMarketMessage(e.Venue, e.Raw, at)
		s.metrics.RecordEvent(latency(now, at))
		event.ReleaseMarketMessage(e)
		return
	case *event.AccountMessage:
		dec, ok := s.decoders[e.Venue]
		if !ok {
			s.logger.Warn("No account decoder", slog.String("venue", string(e.Venue)))
			break
		}
		if update, ok := dec.DecodeAccount(e.Raw); ok {
			s.applyAccount(e.Venue, update, now)
		}
	case *event.AccountUpdate:
		s.applyAccount(e.Venue, e.Update, now)
	case *event.ConnectionChange:
		s.handleConnection(e.State)
	case *event.OrderAck:
		if s.coord != nil {
			s.coord.HandleAck(e)
		}
	case *event.TimerFired:
		if s.coord != nil {
			s.coord.HandleTimer(e)
		}
	default:
		s.logger.Warn("Unknown event type", slog.Any("type", ev.GetType()))
	}
	s.metrics.RecordEvent(latency(now, ev.GetTs()))
}

func latency(now, produced time.Time) int64 {
	if produced.IsZero() {
		return 0
	}
	return now.Sub(produced).Nanoseconds()
}

// applyAccount records balances before matching fills.
func (s *Sequencer) applyAccount(venue domain.Venue, update domain.AccountUpdate, at time.Time) {
	if len(update.Balances) > 0 {
		s.tracker.Apply(venue, update.Balances, at)
	}
	if s.coord == nil {
		return
	}
	for _, f := range update.Fills {
		if f.Venue == "" {
			f.Venue = venue
		}
		s.coord.OnFill(f)
	}
}

func (s *Sequencer) handleConnection(state domain.ConnectionState) {
	prev := s.tracker.IsConnected(state.Venue, state.Channel)
	s.tracker.SetConnection(state)

	attrs := []any{
		slog.String("venue", string(state.Venue)),
		slog.String("channel", string(state.Channel)),
		slog.Int("attempt", state.ReconnectAttempt),
	}
	switch {
	case state.Exhausted:
		s.logger.Error("Connection abandoned", attrs...)
	case state.Connected && !prev:
		s.logger.Info("Connection up", attrs...)
	case !state.Connected && prev:
		s.logger.Warn("Connection down", attrs...)
	}
}

// onQuote runs synchronously after every quote write.
func (s *Sequencer) onQuote(q domain.Quote) {
	idle := s.coord != nil && s.coord.IsIdle()
	opp, ok := s.detector.Evaluate(s.now(), idle)
	if !ok {
		return
	}
	s.metrics.RecordOpportunity()
	if err := s.coord.Submit(opp); err != nil {
		level := slog.LevelDebug
		if !errors.Is(err, domain.ErrNotIdle) && !errors.Is(err, domain.ErrAccountOffline) {
			level = slog.LevelWarn
		}
		s.logger.Log(context.Background(), level, "Opportunity not executed",
			slog.String("route", opp.Route.String()),
			slog.Any("error", err))
	}
}

// Status builds a snapshot. Every source is lock-protected, so this is
// safe from any goroutine.
func (s *Sequencer) Status() infra.Status {
	now := s.now()
	st := infra.Status{
		Time:        now,
		Uptime:      now.Sub(s.started),
		Mode:        s.cfg.Mode,
		Symbol:      s.detector.Setting().Symbol,
		Quotes:      s.book.Snapshot(),
		Balances:    s.tracker.Snapshot(),
		Totals:      s.tracker.Totals(),
		Connections: s.tracker.Connections(),
		Metrics:     s.metrics.Snapshot(),
	}
	st.TradingEnabled = s.detector.Setting().Enabled

	routes, passes := s.detector.Stats()
	st.DetectionPasses = passes
	for _, r := range routes {
		st.Routes = append(st.Routes, infra.RouteStatus{
			Route:         r.Route,
			Evaluations:   r.Evaluations,
			Qualified:     r.Qualified,
			LastSpreadPct: r.LastSpreadPct,
			MaxSpreadPct:  r.MaxSpreadPct,
		})
	}

	if s.coord != nil {
		cs := s.coord.Stats()
		st.Phase = cs.Phase
		st.ActiveTag = cs.ActiveTag
		st.RealizedProfit = cs.RealizedProfit
		st.Cycles = cs.Cycles
		st.Completed = cs.Completed
		st.ErrorCount = cs.ErrorCount
	}
	return st
}

// StatusWithHistory is Status plus today's gains and the most recent
// cycles from the profit store. Storage errors leave those fields empty.
func (s *Sequencer) StatusWithHistory(ctx context.Context) infra.Status {
	st := s.Status()
	s.attachHistory(ctx, &st)
	return st
}

func (s *Sequencer) attachHistory(ctx context.Context, st *infra.Status) {
	if s.history == nil {
		return
	}
	day := st.Time.UTC().Truncate(24 * time.Hour)
	gains, err := s.history.DailyGains(ctx, st.Symbol, day)
	if err != nil {
		s.logger.Warn("Daily gains unavailable", slog.Any("error", err))
		return
	}
	for i := range gains {
		if gains[i].Date == day.Format(time.DateOnly) {
			st.Today = &gains[i]
		}
	}

	recent, err := s.history.ListProfits(ctx, st.Symbol, recentProfits)
	if err != nil {
		s.logger.Warn("Recent profits unavailable", slog.Any("error", err))
		return
	}
	st.RecentProfits = recent
}

func (s *Sequencer) render(st infra.Status) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	infra.RenderStatus(s.out, st)
}

func (s *Sequencer) report(ctx context.Context) {
	st := s.Status()
	s.logger.Info("Status",
		slog.String("phase", st.Phase.String()),
		slog.String("realized_profit", st.RealizedProfit.String()),
		slog.Uint64("cycles", st.Cycles),
		slog.Uint64("errors", st.ErrorCount),
		slog.Uint64("events", st.Metrics.EventsProcessed),
		slog.Uint64("dropped", st.Metrics.MarketDropped))

	// keep storage and Redis latency off the event loop
	go func() {
		pctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		s.attachHistory(pctx, &st)
		s.render(st)

		if s.publisher == nil {
			return
		}
		if err := s.publisher.PublishStatus(pctx, st); err != nil {
			s.logger.Warn("Status publish failed", slog.Any("error", err))
			return
		}
		if err := s.publisher.SetProfit(pctx, st.RealizedProfit); err != nil {
			s.logger.Warn("Profit publish failed", slog.Any("error", err))
		}
	}()
}

// Shutdown releases timers and prints the final statistics. Call after
// Run has returned.
func (s *Sequencer) Shutdown() infra.Status {
	s.stopOnce.Do(func() { close(s.done) })
	if s.coord != nil {
		s.coord.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	st := s.StatusWithHistory(ctx)
	s.render(st)
	s.logger.Info("Final stats",
		slog.String("realized_profit", st.RealizedProfit.String()),
		slog.Uint64("cycles", st.Cycles),
		slog.Uint64("completed", st.Completed),
		slog.Uint64("errors", st.ErrorCount),
		slog.Duration("uptime", st.Uptime))
	return st
}

// DumpState writes the entire internal state to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	s.logger.Info("Dumping internal state...", slog.String("file", filename))

	data := struct {
		NextSeq uint64       `json:"next_seq"`
		Status  infra.Status `json:"status"`
	}{
		NextSeq: s.nextSeq,
		Status:  s.Status(),
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		s.logger.Error("Failed to marshal state", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(filename, b, 0644); err != nil {
		s.logger.Error("Failed to write state dump", slog.Any("error", err))
	}
}
