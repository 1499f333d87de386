package execution

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"arbitrage_go/internal/domain"
	"arbitrage_go/internal/event"
	"arbitrage_go/internal/infra"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const maxExpiredTags = 64

// Config holds coordinator timings and leg placement.
type Config struct {
	Leg1Timeout   time.Duration
	Cooldown      time.Duration
	SubmitTimeout time.Duration
	// Leg1Venue, when it names the route's sell venue, flips the cycle so
	// the fill-or-kill leg is the sell on that venue.
	Leg1Venue domain.Venue
}

// AccountStatus reports account-stream connectivity.
type AccountStatus interface {
	IsConnected(venue domain.Venue, channel domain.Channel) bool
}

// Stats is the externally visible state of the coordinator.
type Stats struct {
	Phase          domain.Phase    `json:"phase"`
	ActiveTag      string          `json:"active_tag,omitempty"`
	RealizedProfit decimal.Decimal `json:"realized_profit"`
	Cycles         uint64          `json:"cycles"`
	Completed      uint64          `json:"completed"`
	Leg1Rejected   uint64          `json:"leg1_rejected"`
	Leg1Timeouts   uint64          `json:"leg1_timeouts"`
	ErrorCount     uint64          `json:"error_count"`
}

type cycle struct {
	id      uint64
	opp     domain.Opportunity
	leg1    domain.OrderRequest
	leg2    domain.OrderRequest
	armedAt time.Time
}

// Coordinator is the single-flight execution state machine. Submit,
// HandleAck, HandleTimer, OnFill and Close must be called from the
// sequencer goroutine; the getters are safe from anywhere.
type Coordinator struct {
	cfg      Config
	gateways map[domain.Venue]domain.OrderGateway
	accounts AccountStatus
	recorder domain.ProfitRecorder
	alerter  domain.Alerter
	metrics  *infra.Metrics
	sched    Scheduler
	post     func(event.Event)
	spawn    func(func())
	now      func() time.Time
	ctx      context.Context
	logger   *slog.Logger

	mu           sync.RWMutex
	phase        domain.Phase
	active       *cycle
	timer        Timer
	nextID       uint64
	expired      map[string]*cycle
	expiredOrder []string
	stats        Stats
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithScheduler replaces the timer source.
func WithScheduler(s Scheduler) Option { return func(c *Coordinator) { c.sched = s } }

// WithSpawner replaces how asynchronous work is started.
func WithSpawner(spawn func(func())) Option { return func(c *Coordinator) { c.spawn = spawn } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

// WithRecorder sets the profit sink.
func WithRecorder(r domain.ProfitRecorder) Option { return func(c *Coordinator) { c.recorder = r } }

// WithAlerter sets the operator alert channel.
func WithAlerter(a domain.Alerter) Option { return func(c *Coordinator) { c.alerter = a } }

// WithMetrics replaces the global metrics.
func WithMetrics(m *infra.Metrics) Option { return func(c *Coordinator) { c.metrics = m } }

// NewCoordinator creates an idle coordinator. post delivers events back to
// the sequencer inbox.
func NewCoordinator(ctx context.Context, cfg Config, gateways map[domain.Venue]domain.OrderGateway, accounts AccountStatus, post func(event.Event), opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:      cfg,
		gateways: gateways,
		accounts: accounts,
		metrics:  infra.GlobalMetrics,
		sched:    RealScheduler,
		post:     post,
		spawn:    func(f func()) { go f() },
		now:      time.Now,
		ctx:      ctx,
		logger:   slog.Default().With("module", "coordinator"),
		expired:  make(map[string]*cycle),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.SubmitTimeout <= 0 {
		c.cfg.SubmitTimeout = 5 * time.Second
	}
	return c
}

// IsIdle reports whether a new opportunity would be accepted.
func (c *Coordinator) IsIdle() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase == domain.PhaseIdle
}

// Phase returns the current phase.
func (c *Coordinator) Phase() domain.Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// RealizedProfit returns the running total of realized profit.
func (c *Coordinator) RealizedProfit() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats.RealizedProfit
}

// Stats returns a copy of the coordinator's counters.
func (c *Coordinator) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.Phase = c.phase
	if c.active != nil {
		s.ActiveTag = c.active.leg1.ClientOrderID
	}
	return s
}

// Submit starts a cycle for opp. It is rejected while a cycle is active or
// when the leg-1 venue's account stream is down.
func (c *Coordinator) Submit(opp domain.Opportunity) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != domain.PhaseIdle {
		c.logger.Debug("Opportunity ignored, cycle in progress",
			slog.String("phase", c.phase.String()),
			slog.String("route", opp.Route.String()))
		return domain.ErrNotIdle
	}

	leg1, leg2 := c.plan(opp)
	if !c.accounts.IsConnected(leg1.Venue, domain.ChannelAccount) {
		c.logger.Warn("Opportunity ignored, account stream offline",
			slog.String("venue", string(leg1.Venue)))
		return domain.ErrAccountOffline
	}
	if c.gateways[leg1.Venue] == nil || c.gateways[leg2.Venue] == nil {
		return fmt.Errorf("%w: %s", domain.ErrUnknownVenue, opp.Route)
	}

	c.nextID++
	cy := &cycle{id: c.nextID, opp: opp, leg1: leg1, leg2: leg2}
	c.active = cy
	c.stats.Cycles++
	c.transition(domain.PhaseLeg1Submitted)
	c.metrics.RecordLeg1Submitted()

	c.logger.Info("🚀 Leg 1 submitted",
		slog.Uint64("cycle", cy.id),
		slog.String("route", opp.Route.String()),
		slog.String("venue", string(leg1.Venue)),
		slog.String("side", string(leg1.Side)),
		slog.String("price", leg1.Price.String()),
		slog.String("size", leg1.Size.String()),
		slog.String("spread_pct", opp.SpreadPct.StringFixed(4)),
		slog.String("tag", leg1.ClientOrderID))

	c.submitAsync(cy.id, event.Leg1, leg1)
	return nil
}

// plan builds both legs from the captured opportunity. Nothing here is
// re-read from the market later on.
func (c *Coordinator) plan(opp domain.Opportunity) (domain.OrderRequest, domain.OrderRequest) {
	tag := newTag()
	buy := domain.OrderRequest{
		Venue:  opp.Route.Buy,
		Symbol: opp.Symbol,
		Side:   domain.SideBuy,
		Price:  opp.BuyPrice,
		Size:   opp.Size,
	}
	sell := domain.OrderRequest{
		Venue:  opp.Route.Sell,
		Symbol: opp.Symbol,
		Side:   domain.SideSell,
		Price:  opp.SellPrice,
		Size:   opp.Size,
	}

	leg1, leg2 := buy, sell
	if c.cfg.Leg1Venue != "" && c.cfg.Leg1Venue == opp.Route.Sell {
		leg1, leg2 = sell, buy
	}
	leg1.TimeInForce = domain.TimeInForceFOK
	leg1.ClientOrderID = tag + "-1"
	leg2.TimeInForce = domain.TimeInForceGTC
	leg2.ClientOrderID = tag + "-2"
	return leg1, leg2
}

// newTag returns "arb" plus 28 hex chars; with a "-n" suffix it stays
// inside the 36-char client id limit of every venue.
func newTag() string {
	return "arb" + strings.ReplaceAll(uuid.NewString(), "-", "")[:28]
}

func (c *Coordinator) submitAsync(id uint64, leg event.Leg, req domain.OrderRequest) {
	gw := c.gateways[req.Venue]
	c.spawn(func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.SubmitTimeout)
		defer cancel()

		ack, err := gw.SubmitOrder(ctx, req)
		c.post(&event.OrderAck{
			BaseEvent: event.BaseEvent{Ts: time.Now()},
			Cycle:     id,
			Leg:       leg,
			Ack:       ack,
			Err:       err,
		})
	})
}

// HandleAck advances the cycle on an order acknowledgment.
func (c *Coordinator) HandleAck(ev *event.OrderAck) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cy := c.active
	if cy == nil || cy.id != ev.Cycle {
		c.logger.Debug("Stale order ack ignored", slog.Uint64("cycle", ev.Cycle))
		return
	}

	switch ev.Leg {
	case event.Leg1:
		c.handleLeg1Ack(cy, ev)
	case event.Leg2:
		c.handleLeg2Ack(cy, ev)
	}
}

// Must be called with lock held
func (c *Coordinator) handleLeg1Ack(cy *cycle, ev *event.OrderAck) {
	if c.phase != domain.PhaseLeg1Submitted {
		// the fill beat the ack; leg 2 is already on its way
		return
	}

	switch {
	case ev.Err != nil:
		// Outcome unknown: the order may have reached the book, so wait for
		// a fill until the timeout like an accepted order.
		c.logger.Warn("Leg 1 submission failed, awaiting fill until timeout",
			slog.Uint64("cycle", cy.id),
			slog.Any("error", ev.Err))
		c.metrics.RecordError()
	case !ev.Ack.Accepted:
		c.logger.Info("❌ Leg 1 rejected, opportunity missed",
			slog.Uint64("cycle", cy.id),
			slog.String("reason", ev.Ack.Reason))
		c.stats.Leg1Rejected++
		c.metrics.RecordLeg1Rejected()
		c.finish()
		return
	}

	c.transition(domain.PhaseAwaitingLeg2Trigger)
	cy.armedAt = c.now()
	id := cy.id
	c.timer = c.sched.AfterFunc(c.cfg.Leg1Timeout, func() {
		c.post(&event.TimerFired{
			BaseEvent: event.BaseEvent{Ts: time.Now()},
			Cycle:     id,
			Kind:      event.TimerLeg1Timeout,
		})
	})
}

// Must be called with lock held
func (c *Coordinator) handleLeg2Ack(cy *cycle, ev *event.OrderAck) {
	if c.phase != domain.PhaseLeg2Submitted {
		return
	}

	if ev.Err != nil || !ev.Ack.Accepted {
		err := ev.Err
		if err == nil {
			err = ev.Ack.Err()
		}
		reason := err.Error()
		c.stats.ErrorCount++
		c.metrics.RecordLeg2Failure()
		c.logger.Error("🚨 Leg 2 failed after leg 1 filled, single-leg exposure",
			slog.Uint64("cycle", cy.id),
			slog.String("venue", string(cy.leg2.Venue)),
			slog.String("side", string(cy.leg2.Side)),
			slog.String("price", cy.leg2.Price.String()),
			slog.String("size", cy.leg2.Size.String()),
			slog.String("reason", reason),
			slog.Uint64("error_count", c.stats.ErrorCount))
		c.alert("Leg 2 failed: manual action required", fmt.Sprintf(
			"%s leg 1 %s %s %s @ %s filled (tag %s) but leg 2 %s on %s failed: %s",
			cy.opp.Symbol, cy.leg1.Venue, cy.leg1.Side, cy.leg1.Size, cy.leg1.Price, cy.leg1.ClientOrderID,
			cy.leg2.Side, cy.leg2.Venue, reason))
		c.startCooldown(cy)
		return
	}

	profit := cy.opp.ExpectedProfit()
	c.stats.RealizedProfit = c.stats.RealizedProfit.Add(profit)
	c.stats.Completed++
	c.metrics.RecordCycleCompleted()
	c.logger.Info("✅ Cycle completed",
		slog.Uint64("cycle", cy.id),
		slog.String("route", cy.opp.Route.String()),
		slog.String("size", cy.opp.Size.String()),
		slog.String("profit", profit.StringFixed(8)),
		slog.String("realized_total", c.stats.RealizedProfit.StringFixed(8)))

	c.record(cy, profit)
	c.startCooldown(cy)
}

// OnFill matches a fill against the active leg 1 by correlation tag.
func (c *Coordinator) OnFill(fill domain.Fill) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cy := c.active
	if cy != nil && fill.ClientOrderID == cy.leg1.ClientOrderID {
		if c.phase != domain.PhaseLeg1Submitted && c.phase != domain.PhaseAwaitingLeg2Trigger {
			c.logger.Debug("Duplicate leg 1 fill ignored", slog.String("tag", fill.ClientOrderID))
			return
		}
		c.stopTimer()
		c.transition(domain.PhaseLeg2Submitted)
		c.logger.Info("⚡ Leg 1 filled, submitting leg 2",
			slog.Uint64("cycle", cy.id),
			slog.String("venue", string(cy.leg2.Venue)),
			slog.String("side", string(cy.leg2.Side)),
			slog.String("price", cy.leg2.Price.String()),
			slog.String("size", cy.leg2.Size.String()))
		c.submitAsync(cy.id, event.Leg2, cy.leg2)
		return
	}

	if late, ok := c.expired[fill.ClientOrderID]; ok {
		c.forgetExpired(fill.ClientOrderID)
		c.stats.ErrorCount++
		c.metrics.RecordLateFill()
		c.logger.Error("🚨 Leg 1 filled after timeout, single-leg exposure",
			slog.Uint64("cycle", late.id),
			slog.String("venue", string(late.leg1.Venue)),
			slog.String("side", string(late.leg1.Side)),
			slog.String("size", late.leg1.Size.String()),
			slog.String("tag", fill.ClientOrderID))
		c.alert("Late leg 1 fill: manual action required", fmt.Sprintf(
			"%s leg 1 %s %s %s @ %s (tag %s) filled after the %s timeout; no hedge was placed",
			late.opp.Symbol, late.leg1.Venue, late.leg1.Side, late.leg1.Size, late.leg1.Price,
			fill.ClientOrderID, c.cfg.Leg1Timeout))
	}
}

// HandleTimer applies a fired leg-1 timeout or cooldown.
func (c *Coordinator) HandleTimer(ev *event.TimerFired) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cy := c.active
	if cy == nil || cy.id != ev.Cycle {
		return
	}

	switch ev.Kind {
	case event.TimerLeg1Timeout:
		if c.phase != domain.PhaseAwaitingLeg2Trigger {
			return
		}
		c.timer = nil
		c.stats.Leg1Timeouts++
		c.metrics.RecordLeg1Timeout()
		c.logger.Warn("⏱️ Leg 1 fill timeout, unlocking",
			slog.Uint64("cycle", cy.id),
			slog.String("tag", cy.leg1.ClientOrderID),
			slog.Duration("waited", c.now().Sub(cy.armedAt)))
		c.rememberExpired(cy)
		c.finish()
	case event.TimerCooldown:
		if c.phase != domain.PhaseCooldown {
			return
		}
		c.timer = nil
		c.finish()
	}
}

// Close cancels any pending timer.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimer()
}

// Must be called with lock held
func (c *Coordinator) startCooldown(cy *cycle) {
	if c.cfg.Cooldown <= 0 {
		c.finish()
		return
	}
	c.transition(domain.PhaseCooldown)
	id := cy.id
	c.timer = c.sched.AfterFunc(c.cfg.Cooldown, func() {
		c.post(&event.TimerFired{
			BaseEvent: event.BaseEvent{Ts: time.Now()},
			Cycle:     id,
			Kind:      event.TimerCooldown,
		})
	})
}

// Must be called with lock held
func (c *Coordinator) finish() {
	c.stopTimer()
	c.active = nil
	c.transition(domain.PhaseIdle)
}

// Must be called with lock held
func (c *Coordinator) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// transition is the only place phase changes.
// Must be called with lock held
func (c *Coordinator) transition(to domain.Phase) {
	if c.phase == to {
		return
	}
	c.logger.Debug("Phase transition",
		slog.String("from", c.phase.String()),
		slog.String("to", to.String()))
	c.phase = to
}

// Must be called with lock held
func (c *Coordinator) rememberExpired(cy *cycle) {
	tag := cy.leg1.ClientOrderID
	c.expired[tag] = cy
	c.expiredOrder = append(c.expiredOrder, tag)
	if len(c.expiredOrder) > maxExpiredTags {
		oldest := c.expiredOrder[0]
		c.expiredOrder = c.expiredOrder[1:]
		delete(c.expired, oldest)
	}
}

// Must be called with lock held
func (c *Coordinator) forgetExpired(tag string) {
	delete(c.expired, tag)
	for i, t := range c.expiredOrder {
		if t == tag {
			c.expiredOrder = append(c.expiredOrder[:i], c.expiredOrder[i+1:]...)
			break
		}
	}
}

func (c *Coordinator) record(cy *cycle, profit decimal.Decimal) {
	if c.recorder == nil {
		return
	}
	rec := &domain.ProfitRecord{
		Symbol:         cy.opp.Symbol,
		Side:           sideLabel(cy.leg2.Side),
		ExecPrice:      cy.leg2.Price,
		ExecQty:        cy.leg2.Size,
		Profit:         profit,
		ProfitPct:      cy.opp.SpreadPct,
		BuyVenue:       string(cy.opp.Route.Buy),
		SellVenue:      string(cy.opp.Route.Sell),
		CorrelationTag: cy.leg1.ClientOrderID,
		CreatedAt:      c.now(),
	}
	c.spawn(func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.SubmitTimeout)
		defer cancel()
		if err := c.recorder.RecordProfit(ctx, rec); err != nil {
			c.logger.Error("Failed to record profit", slog.Any("error", err), slog.String("tag", rec.CorrelationTag))
		}
	})
}

func (c *Coordinator) alert(title, message string) {
	if c.alerter == nil {
		return
	}
	c.spawn(func() {
		ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
		defer cancel()
		if err := c.alerter.Alert(ctx, title, message); err != nil {
			c.logger.Error("Failed to send alert", slog.Any("error", err))
		}
	})
}

func sideLabel(s domain.Side) string {
	if s == domain.SideBuy {
		return "Buy"
	}
	return "Sell"
}
