package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"arbitrage_go/internal/domain"
	"arbitrage_go/internal/event"
	"arbitrage_go/internal/infra"
)

// ---- fakes ----

type fakeGateway struct {
	mu    sync.Mutex
	calls []domain.OrderRequest
	ack   domain.OrderAck
	err   error
}

func (g *fakeGateway) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	return g.ack, g.err
}

func (g *fakeGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type fakeAccounts map[domain.Venue]bool

func (f fakeAccounts) IsConnected(v domain.Venue, ch domain.Channel) bool {
	return f[v]
}

type fakeRecorder struct {
	recs []*domain.ProfitRecord
	err  error
}

func (r *fakeRecorder) RecordProfit(ctx context.Context, rec *domain.ProfitRecord) error {
	r.recs = append(r.recs, rec)
	return r.err
}

type fakeAlerter struct {
	titles []string
}

func (a *fakeAlerter) Alert(ctx context.Context, title, message string) error {
	a.titles = append(a.titles, title)
	return nil
}

type manualTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type manualScheduler struct {
	timers []*manualTimer
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	t := &manualTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

// fire runs the latest timer callback even if it was stopped, which
// models a timer that already fired before Stop was called.
func (s *manualScheduler) fire() {
	s.timers[len(s.timers)-1].f()
}

// harness runs the coordinator the way the sequencer does: async work runs
// inline, and everything it posts is queued and drained one event at a time.
type harness struct {
	t        *testing.T
	coord    *Coordinator
	buy      *fakeGateway
	sell     *fakeGateway
	accounts fakeAccounts
	sched    *manualScheduler
	recorder *fakeRecorder
	alerter  *fakeAlerter
	metrics  *infra.Metrics
	queue    []event.Event
}

func newHarness(t *testing.T, cfg Config) *harness {
	h := &harness{
		t:        t,
		buy:      &fakeGateway{ack: domain.Accepted("b-1")},
		sell:     &fakeGateway{ack: domain.Accepted("s-1")},
		accounts: fakeAccounts{domain.VenueBinance: true, domain.VenueBybit: true},
		sched:    &manualScheduler{},
		recorder: &fakeRecorder{},
		alerter:  &fakeAlerter{},
		metrics:  &infra.Metrics{},
	}
	gateways := map[domain.Venue]domain.OrderGateway{
		domain.VenueBinance: h.buy,
		domain.VenueBybit:   h.sell,
	}
	h.coord = NewCoordinator(context.Background(), cfg, gateways, h.accounts,
		func(ev event.Event) { h.queue = append(h.queue, ev) },
		WithScheduler(h.sched),
		WithSpawner(func(f func()) { f() }),
		WithRecorder(h.recorder),
		WithAlerter(h.alerter),
		WithMetrics(h.metrics),
	)
	return h
}

func defaultConfig() Config {
	return Config{
		Leg1Timeout:   700 * time.Millisecond,
		Cooldown:      300 * time.Millisecond,
		SubmitTimeout: time.Second,
	}
}

// drain dispatches queued events like the sequencer loop.
func (h *harness) drain() {
	for len(h.queue) > 0 {
		ev := h.queue[0]
		h.queue = h.queue[1:]
		switch e := ev.(type) {
		case *event.OrderAck:
			h.coord.HandleAck(e)
		case *event.TimerFired:
			h.coord.HandleTimer(e)
		}
	}
}

func (h *harness) leg1Tag() string {
	h.t.Helper()
	if h.buy.count() == 0 {
		h.t.Fatal("leg 1 was never submitted")
	}
	return h.buy.calls[0].ClientOrderID
}

func (h *harness) fill(tag string) {
	h.coord.OnFill(domain.Fill{Venue: domain.VenueBinance, ClientOrderID: tag})
}

func scenarioOpportunity() domain.Opportunity {
	return domain.Opportunity{
		Route:     domain.Route{Buy: domain.VenueBinance, Sell: domain.VenueBybit},
		Symbol:    "TUSDUSDT",
		BuyPrice:  dec("0.9980"),
		SellPrice: dec("1.0005"),
		Size:      dec("300"),
		SpreadPct: dec("0.2505"),
	}
}

// ---- tests ----

func TestCoordinator_SingleFlight(t *testing.T) {
	h := newHarness(t, defaultConfig())

	if err := h.coord.Submit(scenarioOpportunity()); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	err := h.coord.Submit(scenarioOpportunity())
	if !errors.Is(err, domain.ErrNotIdle) {
		t.Fatalf("second submit err = %v, want ErrNotIdle", err)
	}

	h.drain()
	if err := h.coord.Submit(scenarioOpportunity()); !errors.Is(err, domain.ErrNotIdle) {
		t.Fatalf("submit while awaiting fill err = %v, want ErrNotIdle", err)
	}

	if h.buy.count() != 1 {
		t.Errorf("leg 1 submitted %d times, want 1", h.buy.count())
	}
	if h.coord.Phase() != domain.PhaseAwaitingLeg2Trigger {
		t.Errorf("phase = %s, want AwaitingLeg2Trigger", h.coord.Phase())
	}
}

func TestCoordinator_Leg1Order(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.coord.Submit(scenarioOpportunity())

	req := h.buy.calls[0]
	if req.Side != domain.SideBuy || req.TimeInForce != domain.TimeInForceFOK {
		t.Errorf("leg 1 = %s %s, want BUY FOK", req.Side, req.TimeInForce)
	}
	if !req.Price.Equal(dec("0.9980")) || !req.Size.Equal(dec("300")) {
		t.Errorf("leg 1 price/size = %s/%s", req.Price, req.Size)
	}
	if len(req.ClientOrderID) > 36 || req.ClientOrderID == "" {
		t.Errorf("bad correlation tag %q", req.ClientOrderID)
	}
}

func TestCoordinator_AccountOffline(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.accounts[domain.VenueBinance] = false

	err := h.coord.Submit(scenarioOpportunity())
	if !errors.Is(err, domain.ErrAccountOffline) {
		t.Fatalf("err = %v, want ErrAccountOffline", err)
	}
	if h.buy.count() != 0 {
		t.Error("no order may be sent while the account stream is down")
	}
	if !h.coord.IsIdle() {
		t.Error("coordinator should stay idle")
	}
}

func TestCoordinator_Leg1Rejected(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.buy.ack = domain.Rejected("fok not filled")

	h.coord.Submit(scenarioOpportunity())
	h.drain()

	if !h.coord.IsIdle() {
		t.Fatalf("phase = %s, want Idle right after the rejection", h.coord.Phase())
	}
	if h.sell.count() != 0 {
		t.Error("leg 2 must never be submitted after a leg-1 rejection")
	}
	if len(h.sched.timers) != 0 {
		t.Error("no timer should be armed after a rejection")
	}
	if h.coord.Stats().Leg1Rejected != 1 || h.metrics.Snapshot().Leg1Rejected != 1 {
		t.Error("rejection not counted")
	}
}

func TestCoordinator_Leg1Timeout(t *testing.T) {
	h := newHarness(t, defaultConfig())

	h.coord.Submit(scenarioOpportunity())
	h.drain()
	if h.sched.timers[0].d != 700*time.Millisecond {
		t.Errorf("timeout armed for %s, want 700ms", h.sched.timers[0].d)
	}

	h.sched.fire()
	h.drain()

	if !h.coord.IsIdle() {
		t.Fatalf("phase = %s, want Idle after timeout", h.coord.Phase())
	}
	if h.sell.count() != 0 {
		t.Error("leg 2 must not be submitted on timeout")
	}

	// unlocked for the next pass
	if err := h.coord.Submit(scenarioOpportunity()); err != nil {
		t.Fatalf("submit after timeout failed: %v", err)
	}
	if h.buy.count() != 2 {
		t.Errorf("leg 1 calls = %d, want 2", h.buy.count())
	}
}

func TestCoordinator_FillTriggersLeg2WithCapturedValues(t *testing.T) {
	h := newHarness(t, defaultConfig())

	h.coord.Submit(scenarioOpportunity())
	h.drain()

	// The market moves before the fill arrives; leg 2 must not care.
	h.fill(h.leg1Tag())
	h.drain()

	if h.sell.count() != 1 {
		t.Fatalf("leg 2 submitted %d times, want 1", h.sell.count())
	}
	leg2 := h.sell.calls[0]
	if leg2.Side != domain.SideSell || leg2.TimeInForce != domain.TimeInForceGTC {
		t.Errorf("leg 2 = %s %s, want SELL GTC", leg2.Side, leg2.TimeInForce)
	}
	if !leg2.Price.Equal(dec("1.0005")) || !leg2.Size.Equal(dec("300")) {
		t.Errorf("leg 2 price/size = %s/%s, want captured 1.0005/300", leg2.Price, leg2.Size)
	}
	if !h.sched.timers[0].stopped {
		t.Error("leg-1 timeout must be cancelled by the fill")
	}

	if h.coord.Phase() != domain.PhaseCooldown {
		t.Fatalf("phase = %s, want Cooldown", h.coord.Phase())
	}
	h.sched.fire()
	h.drain()
	if !h.coord.IsIdle() {
		t.Fatalf("phase = %s, want Idle after cooldown", h.coord.Phase())
	}

	// 300 * 0.2505 / 100
	if got := h.coord.RealizedProfit(); !got.Equal(dec("0.7515")) {
		t.Errorf("realized profit = %s, want 0.7515", got)
	}
	if len(h.recorder.recs) != 1 {
		t.Fatalf("profit records = %d, want 1", len(h.recorder.recs))
	}
	rec := h.recorder.recs[0]
	if rec.Side != "Sell" || !rec.ExecPrice.Equal(dec("1.0005")) || rec.CorrelationTag != h.leg1Tag() {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestCoordinator_TimerAfterFillHasNoEffect(t *testing.T) {
	h := newHarness(t, defaultConfig())

	h.coord.Submit(scenarioOpportunity())
	h.drain()
	timeout := h.sched.timers[0]

	h.fill(h.leg1Tag())
	// the timeout callback raced the fill and already posted its event
	timeout.f()
	h.drain()

	if h.coord.Stats().Leg1Timeouts != 0 {
		t.Error("timeout must not take effect after the fill")
	}
	if h.coord.Phase() != domain.PhaseCooldown {
		t.Errorf("phase = %s, want Cooldown", h.coord.Phase())
	}
}

func TestCoordinator_FillBeforeAck(t *testing.T) {
	h := newHarness(t, defaultConfig())

	h.coord.Submit(scenarioOpportunity())
	// fill arrives while the ack is still queued
	h.fill(h.leg1Tag())
	h.drain()

	if h.sell.count() != 1 {
		t.Fatalf("leg 2 submitted %d times, want 1", h.sell.count())
	}
	if len(h.sched.timers) != 1 || h.sched.timers[0].d != 300*time.Millisecond {
		t.Error("only the cooldown timer should be armed")
	}
}

func TestCoordinator_UnrelatedFillIgnored(t *testing.T) {
	h := newHarness(t, defaultConfig())

	h.coord.Submit(scenarioOpportunity())
	h.drain()
	h.fill("someone-elses-order")

	if h.sell.count() != 0 {
		t.Error("a fill with a foreign tag must not trigger leg 2")
	}
	if h.coord.Phase() != domain.PhaseAwaitingLeg2Trigger {
		t.Errorf("phase = %s", h.coord.Phase())
	}
}

func TestCoordinator_Leg2Failure(t *testing.T) {
	tests := []struct {
		name string
		ack  domain.OrderAck
		err  error
	}{
		{"rejected", domain.Rejected("insufficient balance"), nil},
		{"transport error", domain.OrderAck{}, errors.New("connection reset")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, defaultConfig())
			h.sell.ack = tt.ack
			h.sell.err = tt.err

			h.coord.Submit(scenarioOpportunity())
			h.drain()
			h.fill(h.leg1Tag())
			h.drain()

			stats := h.coord.Stats()
			if stats.ErrorCount != 1 {
				t.Errorf("error count = %d, want 1", stats.ErrorCount)
			}
			if !stats.RealizedProfit.IsZero() {
				t.Error("failed cycle must not add profit")
			}
			if len(h.recorder.recs) != 0 {
				t.Error("failed cycle must not be recorded")
			}
			if len(h.alerter.titles) != 1 {
				t.Errorf("alerts = %d, want 1", len(h.alerter.titles))
			}

			// the lock is still released
			h.sched.fire()
			h.drain()
			if !h.coord.IsIdle() {
				t.Errorf("phase = %s, want Idle", h.coord.Phase())
			}
		})
	}
}

func TestCoordinator_LateFillAlerts(t *testing.T) {
	h := newHarness(t, defaultConfig())

	h.coord.Submit(scenarioOpportunity())
	h.drain()
	tag := h.leg1Tag()
	h.sched.fire()
	h.drain()

	h.fill(tag)

	if h.sell.count() != 0 {
		t.Error("late fill must not trigger leg 2")
	}
	if h.coord.Stats().ErrorCount != 1 || h.metrics.Snapshot().LateFills != 1 {
		t.Error("late fill not counted")
	}
	if len(h.alerter.titles) != 1 {
		t.Errorf("alerts = %d, want 1", len(h.alerter.titles))
	}

	// a duplicate of the same late fill is not reported twice
	h.fill(tag)
	if len(h.alerter.titles) != 1 {
		t.Error("late fill reported twice")
	}
}

func TestCoordinator_Leg1TransportErrorWaitsForTimeout(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.buy.err = errors.New("i/o timeout")

	h.coord.Submit(scenarioOpportunity())
	h.drain()

	if h.coord.Phase() != domain.PhaseAwaitingLeg2Trigger {
		t.Fatalf("phase = %s, want AwaitingLeg2Trigger", h.coord.Phase())
	}

	h.sched.fire()
	h.drain()
	if !h.coord.IsIdle() {
		t.Errorf("phase = %s, want Idle", h.coord.Phase())
	}
}

func TestCoordinator_Leg1OnSellVenue(t *testing.T) {
	cfg := defaultConfig()
	cfg.Leg1Venue = domain.VenueBybit
	h := newHarness(t, cfg)

	h.coord.Submit(scenarioOpportunity())
	h.drain()

	if h.sell.count() != 1 || h.buy.count() != 0 {
		t.Fatalf("leg 1 should go to bybit first (sell=%d buy=%d)", h.sell.count(), h.buy.count())
	}
	leg1 := h.sell.calls[0]
	if leg1.Side != domain.SideSell || leg1.TimeInForce != domain.TimeInForceFOK {
		t.Errorf("leg 1 = %s %s, want SELL FOK", leg1.Side, leg1.TimeInForce)
	}

	h.coord.OnFill(domain.Fill{Venue: domain.VenueBybit, ClientOrderID: leg1.ClientOrderID})
	h.drain()

	if h.buy.count() != 1 {
		t.Fatalf("leg 2 buy submitted %d times, want 1", h.buy.count())
	}
	leg2 := h.buy.calls[0]
	if leg2.Side != domain.SideBuy || leg2.TimeInForce != domain.TimeInForceGTC || !leg2.Price.Equal(dec("0.9980")) {
		t.Errorf("leg 2 = %s %s @ %s", leg2.Side, leg2.TimeInForce, leg2.Price)
	}
}

func TestCoordinator_ZeroCooldown(t *testing.T) {
	cfg := defaultConfig()
	cfg.Cooldown = 0
	h := newHarness(t, cfg)

	h.coord.Submit(scenarioOpportunity())
	h.drain()
	h.fill(h.leg1Tag())
	h.drain()

	if !h.coord.IsIdle() {
		t.Errorf("phase = %s, want Idle", h.coord.Phase())
	}
}

func TestCoordinator_CloseStopsTimer(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.coord.Submit(scenarioOpportunity())
	h.drain()

	h.coord.Close()
	if !h.sched.timers[0].stopped {
		t.Error("Close must stop the pending timer")
	}
}

func TestCoordinator_StaleAckIgnored(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.coord.HandleAck(&event.OrderAck{Cycle: 42, Leg: event.Leg1, Ack: domain.Accepted("x")})

	if !h.coord.IsIdle() {
		t.Error("an ack for an unknown cycle must not change state")
	}
}

func TestNewTag(t *testing.T) {
	a, b := newTag(), newTag()
	if a == b {
		t.Error("tags must be unique")
	}
	if len(a+"-1") > 36 {
		t.Errorf("tag too long: %d", len(a+"-1"))
	}
}
