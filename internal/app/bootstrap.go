package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"arbitrage_go/internal/domain"
	"arbitrage_go/internal/engine"
	"arbitrage_go/internal/execution"
	"arbitrage_go/internal/infra"
	"arbitrage_go/internal/infra/binance"
	"arbitrage_go/internal/infra/bitget"
	"arbitrage_go/internal/infra/bybit"
	"arbitrage_go/internal/infra/cache"
	"arbitrage_go/internal/infra/storage"
	"arbitrage_go/internal/infra/ws"
	"arbitrage_go/internal/notify"
	"arbitrage_go/internal/service"
	"arbitrage_go/internal/strategy"

	"golang.org/x/sync/errgroup"
)

const snapshotTimeout = 10 * time.Second

// venueCodec decodes both streams of one venue.
type venueCodec interface {
	domain.MarketDecoder
	domain.AccountDecoder
}

// venue is everything the engine needs from one exchange.
type venue struct {
	name     domain.Venue
	gateway  domain.OrderGateway
	balances domain.BalanceSource
	codec    venueCodec
	market   ws.Protocol
	account  ws.Protocol // nil in paper mode
}

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	ConfigPath string

	Config      *infra.Config
	Store       storage.Store
	Notifier    *notify.Notifier
	Publisher   *cache.StatusPublisher
	Book        *service.QuoteBook
	Tracker     *service.BalanceTracker
	Detector    *strategy.Detector
	Sequencer   *engine.Sequencer
	Coordinator *execution.Coordinator
	Workers     []domain.ExchangeWorker
	Health      *infra.HealthServer

	venues []venue
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(configPath string) *Bootstrap {
	return &Bootstrap{ConfigPath: configPath}
}

// Initialize loads configuration and builds every component. Nothing is
// connected yet; ctx bounds the startup calls and the coordinator's
// order submissions.
func (b *Bootstrap) Initialize(ctx context.Context) error {
	cfg, err := infra.LoadConfig(b.ConfigPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	slog.SetDefault(infra.NewLogger(cfg))
	slog.Info("🚀 Bootstrapping arbitrage bot",
		slog.String("version", cfg.App.Version),
		slog.String("pair", cfg.PairValue().String()))

	if err := b.initStorage(ctx); err != nil {
		return err
	}
	b.initNotifier()
	if err := b.initPublisher(ctx); err != nil {
		return err
	}
	if err := b.initEngine(ctx); err != nil {
		return err
	}
	if err := b.loadBalances(ctx); err != nil {
		return err
	}
	b.initSupervisors()

	if cfg.HTTP.Addr != "" {
		b.Health = infra.NewHealthServer(cfg.HTTP.Addr, b.Sequencer.Status,
			infra.WithDetailedStatus(b.Sequencer.StatusWithHistory))
	}
	return nil
}

func (b *Bootstrap) initStorage(ctx context.Context) error {
	cfg := b.Config
	switch cfg.Storage.Driver {
	case storage.DriverSQLite:
		s, err := storage.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		b.Store = s
	case storage.DriverPostgres:
		s, err := storage.NewPostgresStore(ctx, cfg.Storage.DSN, cfg.Storage.MaxConns)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		b.Store = s
	default:
		slog.Warn("Profit persistence disabled")
		return nil
	}
	slog.Info("✅ Database initialized", slog.String("driver", cfg.Storage.Driver))

	symbol := cfg.PairValue().Symbol()
	if total, err := b.Store.TotalProfit(ctx, symbol); err == nil {
		slog.Info("Historical realized profit", slog.String("symbol", symbol), slog.String("total", total.String()))
	}
	return nil
}

func (b *Bootstrap) initNotifier() {
	n := b.Config.Notify
	var senders []notify.Sender
	if n.Telegram.Token != "" && n.Telegram.ChatID != "" {
		senders = append(senders, notify.NewTelegramSender(n.Telegram.Token, n.Telegram.ChatID))
	}
	if n.Discord.WebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(n.Discord.WebhookURL))
	}
	b.Notifier = notify.NewNotifier(senders...)
	slog.Info("✅ Notifier ready", slog.Any("senders", b.Notifier.Senders()))
}

func (b *Bootstrap) initPublisher(ctx context.Context) error {
	r := b.Config.Redis
	if !r.Enabled {
		return nil
	}
	p, err := cache.New(ctx, cache.Config{Addr: r.Addr, Password: r.Password, DB: r.DB, Prefix: r.Prefix})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	b.Publisher = p
	slog.Info("✅ Redis status publisher ready", slog.String("addr", r.Addr))
	return nil
}

// symbolSetting merges the persisted switch with the configured band.
func (b *Bootstrap) symbolSetting(ctx context.Context) (domain.SymbolSetting, error) {
	cfg := b.Config
	setting := domain.SymbolSetting{Symbol: cfg.PairValue().Symbol(), Enabled: true}
	if b.Store != nil {
		stored, err := b.Store.GetSymbolSetting(ctx, setting.Symbol)
		if err != nil {
			return setting, fmt.Errorf("load symbol setting: %w", err)
		}
		if stored != nil {
			setting = *stored
		}
	}
	if !cfg.Strategy.PriceBandLow.IsZero() || !cfg.Strategy.PriceBandHigh.IsZero() {
		setting.PriceBandLow = cfg.Strategy.PriceBandLow
		setting.PriceBandHigh = cfg.Strategy.PriceBandHigh
	}
	if b.Store != nil {
		if err := b.Store.UpsertSymbolSetting(ctx, &setting); err != nil {
			return setting, fmt.Errorf("save symbol setting: %w", err)
		}
	}
	return setting, nil
}

func (b *Bootstrap) initEngine(ctx context.Context) error {
	cfg := b.Config
	pair := cfg.PairValue()

	enabled := cfg.EnabledVenues()
	names := make([]domain.Venue, 0, len(enabled))
	for _, vc := range enabled {
		v, err := domain.ParseVenue(vc.Name)
		if err != nil {
			return err
		}
		names = append(names, v)
	}

	b.Book = service.NewQuoteBook(pair.Symbol())
	b.Tracker = service.NewBalanceTracker()
	b.Detector = strategy.NewDetector(strategy.Params{
		Pair:          pair,
		Venues:        names,
		MinProfitPct:  cfg.Strategy.MinProfitPercent,
		MinTradeSize:  cfg.Strategy.MinTradeSize,
		BalanceMargin: cfg.Strategy.BalanceMargin,
		SizeStep:      cfg.Strategy.SizeStep,
		StaleAfter:    cfg.StaleAfter(),
	}, b.Book, b.Tracker)

	setting, err := b.symbolSetting(ctx)
	if err != nil {
		return err
	}
	b.Detector.SetSymbolSetting(setting)
	if !setting.Enabled {
		slog.Warn("Trading disabled for symbol, detection only", slog.String("symbol", setting.Symbol))
	}

	var opts []engine.Option
	if b.Publisher != nil {
		opts = append(opts, engine.WithPublisher(b.Publisher))
	}
	if b.Store != nil {
		opts = append(opts, engine.WithProfitHistory(b.Store))
	}
	b.Sequencer = engine.NewSequencer(engine.Config{
		ReportInterval: cfg.ReportInterval(),
		Mode:           cfg.App.Mode,
	}, b.Book, b.Tracker, b.Detector, opts...)

	gateways := make(map[domain.Venue]domain.OrderGateway, len(enabled))
	for i, vc := range enabled {
		v := b.buildVenue(names[i], vc)
		b.venues = append(b.venues, v)
		gateways[v.name] = v.gateway
		b.Book.RegisterDecoder(v.name, v.codec)
		b.Sequencer.RegisterAccountDecoder(v.name, v.codec)
	}

	var leg1Venue domain.Venue
	if cfg.Execution.Leg1Venue != "" {
		if leg1Venue, err = domain.ParseVenue(cfg.Execution.Leg1Venue); err != nil {
			return err
		}
	}

	coordOpts := []execution.Option{execution.WithAlerter(b.Notifier)}
	if b.Store != nil {
		coordOpts = append(coordOpts, execution.WithRecorder(b.Store))
	}
	b.Coordinator = execution.NewCoordinator(ctx, execution.Config{
		Leg1Timeout:   cfg.Leg1Timeout(),
		Cooldown:      cfg.Cooldown(),
		SubmitTimeout: cfg.SubmitTimeout(),
		Leg1Venue:     leg1Venue,
	}, gateways, b.Tracker, b.Sequencer.Post, coordOpts...)
	b.Sequencer.SetCoordinator(b.Coordinator)

	slog.Info("✅ Engine assembled",
		slog.Int("venues", len(b.venues)),
		slog.Int("routes", len(domain.Routes(names))),
		slog.Duration("leg1_timeout", cfg.Leg1Timeout()),
		slog.Duration("cooldown", cfg.Cooldown()))
	return nil
}

// buildVenue wires the REST client and stream protocols for vc. In paper
// mode orders go to a simulated exchange and the account stream is not
// opened; market data stays live.
func (b *Bootstrap) buildVenue(name domain.Venue, vc infra.VenueConfig) venue {
	cfg := b.Config
	symbol := cfg.PairValue().Symbol()
	v := venue{name: name}

	switch name {
	case domain.VenueBinance:
		c := binance.NewClient(vc.APIKey, vc.SecretKey, vc.RestURL)
		v.gateway, v.balances, v.codec = c, c, binance.Decoder{}
		v.market = binance.NewMarketProtocol(vc.WSURL, symbol)
		v.account = binance.NewAccountProtocol(vc.AccountWSURL, c)
	case domain.VenueBybit:
		c := bybit.NewClient(vc.APIKey, vc.SecretKey, vc.RestURL)
		v.gateway, v.balances, v.codec = c, c, bybit.Decoder{}
		v.market = bybit.NewMarketProtocol(vc.WSURL, symbol)
		v.account = bybit.NewAccountProtocol(vc.AccountWSURL, c.Signer())
	case domain.VenueBitget:
		c := bitget.NewClient(vc.APIKey, vc.SecretKey, vc.Passphrase, vc.RestURL)
		v.gateway, v.balances, v.codec = c, c, bitget.Decoder{}
		v.market = bitget.NewMarketProtocol(vc.WSURL, symbol)
		v.account = bitget.NewAccountProtocol(vc.AccountWSURL, c.Signer())
	}

	if cfg.IsPaper() {
		p := execution.NewPaperExchange(name, cfg.PairValue(), b.Book, b.Sequencer.Post)
		for asset, amount := range cfg.Paper.Balances[string(name)] {
			p.Deposit(asset, amount)
		}
		v.gateway, v.balances, v.account = p, p, nil
	}
	return v
}

// loadBalances seeds the tracker from REST. A venue whose snapshot fails
// would otherwise sit at zero and silently never trade.
func (b *Bootstrap) loadBalances(ctx context.Context) error {
	for _, v := range b.venues {
		sctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
		snap, err := v.balances.GetBalances(sctx)
		cancel()
		if err != nil {
			return fmt.Errorf("%s balance snapshot: %w", v.name, err)
		}
		b.Tracker.LoadSnapshot(v.name, snap, time.Now())
		slog.Info("✅ Balances loaded", slog.String("venue", string(v.name)), slog.Int("assets", len(snap)))

		if v.account == nil {
			// paper fills arrive as in-process events
			b.Tracker.SetConnection(domain.ConnectionState{Venue: v.name, Channel: domain.ChannelAccount, Connected: true})
		}
	}
	return nil
}

func (b *Bootstrap) initSupervisors() {
	c := b.Config.Connection
	wsCfg := ws.Config{
		ReconnectDelay:   time.Duration(c.ReconnectDelayMS) * time.Millisecond,
		MaxAttempts:      c.MaxAttempts,
		BackoffFactor:    c.BackoffFactor,
		MaxDelay:         time.Duration(c.MaxDelayMS) * time.Millisecond,
		PingInterval:     time.Duration(c.PingIntervalMS) * time.Millisecond,
		LivenessInterval: time.Duration(c.LivenessIntervalMS) * time.Millisecond,
		HeartbeatWindow:  time.Duration(c.HeartbeatWindowMS) * time.Millisecond,
	}

	for _, v := range b.venues {
		for _, proto := range []ws.Protocol{v.market, v.account} {
			if proto == nil {
				continue
			}
			b.Workers = append(b.Workers,
				ws.NewSupervisor(proto, wsCfg, b.Sequencer.Inbox(), ws.WithAlerter(b.Notifier)))
		}
	}
}

// Run starts every component and blocks until ctx is cancelled. Sockets
// are disconnected before the final statistics are printed.
func (b *Bootstrap) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return b.Sequencer.Run(gctx) })
	if b.Health != nil {
		g.Go(func() error { return b.Health.Run(gctx) })
	}

	for _, w := range b.Workers {
		if err := w.Connect(gctx); err != nil {
			g.Go(func() error { return fmt.Errorf("connect worker: %w", err) })
			break
		}
	}

	slog.InfoContext(ctx, "✨ Arbitrage bot fully operational. Press Ctrl+C to exit.",
		slog.Int("sockets", len(b.Workers)),
		slog.Bool("paper", b.Config.IsPaper()))

	err := g.Wait()
	b.disconnect()
	b.Sequencer.Shutdown()
	return err
}

// disconnect stops every socket and waits for its goroutines to end.
func (b *Bootstrap) disconnect() {
	for _, w := range b.Workers {
		w.Disconnect()
	}
	slog.Info("🔌 Sockets disconnected", slog.Int("count", len(b.Workers)))
}

// Close releases storage and cache connections.
func (b *Bootstrap) Close() error {
	var errs []error
	if b.Publisher != nil {
		errs = append(errs, b.Publisher.Close())
	}
	if b.Store != nil {
		errs = append(errs, b.Store.Close())
	}
	return errors.Join(errs...)
}
