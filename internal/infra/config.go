package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"arbitrage_go/internal/domain"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	ModeLive  = "live"
	ModePaper = "paper"
)

// VenueConfig is one venue's endpoints and credentials. Empty URLs fall
// back to the adapter's production endpoints.
type VenueConfig struct {
	Name         string `yaml:"name"`
	Enabled      bool   `yaml:"enabled"`
	WSURL        string `yaml:"ws_url"`
	AccountWSURL string `yaml:"account_ws_url"`
	RestURL      string `yaml:"rest_url"`
	APIKey       string `yaml:"api_key"`
	SecretKey    string `yaml:"secret_key"`
	Passphrase   string `yaml:"passphrase"`
}

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
		Mode    string `yaml:"mode"`
	} `yaml:"app"`

	Pair struct {
		Base  string `yaml:"base"`
		Quote string `yaml:"quote"`
	} `yaml:"pair"`

	// Order matters: it is the route priority.
	Venues []VenueConfig `yaml:"venues"`

	Strategy struct {
		MinProfitPercent decimal.Decimal `yaml:"min_profit_percent"`
		MinTradeSize     decimal.Decimal `yaml:"min_trade_size"`
		BalanceMargin    decimal.Decimal `yaml:"balance_margin"`
		SizeStep         decimal.Decimal `yaml:"size_step"`
		StaleAfterMS     int             `yaml:"stale_after_ms"`
		PriceBandLow     decimal.Decimal `yaml:"price_band_low"`
		PriceBandHigh    decimal.Decimal `yaml:"price_band_high"`
	} `yaml:"strategy"`

	Execution struct {
		Leg1TimeoutMS   int    `yaml:"leg1_timeout_ms"`
		CooldownMS      *int   `yaml:"cooldown_ms"`
		Leg1Venue       string `yaml:"leg1_venue"`
		SubmitTimeoutMS int    `yaml:"submit_timeout_ms"`
	} `yaml:"execution"`

	Connection struct {
		ReconnectDelayMS   int     `yaml:"reconnect_delay_ms"`
		MaxAttempts        int     `yaml:"max_attempts"`
		BackoffFactor      float64 `yaml:"backoff_factor"`
		MaxDelayMS         int     `yaml:"max_delay_ms"`
		PingIntervalMS     int     `yaml:"ping_interval_ms"`
		LivenessIntervalMS int     `yaml:"liveness_interval_ms"`
		HeartbeatWindowMS  int     `yaml:"heartbeat_window_ms"`
	} `yaml:"connection"`

	Report struct {
		IntervalMS int `yaml:"interval_ms"`
	} `yaml:"report"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Storage struct {
		Driver   string `yaml:"driver"`
		Path     string `yaml:"path"`
		DSN      string `yaml:"dsn"`
		MaxConns int    `yaml:"max_conns"`
	} `yaml:"storage"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`

	Notify struct {
		Telegram struct {
			Token  string `yaml:"token"`
			ChatID string `yaml:"chat_id"`
		} `yaml:"telegram"`
		Discord struct {
			WebhookURL string `yaml:"webhook_url"`
		} `yaml:"discord"`
	} `yaml:"notify"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	// venue -> asset -> starting balance
	Paper struct {
		Balances map[string]map[string]decimal.Decimal `yaml:"balances"`
	} `yaml:"paper"`
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
// A .env file next to the binary is loaded first when present.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig applies env overrides and defaults to YAML data, then validates.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// 보안 우선 - 환경 변수 오버라이드 지원
	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "arbitrage_go"
	}
	if c.App.Mode == "" {
		c.App.Mode = ModeLive
	}
	if c.Pair.Base == "" && c.Pair.Quote == "" {
		c.Pair.Base, c.Pair.Quote = "TUSD", "USDT"
	}
	c.Pair.Base = strings.ToUpper(c.Pair.Base)
	c.Pair.Quote = strings.ToUpper(c.Pair.Quote)

	s := &c.Strategy
	setDecimal(&s.MinProfitPercent, "0.03")
	setDecimal(&s.MinTradeSize, "7")
	setDecimal(&s.BalanceMargin, "0.98")
	setDecimal(&s.SizeStep, "1")
	setInt(&s.StaleAfterMS, 10000)

	e := &c.Execution
	setInt(&e.Leg1TimeoutMS, 700)
	setInt(&e.SubmitTimeoutMS, 5000)
	if e.CooldownMS == nil {
		d := 300
		e.CooldownMS = &d
	}

	n := &c.Connection
	setInt(&n.ReconnectDelayMS, 5000)
	setInt(&n.MaxAttempts, 5)
	if n.BackoffFactor == 0 {
		n.BackoffFactor = 1
	}
	setInt(&n.MaxDelayMS, 60000)
	setInt(&n.PingIntervalMS, 20000)
	setInt(&n.LivenessIntervalMS, 15000)
	setInt(&n.HeartbeatWindowMS, 45000)

	setInt(&c.Report.IntervalMS, 10000)

	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "arb"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setDecimal(v *decimal.Decimal, def string) {
	if v.IsZero() {
		*v = decimal.RequireFromString(def)
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.App.Mode != ModeLive && c.App.Mode != ModePaper {
		return configErr("app.mode", "must be live or paper, got %q", c.App.Mode)
	}
	if c.Pair.Base == "" || c.Pair.Quote == "" {
		return configErr("pair", "%w: base and quote are required", domain.ErrInvalidSymbol)
	}

	seen := make(map[domain.Venue]bool)
	for i, v := range c.Venues {
		field := fmt.Sprintf("venues[%d]", i)
		venue, err := domain.ParseVenue(v.Name)
		if err != nil {
			return &domain.ConfigError{Field: field + ".name", Err: err}
		}
		if seen[venue] {
			return configErr(field+".name", "duplicate venue %s", venue)
		}
		seen[venue] = true
		if !v.Enabled {
			continue
		}
		for _, u := range []string{v.WSURL, v.AccountWSURL} {
			if u != "" && !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
				return configErr(field, "invalid WS URL: %s", u)
			}
		}
		if c.App.Mode == ModeLive {
			if v.APIKey == "" || v.SecretKey == "" {
				return configErr(field, "%s: api key and secret are required in live mode", venue)
			}
			if venue == domain.VenueBitget && v.Passphrase == "" {
				return configErr(field, "bitget: passphrase is required in live mode")
			}
		}
	}
	if len(c.EnabledVenues()) < 2 {
		return configErr("venues", "at least two enabled venues are required")
	}

	s := c.Strategy
	if !s.MinProfitPercent.IsPositive() || !s.MinTradeSize.IsPositive() || !s.SizeStep.IsPositive() {
		return configErr("strategy", "thresholds must be positive")
	}
	if !s.BalanceMargin.IsPositive() || s.BalanceMargin.GreaterThan(decimal.NewFromInt(1)) {
		return configErr("strategy.balance_margin", "must be in (0, 1]")
	}
	if s.PriceBandHigh.IsPositive() && s.PriceBandLow.GreaterThan(s.PriceBandHigh) {
		return configErr("strategy.price_band_low", "above price_band_high")
	}
	if s.StaleAfterMS < 0 {
		return configErr("strategy.stale_after_ms", "must not be negative")
	}

	e := c.Execution
	if e.Leg1TimeoutMS <= 0 {
		return configErr("execution.leg1_timeout_ms", "must be positive")
	}
	if *e.CooldownMS < 0 {
		return configErr("execution.cooldown_ms", "must not be negative")
	}
	if e.Leg1Venue != "" {
		venue, err := domain.ParseVenue(e.Leg1Venue)
		if err != nil {
			return &domain.ConfigError{Field: "execution.leg1_venue", Err: err}
		}
		if !seen[venue] {
			return configErr("execution.leg1_venue", "%s is not configured", venue)
		}
	}

	if c.Connection.MaxAttempts <= 0 || c.Connection.BackoffFactor < 1 {
		return configErr("connection", "max_attempts must be positive and backoff_factor >= 1")
	}
	if c.Report.IntervalMS <= 0 {
		return configErr("report.interval_ms", "must be positive")
	}

	switch c.Storage.Driver {
	case "sqlite", "none":
	case "postgres":
		if c.Storage.DSN == "" {
			return configErr("storage.dsn", "required for postgres")
		}
	default:
		return configErr("storage.driver", "must be sqlite, postgres or none, got %q", c.Storage.Driver)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return configErr("redis.addr", "required when redis is enabled")
	}
	return nil
}

func configErr(field, format string, args ...any) error {
	return &domain.ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// EnabledVenues returns enabled venues in configured order.
func (c *Config) EnabledVenues() []VenueConfig {
	var out []VenueConfig
	for _, v := range c.Venues {
		if v.Enabled {
			out = append(out, v)
		}
	}
	return out
}

// PairValue returns the configured pair.
func (c *Config) PairValue() domain.Pair {
	return domain.Pair{Base: c.Pair.Base, Quote: c.Pair.Quote}
}

// IsPaper reports whether orders go to the in-memory paper exchange.
func (c *Config) IsPaper() bool { return c.App.Mode == ModePaper }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c *Config) StaleAfter() time.Duration     { return ms(c.Strategy.StaleAfterMS) }
func (c *Config) Leg1Timeout() time.Duration    { return ms(c.Execution.Leg1TimeoutMS) }
func (c *Config) Cooldown() time.Duration       { return ms(*c.Execution.CooldownMS) }
func (c *Config) SubmitTimeout() time.Duration  { return ms(c.Execution.SubmitTimeoutMS) }
func (c *Config) ReportInterval() time.Duration { return ms(c.Report.IntervalMS) }

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
// Venue credentials use ARB_<VENUE>_KEY, ARB_<VENUE>_SECRET and
// ARB_BITGET_PASSPHRASE.
func overrideWithEnv(cfg *Config) {
	for i := range cfg.Venues {
		v := &cfg.Venues[i]
		prefix := "ARB_" + strings.ToUpper(strings.TrimSpace(v.Name)) + "_"
		if key := os.Getenv(prefix + "KEY"); key != "" {
			v.APIKey = key
		}
		if secret := os.Getenv(prefix + "SECRET"); secret != "" {
			v.SecretKey = secret
		}
		if pass := os.Getenv(prefix + "PASSPHRASE"); pass != "" {
			v.Passphrase = pass
		}
	}
	if mode := os.Getenv("ARB_MODE"); mode != "" {
		cfg.App.Mode = mode
	}
	if level := os.Getenv("ARB_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if dsn := os.Getenv("ARB_POSTGRES_DSN"); dsn != "" {
		cfg.Storage.DSN = dsn
	}
	if pass := os.Getenv("ARB_REDIS_PASSWORD"); pass != "" {
		cfg.Redis.Password = pass
	}
	if token := os.Getenv("ARB_TELEGRAM_TOKEN"); token != "" {
		cfg.Notify.Telegram.Token = token
	}
	if chat := os.Getenv("ARB_TELEGRAM_CHAT_ID"); chat != "" {
		cfg.Notify.Telegram.ChatID = chat
	}
	if hook := os.Getenv("ARB_DISCORD_WEBHOOK"); hook != "" {
		cfg.Notify.Discord.WebhookURL = hook
	}
	if addr := os.Getenv("ARB_HTTP_ADDR"); addr != "" {
		cfg.HTTP.Addr = addr
	}
	if db := os.Getenv("ARB_REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			cfg.Redis.DB = n
		}
	}
}
