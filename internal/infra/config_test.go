package infra

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"arbitrage_go/internal/domain"

	"github.com/shopspring/decimal"
)

const paperYAML = `
app:
  mode: paper
venues:
  - name: binance
    enabled: true
  - name: bybit
    enabled: true
  - name: bitget
    enabled: false
paper:
  balances:
    binance:
      USDT: 1000
    bybit:
      TUSD: 500
`

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(paperYAML))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	if cfg.PairValue().Symbol() != "TUSDUSDT" {
		t.Errorf("pair = %v", cfg.PairValue())
	}
	if !cfg.Strategy.MinProfitPercent.Equal(decimal.RequireFromString("0.03")) {
		t.Errorf("min profit = %s", cfg.Strategy.MinProfitPercent)
	}
	if !cfg.Strategy.MinTradeSize.Equal(decimal.NewFromInt(7)) {
		t.Errorf("min size = %s", cfg.Strategy.MinTradeSize)
	}
	if cfg.Leg1Timeout() != 700*time.Millisecond || cfg.Cooldown() != 300*time.Millisecond {
		t.Errorf("timings = %v / %v", cfg.Leg1Timeout(), cfg.Cooldown())
	}
	if cfg.StaleAfter() != 10*time.Second || cfg.ReportInterval() != 10*time.Second {
		t.Errorf("stale = %v, report = %v", cfg.StaleAfter(), cfg.ReportInterval())
	}
	if cfg.Connection.ReconnectDelayMS != 5000 || cfg.Connection.MaxAttempts != 5 || cfg.Connection.BackoffFactor != 1 {
		t.Errorf("connection = %+v", cfg.Connection)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Logging.Level != "info" {
		t.Errorf("storage = %s, level = %s", cfg.Storage.Driver, cfg.Logging.Level)
	}
	if len(cfg.EnabledVenues()) != 2 || cfg.EnabledVenues()[1].Name != "bybit" {
		t.Errorf("enabled venues = %+v", cfg.EnabledVenues())
	}
	if !cfg.Paper.Balances["binance"]["USDT"].Equal(decimal.NewFromInt(1000)) {
		t.Errorf("paper balances = %v", cfg.Paper.Balances)
	}
}

func TestParseConfig_ZeroCooldownKept(t *testing.T) {
	cfg, err := ParseConfig([]byte(paperYAML + "execution:\n  cooldown_ms: 0\n"))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if cfg.Cooldown() != 0 {
		t.Errorf("cooldown = %v, want 0", cfg.Cooldown())
	}
}

func TestParseConfig_EnvOverride(t *testing.T) {
	t.Setenv("ARB_MODE", "live")
	t.Setenv("ARB_BINANCE_KEY", "bk")
	t.Setenv("ARB_BINANCE_SECRET", "bs")
	t.Setenv("ARB_BYBIT_KEY", "yk")
	t.Setenv("ARB_BYBIT_SECRET", "ys")
	t.Setenv("ARB_TELEGRAM_TOKEN", "tg")

	cfg, err := ParseConfig([]byte(paperYAML))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if cfg.IsPaper() {
		t.Error("ARB_MODE should switch to live")
	}
	if cfg.Venues[0].APIKey != "bk" || cfg.Venues[1].SecretKey != "ys" {
		t.Errorf("credentials not applied: %+v", cfg.Venues)
	}
	if cfg.Notify.Telegram.Token != "tg" {
		t.Errorf("telegram token = %q", cfg.Notify.Telegram.Token)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{
			name:  "single venue",
			yaml:  "app:\n  mode: paper\nvenues:\n  - name: binance\n    enabled: true\n",
			field: "venues",
		},
		{
			name:  "unknown venue",
			yaml:  "app:\n  mode: paper\nvenues:\n  - name: upbit\n    enabled: true\n",
			field: "venues[0].name",
		},
		{
			name:  "live without keys",
			yaml:  strings.Replace(paperYAML, "mode: paper", "mode: live", 1),
			field: "venues[0]",
		},
		{
			name:  "bad ws url",
			yaml:  strings.Replace(paperYAML, "name: bybit\n    enabled: true", "name: bybit\n    enabled: true\n    ws_url: https://x", 1),
			field: "venues[1]",
		},
		{
			name:  "unknown storage",
			yaml:  paperYAML + "storage:\n  driver: mongo\n",
			field: "storage.driver",
		},
		{
			name:  "postgres without dsn",
			yaml:  paperYAML + "storage:\n  driver: postgres\n",
			field: "storage.dsn",
		},
		{
			name:  "leg1 venue not configured",
			yaml:  strings.Replace(paperYAML, "  - name: bitget\n    enabled: false\n", "", 1) + "execution:\n  leg1_venue: bitget\n",
			field: "execution.leg1_venue",
		},
		{
			name:  "margin above one",
			yaml:  paperYAML + "strategy:\n  balance_margin: 1.5\n",
			field: "strategy.balance_margin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			var cfgErr *domain.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("err = %v, want ConfigError", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("field = %s, want %s", cfgErr.Field, tt.field)
			}
			if domain.IsRetriable(err) {
				t.Error("config errors are never retriable")
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		if !errors.Is(err, domain.ErrConfigNotFound) {
			t.Errorf("err = %v, want ErrConfigNotFound", err)
		}
	})

	t.Run("from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte(paperYAML), 0644); err != nil {
			t.Fatal(err)
		}
		cfg, err := LoadConfig(path)
		if err != nil || !cfg.IsPaper() {
			t.Errorf("cfg = %+v, err = %v", cfg, err)
		}
	})
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
