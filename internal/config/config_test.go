package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	boterrors "github.com/vmaliev/crypto/internal/errors"
	"github.com/vmaliev/crypto/internal/exchange"
	"github.com/vmaliev/crypto/internal/notifications"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"BYBIT_API_KEY", "BYBIT_API_SECRET", "EXCHANGE_NAME", "BYBIT_DEMO", "BYBIT_TESTNET",
		"WEBHOOK_SECRET", "OPERATOR_TOKEN", "SERVER_ADDR", "TELEGRAM_TOKEN", "TELEGRAM_CHAT_ID",
		"DISCORD_WEBHOOK_URL", "SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD",
		"SMTP_FROM", "SMTP_TO", "STORAGE_PATH", "SIGNAL_BOT_DEBUG",
	} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("BYBIT_API_KEY", "key")
	t.Setenv("BYBIT_API_SECRET", "secret")
	t.Setenv("WEBHOOK_SECRET", "hook")

	path := writeFile(t, "bot.yaml", `
environment: staging
exchange:
  name: Bybit
  bybit:
    demo: true
engine:
  symbols: [btcusdt, " solusdt "]
  account_refresh_interval: 45s
sizing:
  leverage: 2
  max_risk_per_trade: 1.5
execution:
  close_on_bracket_failure: false
storage:
  driver: memory
server:
  addr: ":9000"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, exchange.NameBybit, cfg.Exchange.Name)
	assert.Equal(t, "key", cfg.Exchange.Bybit.APIKey)
	assert.Equal(t, []string{"BTCUSDT", "SOLUSDT"}, cfg.Engine.Symbols)
	assert.Equal(t, 45*time.Second, cfg.Engine.AccountRefreshInterval)
	assert.Equal(t, 2.0, cfg.Sizing.Leverage)
	assert.Equal(t, 1.5, cfg.Sizing.MaxRiskPerTrade)
	assert.False(t, cfg.Execution.CloseOnBracketFailure)
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, ":9000", cfg.Server.Addr)

	// Untouched sections keep their defaults.
	assert.Equal(t, Default().Safety, cfg.Safety)
	assert.Equal(t, 3, cfg.Execution.MaxAttempts)
}

func TestLoadJSONWithDurationStrings(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEBHOOK_SECRET", "hook")

	path := writeFile(t, "bot.json", `{
	"exchange": {"name": "paper", "paper": {"initial_balance": 2500}},
	"engine": {"order_poll_interval": "5s", "recent_trades": 20},
	"safety": {"circuit_breaker_cooldown": "2h"}
}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, exchange.NamePaper, cfg.Exchange.Name)
	assert.Equal(t, 2500.0, cfg.Exchange.Paper.InitialBalance)
	assert.Equal(t, 5*time.Second, cfg.Engine.OrderPollInterval)
	assert.Equal(t, 20, cfg.Engine.RecentTrades)
	assert.Equal(t, 2*time.Hour, cfg.Safety.CircuitBreakerCooldown)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEBHOOK_SECRET", "hook")
	path := writeFile(t, "bot.yaml", "sizing:\n  levrage: 3\n")

	_, err := Load(path)
	require.Error(t, err)
	be, ok := boterrors.As(err)
	require.True(t, ok)
	assert.Equal(t, boterrors.ErrorCategoryConfiguration, be.Category)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		env    map[string]string
		mutate func(*Config)
	}{
		{"missing webhook secret", map[string]string{"WEBHOOK_SECRET": ""}, nil},
		{"bybit without credentials", map[string]string{"BYBIT_API_KEY": ""}, nil},
		{"unknown exchange", nil, func(c *Config) { c.Exchange.Name = "kraken" }},
		{"leverage above safety cap", nil, func(c *Config) { c.Sizing.Leverage = 10 }},
		{"leverage below one", nil, func(c *Config) { c.Sizing.Leverage = 0.5 }},
		{"risk above 100", nil, func(c *Config) { c.Sizing.MaxRiskPerTrade = 150 }},
		{"unknown storage driver", nil, func(c *Config) { c.Storage.Driver = "postgres" }},
		{"unknown severity", nil, func(c *Config) { c.Notifications.MinSeverity = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("BYBIT_API_KEY", "key")
			t.Setenv("BYBIT_API_SECRET", "secret")
			t.Setenv("WEBHOOK_SECRET", "hook")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			var opts []Option
			if tt.mutate != nil {
				opts = append(opts, Option(tt.mutate))
			}
			_, err := Load("", opts...)
			assert.Error(t, err)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEBHOOK_SECRET", "hook")
	t.Setenv("EXCHANGE_NAME", "paper")
	t.Setenv("TELEGRAM_TOKEN", "tg-token")
	t.Setenv("TELEGRAM_CHAT_ID", "42")
	t.Setenv("DISCORD_WEBHOOK_URL", "https://discord.example/hook")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("SMTP_TO", "a@example.com, b@example.com")
	t.Setenv("OPERATOR_TOKEN", "op")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, exchange.NamePaper, cfg.Exchange.Name)
	assert.Equal(t, "hook", cfg.WebhookSecret)
	assert.Equal(t, "tg-token", cfg.Notifications.Telegram.Token)
	assert.Equal(t, "42", cfg.Notifications.Telegram.ChatID)
	assert.Equal(t, "https://discord.example/hook", cfg.Notifications.Discord.WebhookURL)
	assert.Equal(t, 2525, cfg.Notifications.Email.Port)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Notifications.Email.To)
	assert.Equal(t, "op", cfg.Server.OperatorToken)
	assert.Equal(t, "hook", cfg.EngineConfig().WebhookSecret)
}

func TestOptionsApplyBeforeValidation(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEBHOOK_SECRET", "hook")

	// Bybit without credentials fails, paper trading does not need them.
	_, err := Load("")
	require.Error(t, err)

	cfg, err := Load("", WithPaperTrading())
	require.NoError(t, err)
	assert.Equal(t, exchange.NamePaper, cfg.Exchange.Name)
}

func TestLoadEnvFile(t *testing.T) {
	const key = "SIGNAL_BOT_CONFIG_TEST"
	path := writeFile(t, ".env", key+"=from-file\n")
	require.NoError(t, LoadEnv(path))
	t.Cleanup(func() { os.Unsetenv(key) })
	assert.Equal(t, "from-file", os.Getenv(key))

	assert.Error(t, LoadEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestResolvePath(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.MkdirAll("configs", 0755))
	require.NoError(t, os.WriteFile(filepath.Join("configs", "bot.yml"), []byte("{}"), 0644))

	assert.Equal(t, filepath.Join("configs", "bot.yml"), ResolvePath("bot"))
	assert.Equal(t, filepath.Join("configs", "other.json"), ResolvePath("other"))
	assert.Equal(t, filepath.Join("configs", "x.yaml"), ResolvePath("x.yaml"))
	assert.Equal(t, "./local/bot.json", ResolvePath("./local/bot.json"))
}

func TestEngineConfigCarriesSections(t *testing.T) {
	cfg := Default()
	cfg.Sizing.Leverage = 2
	cfg.Engine.Symbols = []string{"ETHUSDT"}

	ec := cfg.EngineConfig()
	assert.Equal(t, []string{"ETHUSDT"}, ec.Symbols)
	assert.Equal(t, 2.0, ec.Sizing.Leverage)
	assert.Equal(t, cfg.Execution, ec.Execution)
	assert.Equal(t, cfg.Engine.CallTimeout, ec.CallTimeout)
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEBHOOK_SECRET", "hook")
	for _, name := range []string{"out.yaml", "out.json"} {
		t.Run(name, func(t *testing.T) {
			cfg := ProductionConfig()
			cfg.Exchange.Name = exchange.NamePaper
			cfg.Exchange.Bybit.APIKey = "must-not-leak"
			cfg.Engine.PositionMonitorInterval = 20 * time.Second

			path := filepath.Join(t.TempDir(), "nested", name)
			require.NoError(t, Save(cfg, path))

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.NotContains(t, string(data), "must-not-leak")

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, "production", loaded.Environment)
			assert.Equal(t, 20*time.Second, loaded.Engine.PositionMonitorInterval)
			assert.Equal(t, notifications.SeverityWarning, loaded.Notifications.MinSeverity)
		})
	}
}

func TestSummary(t *testing.T) {
	cfg := DevelopmentConfig()
	assert.Contains(t, cfg.Summary(), "bybit (demo)")
	assert.Contains(t, cfg.Summary(), "BTCUSDT,ETHUSDT")

	cfg = ProductionConfig()
	assert.Contains(t, cfg.Summary(), "LIVE")
}
