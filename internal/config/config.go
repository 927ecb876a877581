package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	boterrors "github.com/vmaliev/crypto/internal/errors"
	"github.com/vmaliev/crypto/internal/engine"
	"github.com/vmaliev/crypto/internal/exchange"
	"github.com/vmaliev/crypto/internal/execution"
	"github.com/vmaliev/crypto/internal/notifications"
	"github.com/vmaliev/crypto/internal/recovery"
	"github.com/vmaliev/crypto/internal/risk"
	"github.com/vmaliev/crypto/internal/safety"
	"github.com/vmaliev/crypto/internal/server"
	"github.com/vmaliev/crypto/internal/signal"
	"github.com/vmaliev/crypto/internal/sizing"
)

// Config is the complete configuration for the signal bot
type Config struct {
	Environment string `json:"environment" yaml:"environment"`

	Exchange      exchange.Config          `json:"exchange" yaml:"exchange"`
	Engine        ScheduleConfig           `json:"engine" yaml:"engine"`
	Signal        signal.Config            `json:"signal" yaml:"signal"`
	Consistency   signal.ConsistencyConfig `json:"consistency" yaml:"consistency"`
	Sizing        sizing.Config            `json:"sizing" yaml:"sizing"`
	Risk          risk.Config              `json:"risk" yaml:"risk"`
	Safety        safety.Config            `json:"safety" yaml:"safety"`
	Execution     execution.Config         `json:"execution" yaml:"execution"`
	Recovery      recovery.Config          `json:"recovery" yaml:"recovery"`
	Notifications NotificationConfig       `json:"notifications" yaml:"notifications"`
	Storage       StorageConfig            `json:"storage" yaml:"storage"`
	Server        server.Config            `json:"server" yaml:"server"`
	Logging       LoggingConfig            `json:"logging" yaml:"logging"`

	// Secrets come from the environment only
	WebhookSecret string `json:"-" yaml:"-"`
}

// ScheduleConfig holds the engine's symbols and background intervals
type ScheduleConfig struct {
	Symbols                 []string      `json:"symbols" yaml:"symbols"`
	CallTimeout             time.Duration `json:"call_timeout" yaml:"call_timeout"`
	AccountRefreshInterval  time.Duration `json:"account_refresh_interval" yaml:"account_refresh_interval"`
	OrderPollInterval       time.Duration `json:"order_poll_interval" yaml:"order_poll_interval"`
	StaleSweepInterval      time.Duration `json:"stale_sweep_interval" yaml:"stale_sweep_interval"`
	PositionMonitorInterval time.Duration `json:"position_monitor_interval" yaml:"position_monitor_interval"`
	StateSaveInterval       time.Duration `json:"state_save_interval" yaml:"state_save_interval"`
	RecentTrades            int           `json:"recent_trades" yaml:"recent_trades"`
}

// NotificationConfig enables the alert channels
type NotificationConfig struct {
	Enabled     bool                      `json:"enabled" yaml:"enabled"`
	MinSeverity notifications.Severity    `json:"min_severity" yaml:"min_severity"`
	Timeout     time.Duration             `json:"timeout" yaml:"timeout"`
	Telegram    TelegramConfig            `json:"telegram" yaml:"telegram"`
	Discord     DiscordConfig             `json:"discord" yaml:"discord"`
	Email       notifications.EmailConfig `json:"email" yaml:"email"`
}

type TelegramConfig struct {
	Token  string `json:"-" yaml:"-"`
	ChatID string `json:"chat_id" yaml:"chat_id"`
}

type DiscordConfig struct {
	WebhookURL string `json:"-" yaml:"-"`
}

// StorageConfig selects the trade store and where state snapshots live
type StorageConfig struct {
	Driver      string        `json:"driver" yaml:"driver"`
	Path        string        `json:"path" yaml:"path"`
	StateDir    string        `json:"state_dir" yaml:"state_dir"`
	StateMaxAge time.Duration `json:"state_max_age" yaml:"state_max_age"`
}

// LoggingConfig controls the file logger
type LoggingConfig struct {
	Dir   string `json:"dir" yaml:"dir"`
	Name  string `json:"name" yaml:"name"`
	Debug bool   `json:"debug" yaml:"debug"`
}

const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// ResolvePath maps a bare config name to configs/<name>, trying .yaml, .yml and .json
func ResolvePath(name string) string {
	path := name
	if !strings.ContainsAny(path, "/\\") {
		path = filepath.Join("configs", path)
	}
	if filepath.Ext(path) != "" {
		return path
	}
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		if fileExists(path + ext) {
			return path + ext
		}
	}
	return path + ".json"
}

// LoadEnv loads a .env file into the process environment. A missing default
// file is not an error; a missing explicit file is.
func LoadEnv(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if !fileExists(path) {
		if explicit {
			return fmt.Errorf("env file %s not found", path)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Option adjusts a loaded config before defaults and validation run
type Option func(*Config)

// WithPaperTrading routes orders to the simulated venue
func WithPaperTrading() Option {
	return func(c *Config) { c.Exchange.Name = exchange.NamePaper }
}

// WithDemo forces the Bybit demo environment
func WithDemo() Option {
	return func(c *Config) {
		c.Exchange.Bybit.Demo = true
		c.Exchange.Bybit.Testnet = false
	}
}

// Load reads the config file, overlays environment secrets, applies defaults
// and validates. An empty name loads the development preset.
func Load(name string, opts ...Option) (*Config, error) {
	if name == "" {
		return finish(DevelopmentConfig(), opts)
	}

	path := ResolvePath(name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, boterrors.NewConfigurationError("config", "Load", fmt.Sprintf("failed to read config file %s: %v", path, err))
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, boterrors.NewConfigurationError("config", "Load", fmt.Sprintf("failed to parse config file %s: %v", path, err))
	}
	return finish(cfg, opts)
}

// LoadPreset finishes the named preset (development or production) without a file
func LoadPreset(environment string, opts ...Option) (*Config, error) {
	return finish(Preset(environment), opts)
}

func finish(cfg *Config, opts []Option) (*Config, error) {
	cfg.applyEnv()
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, boterrors.NewConfigurationError("config", "validate", err.Error())
	}
	return cfg, nil
}

// Parse decodes JSON or YAML on top of the defaults. Unknown keys are rejected.
// JSON is re-encoded as YAML first so both formats accept durations like "30s".
func Parse(data []byte) (*Config, error) {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		var generic map[string]interface{}
		if err := json.Unmarshal(trimmed, &generic); err != nil {
			return nil, err
		}
		converted, err := yaml.Marshal(generic)
		if err != nil {
			return nil, err
		}
		data = converted
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays secrets and a few operational switches from the environment
func (c *Config) applyEnv() {
	setString(&c.Exchange.Bybit.APIKey, "BYBIT_API_KEY")
	setString(&c.Exchange.Bybit.APISecret, "BYBIT_API_SECRET")
	setString(&c.Exchange.Name, "EXCHANGE_NAME")
	setBool(&c.Exchange.Bybit.Demo, "BYBIT_DEMO")
	setBool(&c.Exchange.Bybit.Testnet, "BYBIT_TESTNET")

	setString(&c.WebhookSecret, "WEBHOOK_SECRET")
	setString(&c.Server.OperatorToken, "OPERATOR_TOKEN")
	setString(&c.Server.Addr, "SERVER_ADDR")

	setString(&c.Notifications.Telegram.Token, "TELEGRAM_TOKEN")
	setString(&c.Notifications.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	setString(&c.Notifications.Discord.WebhookURL, "DISCORD_WEBHOOK_URL")
	setString(&c.Notifications.Email.Host, "SMTP_HOST")
	setString(&c.Notifications.Email.Username, "SMTP_USERNAME")
	setString(&c.Notifications.Email.Password, "SMTP_PASSWORD")
	setString(&c.Notifications.Email.From, "SMTP_FROM")
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Notifications.Email.Port = port
		}
	}
	if v := os.Getenv("SMTP_TO"); v != "" {
		c.Notifications.Email.To = splitList(v)
	}

	setString(&c.Storage.Path, "STORAGE_PATH")
	setBool(&c.Logging.Debug, "SIGNAL_BOT_DEBUG")
}

// setDefaults fills values a partial config file left empty
func (c *Config) setDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Exchange.Name == "" {
		c.Exchange.Name = exchange.NameBybit
	}
	c.Exchange.Name = c.Exchange.Normalized()
	if c.Exchange.Paper.InitialBalance <= 0 {
		c.Exchange.Paper.InitialBalance = 10000
	}

	for i, s := range c.Engine.Symbols {
		c.Engine.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}

	if c.Notifications.MinSeverity == "" {
		c.Notifications.MinSeverity = notifications.SeverityInfo
	}
	if c.Notifications.Timeout <= 0 {
		c.Notifications.Timeout = 10 * time.Second
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageSQLite
	}
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join("data", "signal-bot.db")
	}
	if c.Storage.StateDir == "" {
		c.Storage.StateDir = "state"
	}
	if c.Storage.StateMaxAge <= 0 {
		c.Storage.StateMaxAge = 24 * time.Hour
	}

	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
	if c.Logging.Name == "" {
		c.Logging.Name = "signal-bot"
	}
}

// validate rejects configurations the engine cannot run safely with
func (c *Config) validate() error {
	if err := c.Exchange.Validate(); err != nil {
		return fmt.Errorf("exchange: %w", err)
	}
	if c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required")
	}

	if c.Sizing.BasePositionPercent <= 0 || c.Sizing.BasePositionPercent > 100 {
		return fmt.Errorf("sizing.base_position_percent must be between 0 and 100")
	}
	if c.Sizing.MaxRiskPerTrade <= 0 || c.Sizing.MaxRiskPerTrade > 100 {
		return fmt.Errorf("sizing.max_risk_per_trade must be between 0 and 100")
	}
	if c.Sizing.Leverage < 1 {
		return fmt.Errorf("sizing.leverage must be at least 1")
	}
	if c.Safety.MaxLeverage > 0 && c.Sizing.Leverage > c.Safety.MaxLeverage {
		return fmt.Errorf("sizing.leverage %.1f exceeds safety.max_leverage %.1f", c.Sizing.Leverage, c.Safety.MaxLeverage)
	}
	if c.Risk.StopLossPercent <= 0 || c.Risk.TakeProfitPercent <= 0 {
		return fmt.Errorf("risk.stop_loss_percent and risk.take_profit_percent must be positive")
	}
	if c.Safety.MaxDailyLossPercent <= 0 || c.Safety.MaxDrawdownPercent <= 0 {
		return fmt.Errorf("safety loss limits must be positive")
	}
	if c.Safety.MinAccountBalance < 0 {
		return fmt.Errorf("safety.min_account_balance cannot be negative")
	}
	if c.Execution.MaxAttempts < 0 {
		return fmt.Errorf("execution.max_attempts cannot be negative")
	}

	switch c.Storage.Driver {
	case StorageSQLite, StorageMemory:
	default:
		return fmt.Errorf("storage.driver %q is not supported (sqlite, memory)", c.Storage.Driver)
	}

	switch c.Notifications.MinSeverity {
	case notifications.SeverityInfo, notifications.SeveritySuccess, notifications.SeverityWarning,
		notifications.SeverityError, notifications.SeverityCritical:
	default:
		return fmt.Errorf("notifications.min_severity %q is not valid", c.Notifications.MinSeverity)
	}
	return nil
}

// EngineConfig assembles the engine settings from the individual sections
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		Symbols:                 c.Engine.Symbols,
		CallTimeout:             c.Engine.CallTimeout,
		AccountRefreshInterval:  c.Engine.AccountRefreshInterval,
		OrderPollInterval:       c.Engine.OrderPollInterval,
		StaleSweepInterval:      c.Engine.StaleSweepInterval,
		PositionMonitorInterval: c.Engine.PositionMonitorInterval,
		StateSaveInterval:       c.Engine.StateSaveInterval,
		RecentTrades:            c.Engine.RecentTrades,
		WebhookSecret:           c.WebhookSecret,
		Signal:                  c.Signal,
		Consistency:             c.Consistency,
		Sizing:                  c.Sizing,
		Risk:                    c.Risk,
		Safety:                  c.Safety,
		Execution:               c.Execution,
		Recovery:                c.Recovery,
	}
}

// Summary returns a one-line description for the startup log
func (c *Config) Summary() string {
	venue := c.Exchange.Name
	if venue == exchange.NameBybit {
		switch {
		case c.Exchange.Bybit.Demo:
			venue += " (demo)"
		case c.Exchange.Bybit.Testnet:
			venue += " (testnet)"
		default:
			venue += " (LIVE)"
		}
	}
	return fmt.Sprintf("Signal bot (%s): %s, symbols %s, leverage %.0fx, risk %.1f%%/trade, storage %s, listening on %s",
		c.Environment, venue, strings.Join(c.Engine.Symbols, ","), c.Sizing.Leverage,
		c.Sizing.MaxRiskPerTrade, c.Storage.Driver, c.Server.Addr)
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
