package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

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

// Default returns a config with every section at its package defaults
func Default() *Config {
	sched := engine.DefaultConfig()
	return &Config{
		Environment: "development",
		Exchange: exchange.Config{
			Name:              exchange.NameBybit,
			Bybit:             exchange.BybitConfig{Demo: true},
			Paper:             exchange.PaperConfig{InitialBalance: 10000, FeeRate: 0.00055},
			RequestsPerSecond: 10,
			Burst:             10,
		},
		Engine: ScheduleConfig{
			Symbols:                 []string{"BTCUSDT", "ETHUSDT"},
			CallTimeout:             sched.CallTimeout,
			AccountRefreshInterval:  sched.AccountRefreshInterval,
			OrderPollInterval:       sched.OrderPollInterval,
			StaleSweepInterval:      sched.StaleSweepInterval,
			PositionMonitorInterval: sched.PositionMonitorInterval,
			StateSaveInterval:       sched.StateSaveInterval,
			RecentTrades:            sched.RecentTrades,
		},
		Signal:      signal.DefaultConfig(),
		Consistency: signal.DefaultConsistencyConfig(),
		Sizing:      sizing.DefaultConfig(),
		Risk:        risk.DefaultConfig(),
		Safety:      safety.DefaultConfig(),
		Execution:   execution.DefaultConfig(),
		Recovery:    recovery.DefaultConfig(),
		Notifications: NotificationConfig{
			Enabled:     true,
			MinSeverity: notifications.SeverityInfo,
		},
		Storage: StorageConfig{Driver: StorageSQLite},
		Server:  server.DefaultConfig(),
	}
}

// DevelopmentConfig trades on the Bybit demo environment with verbose logging
func DevelopmentConfig() *Config {
	cfg := Default()
	cfg.Environment = "development"
	cfg.Exchange.Bybit.Demo = true
	cfg.Logging.Debug = true
	return cfg
}

// ProductionConfig trades live with tighter notification filtering
func ProductionConfig() *Config {
	cfg := Default()
	cfg.Environment = "production"
	cfg.Exchange.Bybit.Demo = false
	cfg.Exchange.Bybit.Testnet = false
	cfg.Notifications.MinSeverity = notifications.SeverityWarning
	cfg.Safety.AutoResetCircuitBreaker = false
	return cfg
}

// Preset returns the named environment preset, defaulting to development
func Preset(environment string) *Config {
	switch environment {
	case "production", "prod":
		return ProductionConfig()
	default:
		return DevelopmentConfig()
	}
}

// Save writes cfg as YAML, or JSON when path ends in .json. Secrets are never written.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if filepath.Ext(path) == ".json" {
		if data, err = toJSON(data); err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func toJSON(yamlData []byte) ([]byte, error) {
	var generic map[string]interface{}
	if err := yaml.Unmarshal(yamlData, &generic); err != nil {
		return nil, err
	}
	return json.MarshalIndent(generic, "", "  ")
}
