package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vmaliev/crypto/internal/config"
	"github.com/vmaliev/crypto/internal/engine"
	"github.com/vmaliev/crypto/internal/exchange/adapters"
	"github.com/vmaliev/crypto/internal/logger"
	"github.com/vmaliev/crypto/internal/monitoring"
	"github.com/vmaliev/crypto/internal/notifications"
	"github.com/vmaliev/crypto/internal/server"
	"github.com/vmaliev/crypto/internal/state"
	"github.com/vmaliev/crypto/internal/storage"
	"github.com/vmaliev/crypto/internal/storage/memory"
	"github.com/vmaliev/crypto/internal/storage/sqlite"
)

const shutdownTimeout = 30 * time.Second

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the trading engine and the webhook server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}

			log, err := logger.NewLogger(cfg.Logging.Name, cfg.Logging.Dir, cfg.Logging.Debug)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer log.Close()

			fmt.Fprintln(cmd.OutOrStdout(), "🚀 Signal bot starting...")
			fmt.Fprintf(cmd.OutOrStdout(), "📁 Logging to %s\n", log.GetLogPath())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runBot(ctx, cfg, log)
		},
	}
}

// app is the wired bot: one engine behind one HTTP server
type app struct {
	engine *engine.Engine
	server *server.Server
	store  storage.Store
	notify *notifications.Dispatcher
}

// newApp builds every component from cfg without starting anything
func newApp(cfg *config.Config, log *logger.Logger) (*app, error) {
	venue, err := adapters.NewFactory().CreateExchange(cfg.Exchange)
	if err != nil {
		return nil, fmt.Errorf("failed to create exchange: %w", err)
	}

	store, err := openStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	metrics := monitoring.NewMetrics()
	notify := buildNotifier(cfg.Notifications, log, metrics)
	persistence := state.NewPersistence(log, cfg.Storage.StateDir, cfg.Logging.Name, cfg.Storage.StateMaxAge)

	eng, err := engine.New(cfg.EngineConfig(), engine.Deps{
		Exchange:    venue,
		Store:       store,
		Logger:      log,
		Notifier:    notify,
		Metrics:     metrics,
		Health:      monitoring.NewHealthChecker(3 * cfg.Engine.AccountRefreshInterval),
		Persistence: persistence,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{
		engine: eng,
		server: server.New(eng, cfg.Server, log),
		store:  store,
		notify: notify,
	}, nil
}

// openStore opens the configured trade store
func openStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case config.StorageMemory:
		return memory.New(), nil
	default:
		if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create storage directory: %w", err)
			}
		}
		store, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open store %s: %w", cfg.Path, err)
		}
		return store, nil
	}
}

// buildNotifier creates a dispatcher over every configured channel. Disabled
// notifications yield a dispatcher without channels.
func buildNotifier(cfg config.NotificationConfig, log *logger.Logger, metrics *monitoring.Metrics) *notifications.Dispatcher {
	var channels []notifications.Notifier
	if cfg.Enabled {
		if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != "" {
			channels = append(channels, notifications.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID))
		}
		if cfg.Discord.WebhookURL != "" {
			channels = append(channels, notifications.NewDiscordNotifier(cfg.Discord.WebhookURL))
		}
		if cfg.Email.Enabled() {
			channels = append(channels, notifications.NewEmailNotifier(cfg.Email))
		}
	}

	d := notifications.NewDispatcher(log, channels...).
		WithMinSeverity(cfg.MinSeverity).
		WithTimeout(cfg.Timeout)
	if metrics != nil {
		d.OnFailure(metrics.RecordNotificationFailure)
	}
	return d
}

// runBot starts the engine and server, then blocks until ctx is cancelled
func runBot(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.store.Close()

	log.Info("%s", cfg.Summary())
	if channels := a.notify.Channels(); len(channels) > 0 {
		log.Info("Notification channels: %v", channels)
	} else {
		log.Warning("No notification channels configured")
	}

	if err := a.engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	if err := a.server.Start(ctx); err != nil {
		a.engine.Stop(context.Background())
		return fmt.Errorf("failed to start server: %w", err)
	}
	log.Info("Listening for signals on %s", a.server.Addr())

	<-ctx.Done()
	log.Info("🛑 Shutdown signal received...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		log.LogWarning("Shutdown", "server shutdown: %v", err)
	}
	a.engine.Stop(shutdownCtx)
	log.Info("✅ Bot stopped")
	return nil
}
