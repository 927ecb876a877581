package main

import (
	"github.com/spf13/cobra"

	"github.com/vmaliev/crypto/internal/config"
)

// rootFlags are shared by every subcommand that needs a config
type rootFlags struct {
	configFile  string
	envFile     string
	environment string
	demo        bool
	dryRun      bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "signal-bot",
		Short: "Signal-driven futures trading bot",
		Long: `signal-bot receives TradingView-style alerts on an HTTP webhook and turns
them into leveraged futures orders with stop-loss and take-profit brackets.

Every alert passes validation, sizing, risk and safety checks before an order
is placed. Operators can inspect and control the running bot over HTTP.`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.configFile, "config", "c", "", "Config file or name under configs/ (default: environment preset)")
	pf.StringVar(&flags.envFile, "env-file", "", "Environment file with secrets (default: .env if present)")
	pf.StringVarP(&flags.environment, "env", "e", "development", "Preset used when no config file is given (development, production)")
	pf.BoolVar(&flags.demo, "demo", false, "Force the Bybit demo environment")
	pf.BoolVar(&flags.dryRun, "dry-run", false, "Trade against the simulated paper venue")

	cmd.AddCommand(
		newRunCmd(flags),
		newReportCmd(flags),
		newStatusCmd(flags),
		newControlCmd(flags),
		newConfigCmd(flags),
		newVersionCmd(),
	)
	return cmd
}

// load resolves the env file, config file or preset and the override flags
func (f *rootFlags) load() (*config.Config, error) {
	if err := config.LoadEnv(f.envFile); err != nil {
		return nil, err
	}

	var opts []config.Option
	if f.demo {
		opts = append(opts, config.WithDemo())
	}
	if f.dryRun {
		opts = append(opts, config.WithPaperTrading())
	}

	if f.configFile == "" {
		return config.LoadPreset(f.environment, opts...)
	}
	return config.Load(f.configFile, opts...)
}
