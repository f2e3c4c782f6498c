// Binary zenbot runs the trading engine against historical trades (sim), a live feed with
// simulated fills (paper) or a real venue (live).
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"zenbot-go/internal/config"
	"zenbot-go/internal/util"
)

const defaultConfigPath = "internal/config/config.yaml"

// cli carries the state shared by every subcommand once the root pre-run has loaded it.
type cli struct {
	configPath string
	envFile    string
	logLevel   string
	product    string
	strategy   string
	period     string

	cfg *config.Config
	log zerolog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "zenbot",
		Short:         "Candle-driven trading engine with sim, paper and live modes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", defaultConfigPath, "path to the YAML config")
	flags.StringVar(&c.envFile, "env-file", ".env", "dotenv file with exchange credentials (optional)")
	flags.StringVar(&c.logLevel, "log-level", "", "override app.log_level")
	flags.StringVar(&c.product, "product", "", "override exchange.product, e.g. BTC-USDT")
	flags.StringVar(&c.strategy, "strategy", "", "override strategy.name")
	flags.StringVar(&c.period, "period", "", "override engine.period, e.g. 5m")

	root.AddCommand(newSimCmd(c), newTradeCmd(c, "paper"), newTradeCmd(c, "live"), newImportCmd(c))
	return root
}

// load reads the config, applies the environment and flag overrides, validates and
// builds the logger. A missing default config file falls back to built-in defaults.
func (c *cli) load(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config"):
		cfg = config.Default()
	default:
		return err
	}
	if err := cfg.ApplyEnv(c.envFile); err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.App.LogLevel = c.logLevel
	}
	if c.product != "" {
		cfg.Exchange.Product = c.product
	}
	if c.strategy != "" {
		cfg.Strategy.Name = c.strategy
	}
	if c.period != "" {
		cfg.Engine.Period = c.period
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	c.cfg = cfg
	c.log = util.NewConsoleLogger(cfg.App.LogLevel, os.Stderr).With().Str("app", cfg.App.Name).Logger()
	return nil
}
