package main

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"zenbot-go/internal/engine"
	"zenbot-go/internal/exchange"
	"zenbot-go/internal/metrics"
	sig "zenbot-go/internal/signal"
)

// newTradeCmd builds "paper" or "live". Both stream trades from the configured feed;
// paper fills orders against the tape while live sends them to the venue.
func newTradeCmd(c *cli, mode string) *cobra.Command {
	var noMetrics bool
	short := "Trade the live feed with simulated fills"
	if mode == string(engine.ModeLive) {
		short = "Trade the live feed on the venue with real orders"
	}
	cmd := &cobra.Command{
		Use:   mode,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := engine.ParseMode(mode)
			if err != nil {
				return err
			}
			return runTrade(cmd, c, m, !noMetrics)
		},
	}
	cmd.Flags().BoolVar(&noMetrics, "no-metrics", false, "do not serve /metrics")
	return cmd
}

func runTrade(cmd *cobra.Command, c *cli, mode engine.Mode, serveMetrics bool) error {
	cfg := c.cfg
	log := c.log
	ctx, cancel := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if serveMetrics && cfg.App.MetricsAddr != "" {
		srv := metrics.Serve(cfg.App.MetricsAddr)
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	l, closeFills, err := fillsLedger(cfg.Paper.FillsPath)
	if err != nil {
		return err
	}
	defer closeFills()

	eng, err := buildEngine(ctx, cfg, mode, log, engine.WithLedger(l))
	if err != nil {
		return err
	}

	var feedOpts []exchange.Option
	if cfg.Exchange.StreamURL != "" {
		feedOpts = append(feedOpts, exchange.WithBinanceURL(cfg.Exchange.StreamURL))
	}
	feed := exchange.NewFeed(cfg.Exchange.Feed, []string{cfg.Exchange.Product}, log, feedOpts...)
	ticks := make(chan sig.Tick, 1024)
	go func() {
		if err := feed.Run(ctx, ticks); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("feed stopped")
			cancel()
		}
	}()

	log.Info().Str("mode", string(mode)).Str("product", cfg.Exchange.Product).Str("strategy", cfg.Strategy.Name).Msg("engine started")
	defer func() {
		eng.Close()
		fmt.Fprint(cmd.OutOrStdout(), eng.Summary())
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			return nil
		case tk := <-ticks:
			if err := eng.Update(ctx, []sig.Tick{tk}, false); err != nil && ctx.Err() == nil {
				return err
			}
		}
	}
}
