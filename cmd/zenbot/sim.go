package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"zenbot-go/internal/config"
	"zenbot-go/internal/engine"
	"zenbot-go/internal/signal"
	"zenbot-go/internal/store"
)

type simFlags struct {
	from    string
	to      string
	days    int
	preroll time.Duration
	report  bool
	fills   string
}

func newSimCmd(c *cli) *cobra.Command {
	f := &simFlags{}
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Replay stored trades through the engine and print the run summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSim(cmd, c, f)
		},
	}
	cmd.Flags().StringVar(&f.from, "from", "", "first trade time to trade on (defaults to engine.start)")
	cmd.Flags().StringVar(&f.to, "to", "", "stop replaying at this time")
	cmd.Flags().IntVar(&f.days, "days", 0, "trade the last N days of stored history")
	cmd.Flags().DurationVar(&f.preroll, "preroll", 0, "history replayed before --from to warm up the strategy")
	cmd.Flags().BoolVar(&f.report, "report", false, "print a report row for every closed candle")
	cmd.Flags().StringVar(&f.fills, "fills", "", "append fills to this JSONL file")
	return cmd
}

func runSim(cmd *cobra.Command, c *cli, f *simFlags) error {
	ctx := cmd.Context()
	cfg := c.cfg
	product := cfg.Exchange.Product

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	first, last, err := st.Bounds(ctx, product)
	if err != nil {
		return err
	}
	if first.IsZero() {
		return fmt.Errorf("no trades stored for %s in %s, run zenbot import first", product, cfg.Store.Path)
	}

	if f.from != "" {
		cfg.Engine.Start = f.from
	} else if f.days > 0 {
		cfg.Engine.Start = last.Add(-time.Duration(f.days) * 24 * time.Hour).Format(time.RFC3339)
	}
	start, err := cfg.Engine.StartTime()
	if err != nil {
		return err
	}
	to, err := config.ParseTime(f.to)
	if err != nil {
		return fmt.Errorf("invalid --to: %w", err)
	}
	from := start
	if !start.IsZero() {
		from = start.Add(-f.preroll)
	}

	l, closeFills, err := fillsLedger(f.fills)
	if err != nil {
		return err
	}
	defer closeFills()

	setters := []engine.Option{engine.WithLedger(l)}
	out := cmd.OutOrStdout()
	if f.report {
		setters = append(setters, engine.WithReport(func(r engine.Row) { fmt.Fprintln(out, r.String()) }))
	}
	eng, err := buildEngine(ctx, cfg, engine.ModeSim, c.log, setters...)
	if err != nil {
		return err
	}
	defer eng.Close()

	c.log.Info().
		Str("product", product).
		Time("from", from).
		Time("start", start).
		Time("to", to).
		Str("strategy", cfg.Strategy.Name).
		Msg("sim started")
	replayed := 0
	err = st.Replay(ctx, product, from, to, cfg.Store.BatchSize, func(ticks []signal.Tick) error {
		replayed += len(ticks)
		return eng.Update(ctx, ticks, false)
	})
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	c.log.Info().Int("trades", replayed).Int("fills", eng.Ledger().Len()).Msg("sim finished")

	fmt.Fprint(out, eng.Summary())
	return nil
}
