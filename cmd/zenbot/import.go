package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"zenbot-go/internal/store"
)

func newImportCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "import <trades.csv>",
		Short: "Load historical trades (time_ms,price,size[,trade_id[,side]]) into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := c.cfg
			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open trades: %w", err)
			}
			defer file.Close()

			st, err := store.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.ImportCSV(ctx, file, cfg.Exchange.Product, cfg.Store.BatchSize)
			if err != nil {
				return err
			}
			total, err := st.Count(ctx, cfg.Exchange.Product)
			if err != nil {
				return err
			}
			c.log.Info().Str("product", cfg.Exchange.Product).Int("inserted", n).Int("stored", total).Msg("import finished")
			return nil
		},
	}
}
