package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"zenbot-go/internal/exchange"
)

// syncBalance refreshes the balance from the venue in live mode. The first successful
// sync also fixes the starting price and capital.
func (e *Engine) syncBalance(ctx context.Context) error {
	if e.opts.Mode != ModeLive {
		return nil
	}
	var bal exchange.Balance
	err := e.suspend(func() error {
		var err error
		bal, err = e.ex.GetBalance(ctx, e.product.Asset, e.product.Currency)
		return err
	})
	if err != nil {
		return err
	}
	e.balance = bal
	if e.startSet {
		return nil
	}
	var q exchange.Quote
	err = e.suspend(func() error {
		var err error
		q, err = e.ex.GetQuote(ctx, e.product.ID)
		return err
	})
	if err != nil {
		return err
	}
	if e.startSet {
		return nil
	}
	ask, _ := q.Ask.Float64()
	cur, _ := bal.Currency.Float64()
	asset, _ := bal.Asset.Float64()
	e.startPrice = ask
	e.startCapital = cur + asset*ask
	e.startSet = true
	e.log.Info().Float64("start_price", e.startPrice).Float64("start_capital", e.startCapital).Msg("balance synced")
	return nil
}

// getQuote returns the open candle's close as both sides in sim, the venue quote otherwise.
func (e *Engine) getQuote(ctx context.Context) (exchange.Quote, error) {
	if e.opts.Mode == ModeSim {
		cur := e.agg.Current()
		if cur == nil {
			return exchange.Quote{}, nil
		}
		px := decimal.NewFromFloat(cur.Close)
		return exchange.Quote{Bid: px, Ask: px}, nil
	}
	var q exchange.Quote
	err := e.suspend(func() error {
		var err error
		q, err = e.ex.GetQuote(ctx, e.product.ID)
		return err
	})
	if err != nil {
		return exchange.Quote{}, err
	}
	e.quote = q
	return q, nil
}
