package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"zenbot-go/internal/exchange"
	"zenbot-go/internal/ledger"
	"zenbot-go/internal/metrics"
	"zenbot-go/internal/signal"
)

// fillFromTick fills a resting sim or paper order once the tape trades through it.
// The buy side is checked first; at most one side fills per tick.
func (e *Engine) fillFromTick(tk signal.Tick) {
	px := decimal.NewFromFloat(tk.Price)
	if wo := e.orders[signal.Buy]; wo != nil {
		if px.LessThanOrEqual(wo.Price) {
			e.applyFill(wo, tk.Ts)
		}
		return
	}
	if wo := e.orders[signal.Sell]; wo != nil && px.GreaterThanOrEqual(wo.Price) {
		e.applyFill(wo, tk.Ts)
	}
}

func (e *Engine) feePct(kind string) decimal.Decimal {
	if kind == KindTaker {
		return e.fees.TakerPct
	}
	return e.fees.MakerPct
}

// applyFill records wo as filled at the given time. Outside live mode it also moves the
// simulated balances, charging avg slippage and the fee for the order's kind.
func (e *Engine) applyFill(wo *WorkingOrder, at time.Time) {
	side := wo.Side
	price := wo.Price
	fee := decimal.Zero
	if e.opts.Mode != ModeLive {
		slip := pct(e.opts.AvgSlippagePct)
		feePct := e.feePct(wo.Kind)
		total := func(p decimal.Decimal) decimal.Decimal { return p.Mul(wo.Size) }
		if side == signal.Buy {
			price = wo.OrigPrice.Add(wo.OrigPrice.Mul(slip)).Round(places)
			e.balance.Asset = e.balance.Asset.Add(wo.Size)
			e.balance.Currency = e.balance.Currency.Sub(total(price)).Round(places)
			if feePct.IsPositive() {
				fee = wo.Size.Mul(feePct).Div(hundred)
				e.balance.Asset = e.balance.Asset.Sub(fee).Round(places)
			}
		} else {
			price = wo.OrigPrice.Sub(wo.OrigPrice.Mul(slip)).Round(places)
			e.balance.Asset = e.balance.Asset.Sub(wo.Size)
			e.balance.Currency = e.balance.Currency.Add(total(price))
			if feePct.IsPositive() {
				fee = wo.Size.Mul(feePct).Div(hundred).Mul(price)
				e.balance.Currency = e.balance.Currency.Sub(fee).Round(places)
			}
		}
	}

	var slippage decimal.Decimal
	switch {
	case side == signal.Buy && wo.OrigPrice.IsPositive():
		slippage = price.Sub(wo.OrigPrice).Div(wo.OrigPrice)
	case side == signal.Sell && price.IsPositive():
		slippage = wo.OrigPrice.Sub(price).Div(price)
	}
	entry := ledger.Entry{
		OrderID:       wo.ID,
		Time:          at,
		ExecutionTime: at.Sub(wo.OrigTime),
		Slippage:      slippage,
		Side:          side,
		Size:          wo.OrigSize,
		Fee:           fee,
		Price:         price,
		Kind:          wo.Kind,
	}
	e.ledger.Record(entry)

	if side == signal.Buy {
		e.lastBuyPrice = price
		e.action = "bought"
	} else {
		e.lastSellPrice = price
		e.action = "sold"
	}
	wo.Status = exchange.StatusDone
	if e.orders[side] == wo {
		delete(e.orders, side)
	}
	fp, _ := price.Float64()
	e.risk.OnFill(side, fp)
	metrics.FillsTotal.WithLabelValues(e.product.ID, side.String()).Inc()
	e.log.Info().
		Str("side", side.String()).
		Str("order_id", wo.ID).
		Str("size", entry.Size.String()).
		Str("price", price.String()).
		Str("fee", fee.String()).
		Str("slippage", slippage.Mul(hundred).StringFixed(4)).
		Dur("execution", entry.ExecutionTime).
		Msg("order completed")
}

// adjustBid re-prices a resting sim or paper order that has waited the adjust time.
// Nothing is started while a re-price for the side is still in flight.
func (e *Engine) adjustBid(tk signal.Tick) {
	if e.opts.Mode == ModeLive || e.pursuits[signal.Buy] != nil || e.pursuits[signal.Sell] != nil {
		return
	}
	if wo := e.orders[signal.Buy]; wo != nil && tk.Ts.Sub(wo.Time) >= e.opts.OrderAdjustTime {
		e.startSignal(signal.Buy, SignalOptions{Reorder: true})
	} else if wo := e.orders[signal.Sell]; wo != nil && tk.Ts.Sub(wo.Time) >= e.opts.OrderAdjustTime {
		e.startSignal(signal.Sell, SignalOptions{Reorder: true})
	}
}
