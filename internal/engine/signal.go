package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"zenbot-go/internal/exchange"
	"zenbot-go/internal/metrics"
	"zenbot-go/internal/signal"
)

// ExecuteSignal pursues side until the order is placed (sim, paper) or filled (live).
// A nil order with a nil error means nothing was placed: the signal was already being
// pursued, the order failed validation, funds were short and a retry was scheduled, or
// a newer signal took over. Risk refusals and venue failures are returned as *Error.
func (e *Engine) ExecuteSignal(ctx context.Context, side signal.Signal, opt SignalOptions) (*WorkingOrder, error) {
	if !side.Valid() {
		return nil, fmt.Errorf("engine: invalid signal %q", side)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p, existing := e.begin(side, opt)
	if p == nil {
		return existing.copy(), nil
	}
	wo, err := e.pursue(ctx, p, opt)
	return wo.copy(), err
}

// begin clears the opposite side and registers a pursuit. It returns nil when side is
// already being pursued and opt is not a reorder.
func (e *Engine) begin(side signal.Signal, opt SignalOptions) (*pursuit, *WorkingOrder) {
	e.clearSlot(side.Opposite())
	e.lastSignal = side
	if !opt.Reorder {
		if wo := e.orders[side]; wo != nil {
			if opt.Taker {
				wo.Kind = KindTaker
			}
			return nil, wo
		}
		if e.pursuits[side] != nil {
			return nil, nil
		}
	}
	if t, ok := e.retries[side]; ok {
		t.Stop()
		delete(e.retries, side)
	}
	p := &pursuit{side: side}
	e.pursuits[side] = p
	e.log.Debug().Str("side", side.String()).Bool("reorder", opt.Reorder).Msg("executing signal")
	return p, nil
}

// startSignal is begin plus pursue for signals raised inside the tick pipeline. The
// caller holds the lock.
func (e *Engine) startSignal(side signal.Signal, opt SignalOptions) {
	p, _ := e.begin(side, opt)
	if p == nil {
		return
	}
	if e.opts.Mode == ModeSim {
		wo, err := e.pursue(e.ctx, p, opt)
		e.logOutcome(side, wo, err)
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.mu.Lock()
		defer e.mu.Unlock()
		wo, err := e.pursue(e.ctx, p, opt)
		e.logOutcome(side, wo, err)
	}()
}

func (e *Engine) live(p *pursuit) bool { return e.pursuits[p.side] == p }

// clearSlot drops the working order, pursuit and scheduled retry for side.
func (e *Engine) clearSlot(side signal.Signal) {
	delete(e.orders, side)
	delete(e.pursuits, side)
	if t, ok := e.retries[side]; ok {
		t.Stop()
		delete(e.retries, side)
	}
}

func (e *Engine) endPursuit(p *pursuit, clearOrder bool) {
	if !e.live(p) {
		return
	}
	delete(e.pursuits, p.side)
	if clearOrder {
		delete(e.orders, p.side)
	}
}

// pursue loops over attempts until one places, fills, defers or aborts.
func (e *Engine) pursue(ctx context.Context, p *pursuit, opt SignalOptions) (*WorkingOrder, error) {
	side := p.side
	for {
		wo, st, err := e.attempt(ctx, p, opt)
		if !e.live(p) {
			return nil, err
		}
		switch st {
		case stepDone:
			e.endPursuit(p, false)
			return wo, nil
		case stepDefer:
			return nil, nil
		case stepRetry:
			if e.lastSignal != side {
				e.log.Info().Str("side", side.String()).Msg("signal switched, cancel order")
				e.endPursuit(p, true)
				return nil, nil
			}
			size := opt.Size
			if cur := e.orders[side]; cur != nil {
				size = cur.Remaining
			}
			e.log.Info().Str("side", side.String()).Str("remaining", size.String()).Msg("order timed out, adjusting price")
			opt = SignalOptions{Size: size, Reorder: true, Taker: opt.Taker}
		default:
			e.endPursuit(p, true)
			return nil, e.soften(err)
		}
	}
}

// soften turns the kinds callers never see into nil after logging them.
func (e *Engine) soften(err error) error {
	switch kindOf(err) {
	case KindValidation, KindBalance:
		metrics.RejectionsTotal.WithLabelValues(kindOf(err).String()).Inc()
		e.log.Info().Err(err).Msg("order attempt aborted")
		return nil
	}
	return err
}

// attempt runs one pass: sync, quote, price, size, validate, risk, funds, place.
func (e *Engine) attempt(ctx context.Context, p *pursuit, opt SignalOptions) (*WorkingOrder, step, error) {
	side := p.side
	if err := e.syncBalance(ctx); err != nil {
		e.log.Warn().Err(err).Msg("error getting balance")
	}
	if !e.live(p) {
		return nil, stepAbort, nil
	}
	quote, err := e.getQuote(ctx)
	if err != nil {
		return nil, stepAbort, exchangeError(side, "error fetching quote", err)
	}
	if !e.live(p) {
		return nil, stepAbort, nil
	}

	price := e.markedPrice(side, quote)
	size := opt.Size
	if !size.IsPositive() && price.IsPositive() {
		if side == signal.Buy {
			size = e.balance.Currency.Mul(pct(e.opts.BuyPct)).Div(price).Truncate(places)
		} else {
			size = e.balance.Asset.Mul(pct(e.opts.SellPct)).Truncate(places)
		}
	}
	size = floorTo(size, e.product.SizeIncrement)
	if err := e.validate(price, size); err != nil {
		return nil, stepAbort, err
	}
	if limit := e.product.MaxSize; limit.IsPositive() && size.GreaterThan(limit) {
		size = limit
	}
	if err := e.checkRisk(side, price); err != nil {
		return nil, stepAbort, err
	}

	var short bool
	if side == signal.Buy {
		short = e.balance.AvailableCurrency().LessThan(price.Mul(size))
	} else {
		short = e.balance.AvailableAsset().LessThan(size)
	}
	if short {
		e.deferSignal(p, size, opt.Taker)
		return nil, stepDefer, nil
	}

	e.log.Info().Str("side", side.String()).Str("price", price.String()).Str("size", size.String()).Msg("placing order")
	return e.placeOrder(ctx, p, price, size, opt.Taker)
}

// markedPrice is bid less markup floored to the increment for buys, ask plus markup
// ceiled to the increment for sells.
func (e *Engine) markedPrice(side signal.Signal, q exchange.Quote) decimal.Decimal {
	markup := pct(e.opts.MarkupPct)
	if side == signal.Buy {
		return floorTo(q.Bid.Sub(q.Bid.Mul(markup)), e.product.Increment)
	}
	return ceilTo(q.Ask.Add(q.Ask.Mul(markup)), e.product.Increment)
}

func (e *Engine) validate(price, size decimal.Decimal) error {
	invalid := func(format string, args ...any) error {
		return &Error{Kind: KindValidation, Op: "could not place order", Desc: fmt.Sprintf(format, args...)}
	}
	if !price.IsPositive() {
		return invalid("price %s is not positive", price)
	}
	if !size.IsPositive() {
		return invalid("size %s is not positive", size)
	}
	if limit := e.product.MinSize; limit.IsPositive() && size.LessThan(limit) {
		return invalid("size of %s less than minimum size of %s", size, limit)
	}
	if limit := e.product.MinNotional; limit.IsPositive() && size.Mul(price).LessThan(limit) {
		return invalid("total of %s less than minimum total of %s", size.Mul(price), limit)
	}
	return nil
}

func (e *Engine) checkRisk(side signal.Signal, price decimal.Decimal) error {
	maxSlip := e.opts.MaxSlippagePct
	cur := e.orders[side]
	if side == signal.Buy {
		if cur != nil && maxSlip != 0 && cur.OrigPrice.IsPositive() {
			slippage := price.Sub(cur.OrigPrice).Div(cur.OrigPrice).Mul(hundred)
			if slippage.GreaterThan(decimal.NewFromFloat(maxSlip)) {
				return riskError("slippage protection", "refusing to buy at %s, slippage of %s%%", price, slippage.StringFixed(2))
			}
		}
		return nil
	}
	if maxLoss := e.opts.MaxSellLossPct; maxLoss != 0 && e.lastBuyPrice.IsPositive() {
		loss := price.Sub(e.lastBuyPrice).Div(e.lastBuyPrice).Mul(hundred).Neg()
		if loss.GreaterThan(decimal.NewFromFloat(maxLoss)) {
			return riskError("loss protection", "refusing to sell at %s, sell loss of %s%%", price, loss.StringFixed(2))
		}
	}
	if cur != nil && maxSlip != 0 {
		slippage := cur.OrigPrice.Sub(price).Div(price).Mul(hundred)
		if slippage.GreaterThan(decimal.NewFromFloat(maxSlip)) {
			return riskError("slippage protection", "refusing to sell at %s, slippage of %s%%", price, slippage.StringFixed(2))
		}
	}
	return nil
}

// deferSignal re-runs the pursuit after the settlement wait unless a newer signal won.
// The retry outlives the caller, so it runs under the engine's own context.
func (e *Engine) deferSignal(p *pursuit, size decimal.Decimal, taker bool) {
	side := p.side
	var hold decimal.Decimal
	if side == signal.Buy {
		hold = e.balance.CurrencyHold
	} else {
		hold = e.balance.AssetHold
	}
	e.log.Info().Str("side", side.String()).Str("hold", hold.String()).Dur("wait", e.opts.WaitForSettlement).Msg("order delayed, funds on hold")
	if t, ok := e.retries[side]; ok {
		t.Stop()
	}
	e.retries[side] = e.clock.AfterFunc(e.opts.WaitForSettlement, func() {
		e.dispatch(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if !e.live(p) {
				return
			}
			delete(e.retries, side)
			if e.lastSignal != side {
				e.endPursuit(p, true)
				return
			}
			wo, err := e.pursue(e.ctx, p, SignalOptions{Size: size, Reorder: true, Taker: taker})
			e.logOutcome(side, wo, err)
		})
	})
}

func (e *Engine) logOutcome(side signal.Signal, wo *WorkingOrder, err error) {
	if err != nil {
		e.logError(err)
		return
	}
	if wo != nil {
		e.log.Debug().Str("side", side.String()).Str("order_id", wo.ID).Msg("signal executed")
	}
}

// LogError logs a signal error the way the engine does for its own signals: risk
// refusals tersely, anything else with a diagnostic snapshot.
func (e *Engine) LogError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logError(err)
}

func (e *Engine) logError(err error) {
	if err == nil {
		return
	}
	kind := kindOf(err)
	metrics.RejectionsTotal.WithLabelValues(kind.String()).Inc()
	if kind == KindRisk {
		e.log.Warn().Msg(err.Error())
		return
	}
	e.errors++
	ev := e.log.Error().Err(err)
	var ee *Error
	if errors.As(err, &ee) && ee.Order != nil {
		ev = ev.Str("order_id", ee.Order.ID).Str("status", string(ee.Order.Status)).Str("reason", ee.Order.RejectReason)
	}
	if e.opts.Debug {
		ev = ev.Interface("snapshot", e.snapshot())
	}
	ev.Msg("signal failed")
}
