package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"zenbot-go/internal/exchange"
	"zenbot-go/internal/metrics"
	"zenbot-go/internal/signal"
)

// placeOrder writes the working order for the pursuit's side. Sim and paper orders rest
// locally and fill from ticks; live orders are submitted post-only and polled.
func (e *Engine) placeOrder(ctx context.Context, p *pursuit, price, size decimal.Decimal, taker bool) (*WorkingOrder, step, error) {
	side := p.side
	wo := e.orders[side]
	if wo == nil {
		kind := e.opts.OrderType
		if taker {
			kind = KindTaker
		}
		wo = &WorkingOrder{
			Side:      side,
			OrigPrice: price,
			OrigSize:  size,
			Remaining: size,
			Kind:      kind,
		}
		e.orders[side] = wo
	}
	wo.Price = price
	wo.Size = size

	if e.opts.Mode != ModeLive {
		closeTime := e.clock.Now()
		if cur := e.agg.Current(); cur != nil {
			closeTime = cur.CloseTime
		}
		if wo.OrigTime.IsZero() {
			wo.OrigTime = closeTime
		}
		if wo.ID == "" {
			wo.ID = uuid.NewString()
		}
		wo.Time = closeTime
		wo.Status = exchange.StatusOpen
		metrics.OrdersTotal.WithLabelValues(e.product.ID, side.String()).Inc()
		return wo, stepDone, nil
	}

	req := exchange.OrderRequest{ProductID: e.product.ID, Side: side, Price: price, Size: size, PostOnly: true}
	var placed *exchange.Order
	err := e.suspend(func() error {
		var err error
		placed, err = e.ex.SubmitOrder(ctx, req)
		return err
	})
	if err != nil {
		return nil, stepAbort, exchangeError(side, "error placing order", err)
	}
	e.apiOrder = placed
	if placed.Status == exchange.StatusRejected {
		switch placed.RejectReason {
		case exchange.RejectPostOnly:
			e.log.Info().Str("side", side.String()).Msg("post-only order failed, re-ordering")
			return nil, stepRetry, nil
		case exchange.RejectBalance:
			return nil, stepAbort, &Error{Kind: KindBalance, Op: "not enough balance", Desc: "aborting " + side.String(), Order: placed}
		}
		return nil, stepAbort, &Error{
			Kind:  KindExchange,
			Op:    "order rejected",
			Desc:  fmt.Sprintf("could not execute %s: error placing order", side),
			Order: placed,
		}
	}

	id := placed.ID
	wo.ID = id
	if wo.Time.IsZero() {
		wo.OrigTime = placed.CreatedAt
	}
	wo.Time = placed.CreatedAt
	wo.LocalTime = e.clock.Now()
	wo.Status = placed.Status
	metrics.OrdersTotal.WithLabelValues(e.product.ID, side.String()).Inc()
	e.log.Info().
		Str("side", side.String()).
		Str("order_id", wo.ID).
		Str("status", string(wo.Status)).
		Str("size", wo.Size.String()).
		Str("price", wo.Price.String()).
		Msg("order placed")

	if !e.live(p) {
		e.abandon(ctx, id)
		return nil, stepAbort, nil
	}
	return e.poll(ctx, p, wo, id)
}

// superseded reports whether a newer pursuit owns p's side. The working order may then
// carry the newer pursuit's order id, so p must only act on the id it submitted.
func (e *Engine) superseded(p *pursuit) bool {
	cur := e.pursuits[p.side]
	return cur != nil && cur != p
}

// abandon cancels an order whose pursuit went stale while it was being submitted.
func (e *Engine) abandon(ctx context.Context, id string) {
	if err := e.suspend(func() error { return e.ex.CancelOrder(ctx, e.product.ID, id) }); err != nil {
		e.log.Warn().Err(err).Str("order_id", id).Msg("cancel of superseded order failed")
	}
}

// poll checks a live order every poll interval until it fills, needs re-pricing or the
// pursuit is abandoned. id is the venue order this pursuit submitted.
func (e *Engine) poll(ctx context.Context, p *pursuit, wo *WorkingOrder, id string) (*WorkingOrder, step, error) {
	side := p.side
	for {
		if err := e.sleep(ctx, e.opts.OrderPollTime); err != nil {
			return nil, stepAbort, err
		}
		if !e.live(p) || e.orders[side] != wo {
			e.log.Info().Str("side", side.String()).Msg("signal switched, aborting")
			return e.cancelOrder(ctx, p, wo, id, false)
		}

		var o *exchange.Order
		err := e.suspend(func() error {
			var err error
			o, err = e.ex.GetOrder(ctx, e.product.ID, id)
			return err
		})
		if err != nil {
			return nil, stepAbort, exchangeError(side, "error checking order", err)
		}
		if e.superseded(p) {
			return e.cancelOrder(ctx, p, wo, id, false)
		}
		e.apiOrder = o
		wo.Status = o.Status
		e.log.Debug().Str("order_id", id).Str("status", string(o.Status)).Msg("order status")

		switch o.Status {
		case exchange.StatusDone:
			return e.settle(ctx, wo, o), stepDone, nil
		case exchange.StatusCanceled:
			e.log.Warn().Str("order_id", id).Msg("order canceled on the exchange, aborting")
			return nil, stepAbort, nil
		case exchange.StatusRejected:
			if o.RejectReason == exchange.RejectPostOnly {
				e.log.Info().Str("side", side.String()).Msg("post-only order failed, re-ordering")
				return e.cancelOrder(ctx, p, wo, id, true)
			}
			return nil, stepAbort, &Error{Kind: KindExchange, Op: "order rejected", Desc: o.RejectReason, Order: o}
		}
		if !e.live(p) {
			continue
		}

		if e.clock.Now().Sub(wo.LocalTime) < e.opts.OrderAdjustTime {
			continue
		}
		q, err := e.getQuote(ctx)
		if err != nil {
			return nil, stepAbort, exchangeError(side, "error fetching quote", err)
		}
		marked := e.markedPrice(side, q)
		if (side == signal.Buy && wo.Price.LessThan(marked)) || (side == signal.Sell && wo.Price.GreaterThan(marked)) {
			e.log.Info().Str("side", side.String()).Str("marked", marked.String()).Str("price", wo.Price.String()).Msg("order price stale, re-pricing")
			return e.cancelOrder(ctx, p, wo, id, true)
		}
		wo.LocalTime = e.clock.Now()
	}
}

// settle applies a live fill reported by the venue and resyncs the balance.
func (e *Engine) settle(ctx context.Context, wo *WorkingOrder, o *exchange.Order) *WorkingOrder {
	wo.Time = o.DoneAt
	if wo.Time.IsZero() {
		wo.Time = e.clock.Now()
	}
	filled := wo.copy()
	e.applyFill(wo, wo.Time)
	if err := e.syncBalance(ctx); err != nil {
		e.log.Warn().Err(err).Msg("error syncing balance after fill")
	}
	return filled
}

// cancelOrder cancels on the venue, then waits for held funds to be released. The result
// is a retry when reorder is set, an abort otherwise. An order found filled during the
// cancel is settled instead. A superseded pursuit only cancels its own order id and
// leaves the slot and the settlement wait to the pursuit that replaced it.
func (e *Engine) cancelOrder(ctx context.Context, p *pursuit, wo *WorkingOrder, id string, reorder bool) (*WorkingOrder, step, error) {
	side := p.side
	e.log.Info().Str("order_id", id).Msg("cancelling order")
	if err := e.suspend(func() error { return e.ex.CancelOrder(ctx, e.product.ID, id) }); err != nil {
		return nil, stepAbort, exchangeError(side, "error canceling order", err)
	}

	for attempt := 1; ; attempt++ {
		var o *exchange.Order
		err := e.suspend(func() error {
			var err error
			o, err = e.ex.GetOrder(ctx, e.product.ID, id)
			return err
		})
		if err != nil {
			return nil, stepAbort, exchangeError(side, "error checking canceled order", err)
		}
		if e.superseded(p) {
			if o != nil && o.Status == exchange.StatusDone {
				e.log.Warn().Str("order_id", id).Msg("superseded order filled before cancel")
				if err := e.syncBalance(ctx); err != nil {
					e.log.Warn().Err(err).Msg("error getting balance")
				}
			}
			return nil, stepAbort, nil
		}
		if o != nil {
			e.apiOrder = o
			if o.Status == exchange.StatusDone {
				return e.settle(ctx, wo, o), stepDone, nil
			}
			if o.FilledSize.IsPositive() {
				wo.Remaining = wo.Size.Sub(o.FilledSize).Truncate(places)
			}
		}
		if err := e.syncBalance(ctx); err != nil {
			e.log.Warn().Err(err).Msg("error getting balance")
		}
		if !e.balance.HasHolds() {
			break
		}
		var onHold bool
		if side == signal.Buy {
			onHold = e.balance.AvailableCurrency().LessThan(wo.Price.Mul(wo.Remaining))
		} else {
			onHold = e.balance.AvailableAsset().LessThan(wo.Remaining)
		}
		if !onHold {
			break
		}
		if limit := e.opts.SettlementMaxAttempts; limit > 0 && attempt >= limit {
			return nil, stepAbort, &Error{
				Kind: KindExchange,
				Op:   "settlement timeout",
				Desc: fmt.Sprintf("funds still on hold after %d checks", attempt),
				Err:  errSettlement,
			}
		}
		e.log.Info().Str("balance", e.balance.Currency.String()).Dur("wait", e.opts.WaitForSettlement).Msg("funds on hold after cancel, waiting")
		if err := e.sleep(ctx, e.opts.WaitForSettlement); err != nil {
			return nil, stepAbort, err
		}
	}
	if reorder {
		return nil, stepRetry, nil
	}
	return nil, stepAbort, nil
}

var errSettlement = errors.New("settlement did not complete")
