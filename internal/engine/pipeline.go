package engine

import (
	"context"
	"sort"

	"zenbot-go/internal/clock"
	"zenbot-go/internal/metrics"
	"zenbot-go/internal/period"
	"zenbot-go/internal/risk"
	"zenbot-go/internal/signal"
	"zenbot-go/internal/strategy"
)

// Update processes a batch of ticks in time order. Preroll ticks (and ticks before the
// configured start) build candles and feed the strategy without trading.
func (e *Engine) Update(ctx context.Context, ticks []signal.Tick, preroll bool) error {
	sorted := make([]signal.Tick, len(ticks))
	copy(sorted, ticks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Ts.Before(sorted[j].Ts) })
	for _, tk := range sorted {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.onTick(tk, preroll)
	}
	return nil
}

func (e *Engine) onTick(tk signal.Tick, preroll bool) {
	if m, ok := e.clock.(*clock.Manual); ok && e.opts.Mode == ModeSim {
		// Due settlement retries fire here, before the tick takes the lock.
		m.Set(tk.Ts)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.agg.Stale(tk) {
		return
	}
	metrics.TicksTotal.WithLabelValues(e.product.ID).Inc()
	day := period.BucketID(tk.Ts, dayLength)
	if e.seenDay && day != e.lastDay {
		e.dayCount++
	}
	e.lastDay, e.seenDay = day, true

	if e.agg.Current() == nil {
		e.agg.Open(tk)
	}
	e.inPreroll = preroll || (!e.opts.Start.IsZero() && tk.Ts.Before(e.opts.Start))
	if e.agg.Rolls(tk) {
		e.rollover(tk)
	}

	cur := e.agg.Absorb(tk)
	if s := e.strategy.OnTick(e.input(tk, cur)); s.Valid() {
		e.pending = s
	}
	if e.inPreroll {
		return
	}
	if e.opts.Mode != ModeLive && !e.startSet {
		e.startPrice = tk.Price
		e.startCapital = e.opts.AssetCapital*tk.Price + e.opts.CurrencyCapital
		e.startSet = true
	}
	if !e.opts.Manual {
		e.executeStop(false)
		if e.pending.Valid() {
			side := e.pending
			e.pending = signal.None
			e.startSignal(side, SignalOptions{})
		}
	}
	if e.opts.Mode != ModeLive {
		e.adjustBid(tk)
		e.fillFromTick(tk)
	}
}

// rollover closes the open candle: strategy period hook, stops with the hard sell stop,
// any pending signal, the report row, then archive and open the next candle from tk.
func (e *Engine) rollover(tk signal.Tick) {
	cur := e.agg.Current()
	if s := e.strategy.OnPeriod(e.input(tk, cur)); s.Valid() {
		e.pending = s
	}
	e.risk.ResetCycle()
	if !e.inPreroll && !e.opts.Manual {
		e.executeStop(true)
		if e.pending.Valid() {
			e.startSignal(e.pending, SignalOptions{})
		}
	}
	e.writeReport()
	e.agg.Archive()
	metrics.PeriodsTotal.WithLabelValues(e.product.ID).Inc()
	e.action = ""
	e.pending = signal.None
	e.agg.Open(tk)
}

func (e *Engine) input(tk signal.Tick, cur *period.Period) strategy.Input {
	return strategy.Input{Tick: tk, Period: cur, Lookback: e.agg.Lookback()}
}

// executeStop lets the stop controller raise a signal against the last fill.
func (e *Engine) executeStop(hard bool) {
	cur := e.agg.Current()
	last, ok := e.ledger.Last()
	if cur == nil || !ok {
		return
	}
	lp, _ := last.Price.Float64()
	s, trigger := e.risk.Evaluate(&risk.Trade{Side: last.Side, Price: lp}, cur.Close, hard)
	if !s.Valid() {
		return
	}
	metrics.StopTriggersTotal.WithLabelValues(string(trigger)).Inc()
	e.log.Info().
		Str("trigger", string(trigger)).
		Str("signal", s.String()).
		Float64("trade_worth_pct", e.risk.LastTradeWorth()*100).
		Msg("stop triggered")
	e.pending = s
}
