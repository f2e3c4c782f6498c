package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"zenbot-go/internal/indicator"
	"zenbot-go/internal/ledger"
	"zenbot-go/internal/signal"
	"zenbot-go/internal/strategy"
)

const (
	dayLength  = 24 * time.Hour
	reportRSI  = "report_rsi"
	rsiPeriods = 14
)

// Row is one report line written when a candle closes.
type Row struct {
	Time      time.Time `json:"time"`
	Close     float64   `json:"close"`
	Diff      float64   `json:"diff,omitempty"`
	HasDiff   bool      `json:"-"`
	Volume    float64   `json:"volume"`
	RSI       float64   `json:"rsi,omitempty"`
	HasRSI    bool      `json:"-"`
	Columns   []string  `json:"columns,omitempty"`
	Action    string    `json:"action,omitempty"`
	Asset     float64   `json:"asset"`
	Currency  float64   `json:"currency"`
	Profit    float64   `json:"profit"`
	VsBuyHold float64   `json:"vs_buy_hold"`
	HasProfit bool      `json:"-"`
}

// String renders the row as a fixed-width console line.
func (r Row) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %14.8f", r.Time.UTC().Format(time.DateTime), r.Close)
	if r.HasDiff {
		fmt.Fprintf(&b, " %+7.2f%%", r.Diff*100)
	} else {
		b.WriteString(strings.Repeat(" ", 9))
	}
	fmt.Fprintf(&b, " %10.2f", r.Volume)
	if r.HasRSI {
		fmt.Fprintf(&b, " %5.1f", r.RSI)
	} else {
		b.WriteString(strings.Repeat(" ", 6))
	}
	for _, col := range r.Columns {
		b.WriteString(" " + col)
	}
	fmt.Fprintf(&b, " %-9s", r.Action)
	if r.HasProfit {
		fmt.Fprintf(&b, " %.8f %.8f %+7.2f%% %+7.2f%%", r.Asset, r.Currency, r.Profit*100, r.VsBuyHold*100)
	}
	return b.String()
}

// WithReport receives every report row.
func WithReport(fn func(Row)) Option { return func(e *Engine) { e.onReport = fn } }

// row builds the report for the open candle. The caller holds the lock.
func (e *Engine) row() Row {
	cur := e.agg.Current()
	lookback := e.agg.Lookback()
	r := Row{Time: cur.End(), Close: cur.Close, Volume: cur.Volume}
	if len(lookback) > 0 && lookback[0].Close != 0 {
		r.Diff = (cur.Close - lookback[0].Close) / lookback[0].Close
		r.HasDiff = true
	}
	r.RSI, r.HasRSI = indicator.RSI(cur, lookback, reportRSI, rsiPeriods)
	if rep, ok := e.strategy.(strategy.Reporter); ok {
		r.Columns = rep.Report(strategy.Input{Period: cur, Lookback: lookback})
	}
	switch {
	case e.orders[signal.Buy] != nil:
		r.Action = "buying"
	case e.orders[signal.Sell] != nil:
		r.Action = "selling"
	case e.action != "":
		r.Action = e.action
	case e.pending.Valid():
		r.Action = e.pending.String()
	case e.risk.LastTradeWorth() != 0:
		r.Action = fmt.Sprintf("%+.1f%%", e.risk.LastTradeWorth()*100)
	}
	r.Asset, _ = e.balance.Asset.Float64()
	r.Currency, _ = e.balance.Currency.Float64()
	if e.startCapital > 0 && e.startPrice > 0 {
		consolidated := r.Currency + cur.Close*r.Asset
		r.Profit = (consolidated - e.startCapital) / e.startCapital
		buyHold := cur.Close * (e.startCapital / e.startPrice)
		r.VsBuyHold = (consolidated - buyHold) / buyHold
		r.HasProfit = true
	}
	return r
}

func (e *Engine) writeReport() {
	r := e.row()
	e.log.Debug().
		Time("time", r.Time).
		Float64("close", r.Close).
		Float64("diff", r.Diff).
		Float64("volume", r.Volume).
		Str("action", r.Action).
		Float64("asset", r.Asset).
		Float64("currency", r.Currency).
		Float64("profit", r.Profit).
		Float64("vs_buy_hold", r.VsBuyHold).
		Msg("period")
	if e.onReport != nil {
		e.onReport(r)
	}
}

// Result is the end-of-run accounting behind Summary.
type Result struct {
	EndBalance   float64
	Profit       float64
	BuyHold      float64
	BuyHoldPct   float64
	VsBuyHold    float64
	Days         int
	Stats        ledger.Stats
	StartCapital float64
	StartPrice   float64
}

// Result values the balance at the open candle's close.
func (e *Engine) Result() Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result()
}

func (e *Engine) result() Result {
	res := Result{Days: e.dayCount, Stats: ledger.Summarize(e.ledger.Snapshot()), StartCapital: e.startCapital, StartPrice: e.startPrice}
	var last float64
	if cur := e.agg.Current(); cur != nil {
		last = cur.Close
	} else if lb := e.agg.Lookback(); len(lb) > 0 {
		last = lb[0].Close
	}
	asset, _ := e.balance.Asset.Float64()
	currency, _ := e.balance.Currency.Float64()
	res.EndBalance = currency + asset*last
	if e.startCapital > 0 {
		res.Profit = (res.EndBalance - e.startCapital) / e.startCapital
	}
	if e.startPrice > 0 {
		res.BuyHold = last * (e.startCapital / e.startPrice)
	}
	if e.startCapital > 0 {
		res.BuyHoldPct = (res.BuyHold - e.startCapital) / e.startCapital
	}
	if res.BuyHold > 0 {
		res.VsBuyHold = (res.EndBalance - res.BuyHold) / res.BuyHold
	}
	return res
}

// summaryOptions flattens the run options for the summary block. Durations are in milliseconds.
func (e *Engine) summaryOptions(days int) map[string]any {
	o := e.opts
	out := map[string]any{
		"mode":                   string(o.Mode),
		"selector":               e.ex.Name() + "." + e.product.ID,
		"strategy":               e.strategy.Name(),
		"period":                 o.Period.String(),
		"buy_pct":                o.BuyPct,
		"sell_pct":               o.SellPct,
		"markup_pct":             o.MarkupPct,
		"order_type":             o.OrderType,
		"order_adjust_time":      o.OrderAdjustTime.Milliseconds(),
		"order_poll_time":        o.OrderPollTime.Milliseconds(),
		"wait_for_settlement":    o.WaitForSettlement.Milliseconds(),
		"max_slippage_pct":       o.MaxSlippagePct,
		"max_sell_loss_pct":      o.MaxSellLossPct,
		"sell_stop_pct":          o.SellStopPct,
		"buy_stop_pct":           o.BuyStopPct,
		"profit_stop_enable_pct": o.ProfitStopEnablePct,
		"profit_stop_pct":        o.ProfitStopPct,
		"avg_slippage_pct":       o.AvgSlippagePct,
		"asset_capital":          o.AssetCapital,
		"currency_capital":       o.CurrencyCapital,
		"days":                   days,
	}
	if o.SettlementMaxAttempts > 0 {
		out["settlement_max_attempts"] = o.SettlementMaxAttempts
	}
	if !o.Start.IsZero() {
		out["start"] = o.Start.UTC().Format(time.RFC3339)
	}
	return out
}

// Summary renders the end-of-run report: the options as JSON followed by balance, buy
// and hold comparison, trade counts and win/loss lines.
func (e *Engine) Summary() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	res := e.result()

	var b strings.Builder
	opts, err := json.MarshalIndent(e.summaryOptions(res.Days), "", "  ")
	if err != nil {
		opts = []byte("{}")
	}
	b.Write(opts)
	b.WriteString("\n")
	fmt.Fprintf(&b, "end balance: %.8f (%.2f%%)\n", res.EndBalance, res.Profit*100)
	fmt.Fprintf(&b, "buy hold: %.8f (%.2f%%)\n", res.BuyHold, res.BuyHoldPct*100)
	fmt.Fprintf(&b, "vs. buy hold: %.2f%%\n", res.VsBuyHold*100)
	days := res.Days
	if days < 1 {
		days = 1
	}
	fmt.Fprintf(&b, "%d trades over %d days (avg %.2f trades/day)\n", res.Stats.Trades, res.Days, float64(res.Stats.Trades)/float64(days))
	fmt.Fprintf(&b, "win/loss: %d/%d\n", res.Stats.Wins, res.Stats.Losses)
	fmt.Fprintf(&b, "error rate: %.2f%%\n", res.Stats.ErrorRate)
	return b.String()
}
