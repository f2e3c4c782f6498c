package strategy

import (
	"fmt"
	"math"

	"zenbot-go/internal/indicator"
	"zenbot-go/internal/signal"
)

// TrendFollower signals when a closed candle moves beyond a percent band around the
// SMA of prior closes, with an optional candle notional filter. It emits only on a
// change of direction.
type TrendFollower struct {
	periods      int
	thresholdPct float64
	minVolume    float64
	trend        signal.Signal
}

// NewTrendFollower builds a trend-following strategy using an SMA band and volume filter.
func NewTrendFollower(periods int, thresholdPct, minVolume float64) *TrendFollower {
	if periods <= 0 {
		periods = 10
	}
	if thresholdPct <= 0 {
		thresholdPct = 0.5
	}
	return &TrendFollower{
		periods:      periods,
		thresholdPct: thresholdPct,
		minVolume:    math.Max(0, minVolume),
	}
}

// Name returns the configured identifier for logging.
func (t *TrendFollower) Name() string { return "trend" }

func (t *TrendFollower) key() string { return fmt.Sprintf("trend_sma%d", t.periods) }

// OnTick keeps the running SMA distance current for reports; signals wait for the candle close.
func (t *TrendFollower) OnTick(in Input) signal.Signal {
	indicator.SMA(in.Period, in.Lookback, t.key(), t.periods, indicator.SourceClose)
	return signal.None
}

// OnPeriod evaluates the closed candle against the SMA band.
func (t *TrendFollower) OnPeriod(in Input) signal.Signal {
	sma, ok := indicator.SMA(in.Period, in.Lookback, t.key(), t.periods, indicator.SourceClose)
	if !ok || sma <= 0 {
		return signal.None
	}
	change := (in.Period.Close - sma) / sma * 100
	in.Period.Set("trend_pct", change)
	if math.Abs(change) < t.thresholdPct {
		return signal.None
	}
	if t.minVolume > 0 && in.Period.Volume*in.Period.Close < t.minVolume {
		return signal.None
	}
	want := signal.Buy
	if change < 0 {
		want = signal.Sell
	}
	if want == t.trend {
		return signal.None
	}
	t.trend = want
	return want
}

// Report shows the distance from the SMA.
func (t *TrendFollower) Report(in Input) []string {
	v, ok := in.Period.Get("trend_pct")
	if !ok {
		return nil
	}
	return []string{fmt.Sprintf("%+.2f%%", v)}
}
