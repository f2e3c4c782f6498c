package strategy

import (
	"fmt"

	"zenbot-go/internal/indicator"
	"zenbot-go/internal/signal"
)

// RSIReversal buys oversold and sells overbought candles.
type RSIReversal struct {
	periods    int
	oversold   float64
	overbought float64
	last       signal.Signal
}

func NewRSI(periods int, oversold, overbought float64) *RSIReversal {
	if periods <= 0 {
		periods = 14
	}
	if oversold <= 0 {
		oversold = 30
	}
	if overbought <= 0 {
		overbought = 70
	}
	return &RSIReversal{periods: periods, oversold: oversold, overbought: overbought}
}

func (r *RSIReversal) Name() string { return "rsi" }

func (r *RSIReversal) OnTick(Input) signal.Signal { return signal.None }

func (r *RSIReversal) OnPeriod(in Input) signal.Signal {
	rsi, ok := indicator.RSI(in.Period, in.Lookback, "rsi", r.periods)
	if !ok {
		return signal.None
	}
	switch {
	case rsi <= r.oversold && r.last != signal.Buy:
		r.last = signal.Buy
		return signal.Buy
	case rsi >= r.overbought && r.last != signal.Sell:
		r.last = signal.Sell
		return signal.Sell
	}
	return signal.None
}

func (r *RSIReversal) Report(in Input) []string {
	v, ok := in.Period.Get("rsi")
	if !ok {
		return nil
	}
	return []string{fmt.Sprintf("rsi=%.0f", v)}
}
