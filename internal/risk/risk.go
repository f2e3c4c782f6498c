// Package risk holds the stop-loss, trailing profit-stop and reverse-stop levels for the open position.
package risk

import (
	"zenbot-go/internal/signal"
)

// Limits configures the stop controller. Percentages are whole percents; zero disables a stop.
type Limits struct {
	SellStopPct         float64
	BuyStopPct          float64
	ProfitStopEnablePct float64
	ProfitStopPct       float64
}

// Stops are the derived price levels. Zero means unset.
type Stops struct {
	SellStop       float64 `json:"sell_stop,omitempty"`
	BuyStop        float64 `json:"buy_stop,omitempty"`
	ProfitStop     float64 `json:"profit_stop,omitempty"`
	ProfitStopHigh float64 `json:"profit_stop_high,omitempty"`
}

// Trade is the last executed fill the stops are measured against.
type Trade struct {
	Side  signal.Signal
	Price float64
}

// Trigger names the stop that produced a signal.
type Trigger string

const (
	TriggerNone       Trigger = ""
	TriggerSellStop   Trigger = "sell_stop"
	TriggerProfitStop Trigger = "profit_stop"
	TriggerBuyStop    Trigger = "buy_stop"
)

// Controller evaluates stops once per tick and at candle boundaries. Only one stop may
// fire per candle; ResetCycle rearms it. Not safe for concurrent use.
type Controller struct {
	limits      Limits
	stops       Stops
	actedOnStop bool
	worth       float64
}

func NewController(limits Limits) *Controller {
	return &Controller{limits: limits}
}

func (c *Controller) Limits() Limits { return c.limits }

func (c *Controller) Stops() Stops { return c.stops }

// ActedOnStop reports whether a stop already fired during the current candle.
func (c *Controller) ActedOnStop() bool { return c.actedOnStop }

// LastTradeWorth is the fractional gain of the last trade at the last evaluated close.
func (c *Controller) LastTradeWorth() float64 { return c.worth }

// ResetCycle is called at every candle rollover.
func (c *Controller) ResetCycle() { c.actedOnStop = false }

// Evaluate checks the stops against close. hard enables the sell stop-loss, which only
// runs at candle boundaries. last is nil before the first fill.
func (c *Controller) Evaluate(last *Trade, close float64, hard bool) (signal.Signal, Trigger) {
	if last == nil || last.Price == 0 {
		return signal.None, TriggerNone
	}
	if last.Side == signal.Buy {
		c.worth = (close - last.Price) / last.Price
	} else {
		c.worth = (last.Price - close) / last.Price
	}
	if c.actedOnStop {
		return signal.None, TriggerNone
	}

	out, trigger := signal.None, TriggerNone
	if last.Side == signal.Buy {
		if hard && c.stops.SellStop != 0 && close < c.stops.SellStop {
			out, trigger = signal.Sell, TriggerSellStop
		} else if c.limits.ProfitStopEnablePct != 0 && c.worth >= c.limits.ProfitStopEnablePct/100 {
			high := c.stops.ProfitStopHigh
			if high == 0 || close > high {
				high = close
			}
			c.stops.ProfitStopHigh = high
			c.stops.ProfitStop = high - high*(c.limits.ProfitStopPct/100)
		}
		if c.stops.ProfitStop != 0 && close < c.stops.ProfitStop && c.worth > 0 {
			out, trigger = signal.Sell, TriggerProfitStop
		}
	} else if c.stops.BuyStop != 0 && close > c.stops.BuyStop {
		out, trigger = signal.Buy, TriggerBuyStop
	}

	if out != signal.None {
		c.actedOnStop = true
	}
	return out, trigger
}

// OnFill clears stale levels after a fill and arms the opposite stop unless a stop
// already fired this candle.
func (c *Controller) OnFill(side signal.Signal, price float64) {
	switch side {
	case signal.Buy:
		c.stops.BuyStop = 0
		c.stops.SellStop = 0
		if !c.actedOnStop && c.limits.SellStopPct != 0 {
			c.stops.SellStop = price - price*(c.limits.SellStopPct/100)
		}
	case signal.Sell:
		c.stops.BuyStop = 0
		if !c.actedOnStop && c.limits.BuyStopPct != 0 {
			c.stops.BuyStop = price + price*(c.limits.BuyStopPct/100)
		}
		c.stops.SellStop = 0
	}
	c.stops.ProfitStop = 0
	c.stops.ProfitStopHigh = 0
}
