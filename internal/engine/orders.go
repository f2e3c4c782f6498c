package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"zenbot-go/internal/exchange"
	"zenbot-go/internal/signal"
)

// Order kinds select the fee schedule.
const (
	KindMaker = "maker"
	KindTaker = "taker"
)

// WorkingOrder is the engine's record of the order it is pursuing on one side.
// OrigPrice, OrigSize and OrigTime are frozen at the first placement.
type WorkingOrder struct {
	ID        string               `json:"order_id,omitempty"`
	Side      signal.Signal        `json:"side"`
	Price     decimal.Decimal      `json:"price"`
	Size      decimal.Decimal      `json:"size"`
	OrigPrice decimal.Decimal      `json:"orig_price"`
	OrigSize  decimal.Decimal      `json:"orig_size"`
	Remaining decimal.Decimal      `json:"remaining_size"`
	Kind      string               `json:"order_type"`
	Status    exchange.OrderStatus `json:"status,omitempty"`
	OrigTime  time.Time            `json:"orig_time"`
	Time      time.Time            `json:"time"`
	LocalTime time.Time            `json:"local_time,omitempty"`
}

func (w *WorkingOrder) copy() *WorkingOrder {
	if w == nil {
		return nil
	}
	out := *w
	return &out
}

// SignalOptions tune one ExecuteSignal call. Size is only set on retries; zero sizes
// the order from the balance.
type SignalOptions struct {
	Size    decimal.Decimal
	Reorder bool
	Taker   bool
}

// pursuit identifies one run of the order path for a side. A pursuit that is no longer
// registered on the engine is stale and must not touch shared state.
type pursuit struct {
	side signal.Signal
}

type step int

const (
	stepAbort step = iota
	stepDone
	stepRetry
	stepDefer
)

// places is the precision sizes and simulated prices are truncated to.
const places = 8

var hundred = decimal.NewFromInt(100)

func pct(v float64) decimal.Decimal { return decimal.NewFromFloat(v).Div(hundred) }

func floorTo(v, inc decimal.Decimal) decimal.Decimal {
	if !inc.IsPositive() {
		return v
	}
	return v.Div(inc).Floor().Mul(inc)
}

func ceilTo(v, inc decimal.Decimal) decimal.Decimal {
	if !inc.IsPositive() {
		return v
	}
	return v.Div(inc).Ceil().Mul(inc)
}
