package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"zenbot-go/internal/exchange"
	"zenbot-go/internal/risk"
	"zenbot-go/internal/signal"
)

// Snapshot is a copy of the engine state for diagnostics. It never carries the
// lookback, credentials or venue configuration.
type Snapshot struct {
	Mode          Mode                           `json:"mode"`
	Exchange      string                         `json:"exchange"`
	Product       exchange.Product               `json:"product"`
	Balance       exchange.Balance               `json:"balance"`
	Quote         exchange.Quote                 `json:"quote"`
	Orders        map[signal.Signal]WorkingOrder `json:"orders,omitempty"`
	APIOrder      *exchange.Order                `json:"api_order,omitempty"`
	Stops         risk.Stops                     `json:"stops"`
	ActedOnStop   bool                           `json:"acted_on_stop"`
	LastSignal    signal.Signal                  `json:"last_signal,omitempty"`
	Pending       signal.Signal                  `json:"signal,omitempty"`
	Action        string                         `json:"action,omitempty"`
	LastBuyPrice  decimal.Decimal                `json:"last_buy_price"`
	LastSellPrice decimal.Decimal                `json:"last_sell_price"`
	Trades        int                            `json:"trades"`
	Errors        int                            `json:"errors"`
	PeriodTime    time.Time                      `json:"period_time,omitempty"`
	PeriodClose   float64                        `json:"period_close,omitempty"`
	InPreroll     bool                           `json:"in_preroll"`
	DayCount      int                            `json:"day_count"`
}

// Snapshot returns the current diagnostic view.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot()
}

func (e *Engine) snapshot() Snapshot {
	s := Snapshot{
		Mode:          e.opts.Mode,
		Exchange:      e.ex.Name(),
		Product:       e.product,
		Balance:       e.balance,
		Quote:         e.quote,
		Stops:         e.risk.Stops(),
		ActedOnStop:   e.risk.ActedOnStop(),
		LastSignal:    e.lastSignal,
		Pending:       e.pending,
		Action:        e.action,
		LastBuyPrice:  e.lastBuyPrice,
		LastSellPrice: e.lastSellPrice,
		Trades:        e.ledger.Len(),
		Errors:        e.errors,
		InPreroll:     e.inPreroll,
		DayCount:      e.dayCount,
	}
	if len(e.orders) > 0 {
		s.Orders = make(map[signal.Signal]WorkingOrder, len(e.orders))
		for side, wo := range e.orders {
			s.Orders[side] = *wo
		}
	}
	if e.apiOrder != nil {
		o := *e.apiOrder
		s.APIOrder = &o
	}
	if cur := e.agg.Current(); cur != nil {
		s.PeriodTime = cur.Time
		s.PeriodClose = cur.Close
	}
	return s
}
