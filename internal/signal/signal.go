// Package signal standardizes payloads shared between data ingestion, strategies and the engine.
package signal

import "time"

// Tick models a single executed trade on the market.
type Tick struct {
	Symbol  string
	TradeID string
	Price   float64
	Size    float64
	Side    int // +1 buy, -1 sell (aggressor), 0 unknown
	Ts      time.Time
}

// Signal expresses the trading action a strategy or stop wants taken.
type Signal string

const (
	None Signal = ""
	Buy  Signal = "buy"
	Sell Signal = "sell"
)

// Opposite returns the other side; None stays None.
func (s Signal) Opposite() Signal {
	switch s {
	case Buy:
		return Sell
	case Sell:
		return Buy
	}
	return None
}

func (s Signal) Valid() bool { return s == Buy || s == Sell }

func (s Signal) String() string {
	if s == None {
		return "none"
	}
	return string(s)
}

// Parse maps user input such as "BUY" or "sell" to a Signal.
func Parse(v string) Signal {
	switch v {
	case "buy", "BUY", "Buy":
		return Buy
	case "sell", "SELL", "Sell":
		return Sell
	}
	return None
}
