package ledger

import (
	"github.com/shopspring/decimal"

	"zenbot-go/internal/signal"
)

// Stats summarizes round trips. A sell is a win when it fills above the preceding buy.
type Stats struct {
	Trades    int
	Buys      int
	Sells     int
	Wins      int
	Losses    int
	Fees      decimal.Decimal
	ErrorRate float64
}

// Summarize computes Stats over entries in execution order.
func Summarize(entries []Entry) Stats {
	var st Stats
	var lastBuy decimal.Decimal
	for _, e := range entries {
		st.Trades++
		st.Fees = st.Fees.Add(e.Fee)
		switch e.Side {
		case signal.Buy:
			st.Buys++
			lastBuy = e.Price
		case signal.Sell:
			st.Sells++
			if lastBuy.IsZero() {
				continue
			}
			if e.Price.GreaterThan(lastBuy) {
				st.Wins++
			} else {
				st.Losses++
			}
		}
	}
	if total := st.Wins + st.Losses; total > 0 {
		st.ErrorRate = float64(st.Losses) / float64(total) * 100
	}
	return st
}
