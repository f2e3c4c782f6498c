package period

import (
	"time"

	"zenbot-go/internal/signal"
)

// DefaultMaxLookback bounds retained history when no explicit limit is configured.
const DefaultMaxLookback = 1000

// Aggregator owns the current candle and the lookback of closed candles, newest first.
// It is not safe for concurrent use; the engine serializes access.
type Aggregator struct {
	size        time.Duration
	maxLookback int
	current     *Period
	lookback    []*Period
}

// NewAggregator builds an aggregator. maxLookback <= 0 keeps DefaultMaxLookback candles.
func NewAggregator(size time.Duration, maxLookback int) *Aggregator {
	if maxLookback <= 0 {
		maxLookback = DefaultMaxLookback
	}
	return &Aggregator{size: size, maxLookback: maxLookback}
}

func (a *Aggregator) Size() time.Duration { return a.size }

// Current returns the open candle, nil before the first tick.
func (a *Aggregator) Current() *Period { return a.current }

// Lookback returns closed candles, newest first. Callers must not modify the slice.
func (a *Aggregator) Lookback() []*Period { return a.lookback }

// Stale reports whether tk predates the open candle's window and must be dropped.
func (a *Aggregator) Stale(tk signal.Tick) bool {
	return a.current != nil && tk.Ts.Before(a.current.Time)
}

// Rolls reports whether tk belongs to a later window than the open candle.
func (a *Aggregator) Rolls(tk signal.Tick) bool {
	return a.current != nil && BucketID(tk.Ts, a.size) != a.current.ID
}

// Open starts a new candle from tk, replacing any open one without archiving it.
func (a *Aggregator) Open(tk signal.Tick) *Period {
	a.current = New(tk, a.size)
	return a.current
}

// Absorb folds tk into the open candle, opening one if needed.
func (a *Aggregator) Absorb(tk signal.Tick) *Period {
	if a.current == nil {
		a.Open(tk)
	}
	a.current.Absorb(tk)
	return a.current
}

// Archive pushes the open candle to the front of the lookback and returns it.
func (a *Aggregator) Archive() *Period {
	if a.current == nil {
		return nil
	}
	closed := a.current
	a.lookback = append(a.lookback, nil)
	copy(a.lookback[1:], a.lookback)
	a.lookback[0] = closed
	if len(a.lookback) > a.maxLookback {
		a.lookback[len(a.lookback)-1] = nil
		a.lookback = a.lookback[:a.maxLookback]
	}
	a.current = nil
	return closed
}
