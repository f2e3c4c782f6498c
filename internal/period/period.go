// Package period folds trade ticks into fixed-size OHLCV candles.
package period

import (
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"zenbot-go/internal/signal"
)

// Period is one candle. Values holds indicator and strategy scratch fields.
type Period struct {
	ID        int64
	Size      time.Duration
	Time      time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
	Values    map[string]float64
}

// ParseSize accepts Go durations plus a "d" day suffix ("2m", "1h", "1d").
func ParseSize(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if strings.HasSuffix(v, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(v, "d"))
		if err != nil || days <= 0 {
			return 0, fmt.Errorf("invalid period %q", v)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid period %q: %w", v, err)
	}
	if d < time.Second {
		return 0, fmt.Errorf("period %q shorter than one second", v)
	}
	return d, nil
}

// BucketID is the index of the window of the given size containing t.
func BucketID(t time.Time, size time.Duration) int64 {
	ms := size.Milliseconds()
	if ms <= 0 {
		return 0
	}
	ts := t.UnixMilli()
	id := ts / ms
	if ts < 0 && ts%ms != 0 {
		id--
	}
	return id
}

// New opens a candle from tk: every OHLC field equals the tick price and volume starts at zero.
// The tick itself is folded in by Absorb.
func New(tk signal.Tick, size time.Duration) *Period {
	id := BucketID(tk.Ts, size)
	return &Period{
		ID:     id,
		Size:   size,
		Time:   time.UnixMilli(id * size.Milliseconds()).UTC(),
		Open:   tk.Price,
		High:   tk.Price,
		Low:    tk.Price,
		Close:  tk.Price,
		Values: make(map[string]float64),
	}
}

// Absorb folds a trade into the candle.
func (p *Period) Absorb(tk signal.Tick) {
	if tk.Price > p.High {
		p.High = tk.Price
	}
	if tk.Price < p.Low {
		p.Low = tk.Price
	}
	p.Close = tk.Price
	p.Volume += tk.Size
	p.CloseTime = tk.Ts
}

// End is the exclusive end of the candle window.
func (p *Period) End() time.Time { return p.Time.Add(p.Size) }

// Clone copies p with its own Values map.
func (p *Period) Clone() Period {
	out := *p
	out.Values = maps.Clone(p.Values)
	return out
}

func (p *Period) Get(key string) (float64, bool) {
	v, ok := p.Values[key]
	return v, ok
}

func (p *Period) Set(key string, v float64) {
	if p.Values == nil {
		p.Values = make(map[string]float64)
	}
	p.Values[key] = v
}
