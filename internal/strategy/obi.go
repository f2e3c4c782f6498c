package strategy

import (
	"math"
	"time"

	"zenbot-go/internal/signal"
)

// OBIMomentum models a simple trade imbalance plus price momentum heuristic over a sliding window.
// Unlike the candle strategies it may signal between candle closes.
type OBIMomentum struct {
	threshold float64
	window    time.Duration
	ticks     []signal.Tick
	last      signal.Signal
}

// Name returns the identifier for the strategy implementation.
func (s *OBIMomentum) Name() string { return "obi" }

// NewOBIMomentum builds an OBIMomentum instance using threshold and look-back window seconds.
func NewOBIMomentum(threshold float64, windowSec int) *OBIMomentum {
	if threshold <= 0 {
		threshold = 0.25
	}
	if windowSec <= 0 {
		windowSec = 60
	}
	return &OBIMomentum{
		threshold: threshold,
		window:    time.Duration(windowSec) * time.Second,
	}
}

// OnTick combines order flow imbalance and price momentum into a directional signal.
func (s *OBIMomentum) OnTick(in Input) signal.Signal {
	t := in.Tick
	if t.Price <= 0 {
		return signal.None
	}
	s.append(t)

	obi, momentum := s.computeFeatures(t)
	score := 0.6*obi + 0.4*momentum
	if in.Period != nil {
		in.Period.Set("obi_score", score)
	}
	if math.Abs(score) < s.threshold {
		return signal.None
	}
	want := signal.Buy
	if score < 0 {
		want = signal.Sell
	}
	if want == s.last {
		return signal.None
	}
	s.last = want
	return want
}

func (s *OBIMomentum) OnPeriod(Input) signal.Signal { return signal.None }

func (s *OBIMomentum) append(t signal.Tick) {
	s.ticks = append(s.ticks, t)
	cutoff := t.Ts.Add(-s.window)
	idx := 0
	for i, tk := range s.ticks {
		if tk.Ts.After(cutoff) {
			idx = i
			break
		}
		idx = i + 1
	}
	if idx > 0 && idx <= len(s.ticks) {
		s.ticks = s.ticks[idx:]
	}
}

func (s *OBIMomentum) computeFeatures(latest signal.Tick) (float64, float64) {
	if len(s.ticks) == 0 {
		return 0, 0
	}

	var buyVol, sellVol float64
	for _, tk := range s.ticks {
		vol := math.Abs(tk.Size)
		if tk.Side >= 0 {
			buyVol += vol
		} else {
			sellVol += vol
		}
	}

	total := buyVol + sellVol
	var obi float64
	if total > 0 {
		obi = clamp((buyVol-sellVol)/total, -1, 1)
	}

	anchor := s.ticks[0].Price
	momentum := 0.0
	if anchor > 0 {
		raw := (latest.Price - anchor) / anchor
		momentum = clamp(math.Tanh(raw*3), -1, 1)
	}

	return obi, momentum
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
