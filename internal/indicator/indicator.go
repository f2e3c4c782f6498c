// Package indicator computes technical indicators over a candle and its lookback.
// Each function writes its result into the current candle's Values under key and
// leaves the key unset when there is not enough history.
package indicator

import (
	"math"

	"zenbot-go/internal/period"
)

// Source names the candle field read by an indicator. Anything other than the
// OHLCV names is looked up in Values.
const (
	SourceOpen   = "open"
	SourceHigh   = "high"
	SourceLow    = "low"
	SourceClose  = "close"
	SourceVolume = "volume"
)

func value(p *period.Period, source string) (float64, bool) {
	switch source {
	case "", SourceClose:
		return p.Close, true
	case SourceOpen:
		return p.Open, true
	case SourceHigh:
		return p.High, true
	case SourceLow:
		return p.Low, true
	case SourceVolume:
		return p.Volume, true
	}
	return p.Get(source)
}

// SMA averages source over the newest length closed candles.
func SMA(cur *period.Period, lookback []*period.Period, key string, length int, source string) (float64, bool) {
	if cur == nil || length <= 0 || len(lookback) < length {
		return 0, false
	}
	var sum float64
	for _, p := range lookback[:length] {
		v, ok := value(p, source)
		if !ok {
			return 0, false
		}
		sum += v
	}
	avg := sum / float64(length)
	cur.Set(key, avg)
	return avg, true
}

// EMA is seeded with the SMA of the lookback and then carried candle to candle.
func EMA(cur *period.Period, lookback []*period.Period, key string, length int, source string) (float64, bool) {
	if cur == nil || length <= 0 || len(lookback) < length {
		return 0, false
	}
	v, ok := value(cur, source)
	if !ok {
		return 0, false
	}
	prev, ok := lookback[0].Get(key)
	if !ok {
		var sum float64
		for _, p := range lookback[:length] {
			pv, ok := value(p, source)
			if !ok {
				return 0, false
			}
			sum += pv
		}
		prev = sum / float64(length)
	}
	k := 2 / (float64(length) + 1)
	ema := (v-prev)*k + prev
	cur.Set(key, ema)
	return ema, true
}

// RSI uses Wilder smoothing. The first value is seeded from the closes of the
// lookback; later candles carry key_avg_gain and key_avg_loss forward.
func RSI(cur *period.Period, lookback []*period.Period, key string, length int) (float64, bool) {
	if cur == nil || length <= 0 || len(lookback) < length {
		return 0, false
	}
	gainKey, lossKey := key+"_avg_gain", key+"_avg_loss"
	prevGain, hasGain := lookback[0].Get(gainKey)
	prevLoss, hasLoss := lookback[0].Get(lossKey)

	var avgGain, avgLoss float64
	if !hasGain || !hasLoss {
		var gainSum, lossSum float64
		// oldest to newest so a rising close counts as a gain
		for i := length - 1; i > 0; i-- {
			delta := lookback[i-1].Close - lookback[i].Close
			if delta > 0 {
				gainSum += delta
			} else {
				lossSum -= delta
			}
		}
		avgGain = gainSum / float64(length)
		avgLoss = lossSum / float64(length)
	} else {
		delta := cur.Close - lookback[0].Close
		n := float64(length)
		avgGain = (prevGain*(n-1) + math.Max(delta, 0)) / n
		avgLoss = (prevLoss*(n-1) + math.Max(-delta, 0)) / n
	}
	cur.Set(gainKey, avgGain)
	cur.Set(lossKey, avgLoss)

	var rsi float64
	switch {
	case avgLoss == 0 && avgGain == 0:
		rsi = 50
	case avgLoss == 0:
		rsi = 100
	default:
		rs := avgGain / avgLoss
		rsi = math.Round(100 - 100/(1+rs))
	}
	cur.Set(key, rsi)
	return rsi, true
}

// StdDev is the population standard deviation of source over the current
// candle and up to length lookback candles. Only lookback samples contribute to
// the squared deviations; the current candle shifts the mean.
func StdDev(cur *period.Period, lookback []*period.Period, key string, length int, source string) (float64, bool) {
	if cur == nil {
		return 0, false
	}
	v, ok := value(cur, source)
	if !ok {
		return 0, false
	}
	sum := v
	samples := make([]float64, 0, length)
	for i := 0; i < length && i < len(lookback); i++ {
		lv, ok := value(lookback[i], source)
		if !ok {
			break
		}
		sum += lv
		samples = append(samples, lv)
	}
	n := float64(len(samples) + 1)
	avg := sum / n
	var varSum float64
	for _, s := range samples {
		varSum += (s - avg) * (s - avg)
	}
	sd := math.Sqrt(varSum / n)
	cur.Set(key, sd)
	return sd, true
}
