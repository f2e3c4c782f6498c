// Package strategy contains the pluggable signal generators driven by the engine.
package strategy

import (
	"fmt"
	"strings"

	"zenbot-go/internal/period"
	sig "zenbot-go/internal/signal"
)

// Input is the read-only view a strategy receives. Period is the open candle
// and Lookback holds closed candles, newest first. Strategies may write
// scratch values into Period.Values.
type Input struct {
	Tick     sig.Tick
	Period   *period.Period
	Lookback []*period.Period
}

// Strategy defines behaviour shared by strategy implementations used by the bot.
type Strategy interface {
	Name() string
	// OnTick runs after every trade is folded into the open candle.
	OnTick(in Input) sig.Signal
	// OnPeriod runs once when the open candle closes, before it is archived.
	OnPeriod(in Input) sig.Signal
}

// Reporter is implemented by strategies that contribute report columns.
type Reporter interface {
	Report(in Input) []string
}

// Params expresses tunable knobs required by strategy constructors. Zero values select defaults.
type Params struct {
	TrendPeriods      int     `yaml:"trend_periods" json:"trend_periods,omitempty"`
	TrendThresholdPct float64 `yaml:"trend_threshold_pct" json:"trend_threshold_pct,omitempty"`
	TrendMinVolume    float64 `yaml:"trend_min_volume" json:"trend_min_volume,omitempty"`
	RSIPeriods        int     `yaml:"rsi_periods" json:"rsi_periods,omitempty"`
	Oversold          float64 `yaml:"oversold_rsi" json:"oversold_rsi,omitempty"`
	Overbought        float64 `yaml:"overbought_rsi" json:"overbought_rsi,omitempty"`
	OBIThreshold      float64 `yaml:"obi_threshold" json:"obi_threshold,omitempty"`
	OBIWindowSecs     int     `yaml:"obi_window_secs" json:"obi_window_secs,omitempty"`
}

// Build returns a strategy implementation matching the configured name.
func Build(name string, params Params) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "trend", "trend_sma", "trend_follower":
		return NewTrendFollower(params.TrendPeriods, params.TrendThresholdPct, params.TrendMinVolume), nil
	case "rsi":
		return NewRSI(params.RSIPeriods, params.Oversold, params.Overbought), nil
	case "obi", "obi_momentum":
		return NewOBIMomentum(params.OBIThreshold, params.OBIWindowSecs), nil
	case "noop", "none", "manual":
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

// Noop never emits a signal. Used for manual trading and tests.
type Noop struct{}

func (Noop) Name() string { return "noop" }

func (Noop) OnTick(Input) sig.Signal { return sig.None }

func (Noop) OnPeriod(Input) sig.Signal { return sig.None }
