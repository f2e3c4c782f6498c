package strategy

import (
	"testing"

	"zenbot-go/internal/period"
	"zenbot-go/internal/signal"
)

func closes(values ...float64) []*period.Period {
	out := make([]*period.Period, len(values))
	for i, v := range values {
		out[len(values)-1-i] = &period.Period{Close: v, Volume: 10, Values: map[string]float64{}}
	}
	return out
}

func candle(close, volume float64) *period.Period {
	return &period.Period{Close: close, Volume: volume, Values: map[string]float64{}}
}

func TestTrendFollowerLongThenShort(t *testing.T) {
	strat := NewTrendFollower(3, 1, 0)
	lb := closes(100, 100, 100)

	if got := strat.OnPeriod(Input{Period: candle(102, 1), Lookback: lb}); got != signal.Buy {
		t.Fatalf("expected buy above band, got %s", got)
	}
	if got := strat.OnPeriod(Input{Period: candle(103, 1), Lookback: lb}); got != signal.None {
		t.Fatalf("expected no repeat buy, got %s", got)
	}
	if got := strat.OnPeriod(Input{Period: candle(97, 1), Lookback: lb}); got != signal.Sell {
		t.Fatalf("expected sell below band, got %s", got)
	}
}

func TestTrendFollowerInsideBand(t *testing.T) {
	strat := NewTrendFollower(3, 1, 0)
	cur := candle(100.5, 1)
	if got := strat.OnPeriod(Input{Period: cur, Lookback: closes(100, 100, 100)}); got != signal.None {
		t.Fatalf("expected no signal inside band, got %s", got)
	}
	if cols := strat.Report(Input{Period: cur}); len(cols) != 1 || cols[0] != "+0.50%" {
		t.Fatalf("unexpected report columns %v", cols)
	}
}

func TestTrendFollowerRespectsVolume(t *testing.T) {
	strat := NewTrendFollower(3, 1, 1000)
	if got := strat.OnPeriod(Input{Period: candle(105, 1), Lookback: closes(100, 100, 100)}); got != signal.None {
		t.Fatalf("expected no signal due to insufficient volume, got %s", got)
	}
}

func TestTrendFollowerNeedsHistory(t *testing.T) {
	strat := NewTrendFollower(5, 1, 0)
	if got := strat.OnPeriod(Input{Period: candle(200, 1), Lookback: closes(100)}); got != signal.None {
		t.Fatalf("expected no signal with short lookback, got %s", got)
	}
}

func TestRSIReversal(t *testing.T) {
	strat := NewRSI(3, 30, 70)
	falling := closes(10, 9, 8)
	if got := strat.OnPeriod(Input{Period: candle(7, 1), Lookback: falling}); got != signal.Buy {
		t.Fatalf("expected buy when oversold, got %s", got)
	}
	rising := closes(1, 2, 3)
	if got := strat.OnPeriod(Input{Period: candle(4, 1), Lookback: rising}); got != signal.Sell {
		t.Fatalf("expected sell when overbought, got %s", got)
	}
}

func TestBuild(t *testing.T) {
	for name, want := range map[string]string{"": "trend", "rsi": "rsi", "obi": "obi", "noop": "noop"} {
		s, err := Build(name, Params{})
		if err != nil {
			t.Fatalf("Build(%q) error: %v", name, err)
		}
		if s.Name() != want {
			t.Fatalf("Build(%q) = %s want %s", name, s.Name(), want)
		}
	}
	if _, err := Build("macd_magic", Params{}); err == nil {
		t.Fatalf("expected error for unknown strategy")
	}
	if _, ok := interface{}(NewRSI(0, 0, 0)).(Reporter); !ok {
		t.Fatalf("rsi should implement Reporter")
	}
}
