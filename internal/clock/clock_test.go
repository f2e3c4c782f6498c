package clock

import (
	"testing"
	"time"
)

func TestManualFiresInDueOrder(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := NewManual(start)

	var order []string
	clk.AfterFunc(3*time.Second, func() { order = append(order, "c") })
	clk.AfterFunc(time.Second, func() { order = append(order, "a") })
	clk.AfterFunc(2*time.Second, func() { order = append(order, "b") })

	clk.Advance(2 * time.Second)
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("unexpected fire order after 2s: %v", order)
	}
	if clk.Pending() != 1 {
		t.Fatalf("expected one pending timer, got %d", clk.Pending())
	}
	clk.Advance(time.Second)
	if len(order) != 3 || order[2] != "c" {
		t.Fatalf("expected c to fire, got %v", order)
	}
	if !clk.Now().Equal(start.Add(3 * time.Second)) {
		t.Fatalf("unexpected now %s", clk.Now())
	}
}

func TestManualStopCancels(t *testing.T) {
	clk := NewManual(time.Unix(0, 0))
	fired := false
	timer := clk.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatalf("expected Stop to report true on pending timer")
	}
	clk.Advance(time.Minute)
	if fired {
		t.Fatalf("stopped timer fired")
	}
	if timer.Stop() {
		t.Fatalf("second Stop should report false")
	}
}

func TestManualCallbackSeesDueTime(t *testing.T) {
	start := time.Unix(100, 0)
	clk := NewManual(start)
	var seen time.Time
	var chained bool
	clk.AfterFunc(5*time.Second, func() {
		seen = clk.Now()
		clk.AfterFunc(time.Second, func() { chained = true })
	})
	clk.Set(start.Add(10 * time.Second))
	if !seen.Equal(start.Add(5 * time.Second)) {
		t.Fatalf("callback saw %s, want due time", seen)
	}
	if !chained {
		t.Fatalf("timer scheduled by a callback within the window should fire")
	}
}

func TestManualIgnoresPast(t *testing.T) {
	start := time.Unix(100, 0)
	clk := NewManual(start)
	clk.Set(start.Add(-time.Second))
	if !clk.Now().Equal(start) {
		t.Fatalf("clock moved backwards")
	}
}
