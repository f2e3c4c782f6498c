package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"zenbot-go/internal/signal"
)

func openTestStore(t *testing.T) *TradeStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "trades.db"))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertIgnoresDuplicates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ticks := []signal.Tick{
		{TradeID: "1", Price: 100, Size: 1, Ts: time.UnixMilli(1000)},
		{TradeID: "2", Price: 101, Size: 2, Ts: time.UnixMilli(2000)},
	}
	n, err := s.Insert(ctx, "BTC-USDT", ticks)
	if err != nil || n != 2 {
		t.Fatalf("Insert = %d, %v", n, err)
	}
	n, err = s.Insert(ctx, "BTC-USDT", ticks)
	if err != nil || n != 0 {
		t.Fatalf("duplicate insert = %d, %v", n, err)
	}
	if c, _ := s.Count(ctx, "BTC-USDT"); c != 2 {
		t.Fatalf("expected 2 trades, got %d", c)
	}
	if c, _ := s.Count(ctx, "ETH-USDT"); c != 0 {
		t.Fatalf("expected other product empty, got %d", c)
	}
	first, last, err := s.Bounds(ctx, "BTC-USDT")
	if err != nil || first.UnixMilli() != 1000 || last.UnixMilli() != 2000 {
		t.Fatalf("unexpected bounds %s %s %v", first, last, err)
	}
}

func TestReplayBatchesInTimeOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	var ticks []signal.Tick
	// inserted newest first so ordering comes from the query
	for i := 9; i >= 0; i-- {
		ticks = append(ticks, signal.Tick{Price: float64(100 + i), Size: 1, Ts: time.UnixMilli(int64(i) * 1000)})
	}
	ticks = append(ticks, signal.Tick{TradeID: "same-ms", Price: 200, Size: 1, Ts: time.UnixMilli(5000)})
	if _, err := s.Insert(ctx, "BTC-USDT", ticks); err != nil {
		t.Fatalf("Insert error: %v", err)
	}

	var batches [][]signal.Tick
	err := s.Replay(ctx, "BTC-USDT", time.UnixMilli(2000), time.UnixMilli(8000), 3, func(b []signal.Tick) error {
		cp := append([]signal.Tick(nil), b...)
		batches = append(batches, cp)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay error: %v", err)
	}
	var got []signal.Tick
	for _, b := range batches {
		if len(b) > 3 {
			t.Fatalf("batch larger than requested: %d", len(b))
		}
		got = append(got, b...)
	}
	if len(got) != 7 {
		t.Fatalf("expected 7 trades in [2s, 8s), got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Ts.Before(got[i-1].Ts) {
			t.Fatalf("replay out of order at %d", i)
		}
	}
	if got[0].Symbol != "BTC-USDT" || got[0].Ts.UnixMilli() != 2000 {
		t.Fatalf("unexpected first trade %+v", got[0])
	}
}

func TestImportCSV(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	data := strings.NewReader("time_ms,price,size,trade_id,side\n1000,100.5,0.1,a,buy\n2000,101,0.2,b,sell\n3000,99,0.3\n")
	n, err := s.ImportCSV(ctx, data, "BTC-USDT", 2)
	if err != nil {
		t.Fatalf("ImportCSV error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows, got %d", n)
	}

	var got []signal.Tick
	_ = s.Replay(ctx, "BTC-USDT", time.Time{}, time.Time{}, 0, func(b []signal.Tick) error {
		got = append(got, b...)
		return nil
	})
	if len(got) != 3 || got[0].TradeID != "a" || got[0].Side != 1 || got[1].Side != -1 || got[2].Price != 99 {
		t.Fatalf("unexpected imported trades %+v", got)
	}

	if _, err := s.ImportCSV(ctx, strings.NewReader("1000,100,1\nbad,row,here\n"), "BTC-USDT", 0); err == nil {
		t.Fatalf("expected error for malformed row")
	}
}
