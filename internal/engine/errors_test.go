package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"zenbot-go/internal/exchange"
	"zenbot-go/internal/signal"
)

func TestErrorFormatting(t *testing.T) {
	base := errors.New("connection reset")
	err := exchangeError(signal.Sell, "error placing order", base)
	if got := err.Error(); got != "could not execute sell: error placing order: connection reset" {
		t.Fatalf("unexpected message %q", got)
	}
	if !errors.Is(err, base) || !IsExchange(err) {
		t.Fatalf("exchange error should unwrap to its cause")
	}
	risky := riskError("loss protection", "sell loss of %s%%", "3.00")
	if !IsRisk(risky) || risky.Error() != "loss protection: sell loss of 3.00%" {
		t.Fatalf("unexpected risk error %q", risky.Error())
	}
	if kindOf(base) != 0 || Kind(0).String() != "unknown" || KindPostOnly.String() != "post_only" {
		t.Fatalf("unexpected kind mapping")
	}
}

func bufferedEngine(t *testing.T, debug bool) (*Engine, *bytes.Buffer) {
	t.Helper()
	product := exchange.Product{ID: "BTC-USD", Increment: d("0.01")}
	sim, err := exchange.NewSim(product, exchange.Fees{})
	if err != nil {
		t.Fatalf("NewSim error: %v", err)
	}
	var buf bytes.Buffer
	e, err := New(context.Background(), Options{ProductID: "BTC-USD", CurrencyCapital: 1000, Debug: debug}, sim, nil, zerolog.New(&buf))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(e.Close)
	return e, &buf
}

func TestLogErrorRisk(t *testing.T) {
	e, buf := bufferedEngine(t, true)
	e.LogError(riskError("slippage protection", "refusing to buy at 101"))
	line := buf.String()
	if !strings.Contains(line, `"level":"warn"`) || !strings.Contains(line, "slippage protection") {
		t.Fatalf("risk errors should be a terse warning: %s", line)
	}
	if strings.Contains(line, "snapshot") {
		t.Fatalf("risk errors must not dump state: %s", line)
	}
	if e.Snapshot().Errors != 0 {
		t.Fatalf("risk refusals are not counted as errors")
	}
}

func TestLogErrorSnapshot(t *testing.T) {
	e, buf := bufferedEngine(t, true)
	feed(t, e, tick(0, 100, 1))
	if _, err := e.ExecuteSignal(context.Background(), signal.Buy, SignalOptions{Size: d("1")}); err != nil {
		t.Fatalf("ExecuteSignal error: %v", err)
	}
	buf.Reset()

	order := &exchange.Order{ID: "x-1", Status: exchange.StatusRejected, RejectReason: "price filter"}
	e.LogError(&Error{Kind: KindExchange, Op: "order rejected", Order: order})

	var rec struct {
		Level    string   `json:"level"`
		OrderID  string   `json:"order_id"`
		Reason   string   `json:"reason"`
		Snapshot Snapshot `json:"snapshot"`
	}
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v: %s", err, buf.String())
	}
	if rec.Level != "error" || rec.OrderID != "x-1" || rec.Reason != "price filter" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Snapshot.Mode != ModeSim || rec.Snapshot.PeriodClose != 100 || rec.Snapshot.Errors != 1 {
		t.Fatalf("unexpected snapshot %+v", rec.Snapshot)
	}
	if _, ok := rec.Snapshot.Orders[signal.Buy]; !ok {
		t.Fatalf("snapshot should include the working buy order")
	}
	if strings.Contains(buf.String(), "lookback") {
		t.Fatalf("snapshot must not carry the lookback")
	}
}

func TestLogErrorWithoutDebug(t *testing.T) {
	e, buf := bufferedEngine(t, false)
	e.LogError(errors.New("boom"))
	if !strings.Contains(buf.String(), `"level":"error"`) || strings.Contains(buf.String(), "snapshot") {
		t.Fatalf("unexpected log line: %s", buf.String())
	}
}
