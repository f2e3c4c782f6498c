package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"zenbot-go/internal/clock"
	"zenbot-go/internal/exchange"
	"zenbot-go/internal/signal"
)

func TestSimBuySynthesizesOrder(t *testing.T) {
	e := simEngine(t, Options{BuyPct: 50, CurrencyCapital: 1000}, simSetup{})
	feed(t, e, tick(0, 100, 1))

	wo, err := e.ExecuteSignal(context.Background(), signal.Buy, SignalOptions{})
	if err != nil {
		t.Fatalf("ExecuteSignal error: %v", err)
	}
	if wo == nil {
		t.Fatalf("expected a working order")
	}
	if !wo.Price.Equal(d("100")) || !wo.Size.Equal(d("5")) {
		t.Fatalf("expected 5 @ 100, got %s @ %s", wo.Size, wo.Price)
	}
	if !wo.OrigPrice.Equal(wo.Price) || !wo.OrigSize.Equal(wo.Size) || !wo.Remaining.Equal(wo.Size) {
		t.Fatalf("original fields not frozen at placement: %+v", wo)
	}
	if wo.ID == "" || wo.Kind != KindMaker || !wo.OrigTime.Equal(t0) {
		t.Fatalf("unexpected order metadata: %+v", wo)
	}
	if got := e.Order(signal.Buy); got == nil || got.ID != wo.ID {
		t.Fatalf("buy slot should hold the order")
	}
	if e.Ledger().Len() != 0 {
		t.Fatalf("placing must not fill")
	}
}

func TestSimFillAppliesSlippageAndFee(t *testing.T) {
	fees := exchange.Fees{MakerPct: d("0.1"), TakerPct: d("0.2")}
	e := simEngine(t, Options{BuyPct: 50, CurrencyCapital: 1000, AvgSlippagePct: 0.5}, simSetup{fees: fees})
	feed(t, e, tick(0, 100, 1))
	if _, err := e.ExecuteSignal(context.Background(), signal.Buy, SignalOptions{}); err != nil {
		t.Fatalf("ExecuteSignal error: %v", err)
	}

	feed(t, e, tick(10*time.Second, 100.5, 1))
	if e.Ledger().Len() != 0 {
		t.Fatalf("tick above the buy price must not fill")
	}
	feed(t, e, tick(20*time.Second, 99.5, 1))

	entry, ok := e.Ledger().Last()
	if !ok {
		t.Fatalf("expected a ledger entry")
	}
	if entry.Side != signal.Buy || !entry.Price.Equal(d("100.5")) || !entry.Size.Equal(d("5")) {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if !entry.Fee.Equal(d("0.005")) || entry.Kind != KindMaker {
		t.Fatalf("expected maker fee 0.005, got %s (%s)", entry.Fee, entry.Kind)
	}
	if !entry.Slippage.Equal(d("0.005")) {
		t.Fatalf("expected slippage 0.005, got %s", entry.Slippage)
	}
	if entry.ExecutionTime != 20*time.Second || !entry.Time.Equal(t0.Add(20*time.Second)) {
		t.Fatalf("unexpected timing: %s at %s", entry.ExecutionTime, entry.Time)
	}
	bal := e.Balance()
	if !bal.Asset.Equal(d("4.995")) || !bal.Currency.Equal(d("497.5")) {
		t.Fatalf("unexpected balance %+v", bal)
	}
	if e.Order(signal.Buy) != nil {
		t.Fatalf("fill must clear the slot")
	}
	if e.Ledger().Len() != 1 {
		t.Fatalf("expected exactly one entry, got %d", e.Ledger().Len())
	}
}

func TestSimSellFillChargesFeeInCurrency(t *testing.T) {
	fees := exchange.Fees{MakerPct: d("0.1"), TakerPct: d("0.2")}
	e := simEngine(t, Options{SellPct: 100, AssetCapital: 2}, simSetup{fees: fees})
	feed(t, e, tick(0, 100, 1))
	if _, err := e.ExecuteSignal(context.Background(), signal.Sell, SignalOptions{Taker: true}); err != nil {
		t.Fatalf("ExecuteSignal error: %v", err)
	}
	feed(t, e, tick(time.Second, 100, 1))

	entry, _ := e.Ledger().Last()
	if entry.Kind != KindTaker || !entry.Fee.Equal(d("0.4")) {
		t.Fatalf("expected taker fee 0.4, got %s (%s)", entry.Fee, entry.Kind)
	}
	bal := e.Balance()
	if !bal.Asset.IsZero() || !bal.Currency.Equal(d("199.6")) {
		t.Fatalf("unexpected balance %+v", bal)
	}
}

func TestSellStopFiresOnNextCandle(t *testing.T) {
	e := simEngine(t, Options{BuyPct: 50, SellPct: 100, CurrencyCapital: 1000, SellStopPct: 5}, simSetup{})
	feed(t, e, tick(0, 100, 1))
	if _, err := e.ExecuteSignal(context.Background(), signal.Buy, SignalOptions{}); err != nil {
		t.Fatalf("ExecuteSignal error: %v", err)
	}
	feed(t, e, tick(10*time.Second, 100, 1))
	if stop := e.Stops().SellStop; math.Abs(stop-95) > 1e-9 {
		t.Fatalf("expected sell stop armed at 95, got %.4f", stop)
	}

	feed(t, e, tick(20*time.Second, 94, 1))
	if e.Order(signal.Sell) != nil || e.Ledger().Len() != 1 {
		t.Fatalf("sell stop must wait for the candle boundary")
	}

	feed(t, e, tick(61*time.Second, 94, 1))
	if e.Ledger().Len() != 2 {
		t.Fatalf("expected the stop sell to be placed and filled, ledger has %d", e.Ledger().Len())
	}
	entry, _ := e.Ledger().Last()
	if entry.Side != signal.Sell || !entry.Price.Equal(d("94")) || !entry.Size.Equal(d("5")) {
		t.Fatalf("unexpected stop sell %+v", entry)
	}
	if stops := e.Stops(); stops.SellStop != 0 || stops.BuyStop != 0 {
		t.Fatalf("stops should be cleared after the stop fill: %+v", stops)
	}
}

func TestLossProtectionRefusesSell(t *testing.T) {
	e := simEngine(t, Options{BuyPct: 50, SellPct: 100, CurrencyCapital: 1000, MaxSellLossPct: 2}, simSetup{})
	feed(t, e, tick(0, 100, 1))
	if _, err := e.ExecuteSignal(context.Background(), signal.Buy, SignalOptions{}); err != nil {
		t.Fatalf("ExecuteSignal error: %v", err)
	}
	feed(t, e, tick(10*time.Second, 100, 1), tick(20*time.Second, 97, 1))
	before := e.Balance()

	wo, err := e.ExecuteSignal(context.Background(), signal.Sell, SignalOptions{})
	if wo != nil {
		t.Fatalf("expected no order, got %+v", wo)
	}
	if !IsRisk(err) {
		t.Fatalf("expected a risk error, got %v", err)
	}
	var ee *Error
	if !errors.As(err, &ee) || ee.Op != "loss protection" {
		t.Fatalf("expected loss protection, got %v", err)
	}
	if e.Order(signal.Sell) != nil || e.Ledger().Len() != 1 {
		t.Fatalf("risk refusal must not leave state behind")
	}
	if after := e.Balance(); !after.Asset.Equal(before.Asset) || !after.Currency.Equal(before.Currency) {
		t.Fatalf("balance changed: %+v -> %+v", before, after)
	}
}

func TestSlippageProtectionOnReorder(t *testing.T) {
	e := simEngine(t, Options{BuyPct: 50, CurrencyCapital: 1000, MaxSlippagePct: 5}, simSetup{})
	feed(t, e, tick(0, 100, 1))
	if _, err := e.ExecuteSignal(context.Background(), signal.Buy, SignalOptions{}); err != nil {
		t.Fatalf("ExecuteSignal error: %v", err)
	}
	feed(t, e, tick(10*time.Second, 106, 1))

	_, err := e.ExecuteSignal(context.Background(), signal.Buy, SignalOptions{Reorder: true})
	var ee *Error
	if !errors.As(err, &ee) || ee.Kind != KindRisk || ee.Op != "slippage protection" {
		t.Fatalf("expected slippage protection, got %v", err)
	}
	if e.Order(signal.Buy) != nil {
		t.Fatalf("aborted attempt must clear the slot")
	}
}

func TestExecuteSignalIsIdempotent(t *testing.T) {
	e := simEngine(t, Options{BuyPct: 50, CurrencyCapital: 1000}, simSetup{})
	feed(t, e, tick(0, 100, 1))
	first, err := e.ExecuteSignal(context.Background(), signal.Buy, SignalOptions{})
	if err != nil || first == nil {
		t.Fatalf("first ExecuteSignal: %v %v", first, err)
	}
	second, err := e.ExecuteSignal(context.Background(), signal.Buy, SignalOptions{Taker: true})
	if err != nil || second == nil || second.ID != first.ID {
		t.Fatalf("second call should return the existing order, got %+v %v", second, err)
	}
	if got := e.Order(signal.Buy); got.Kind != KindTaker || !got.Price.Equal(first.Price) {
		t.Fatalf("expected kind upgrade only, got %+v", got)
	}
}

func TestOppositeSignalClearsSlot(t *testing.T) {
	e := simEngine(t, Options{BuyPct: 50, SellPct: 100, CurrencyCapital: 1000}, simSetup{})
	feed(t, e, tick(0, 100, 1))
	if _, err := e.ExecuteSignal(context.Background(), signal.Buy, SignalOptions{}); err != nil {
		t.Fatalf("ExecuteSignal error: %v", err)
	}
	wo, err := e.ExecuteSignal(context.Background(), signal.Sell, SignalOptions{})
	if err != nil || wo != nil {
		t.Fatalf("sell with no asset should abort quietly, got %+v %v", wo, err)
	}
	if e.Order(signal.Buy) != nil || e.Order(signal.Sell) != nil {
		t.Fatalf("both slots should be empty")
	}
}

func TestProductLimits(t *testing.T) {
	product := exchange.Product{ID: "BTC-USD", Increment: d("0.01"), MinNotional: d("600")}
	e := simEngine(t, Options{BuyPct: 50, CurrencyCapital: 1000}, simSetup{product: product})
	feed(t, e, tick(0, 100, 1))
	wo, err := e.ExecuteSignal(context.Background(), signal.Buy, SignalOptions{})
	if err != nil || wo != nil || e.Order(signal.Buy) != nil {
		t.Fatalf("order below the minimum total should abort without error, got %+v %v", wo, err)
	}

	product = exchange.Product{ID: "BTC-USD", Increment: d("0.01"), MaxSize: d("2")}
	e = simEngine(t, Options{BuyPct: 50, CurrencyCapital: 1000}, simSetup{product: product})
	feed(t, e, tick(0, 100, 1))
	wo, err = e.ExecuteSignal(context.Background(), signal.Buy, SignalOptions{})
	if err != nil || wo == nil || !wo.Size.Equal(d("2")) {
		t.Fatalf("expected size clamped to 2, got %+v %v", wo, err)
	}
}

func TestPriceMarkupRounding(t *testing.T) {
	e := simEngine(t, Options{BuyPct: 50, SellPct: 100, CurrencyCapital: 1000, AssetCapital: 1, MarkupPct: 1}, simSetup{})
	feed(t, e, tick(0, 100.37, 1))
	q := exchange.Quote{Bid: d("100.37"), Ask: d("100.37")}
	if got := e.markedPrice(signal.Buy, q); !got.Equal(d("99.36")) {
		t.Fatalf("buy price should floor to 99.36, got %s", got)
	}
	if got := e.markedPrice(signal.Sell, q); !got.Equal(d("101.38")) {
		t.Fatalf("sell price should ceil to 101.38, got %s", got)
	}
	wo, err := e.ExecuteSignal(context.Background(), signal.Buy, SignalOptions{})
	if err != nil {
		t.Fatalf("ExecuteSignal error: %v", err)
	}
	if !wo.Size.Equal(d("5.03220611")) {
		t.Fatalf("size should truncate to 8 places, got %s", wo.Size)
	}
}

func TestAdjustBidReprices(t *testing.T) {
	e := simEngine(t, Options{BuyPct: 50, CurrencyCapital: 1000, MarkupPct: 1, OrderAdjustTime: 5 * time.Second}, simSetup{})
	feed(t, e, tick(0, 100, 1))
	if _, err := e.ExecuteSignal(context.Background(), signal.Buy, SignalOptions{}); err != nil {
		t.Fatalf("ExecuteSignal error: %v", err)
	}
	feed(t, e, tick(2*time.Second, 101, 1))
	if got := e.Order(signal.Buy); !got.Price.Equal(d("99")) {
		t.Fatalf("order should not be re-priced before the adjust time, got %s", got.Price)
	}
	feed(t, e, tick(10*time.Second, 101, 1))
	got := e.Order(signal.Buy)
	if got == nil || !got.Price.Equal(d("99.99")) {
		t.Fatalf("expected re-price to 99.99, got %+v", got)
	}
	if !got.OrigPrice.Equal(d("99")) || !got.Time.Equal(t0.Add(10*time.Second)) || !got.OrigTime.Equal(t0) {
		t.Fatalf("re-price must keep the original fields: %+v", got)
	}
}

func TestSettlementRetryDroppedWhenSuperseded(t *testing.T) {
	clk := clock.NewManual(t0)
	e := simEngine(t, Options{CurrencyCapital: 1000, SellPct: 100}, simSetup{setters: []Option{WithClock(clk)}})
	feed(t, e, tick(0, 100, 1))

	wo, err := e.ExecuteSignal(context.Background(), signal.Buy, SignalOptions{Size: d("20")})
	if err != nil || wo != nil {
		t.Fatalf("short funds should defer, got %+v %v", wo, err)
	}
	if clk.Pending() != 1 {
		t.Fatalf("expected a scheduled retry, got %d timers", clk.Pending())
	}
	if _, err := e.ExecuteSignal(context.Background(), signal.Sell, SignalOptions{}); err != nil {
		t.Fatalf("sell error: %v", err)
	}
	if clk.Pending() != 0 {
		t.Fatalf("superseded retry should be cancelled")
	}
	feed(t, e, tick(10*time.Second, 100, 1))
	if e.Order(signal.Buy) != nil || e.Ledger().Len() != 0 {
		t.Fatalf("superseded retry must not place an order")
	}
}

func TestSizeFlooredToLotStep(t *testing.T) {
	product := exchange.Product{ID: "BTC-USD", Increment: d("0.01"), SizeIncrement: d("0.001")}
	e := simEngine(t, Options{BuyPct: 50, CurrencyCapital: 1000}, simSetup{product: product})
	feed(t, e, tick(0, 33, 1))
	wo, err := e.ExecuteSignal(context.Background(), signal.Buy, SignalOptions{})
	if err != nil || wo == nil {
		t.Fatalf("expected a working order, got %+v %v", wo, err)
	}
	if !wo.Size.Equal(d("15.151")) {
		t.Fatalf("buy size should floor to the lot step, got %s", wo.Size)
	}

	e = simEngine(t, Options{SellPct: 100, AssetCapital: 1.23456789}, simSetup{product: product})
	feed(t, e, tick(0, 33, 1))
	wo, err = e.ExecuteSignal(context.Background(), signal.Sell, SignalOptions{})
	if err != nil || wo == nil || !wo.Size.Equal(d("1.234")) {
		t.Fatalf("sell size should floor to the lot step, got %+v %v", wo, err)
	}
}
