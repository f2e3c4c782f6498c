package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"zenbot-go/internal/clock"
	"zenbot-go/internal/exchange"
	"zenbot-go/internal/signal"
	"zenbot-go/internal/strategy"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

// venue is an in-memory exchange that reserves funds on submit and releases them on
// cancel or fill.
type venue struct {
	mu       sync.Mutex
	clk      clock.Clock
	product  exchange.Product
	fees     exchange.Fees
	balance  exchange.Balance
	quote    exchange.Quote
	quoteErr error
	orders   map[string]*exchange.Order
	submits  []exchange.OrderRequest
	cancels  []string
	nextID   int

	// reject returns a reject reason for the nth submission (1-based), "" to accept.
	reject func(n int) string
	// fillWhen decides on each GetOrder whether an open order fills.
	fillWhen func(o *exchange.Order) bool
	// keepHolds leaves funds reserved after a cancel.
	keepHolds bool
}

func newVenue(clk clock.Clock) *venue {
	return &venue{
		clk: clk,
		product: exchange.Product{
			ID:        "BTC-USD",
			Asset:     "BTC",
			Currency:  "USD",
			Increment: d("0.01"),
		},
		balance: exchange.Balance{Currency: d("1000")},
		quote:   exchange.Quote{Bid: d("100"), Ask: d("100")},
		orders:  make(map[string]*exchange.Order),
	}
}

func (v *venue) Name() string { return "fake" }

func (v *venue) Product(_ context.Context, id string) (exchange.Product, error) {
	if id != v.product.ID {
		return exchange.Product{}, fmt.Errorf("unknown product %s", id)
	}
	return v.product, nil
}

func (v *venue) Fees() exchange.Fees { return v.fees }

func (v *venue) GetBalance(context.Context, string, string) (exchange.Balance, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balance, nil
}

func (v *venue) GetQuote(context.Context, string) (exchange.Quote, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.quote, v.quoteErr
}

func (v *venue) setQuote(bid, ask string) {
	v.mu.Lock()
	v.quote = exchange.Quote{Bid: d(bid), Ask: d(ask)}
	v.mu.Unlock()
}

func (v *venue) setBalance(b exchange.Balance) {
	v.mu.Lock()
	v.balance = b
	v.mu.Unlock()
}

func (v *venue) SubmitOrder(_ context.Context, req exchange.OrderRequest) (*exchange.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.submits = append(v.submits, req)
	v.nextID++
	o := &exchange.Order{
		ID:        fmt.Sprintf("o-%d", v.nextID),
		ProductID: req.ProductID,
		Side:      req.Side,
		Price:     req.Price,
		Size:      req.Size,
		Status:    exchange.StatusOpen,
		CreatedAt: v.clk.Now(),
	}
	if v.reject != nil {
		if reason := v.reject(len(v.submits)); reason != "" {
			o.Status = exchange.StatusRejected
			o.RejectReason = reason
			return o, nil
		}
	}
	v.hold(o, true)
	v.orders[o.ID] = o
	out := *o
	return &out, nil
}

func (v *venue) hold(o *exchange.Order, reserve bool) {
	amount := o.Size
	if o.Side == signal.Buy {
		amount = o.Price.Mul(o.Size)
	}
	if !reserve {
		amount = amount.Neg()
	}
	if o.Side == signal.Buy {
		v.balance.CurrencyHold = v.balance.CurrencyHold.Add(amount)
	} else {
		v.balance.AssetHold = v.balance.AssetHold.Add(amount)
	}
}

func (v *venue) GetOrder(_ context.Context, _ string, id string) (*exchange.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[id]
	if !ok {
		return nil, errors.New("order not found")
	}
	if o.Status == exchange.StatusOpen && v.fillWhen != nil && v.fillWhen(o) {
		v.hold(o, false)
		total := o.Price.Mul(o.Size)
		if o.Side == signal.Buy {
			v.balance.Currency = v.balance.Currency.Sub(total)
			v.balance.Asset = v.balance.Asset.Add(o.Size)
		} else {
			v.balance.Asset = v.balance.Asset.Sub(o.Size)
			v.balance.Currency = v.balance.Currency.Add(total)
		}
		o.Status = exchange.StatusDone
		o.FilledSize = o.Size
		o.DoneAt = v.clk.Now()
	}
	out := *o
	return &out, nil
}

func (v *venue) CancelOrder(_ context.Context, _ string, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancels = append(v.cancels, id)
	o, ok := v.orders[id]
	if !ok || o.Status != exchange.StatusOpen {
		return nil
	}
	o.Status = exchange.StatusCanceled
	if !v.keepHolds {
		v.hold(o, false)
	}
	return nil
}

func (v *venue) counts() (submits, cancels int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.submits), len(v.cancels)
}

func (v *venue) submitted(i int) exchange.OrderRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.submits[i]
}

type simSetup struct {
	product  exchange.Product
	fees     exchange.Fees
	strategy strategy.Strategy
	setters  []Option
}

func simEngine(t *testing.T, opts Options, setup simSetup) *Engine {
	t.Helper()
	if setup.product.ID == "" {
		setup.product = exchange.Product{ID: "BTC-USD", Increment: d("0.01")}
	}
	sim, err := exchange.NewSim(setup.product, setup.fees)
	if err != nil {
		t.Fatalf("NewSim error: %v", err)
	}
	opts.Mode = ModeSim
	opts.ProductID = setup.product.ID
	if opts.Period == 0 {
		opts.Period = time.Minute
	}
	if opts.OrderAdjustTime == 0 {
		opts.OrderAdjustTime = time.Hour
	}
	e, err := New(context.Background(), opts, sim, setup.strategy, zerolog.Nop(), setup.setters...)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func liveEngine(t *testing.T, opts Options) (*Engine, *venue, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(t0)
	v := newVenue(clk)
	opts.Mode = ModeLive
	opts.ProductID = "BTC-USD"
	if opts.OrderPollTime == 0 {
		opts.OrderPollTime = time.Second
	}
	if opts.OrderAdjustTime == 0 {
		opts.OrderAdjustTime = 24 * time.Hour
	}
	if opts.WaitForSettlement == 0 {
		opts.WaitForSettlement = time.Second
	}
	e, err := New(context.Background(), opts, v, nil, zerolog.Nop(), WithClock(clk))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(e.Close)
	return e, v, clk
}

func tick(at time.Duration, price, size float64) signal.Tick {
	return signal.Tick{Symbol: "BTC-USD", Price: price, Size: size, Ts: t0.Add(at)}
}

func feed(t *testing.T, e *Engine, ticks ...signal.Tick) {
	t.Helper()
	if err := e.Update(context.Background(), ticks, false); err != nil {
		t.Fatalf("Update error: %v", err)
	}
}

type result struct {
	order *WorkingOrder
	err   error
}

// execAsync runs ExecuteSignal on its own goroutine, as a live caller would.
func execAsync(e *Engine, side signal.Signal, opt SignalOptions) <-chan result {
	out := make(chan result, 1)
	go func() {
		wo, err := e.ExecuteSignal(context.Background(), side, opt)
		out <- result{wo, err}
	}()
	return out
}

// await advances the manual clock in small steps until done yields.
func await(t *testing.T, clk *clock.Manual, step time.Duration, done <-chan result) result {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case r := <-done:
			return r
		default:
		}
		clk.Advance(step)
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for signal result")
	return result{}
}

// eventually polls cond with real time.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}
