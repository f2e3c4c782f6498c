// Package engine turns ticks into candles, asks the strategy for signals and drives
// orders through pricing, risk checks, placement, polling and fills.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"zenbot-go/internal/clock"
	"zenbot-go/internal/exchange"
	"zenbot-go/internal/ledger"
	"zenbot-go/internal/period"
	"zenbot-go/internal/risk"
	"zenbot-go/internal/signal"
	"zenbot-go/internal/strategy"
)

// Mode selects where orders go and where balances come from.
type Mode string

const (
	ModeSim   Mode = "sim"
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// ParseMode validates a mode name.
func ParseMode(v string) (Mode, error) {
	switch Mode(v) {
	case ModeSim, ModePaper, ModeLive:
		return Mode(v), nil
	}
	return "", fmt.Errorf("unknown mode %q", v)
}

// Options are the engine knobs. Percentages are whole percents; zero disables optional checks.
type Options struct {
	Mode                  Mode          `json:"mode"`
	ProductID             string        `json:"product_id"`
	Period                time.Duration `json:"period"`
	MaxLookback           int           `json:"max_lookback,omitempty"`
	BuyPct                float64       `json:"buy_pct"`
	SellPct               float64       `json:"sell_pct"`
	MarkupPct             float64       `json:"markup_pct"`
	OrderType             string        `json:"order_type"`
	OrderAdjustTime       time.Duration `json:"order_adjust_time"`
	OrderPollTime         time.Duration `json:"order_poll_time"`
	WaitForSettlement     time.Duration `json:"wait_for_settlement"`
	SettlementMaxAttempts int           `json:"settlement_max_attempts,omitempty"`
	MaxSlippagePct        float64       `json:"max_slippage_pct"`
	MaxSellLossPct        float64       `json:"max_sell_loss_pct"`
	SellStopPct           float64       `json:"sell_stop_pct"`
	BuyStopPct            float64       `json:"buy_stop_pct"`
	ProfitStopEnablePct   float64       `json:"profit_stop_enable_pct"`
	ProfitStopPct         float64       `json:"profit_stop_pct"`
	AvgSlippagePct        float64       `json:"avg_slippage_pct"`
	AssetCapital          float64       `json:"asset_capital"`
	CurrencyCapital       float64       `json:"currency_capital"`
	Manual                bool          `json:"manual,omitempty"`
	Start                 time.Time     `json:"start,omitempty"`
	Debug                 bool          `json:"-"`
}

func (o *Options) defaults() {
	if o.Mode == "" {
		o.Mode = ModeSim
	}
	if o.Period <= 0 {
		o.Period = 2 * time.Minute
	}
	if o.OrderType == "" {
		o.OrderType = KindMaker
	}
	if o.OrderAdjustTime <= 0 {
		o.OrderAdjustTime = 5 * time.Second
	}
	if o.OrderPollTime <= 0 {
		o.OrderPollTime = 5 * time.Second
	}
	if o.WaitForSettlement <= 0 {
		o.WaitForSettlement = 5 * time.Second
	}
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock replaces the time source. Sim mode defaults to a manual clock driven by tick time.
func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithLedger records fills into an existing ledger.
func WithLedger(l *ledger.Ledger) Option { return func(e *Engine) { e.ledger = l } }

// Engine owns all trading state for one product. Every exported method is safe for
// concurrent use.
type Engine struct {
	mu sync.Mutex

	opts     Options
	ex       exchange.Exchange
	strategy strategy.Strategy
	log      zerolog.Logger
	clock    clock.Clock
	product  exchange.Product
	fees     exchange.Fees

	agg    *period.Aggregator
	risk   *risk.Controller
	ledger *ledger.Ledger

	onReport func(Row)

	balance  exchange.Balance
	quote    exchange.Quote
	orders   map[signal.Signal]*WorkingOrder
	pursuits map[signal.Signal]*pursuit
	retries  map[signal.Signal]clock.Timer
	apiOrder *exchange.Order

	pending    signal.Signal
	lastSignal signal.Signal
	action     string

	lastBuyPrice  decimal.Decimal
	lastSellPrice decimal.Decimal

	startSet     bool
	startCapital float64
	startPrice   float64

	dayCount  int
	lastDay   int64
	seenDay   bool
	inPreroll bool
	errors    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New resolves the product on ex and builds an engine. strat may be nil for manual trading.
func New(ctx context.Context, opts Options, ex exchange.Exchange, strat strategy.Strategy, log zerolog.Logger, setters ...Option) (*Engine, error) {
	if ex == nil {
		return nil, fmt.Errorf("engine: nil exchange")
	}
	opts.defaults()
	if _, err := ParseMode(string(opts.Mode)); err != nil {
		return nil, err
	}
	if opts.OrderType != KindMaker && opts.OrderType != KindTaker {
		return nil, fmt.Errorf("engine: order type must be maker or taker, got %q", opts.OrderType)
	}
	product, err := ex.Product(ctx, opts.ProductID)
	if err != nil {
		return nil, fmt.Errorf("engine: could not find product %q: %w", opts.ProductID, err)
	}
	if strat == nil {
		strat = strategy.Noop{}
	}

	e := &Engine{
		opts:     opts,
		ex:       ex,
		strategy: strat,
		log:      log.With().Str("component", "engine").Str("product", product.ID).Str("mode", string(opts.Mode)).Logger(),
		product:  product,
		fees:     ex.Fees(),
		agg:      period.NewAggregator(opts.Period, opts.MaxLookback),
		risk: risk.NewController(risk.Limits{
			SellStopPct:         opts.SellStopPct,
			BuyStopPct:          opts.BuyStopPct,
			ProfitStopEnablePct: opts.ProfitStopEnablePct,
			ProfitStopPct:       opts.ProfitStopPct,
		}),
		orders:   make(map[signal.Signal]*WorkingOrder, 2),
		pursuits: make(map[signal.Signal]*pursuit, 2),
		retries:  make(map[signal.Signal]clock.Timer, 2),
		dayCount: 1,
	}
	for _, set := range setters {
		set(e)
	}
	if e.clock == nil {
		if opts.Mode == ModeSim {
			e.clock = clock.NewManual(time.Time{})
		} else {
			e.clock = clock.Real{}
		}
	}
	if e.ledger == nil {
		e.ledger = ledger.NewLedger(64)
	}
	if opts.Mode != ModeLive {
		e.balance = exchange.Balance{
			Asset:    decimal.NewFromFloat(opts.AssetCapital),
			Currency: decimal.NewFromFloat(opts.CurrencyCapital),
		}
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

// Close stops pending settlement retries, cancels background pursuits and waits for them.
func (e *Engine) Close() {
	e.mu.Lock()
	for side, t := range e.retries {
		t.Stop()
		delete(e.retries, side)
	}
	e.mu.Unlock()
	e.cancel()
	e.wg.Wait()
}

// Wait blocks until background pursuits started by Update have returned.
func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) Options() Options { return e.opts }

func (e *Engine) Product() exchange.Product { return e.product }

func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

func (e *Engine) Balance() exchange.Balance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance
}

func (e *Engine) Stops() risk.Stops {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.risk.Stops()
}

// Order returns a copy of the working order for side, nil when the slot is empty.
func (e *Engine) Order(side signal.Signal) *WorkingOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orders[side].copy()
}

// Period returns a copy of the open candle.
func (e *Engine) Period() *period.Period {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur := e.agg.Current()
	if cur == nil {
		return nil
	}
	out := cur.Clone()
	return &out
}

// Lookback returns the closed candles, newest first.
func (e *Engine) Lookback() []period.Period {
	e.mu.Lock()
	defer e.mu.Unlock()
	src := e.agg.Lookback()
	out := make([]period.Period, len(src))
	for i, p := range src {
		out[i] = p.Clone()
	}
	return out
}

// suspend releases the lock around fn. Callers re-check state afterwards.
func (e *Engine) suspend(fn func() error) error {
	e.mu.Unlock()
	defer e.mu.Lock()
	return fn()
}

// sleep releases the lock for d on the engine clock or until ctx ends.
func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	done := make(chan struct{})
	t := e.clock.AfterFunc(d, func() { close(done) })
	e.mu.Unlock()
	defer e.mu.Lock()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}

// dispatch runs fn inline in sim and on a tracked goroutine otherwise. fn takes the lock itself.
func (e *Engine) dispatch(fn func()) {
	if e.opts.Mode == ModeSim {
		fn()
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}
