package exchange

import (
	"context"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"zenbot-go/internal/metrics"
	"zenbot-go/internal/signal"
)

const (
	// ProviderStub emits a seeded synthetic random walk (useful for tests/offline work).
	ProviderStub = "stub"
	// ProviderBinance streams live trades from Binance public websockets.
	ProviderBinance = "binance"
)

const (
	defaultStubInterval = 500 * time.Millisecond
	defaultBinanceWSURL = "wss://stream.binance.com:9443/stream"
)

// Feed represents a pluggable trade stream implementation.
type Feed struct {
	provider     string
	symbols      []string
	log          zerolog.Logger
	stubInterval time.Duration
	stubPrice    float64
	stubSeed     int64
	binanceURL   string
	mu           sync.RWMutex
}

// Option configures Feed construction parameters.
type Option func(*Feed)

// WithStubInterval overrides the synthetic tick cadence.
func WithStubInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.stubInterval = d
		}
	}
}

// WithStubWalk sets the synthetic walk's starting price and seed.
func WithStubWalk(start float64, seed int64) Option {
	return func(f *Feed) {
		if start > 0 {
			f.stubPrice = start
		}
		f.stubSeed = seed
	}
}

// WithBinanceURL points the websocket consumer at another combined-stream endpoint.
func WithBinanceURL(url string) Option {
	return func(f *Feed) {
		if url != "" {
			f.binanceURL = strings.TrimSuffix(url, "/")
		}
	}
}

// NewFeed constructs a feed backed by the requested provider.
func NewFeed(provider string, symbols []string, log zerolog.Logger, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderStub
	}
	f := &Feed{
		provider:     strings.ToLower(provider),
		log:          log,
		stubInterval: defaultStubInterval,
		stubPrice:    100,
		stubSeed:     1,
		binanceURL:   defaultBinanceWSURL,
	}
	f.SetSymbols(symbols)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetSymbols replaces the tracked symbol list (deduplicated, sorted for determinism).
func (f *Feed) SetSymbols(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	unique := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.TrimSpace(sym)
		if sym == "" {
			continue
		}
		unique[sym] = struct{}{}
	}
	f.symbols = f.symbols[:0]
	for sym := range unique {
		f.symbols = append(f.symbols, sym)
	}
	sort.Strings(f.symbols)
}

func (f *Feed) snapshotSymbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}

// Run pushes ticks onto the provided channel until the context is canceled.
func (f *Feed) Run(ctx context.Context, out chan<- signal.Tick) error {
	switch f.provider {
	case ProviderBinance:
		return f.runBinance(ctx, out)
	default:
		return f.runStub(ctx, out)
	}
}

func (f *Feed) runStub(ctx context.Context, out chan<- signal.Tick) error {
	ticker := time.NewTicker(f.stubInterval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(f.stubSeed))
	px := f.stubPrice
	var seq int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts := <-ticker.C:
			step := (rng.Float64() - 0.5) * px * 0.002
			side := 1
			if step < 0 {
				side = -1
			}
			px += step
			seq++
			for _, s := range f.snapshotSymbols() {
				tick := signal.Tick{
					Symbol:  s,
					TradeID: strconv.FormatInt(seq, 10),
					Price:   px,
					Size:    0.01 + rng.Float64(),
					Side:    side,
					Ts:      ts,
				}
				select {
				case out <- tick:
					metrics.FeedTicksTotal.WithLabelValues(s, ProviderStub).Inc()
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}
