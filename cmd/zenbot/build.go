package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"zenbot-go/internal/config"
	"zenbot-go/internal/engine"
	"zenbot-go/internal/exchange"
	"zenbot-go/internal/exchange/binance"
	"zenbot-go/internal/ledger"
	"zenbot-go/internal/period"
	"zenbot-go/internal/strategy"
)

func engineOptions(cfg *config.Config, mode engine.Mode) (engine.Options, error) {
	size, err := period.ParseSize(cfg.Engine.Period)
	if err != nil {
		return engine.Options{}, err
	}
	start, err := cfg.Engine.StartTime()
	if err != nil {
		return engine.Options{}, err
	}
	e := cfg.Engine
	return engine.Options{
		Mode:                  mode,
		ProductID:             cfg.Exchange.Product,
		Period:                size,
		MaxLookback:           e.MaxLookback,
		BuyPct:                e.BuyPct,
		SellPct:               e.SellPct,
		MarkupPct:             e.MarkupPct,
		OrderType:             e.OrderType,
		OrderAdjustTime:       e.OrderAdjustTime(),
		OrderPollTime:         e.OrderPollTime(),
		WaitForSettlement:     e.WaitForSettlement(),
		SettlementMaxAttempts: e.SettlementMaxAttempts,
		MaxSlippagePct:        e.MaxSlippagePct,
		MaxSellLossPct:        e.MaxSellLossPct,
		SellStopPct:           e.SellStopPct,
		BuyStopPct:            e.BuyStopPct,
		ProfitStopEnablePct:   e.ProfitStopEnablePct,
		ProfitStopPct:         e.ProfitStopPct,
		AvgSlippagePct:        e.AvgSlippagePct,
		AssetCapital:          cfg.Paper.AssetCapital,
		CurrencyCapital:       cfg.Paper.CurrencyCapital,
		Manual:                e.Manual,
		Start:                 start,
		Debug:                 cfg.App.Debug,
	}, nil
}

func buildStrategy(cfg *config.Config) (strategy.Strategy, error) {
	p := cfg.Strategy.Params
	return strategy.Build(cfg.Strategy.Name, strategy.Params{
		TrendPeriods:      p.TrendPeriods,
		TrendThresholdPct: p.TrendThresholdPct,
		TrendMinVolume:    p.TrendMinVolume,
		RSIPeriods:        p.RSIPeriods,
		Oversold:          p.OversoldRSI,
		Overbought:        p.OverboughtRSI,
		OBIThreshold:      p.OBIThreshold,
		OBIWindowSecs:     p.OBIWindowSecs,
	})
}

// buildExchange returns the static simulator in sim mode and the configured venue otherwise.
// Paper mode only uses its public endpoints for product metadata and quotes.
func buildExchange(cfg *config.Config, mode engine.Mode, log zerolog.Logger) (exchange.Exchange, error) {
	x := cfg.Exchange
	if mode == engine.ModeSim {
		sp := x.SimProduct
		sim, err := exchange.NewSim(exchange.Product{
			ID:            x.Product,
			MinSize:       decimal.NewFromFloat(sp.MinSize),
			MaxSize:       decimal.NewFromFloat(sp.MaxSize),
			MinNotional:   decimal.NewFromFloat(sp.MinTotal),
			Increment:     decimal.NewFromFloat(sp.Increment),
			SizeIncrement: decimal.NewFromFloat(sp.SizeIncrement),
		}, exchange.Fees{MakerPct: decimal.NewFromFloat(x.MakerFeePct), TakerPct: decimal.NewFromFloat(x.TakerFeePct)})
		if err != nil {
			return nil, err
		}
		return sim, nil
	}
	switch x.Name {
	case "", "binance":
	default:
		return nil, fmt.Errorf("unsupported exchange %q", x.Name)
	}
	if mode == engine.ModeLive && (x.APIKey == "" || x.APISecret == "") {
		return nil, fmt.Errorf("live mode needs %s and %s", config.EnvAPIKey, config.EnvAPISecret)
	}
	opts := []binance.Option{
		binance.WithRateLimit(x.RateLimitRPS, x.RateBurst),
		binance.WithFees(x.MakerFeePct, x.TakerFeePct),
	}
	switch {
	case x.BaseURL != "":
		opts = append(opts, binance.WithBaseURL(x.BaseURL))
	case x.Testnet:
		opts = append(opts, binance.WithBaseURL(binance.TestnetBaseURL))
	}
	return binance.New(x.APIKey, x.APISecret, log.With().Str("component", "binance").Logger(), opts...), nil
}

// buildEngine wires the exchange, strategy and ledger sinks into an engine.
func buildEngine(ctx context.Context, cfg *config.Config, mode engine.Mode, log zerolog.Logger, setters ...engine.Option) (*engine.Engine, error) {
	opts, err := engineOptions(cfg, mode)
	if err != nil {
		return nil, err
	}
	strat, err := buildStrategy(cfg)
	if err != nil {
		return nil, err
	}
	ex, err := buildExchange(cfg, mode, log)
	if err != nil {
		return nil, err
	}
	return engine.New(ctx, opts, ex, strat, log, setters...)
}

// fillsLedger returns a ledger that also appends every fill to path. The closer is a no-op
// when path is empty.
func fillsLedger(path string) (*ledger.Ledger, func() error, error) {
	if path == "" {
		return ledger.NewLedger(64), func() error { return nil }, nil
	}
	rec, err := ledger.NewJSONLRecorder(path)
	if err != nil {
		return nil, nil, err
	}
	return ledger.NewLedger(64, rec), rec.Close, nil
}
