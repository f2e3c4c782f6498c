// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvAPIKey    = "EXCHANGE_API_KEY"
	EnvAPISecret = "EXCHANGE_API_SECRET"
	EnvLogLevel  = "ZENBOT_LOG_LEVEL"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	Debug       bool   `yaml:"debug"`
}

// Product overrides market metadata; used as-is in simulation.
type Product struct {
	MinSize       float64 `yaml:"min_size"`
	MaxSize       float64 `yaml:"max_size"`
	MinTotal      float64 `yaml:"min_total"`
	Increment     float64 `yaml:"increment"`
	SizeIncrement float64 `yaml:"size_increment"`
}

// UnmarshalYAML replaces the whole block: keys left out of a sim_product
// section are zero, not inherited from the defaults.
func (p *Product) UnmarshalYAML(node *yaml.Node) error {
	type plain Product
	var out plain
	if err := node.Decode(&out); err != nil {
		return err
	}
	*p = Product(out)
	return nil
}

// Exchange describes venue connectivity. Credentials normally come from the environment.
type Exchange struct {
	Name         string  `yaml:"name"`
	Product      string  `yaml:"product"`
	Feed         string  `yaml:"feed"`
	APIKey       string  `yaml:"api_key,omitempty"`
	APISecret    string  `yaml:"api_secret,omitempty"`
	BaseURL      string  `yaml:"base_url"`
	StreamURL    string  `yaml:"stream_url"`
	Testnet      bool    `yaml:"testnet"`
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
	RateBurst    int     `yaml:"rate_burst"`
	MakerFeePct  float64 `yaml:"maker_fee_pct"`
	TakerFeePct  float64 `yaml:"taker_fee_pct"`
	SimProduct   Product `yaml:"sim_product"`
}

// Engine holds the execution knobs. Percentages are whole percents; zero disables optional checks.
type Engine struct {
	Period                string  `yaml:"period"`
	BuyPct                float64 `yaml:"buy_pct"`
	SellPct               float64 `yaml:"sell_pct"`
	MarkupPct             float64 `yaml:"markup_pct"`
	OrderType             string  `yaml:"order_type"`
	OrderAdjustTimeMs     int     `yaml:"order_adjust_time_ms"`
	OrderPollTimeMs       int     `yaml:"order_poll_time_ms"`
	WaitForSettlementMs   int     `yaml:"wait_for_settlement_ms"`
	SettlementMaxAttempts int     `yaml:"settlement_max_attempts"`
	MaxSlippagePct        float64 `yaml:"max_slippage_pct"`
	MaxSellLossPct        float64 `yaml:"max_sell_loss_pct"`
	SellStopPct           float64 `yaml:"sell_stop_pct"`
	BuyStopPct            float64 `yaml:"buy_stop_pct"`
	ProfitStopEnablePct   float64 `yaml:"profit_stop_enable_pct"`
	ProfitStopPct         float64 `yaml:"profit_stop_pct"`
	AvgSlippagePct        float64 `yaml:"avg_slippage_pct"`
	Manual                bool    `yaml:"manual"`
	Start                 string  `yaml:"start"`
	MaxLookback           int     `yaml:"max_lookback"`
}

// OrderAdjustTime is how long an order may rest before being re-priced.
func (e Engine) OrderAdjustTime() time.Duration {
	return time.Duration(e.OrderAdjustTimeMs) * time.Millisecond
}

func (e Engine) OrderPollTime() time.Duration {
	return time.Duration(e.OrderPollTimeMs) * time.Millisecond
}

func (e Engine) WaitForSettlement() time.Duration {
	return time.Duration(e.WaitForSettlementMs) * time.Millisecond
}

// StartTime parses Start with ParseTime. Zero when unset.
func (e Engine) StartTime() (time.Time, error) {
	t, err := ParseTime(e.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start: %w", err)
	}
	return t, nil
}

// ParseTime accepts RFC3339, "2006-01-02 15:04:05" or a bare date, all as UTC. Blank is zero.
func ParseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateTime, time.DateOnly} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", v)
}

// Paper captures simulated account settings used by paper and sim modes.
type Paper struct {
	AssetCapital    float64 `yaml:"asset_capital"`
	CurrencyCapital float64 `yaml:"currency_capital"`
	FillsPath       string  `yaml:"fills_path"`
}

// StrategyParams groups tunable knobs for a strategy implementation.
type StrategyParams struct {
	TrendPeriods      int     `yaml:"trend_periods"`
	TrendThresholdPct float64 `yaml:"trend_threshold_pct"`
	TrendMinVolume    float64 `yaml:"trend_min_volume"`
	RSIPeriods        int     `yaml:"rsi_periods"`
	OversoldRSI       float64 `yaml:"oversold_rsi"`
	OverboughtRSI     float64 `yaml:"overbought_rsi"`
	OBIThreshold      float64 `yaml:"obi_threshold"`
	OBIWindowSecs     int     `yaml:"obi_window_secs"`
}

// Strategy specifies which strategy is active along with the parameter bundle.
type Strategy struct {
	Name   string         `yaml:"name"`
	Params StrategyParams `yaml:"params"`
}

// Store locates the historical trade database.
type Store struct {
	Path      string `yaml:"path"`
	BatchSize int    `yaml:"batch_size"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App      App      `yaml:"app"`
	Exchange Exchange `yaml:"exchange"`
	Engine   Engine   `yaml:"engine"`
	Paper    Paper    `yaml:"paper"`
	Strategy Strategy `yaml:"strategy"`
	Store    Store    `yaml:"store"`
}

// Default returns the configuration used when a key is absent from the file.
func Default() *Config {
	return &Config{
		App: App{Name: "zenbot", Env: "dev", MetricsAddr: ":9102", LogLevel: "info"},
		Exchange: Exchange{
			Name:         "binance",
			Product:      "BTC-USDT",
			Feed:         "binance",
			RateLimitRPS: 10,
			RateBurst:    5,
			MakerFeePct:  0.1,
			TakerFeePct:  0.1,
			SimProduct:   Product{MinSize: 0.00001, MinTotal: 5, Increment: 0.01},
		},
		Engine: Engine{
			Period:              "2m",
			BuyPct:              99,
			SellPct:             99,
			MarkupPct:           0,
			OrderType:           "maker",
			OrderAdjustTimeMs:   5000,
			OrderPollTimeMs:     5000,
			WaitForSettlementMs: 5000,
			MaxSlippagePct:      5,
			MaxSellLossPct:      25,
			ProfitStopPct:       1,
			AvgSlippagePct:      0.045,
		},
		Paper:    Paper{CurrencyCapital: 1000},
		Strategy: Strategy{Name: "trend"},
		Store:    Store{Path: "data/trades.db", BatchSize: 1000},
	}
}

// Load reads a YAML file from disk over the defaults.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	config := Default()
	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return config, nil
}

// Save persists a Config struct to disk as YAML. Credentials are not written.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	out := *cfg
	out.Exchange.APIKey = ""
	out.Exchange.APISecret = ""
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyEnv loads envFile if present (best-effort) and lets the environment
// override credentials and log level.
func (c *Config) ApplyEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load env file: %w", err)
		}
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv(EnvAPISecret); v != "" {
		c.Exchange.APISecret = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.App.LogLevel = v
	}
	return nil
}

func checkPct(name string, v, max float64) error {
	if v < 0 || v > max {
		return fmt.Errorf("%s must be between 0 and %g, got %g", name, max, v)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	e := c.Engine
	if strings.TrimSpace(c.Exchange.Product) == "" || !strings.Contains(c.Exchange.Product, "-") {
		return fmt.Errorf("exchange.product must look like ASSET-CURRENCY, got %q", c.Exchange.Product)
	}
	if e.OrderType != "maker" && e.OrderType != "taker" {
		return fmt.Errorf("engine.order_type must be maker or taker, got %q", e.OrderType)
	}
	for name, v := range map[string]float64{
		"engine.buy_pct":  e.BuyPct,
		"engine.sell_pct": e.SellPct,
	} {
		if err := checkPct(name, v, 100); err != nil {
			return err
		}
	}
	for name, v := range map[string]float64{
		"engine.markup_pct":             e.MarkupPct,
		"engine.max_slippage_pct":       e.MaxSlippagePct,
		"engine.max_sell_loss_pct":      e.MaxSellLossPct,
		"engine.sell_stop_pct":          e.SellStopPct,
		"engine.buy_stop_pct":           e.BuyStopPct,
		"engine.profit_stop_enable_pct": e.ProfitStopEnablePct,
		"engine.profit_stop_pct":        e.ProfitStopPct,
		"engine.avg_slippage_pct":       e.AvgSlippagePct,
	} {
		if err := checkPct(name, v, 1000); err != nil {
			return err
		}
	}
	if e.OrderPollTimeMs <= 0 || e.OrderAdjustTimeMs <= 0 || e.WaitForSettlementMs <= 0 {
		return fmt.Errorf("engine order_poll_time_ms, order_adjust_time_ms and wait_for_settlement_ms must be positive")
	}
	if e.SettlementMaxAttempts < 0 {
		return fmt.Errorf("engine.settlement_max_attempts must not be negative")
	}
	if _, err := e.StartTime(); err != nil {
		return err
	}
	if c.Paper.AssetCapital < 0 || c.Paper.CurrencyCapital < 0 {
		return fmt.Errorf("paper capital must not be negative")
	}
	return nil
}
