package exchange

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Sim serves static product metadata and fees for backtests. It never trades:
// the engine fills simulated orders itself.
type Sim struct {
	product Product
	fees    Fees
}

// NewSim builds the simulator for one product. Missing increment defaults to 0.01.
func NewSim(product Product, fees Fees) (*Sim, error) {
	asset, currency, err := SplitProduct(product.ID)
	if err != nil {
		return nil, err
	}
	if product.Asset == "" {
		product.Asset = asset
	}
	if product.Currency == "" {
		product.Currency = currency
	}
	if product.Increment.IsZero() {
		product.Increment = decimal.RequireFromString("0.01")
	}
	return &Sim{product: product, fees: fees}, nil
}

func (s *Sim) Name() string { return "sim" }

func (s *Sim) Product(_ context.Context, productID string) (Product, error) {
	if !strings.EqualFold(productID, s.product.ID) {
		return Product{}, fmt.Errorf("unknown product %q", productID)
	}
	return s.product, nil
}

func (s *Sim) Fees() Fees { return s.fees }

func (s *Sim) GetBalance(context.Context, string, string) (Balance, error) {
	return Balance{}, ErrSimulated
}

func (s *Sim) GetQuote(context.Context, string) (Quote, error) { return Quote{}, ErrSimulated }

func (s *Sim) SubmitOrder(context.Context, OrderRequest) (*Order, error) { return nil, ErrSimulated }

func (s *Sim) GetOrder(context.Context, string, string) (*Order, error) { return nil, ErrSimulated }

func (s *Sim) CancelOrder(context.Context, string, string) error { return ErrSimulated }
