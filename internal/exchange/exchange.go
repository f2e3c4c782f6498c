// Package exchange hosts venue connectors, market data feeds and the shared order and balance types.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"zenbot-go/internal/signal"
)

// Balance holds totals for both sides of the market. Holds are the part of each
// total reserved against open orders.
type Balance struct {
	Asset        decimal.Decimal `json:"asset"`
	Currency     decimal.Decimal `json:"currency"`
	AssetHold    decimal.Decimal `json:"asset_hold"`
	CurrencyHold decimal.Decimal `json:"currency_hold"`
}

func (b Balance) AvailableAsset() decimal.Decimal { return b.Asset.Sub(b.AssetHold) }

func (b Balance) AvailableCurrency() decimal.Decimal { return b.Currency.Sub(b.CurrencyHold) }

// HasHolds reports whether any funds are still reserved.
func (b Balance) HasHolds() bool { return !b.AssetHold.IsZero() || !b.CurrencyHold.IsZero() }

// Quote is the best bid and ask.
type Quote struct {
	Bid decimal.Decimal `json:"bid"`
	Ask decimal.Decimal `json:"ask"`
}

// Product is the static metadata for one market. Zero limits are not enforced.
type Product struct {
	ID          string          `json:"id"`
	Asset       string          `json:"asset"`
	Currency    string          `json:"currency"`
	MinSize     decimal.Decimal `json:"min_size"`
	MaxSize     decimal.Decimal `json:"max_size"`
	MinNotional decimal.Decimal `json:"min_total"`
	Increment   decimal.Decimal `json:"increment"`

	// SizeIncrement is the lot step; zero leaves sizes at 8 decimals.
	SizeIncrement decimal.Decimal `json:"size_increment"`
}

// SplitProduct splits "BTC-USDT" into asset and currency.
func SplitProduct(id string) (string, string, error) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(id)), "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("product id %q must look like ASSET-CURRENCY", id)
	}
	return parts[0], parts[1], nil
}

// Fees are percentages of size (buys) or notional (sells). Zero means no fee.
type Fees struct {
	MakerPct decimal.Decimal `json:"maker_pct"`
	TakerPct decimal.Decimal `json:"taker_pct"`
}

// OrderStatus is the venue-independent lifecycle state of an order.
type OrderStatus string

const (
	StatusOpen     OrderStatus = "open"
	StatusPending  OrderStatus = "pending"
	StatusDone     OrderStatus = "done"
	StatusCanceled OrderStatus = "canceled"
	StatusRejected OrderStatus = "rejected"
)

// Reject reasons the engine reacts to. Anything else is a hard rejection.
const (
	RejectPostOnly = "post only"
	RejectBalance  = "balance"
)

// Order is the exchange's view of a submitted order.
type Order struct {
	ID           string          `json:"id"`
	ProductID    string          `json:"product_id"`
	Side         signal.Signal   `json:"side"`
	Price        decimal.Decimal `json:"price"`
	Size         decimal.Decimal `json:"size"`
	FilledSize   decimal.Decimal `json:"filled_size"`
	Status       OrderStatus     `json:"status"`
	RejectReason string          `json:"reject_reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	DoneAt       time.Time       `json:"done_at,omitempty"`
}

// OrderRequest is a limit order submission.
type OrderRequest struct {
	ProductID string
	Side      signal.Signal
	Price     decimal.Decimal
	Size      decimal.Decimal
	PostOnly  bool
}

// Exchange is the adapter the engine trades through. A rejected submission is
// reported as an Order with StatusRejected, not as an error.
type Exchange interface {
	Name() string
	Product(ctx context.Context, productID string) (Product, error)
	Fees() Fees
	GetBalance(ctx context.Context, asset, currency string) (Balance, error)
	GetQuote(ctx context.Context, productID string) (Quote, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (*Order, error)
	GetOrder(ctx context.Context, productID, orderID string) (*Order, error)
	CancelOrder(ctx context.Context, productID, orderID string) error
}

// ErrSimulated is returned by the simulator for calls that would need a network.
var ErrSimulated = errors.New("exchange: not available in simulation")
