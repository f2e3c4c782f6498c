package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"zenbot-go/internal/exchange"
	"zenbot-go/internal/signal"
)

type symbolInfo struct {
	Symbol     string `json:"symbol"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
	Filters    []struct {
		FilterType  string `json:"filterType"`
		MinQty      string `json:"minQty"`
		MaxQty      string `json:"maxQty"`
		StepSize    string `json:"stepSize"`
		TickSize    string `json:"tickSize"`
		MinNotional string `json:"minNotional"`
	} `json:"filters"`
}

type orderResponse struct {
	Symbol       string `json:"symbol"`
	OrderID      int64  `json:"orderId"`
	Price        string `json:"price"`
	OrigQty      string `json:"origQty"`
	ExecutedQty  string `json:"executedQty"`
	Status       string `json:"status"`
	Side         string `json:"side"`
	TransactTime int64  `json:"transactTime"`
	Time         int64  `json:"time"`
	UpdateTime   int64  `json:"updateTime"`
}

func dec(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Product loads exchangeInfo filters once per product.
func (c *Client) Product(ctx context.Context, productID string) (exchange.Product, error) {
	c.mu.Lock()
	if p, ok := c.products[productID]; ok {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	q := url.Values{}
	q.Set("symbol", exchange.BinanceSymbol(productID))
	var info struct {
		Symbols []symbolInfo `json:"symbols"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v3/exchangeInfo", q, false, &info); err != nil {
		return exchange.Product{}, err
	}
	if len(info.Symbols) == 0 {
		return exchange.Product{}, fmt.Errorf("binance: symbol %s not found", q.Get("symbol"))
	}
	s := info.Symbols[0]
	p := exchange.Product{ID: productID, Asset: s.BaseAsset, Currency: s.QuoteAsset}
	for _, f := range s.Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			p.MinSize = dec(f.MinQty)
			p.MaxSize = dec(f.MaxQty)
			p.SizeIncrement = dec(f.StepSize)
		case "PRICE_FILTER":
			p.Increment = dec(f.TickSize)
		case "MIN_NOTIONAL", "NOTIONAL":
			p.MinNotional = dec(f.MinNotional)
		}
	}
	if p.Increment.IsZero() {
		p.Increment = decimal.RequireFromString("0.01")
	}

	c.mu.Lock()
	c.products[productID] = p
	c.mu.Unlock()
	return p, nil
}

// GetBalance reports free+locked as the total and locked as the hold.
func (c *Client) GetBalance(ctx context.Context, asset, currency string) (exchange.Balance, error) {
	var acct struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v3/account", nil, true, &acct); err != nil {
		return exchange.Balance{}, err
	}
	var bal exchange.Balance
	for _, b := range acct.Balances {
		free, locked := dec(b.Free), dec(b.Locked)
		switch strings.ToUpper(b.Asset) {
		case strings.ToUpper(asset):
			bal.Asset = free.Add(locked)
			bal.AssetHold = locked
		case strings.ToUpper(currency):
			bal.Currency = free.Add(locked)
			bal.CurrencyHold = locked
		}
	}
	return bal, nil
}

func (c *Client) GetQuote(ctx context.Context, productID string) (exchange.Quote, error) {
	q := url.Values{}
	q.Set("symbol", exchange.BinanceSymbol(productID))
	var book struct {
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v3/ticker/bookTicker", q, false, &book); err != nil {
		return exchange.Quote{}, err
	}
	return exchange.Quote{Bid: dec(book.BidPrice), Ask: dec(book.AskPrice)}, nil
}

// SubmitOrder places a limit order. Post-only orders use LIMIT_MAKER; a maker
// order that would cross is returned as rejected with reason "post only".
func (c *Client) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, error) {
	q := url.Values{}
	q.Set("symbol", exchange.BinanceSymbol(req.ProductID))
	q.Set("side", strings.ToUpper(string(req.Side)))
	if req.PostOnly {
		q.Set("type", "LIMIT_MAKER")
	} else {
		q.Set("type", "LIMIT")
		q.Set("timeInForce", "GTC")
	}
	q.Set("quantity", req.Size.String())
	q.Set("price", req.Price.String())
	q.Set("newOrderRespType", "RESULT")

	var res orderResponse
	err := c.do(ctx, http.MethodPost, "/api/v3/order", q, true, &res)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == codeOrderRejected {
			return &exchange.Order{
				ProductID:    req.ProductID,
				Side:         req.Side,
				Price:        req.Price,
				Size:         req.Size,
				Status:       exchange.StatusRejected,
				RejectReason: rejectReason(apiErr.Message),
				CreatedAt:    c.now(),
			}, nil
		}
		return nil, err
	}
	order := toOrder(req.ProductID, res)
	if order.Status == exchange.StatusRejected && order.RejectReason == "" && req.PostOnly {
		order.RejectReason = exchange.RejectPostOnly
	}
	return order, nil
}

func (c *Client) GetOrder(ctx context.Context, productID, orderID string) (*exchange.Order, error) {
	q := url.Values{}
	q.Set("symbol", exchange.BinanceSymbol(productID))
	q.Set("orderId", orderID)
	var res orderResponse
	if err := c.do(ctx, http.MethodGet, "/api/v3/order", q, true, &res); err != nil {
		return nil, err
	}
	return toOrder(productID, res), nil
}

// CancelOrder treats an already closed or unknown order as cancelled.
func (c *Client) CancelOrder(ctx context.Context, productID, orderID string) error {
	q := url.Values{}
	q.Set("symbol", exchange.BinanceSymbol(productID))
	q.Set("orderId", orderID)
	err := c.do(ctx, http.MethodDelete, "/api/v3/order", q, true, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == codeUnknownOrder {
		return nil
	}
	return err
}

func rejectReason(msg string) string {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "immediately match"):
		return exchange.RejectPostOnly
	case strings.Contains(m, "insufficient balance"):
		return exchange.RejectBalance
	}
	return msg
}

func toOrder(productID string, res orderResponse) *exchange.Order {
	created := res.TransactTime
	if created == 0 {
		created = res.Time
	}
	o := &exchange.Order{
		ID:         strconv.FormatInt(res.OrderID, 10),
		ProductID:  productID,
		Side:       signal.Parse(res.Side),
		Price:      dec(res.Price),
		Size:       dec(res.OrigQty),
		FilledSize: dec(res.ExecutedQty),
		CreatedAt:  time.UnixMilli(created).UTC(),
	}
	switch res.Status {
	case "NEW", "PARTIALLY_FILLED":
		o.Status = exchange.StatusOpen
	case "PENDING_NEW":
		o.Status = exchange.StatusPending
	case "FILLED":
		o.Status = exchange.StatusDone
		done := res.UpdateTime
		if done == 0 {
			done = created
		}
		o.DoneAt = time.UnixMilli(done).UTC()
	case "EXPIRED_IN_MATCH":
		o.Status = exchange.StatusRejected
		o.RejectReason = exchange.RejectPostOnly
	case "REJECTED":
		o.Status = exchange.StatusRejected
	case "CANCELED", "PENDING_CANCEL", "EXPIRED":
		o.Status = exchange.StatusCanceled
	default:
		o.Status = exchange.StatusOpen
	}
	return o
}

var _ exchange.Exchange = (*Client)(nil)
