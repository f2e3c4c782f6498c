// Package binance implements the exchange adapter over the Binance spot REST API.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"zenbot-go/internal/exchange"
)

const (
	DefaultBaseURL = "https://api.binance.com"
	TestnetBaseURL = "https://testnet.binance.vision"
)

// Binance error codes the adapter maps onto reject reasons.
const (
	codeOrderRejected = -2010
	codeUnknownOrder  = -2011
)

// APIError is a non-2xx response carrying Binance's error body.
type APIError struct {
	Status  int
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Path    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance %s: status %d code %d: %s", e.Path, e.Status, e.Code, e.Message)
}

// Client is safe for concurrent use.
type Client struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	recvWindow int64
	hc         *http.Client
	limiter    *rate.Limiter
	fees       exchange.Fees
	log        zerolog.Logger
	now        func() time.Time

	mu       sync.Mutex
	products map[string]exchange.Product
}

// Option configures Client construction parameters.
type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

// WithRateLimit caps request rate. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithFees sets maker and taker fees in percent.
func WithFees(makerPct, takerPct float64) Option {
	return func(c *Client) {
		c.fees = exchange.Fees{MakerPct: decimal.NewFromFloat(makerPct), TakerPct: decimal.NewFromFloat(takerPct)}
	}
}

func WithRecvWindow(d time.Duration) Option {
	return func(c *Client) { c.recvWindow = d.Milliseconds() }
}

// New builds a client. Public endpoints work without credentials.
func New(apiKey, apiSecret string, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    DefaultBaseURL,
		recvWindow: 5000,
		hc:         &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(10), 5),
		fees:       exchange.Fees{MakerPct: decimal.RequireFromString("0.1"), TakerPct: decimal.RequireFromString("0.1")},
		log:        log,
		now:        time.Now,
		products:   make(map[string]exchange.Product),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return "binance" }

func (c *Client) Fees() exchange.Fees { return c.fees }

func (c *Client) sign(q url.Values) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	_, _ = io.WriteString(mac, q.Encode())
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, signed bool, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if q == nil {
		q = url.Values{}
	}
	if signed {
		if c.apiKey == "" || c.apiSecret == "" {
			return errors.New("binance: api key and secret required for signed endpoint " + path)
		}
		q.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		if c.recvWindow > 0 {
			q.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
		}
		q.Set("signature", c.sign(q))
	}

	var body io.Reader
	u := c.baseURL + path
	if method == http.MethodPost {
		body = strings.NewReader(q.Encode())
	} else {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("binance %s %s: %w", method, path, err)
	}
	defer res.Body.Close()
	bs, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("binance %s %s: read body: %w", method, path, err)
	}
	if res.StatusCode/100 != 2 {
		apiErr := &APIError{Status: res.StatusCode, Path: path}
		if jerr := json.Unmarshal(bs, apiErr); jerr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(bs))
		}
		return apiErr
	}
	c.log.Debug().Str("method", method).Str("path", path).Int("status", res.StatusCode).Msg("binance request")
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(bs, out); err != nil {
		return fmt.Errorf("binance %s %s: decode: %w", method, path, err)
	}
	return nil
}
