package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"zenbot-go/internal/metrics"
	"zenbot-go/internal/signal"
)

type binanceEnvelope struct {
	Stream string       `json:"stream"`
	Data   binanceTrade `json:"data"`
}

type binanceTrade struct {
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// BinanceSymbol maps a product id such as "BTC-USDT" to the venue symbol "BTCUSDT".
// "-USD" products trade against USDT.
func BinanceSymbol(productID string) string {
	p := strings.ToUpper(strings.TrimSpace(productID))
	if strings.HasSuffix(p, "-USD") {
		return strings.ReplaceAll(strings.TrimSuffix(p, "-USD"), "-", "") + "USDT"
	}
	return strings.ReplaceAll(p, "-", "")
}

func (f *Feed) runBinance(ctx context.Context, out chan<- signal.Tick) error {
	symbols := f.snapshotSymbols()
	if len(symbols) == 0 {
		return fmt.Errorf("binance feed requires at least one symbol")
	}

	streams := make([]string, len(symbols))
	aliases := make(map[string]string, len(symbols))
	for i, sym := range symbols {
		venue := BinanceSymbol(sym)
		streams[i] = strings.ToLower(venue) + "@trade"
		aliases[venue] = sym
	}

	url := fmt.Sprintf("%s?streams=%s", f.binanceURL, strings.Join(streams, "/"))
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := f.consumeBinanceStream(ctx, url, aliases, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Warn().Err(err).Dur("backoff", backoff).Msg("binance feed disconnected, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
			continue
		}
		return nil
	}
}

func (f *Feed) consumeBinanceStream(ctx context.Context, url string, aliases map[string]string, out chan<- signal.Tick) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.log.Info().Str("provider", ProviderBinance).Strs("symbols", f.snapshotSymbols()).Msg("connected market data feed")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					f.log.Warn().Err(err).Msg("binance ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()
	go func() {
		<-pingCtx.Done()
		// unblocks ReadMessage on shutdown
		_ = conn.SetReadDeadline(time.Now())
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		tick, ok := f.decodeBinanceTrade(message, aliases)
		if !ok {
			continue
		}
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		select {
		case out <- tick:
			metrics.FeedTicksTotal.WithLabelValues(tick.Symbol, ProviderBinance).Inc()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *Feed) decodeBinanceTrade(message []byte, aliases map[string]string) (signal.Tick, bool) {
	var env binanceEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		f.log.Warn().Err(err).Msg("failed to decode binance message")
		return signal.Tick{}, false
	}
	px, err := strconv.ParseFloat(env.Data.Price, 64)
	if err != nil {
		f.log.Warn().Err(err).Msg("invalid price from binance")
		return signal.Tick{}, false
	}
	qty, err := strconv.ParseFloat(env.Data.Quantity, 64)
	if err != nil {
		f.log.Warn().Err(err).Msg("invalid quantity from binance")
		return signal.Tick{}, false
	}
	symbol := parseBinanceSymbol(env.Stream)
	if alias, ok := aliases[symbol]; ok {
		symbol = alias
	}
	side := 1
	if env.Data.IsBuyerMaker {
		side = -1
	}
	return signal.Tick{
		Symbol:  symbol,
		TradeID: strconv.FormatInt(env.Data.TradeID, 10),
		Price:   px,
		Size:    qty,
		Side:    side,
		Ts:      time.UnixMilli(env.Data.TradeTime).UTC(),
	}, true
}

func parseBinanceSymbol(stream string) string {
	parts := strings.Split(stream, "@")
	if len(parts) == 0 || parts[0] == "" {
		return strings.ToUpper(stream)
	}
	return strings.ToUpper(parts[0])
}
