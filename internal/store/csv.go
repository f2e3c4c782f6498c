package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"zenbot-go/internal/signal"
)

// ImportCSV loads rows of time_ms,price,size[,trade_id[,side]] into the store.
// A header row is skipped. Returns rows inserted.
func (s *TradeStore) ImportCSV(ctx context.Context, r io.Reader, product string, batch int) (int, error) {
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	total := 0
	line := 0
	pending := make([]signal.Tick, 0, batch)
	flush := func() error {
		n, err := s.Insert(ctx, product, pending)
		if err != nil {
			return err
		}
		total += n
		pending = pending[:0]
		return nil
	}

	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return total, fmt.Errorf("read csv: %w", err)
		}
		line++
		tk, err := parseRecord(rec)
		if err != nil {
			if line == 1 {
				continue
			}
			return total, fmt.Errorf("csv line %d: %w", line, err)
		}
		if tk.TradeID == "" {
			tk.TradeID = fmt.Sprintf("csv-%d", line)
		}
		pending = append(pending, tk)
		if len(pending) >= batch {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}

func parseRecord(rec []string) (signal.Tick, error) {
	if len(rec) < 3 {
		return signal.Tick{}, fmt.Errorf("expected at least 3 fields, got %d", len(rec))
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
	if err != nil {
		return signal.Tick{}, fmt.Errorf("time: %w", err)
	}
	price, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
	if err != nil || price <= 0 {
		return signal.Tick{}, fmt.Errorf("invalid price %q", rec[1])
	}
	size, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
	if err != nil || size < 0 {
		return signal.Tick{}, fmt.Errorf("invalid size %q", rec[2])
	}
	tk := signal.Tick{Price: price, Size: size, Ts: time.UnixMilli(ms).UTC()}
	if len(rec) > 3 {
		tk.TradeID = strings.TrimSpace(rec[3])
	}
	if len(rec) > 4 {
		switch strings.ToLower(strings.TrimSpace(rec[4])) {
		case "buy", "1":
			tk.Side = 1
		case "sell", "-1":
			tk.Side = -1
		}
	}
	return tk, nil
}
