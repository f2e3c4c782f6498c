// Package ledger records completed fills and derives realized trade statistics.
package ledger

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"zenbot-go/internal/signal"
)

// Entry is one completed fill. Entries are never modified after being recorded.
type Entry struct {
	OrderID       string          `json:"order_id"`
	Time          time.Time       `json:"time"`
	ExecutionTime time.Duration   `json:"execution_time"`
	Slippage      decimal.Decimal `json:"slippage"`
	Side          signal.Signal   `json:"type"`
	Size          decimal.Decimal `json:"size"`
	Fee           decimal.Decimal `json:"fee"`
	Price         decimal.Decimal `json:"price"`
	Kind          string          `json:"order_type"`
}

// Recorder receives every entry as it is appended.
type Recorder interface {
	Record(Entry)
}

// Ledger stores fills in memory in execution order.
type Ledger struct {
	mu      sync.Mutex
	entries []Entry
	sinks   []Recorder
}

// NewLedger creates an empty ledger optionally pre-sizing storage. Sinks get a copy of each entry.
func NewLedger(capacity int, sinks ...Recorder) *Ledger {
	if capacity < 0 {
		capacity = 0
	}
	return &Ledger{entries: make([]Entry, 0, capacity), sinks: sinks}
}

// Record appends an entry and forwards it to the sinks.
func (l *Ledger) Record(entry Entry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	sinks := l.sinks
	l.mu.Unlock()
	for _, sink := range sinks {
		sink.Record(entry)
	}
}

// Last returns the newest entry.
func (l *Ledger) Last() (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Snapshot returns a copy of the recorded entries.
func (l *Ledger) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}
