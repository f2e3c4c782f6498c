package engine

import (
	"errors"
	"fmt"

	"zenbot-go/internal/exchange"
)

// Kind classifies why a signal attempt stopped.
type Kind int

const (
	// KindValidation means the computed order fell outside product limits. Not surfaced to callers.
	KindValidation Kind = iota + 1
	// KindRisk is a slippage or sell-loss refusal.
	KindRisk
	// KindPostOnly means a post-only order would have crossed; the attempt is re-priced.
	KindPostOnly
	// KindBalance means the venue refused the order for funds; the attempt is dropped.
	KindBalance
	// KindExchange covers venue failures and hard rejections.
	KindExchange
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRisk:
		return "risk"
	case KindPostOnly:
		return "post_only"
	case KindBalance:
		return "balance"
	case KindExchange:
		return "exchange"
	default:
		return "unknown"
	}
}

// Error is returned by signal execution. Op is the short message ("slippage protection",
// "order rejected"), Desc adds context, Order carries the raw venue order when there is one.
type Error struct {
	Kind  Kind
	Op    string
	Desc  string
	Order *exchange.Order
	Err   error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Desc != "" {
		msg += ": " + e.Desc
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func kindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsRisk reports whether err is a slippage or loss protection refusal.
func IsRisk(err error) bool { return kindOf(err) == KindRisk }

// IsExchange reports whether err came from the venue.
func IsExchange(err error) bool { return kindOf(err) == KindExchange }

func riskError(op string, format string, args ...any) *Error {
	return &Error{Kind: KindRisk, Op: op, Desc: fmt.Sprintf(format, args...)}
}

func exchangeError(side fmt.Stringer, what string, err error) *Error {
	return &Error{
		Kind: KindExchange,
		Op:   fmt.Sprintf("could not execute %s", side),
		Desc: what,
		Err:  err,
	}
}
