package core

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the request path can produce. The session
// maps kinds to HTTP status lines; the engine maps them to WS envelopes.
type Kind int

const (
	KindBadRequest Kind = iota
	KindUnauthorized
	KindNotFound
	KindSerde
	KindCache
	KindDatabase
	KindNotEnoughFunds
	KindNotEnoughHoldings
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindSerde:
		return "serde"
	case KindCache:
		return "cache"
	case KindDatabase:
		return "database"
	case KindNotEnoughFunds:
		return "not_enough_funds"
	case KindNotEnoughHoldings:
		return "not_enough_holdings"
	default:
		return "unknown"
	}
}

// OrderError carries a kind plus the wrapped cause.
type OrderError struct {
	Kind Kind
	Err  error
}

func (e *OrderError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *OrderError) Unwrap() error { return e.Err }

func Errf(kind Kind, format string, args ...any) error {
	return &OrderError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &OrderError{Kind: kind, Err: err}
}

func BadRequestf(format string, args ...any) error {
	return Errf(KindBadRequest, format, args...)
}

// KindOf extracts the kind from an error chain. Unclassified errors
// count as database failures so they surface as 500s.
func KindOf(err error) Kind {
	var oe *OrderError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindDatabase
}

var (
	ErrNotEnoughFunds    = &OrderError{Kind: KindNotEnoughFunds, Err: errors.New("notional exceeds balance")}
	ErrNotEnoughHoldings = &OrderError{Kind: KindNotEnoughHoldings, Err: errors.New("sell lot exceeds holdings")}
)
