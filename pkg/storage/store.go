// Package storage owns the persistent entities: products, accounts,
// portfolios and the append-only order ledger. The engine talks to the
// Store interface; Postgres backs it in production and Memory in tests.
package storage

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/quantegy/ordergate/pkg/core"
)

var (
	// ErrNotFound means the queried row does not exist.
	ErrNotFound = errors.New("storage: row not found")
	// ErrConflict means a unique constraint fired, e.g. two first buys
	// racing to insert the same (user, symbol) portfolio row. Callers
	// retry the whole transaction.
	ErrConflict = errors.New("storage: unique constraint conflict")
)

type Store interface {
	ProductBySymbol(ctx context.Context, symbol string) (core.Product, error)
	AccountByUserID(ctx context.Context, userID int32) (core.Account, error)
	OrdersByUserID(ctx context.Context, userID int32) ([]core.OrderSummary, error)
	PortfoliosByUserID(ctx context.Context, userID int32) ([]core.PortfolioSummary, error)

	// Begin opens the transaction one order's portfolio/ledger/account
	// writes run in. Row locks taken inside it serialize concurrent
	// orders on the same (user, symbol).
	Begin(ctx context.Context) (Tx, error)

	Ping(ctx context.Context) error
	Close()
}

// Tx is one order's transaction. Rollback after Commit is a no-op, so
// callers can always defer it.
type Tx interface {
	// PortfolioForUpdate locks and returns the (user, symbol) row.
	// found is false when no row exists yet (first buy).
	PortfolioForUpdate(ctx context.Context, userID int32, symbol string) (p core.Portfolio, found bool, err error)
	InsertPortfolio(ctx context.Context, p core.Portfolio) (int32, error)
	UpdatePortfolio(ctx context.Context, portfolioID int32, lot int32, investedValue int64, avgPrice decimal.Decimal) error

	InsertOrder(ctx context.Context, o core.Order) (int32, error)

	AccountForUpdate(ctx context.Context, userID int32) (core.Account, error)
	UpdateAccount(ctx context.Context, accountID int32, balance, investedValue int64) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
