package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quantegy/ordergate/pkg/core"
)

// Postgres implements Store on a pgx connection pool. Connections are
// acquired per operation; the pool bounds concurrent queries.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string, maxConns int32) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) ProductBySymbol(ctx context.Context, symbol string) (core.Product, error) {
	var p core.Product
	err := s.pool.QueryRow(ctx,
		`SELECT product_id, symbol, name FROM products WHERE symbol = $1`,
		symbol,
	).Scan(&p.ProductID, &p.Symbol, &p.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Product{}, ErrNotFound
	}
	if err != nil {
		return core.Product{}, fmt.Errorf("select product %s: %w", symbol, err)
	}
	return p, nil
}

func (s *Postgres) AccountByUserID(ctx context.Context, userID int32) (core.Account, error) {
	var a core.Account
	err := s.pool.QueryRow(ctx,
		`SELECT account_id, user_id, balance, invested_value FROM accounts WHERE user_id = $1`,
		userID,
	).Scan(&a.AccountID, &a.UserID, &a.Balance, &a.InvestedValue)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Account{}, ErrNotFound
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("select account user=%d: %w", userID, err)
	}
	return a, nil
}

func (s *Postgres) OrdersByUserID(ctx context.Context, userID int32) ([]core.OrderSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT product_symbol, product_name, side, price, lot, expiry, created_at
		   FROM orders WHERE user_id = $1 ORDER BY order_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders user=%d: %w", userID, err)
	}
	defer rows.Close()

	orders := []core.OrderSummary{}
	for rows.Next() {
		var o core.OrderSummary
		if err := rows.Scan(&o.Symbol, &o.Name, &o.Side, &o.Price, &o.Lot, &o.Expiry, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *Postgres) PortfoliosByUserID(ctx context.Context, userID int32) ([]core.PortfolioSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT product_symbol, product_name, lot, invested_value, avg_price::text
		   FROM portfolios WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select portfolios user=%d: %w", userID, err)
	}
	defer rows.Close()

	portfolios := []core.PortfolioSummary{}
	for rows.Next() {
		var p core.PortfolioSummary
		var avg string
		if err := rows.Scan(&p.Symbol, &p.Name, &p.Lot, &p.InvestedValue, &avg); err != nil {
			return nil, fmt.Errorf("scan portfolio row: %w", err)
		}
		if p.AvgPrice, err = decimal.NewFromString(avg); err != nil {
			return nil, fmt.Errorf("parse avg_price %q: %w", avg, err)
		}
		portfolios = append(portfolios, p)
	}
	return portfolios, rows.Err()
}

func (s *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

func (s *Postgres) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }
func (s *Postgres) Close()                         { s.pool.Close() }

var _ Store = (*Postgres)(nil)

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) PortfolioForUpdate(ctx context.Context, userID int32, symbol string) (core.Portfolio, bool, error) {
	var p core.Portfolio
	var avg string
	err := t.tx.QueryRow(ctx,
		`SELECT portfolio_id, user_id, product_id, product_name, product_symbol,
		        lot, invested_value, avg_price::text
		   FROM portfolios
		  WHERE user_id = $1 AND product_symbol = $2
		    FOR UPDATE`,
		userID, symbol,
	).Scan(&p.PortfolioID, &p.UserID, &p.ProductID, &p.ProductName, &p.ProductSymbol,
		&p.Lot, &p.InvestedValue, &avg)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Portfolio{}, false, nil
	}
	if err != nil {
		return core.Portfolio{}, false, fmt.Errorf("lock portfolio user=%d symbol=%s: %w", userID, symbol, err)
	}
	if p.AvgPrice, err = decimal.NewFromString(avg); err != nil {
		return core.Portfolio{}, false, fmt.Errorf("parse avg_price %q: %w", avg, err)
	}
	return p, true, nil
}

func (t *pgTx) InsertPortfolio(ctx context.Context, p core.Portfolio) (int32, error) {
	var id int32
	err := t.tx.QueryRow(ctx,
		`INSERT INTO portfolios (user_id, product_name, product_symbol,
		        invested_value, lot, avg_price, product_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING portfolio_id`,
		p.UserID, p.ProductName, p.ProductSymbol,
		p.InvestedValue, p.Lot, p.AvgPrice.String(), p.ProductID,
	).Scan(&id)
	if isUniqueViolation(err) {
		return 0, ErrConflict
	}
	if err != nil {
		return 0, fmt.Errorf("insert portfolio: %w", err)
	}
	return id, nil
}

func (t *pgTx) UpdatePortfolio(ctx context.Context, portfolioID int32, lot int32, investedValue int64, avgPrice decimal.Decimal) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE portfolios SET lot = $1, invested_value = $2, avg_price = $3 WHERE portfolio_id = $4`,
		lot, investedValue, avgPrice.String(), portfolioID,
	)
	if err != nil {
		return fmt.Errorf("update portfolio %d: %w", portfolioID, err)
	}
	return nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o core.Order) (int32, error) {
	var id int32
	err := t.tx.QueryRow(ctx,
		`INSERT INTO orders (product_symbol, product_name, side,
		        price, lot, expiry, created_at, user_id, product_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING order_id`,
		o.ProductSymbol, o.ProductName, string(o.Side),
		o.Price, o.Lot, string(o.Expiry), o.CreatedAt, o.UserID, o.ProductID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}
	return id, nil
}

func (t *pgTx) AccountForUpdate(ctx context.Context, userID int32) (core.Account, error) {
	var a core.Account
	err := t.tx.QueryRow(ctx,
		`SELECT account_id, user_id, balance, invested_value
		   FROM accounts WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&a.AccountID, &a.UserID, &a.Balance, &a.InvestedValue)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Account{}, ErrNotFound
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("lock account user=%d: %w", userID, err)
	}
	return a, nil
}

func (t *pgTx) UpdateAccount(ctx context.Context, accountID int32, balance, investedValue int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE accounts SET balance = $1, invested_value = $2 WHERE account_id = $3`,
		balance, investedValue, accountID,
	)
	if err != nil {
		return fmt.Errorf("update account %d: %w", accountID, err)
	}
	return nil
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
