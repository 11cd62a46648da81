// Package engine applies orders: product lookup through the cache,
// portfolio recompute, ledger append and account debit/credit, all
// inside one store transaction.
package engine

import (
	"context"
	"errors"
	"strconv"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantegy/ordergate/pkg/cache"
	"github.com/quantegy/ordergate/pkg/core"
	"github.com/quantegy/ordergate/pkg/metrics"
	"github.com/quantegy/ordergate/pkg/storage"
	"github.com/quantegy/ordergate/pkg/util"
)

var lotSizeDec = decimal.NewFromInt(core.LotSize)

// Engine coordinates one order's state transition. It is safe for
// concurrent use; per-(user, symbol) ordering comes from the store's
// row locks, with a bounded retry when two first buys race on insert.
type Engine struct {
	store   storage.Store
	cache   cache.Cache
	journal *storage.Journal // optional audit trail
	clock   util.Clock
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
	retry   retrypolicy.RetryPolicy[applied]
}

func New(store storage.Store, c cache.Cache, journal *storage.Journal,
	clock util.Clock, log *zap.SugaredLogger, m *metrics.Metrics) *Engine {
	retry := retrypolicy.NewBuilder[applied]().
		HandleIf(func(_ applied, err error) bool {
			return errors.Is(err, storage.ErrConflict)
		}).
		WithMaxRetries(3).
		Build()
	return &Engine{
		store:   store,
		cache:   c,
		journal: journal,
		clock:   clock,
		log:     log,
		metrics: m,
		retry:   retry,
	}
}

// Now exposes the engine clock so callers stamp error envelopes
// consistently with order timestamps.
func (e *Engine) Now() util.Clock { return e.clock }

// applied is the result of one committed transaction.
type applied struct {
	orderID int32
	account core.Account
	order   core.Order
}

// HandleOrder validates and applies one order for the authenticated
// user, returning the new ledger id.
func (e *Engine) HandleOrder(ctx context.Context, form core.OrderForm, userID int32) (int32, error) {
	start := e.clock.Now()

	if err := form.Validate(); err != nil {
		e.metrics.OrderDone(form.Side, core.KindOf(err).String(), e.clock.Now().Sub(start))
		return 0, err
	}

	product, err := e.product(ctx, form.Symbol)
	if err != nil {
		e.metrics.OrderDone(form.Side, core.KindOf(err).String(), e.clock.Now().Sub(start))
		return 0, err
	}

	order, err := core.NewOrder(form, userID, product, e.clock.Now())
	if err != nil {
		e.metrics.OrderDone(form.Side, core.KindOf(err).String(), e.clock.Now().Sub(start))
		return 0, err
	}

	// Cache-disciplined account fetch; the transaction re-reads the
	// authoritative row under lock before any money moves.
	if _, err := e.account(ctx, userID); err != nil {
		e.metrics.OrderDone(form.Side, core.KindOf(err).String(), e.clock.Now().Sub(start))
		return 0, err
	}

	result, err := failsafe.With(e.retry).WithContext(ctx).Get(func() (applied, error) {
		return e.apply(ctx, form, order)
	})
	if err != nil {
		e.metrics.OrderDone(form.Side, core.KindOf(err).String(), e.clock.Now().Sub(start))
		return 0, err
	}

	// Post-commit, best-effort: keep the account cache coherent and
	// journal the committed order. Neither failure reaches the client.
	if cerr := e.cache.SetJSON(ctx, cache.AccountKey(userID), result.account); cerr != nil {
		e.log.Warnw("account_cache_write_through_failed", "user_id", userID, "err", cerr)
	}
	if e.journal != nil {
		if jerr := e.journal.Append(result.order); jerr != nil {
			e.log.Warnw("journal_append_failed", "order_id", result.orderID, "err", jerr)
		}
	}

	e.metrics.OrderDone(form.Side, "ok", e.clock.Now().Sub(start))
	e.log.Infow("order_applied",
		"order_id", result.orderID,
		"user_id", userID,
		"symbol", form.Symbol,
		"side", form.Side,
		"price", form.Price,
		"lot", form.Lot,
	)
	return result.orderID, nil
}

// HandleOrderEnvelope is the WS-facing shape: the reply envelope carries
// the order id on success and a timestamp or rejection code on failure.
func (e *Engine) HandleOrderEnvelope(ctx context.Context, form core.OrderForm, userID int32) core.Envelope {
	orderID, err := e.HandleOrder(ctx, form, userID)
	if err != nil {
		e.log.Infow("order_rejected", "user_id", userID, "kind", core.KindOf(err).String(), "err", err)
		return core.ErrorEnvelope(err, e.clock.Now())
	}
	return core.OK(strconv.FormatInt(int64(orderID), 10))
}

// apply runs steps portfolio -> ledger -> account in one transaction.
// Ordering is load-bearing for the ledger/account consistency invariant.
func (e *Engine) apply(ctx context.Context, form core.OrderForm, order core.Order) (applied, error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return applied{}, core.Wrap(core.KindDatabase, err)
	}
	defer tx.Rollback(ctx)

	porto, found, err := tx.PortfolioForUpdate(ctx, order.UserID, order.ProductSymbol)
	if err != nil {
		return applied{}, core.Wrap(core.KindDatabase, err)
	}

	notional := form.Notional()
	var basis int64 // cost basis released by a sell

	switch order.Side {
	case core.SideBuy:
		if found {
			newLot := porto.Lot + order.Lot
			newInvested := porto.InvestedValue + notional
			newAvg := buyAvgPrice(porto, order)
			if err := tx.UpdatePortfolio(ctx, porto.PortfolioID, newLot, newInvested, newAvg); err != nil {
				return applied{}, core.Wrap(core.KindDatabase, err)
			}
		} else {
			fresh := core.Portfolio{
				UserID:        order.UserID,
				ProductID:     order.ProductID,
				ProductName:   order.ProductName,
				ProductSymbol: order.ProductSymbol,
				Lot:           order.Lot,
				InvestedValue: notional,
				AvgPrice:      decimal.NewFromInt32(order.Price),
			}
			if _, err := tx.InsertPortfolio(ctx, fresh); err != nil {
				if errors.Is(err, storage.ErrConflict) {
					// Another first buy won the insert race; rerun
					// the transaction on its committed row.
					return applied{}, err
				}
				return applied{}, core.Wrap(core.KindDatabase, err)
			}
		}
	case core.SideSell:
		if !found || porto.Lot < order.Lot {
			return applied{}, core.ErrNotEnoughHoldings
		}
		newLot := porto.Lot - order.Lot
		basis = porto.AvgPrice.
			Mul(decimal.NewFromInt32(order.Lot)).
			Mul(lotSizeDec).
			Round(0).IntPart()
		newInvested := max(porto.InvestedValue-basis, 0)
		if newLot == 0 {
			newInvested = 0
		}
		if err := tx.UpdatePortfolio(ctx, porto.PortfolioID, newLot, newInvested, porto.AvgPrice); err != nil {
			return applied{}, core.Wrap(core.KindDatabase, err)
		}
	}

	orderID, err := tx.InsertOrder(ctx, order)
	if err != nil {
		return applied{}, core.Wrap(core.KindDatabase, err)
	}

	account, err := tx.AccountForUpdate(ctx, order.UserID)
	if err != nil {
		return applied{}, core.Wrap(core.KindDatabase, err)
	}
	switch order.Side {
	case core.SideBuy:
		if notional > account.Balance {
			return applied{}, core.ErrNotEnoughFunds
		}
		account.Balance -= notional
		account.InvestedValue += notional
	case core.SideSell:
		account.Balance += notional
		account.InvestedValue = max(account.InvestedValue-basis, 0)
	}
	if err := tx.UpdateAccount(ctx, account.AccountID, account.Balance, account.InvestedValue); err != nil {
		return applied{}, core.Wrap(core.KindDatabase, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return applied{}, core.Wrap(core.KindDatabase, err)
	}

	order.OrderID = orderID
	return applied{orderID: orderID, account: account, order: order}, nil
}

// buyAvgPrice recomputes the average in decimal so repeated buys do not
// truncate: (price*lot + avg*old_lot) / new_lot.
func buyAvgPrice(porto core.Portfolio, order core.Order) decimal.Decimal {
	orderValue := decimal.NewFromInt32(order.Price).Mul(decimal.NewFromInt32(order.Lot))
	existing := porto.AvgPrice.Mul(decimal.NewFromInt32(porto.Lot))
	return orderValue.Add(existing).DivRound(decimal.NewFromInt32(porto.Lot+order.Lot), 16)
}

// Orders lists the user's ledger rows for GET /order.
func (e *Engine) Orders(ctx context.Context, userID int32) ([]core.OrderSummary, error) {
	orders, err := e.store.OrdersByUserID(ctx, userID)
	if err != nil {
		return nil, core.Wrap(core.KindDatabase, err)
	}
	return orders, nil
}

// Portfolios lists the user's positions for GET /portfolio.
func (e *Engine) Portfolios(ctx context.Context, userID int32) ([]core.PortfolioSummary, error) {
	portfolios, err := e.store.PortfoliosByUserID(ctx, userID)
	if err != nil {
		return nil, core.Wrap(core.KindDatabase, err)
	}
	return portfolios, nil
}

// AccountSnapshot serves GET /account through the cache.
func (e *Engine) AccountSnapshot(ctx context.Context, userID int32) (core.AccountSnapshot, error) {
	account, err := e.account(ctx, userID)
	if err != nil {
		return core.AccountSnapshot{}, err
	}
	return core.AccountSnapshot{
		Balance:       account.Balance,
		InvestedValue: account.InvestedValue,
	}, nil
}

// product reads reference data through product:<symbol>, falling through
// to the store and repopulating the cache on a miss.
func (e *Engine) product(ctx context.Context, symbol string) (core.Product, error) {
	key := cache.ProductKey(symbol)
	var product core.Product
	hit, err := e.cache.GetJSON(ctx, key, &product)
	if err != nil {
		return core.Product{}, core.Wrap(core.KindCache, err)
	}
	e.metrics.CacheRead("product", hit)
	if hit {
		return product, nil
	}
	product, err = e.store.ProductBySymbol(ctx, symbol)
	if err != nil {
		return core.Product{}, core.Wrap(core.KindDatabase, err)
	}
	if cerr := e.cache.SetJSON(ctx, key, product); cerr != nil {
		e.log.Warnw("product_cache_populate_failed", "symbol", symbol, "err", cerr)
	}
	return product, nil
}

// account reads the user's account through account:<user_id> with the
// same fall-through discipline as product.
func (e *Engine) account(ctx context.Context, userID int32) (core.Account, error) {
	key := cache.AccountKey(userID)
	var account core.Account
	hit, err := e.cache.GetJSON(ctx, key, &account)
	if err != nil {
		return core.Account{}, core.Wrap(core.KindCache, err)
	}
	e.metrics.CacheRead("account", hit)
	if hit {
		return account, nil
	}
	account, err = e.store.AccountByUserID(ctx, userID)
	if err != nil {
		return core.Account{}, core.Wrap(core.KindDatabase, err)
	}
	if cerr := e.cache.SetJSON(ctx, key, account); cerr != nil {
		e.log.Warnw("account_cache_populate_failed", "user_id", userID, "err", cerr)
	}
	return account, nil
}
