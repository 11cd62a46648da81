package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantegy/ordergate/pkg/core"
)

func seededMemory(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory()
	m.SeedProduct(core.Product{ProductID: 7, Symbol: "BBCA", Name: "Bank Central Asia"})
	m.SeedAccount(42, 1_000_000)
	return m
}

func TestMemory_Lookups(t *testing.T) {
	m := seededMemory(t)
	ctx := context.Background()

	p, err := m.ProductBySymbol(ctx, "BBCA")
	require.NoError(t, err)
	assert.Equal(t, int32(7), p.ProductID)

	_, err = m.ProductBySymbol(ctx, "NOPE")
	assert.ErrorIs(t, err, ErrNotFound)

	a, err := m.AccountByUserID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), a.Balance)

	_, err = m.AccountByUserID(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_RollbackRestoresState(t *testing.T) {
	m := seededMemory(t)
	ctx := context.Background()

	tx, err := m.Begin(ctx)
	require.NoError(t, err)

	_, err = tx.InsertPortfolio(ctx, core.Portfolio{
		UserID:        42,
		ProductID:     7,
		ProductSymbol: "BBCA",
		ProductName:   "Bank Central Asia",
		Lot:           1,
		InvestedValue: 900_000,
		AvgPrice:      decimal.NewFromInt(9000),
	})
	require.NoError(t, err)

	_, err = tx.InsertOrder(ctx, core.Order{UserID: 42, ProductSymbol: "BBCA", Side: core.SideBuy})
	require.NoError(t, err)

	account, err := tx.AccountForUpdate(ctx, 42)
	require.NoError(t, err)
	require.NoError(t, tx.UpdateAccount(ctx, account.AccountID, 100_000, 900_000))

	require.NoError(t, tx.Rollback(ctx))

	portfolios, err := m.PortfoliosByUserID(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, portfolios)

	orders, err := m.OrdersByUserID(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, orders)

	restored, err := m.AccountByUserID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), restored.Balance)
	assert.Equal(t, int64(0), restored.InvestedValue)
}

func TestMemory_CommitKeepsState(t *testing.T) {
	m := seededMemory(t)
	ctx := context.Background()

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	id, err := tx.InsertOrder(ctx, core.Order{UserID: 42, ProductSymbol: "BBCA", Side: core.SideBuy})
	require.NoError(t, err)
	assert.Equal(t, int32(1), id)
	require.NoError(t, tx.Commit(ctx))

	// Rollback after commit is a no-op.
	require.NoError(t, tx.Rollback(ctx))

	orders, err := m.OrdersByUserID(ctx, 42)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestMemory_DuplicatePortfolioConflicts(t *testing.T) {
	m := seededMemory(t)
	ctx := context.Background()

	row := core.Portfolio{UserID: 42, ProductID: 7, ProductSymbol: "BBCA", AvgPrice: decimal.NewFromInt(100)}

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.InsertPortfolio(ctx, row)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	tx, err = m.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.InsertPortfolio(ctx, row)
	assert.ErrorIs(t, err, ErrConflict)
	require.NoError(t, tx.Rollback(ctx))
}

func TestMemory_PortfolioForUpdate(t *testing.T) {
	m := seededMemory(t)
	ctx := context.Background()

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	_, found, err := tx.PortfolioForUpdate(ctx, 42, "BBCA")
	require.NoError(t, err)
	assert.False(t, found)

	id, err := tx.InsertPortfolio(ctx, core.Portfolio{
		UserID: 42, ProductID: 7, ProductSymbol: "BBCA",
		Lot: 2, InvestedValue: 20_000, AvgPrice: decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	require.NoError(t, tx.UpdatePortfolio(ctx, id, 3, 30_000, decimal.NewFromInt(100)))

	p, found, err := tx.PortfolioForUpdate(ctx, 42, "BBCA")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int32(3), p.Lot)
	require.NoError(t, tx.Commit(ctx))
}

func TestMemory_BeginSerializesTransactions(t *testing.T) {
	m := seededMemory(t)
	ctx := context.Background()

	tx, err := m.Begin(ctx)
	require.NoError(t, err)

	second := make(chan struct{})
	go func() {
		tx2, err := m.Begin(ctx)
		if err == nil {
			_ = tx2.Commit(ctx)
		}
		close(second)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-second:
		t.Fatal("second transaction began before the first finished")
	default:
	}

	require.NoError(t, tx.Commit(ctx))
	<-second
}
