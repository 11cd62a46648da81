package storage

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/quantegy/ordergate/pkg/core"
)

// Memory is a map-backed Store for tests and single-process local runs.
// Begin takes the store lock for the whole transaction, which gives the
// same per-(user, symbol) serialization the row locks give in Postgres.
type Memory struct {
	mu          sync.Mutex
	products    map[string]core.Product // by symbol
	accounts    map[int32]*core.Account // by user id
	portfolios  []*core.Portfolio
	orders      []core.Order
	nextOrderID int32
	nextPortoID int32
	nextAcctID  int32
}

func NewMemory() *Memory {
	return &Memory{
		products:    make(map[string]core.Product),
		accounts:    make(map[int32]*core.Account),
		nextOrderID: 1,
		nextPortoID: 1,
		nextAcctID:  1,
	}
}

// SeedProduct registers reference data, mirroring out-of-band creation.
func (m *Memory) SeedProduct(p core.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.Symbol] = p
}

// SeedAccount opens an account for a user with an initial balance.
func (m *Memory) SeedAccount(userID int32, balance int64) core.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := &core.Account{AccountID: m.nextAcctID, UserID: userID, Balance: balance}
	m.nextAcctID++
	m.accounts[userID] = a
	return *a
}

func (m *Memory) ProductBySymbol(_ context.Context, symbol string) (core.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[symbol]
	if !ok {
		return core.Product{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) AccountByUserID(_ context.Context, userID int32) (core.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return core.Account{}, ErrNotFound
	}
	return *a, nil
}

func (m *Memory) OrdersByUserID(_ context.Context, userID int32) ([]core.OrderSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []core.OrderSummary{}
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, o.Summary())
		}
	}
	return out, nil
}

func (m *Memory) PortfoliosByUserID(_ context.Context, userID int32) ([]core.PortfolioSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []core.PortfolioSummary{}
	for _, p := range m.portfolios {
		if p.UserID == userID {
			out = append(out, core.PortfolioSummary{
				Symbol:        p.ProductSymbol,
				Name:          p.ProductName,
				Lot:           p.Lot,
				InvestedValue: p.InvestedValue,
				AvgPrice:      p.AvgPrice,
			})
		}
	}
	return out, nil
}

func (m *Memory) Begin(context.Context) (Tx, error) {
	m.mu.Lock()
	return &memTx{store: m}, nil
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close()                     {}

var _ Store = (*Memory)(nil)

// memTx mutates the store in place under the store lock and keeps undo
// closures so Rollback can restore the pre-transaction state.
type memTx struct {
	store *Memory
	undo  []func()
	done  bool
}

func (t *memTx) PortfolioForUpdate(_ context.Context, userID int32, symbol string) (core.Portfolio, bool, error) {
	for _, p := range t.store.portfolios {
		if p.UserID == userID && p.ProductSymbol == symbol {
			return *p, true, nil
		}
	}
	return core.Portfolio{}, false, nil
}

func (t *memTx) InsertPortfolio(_ context.Context, p core.Portfolio) (int32, error) {
	for _, existing := range t.store.portfolios {
		if existing.UserID == p.UserID && existing.ProductSymbol == p.ProductSymbol {
			return 0, ErrConflict
		}
	}
	p.PortfolioID = t.store.nextPortoID
	t.store.nextPortoID++
	row := p
	t.store.portfolios = append(t.store.portfolios, &row)
	t.undo = append(t.undo, func() {
		t.store.portfolios = t.store.portfolios[:len(t.store.portfolios)-1]
		t.store.nextPortoID--
	})
	return p.PortfolioID, nil
}

func (t *memTx) UpdatePortfolio(_ context.Context, portfolioID int32, lot int32, investedValue int64, avgPrice decimal.Decimal) error {
	for _, p := range t.store.portfolios {
		if p.PortfolioID == portfolioID {
			prev := *p
			t.undo = append(t.undo, func() { *p = prev })
			p.Lot = lot
			p.InvestedValue = investedValue
			p.AvgPrice = avgPrice
			return nil
		}
	}
	return ErrNotFound
}

func (t *memTx) InsertOrder(_ context.Context, o core.Order) (int32, error) {
	o.OrderID = t.store.nextOrderID
	t.store.nextOrderID++
	t.store.orders = append(t.store.orders, o)
	t.undo = append(t.undo, func() {
		t.store.orders = t.store.orders[:len(t.store.orders)-1]
		t.store.nextOrderID--
	})
	return o.OrderID, nil
}

func (t *memTx) AccountForUpdate(_ context.Context, userID int32) (core.Account, error) {
	a, ok := t.store.accounts[userID]
	if !ok {
		return core.Account{}, ErrNotFound
	}
	return *a, nil
}

func (t *memTx) UpdateAccount(_ context.Context, accountID int32, balance, investedValue int64) error {
	for _, a := range t.store.accounts {
		if a.AccountID == accountID {
			prev := *a
			t.undo = append(t.undo, func() { *a = prev })
			a.Balance = balance
			a.InvestedValue = investedValue
			return nil
		}
	}
	return ErrNotFound
}

func (t *memTx) Commit(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.undo = nil
	t.store.mu.Unlock()
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.store.mu.Unlock()
	return nil
}

var _ Tx = (*memTx)(nil)
