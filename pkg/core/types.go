package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LotSize is the number of shares per lot. All cash movements are
// notional = price * lot * LotSize, in integer minor units.
const LotSize = 100

// Side of an order: B (buy) or S (sell).
type Side string

const (
	SideBuy  Side = "B"
	SideSell Side = "S"
)

func ParseSide(s string) (Side, error) {
	switch s {
	case "B":
		return SideBuy, nil
	case "S":
		return SideSell, nil
	default:
		return "", BadRequestf("side not supported: %q", s)
	}
}

// Expiry is the order time-in-force.
type Expiry string

const (
	ExpiryGTC Expiry = "GTC" // good till cancelled
	ExpiryGFD Expiry = "GFD" // good for day
)

func ParseExpiry(s string) (Expiry, error) {
	switch s {
	case "GTC":
		return ExpiryGTC, nil
	case "GFD":
		return ExpiryGFD, nil
	default:
		return "", BadRequestf("expiry not found: %q", s)
	}
}

// Product is read-only reference data, one row per symbol.
type Product struct {
	ProductID int32  `json:"product_id"`
	Symbol    string `json:"symbol"`
	Name      string `json:"name"`
}

// Account is the cash account, one per user. Balance and invested value
// never go negative on a committed order.
type Account struct {
	AccountID     int32 `json:"account_id"`
	UserID        int32 `json:"user_id"`
	Balance       int64 `json:"balance"`
	InvestedValue int64 `json:"invested_value"`
}

// AccountSnapshot is the read-only view served by GET /account.
type AccountSnapshot struct {
	Balance       int64 `json:"balance"`
	InvestedValue int64 `json:"invested_value"`
}

// Portfolio holds one (user, symbol) position. AvgPrice is decimal so
// repeated accumulation does not truncate.
type Portfolio struct {
	PortfolioID   int32           `json:"portfolio_id"`
	UserID        int32           `json:"user_id"`
	ProductID     int32           `json:"product_id"`
	ProductName   string          `json:"product_name"`
	ProductSymbol string          `json:"product_symbol"`
	Lot           int32           `json:"lot"`
	InvestedValue int64           `json:"invested_value"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
}

// PortfolioSummary is the listing shape served by GET /portfolio.
type PortfolioSummary struct {
	Symbol        string          `json:"product_symbol"`
	Name          string          `json:"product_name"`
	Lot           int32           `json:"lot"`
	InvestedValue int64           `json:"invested_value"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
}

// Order is one row of the append-only ledger, immutable after insert.
type Order struct {
	OrderID       int32     `json:"order_id"`
	ProductSymbol string    `json:"product_symbol"`
	ProductName   string    `json:"product_name"`
	Side          Side      `json:"side"`
	Price         int32     `json:"price"`
	Lot           int32     `json:"lot"`
	Expiry        Expiry    `json:"expiry"`
	CreatedAt     time.Time `json:"created_at"`
	UserID        int32     `json:"user_id"`
	ProductID     int32     `json:"product_id"`
}

// OrderSummary is the listing shape served by GET /order.
type OrderSummary struct {
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Side      string    `json:"side"`
	Price     int32     `json:"price"`
	Lot       int32     `json:"lot"`
	Expiry    string    `json:"expiry"`
	CreatedAt time.Time `json:"created_at"`
}

// OrderForm is the wire-format submission, over WS frames or POST body.
// A user_id field in the body is ignored; identity comes from the token.
type OrderForm struct {
	Symbol string `json:"symbol"`
	Side   string `json:"side"`
	Price  uint32 `json:"price"`
	Lot    uint32 `json:"lot"`
	Expiry string `json:"expiry"`
}

// Notional is the cash cost of the form in minor units.
func (f OrderForm) Notional() int64 {
	return int64(f.Price) * int64(f.Lot) * LotSize
}

func (f OrderForm) Validate() error {
	if f.Symbol == "" {
		return BadRequestf("symbol required")
	}
	if f.Lot == 0 {
		return BadRequestf("lot must be positive")
	}
	if _, err := ParseSide(f.Side); err != nil {
		return err
	}
	if _, err := ParseExpiry(f.Expiry); err != nil {
		return err
	}
	return nil
}

// NewOrder builds the ledger row for a validated form. The form's expiry
// and side must already have parsed.
func NewOrder(form OrderForm, userID int32, product Product, now time.Time) (Order, error) {
	expiry, err := ParseExpiry(form.Expiry)
	if err != nil {
		return Order{}, err
	}
	side, err := ParseSide(form.Side)
	if err != nil {
		return Order{}, err
	}
	return Order{
		ProductSymbol: form.Symbol,
		ProductName:   product.Name,
		Side:          side,
		Price:         int32(form.Price),
		Lot:           int32(form.Lot),
		Expiry:        expiry,
		CreatedAt:     now.UTC(),
		UserID:        userID,
		ProductID:     product.ProductID,
	}, nil
}

func (o Order) Summary() OrderSummary {
	return OrderSummary{
		Symbol:    o.ProductSymbol,
		Name:      o.ProductName,
		Side:      string(o.Side),
		Price:     o.Price,
		Lot:       o.Lot,
		Expiry:    string(o.Expiry),
		CreatedAt: o.CreatedAt,
	}
}

func (o Order) String() string {
	return fmt.Sprintf("order{%s %s price=%d lot=%d %s user=%d}",
		o.Side, o.ProductSymbol, o.Price, o.Lot, o.Expiry, o.UserID)
}
