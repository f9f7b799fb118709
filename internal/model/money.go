// Package model defines the shared domain vocabulary of the clearinghouse:
// agents, wallets, markets, orders, trades, positions, and the fixed-precision
// numeric types all of those are built from.
package model

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// centsExp is the exponent used to round all Money and Price values to two
// decimal places (hundredths), per spec.md §6's currency-units rule.
const centsExp = -2

// Money is a non-negative-or-signed monetary amount, always rounded to
// hundredths. Using decimal.Decimal instead of float64 keeps the ledger's
// conservation invariants (spec.md §8) bit-exact instead of float-drifted.
type Money struct{ d decimal.Decimal }

// NewMoney rounds v to hundredths and wraps it.
func NewMoney(v decimal.Decimal) Money { return Money{v.Round(2)} }

// MoneyFromCents builds a Money from an integer count of hundredths (cents).
func MoneyFromCents(cents int64) Money {
	return Money{decimal.New(cents, centsExp)}
}

// MoneyFromFloat builds a Money from a float64, rounding to hundredths.
// Reserved for config/test literals; arithmetic should stay in Decimal.
func MoneyFromFloat(v float64) Money {
	return Money{decimal.NewFromFloat(v).Round(2)}
}

func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) Add(o Money) Money { return Money{m.d.Add(o.d).Round(2)} }
func (m Money) Sub(o Money) Money { return Money{m.d.Sub(o.d).Round(2)} }
func (m Money) Neg() Money        { return Money{m.d.Neg()} }
func (m Money) Mul(f decimal.Decimal) Money {
	return Money{m.d.Mul(f).Round(2)}
}
func (m Money) Cmp(o Money) int        { return m.d.Cmp(o.d) }
func (m Money) IsZero() bool           { return m.d.IsZero() }
func (m Money) IsNegative() bool       { return m.d.IsNegative() }
func (m Money) IsPositive() bool       { return m.d.IsPositive() }
func (m Money) GreaterThan(o Money) bool      { return m.d.GreaterThan(o.d) }
func (m Money) GreaterThanOrEqual(o Money) bool { return m.d.GreaterThanOrEqual(o.d) }
func (m Money) LessThan(o Money) bool         { return m.d.LessThan(o.d) }

func (m Money) String() string { return m.d.StringFixed(2) }

// Value/Scan let Money participate in database/sql-backed persistence
// implementations without the core depending on any particular driver.
func (m Money) Value() (driver.Value, error) { return m.d.Value() }
func (m *Money) Scan(src any) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return fmt.Errorf("model.Money.Scan: %w", err)
	}
	m.d = d.Round(2)
	return nil
}

func (m Money) MarshalJSON() ([]byte, error) { return m.d.Round(2).MarshalJSON() }
func (m *Money) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("model.Money.UnmarshalJSON: %w", err)
	}
	m.d = d.Round(2)
	return nil
}

var Zero = Money{decimal.Zero}

// Price is a unitless probability in [0.01, 0.99], ticked to hundredths.
// It reuses Money's decimal representation since both are hundredths-scaled.
type Price struct{ d decimal.Decimal }

const (
	MinPriceCents = 1
	MaxPriceCents = 99
)

var (
	MinPrice = Price{decimal.New(MinPriceCents, centsExp)}
	MaxPrice = Price{decimal.New(MaxPriceCents, centsExp)}
)

// NewPrice rounds v to the nearest tick (0.01 by default).
func NewPrice(v decimal.Decimal) Price { return Price{v.Round(2)} }

func PriceFromCents(cents int64) Price { return Price{decimal.New(cents, centsExp)} }

func PriceFromFloat(v float64) Price { return Price{decimal.NewFromFloat(v).Round(2)} }

func (p Price) Decimal() decimal.Decimal { return p.d }
func (p Price) String() string           { return p.d.StringFixed(2) }
func (p Price) Cmp(o Price) int          { return p.d.Cmp(o.d) }
func (p Price) Equal(o Price) bool       { return p.d.Equal(o.d) }
func (p Price) LessThan(o Price) bool    { return p.d.LessThan(o.d) }
func (p Price) GreaterThan(o Price) bool { return p.d.GreaterThan(o.d) }
func (p Price) Sub(o Price) Price        { return Price{p.d.Sub(o.d).Round(2)} }
func (p Price) Add(o Price) Price        { return Price{p.d.Add(o.d).Round(2)} }
func (p Price) Float64() float64         { f, _ := p.d.Float64(); return f }

// Complement returns 1 - p, the NO-side price of a YES price (and vice versa).
func (p Price) Complement() Price {
	return Price{decimal.New(1, 0).Sub(p.d).Round(2)}
}

// InBounds reports whether p lies within the tradable range [0.01, 0.99].
func (p Price) InBounds() bool {
	return p.d.GreaterThanOrEqual(MinPrice.d) && p.d.LessThanOrEqual(MaxPrice.d)
}

func (p Price) MarshalJSON() ([]byte, error) { return p.d.Round(2).MarshalJSON() }
func (p *Price) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("model.Price.UnmarshalJSON: %w", err)
	}
	p.d = d.Round(2)
	return nil
}

// MulQty multiplies a price by an integer share quantity, returning Money.
func (p Price) MulQty(qty int64) Money {
	return Money{p.d.Mul(decimal.New(qty, 0)).Round(2)}
}
