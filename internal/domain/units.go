package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Sats is an amount of bitcoin in satoshis.
type Sats uint64

// SatsPerBTC is the number of satoshis in one bitcoin.
const SatsPerBTC Sats = 100_000_000

// Cents is a fiat price of one bitcoin in US cents.
type Cents int64

// Height is a block height.
type Height uint64

// OptionalCents is a price that may be absent (no price feed at that height,
// or an undefined percentile of an empty cohort). Absence is never encoded as zero.
type OptionalCents struct {
	Value Cents
	Valid bool
}

// SomeCents returns a present price.
func SomeCents(c Cents) OptionalCents {
	return OptionalCents{Value: c, Valid: true}
}

// NoCents is the absent price.
var NoCents = OptionalCents{}

func (o OptionalCents) String() string {
	if !o.Valid {
		return "-"
	}
	return fmt.Sprintf("%d", o.Value)
}

// fiatScale converts sats*cents into dollars: 1e8 sats per BTC, 100 cents per dollar.
const fiatScale = -10

// Fiat returns the dollar value of amount at price, exact to 1e-10 dollars.
func Fiat(amount Sats, price Cents) decimal.Decimal {
	return decimal.NewFromInt(int64(amount)).Mul(decimal.NewFromInt(int64(price))).Shift(fiatScale)
}

// BTC returns amount expressed in bitcoin.
func BTC(amount Sats) decimal.Decimal {
	return decimal.NewFromInt(int64(amount)).Shift(-8)
}

// PricePerBTC divides a dollar value by an amount and returns the
// resulting price in cents, rounded half away from zero.
// Returns NoCents when amount is zero.
func PricePerBTC(value decimal.Decimal, amount Sats) OptionalCents {
	if amount == 0 {
		return NoCents
	}
	cents := value.Shift(-fiatScale).Div(decimal.NewFromInt(int64(amount))).Round(0)
	return SomeCents(Cents(cents.IntPart()))
}
