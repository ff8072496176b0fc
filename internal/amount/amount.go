// Package amount implements the fixed-point coin amount used by the ledger.
//
// An Amount counts satoshis, the smallest indivisible unit. One coin is
// 100 000 000 satoshis. All arithmetic is integer arithmetic, so no unit is
// ever lost or created by a split.
package amount

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const (
	// Decimals is the number of fractional digits of one coin.
	Decimals = 8
	// SatsPerCoin is the number of satoshis in one coin.
	SatsPerCoin = 100_000_000
)

var (
	ErrNegative  = errors.New("amount is negative")
	ErrOverflow  = errors.New("amount overflows")
	ErrPrecision = errors.New("amount has more than 8 decimal places")
	ErrNoParts   = errors.New("cannot split into zero parts")
)

// Amount is a non-negative number of satoshis.
type Amount int64

const Zero Amount = 0

var maxSats = decimal.NewFromInt(math.MaxInt64)

// FromSats returns the amount of s satoshis.
func FromSats(s int64) (Amount, error) {
	if s < 0 {
		return Zero, ErrNegative
	}
	return Amount(s), nil
}

// Parse reads a decimal coin string such as "1.5" or "0.00000001".
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if !d.Equal(d.Truncate(Decimals)) {
		return Zero, ErrPrecision
	}
	return fromDecimal(d)
}

// FromCoins converts a float coin value, as delivered by chat command options
// and the wallet RPC, rounding half away from zero to the nearest satoshi.
func FromCoins(f float64) (Amount, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Zero, ErrOverflow
	}
	return fromDecimal(decimal.NewFromFloat(f).Round(Decimals))
}

func fromDecimal(d decimal.Decimal) (Amount, error) {
	if d.IsNegative() {
		return Zero, ErrNegative
	}
	sats := d.Shift(Decimals)
	if sats.GreaterThan(maxSats) {
		return Zero, ErrOverflow
	}
	return Amount(sats.IntPart()), nil
}

// Sats returns the raw satoshi count.
func (a Amount) Sats() int64 { return int64(a) }

// Decimal returns the amount in coins.
func (a Amount) Decimal() decimal.Decimal { return decimal.New(int64(a), -Decimals) }

// Coins returns the amount in coins as a float, for display only.
func (a Amount) Coins() float64 { return a.Decimal().InexactFloat64() }

func (a Amount) String() string { return a.Decimal().StringFixed(Decimals) }

// Format renders the amount followed by the coin ticker, e.g. "1.50000000 VRSC".
func (a Amount) Format(ticker string) string {
	if ticker == "" {
		return a.String()
	}
	return a.String() + " " + ticker
}

func (a Amount) IsZero() bool { return a == 0 }

func (a Amount) LessThan(b Amount) bool { return a < b }

// Cmp returns -1, 0 or 1 as a is less than, equal to or greater than b.
func (a Amount) Cmp(b Amount) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Add returns a+b or ErrOverflow.
func (a Amount) Add(b Amount) (Amount, error) {
	if b > 0 && a > math.MaxInt64-b {
		return Zero, ErrOverflow
	}
	return a + b, nil
}

// Sub returns a-b or ErrNegative when b exceeds a.
func (a Amount) Sub(b Amount) (Amount, error) {
	if b > a {
		return Zero, ErrNegative
	}
	return a - b, nil
}

// MulCount returns a*n for a non-negative count n.
func (a Amount) MulCount(n int) (Amount, error) {
	if n < 0 {
		return Zero, ErrNegative
	}
	if n == 0 || a == 0 {
		return Zero, nil
	}
	if int64(a) > math.MaxInt64/int64(n) {
		return Zero, ErrOverflow
	}
	return a * Amount(n), nil
}

// Split divides a evenly across n parts. share is floor(a/n) and moved is
// share*n; the remainder a-moved is not part of either.
func (a Amount) Split(n int) (share, moved Amount, err error) {
	if n <= 0 {
		return Zero, Zero, ErrNoParts
	}
	share = a / Amount(n)
	return share, share * Amount(n), nil
}

// Sum adds all amounts, failing on overflow.
func Sum(as ...Amount) (Amount, error) {
	var total Amount
	for _, a := range as {
		var err error
		if total, err = total.Add(a); err != nil {
			return Zero, err
		}
	}
	return total, nil
}
