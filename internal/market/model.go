package market

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	CentsPerDollar = int64(100)

	DefaultInitialBalanceCents = int64(200) * CentsPerDollar
	DefaultItemBaseValueCents  = int64(1_000) * CentsPerDollar
	DefaultInvestCents         = int64(10) * CentsPerDollar

	// fractionPlaces keeps amount/value exact to well below a cent for any
	// pool that fits in int64 cents.
	fractionPlaces = int32(18)
)

var (
	DefaultSkimPercent   = decimal.RequireFromString("0.02")
	DefaultDownvoteDecay = decimal.RequireFromString("0.9")
)

var (
	ErrNotFound                  = errors.New("not found")
	ErrItemNotFound              = fmt.Errorf("item %w", ErrNotFound)
	ErrAccountNotFound           = fmt.Errorf("account %w", ErrNotFound)
	ErrAlreadyExists             = errors.New("already exists")
	ErrInsufficientFunds         = errors.New("insufficient funds")
	ErrDuplicateInvestment       = errors.New("already invested in this item")
	ErrNoSuchInvestment          = errors.New("no investment in this item")
	ErrNoInvestments             = errors.New("no investments to sell")
	ErrHasOutstandingInvestments = errors.New("outstanding investments must be sold first")
	ErrTooWealthy                = errors.New("balance too high to declare bankruptcy")
	ErrInvalidAmount             = errors.New("amount must be > 0")
	ErrAmountOutOfRange          = errors.New("amount out of range")
	ErrEngineStopped             = errors.New("market engine is not running")
)

// LiquidationError reports a SellAll that stopped part way. Sales listed in
// Liquidation are committed.
type LiquidationError struct {
	Liquidation Liquidation
	Err         error
}

func (e *LiquidationError) Error() string {
	return fmt.Sprintf("liquidation stopped after %d sale(s) totalling %d cents: %v",
		len(e.Liquidation.Sales), e.Liquidation.TotalCents, e.Err)
}

func (e *LiquidationError) Unwrap() error { return e.Err }

func DollarsToCents(v int64) int64 {
	return v * CentsPerDollar
}

func CentsToDollars(v int64) float64 {
	return float64(v) / float64(CentsPerDollar)
}

// ParseDollars reads a user supplied dollar amount such as "12" or "12.50".
func ParseDollars(s string) (int64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	cents := d.Shift(2).Round(0)
	if !cents.IsPositive() {
		return 0, ErrInvalidAmount
	}
	if !cents.Equal(d.Shift(2)) {
		return 0, fmt.Errorf("amount %q has fractional cents", s)
	}
	if cents.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, fmt.Errorf("amount %q: %w", s, ErrAmountOutOfRange)
	}
	return cents.IntPart(), nil
}

func ownershipFraction(amountCents, entryValueCents int64) decimal.Decimal {
	if entryValueCents <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(amountCents).DivRound(decimal.NewFromInt(entryValueCents), fractionPlaces)
}

func worthCents(fraction decimal.Decimal, valueCents int64) int64 {
	return fraction.Mul(decimal.NewFromInt(valueCents)).Round(0).IntPart()
}

// decayedValueCents must stay a pure function of its inputs so a downvote
// and its removal cancel exactly.
func decayedValueCents(baseCents, downvotes int64, decay decimal.Decimal) int64 {
	if downvotes <= 0 {
		return baseCents
	}
	factor := decay.Pow(decimal.NewFromInt(downvotes))
	v := decimal.NewFromInt(baseCents).Mul(factor).Round(0).IntPart()
	if v < 0 {
		return 0
	}
	return v
}

func referralCents(amountCents int64, skim decimal.Decimal) int64 {
	return decimal.NewFromInt(amountCents).Mul(skim).Truncate(0).IntPart()
}

// compareIDs orders digit-only ids (snowflakes) numerically ahead of any
// other id; other ids compare lexically.
func compareIDs(a, b string) int {
	da, db := isDigits(a), isDigits(b)
	switch {
	case da && db:
		ta, tb := strings.TrimLeft(a, "0"), strings.TrimLeft(b, "0")
		if c := cmp.Compare(len(ta), len(tb)); c != 0 {
			return c
		}
		if c := strings.Compare(ta, tb); c != 0 {
			return c
		}
	case da:
		return -1
	case db:
		return 1
	}
	return strings.Compare(a, b)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// fits reports whether total+delta stays within int64 for non-negative
// operands.
func fits(total, delta int64) bool {
	return delta <= math.MaxInt64-total
}
