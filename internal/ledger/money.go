package ledger

import "github.com/shopspring/decimal"

// MinorUnitExp is the exponent of the smallest currency unit (0.01).
const MinorUnitExp = 2

// MinorUnit is the smallest representable amount.
var MinorUnit = decimal.New(1, -MinorUnitExp)

// MaxAmount is the largest amount or balance storage can hold
// (numeric(20,2): 18 integer digits).
var MaxAmount = decimal.New(1, 18).Sub(MinorUnit)

// hasMinorUnitPrecision reports whether d carries no digits beyond 0.01.
func hasMinorUnitPrecision(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MinorUnitExp))
}

// ValidateAmount checks a transfer amount: strictly positive, at most two
// fractional digits, no larger than MaxAmount.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return newError(CodeInvalidAmount, "amount must be greater than zero")
	}
	if !hasMinorUnitPrecision(amount) {
		return newError(CodeInvalidAmount, "amount must not be more precise than 0.01")
	}
	if amount.GreaterThan(MaxAmount) {
		return newError(CodeInvalidAmount, "amount exceeds the maximum of "+MaxAmount.StringFixed(MinorUnitExp))
	}
	return nil
}

// validateOpeningBalance is ValidateAmount that also admits zero.
func validateOpeningBalance(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return newError(CodeInvalidAmount, "opening balance must not be negative")
	}
	if !hasMinorUnitPrecision(amount) {
		return newError(CodeInvalidAmount, "opening balance must not be more precise than 0.01")
	}
	if amount.GreaterThan(MaxAmount) {
		return newError(CodeInvalidAmount, "opening balance exceeds the maximum of "+MaxAmount.StringFixed(MinorUnitExp))
	}
	return nil
}
