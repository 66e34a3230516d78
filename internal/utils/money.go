package utils

import (
	"github.com/shopspring/decimal"

	"github.com/Dan9191/card-service/internal/apperrors"
)

// maxIntegerDigits matches the NUMERIC(15,2) balance column
const maxIntegerDigits = 13

var maxMoney = decimal.New(1, maxIntegerDigits)

// ParseMoney parses a decimal amount with at most two fraction digits
func ParseMoney(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, apperrors.Validation(field, "amount format is invalid")
	}
	if err := CheckMoney(field, d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// CheckMoney validates scale and magnitude of a money value. Sign is checked by callers.
func CheckMoney(field string, d decimal.Decimal) error {
	if !d.Equal(d.Truncate(2)) {
		return apperrors.Validation(field, "at most 2 fraction digits are allowed")
	}
	if d.Abs().GreaterThanOrEqual(maxMoney) {
		return apperrors.Validation(field, "at most 13 integer digits are allowed")
	}
	return nil
}
