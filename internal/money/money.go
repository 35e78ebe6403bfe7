// Package money handles kwanza amounts as int64 minor units (cêntimos).
package money

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrTooManyDecimals = errors.New("amount has too many decimal places")
	ErrInvalidRate     = errors.New("invalid rate")
)

// ParseMinor accepts "1500", "1500.5", "1500.50" and "1500,50".
func ParseMinor(input string) (int64, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(input), ",", ".")
	if trimmed == "" {
		return 0, ErrInvalidAmount
	}
	sign := int64(1)
	switch trimmed[0] {
	case '-':
		sign = -1
		trimmed = trimmed[1:]
	case '+':
		trimmed = trimmed[1:]
	}
	wholePart, fracPart, _ := strings.Cut(trimmed, ".")
	if wholePart == "" {
		wholePart = "0"
	}
	if !isDigits(wholePart) || !isDigits(fracPart) {
		return 0, ErrInvalidAmount
	}
	if len(fracPart) > 2 {
		return 0, ErrTooManyDecimals
	}
	whole, err := strconv.ParseInt(wholePart, 10, 64)
	if err != nil || whole > (1<<62)/100 {
		return 0, ErrInvalidAmount
	}
	frac := int64(0)
	for i := 0; i < 2; i++ {
		frac *= 10
		if i < len(fracPart) {
			frac += int64(fracPart[i] - '0')
		}
	}
	return sign * (whole*100 + frac), nil
}

func FormatMinor(value int64) string {
	negative := value < 0
	if negative {
		value = -value
	}
	formatted := fmt.Sprintf("%d.%02d", value/100, value%100)
	if negative {
		return "-" + formatted
	}
	return formatted
}

// ParseRate parses a non-negative fractional rate such as "0.15".
func ParseRate(raw string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || rate.IsNegative() {
		return decimal.Zero, ErrInvalidRate
	}
	return rate, nil
}

// ApplyRate returns amountMinor*rate rounded half-to-even to whole minor units.
func ApplyRate(amountMinor int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amountMinor).Mul(rate).RoundBank(0).IntPart()
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
