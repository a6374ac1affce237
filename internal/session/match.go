package session

import (
	"strings"

	"github.com/shopspring/decimal"

	"payment_verification_gateway/internal/model"
)

// NormalizeToken case-folds and trims a payer token
func NormalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ParseAmount reads an extracted amount, ignoring thousands separators
func ParseAmount(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(s), ",", ""))
}

// Matches applies the match policy: the extracted payer must contain the
// expected token and the amounts must be numerically equal.
func Matches(got model.Extracted, expectedToken string, expectedAmount decimal.Decimal) bool {
	if got.PayerToken == nil || got.Amount == nil {
		return false
	}

	want := NormalizeToken(expectedToken)
	if want == "" || !strings.Contains(NormalizeToken(*got.PayerToken), want) {
		return false
	}

	amount, err := ParseAmount(*got.Amount)
	if err != nil {
		return false
	}
	return amount.Equal(expectedAmount)
}
