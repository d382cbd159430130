package domain

import "github.com/shopspring/decimal"

// FormatAmount renders an amount in minor units (centavos) for chat messages.
func FormatAmount(minor int64) string {
	return "R$ " + decimal.New(minor, -2).StringFixed(2)
}
