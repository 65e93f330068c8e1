package money

import (
	"fmt"
	"strings"
)

// Symbols for the currencies the platform settles in.
var symbols = map[string]string{
	"gbp": "£",
	"usd": "$",
	"eur": "€",
}

// FormatMinor renders an integer minor-unit amount as a display string,
// e.g. FormatMinor(5000, "gbp") == "£50.00". This is the only place the
// codebase divides a monetary value by 100; persisted and queued values
// stay in minor units.
func FormatMinor(amount int64, currency string) string {
	symbol, ok := symbols[strings.ToLower(currency)]
	if !ok {
		symbol = strings.ToUpper(currency) + " "
	}

	negative := amount < 0
	if negative {
		amount = -amount
	}

	s := fmt.Sprintf("%s%d.%02d", symbol, amount/100, amount%100)
	if negative {
		return "-" + s
	}
	return s
}
