// Package utils holds symbol validation shared by the service and the
// transport layer.
package utils

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoSymbols is returned when a subscription requests nothing.
	ErrNoSymbols = errors.New("zero symbols requested")

	// ErrTooManySymbols is returned when a subscription exceeds the
	// configured limit.
	ErrTooManySymbols = errors.New("too many symbols requested")
)

// quoteAssets lists the quote assets a symbol may settle in.
var quoteAssets = map[string]bool{
	"USDT": true,
	"USDC": true,
	"BTC":  true,
	"ETH":  true,
}

// ValidateSymbol checks that a symbol has the BASE-QUOTE form with a
// non-empty base and a supported quote asset. Matching is case-insensitive
// on the quote.
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return errors.New("symbol cannot be empty")
	}

	base, quote, ok := strings.Cut(symbol, "-")
	if !ok {
		return fmt.Errorf("invalid symbol format: expected BASE-QUOTE, got %q", symbol)
	}
	if base == "" {
		return errors.New("base asset cannot be empty")
	}
	if quote == "" {
		return errors.New("quote asset cannot be empty")
	}

	if !quoteAssets[strings.ToUpper(quote)] {
		return fmt.Errorf("unsupported quote asset: %s (supported: %s)",
			quote, supportedQuotes())
	}

	return nil
}

// ValidateSymbols validates each symbol and enforces the per-subscription
// count limit.
func ValidateSymbols(symbols []string, maxAllowed int) error {
	if len(symbols) == 0 {
		return ErrNoSymbols
	}
	if maxAllowed <= 0 {
		return fmt.Errorf("%w: max allowed must be positive, got %d",
			ErrTooManySymbols, maxAllowed)
	}
	if len(symbols) > maxAllowed {
		return fmt.Errorf("%w: requested %d symbols, maximum allowed %d",
			ErrTooManySymbols, len(symbols), maxAllowed)
	}

	for i, symbol := range symbols {
		if err := ValidateSymbol(symbol); err != nil {
			return fmt.Errorf("invalid symbol at index %d (%q): %w", i, symbol, err)
		}
	}
	return nil
}

func supportedQuotes() string {
	keys := make([]string, 0, len(quoteAssets))
	for k := range quoteAssets {
		keys = append(keys, k)
	}
	return strings.Join(keys, ", ")
}
