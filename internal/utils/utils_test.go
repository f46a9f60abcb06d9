package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_ValidateSymbol(t *testing.T) {
	tests := []struct {
		name    string
		symbol  string
		wantErr bool
	}{
		{name: "usdt quote", symbol: "BTC-USDT"},
		{name: "btc quote", symbol: "ETH-BTC"},
		{name: "lowercase quote", symbol: "SOL-usdt"},
		{name: "empty", symbol: "", wantErr: true},
		{name: "no separator", symbol: "BTCUSDT", wantErr: true},
		{name: "empty base", symbol: "-USDT", wantErr: true},
		{name: "empty quote", symbol: "BTC-", wantErr: true},
		{name: "unsupported quote", symbol: "BTC-DOGE", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSymbol(tt.symbol)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func Test_ValidateSymbols(t *testing.T) {
	assert.ErrorIs(t, ValidateSymbols(nil, 5), ErrNoSymbols)
	assert.ErrorIs(t, ValidateSymbols([]string{"BTC-USDT"}, 0), ErrTooManySymbols)
	assert.ErrorIs(t,
		ValidateSymbols([]string{"A-USDT", "B-USDT", "C-USDT"}, 2), ErrTooManySymbols)
	assert.Error(t, ValidateSymbols([]string{"BTC-USDT", "bogus"}, 5))
	assert.NoError(t, ValidateSymbols([]string{"BTC-USDT", "ETH-USDT"}, 5))
}
