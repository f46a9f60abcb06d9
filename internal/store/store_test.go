package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rangebar/internal/fixedpoint"
	"rangebar/internal/model"
)

func newTestStore(t *testing.T) *BarStore {
	t.Helper()
	s, err := NewBarStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testBar(symbol string, firstID int64) model.Bar {
	return model.Bar{
		Symbol:         symbol,
		OpenTime:       1700000000000,
		CloseTime:      1700000001000,
		Open:           fixedpoint.MustParse("50000"),
		High:           fixedpoint.MustParse("50163.877"),
		Low:            fixedpoint.MustParse("49990.5"),
		Close:          fixedpoint.MustParse("50163.877"),
		Volume:         fixedpoint.MustParse("4.5"),
		Turnover:       fixedpoint.MustParse("225300.25"),
		TradeCount:     3,
		FirstID:        firstID,
		LastID:         firstID + 2,
		BuyVolume:      fixedpoint.MustParse("3"),
		SellVolume:     fixedpoint.MustParse("1.5"),
		BuyTurnover:    fixedpoint.MustParse("150200"),
		SellTurnover:   fixedpoint.MustParse("75100.25"),
		BuyTradeCount:  2,
		SellTradeCount: 1,
		VWAP:           fixedpoint.MustParse("50066.72222222"),
	}
}

func Test_BarStore_SaveAndLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := testBar("BTC-USDT", 1)
	require.NoError(t, s.SaveBar(ctx, want))
	require.NoError(t, s.SaveBar(ctx, testBar("ETH-USDT", 1)))

	bars, err := s.LoadBars(ctx, "BTC-USDT", 10)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, want, bars[0])
}

func Test_BarStore_LoadOrdersByFirstID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Insert out of emission order; reads must come back sorted.
	require.NoError(t, s.SaveBar(ctx, testBar("BTC-USDT", 40)))
	require.NoError(t, s.SaveBar(ctx, testBar("BTC-USDT", 10)))
	require.NoError(t, s.SaveBar(ctx, testBar("BTC-USDT", 25)))

	bars, err := s.LoadBars(ctx, "BTC-USDT", 10)
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, int64(10), bars[0].FirstID)
	assert.Equal(t, int64(25), bars[1].FirstID)
	assert.Equal(t, int64(40), bars[2].FirstID)

	limited, err := s.LoadBars(ctx, "BTC-USDT", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func Test_BarStore_RejectsIncompleteBar(t *testing.T) {
	s := newTestStore(t)

	bar := testBar("BTC-USDT", 1)
	bar.Incomplete = true

	err := s.SaveBar(context.Background(), bar)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incomplete")

	n, err := s.CountBars(context.Background(), "BTC-USDT")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func Test_BarStore_RejectsDuplicateFirstID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveBar(ctx, testBar("BTC-USDT", 1)))
	assert.Error(t, s.SaveBar(ctx, testBar("BTC-USDT", 1)))
}

func Test_BarStore_CountBars(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.CountBars(ctx, "BTC-USDT")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.SaveBar(ctx, testBar("BTC-USDT", 1)))
	require.NoError(t, s.SaveBar(ctx, testBar("BTC-USDT", 5)))

	n, err = s.CountBars(ctx, "BTC-USDT")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
