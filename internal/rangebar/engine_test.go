package rangebar

import (
	"math/rand"
	"testing"

	"rangebar/internal/fixedpoint"
	"rangebar/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test_NewEngine verifies threshold validation at construction time.
func Test_NewEngine(t *testing.T) {
	e, err := NewEngine("BTC-USDT", 250)
	require.NoError(t, err)
	assert.Equal(t, "BTC-USDT", e.Symbol())
	assert.Equal(t, uint32(250), e.Threshold())

	_, err = NewEngine("BTC-USDT", 0)
	assert.ErrorIs(t, err, ErrInvalidThreshold)
}

// Test_Engine_SingleBreach: two trades, the second 0.25% above the first,
// must close exactly one bar containing both trades.
func Test_Engine_SingleBreach(t *testing.T) {
	e, err := NewEngine("BTC-USDT", 250)
	require.NoError(t, err)

	e.Push(trade(1, "50000", "1", 1000, model.Buy))
	e.Push(trade(2, "50163.877", "2", 1001, model.Sell))

	bars := e.DrainCompleted()
	require.Len(t, bars, 1)

	bar := bars[0]
	assert.Equal(t, fixedpoint.MustParse("50000"), bar.Open)
	assert.Equal(t, fixedpoint.MustParse("50163.877"), bar.Close)
	assert.True(t, bar.Close >= fixedpoint.MustParse("50125"), "close must reach the upper bound")
	assert.Equal(t, int64(2), bar.TradeCount)
	assert.Equal(t, int64(1), bar.FirstID)
	assert.Equal(t, int64(2), bar.LastID)
	assert.False(t, bar.Incomplete)

	// The breaching trade also opened the next bar.
	next, ok := e.IncompleteBar()
	require.True(t, ok)
	assert.Equal(t, fixedpoint.MustParse("50163.877"), next.Open)
	assert.Equal(t, int64(2), next.FirstID)
	assert.Equal(t, int64(1), next.TradeCount)
	assert.Equal(t, fixedpoint.MustParse("2"), next.Volume)
	assert.True(t, next.Incomplete)
}

// Test_Engine_NoBreach: trades that stay inside the range produce no
// completed bars, only an incomplete one opened at the first price.
func Test_Engine_NoBreach(t *testing.T) {
	e, err := NewEngine("BTC-USDT", 250)
	require.NoError(t, err)

	e.Push(trade(1, "111441.5", "1", 1000, model.Buy))
	e.Push(trade(2, "111500", "1", 1001, model.Sell))
	e.Push(trade(3, "111400", "1", 1002, model.Buy))

	assert.Zero(t, e.PendingCompleted())
	assert.Empty(t, e.DrainCompleted())

	bar, ok := e.IncompleteBar()
	require.True(t, ok)
	assert.Equal(t, fixedpoint.MustParse("111441.5"), bar.Open)
	assert.Equal(t, int64(3), bar.TradeCount)
	assert.True(t, bar.Incomplete)
}

// Test_Engine_GapClosesOneBar: a price gapping far beyond the bound closes
// exactly one bar, never a synthesized ladder of intermediate bars.
func Test_Engine_GapClosesOneBar(t *testing.T) {
	e, err := NewEngine("BTC-USDT", 250)
	require.NoError(t, err)

	e.Push(trade(1, "50000", "1", 1000, model.Buy))
	e.Push(trade(2, "51000", "1", 1001, model.Buy))

	bars := e.DrainCompleted()
	require.Len(t, bars, 1)
	assert.Equal(t, fixedpoint.MustParse("50000"), bars[0].Open)
	assert.Equal(t, fixedpoint.MustParse("51000"), bars[0].Close)
	assert.Equal(t, fixedpoint.MustParse("51000"), bars[0].High)
	assert.Equal(t, fixedpoint.MustParse("50000"), bars[0].Low)

	next, ok := e.IncompleteBar()
	require.True(t, ok)
	assert.Equal(t, fixedpoint.MustParse("51000"), next.Open)
}

// Test_Engine_DownsideBreach exercises the lower bound path.
func Test_Engine_DownsideBreach(t *testing.T) {
	e, err := NewEngine("BTC-USDT", 250)
	require.NoError(t, err)

	e.Push(trade(1, "50000", "1", 1000, model.Sell))
	e.Push(trade(2, "49875", "1", 1001, model.Sell))

	bars := e.DrainCompleted()
	require.Len(t, bars, 1)
	assert.Equal(t, fixedpoint.MustParse("49875"), bars[0].Close)
	assert.Equal(t, fixedpoint.MustParse("49875"), bars[0].Low)
}

// Test_ProcessBatch_Unsorted: an out-of-order batch is rejected up front
// with the offending index and leaves the engine untouched.
func Test_ProcessBatch_Unsorted(t *testing.T) {
	e, err := NewEngine("BTC-USDT", 250)
	require.NoError(t, err)

	batch := []model.Trade{
		trade(2, "50000", "1", 1001, model.Buy),
		trade(1, "50500", "1", 1000, model.Buy),
	}

	bars, err := e.ProcessBatch(batch)
	require.Error(t, err)
	assert.Nil(t, bars)

	var unsorted *UnsortedTradesError
	require.ErrorAs(t, err, &unsorted)
	assert.Equal(t, 1, unsorted.Index)
	assert.Equal(t, int64(2), unsorted.Prev.ID)
	assert.Equal(t, int64(1), unsorted.Curr.ID)

	// Nothing was applied.
	_, ok := e.IncompleteBar()
	assert.False(t, ok)
	assert.Zero(t, e.PendingCompleted())
}

// Test_ProcessBatch_EqualKey: two trades sharing (timestamp, id) violate
// strict ordering too.
func Test_ProcessBatch_EqualKey(t *testing.T) {
	e, err := NewEngine("BTC-USDT", 250)
	require.NoError(t, err)

	batch := []model.Trade{
		trade(5, "50000", "1", 1000, model.Buy),
		trade(5, "50001", "1", 1000, model.Buy),
	}

	_, err = e.ProcessBatch(batch)
	var unsorted *UnsortedTradesError
	require.ErrorAs(t, err, &unsorted)
	assert.Equal(t, 1, unsorted.Index)
}

// Test_ProcessBatch_SameTimestamp: ties on timestamp are fine as long as
// ids ascend, which is how aggregated provider feeds behave.
func Test_ProcessBatch_SameTimestamp(t *testing.T) {
	e, err := NewEngine("BTC-USDT", 250)
	require.NoError(t, err)

	batch := []model.Trade{
		trade(1, "50000", "1", 1000, model.Buy),
		trade(2, "50010", "1", 1000, model.Buy),
		trade(3, "50020", "1", 1000, model.Sell),
	}

	bars, err := e.ProcessBatch(batch)
	require.NoError(t, err)
	assert.Empty(t, bars)
}

// Test_ProcessBatch_Empty: an empty batch is a no-op, not an error.
func Test_ProcessBatch_Empty(t *testing.T) {
	e, err := NewEngine("BTC-USDT", 250)
	require.NoError(t, err)

	bars, err := e.ProcessBatch(nil)
	require.NoError(t, err)
	assert.Empty(t, bars)
}

// Test_DrainCompleted_Moves: draining hands the slice over and resets the
// engine's list; a second drain has nothing.
func Test_DrainCompleted_Moves(t *testing.T) {
	e, err := NewEngine("BTC-USDT", 250)
	require.NoError(t, err)

	e.Push(trade(1, "50000", "1", 1000, model.Buy))
	e.Push(trade(2, "51000", "1", 1001, model.Buy))
	e.Push(trade(3, "52000", "1", 1002, model.Buy))

	require.Equal(t, 2, e.PendingCompleted())
	first := e.DrainCompleted()
	assert.Len(t, first, 2)
	assert.Zero(t, e.PendingCompleted())
	assert.Empty(t, e.DrainCompleted())
}

// Test_Engine_CompletedInvariants runs a long random walk and checks every
// completed bar against the aggregate invariants, including the breach
// closure law with bounds recomputed from each bar's own open.
func Test_Engine_CompletedInvariants(t *testing.T) {
	const param = 250

	e, err := NewEngine("BTC-USDT", param)
	require.NoError(t, err)

	trades := randomWalkTrades(rand.New(rand.NewSource(11)), 20_000)
	bars, err := e.ProcessBatch(trades)
	require.NoError(t, err)
	require.NotEmpty(t, bars)

	for i, bar := range bars {
		assert.False(t, bar.Incomplete, "bar %d", i)
		assert.GreaterOrEqual(t, bar.CloseTime, bar.OpenTime, "bar %d", i)
		assert.True(t, bar.High >= bar.Open && bar.High >= bar.Close, "bar %d extremes", i)
		assert.True(t, bar.Low <= bar.Open && bar.Low <= bar.Close, "bar %d extremes", i)
		assert.Equal(t, bar.Volume, bar.BuyVolume.Add(bar.SellVolume), "bar %d volume conservation", i)
		assert.Equal(t, bar.TradeCount, bar.BuyTradeCount+bar.SellTradeCount, "bar %d count conservation", i)

		upper, lower := ComputeThresholds(bar.Open, param)
		assert.True(t, bar.Close >= upper || bar.Close <= lower, "bar %d breach closure", i)

		// Consecutive bars share their boundary trade under the reuse
		// reopening rule.
		if i > 0 {
			assert.Equal(t, bars[i-1].Close, bar.Open, "bar %d continuity", i)
			assert.Equal(t, bars[i-1].LastID, bar.FirstID, "bar %d continuity", i)
		}
	}
}

// Test_Engine_ChunkingEquivalence: feeding the whole sequence at once and
// feeding it in arbitrary contiguous chunks to a long-lived engine must
// produce identical bar sequences. This is the property that makes
// day-boundary chunked processing safe.
func Test_Engine_ChunkingEquivalence(t *testing.T) {
	rng := rand.New(rand.NewSource(23))

	for round := 0; round < 25; round++ {
		trades := randomWalkTrades(rng, 2_000)

		batch, err := NewEngine("BTC-USDT", 250)
		require.NoError(t, err)
		batchBars, err := batch.ProcessBatch(trades)
		require.NoError(t, err)

		chunked, err := NewEngine("BTC-USDT", 250)
		require.NoError(t, err)
		var chunkedBars []model.Bar
		for start := 0; start < len(trades); {
			end := start + 1 + rng.Intn(200)
			if end > len(trades) {
				end = len(trades)
			}
			bars, err := chunked.ProcessBatch(trades[start:end])
			require.NoError(t, err)
			chunkedBars = append(chunkedBars, bars...)
			start = end
		}

		require.Equal(t, batchBars, chunkedBars, "round %d", round)

		// The live bars must match too.
		batchLive, batchOK := batch.IncompleteBar()
		chunkedLive, chunkedOK := chunked.IncompleteBar()
		require.Equal(t, batchOK, chunkedOK)
		require.Equal(t, batchLive, chunkedLive)
	}
}

// randomWalkTrades builds a strictly ordered random price walk around
// 50000 with varied volumes and sides.
func randomWalkTrades(rng *rand.Rand, n int) []model.Trade {
	trades := make([]model.Trade, 0, n)
	price := fixedpoint.MustParse("50000")
	ts := int64(1_700_000_000_000)

	for i := 0; i < n; i++ {
		// Steps up to ~0.1% of the starting price in either direction.
		step := rng.Int63n(5_000_000_000) - 2_500_000_000
		price = price.Add(fixedpoint.FromRaw(step))
		if price < fixedpoint.MustParse("1") {
			price = fixedpoint.MustParse("1")
		}

		side := model.Buy
		if rng.Intn(2) == 1 {
			side = model.Sell
		}

		ts += rng.Int63n(3) // ties on timestamp are legal, ids still ascend
		trades = append(trades, model.Trade{
			ID:        int64(i + 1),
			Price:     price,
			Volume:    fixedpoint.FromRaw(1 + rng.Int63n(500_000_000)),
			Timestamp: ts,
			Side:      side,
		})
	}
	return trades
}
