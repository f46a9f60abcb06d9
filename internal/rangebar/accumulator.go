package rangebar

import (
	"rangebar/internal/fixedpoint"
	"rangebar/internal/model"
)

// barState is the live bar plus its frozen breach bounds. Exactly one
// barState exists per engine at a time; it is created from the trade that
// opens the bar and converted into an emitted model.Bar at breach or flush.
//
// Turnover is accumulated at 128-bit width and only narrowed to Value
// precision in snapshot, so a bar with many large trades cannot overflow
// mid-accumulation.
type barState struct {
	bar model.Bar

	turnover     fixedpoint.Wide
	buyTurnover  fixedpoint.Wide
	sellTurnover fixedpoint.Wide

	upper fixedpoint.Value
	lower fixedpoint.Value
}

// newBarState opens a bar from its first trade. Open, high, low and close
// all start at the trade's price, totals are seeded from the trade, and the
// breach bounds are computed from this open and never touched again.
func newBarState(symbol string, t model.Trade, thresholdTenthBps uint32) *barState {
	s := &barState{
		bar: model.Bar{
			Symbol:   symbol,
			OpenTime: t.Timestamp,
			Open:     t.Price,
			High:     t.Price,
			Low:      t.Price,
			FirstID:  t.ID,
		},
	}
	s.upper, s.lower = ComputeThresholds(t.Price, thresholdTenthBps)
	s.accumulate(t)
	return s
}

// apply incorporates one more trade into the live bar: extremes are
// extended if the price is a new high or low, close fields follow the trade
// unconditionally, and all totals are accumulated. No ordering validation
// happens here; that is the engine's job.
func (s *barState) apply(t model.Trade) {
	if t.Price > s.bar.High {
		s.bar.High = t.Price
	}
	if t.Price < s.bar.Low {
		s.bar.Low = t.Price
	}
	s.accumulate(t)
}

func (s *barState) accumulate(t model.Trade) {
	s.bar.Close = t.Price
	s.bar.CloseTime = t.Timestamp
	s.bar.LastID = t.ID

	s.bar.Volume = s.bar.Volume.Add(t.Volume)
	s.bar.TradeCount++
	s.turnover = s.turnover.AddProduct(t.Price, t.Volume)

	if t.Side == model.Buy {
		s.bar.BuyVolume = s.bar.BuyVolume.Add(t.Volume)
		s.bar.BuyTradeCount++
		s.buyTurnover = s.buyTurnover.AddProduct(t.Price, t.Volume)
	} else {
		s.bar.SellVolume = s.bar.SellVolume.Add(t.Volume)
		s.bar.SellTradeCount++
		s.sellTurnover = s.sellTurnover.AddProduct(t.Price, t.Volume)
	}
}

// breached reports whether a price reaches or crosses either bound.
func (s *barState) breached(price fixedpoint.Value) bool {
	return price >= s.upper || price <= s.lower
}

// snapshot freezes the accumulated state into an emitted Bar, narrowing the
// wide turnover accumulators and deriving the VWAP as turnover/volume on
// the raw 128-bit sum.
func (s *barState) snapshot(incomplete bool) model.Bar {
	bar := s.bar
	bar.Turnover = s.turnover.Narrow()
	bar.BuyTurnover = s.buyTurnover.Narrow()
	bar.SellTurnover = s.sellTurnover.Narrow()
	bar.VWAP = s.turnover.Quo(bar.Volume)
	bar.Incomplete = incomplete
	return bar
}
