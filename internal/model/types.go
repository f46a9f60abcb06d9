// Package model defines the core data types of the range-bar service.
//
// A Trade is the immutable input record fed into the engine; a Bar is the
// aggregated output record. Every price, volume and turnover field uses
// fixedpoint.Value so that threshold comparisons are exact integer
// comparisons; floating-point drift must never change which bar a trade
// lands in.
package model

import (
	"rangebar/internal/fixedpoint"
)

// Side is the aggressor direction of a trade: which party crossed the
// spread. It drives the buy/sell segregation of bar volume and turnover.
type Side int8

const (
	// Buy marks a trade where the buyer was the aggressor.
	Buy Side = iota

	// Sell marks a trade where the seller was the aggressor.
	Sell
)

// String returns "BUY" or "SELL".
func (s Side) String() string {
	if s == Sell {
		return "SELL"
	}
	return "BUY"
}

// Trade is a single executed trade as delivered by a data provider.
//
// Trades are immutable once constructed; the engine incorporates each trade
// into the live bar and never retains it afterwards. Streams must be
// ordered by (Timestamp, ID) ascending; the engine's entry points document
// where that is checked versus assumed as a precondition.
type Trade struct {
	// ID is the provider-assigned sequence number, unique per symbol.
	ID int64 `json:"id"`

	// Price is the execution price.
	Price fixedpoint.Value `json:"price"`

	// Volume is the executed base-asset quantity.
	Volume fixedpoint.Value `json:"volume"`

	// Timestamp is the execution time in Unix milliseconds.
	Timestamp int64 `json:"ts"`

	// Side is the aggressor direction.
	Side Side `json:"side"`
}

// Turnover returns price*volume at full 128-bit width. Exposed for sinks
// that aggregate notional value outside the engine.
func (t Trade) Turnover() fixedpoint.Wide {
	return fixedpoint.Wide{}.AddProduct(t.Price, t.Volume)
}

// TradeEvent is a Trade routed through the streaming pipeline, tagged with
// the symbol it belongs to. Providers emit TradeEvents; the engine itself
// only ever sees the Trade.
type TradeEvent struct {
	Symbol string `json:"symbol"`
	Trade  Trade  `json:"trade"`
}

// Bar is an OHLCV aggregate whose boundaries are a fixed percentage move
// from its own open price rather than a clock interval.
//
// For a completed bar the close price has reached or crossed one of the
// thresholds derived from the bar's open. A bar still accumulating when a
// stream ends is "incomplete": it carries the same fields but makes no
// breach promise, and the engine exposes it separately from completed bars
// so backtests never consume it by accident.
type Bar struct {
	Symbol string `json:"symbol,omitempty"`

	// OpenTime and CloseTime are the timestamps of the first and last
	// trade incorporated, in Unix milliseconds.
	OpenTime  int64 `json:"open_time"`
	CloseTime int64 `json:"close_time"`

	Open  fixedpoint.Value `json:"open"`
	High  fixedpoint.Value `json:"high"`
	Low   fixedpoint.Value `json:"low"`
	Close fixedpoint.Value `json:"close"`

	// Volume is the total base-asset quantity; Turnover the total
	// notional (price*volume) at 8-digit precision.
	Volume   fixedpoint.Value `json:"volume"`
	Turnover fixedpoint.Value `json:"turnover"`

	// TradeCount is the number of trades incorporated; FirstID/LastID
	// the provider sequence ids of the first and last of them.
	TradeCount int64 `json:"trade_count"`
	FirstID    int64 `json:"first_id"`
	LastID     int64 `json:"last_id"`

	// Aggressor-side breakdowns. Volume == BuyVolume + SellVolume and
	// TradeCount == BuyTradeCount + SellTradeCount always hold.
	BuyVolume      fixedpoint.Value `json:"buy_volume"`
	SellVolume     fixedpoint.Value `json:"sell_volume"`
	BuyTurnover    fixedpoint.Value `json:"buy_turnover"`
	SellTurnover   fixedpoint.Value `json:"sell_turnover"`
	BuyTradeCount  int64            `json:"buy_trade_count"`
	SellTradeCount int64            `json:"sell_trade_count"`

	// VWAP is turnover/volume computed on the raw 128-bit turnover
	// accumulator, so it is exact regardless of summation order.
	VWAP fixedpoint.Value `json:"vwap"`

	// Incomplete marks an end-of-stream bar that never breached.
	Incomplete bool `json:"incomplete,omitempty"`
}
