// Package rangebar implements the range-bar construction engine.
//
// A range bar closes when a trade price moves a fixed percentage away from
// the bar's own open price. The breach bounds are derived once, from the
// open, and never revised, so a backtest replaying these bars cannot see
// the future of its own bar.
//
// The engine is a small state machine: Empty (no live bar) or Accumulating
// (exactly one live bar). It is deliberately single-threaded and free of
// I/O; feeding the same ordered trade sequence in one call or in arbitrary
// contiguous chunks to a long-lived engine produces an identical sequence
// of completed bars, which is what makes day-at-a-time processing safe
// across day boundaries.
package rangebar

import (
	"rangebar/internal/model"
)

// Engine converts an ordered stream of trades into range bars for a single
// (symbol, threshold) pair.
//
// An Engine must not be shared across goroutines. Parallelism across
// symbols is achieved by running one Engine per symbol; there is no
// cross-engine state.
type Engine struct {
	symbol    string
	threshold uint32

	// live is nil while Empty, non-nil while Accumulating.
	live *barState

	// completed holds breach-closed bars until the caller drains them.
	// DrainCompleted moves this slice out instead of copying it, so a
	// long-running stream never accumulates bars the caller has seen.
	completed []model.Bar
}

// NewEngine creates an engine for one symbol with the given threshold in
// tenths of a basis point (250 = 0.25%). A zero threshold is rejected with
// ErrInvalidThreshold.
func NewEngine(symbol string, thresholdTenthBps uint32) (*Engine, error) {
	if thresholdTenthBps == 0 {
		return nil, ErrInvalidThreshold
	}
	return &Engine{symbol: symbol, threshold: thresholdTenthBps}, nil
}

// Symbol returns the symbol this engine aggregates.
func (e *Engine) Symbol() string { return e.symbol }

// Threshold returns the threshold parameter in tenths of a basis point.
func (e *Engine) Threshold() uint32 { return e.threshold }

// Push incorporates a single trade.
//
// Ordering is a documented precondition here: trades must arrive in
// (timestamp, id) ascending order. Streaming callers own that guarantee;
// batch callers get it checked by ProcessBatch instead.
//
// On breach the closing bar already contains the breaching trade, and the
// same trade immediately opens the next bar with fresh bounds computed
// from its price. A price that gaps far beyond a bound still closes
// exactly one bar; no intermediate bars are synthesized.
func (e *Engine) Push(t model.Trade) {
	if e.live == nil {
		e.live = newBarState(e.symbol, t, e.threshold)
		return
	}

	e.live.apply(t)
	if !e.live.breached(t.Price) {
		return
	}

	e.completed = append(e.completed, e.live.snapshot(false))
	e.live = newBarState(e.symbol, t, e.threshold)
}

// ProcessBatch validates the ordering of a trade slice, feeds it through
// the engine and returns the bars completed by this batch.
//
// An unsorted batch is rejected with UnsortedTradesError before any trade
// is applied, leaving the engine state untouched. An empty batch returns an
// empty result, not an error. Bars already drained by earlier batches are
// unaffected; the live bar carries over to the next batch, so processing a
// multi-day stream day by day yields exactly the bars of a single pass.
func (e *Engine) ProcessBatch(trades []model.Trade) ([]model.Bar, error) {
	if len(trades) == 0 {
		return nil, nil
	}
	if err := ValidateOrdering(trades); err != nil {
		return nil, err
	}
	for _, t := range trades {
		e.Push(t)
	}
	return e.DrainCompleted(), nil
}

// DrainCompleted moves the completed bars out of the engine. The internal
// list is reset without copying bar data, so memory stays bounded on
// long-running streams regardless of how many bars have been produced.
func (e *Engine) DrainCompleted() []model.Bar {
	bars := e.completed
	e.completed = nil
	return bars
}

// PendingCompleted returns how many completed bars are waiting to be
// drained.
func (e *Engine) PendingCompleted() int {
	return len(e.completed)
}

// IncompleteBar returns the live, not-yet-breached bar if one exists. The
// returned bar is a snapshot tagged incomplete; it is never mixed into the
// completed sequence.
func (e *Engine) IncompleteBar() (model.Bar, bool) {
	if e.live == nil {
		return model.Bar{}, false
	}
	return e.live.snapshot(true), true
}
