package rangebar

import (
	"errors"
	"fmt"

	"rangebar/internal/model"
)

// ErrInvalidThreshold is returned by NewEngine when the threshold parameter
// is zero. A zero-width range would close a bar on the very next tick that
// differs from the open, which is never what a caller wants; the engine
// rejects it at construction time rather than per trade.
var ErrInvalidThreshold = errors.New("rangebar: threshold must be positive")

// UnsortedTradesError reports a batch whose trades are not strictly ordered
// by (timestamp, id) ascending. Index is the position of the offending
// trade; Prev and Curr are the pair that violated the ordering. The batch
// is rejected before any bar is built from it.
type UnsortedTradesError struct {
	Index int
	Prev  model.Trade
	Curr  model.Trade
}

func (e *UnsortedTradesError) Error() string {
	return fmt.Sprintf(
		"rangebar: unsorted trades at index %d: prev(ts=%d id=%d) curr(ts=%d id=%d)",
		e.Index, e.Prev.Timestamp, e.Prev.ID, e.Curr.Timestamp, e.Curr.ID,
	)
}
