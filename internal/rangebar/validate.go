package rangebar

import (
	"rangebar/internal/model"
)

// ValidateOrdering checks that trades are strictly ascending by
// (timestamp, id). The first offending pair is reported via
// UnsortedTradesError and nothing before it is considered valid enough to
// process; callers must re-sort and retry.
//
// This runs on batch entry points only. Re-validating every streamed trade
// would defeat incremental processing, so Push trusts its caller.
func ValidateOrdering(trades []model.Trade) error {
	for i := 1; i < len(trades); i++ {
		prev, curr := trades[i-1], trades[i]
		if curr.Timestamp < prev.Timestamp ||
			(curr.Timestamp == prev.Timestamp && curr.ID <= prev.ID) {
			return &UnsortedTradesError{Index: i, Prev: prev, Curr: curr}
		}
	}
	return nil
}
