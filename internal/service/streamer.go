package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"rangebar/internal/model"
	"rangebar/internal/rangebar"

	"github.com/rs/zerolog/log"
)

// TradeSource is the provider collaborator: anything that can deliver an
// ordered stream of trade events for a set of symbols. Implementations own
// their wire format; the streamer only sees normalized TradeEvents.
//
// Per-symbol ordering by (timestamp, id) is the source's responsibility.
// When several sources are configured they must cover disjoint symbol
// sets, otherwise the merged stream has no ordering guarantee.
type TradeSource interface {
	SubscribeToTrades(ctx context.Context, symbols []string) (<-chan model.TradeEvent, error)
}

// Streamer drives one range-bar engine per symbol from a set of trade
// sources and emits completed bars as they close.
//
// Bars are emitted at breach time, not on a timer; a quiet symbol can hold
// its live bar open indefinitely. When the stream shuts down the live bars
// are captured as incomplete snapshots, available from IncompleteBars,
// never pushed into the completed-bar channel.
type Streamer struct {
	sources   []TradeSource
	threshold uint32

	mu         sync.Mutex
	incomplete []model.Bar
	streaming  atomic.Bool
	done       chan struct{}
	doneOnce   sync.Once
}

// NewStreamer creates a streamer with the given threshold in tenths of a
// basis point. The threshold is validated here so a bad configuration
// fails at startup instead of on the first trade.
func NewStreamer(sources []TradeSource, thresholdTenthBps uint32) (*Streamer, error) {
	if thresholdTenthBps == 0 {
		return nil, rangebar.ErrInvalidThreshold
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one trade source is required")
	}
	return &Streamer{
		sources:   sources,
		threshold: thresholdTenthBps,
		done:      make(chan struct{}),
	}, nil
}

// StartBarStream subscribes to all sources for the given symbols and
// returns a channel of completed bars. The channel closes when the context
// is cancelled or every source channel has closed.
//
// Subscription is fail-fast: if any source refuses, the others are
// cancelled and the error is returned.
func (s *Streamer) StartBarStream(ctx context.Context, symbols []string) (<-chan model.Bar, error) {
	ctx, cancel := context.WithCancel(ctx)

	tradeChannels := make([]<-chan model.TradeEvent, 0, len(s.sources))
	for _, src := range s.sources {
		tradeCh, err := src.SubscribeToTrades(ctx, symbols)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to subscribe to trades: %w", err)
		}
		tradeChannels = append(tradeChannels, tradeCh)
	}

	merged := s.fanIn(ctx, tradeChannels)
	s.streaming.Store(true)
	return s.processTrades(ctx, cancel, merged), nil
}

// IncompleteBars returns the live bars captured when the stream shut down.
// It blocks until the bar channel returned by StartBarStream has closed.
// If no stream was ever started, including a StartBarStream call that
// failed, there is nothing to wait for and nil is returned immediately.
func (s *Streamer) IncompleteBars() []model.Bar {
	if !s.streaming.Load() {
		return nil
	}
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incomplete
}

// processTrades runs the single goroutine that owns all engine state.
// Trades are applied in arrival order; completed bars are drained from the
// engine after every trade so memory stays bounded however long the
// stream runs.
func (s *Streamer) processTrades(ctx context.Context, cancel context.CancelFunc, input <-chan model.TradeEvent) <-chan model.Bar {
	output := make(chan model.Bar, 1000)
	engines := make(map[string]*rangebar.Engine)
	lastTS := make(map[string]int64)
	lastID := make(map[string]int64)

	go func() {
		defer close(output)
		defer cancel()
		defer func() {
			// Snapshot the live bars for IncompleteBars.
			s.mu.Lock()
			for _, e := range engines {
				if bar, ok := e.IncompleteBar(); ok {
					s.incomplete = append(s.incomplete, bar)
				}
			}
			s.mu.Unlock()
			s.doneOnce.Do(func() { close(s.done) })
		}()

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("bar streamer stopped")
				return
			case ev, ok := <-input:
				if !ok {
					log.Info().Msg("trade sources drained, bar streamer stopping")
					return
				}

				engine, found := engines[ev.Symbol]
				if !found {
					var err error
					engine, err = rangebar.NewEngine(ev.Symbol, s.threshold)
					if err != nil {
						// Threshold was validated in NewStreamer.
						log.Error().Err(err).Str("symbol", ev.Symbol).Msg("cannot create engine")
						return
					}
					engines[ev.Symbol] = engine
				}

				// Boundary guard: the engine trusts streaming order, so
				// regressions from a misbehaving feed are dropped here
				// with a warning instead of corrupting bars.
				t := ev.Trade
				if ts, seen := lastTS[ev.Symbol]; seen {
					if t.Timestamp < ts || (t.Timestamp == ts && t.ID <= lastID[ev.Symbol]) {
						log.Warn().
							Str("symbol", ev.Symbol).
							Int64("id", t.ID).
							Int64("ts", t.Timestamp).
							Msg("out-of-order trade dropped")
						continue
					}
				}
				lastTS[ev.Symbol] = t.Timestamp
				lastID[ev.Symbol] = t.ID

				engine.Push(t)
				for _, bar := range engine.DrainCompleted() {
					select {
					case output <- bar:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return output
}

// fanIn merges the per-source trade channels into one stream, one goroutine
// per input, closing the merged channel when every input has closed.
func (s *Streamer) fanIn(ctx context.Context, inputs []<-chan model.TradeEvent) <-chan model.TradeEvent {
	dest := make(chan model.TradeEvent, 1000)
	var wg sync.WaitGroup
	wg.Add(len(inputs))

	for _, ch := range inputs {
		go func(c <-chan model.TradeEvent) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-c:
					if !ok {
						return
					}
					select {
					case dest <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}(ch)
	}

	go func() {
		wg.Wait()
		close(dest)
	}()

	return dest
}
