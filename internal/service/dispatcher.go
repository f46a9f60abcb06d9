// Package service wires the range-bar engine into a streaming service:
// trade sources feed per-symbol engines, and completed bars fan out to
// subscribers through the dispatcher.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"rangebar/internal/model"
	"rangebar/internal/utils"

	"github.com/rs/zerolog/log"
)

// Subscriber is one client's view of the completed-bar stream. Each
// subscriber owns a buffered channel and a symbol filter.
type Subscriber struct {
	id      int64
	ch      chan model.Bar
	symbols map[string]struct{}
}

// Bars returns the channel bars are delivered on. The channel is closed
// when the subscriber is removed or the dispatcher shuts down.
func (s *Subscriber) Bars() <-chan model.Bar {
	return s.ch
}

// DispatcherConfig holds the dispatcher's limits.
type DispatcherConfig struct {
	// MaxSymbolsAllowed caps the symbols one subscription may request.
	MaxSymbolsAllowed int
}

// Dispatcher fans completed bars out to subscribers.
//
// A single goroutine owns the subscribers map, so no mutex guards it;
// subscription and unsubscription requests arrive over channels. Slow
// subscribers never stall the stream: when a subscriber's buffer is full
// the oldest buffered bar is dropped to make room for the newest.
type Dispatcher struct {
	cfg              DispatcherConfig
	subscribers      map[int64]*Subscriber
	subscriptionCh   chan *Subscriber
	unsubscriptionCh chan *Subscriber
	started          atomic.Bool
	randIDGen        *rand.Rand
}

// NewDispatcher creates a dispatcher with the given configuration.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		cfg:              cfg,
		subscribers:      make(map[int64]*Subscriber),
		subscriptionCh:   make(chan *Subscriber, 10),
		unsubscriptionCh: make(chan *Subscriber, 10),
		randIDGen:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Subscribe registers interest in the completed bars of the given symbols.
// Symbols are validated before the subscription is handed to the dispatch
// goroutine.
func (d *Dispatcher) Subscribe(symbols []string) (*Subscriber, error) {
	if !d.started.Load() {
		return nil, errors.New("dispatcher not started")
	}

	if err := utils.ValidateSymbols(symbols, d.cfg.MaxSymbolsAllowed); err != nil {
		return nil, err
	}

	symSet := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		symSet[s] = struct{}{}
	}

	sub := &Subscriber{
		id:      d.randIDGen.Int63(),
		ch:      make(chan model.Bar, 100),
		symbols: symSet,
	}

	select {
	case d.subscriptionCh <- sub:
	default:
		return nil, fmt.Errorf("subscription channel is full")
	}

	return sub, nil
}

// Unsubscribe removes a subscriber and closes its channel.
func (d *Dispatcher) Unsubscribe(sub *Subscriber) error {
	select {
	case d.unsubscriptionCh <- sub:
		return nil
	default:
		return fmt.Errorf("unsubscription channel is full")
	}
}

// StartDispatching starts the dispatch goroutine, consuming completed bars
// from barCh until the context is cancelled or the channel closes.
func (d *Dispatcher) StartDispatching(ctx context.Context, barCh <-chan model.Bar) error {
	if !d.started.CompareAndSwap(false, true) {
		return errors.New("dispatcher already started")
	}

	go func() {
		defer func() {
			for _, sub := range d.subscribers {
				close(sub.ch)
			}
			d.subscribers = make(map[int64]*Subscriber)
		}()

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("dispatcher stopped")
				return
			case sub := <-d.subscriptionCh:
				d.subscribers[sub.id] = sub
			case sub := <-d.unsubscriptionCh:
				if _, ok := d.subscribers[sub.id]; ok {
					delete(d.subscribers, sub.id)
					close(sub.ch)
				}
			case bar, ok := <-barCh:
				if !ok {
					log.Info().Msg("bar stream closed, dispatcher stopping")
					return
				}
				d.dispatch(bar)
			}
		}
	}()
	return nil
}

// dispatch runs on the dispatch goroutine only.
func (d *Dispatcher) dispatch(bar model.Bar) {
	for _, sub := range d.subscribers {
		if _, ok := sub.symbols[bar.Symbol]; !ok {
			continue
		}
		select {
		case sub.ch <- bar:
		default:
			// Buffer full: drop the oldest bar so the newest lands.
			log.Warn().Int64("subscriber", sub.id).Str("symbol", bar.Symbol).
				Msg("subscriber too slow, dropping oldest buffered bar")
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- bar:
			default:
			}
		}
	}
}
