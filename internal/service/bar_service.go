package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"rangebar/internal/model"
	"rangebar/internal/utils"

	"github.com/rs/zerolog/log"
)

// BarStreamer produces the completed-bar stream for a set of symbols.
type BarStreamer interface {
	StartBarStream(ctx context.Context, symbols []string) (<-chan model.Bar, error)
}

// SubscriptionManager distributes completed bars to subscribers.
type SubscriptionManager interface {
	Subscribe(symbols []string) (*Subscriber, error)
	Unsubscribe(sub *Subscriber) error
	StartDispatching(ctx context.Context, ch <-chan model.Bar) error
}

// BarService glues the streamer to the dispatcher and owns their shared
// lifecycle. Transport layers (the websocket endpoint, tests) talk to the
// service; they never reach into the engines.
type BarService struct {
	manager  SubscriptionManager
	streamer BarStreamer
	started  atomic.Bool
	cancel   context.CancelFunc
}

// NewBarService creates a stopped service; call Start before subscribing.
func NewBarService(manager SubscriptionManager, streamer BarStreamer) *BarService {
	return &BarService{
		manager:  manager,
		streamer: streamer,
	}
}

// Start begins aggregation and dispatching for the given symbols.
func (s *BarService) Start(ctx context.Context, symbols []string) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("bar service has already started")
	}

	ctx, cancel := context.WithCancel(ctx)

	barCh, err := s.streamer.StartBarStream(ctx, symbols)
	if err != nil {
		cancel()
		s.started.Store(false)
		return fmt.Errorf("failed to start bar stream: %w", err)
	}

	if err := s.manager.StartDispatching(ctx, barCh); err != nil {
		cancel()
		s.started.Store(false)
		return fmt.Errorf("failed to start dispatching: %w", err)
	}

	s.cancel = cancel
	return nil
}

// Stop shuts the pipeline down. Live bars end up as incomplete snapshots
// on the streamer, not on subscriber channels.
func (s *BarService) Stop() error {
	if !s.started.CompareAndSwap(true, false) {
		return errors.New("service not started")
	}

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	log.Info().Msg("bar service stopped")
	return nil
}

// Subscribe validates the requested symbols and registers a subscriber for
// their completed bars.
func (s *BarService) Subscribe(symbols []string) (*Subscriber, error) {
	if !s.started.Load() {
		return nil, errors.New("bar service not started")
	}

	if len(symbols) == 0 {
		return nil, errors.New("no symbols provided")
	}
	for i, symbol := range symbols {
		if err := utils.ValidateSymbol(symbol); err != nil {
			return nil, fmt.Errorf("invalid symbol at index %d (%q): %w", i, symbol, err)
		}
	}

	sub, err := s.manager.Subscribe(symbols)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	log.Info().Strs("symbols", symbols).Msg("new bar subscription")
	return sub, nil
}

// Unsubscribe detaches a subscriber and releases its channel.
func (s *BarService) Unsubscribe(sub *Subscriber) error {
	return s.manager.Unsubscribe(sub)
}
