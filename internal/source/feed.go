// Package source provides trade sources for the bar streamer.
//
// The Feed here is provider-agnostic: it consumes a websocket stream of
// JSON trade messages in the service's own wire schema and normalizes them
// into model.TradeEvents. Provider-specific wire formats (exchange binary
// dumps, compressed tick archives) belong to adapter processes upstream of
// this feed, which are expected to re-emit trades in this schema.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rangebar/internal/fixedpoint"
	"rangebar/internal/model"
	"rangebar/internal/utils"
	"rangebar/internal/websocket"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ErrInvalidConfig indicates that the provided FeedConfig contains invalid
// values.
var ErrInvalidConfig = errors.New("invalid configuration")

// FeedConfig configures a websocket trade feed.
type FeedConfig struct {
	// BaseURL is the websocket endpoint of the trade stream.
	BaseURL string

	// MaxSymbols caps the symbols of a single subscription.
	MaxSymbols int
}

var defaultFeedConfig = FeedConfig{
	BaseURL:    "ws://localhost:8081",
	MaxSymbols: 50,
}

// Feed streams normalized trades from a websocket endpoint.
type Feed struct {
	config   FeedConfig
	validate *validator.Validate
}

// wireTrade is the feed's wire schema for one trade message.
//
// Price and quantity travel as decimal strings to survive JSON without
// float rounding; they are parsed through decimal and converted to fixed
// point here, at the boundary. BuyerMaker mirrors the aggregate-trade
// convention: when the buyer was the maker, the seller crossed the spread.
type wireTrade struct {
	Symbol     string `json:"symbol" validate:"required"`
	ID         int64  `json:"id" validate:"required,gt=0"`
	Price      string `json:"price" validate:"required,numeric"`
	Quantity   string `json:"qty" validate:"required,numeric"`
	Time       int64  `json:"ts" validate:"required,gt=0"`
	BuyerMaker bool   `json:"buyer_maker"`
}

// NewFeed creates a feed, applying defaults for unset config fields. Pass
// nil for an all-defaults feed.
func NewFeed(cfg *FeedConfig) (*Feed, error) {
	if cfg == nil {
		cfg = &defaultFeedConfig
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultFeedConfig.BaseURL
	}
	if cfg.MaxSymbols <= 0 {
		cfg.MaxSymbols = defaultFeedConfig.MaxSymbols
	}
	if !strings.HasPrefix(cfg.BaseURL, "ws://") && !strings.HasPrefix(cfg.BaseURL, "wss://") {
		return nil, fmt.Errorf("%w: base URL must be a websocket URL, got %q", ErrInvalidConfig, cfg.BaseURL)
	}

	return &Feed{
		config:   *cfg,
		validate: validator.New(),
	}, nil
}

// SubscribeToTrades connects to the feed endpoint and subscribes to the
// given symbols. The returned channel closes when the connection drops or
// the context is cancelled.
func (f *Feed) SubscribeToTrades(ctx context.Context, symbols []string) (<-chan model.TradeEvent, error) {
	if err := utils.ValidateSymbols(symbols, f.config.MaxSymbols); err != nil {
		return nil, err
	}

	subMsg, err := json.Marshal(map[string]any{
		"op":      "subscribe",
		"channel": "trades",
		"symbols": symbols,
	})
	if err != nil {
		return nil, err
	}

	client, err := websocket.NewClient(ctx, websocket.Config{
		Endpoint:             f.config.BaseURL + "/stream",
		Handler:              f.handleMessage,
		SubscriptionMessages: [][]byte{subMsg},
	})
	if err != nil {
		log.Error().Err(err).Str("endpoint", f.config.BaseURL).Msg("failed to create trade feed client")
		return nil, err
	}

	return client.TradeChan, nil
}

// handleMessage decodes, validates and normalizes one wire message.
func (f *Feed) handleMessage(raw []byte, tradeChan chan<- model.TradeEvent) error {
	var wt wireTrade
	if err := json.Unmarshal(raw, &wt); err != nil {
		log.Error().Err(err).Msg("invalid trade JSON")
		return err
	}

	if err := f.validate.Struct(&wt); err != nil {
		log.Warn().Err(err).Interface("trade", wt).Msg("trade validation failed")
		return err
	}

	trade, err := normalizeTrade(wt)
	if err != nil {
		log.Error().Err(err).Str("symbol", wt.Symbol).Int64("id", wt.ID).Msg("trade normalization failed")
		return err
	}

	tradeChan <- model.TradeEvent{
		Symbol: wt.Symbol,
		Trade:  trade,
	}
	return nil
}

// normalizeTrade converts wire strings to fixed point. Prices or
// quantities finer than 8 decimals are rejected; nothing is rounded
// silently on the way into the engine.
func normalizeTrade(wt wireTrade) (model.Trade, error) {
	priceDec, err := decimal.NewFromString(wt.Price)
	if err != nil {
		return model.Trade{}, fmt.Errorf("invalid price: %w", err)
	}
	price, err := fixedpoint.FromDecimal(priceDec)
	if err != nil {
		return model.Trade{}, err
	}

	qtyDec, err := decimal.NewFromString(wt.Quantity)
	if err != nil {
		return model.Trade{}, fmt.Errorf("invalid quantity: %w", err)
	}
	qty, err := fixedpoint.FromDecimal(qtyDec)
	if err != nil {
		return model.Trade{}, err
	}

	side := model.Buy
	if wt.BuyerMaker {
		side = model.Sell
	}

	return model.Trade{
		ID:        wt.ID,
		Price:     price,
		Volume:    qty,
		Timestamp: wt.Time,
		Side:      side,
	}, nil
}
