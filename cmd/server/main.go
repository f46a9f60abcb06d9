/*
Package main implements the range-bar streaming server.

The server consumes a websocket feed of normalized trades, runs one
range-bar engine per symbol, and streams completed bars to websocket
subscribers on /ws. Completed bars can additionally be persisted to a
SQLite database.

Usage:

	go run main.go -addr=:8080 -feed=ws://localhost:8081 -threshold=250 -symbols=BTC-USDT,ETH-USDT

A threshold of 250 tenths of a basis point closes a bar on a 0.25% move
from the bar's open.
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"rangebar/internal/model"
	"rangebar/internal/service"
	"rangebar/internal/source"
	"rangebar/internal/store"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	addr      = flag.String("addr", ":8080", "HTTP listen address for the subscriber endpoint")
	feedURL   = flag.String("feed", "ws://localhost:8081", "Websocket URL of the trade feed")
	threshold = flag.Uint("threshold", 250, "Range threshold in tenths of a basis point (250 = 0.25%)")
	symbols   = flag.String("symbols", "BTC-USDT,ETH-USDT", "Comma-separated list of symbols")
	dbPath    = flag.String("db", "", "Optional SQLite path for persisting completed bars")
)

func main() {
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := validateConfig(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	barService, streamer, err := newBarService()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initiate bar service")
	}

	symbolList := strings.Split(*symbols, ",")
	if err := barService.Start(ctx, symbolList); err != nil {
		log.Fatal().Err(err).Msg("failed to start bar service")
	}
	defer barService.Stop()

	if *dbPath != "" {
		if err := startBarSink(ctx, barService, symbolList, *dbPath); err != nil {
			log.Fatal().Err(err).Msg("failed to start bar sink")
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", subscribeHandler(barService))
	server := &http.Server{Addr: *addr, Handler: mux}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("initiating graceful shutdown")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("server shutdown error")
		}

		// Live bars at shutdown are incomplete; log them for operators
		// rather than leaking them into the completed stream.
		for _, bar := range streamer.IncompleteBars() {
			log.Info().
				Str("symbol", bar.Symbol).
				Stringer("open", bar.Open).
				Stringer("close", bar.Close).
				Int64("trades", bar.TradeCount).
				Msg("incomplete bar at shutdown")
		}
	}()

	log.Info().
		Str("addr", *addr).
		Str("feed", *feedURL).
		Uint("threshold", *threshold).
		Strs("symbols", symbolList).
		Msg("server starting")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("failed to serve")
	}
}

func validateConfig() error {
	if *addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	if *feedURL == "" {
		return fmt.Errorf("feed URL cannot be empty")
	}
	if *threshold == 0 {
		return fmt.Errorf("threshold must be greater than 0")
	}
	if *symbols == "" {
		return fmt.Errorf("symbols list cannot be empty")
	}
	return nil
}

// newBarService assembles feed -> streamer -> dispatcher -> service.
func newBarService() (*service.BarService, *service.Streamer, error) {
	feed, err := source.NewFeed(&source.FeedConfig{BaseURL: *feedURL})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trade feed: %w", err)
	}

	streamer, err := service.NewStreamer([]service.TradeSource{feed}, uint32(*threshold))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create streamer: %w", err)
	}

	dispatcher := service.NewDispatcher(service.DispatcherConfig{
		MaxSymbolsAllowed: 100,
	})

	return service.NewBarService(dispatcher, streamer), streamer, nil
}

// startBarSink subscribes the SQLite store to the completed-bar stream.
func startBarSink(ctx context.Context, svc *service.BarService, symbolList []string, path string) error {
	barStore, err := store.NewBarStore(path)
	if err != nil {
		return err
	}

	sub, err := svc.Subscribe(symbolList)
	if err != nil {
		barStore.Close()
		return err
	}

	go func() {
		defer barStore.Close()
		for bar := range sub.Bars() {
			if err := barStore.SaveBar(ctx, bar); err != nil {
				log.Error().Err(err).Str("symbol", bar.Symbol).Msg("failed to persist bar")
			}
		}
	}()

	log.Info().Str("path", path).Msg("bar sink started")
	return nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The endpoint streams public market data; origin checks stay open.
	CheckOrigin: func(*http.Request) bool { return true },
}

// subscribeHandler upgrades the connection and streams completed bars for
// the symbols in the query string, e.g. /ws?symbols=BTC-USDT,ETH-USDT.
func subscribeHandler(svc *service.BarService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("symbols")
		if raw == "" {
			http.Error(w, "symbols query parameter is required", http.StatusBadRequest)
			return
		}
		symbolList := strings.Split(raw, ",")

		sub, err := svc.Subscribe(symbolList)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Err(err).Msg("websocket upgrade failed")
			svc.Unsubscribe(sub)
			return
		}

		logger := log.With().Str("remote", r.RemoteAddr).Strs("symbols", symbolList).Logger()
		logger.Info().Msg("new bar subscriber")

		go streamBars(conn, sub, svc, logger)
	}
}

func streamBars(conn *websocket.Conn, sub *service.Subscriber, svc *service.BarService, logger zerolog.Logger) {
	defer func() {
		if err := svc.Unsubscribe(sub); err != nil {
			logger.Warn().Err(err).Msg("failed to unsubscribe")
		}
		conn.Close()
	}()

	// Drain control frames so peer closes are noticed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			logger.Info().Msg("subscriber disconnected")
			return
		case bar, ok := <-sub.Bars():
			if !ok {
				logger.Info().Msg("subscription channel closed")
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(time.Second))
				return
			}

			payload, err := json.Marshal(barMessage(bar))
			if err != nil {
				logger.Error().Err(err).Msg("failed to marshal bar")
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Warn().Err(err).Msg("failed to send bar")
				return
			}
		}
	}
}

// barMessage renders a bar with string prices for the wire.
func barMessage(bar model.Bar) map[string]any {
	return map[string]any{
		"symbol":      bar.Symbol,
		"open_time":   bar.OpenTime,
		"close_time":  bar.CloseTime,
		"open":        bar.Open.String(),
		"high":        bar.High.String(),
		"low":         bar.Low.String(),
		"close":       bar.Close.String(),
		"volume":      bar.Volume.String(),
		"turnover":    bar.Turnover.String(),
		"vwap":        bar.VWAP.String(),
		"trade_count": bar.TradeCount,
		"buy_volume":  bar.BuyVolume.String(),
		"sell_volume": bar.SellVolume.String(),
	}
}
