/*
Package main implements a websocket client for the range-bar server.

The client connects to a running server, subscribes to the given symbols
and logs every completed bar it receives until interrupted.

Usage:

	go run main.go -addr=localhost:8080 -symbols=BTC-USDT,ETH-USDT
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	serverAddr = flag.String("addr", "localhost:8080", "The server address in the format host:port")
	symbols    = flag.String("symbols", "BTC-USDT,ETH-USDT", "Comma-separated list of symbols to subscribe to")
)

// barMessage mirrors the server's wire format for one completed bar.
type barMessage struct {
	Symbol     string `json:"symbol"`
	OpenTime   int64  `json:"open_time"`
	CloseTime  int64  `json:"close_time"`
	Open       string `json:"open"`
	High       string `json:"high"`
	Low        string `json:"low"`
	Close      string `json:"close"`
	Volume     string `json:"volume"`
	Turnover   string `json:"turnover"`
	VWAP       string `json:"vwap"`
	TradeCount int64  `json:"trade_count"`
	BuyVolume  string `json:"buy_volume"`
	SellVolume string `json:"sell_volume"`
}

func main() {
	flag.Parse()

	log := zerolog.New(os.Stdout).Level(zerolog.InfoLevel).With().Timestamp().Logger()

	if err := validateConfig(); err != nil {
		log.Fatal().Err(err).Msg("configuration error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	endpoint := url.URL{
		Scheme:   "ws",
		Host:     *serverAddr,
		Path:     "/ws",
		RawQuery: "symbols=" + url.QueryEscape(*symbols),
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		log.Fatal().Err(err).Str("endpoint", endpoint.String()).Msg("failed to connect")
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	log.Info().Str("endpoint", endpoint.String()).Msg("subscribed, waiting for bars")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("client stopped")
				return
			}
			log.Fatal().Err(err).Msg("read error")
		}

		var bar barMessage
		if err := json.Unmarshal(data, &bar); err != nil {
			log.Warn().Err(err).Str("payload", string(data)).Msg("unparseable bar message")
			continue
		}

		log.Info().
			Str("symbol", bar.Symbol).
			Str("open", bar.Open).
			Str("high", bar.High).
			Str("low", bar.Low).
			Str("close", bar.Close).
			Str("volume", bar.Volume).
			Str("vwap", bar.VWAP).
			Int64("trades", bar.TradeCount).
			Int64("close_time", bar.CloseTime).
			Msg("bar")
	}
}

func validateConfig() error {
	if *serverAddr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	if *symbols == "" {
		return fmt.Errorf("symbols list cannot be empty")
	}
	return nil
}
