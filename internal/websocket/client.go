// Package websocket wraps a gorilla websocket connection with the
// lifecycle plumbing the trade feed needs: dial, subscribe, read loop with
// a panic-safe message handler, keepalive pings and idempotent shutdown.
package websocket

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"rangebar/internal/model"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	defaultPingPeriod       = 15 * time.Second
	defaultSendTimeout      = 5 * time.Second
	defaultReadLimit        = 1 << 20 // 1MB
	defaultHandshakeTimeout = 10 * time.Second
)

// ErrClientShuttingDown indicates the client is closing and will not read
// further messages.
var ErrClientShuttingDown = errors.New("client is shutting down")

// Config defines settings for the websocket client.
type Config struct {
	// Endpoint is the websocket URL to connect to. Required.
	Endpoint string

	// Handler is called for each incoming message and emits any trades
	// it decodes on the channel. Required.
	Handler func([]byte, chan<- model.TradeEvent) error

	// TLSInsecureSkip disables TLS certificate verification.
	TLSInsecureSkip bool

	// PingPeriod is the keepalive interval; defaulted when zero.
	PingPeriod time.Duration

	// SendTimeout bounds write operations; defaulted when zero.
	SendTimeout time.Duration

	// SubscriptionMessages are sent immediately after connecting.
	SubscriptionMessages [][]byte
}

// Client owns one websocket connection and the goroutines reading it.
type Client struct {
	conn atomic.Value // *websocket.Conn

	// TradeChan delivers decoded trade events to the consumer. Closed
	// when the read loop exits.
	TradeChan chan model.TradeEvent

	disconnect chan struct{}
	errChan    chan error
	cfg        *Config
	ctx        context.Context
	cancel     context.CancelFunc
	once       sync.Once
	wg         sync.WaitGroup
}

// NewClient dials the endpoint, sends the subscription messages and starts
// the read and ping loops.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint URL is required")
	}
	if cfg.Handler == nil {
		return nil, errors.New("message handler is required")
	}
	if cfg.PingPeriod == 0 {
		cfg.PingPeriod = defaultPingPeriod
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = defaultSendTimeout
	}

	ctx, cancel := context.WithCancel(ctx)
	client := &Client{
		cfg:        &cfg,
		ctx:        ctx,
		cancel:     cancel,
		disconnect: make(chan struct{}),
		errChan:    make(chan error, 1),
		TradeChan:  make(chan model.TradeEvent, 1000),
	}

	if err := client.run(cfg.SubscriptionMessages); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start client: %w", err)
	}
	return client, nil
}

func (c *Client) run(subMsgs [][]byte) error {
	logger := log.With().Str("endpoint", c.cfg.Endpoint).Logger()
	logger.Info().Msg("starting websocket client")

	conn, err := c.dial(c.ctx)
	if err != nil {
		return fmt.Errorf("initial dial failed: %w", err)
	}
	c.conn.Store(conn)

	conn.SetReadLimit(defaultReadLimit)
	conn.SetPongHandler(func(string) error {
		deadline := time.Now().Add(c.cfg.PingPeriod * 2)
		if err := conn.SetReadDeadline(deadline); err != nil {
			logger.Warn().Err(err).Msg("failed to set read deadline in pong handler")
		}
		return nil
	})

	for _, msg := range subMsgs {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			if closeErr := conn.Close(); closeErr != nil {
				logger.Warn().Err(closeErr).Msg("error closing connection during cleanup")
			}
			return fmt.Errorf("subscription write failed: %w", err)
		}
	}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.readLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.pingLoop()
	}()
	go func() {
		<-c.ctx.Done()
		c.Close()
	}()

	return nil
}

func (c *Client) readLoop() {
	conn := c.conn.Load().(*websocket.Conn)
	logger := log.With().Str("endpoint", c.cfg.Endpoint).Str("component", "readLoop").Logger()

	defer func() {
		close(c.disconnect)
		close(c.TradeChan)
		select {
		case c.errChan <- ErrClientShuttingDown:
		default:
		}
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Info().Err(err).Msg("websocket closed normally")
			} else if websocket.IsUnexpectedCloseError(err) {
				logger.Warn().Err(err).Msg("unexpected websocket closure")
			} else {
				logger.Error().Err(err).Msg("read error")
			}
			select {
			case c.errChan <- err:
			default:
			}
			return
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error().Any("recover", r).Msg("panic in message handler")
				}
			}()
			if err := c.cfg.Handler(data, c.TradeChan); err != nil {
				logger.Error().Err(err).Msg("error handling message")
			}
		}()
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()

	logger := log.With().Str("endpoint", c.cfg.Endpoint).Str("component", "pingLoop").Logger()

	for {
		select {
		case <-ticker.C:
			connVal := c.conn.Load()
			if connVal == nil {
				continue
			}
			conn := connVal.(*websocket.Conn)

			if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.SendTimeout)); err != nil {
				logger.Warn().Err(err).Msg("failed to set write deadline")
				continue
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Warn().Err(err).Msg("ping error")
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Close shuts the client down. Safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() {
		logger := log.With().Str("endpoint", c.cfg.Endpoint).Logger()
		logger.Info().Msg("closing websocket client")

		c.cancel()

		if connVal := c.conn.Load(); connVal != nil {
			if conn, ok := connVal.(*websocket.Conn); ok {
				if err := conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second),
				); err != nil {
					logger.Warn().Err(err).Msg("failed to send close frame")
				}
				if err := conn.Close(); err != nil {
					logger.Warn().Err(err).Msg("error closing websocket connection")
				}
			}
		}

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			logger.Warn().Msg("timeout waiting for goroutines to complete")
		}
	})
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: c.cfg.TLSInsecureSkip},
		HandshakeTimeout: defaultHandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.Endpoint, make(http.Header))
	if err != nil {
		if resp != nil {
			log.Error().Err(err).Int("statusCode", resp.StatusCode).
				Str("endpoint", c.cfg.Endpoint).Msg("connection failed")
		} else {
			log.Error().Err(err).Str("endpoint", c.cfg.Endpoint).Msg("connection failed")
		}
		return nil, err
	}
	return conn, nil
}

// DisconnectChan is closed when the connection is lost for any reason.
func (c *Client) DisconnectChan() <-chan struct{} {
	return c.disconnect
}

// ErrChan reports the terminal read error, if any.
func (c *Client) ErrChan() <-chan error {
	return c.errChan
}
