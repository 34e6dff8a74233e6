// Package push maintains a websocket subscription to the source ERP's event
// push service.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/erpbridge/erpbridge/pkg/config"
	"github.com/erpbridge/erpbridge/pkg/metrics"
	"github.com/erpbridge/erpbridge/pkg/model"
	"github.com/erpbridge/erpbridge/pkg/transport"
)

const (
	defaultMaxReconnectInterval = 30 * time.Second
	readLimit                   = 1 << 20
)

// joinRequest is the control frame subscribing this bridge to its event group.
type joinRequest struct {
	Action         string `json:"action"`
	SubscriptionID string `json:"subscription_id"`
}

type Client struct {
	url            string
	subscriptionID string
	maxReconnect   time.Duration
	sink           transport.Sink
	logger         *zap.Logger

	connected atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
	startMu   sync.Mutex
}

func NewClient(cfg *config.PushConfig, sink transport.Sink, logger *zap.Logger) *Client {
	maxReconnect := cfg.MaxReconnectInterval
	if maxReconnect <= 0 {
		maxReconnect = defaultMaxReconnectInterval
	}
	return &Client{
		url:            cfg.URL,
		subscriptionID: cfg.SubscriptionID,
		maxReconnect:   maxReconnect,
		sink:           sink,
		logger:         logger,
	}
}

func (c *Client) Name() string { return "push" }

func (c *Client) IsConnected() bool { return c.connected.Load() }

// Start launches the connection loop. It returns immediately; the loop keeps
// redialing with exponential backoff until Stop is called.
func (c *Client) Start(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	if c.done != nil {
		return errors.New("push client already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.connectLoop(runCtx)
	return nil
}

func (c *Client) Stop(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	if c.done == nil {
		return nil
	}
	c.cancel()
	select {
	case <-c.done:
		c.done = nil
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) connectLoop(ctx context.Context) {
	defer close(c.done)

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = c.maxReconnect

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.Dial(ctx, c.url, nil)
		if err != nil {
			c.logger.Warn("push dial failed",
				zap.String("url", c.url),
				zap.Error(err),
			)
			if !c.sleep(ctx, backoffCfg) {
				return
			}
			continue
		}

		conn.SetReadLimit(readLimit)

		if err := c.join(ctx, conn); err != nil {
			c.logger.Warn("push subscription failed", zap.Error(err))
			_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
			if !c.sleep(ctx, backoffCfg) {
				return
			}
			continue
		}

		c.connected.Store(true)
		backoffCfg.Reset()
		c.logger.Info("push transport connected",
			zap.String("url", c.url),
			zap.String("subscription_id", c.subscriptionID),
		)

		err = c.readLoop(ctx, conn)
		c.connected.Store(false)
		_ = conn.Close(websocket.StatusNormalClosure, "")

		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("push connection lost", zap.Error(err))
		if !c.sleep(ctx, backoffCfg) {
			return
		}
	}
}

func (c *Client) join(ctx context.Context, conn *websocket.Conn) error {
	req := joinRequest{Action: "subscribe", SubscriptionID: c.subscriptionID}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode subscribe request: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("send subscribe request: %w", err)
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		c.handleMessage(data)
	}
}

// handleMessage decodes one frame and feeds it to the sink. A malformed frame
// is logged and dropped; it must not tear the connection down.
func (c *Client) handleMessage(data []byte) {
	evt, err := model.ParseEvent(data)
	if err != nil {
		c.logger.Warn("dropping malformed push message", zap.Error(err))
		return
	}

	metrics.TransportEventsTotal.WithLabelValues(c.Name()).Inc()
	if err := c.sink(evt); err != nil {
		c.logger.Error("failed to enqueue push event",
			zap.String("event_id", evt.EventID),
			zap.Error(err),
		)
	}
}

func (c *Client) sleep(ctx context.Context, backoffCfg *backoff.ExponentialBackOff) bool {
	sleep := backoffCfg.NextBackOff()
	if sleep == backoff.Stop {
		sleep = c.maxReconnect
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(sleep):
		return true
	}
}

var _ transport.Transport = (*Client)(nil)
