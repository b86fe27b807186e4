package controller

import (
	"context"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/tycoon-works/tycoonx/pkg/notify"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: In production, restrict to specific origins
		return true
	},
}

// ServerMessage represents messages sent to WebSocket clients.
type ServerMessage struct {
	Type    string      `json:"type"`    // "player.updated", "commission.credited", "ping", "error"
	Payload interface{} `json:"payload"` // Event-specific data
}

// HandleWebSocket upgrades the connection and relays committed projection
// changes from Redis Pub/Sub to the client.
//
// Server sends:
// - {"type": "player.updated", "payload": {...}}
// - {"type": "commission.credited", "payload": {...}}
// - {"type": "ping", "payload": {"timestamp": 1234567890}}
// - {"type": "error", "payload": {"message": "..."}}
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if c.App.Redis == nil {
		http.Error(w, "Real-time events not available (Redis disabled)", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			c.App.Logger.Debug("Failed to close WebSocket connection", zap.Error(err))
		}
	}()

	c.App.Logger.Info("WebSocket client connected", zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	send := make(chan ServerMessage, 256)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.recoverWs(cancel, r.RemoteAddr, "redis relay")
		c.relayRedis(ctx, send)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.recoverWs(cancel, r.RemoteAddr, "ping ticker")
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case send <- ServerMessage{Type: "ping", Payload: map[string]int64{"timestamp": time.Now().Unix()}}:
				default:
				}
			}
		}
	}()

	// The send channel is never closed; every goroutine on it exits via
	// ctx instead, so a producer mid-send cannot hit a closed channel.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.recoverWs(cancel, r.RemoteAddr, "writer")
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-send:
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	// Block reading until the client goes away; clients send nothing we
	// act on, but reads are how close frames surface.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	cancel()
	wg.Wait()

	c.App.Logger.Info("WebSocket client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

func (c *Controller) recoverWs(cancel context.CancelFunc, remote, where string) {
	if rec := recover(); rec != nil {
		c.App.Logger.Error("Panic in WebSocket goroutine",
			zap.Any("panic", rec),
			zap.String("goroutine", where),
			zap.String("stack", string(debug.Stack())),
			zap.String("remote_addr", remote))
		cancel()
	}
}

// relayRedis forwards the program's pub/sub channels into send,
// resubscribing with backoff when the Redis connection drops.
func (c *Controller) relayRedis(ctx context.Context, send chan<- ServerMessage) {
	playerCh := notify.PlayerChannel(c.App.ProgramID)
	commissionCh := notify.CommissionChannel(c.App.ProgramID)

	const (
		initialBackoff = time.Second
		maxBackoff     = 30 * time.Second
	)
	backoff := initialBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		err := c.pumpSubscription(ctx, send, playerCh, commissionCh)
		if ctx.Err() != nil {
			return
		}
		c.App.Logger.Warn("Redis subscription lost, will retry",
			zap.Error(err),
			zap.Duration("backoff", backoff))

		select {
		case send <- ServerMessage{Type: "error", Payload: map[string]interface{}{
			"message":     "event feed interrupted, reconnecting",
			"retryIn":     backoff.Seconds(),
			"recoverable": true,
		}}:
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Controller) pumpSubscription(ctx context.Context, send chan<- ServerMessage, playerCh, commissionCh string) error {
	sub := c.App.Redis.Subscribe(ctx, playerCh, commissionCh)
	defer func() { _ = sub.Close() }()

	// Fail fast if the subscription never established.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return redis.ErrClosed
			}
			kind := "player.updated"
			if msg.Channel == commissionCh {
				kind = "commission.credited"
			}
			select {
			case send <- ServerMessage{Type: kind, Payload: msg.Payload}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
