package controller

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tycoon-works/tycoonx/app/query/types"
	"github.com/tycoon-works/tycoonx/pkg/notify"
	"go.uber.org/zap"
)

func newWsController(t *testing.T) *Controller {
	t.Helper()

	// An unreachable Redis keeps the relay in its reconnect loop; the
	// handler must stay functional and emit error notices regardless.
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	return &Controller{
		App: &types.App{
			Redis:     notify.NewClientWith(rdb, zap.NewNop(), 0),
			ProgramID: "test",
			Logger:    zap.NewNop(),
		},
	}
}

func TestWebSocketRejectedWithoutRedis(t *testing.T) {
	ctrl := &Controller{App: &types.App{ProgramID: "test", Logger: zap.NewNop()}}

	rec := httptest.NewRecorder()
	ctrl.HandleWebSocket(rec, httptest.NewRequest("GET", "/ws", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebSocketDisconnectShutsDownCleanly(t *testing.T) {
	ctrl := newWsController(t)

	srv := httptest.NewServer(http.HandlerFunc(ctrl.HandleWebSocket))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	// The broken feed surfaces as a recoverable error notice; receiving
	// one proves the relay and writer goroutines are live.
	var msg ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)

	require.NoError(t, conn.Close())

	// Closing the test server waits for the handler; if any goroutine
	// leaks or deadlocks on the send channel after disconnect, this
	// never finishes.
	done := make(chan struct{})
	go func() {
		srv.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not shut down after client disconnect")
	}
}
