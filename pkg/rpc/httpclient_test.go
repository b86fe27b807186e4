package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rpcServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func respond(w http.ResponseWriter, result any) {
	_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": result})
}

func newTestClient(endpoints ...string) *HTTPClient {
	return NewHTTPWithOpts(Opts{
		Endpoints:       endpoints,
		RPS:             1000,
		Burst:           1000,
		BreakerFailures: 2,
		BreakerCooldown: 50 * time.Millisecond,
		Timeout:         2 * time.Second,
	})
}

func TestFinalizedSlot(t *testing.T) {
	srv := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "getSlot", req.Method)
		respond(w, 123456)
	})

	slot, err := newTestClient(srv.URL).FinalizedSlot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(123456), slot)
}

func TestAccountClock(t *testing.T) {
	srv := rpcServer(t, func(w http.ResponseWriter, _ *http.Request) {
		respond(w, map[string]int64{"settledAt": 1754040000})
	})

	at, err := newTestClient(srv.URL).AccountClock(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1754040000, 0).UTC(), at)
}

func TestCallRateLimitIsTransient(t *testing.T) {
	srv := rpcServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := newTestClient(srv.URL).FinalizedSlot(context.Background())
	assert.ErrorIs(t, err, ErrUpstreamTransient)
}

func TestCallServerErrorIsTransient(t *testing.T) {
	srv := rpcServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := newTestClient(srv.URL).FinalizedSlot(context.Background())
	assert.ErrorIs(t, err, ErrUpstreamTransient)
}

func TestCallProtocolErrorIsNotTransient(t *testing.T) {
	srv := rpcServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": 1,
			"error": map[string]any{"code": -32601, "message": "method not found"},
		})
	})

	client := newTestClient(srv.URL)
	_, err := client.FinalizedSlot(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUpstreamTransient,
		"an rpc-level error is a caller bug, not an endpoint failure")

	// And it must not have tripped the breaker.
	assert.False(t, client.isOpen(srv.URL))
}

func TestCallFailsOverAcrossEndpoints(t *testing.T) {
	bad := rpcServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	var goodHits atomic.Int64
	good := rpcServer(t, func(w http.ResponseWriter, _ *http.Request) {
		goodHits.Add(1)
		respond(w, 42)
	})

	slot, err := newTestClient(bad.URL, good.URL).FinalizedSlot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), slot)
	assert.Equal(t, int64(1), goodHits.Load())
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	var healthy atomic.Bool
	srv := rpcServer(t, func(w http.ResponseWriter, _ *http.Request) {
		if healthy.Load() {
			respond(w, 7)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	})
	client := newTestClient(srv.URL)

	for i := 0; i < 2; i++ {
		_, err := client.FinalizedSlot(context.Background())
		require.Error(t, err)
	}
	assert.True(t, client.isOpen(srv.URL), "two failures trip the breaker")

	_, err := client.FinalizedSlot(context.Background())
	assert.ErrorIs(t, err, ErrUpstreamTransient, "open breaker short-circuits without a request")

	healthy.Store(true)
	time.Sleep(80 * time.Millisecond) // past the cooldown

	slot, err := client.FinalizedSlot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), slot)
}

func TestProgramInstructions(t *testing.T) {
	srv := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "getProgramInstructions", req.Method)
		respond(w, []map[string]any{
			{"slot": 10, "txSignature": "a", "txIndex": 0, "index": 0, "data": "eyJ9"},
			{"slot": 11, "txSignature": "b", "txIndex": 1, "index": 2, "data": "eyJ9"},
		})
	})

	out, err := newTestClient(srv.URL).ProgramInstructions(context.Background(), "prog", 9, 11)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, uint64(11), out[1].Slot)
	assert.Equal(t, uint32(2), out[1].Index)
}
