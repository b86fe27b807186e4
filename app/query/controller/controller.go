package controller

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/tycoon-works/tycoonx/app/query/types"
	"github.com/tycoon-works/tycoonx/pkg/db/models/game"
	"github.com/tycoon-works/tycoonx/pkg/utils"
)

type Controller struct {
	App       *types.App
	OpsUser   string
	OpsHash   []byte
	JWTSecret []byte

	// Snapshots caches recently served player snapshots; invalidation is
	// time-based (see snapshotTTL), reads tolerate slight staleness.
	Snapshots *xsync.Map[string, *cachedSnapshot]
}

type cachedSnapshot struct {
	snapshot *game.Snapshot
	storedAt int64
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	opsPass := utils.Env("OPS_PASSWORD", "ops")
	phash, _ := utils.HashOrRead(opsPass)

	return &Controller{
		App:       app,
		OpsUser:   utils.Env("OPS_USER", "ops"),
		OpsHash:   phash,
		JWTSecret: []byte(utils.Env("JWT_SECRET", "change-me-please")),
		Snapshots: xsync.NewMap[string, *cachedSnapshot](),
	}
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.Handle("/health", http.HandlerFunc(c.HandleHealth)).Methods("GET")
	r.HandleFunc("/login", c.HandleLogin).Methods("POST")

	r.HandleFunc("/players/{address}", c.HandlePlayer).Methods("GET")
	r.HandleFunc("/players/{address}/commissions", c.HandleCommissions).Methods("GET")
	r.HandleFunc("/players/{address}/schedule", c.HandleSchedule).Methods("GET")

	r.Handle("/ops/checkpoint", c.RequireAuth(http.HandlerFunc(c.HandleCheckpoint))).Methods("GET")

	r.HandleFunc("/ws", c.HandleWebSocket)

	return r, nil
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
