package controller

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/tycoon-works/tycoonx/pkg/db/models/game"
)

const (
	snapshotTTL        = 2 * time.Second
	defaultLedgerLimit = 50
	maxLedgerLimit     = 500
)

// HandlePlayer returns a player's snapshot: materialized state plus the
// owned businesses. Snapshots are cached briefly; live consumers use /ws.
func (c *Controller) HandlePlayer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	address := mux.Vars(r)["address"]

	if cached, ok := c.Snapshots.Load(address); ok {
		if time.Since(time.Unix(0, cached.storedAt)) < snapshotTTL {
			writeJSON(w, http.StatusOK, cached.snapshot)
			return
		}
	}

	player, err := c.App.DB.GetPlayer(ctx, address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if player == nil {
		writeError(w, http.StatusNotFound, "unknown player")
		return
	}

	businesses, err := c.App.DB.ListBusinesses(ctx, nil, address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	snapshot := &game.Snapshot{Player: *player, Businesses: businesses}
	c.Snapshots.Store(address, &cachedSnapshot{snapshot: snapshot, storedAt: time.Now().UnixNano()})
	writeJSON(w, http.StatusOK, snapshot)
}

// HandleCommissions returns the per-level summary plus recent ledger rows.
func (c *Controller) HandleCommissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	address := mux.Vars(r)["address"]

	limit := defaultLedgerLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLedgerLimit {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	summary, err := c.App.DB.GetCommissionSummary(ctx, address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	entries, err := c.App.DB.ListCommissions(ctx, address, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary": summary,
		"entries": entries,
	})
}

// HandleSchedule returns the player's next recompute and its retry state.
func (c *Controller) HandleSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	address := mux.Vars(r)["address"]

	status, err := c.App.DB.GetScheduleStatus(ctx, address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if status == nil {
		writeError(w, http.StatusNotFound, "no schedule entry")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
