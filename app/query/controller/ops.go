package controller

import (
	"net/http"
)

// HandleCheckpoint exposes the indexer's durable cursor for operators:
// last finalized slot folded, CAS version, and current lease holder.
func (c *Controller) HandleCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := c.App.DB.GetCheckpoint(r.Context(), c.App.ProgramID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if cp == nil {
		writeError(w, http.StatusNotFound, "checkpoint not initialized")
		return
	}
	writeJSON(w, http.StatusOK, cp)
}
