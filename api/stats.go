package api

import (
	"net/http"
)

type statsResponse struct {
	PendingJobs int64 `json:"pending_jobs"`
	DLQSize     int64 `json:"dlq_size"`
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pending, err := h.hl.Store().CountPendingJobs(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	dlqCount, err := h.hl.DLQ().Count(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		PendingJobs: pending,
		DLQSize:     dlqCount,
	})
}
