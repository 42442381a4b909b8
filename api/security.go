package api

import (
	"net/http"
	"time"
)

type blockIPRequest struct {
	IP     string `json:"ip"`
	Reason string `json:"reason"`
	TTL    string `json:"ttl"` // Go duration, e.g. "24h"
}

func (h *Handler) blockIP(w http.ResponseWriter, r *http.Request) {
	var req blockIPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.IP == "" {
		writeError(w, http.StatusBadRequest, "ip is required")
		return
	}

	ttl, err := time.ParseDuration(req.TTL)
	if err != nil || ttl <= 0 {
		writeError(w, http.StatusBadRequest, "invalid ttl (use a positive Go duration, e.g. \"24h\")")
		return
	}

	if blockErr := h.hl.BlockIP(r.Context(), req.IP, req.Reason, ttl); blockErr != nil {
		writeError(w, http.StatusInternalServerError, blockErr.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) unblockIP(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")

	if err := h.hl.UnblockIP(r.Context(), ip); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listBlocks(w http.ResponseWriter, r *http.Request) {
	blocks, err := h.hl.Security().ListBlocks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, blocks)
}

func (h *Handler) securityReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.hl.SecurityReport(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, report)
}
