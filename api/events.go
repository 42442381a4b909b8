package api

import (
	"errors"
	"net/http"

	"github.com/hookline/hookline"
	"github.com/hookline/hookline/event"
	"github.com/hookline/hookline/id"
)

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	opts := event.ListOpts{
		Offset:    queryInt(r, "offset", 0),
		Limit:     queryInt(r, "limit", 50),
		Direction: event.Direction(queryParam(r, "direction")),
		Provider:  queryParam(r, "provider"),
		Type:      queryParam(r, "type"),
	}
	if s := queryParam(r, "status"); s != "" {
		status := event.Status(s)
		opts.Status = &status
	}

	if regParam := queryParam(r, "registration_id"); regParam != "" {
		regID, err := id.ParseRegistrationID(regParam)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid registration ID")
			return
		}
		events, err := h.hl.Store().ListEventsByRegistration(r.Context(), regID, opts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, events)
		return
	}

	events, err := h.hl.Store().ListEvents(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	evtID, err := id.ParseEventID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event ID")
		return
	}

	evt, getErr := h.hl.Store().GetEvent(r.Context(), evtID)
	if getErr != nil {
		if errors.Is(getErr, hookline.ErrEventNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, evt)
}

func (h *Handler) retryEvent(w http.ResponseWriter, r *http.Request) {
	evtID, err := id.ParseEventID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event ID")
		return
	}

	if retryErr := h.hl.Retry(r.Context(), evtID); retryErr != nil {
		switch {
		case errors.Is(retryErr, hookline.ErrEventNotFound):
			writeError(w, http.StatusNotFound, "event not found")
		case errors.Is(retryErr, hookline.ErrEventNotRetryable):
			writeError(w, http.StatusConflict, retryErr.Error())
		default:
			writeError(w, http.StatusInternalServerError, retryErr.Error())
		}
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
