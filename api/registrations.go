package api

import (
	"errors"
	"net/http"

	"github.com/hookline/hookline"
	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/registration"
)

func (h *Handler) createRegistration(w http.ResponseWriter, r *http.Request) {
	var in registration.Input
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reg, err := h.hl.Registrations().Register(r.Context(), in)
	if err != nil {
		var vErr *registration.ValidationError
		if errors.As(err, &vErr) {
			writeError(w, http.StatusBadRequest, vErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// The secret is returned exactly once, on creation.
	writeJSON(w, http.StatusCreated, struct {
		*registration.Registration
		Secret string `json:"secret"`
	}{reg, reg.Secret})
}

func (h *Handler) listRegistrations(w http.ResponseWriter, r *http.Request) {
	tenantID := queryParam(r, "tenant_id")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	opts := registration.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}
	if s := queryParam(r, "status"); s != "" {
		status := registration.Status(s)
		opts.Status = &status
	}

	regs, err := h.hl.Registrations().List(r.Context(), tenantID, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, regs)
}

func (h *Handler) getRegistration(w http.ResponseWriter, r *http.Request) {
	regID, err := id.ParseRegistrationID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid registration ID")
		return
	}

	reg, getErr := h.hl.Registrations().Get(r.Context(), regID)
	if getErr != nil {
		h.writeRegError(w, getErr)
		return
	}

	writeJSON(w, http.StatusOK, reg)
}

func (h *Handler) updateRegistration(w http.ResponseWriter, r *http.Request) {
	regID, err := id.ParseRegistrationID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid registration ID")
		return
	}

	var in registration.Input
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reg, updateErr := h.hl.Registrations().Update(r.Context(), regID, in)
	if updateErr != nil {
		var vErr *registration.ValidationError
		if errors.As(updateErr, &vErr) {
			writeError(w, http.StatusBadRequest, vErr.Error())
			return
		}
		h.writeRegError(w, updateErr)
		return
	}

	writeJSON(w, http.StatusOK, reg)
}

func (h *Handler) deleteRegistration(w http.ResponseWriter, r *http.Request) {
	regID, err := id.ParseRegistrationID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid registration ID")
		return
	}

	if delErr := h.hl.Registrations().Unregister(r.Context(), regID); delErr != nil {
		h.writeRegError(w, delErr)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pauseRegistration(w http.ResponseWriter, r *http.Request) {
	regID, err := id.ParseRegistrationID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid registration ID")
		return
	}

	if pauseErr := h.hl.Pause(r.Context(), regID); pauseErr != nil {
		h.writeRegError(w, pauseErr)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) resumeRegistration(w http.ResponseWriter, r *http.Request) {
	regID, err := id.ParseRegistrationID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid registration ID")
		return
	}

	if resumeErr := h.hl.Resume(r.Context(), regID); resumeErr != nil {
		h.writeRegError(w, resumeErr)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rotateSecret(w http.ResponseWriter, r *http.Request) {
	regID, err := id.ParseRegistrationID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid registration ID")
		return
	}

	secret, rotateErr := h.hl.Registrations().RotateSecret(r.Context(), regID)
	if rotateErr != nil {
		h.writeRegError(w, rotateErr)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"secret": secret})
}

func (h *Handler) registrationStatus(w http.ResponseWriter, r *http.Request) {
	regID, err := id.ParseRegistrationID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid registration ID")
		return
	}

	info, statusErr := h.hl.Status(r.Context(), regID)
	if statusErr != nil {
		h.writeRegError(w, statusErr)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) writeRegError(w http.ResponseWriter, err error) {
	if errors.Is(err, hookline.ErrRegistrationNotFound) {
		writeError(w, http.StatusNotFound, "registration not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
