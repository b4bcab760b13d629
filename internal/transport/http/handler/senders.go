package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sender-identity/internal/application/sender"
	"github.com/sender-identity/internal/domain"
	"github.com/sender-identity/internal/transport/http/middleware"
)

// SenderHandler handles tenant sender CRUD and challenge resends.
type SenderHandler struct {
	svc sender.Service
}

func NewSenderHandler(svc sender.Service) *SenderHandler { return &SenderHandler{svc: svc} }

func tenantOrAbort(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID, ok := middleware.TenantID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
	}
	return tenantID, ok
}

func (h *SenderHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrAbort(w, r)
	if !ok {
		return
	}
	var req domain.CreateSenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s, err := h.svc.Create(r.Context(), tenantID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (h *SenderHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrAbort(w, r)
	if !ok {
		return
	}
	senders, err := h.svc.List(r.Context(), tenantID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if senders == nil {
		senders = []domain.Sender{}
	}
	writeJSON(w, http.StatusOK, SendersEnvelope{Data: senders})
}

func (h *SenderHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrAbort(w, r)
	if !ok {
		return
	}
	s, err := h.svc.Get(r.Context(), tenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *SenderHandler) Update(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrAbort(w, r)
	if !ok {
		return
	}
	var req domain.UpdateSenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s, err := h.svc.Update(r.Context(), tenantID, chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *SenderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrAbort(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), tenantID, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "sender deleted"})
}

func (h *SenderHandler) Resend(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrAbort(w, r)
	if !ok {
		return
	}
	s, err := h.svc.ResendChallenge(r.Context(), tenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SenderEnvelope{Message: "verification email sent", Sender: s})
}
