package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sender-identity/internal/domain"
)

type domainService interface {
	CreateDomainVerification(ctx context.Context, tenantID string, req domain.CreateDomainRequest) (*domain.DomainSetup, error)
	Describe(ctx context.Context, tenantID, domainName string) (*domain.DomainSetup, error)
}

// DomainHandler handles DNS domain verification endpoints.
type DomainHandler struct {
	svc domainService
}

func NewDomainHandler(svc domainService) *DomainHandler { return &DomainHandler{svc: svc} }

func (h *DomainHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrAbort(w, r)
	if !ok {
		return
	}
	var req domain.CreateDomainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	setup, err := h.svc.CreateDomainVerification(r.Context(), tenantID, req)
	if errors.Is(err, domain.ErrDuplicate) && setup != nil {
		writeJSON(w, http.StatusConflict, DuplicateDomainEnvelope{Error: err.Error(), Existing: setup})
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, setup)
}

func (h *DomainHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOrAbort(w, r)
	if !ok {
		return
	}
	setup, err := h.svc.Describe(r.Context(), tenantID, strings.ToLower(chi.URLParam(r, "domain")))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setup)
}
