package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sender-identity/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

// QuotaEnvelope explains which plan limit blocked the request.
type QuotaEnvelope struct {
	Error           string      `json:"error"`
	Tier            domain.Tier `json:"tier"`
	Limit           int         `json:"limit"`
	UpgradeGuidance string      `json:"upgrade_guidance"`
}

// SendersEnvelope wraps sender list responses.
type SendersEnvelope struct {
	Data []domain.Sender `json:"data"`
}

// SenderEnvelope wraps single-sender responses that carry a message.
type SenderEnvelope struct {
	Message string         `json:"message,omitempty"`
	Sender  *domain.Sender `json:"sender"`
}

// DuplicateDomainEnvelope carries the record that already exists for a domain.
type DuplicateDomainEnvelope struct {
	Error    string              `json:"error"`
	Existing *domain.DomainSetup `json:"existing"`
}

// IngestEnvelope reports how many records a provider event touched.
type IngestEnvelope struct {
	Matched int  `json:"matched"`
	Applied int  `json:"applied"`
	Ignored bool `json:"ignored,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg, ErrorCode: status})
}

// errorStatus maps domain sentinels onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrTokenInvalid):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrQuota):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicate), errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTokenExpired), errors.Is(err, domain.ErrExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrVerificationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTooSoon):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrTransientProvider):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeServiceError translates a service error. Unexpected errors are logged
// and reported without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var qe *domain.QuotaError
	if errors.As(err, &qe) {
		writeJSON(w, http.StatusPaymentRequired, QuotaEnvelope{
			Error: qe.Reason, Tier: qe.Tier, Limit: qe.Limit, UpgradeGuidance: qe.Guidance,
		})
		return
	}
	status := errorStatus(err)
	switch status {
	case http.StatusInternalServerError:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, status, "internal error")
	case http.StatusServiceUnavailable:
		slog.Warn("identity provider unavailable", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, status, "identity provider temporarily unavailable, please retry")
	default:
		writeError(w, status, err.Error())
	}
}
