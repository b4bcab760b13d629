package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sender-identity/internal/application/sender"
)

// VerifyHandler redeems mailbox proof tokens. It is public: the token is the credential.
type VerifyHandler struct {
	svc sender.Service
}

func NewVerifyHandler(svc sender.Service) *VerifyHandler { return &VerifyHandler{svc: svc} }

type confirmRequest struct {
	Token string `json:"token"`
}

// Confirm accepts the token from the query string (links in mail) or a JSON body.
func (h *VerifyHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	tok := r.URL.Query().Get("token")
	if tok == "" && r.Method == http.MethodPost {
		var req confirmRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		tok = req.Token
	}
	tok = strings.TrimSpace(tok)
	if tok == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	s, err := h.svc.ConfirmChallenge(r.Context(), tok)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SenderEnvelope{Message: "sender verified", Sender: s})
}
