package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/sender-identity/internal/application/ingest"
	"github.com/sender-identity/internal/domain"
	"github.com/sender-identity/internal/infrastructure/sns"
)

const maxEventBody = 256 << 10

type eventIngestor interface {
	Ingest(ctx context.Context, ev domain.ProviderEvent) (ingest.Result, error)
}

type snsVerifier interface {
	Verify(ctx context.Context, m *sns.Message) error
	ConfirmSubscription(ctx context.Context, m *sns.Message) error
}

// EventHandler receives identity provider verification events delivered by SNS.
type EventHandler struct {
	ingestor eventIngestor
	verifier snsVerifier
	topics   map[string]struct{}
}

// NewEventHandler builds the handler. SNS messages are accepted only from the
// listed topics; with signature checks on, an empty list rejects every message.
// A nil verifier disables signature checks and additionally accepts bare
// provider events, for local setups.
func NewEventHandler(ingestor eventIngestor, verifier snsVerifier, topics []string) *EventHandler {
	h := &EventHandler{ingestor: ingestor, verifier: verifier, topics: make(map[string]struct{}, len(topics))}
	for _, arn := range topics {
		h.topics[arn] = struct{}{}
	}
	return h
}

func (h *EventHandler) topicAllowed(arn string) bool {
	if len(h.topics) == 0 {
		return h.verifier == nil
	}
	_, ok := h.topics[arn]
	return ok
}

func (h *EventHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "event body too large")
		return
	}
	var msg sns.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event body")
		return
	}

	if msg.Type == "" {
		if h.verifier != nil {
			writeError(w, http.StatusForbidden, "unsigned events are not accepted")
			return
		}
		h.ingest(w, r, body)
		return
	}

	if !h.topicAllowed(msg.TopicArn) {
		slog.Warn("rejected sns message from unexpected topic", "message_id", msg.MessageID, "topic", msg.TopicArn)
		writeError(w, http.StatusForbidden, "topic not allowed")
		return
	}

	if h.verifier != nil {
		if err := h.verifier.Verify(r.Context(), &msg); err != nil {
			slog.Warn("rejected sns message", "message_id", msg.MessageID, "topic", msg.TopicArn, "err", err)
			writeError(w, http.StatusForbidden, "invalid message signature")
			return
		}
	}

	switch msg.Type {
	case sns.TypeSubscriptionConfirmation:
		if h.verifier == nil {
			writeError(w, http.StatusBadRequest, "subscription confirmation requires signature verification")
			return
		}
		if err := h.verifier.ConfirmSubscription(r.Context(), &msg); err != nil {
			slog.Error("confirm sns subscription", "topic", msg.TopicArn, "err", err)
			writeError(w, http.StatusBadGateway, "subscription confirmation failed")
			return
		}
		slog.Info("sns subscription confirmed", "topic", msg.TopicArn)
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "subscription confirmed"})
	case sns.TypeUnsubscribeConfirmation:
		slog.Warn("sns subscription removed", "topic", msg.TopicArn)
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "ok"})
	case sns.TypeNotification:
		h.ingest(w, r, []byte(msg.Message))
	default:
		writeError(w, http.StatusBadRequest, "unknown message type")
	}
}

func (h *EventHandler) ingest(w http.ResponseWriter, r *http.Request, payload []byte) {
	var ev domain.ProviderEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid provider event")
		return
	}
	res, err := h.ingestor.Ingest(r.Context(), ev)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		// A non-2xx response makes SNS redeliver; transitions are idempotent.
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, IngestEnvelope{Matched: res.Matched, Applied: res.Applied, Ignored: res.Ignored})
}
