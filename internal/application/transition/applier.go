// Package transition is the single write path for verification status. The
// poller, the event ingestor, challenge confirmation and the expiry sweep all
// race through it; the store's pending-only conditional write decides the winner.
package transition

import (
	"context"
	"log/slog"
	"time"

	"github.com/sender-identity/internal/domain"
	"github.com/sender-identity/internal/metrics"
)

const (
	SourcePoll    = "poll"
	SourceEvent   = "event"
	SourceConfirm = "confirm"
	SourceExpiry  = "expiry"
	SourceMirror  = "mirror"
)

type SenderStore interface {
	ApplyTransition(ctx context.Context, tenantID, senderID string, tr domain.Transition) (*domain.Sender, bool, error)
}

type DomainStore interface {
	ApplyTransition(ctx context.Context, tenantID, domainName string, tr domain.Transition) (*domain.DomainVerification, bool, error)
}

type Publisher interface {
	Publish(ctx context.Context, ev domain.StatusEvent) error
}

type Applier struct {
	senders   SenderStore
	domains   DomainStore
	publisher Publisher
	now       func() time.Time
}

func NewApplier(senders SenderStore, domains DomainStore, publisher Publisher) *Applier {
	return &Applier{senders: senders, domains: domains, publisher: publisher, now: time.Now}
}

func (a *Applier) transition(to domain.VerificationStatus, reason string) domain.Transition {
	return domain.Transition{To: to, Reason: reason, At: a.now().UTC().Truncate(time.Second)}
}

// ApplySender moves a pending sender to a terminal status. It reports false when
// the sender was missing or already terminal. A domain sender's status is
// mirrored onto the tenant's domain verification record.
func (a *Applier) ApplySender(ctx context.Context, tenantID, senderID string, to domain.VerificationStatus, reason, source string) (bool, error) {
	tr := a.transition(to, reason)
	s, applied, err := a.senders.ApplyTransition(ctx, tenantID, senderID, tr)
	if err != nil || !applied {
		return false, err
	}
	metrics.IncTransition("sender", string(to), source)
	slog.Info("sender status changed",
		"tenant_id", tenantID, "sender_id", senderID, "status", to, "source", source)

	a.publish(ctx, domain.StatusEvent{
		Type:     domain.EventSenderStatusChanged,
		TenantID: tenantID,
		SenderID: senderID,
		Email:    s.Email,
		Domain:   s.Domain,
		Status:   to,
		Reason:   reason,
		At:       tr.At,
	})

	if s.VerificationType == domain.VerificationDomain && s.Domain != "" {
		if _, err := a.ApplyDomain(ctx, tenantID, s.Domain, to, reason, SourceMirror); err != nil {
			slog.Warn("mirror sender status to domain record",
				"tenant_id", tenantID, "domain", s.Domain, "err", err)
		}
	}
	return true, nil
}

// ApplyDomain moves a pending domain verification record to a terminal status.
func (a *Applier) ApplyDomain(ctx context.Context, tenantID, domainName string, to domain.VerificationStatus, reason, source string) (bool, error) {
	tr := a.transition(to, reason)
	_, applied, err := a.domains.ApplyTransition(ctx, tenantID, domainName, tr)
	if err != nil || !applied {
		return false, err
	}
	metrics.IncTransition("domain", string(to), source)
	slog.Info("domain status changed",
		"tenant_id", tenantID, "domain", domainName, "status", to, "source", source)

	a.publish(ctx, domain.StatusEvent{
		Type:     domain.EventDomainStatusChanged,
		TenantID: tenantID,
		Domain:   domainName,
		Status:   to,
		Reason:   reason,
		At:       tr.At,
	})
	return true, nil
}

// publish is fire-and-forget: a lost notification never undoes a transition.
func (a *Applier) publish(ctx context.Context, ev domain.StatusEvent) {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.Publish(ctx, ev); err != nil {
		slog.Warn("publish status event",
			"type", ev.Type, "tenant_id", ev.TenantID, "sender_id", ev.SenderID, "err", err)
	}
}
