// Package ingest applies verification results pushed by the identity provider.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/sender-identity/internal/application/transition"
	"github.com/sender-identity/internal/domain"
	"github.com/sender-identity/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// fanOutLimit caps concurrent store writes for one event.
const fanOutLimit = 8

type SenderStore interface {
	ListByIdentity(ctx context.Context, identity string) ([]domain.Sender, error)
}

type DomainStore interface {
	ListByDomain(ctx context.Context, domainName string) ([]domain.DomainVerification, error)
}

type Transitioner interface {
	ApplySender(ctx context.Context, tenantID, senderID string, to domain.VerificationStatus, reason, source string) (bool, error)
	ApplyDomain(ctx context.Context, tenantID, domainName string, to domain.VerificationStatus, reason, source string) (bool, error)
}

// Result counts the records an event matched and the transitions it caused.
type Result struct {
	Matched int
	Applied int
	Ignored bool
}

type Ingestor struct {
	senders     SenderStore
	domains     DomainStore
	transitions Transitioner
}

func New(senders SenderStore, domains DomainStore, transitions Transitioner) *Ingestor {
	return &Ingestor{senders: senders, domains: domains, transitions: transitions}
}

// TargetStatus maps an event status onto a record status. Only success and
// failure are actionable; everything else is ignored.
func TargetStatus(status string) (domain.VerificationStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success":
		return domain.StatusVerified, true
	case "failure", "failed":
		return domain.StatusFailed, true
	}
	return "", false
}

// Ingest fans ev out to every sender and domain record, across all tenants,
// whose identity matches. Redelivered events are harmless: records that
// already left pending are skipped by the transition primitive.
func (i *Ingestor) Ingest(ctx context.Context, ev domain.ProviderEvent) (Result, error) {
	var res Result
	identity := strings.ToLower(strings.TrimSpace(ev.Identity))
	if identity == "" {
		metrics.IncProviderEvent("rejected")
		return res, fmt.Errorf("event has no identity: %w", domain.ErrValidation)
	}
	to, ok := TargetStatus(ev.Status)
	if !ok {
		metrics.IncProviderEvent("ignored")
		res.Ignored = true
		return res, nil
	}
	reason := ""
	if to == domain.StatusFailed {
		reason = ev.Reason
		if reason == "" {
			reason = "identity provider reported verification failure"
		}
	}

	senders, err := i.senders.ListByIdentity(ctx, identity)
	if err != nil {
		return res, fmt.Errorf("find senders for %s: %w", identity, err)
	}
	var records []domain.DomainVerification
	if !strings.Contains(identity, "@") {
		records, err = i.domains.ListByDomain(ctx, identity)
		if err != nil {
			return res, fmt.Errorf("find domain records for %s: %w", identity, err)
		}
	}
	res.Matched = len(senders) + len(records)

	var applied atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)
	for _, s := range senders {
		if s.VerificationStatus != domain.StatusPending {
			continue
		}
		g.Go(func() error {
			ok, err := i.transitions.ApplySender(gctx, s.TenantID, s.SenderID, to, reason, transition.SourceEvent)
			if ok {
				applied.Add(1)
			}
			return err
		})
	}
	for _, d := range records {
		if d.Status != domain.StatusPending {
			continue
		}
		g.Go(func() error {
			ok, err := i.transitions.ApplyDomain(gctx, d.TenantID, d.Domain, to, reason, transition.SourceEvent)
			if ok {
				applied.Add(1)
			}
			return err
		})
	}
	err = g.Wait()
	res.Applied = int(applied.Load())
	if err != nil {
		return res, fmt.Errorf("apply event for %s: %w", identity, err)
	}

	metrics.IncProviderEvent("applied")
	slog.Info("provider event applied",
		"identity", identity, "status", to, "matched", res.Matched, "applied", res.Applied)
	return res, nil
}
