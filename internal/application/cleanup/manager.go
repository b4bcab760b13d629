// Package cleanup removes external identities whose verification window closed
// and resolves expired pending records.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sender-identity/internal/application/transition"
	"github.com/sender-identity/internal/domain"
	"github.com/sender-identity/internal/metrics"
)

const expiredReason = "verification not completed within 24 hours"

type Identity interface {
	RemoveAssociation(ctx context.Context, tenantID, identity string) error
	DeleteIdentity(ctx context.Context, identity string) error
}

type SenderStore interface {
	ListByIdentity(ctx context.Context, identity string) ([]domain.Sender, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int32) ([]domain.Sender, error)
}

type DomainStore interface {
	ListByDomain(ctx context.Context, domainName string) ([]domain.DomainVerification, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int32) ([]domain.DomainVerification, error)
}

type OrphanStore interface {
	Record(ctx context.Context, o domain.OrphanedIdentity) error
	List(ctx context.Context, limit int32) ([]domain.OrphanedIdentity, error)
	Delete(ctx context.Context, identityName string) error
}

type Transitioner interface {
	ApplySender(ctx context.Context, tenantID, senderID string, to domain.VerificationStatus, reason, source string) (bool, error)
	ApplyDomain(ctx context.Context, tenantID, domainName string, to domain.VerificationStatus, reason, source string) (bool, error)
}

// Target names the record whose identity is being released. DomainRecord is
// set when the tenant's own domain verification is the record being released;
// otherwise that record counts as a live reference.
type Target struct {
	TenantID     string
	SenderID     string
	Identity     string
	DomainRecord bool
}

// Result reports what Cleanup did. Err joins the failures of every stage.
type Result struct {
	Identity           string
	AssociationRemoved bool
	IdentityDeleted    bool
	// Shared is set when another live record still uses the identity.
	Shared bool
	Err    error
}

func (r Result) OK() bool { return r.Err == nil }

type Deps struct {
	Identity    Identity
	Senders     SenderStore
	Domains     DomainStore
	Orphans     OrphanStore
	Transitions Transitioner
}

type Manager struct {
	identity    Identity
	senders     SenderStore
	domains     DomainStore
	orphans     OrphanStore
	transitions Transitioner
	now         func() time.Time
}

func NewManager(d Deps) *Manager {
	return &Manager{
		identity:    d.Identity,
		senders:     d.Senders,
		domains:     d.Domains,
		orphans:     d.Orphans,
		transitions: d.Transitions,
		now:         time.Now,
	}
}

// usage counts live (pending or verified) references to an identity other than t,
// within t's tenant and across all tenants. A tenant's own domain record keeps
// the identity alive for its senders until the record itself is released.
func (m *Manager) usage(ctx context.Context, t Target) (inTenant, total int, err error) {
	senders, err := m.senders.ListByIdentity(ctx, t.Identity)
	if err != nil {
		return 0, 0, err
	}
	for _, s := range senders {
		if s.VerificationStatus.IsTerminal() && s.VerificationStatus != domain.StatusVerified {
			continue
		}
		if s.TenantID == t.TenantID && s.SenderID == t.SenderID {
			continue
		}
		total++
		if s.TenantID == t.TenantID {
			inTenant++
		}
	}
	if strings.Contains(t.Identity, "@") {
		return inTenant, total, nil
	}
	records, err := m.domains.ListByDomain(ctx, t.Identity)
	if err != nil {
		return 0, 0, err
	}
	for _, d := range records {
		if d.Status != domain.StatusPending && d.Status != domain.StatusVerified {
			continue
		}
		if d.TenantID == t.TenantID {
			if t.DomainRecord {
				continue
			}
			inTenant++
		}
		total++
	}
	return inTenant, total, nil
}

// Cleanup releases t's external identity: the tenant association first, then the
// identity itself. It never fails the caller; failures are logged, counted and
// recorded as orphans for the orphan sweep.
func (m *Manager) Cleanup(ctx context.Context, t Target) Result {
	res := Result{Identity: strings.ToLower(t.Identity)}
	t.Identity = res.Identity

	inTenant, total, err := m.usage(ctx, t)
	if err != nil {
		// Without usage information deleting could break another sender; leave it to the sweep.
		res.Err = fmt.Errorf("check identity usage: %w", err)
		m.recordOrphan(ctx, t, domain.StageAssociation, res.Err)
		return res
	}
	if inTenant > 0 {
		res.Shared = true
		return res
	}

	if err := m.identity.RemoveAssociation(ctx, t.TenantID, t.Identity); err != nil {
		metrics.IncCleanupFailure(string(domain.StageAssociation))
		res.Err = fmt.Errorf("remove association: %w: %w", domain.ErrCleanupFailure, err)
		m.recordOrphan(ctx, t, domain.StageAssociation, err)
		return res
	}
	res.AssociationRemoved = true

	if total > 0 {
		res.Shared = true
		return res
	}
	if err := m.identity.DeleteIdentity(ctx, t.Identity); err != nil {
		metrics.IncCleanupFailure(string(domain.StageIdentity))
		res.Err = fmt.Errorf("delete identity: %w: %w", domain.ErrCleanupFailure, err)
		m.recordOrphan(ctx, t, domain.StageIdentity, err)
		return res
	}
	res.IdentityDeleted = true
	return res
}

func (m *Manager) recordOrphan(ctx context.Context, t Target, stage domain.CleanupStage, cause error) {
	slog.Warn("identity cleanup incomplete",
		"tenant_id", t.TenantID, "sender_id", t.SenderID, "identity", t.Identity, "stage", stage, "err", cause)
	if m.orphans == nil {
		return
	}
	now := m.now().UTC().Truncate(time.Second)
	err := m.orphans.Record(ctx, domain.OrphanedIdentity{
		IdentityName: t.Identity,
		TenantID:     t.TenantID,
		Stage:        stage,
		LastError:    cause.Error(),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		slog.Error("record orphaned identity", "identity", t.Identity, "err", err)
	}
}

// SweepResult summarises one sweep run.
type SweepResult struct {
	Examined int `json:"examined"`
	Resolved int `json:"resolved"`
	Failed   int `json:"failed"`
}

// SweepExpired resolves pending senders and domain records whose window has
// closed, releasing their identities first.
func (m *Manager) SweepExpired(ctx context.Context, limit int32) (SweepResult, error) {
	var res SweepResult
	now := m.now()

	senders, err := m.senders.ListExpiredPending(ctx, now, limit)
	if err != nil {
		return res, fmt.Errorf("list expired senders: %w", err)
	}
	for _, s := range senders {
		res.Examined++
		if s.HasIdentity() {
			m.Cleanup(ctx, Target{TenantID: s.TenantID, SenderID: s.SenderID, Identity: s.IdentityName()})
		}
		applied, err := m.transitions.ApplySender(ctx, s.TenantID, s.SenderID, domain.StatusTimedOut, expiredReason, transition.SourceExpiry)
		if err != nil {
			res.Failed++
			slog.Warn("time out expired sender", "tenant_id", s.TenantID, "sender_id", s.SenderID, "err", err)
			continue
		}
		if applied {
			res.Resolved++
		}
	}

	records, err := m.domains.ListExpiredPending(ctx, now, limit)
	if err != nil {
		return res, fmt.Errorf("list expired domain verifications: %w", err)
	}
	for _, d := range records {
		res.Examined++
		m.Cleanup(ctx, Target{TenantID: d.TenantID, Identity: d.Domain, DomainRecord: true})
		applied, err := m.transitions.ApplyDomain(ctx, d.TenantID, d.Domain, domain.StatusTimedOut, expiredReason, transition.SourceExpiry)
		if err != nil {
			res.Failed++
			slog.Warn("time out expired domain", "tenant_id", d.TenantID, "domain", d.Domain, "err", err)
			continue
		}
		if applied {
			res.Resolved++
		}
	}
	return res, nil
}

// SweepOrphans retries cleanup of recorded orphans and forgets the ones that succeed.
func (m *Manager) SweepOrphans(ctx context.Context, limit int32) (SweepResult, error) {
	var res SweepResult
	orphans, err := m.orphans.List(ctx, limit)
	if err != nil {
		return res, fmt.Errorf("list orphaned identities: %w", err)
	}
	for _, o := range orphans {
		res.Examined++
		// An empty SenderID never matches a sender and DomainRecord is unset, so
		// every live reference counts.
		r := m.Cleanup(ctx, Target{TenantID: o.TenantID, Identity: o.IdentityName})
		if !r.OK() {
			res.Failed++
			continue
		}
		if err := m.orphans.Delete(ctx, o.IdentityName); err != nil && !errors.Is(err, domain.ErrNotFound) {
			res.Failed++
			slog.Warn("forget orphaned identity", "identity", o.IdentityName, "err", err)
			continue
		}
		res.Resolved++
	}
	return res, nil
}
