// Package domainverify starts DNS-based domain ownership verification and
// explains to the tenant what to publish.
package domainverify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sender-identity/internal/application/identity"
	"github.com/sender-identity/internal/domain"
	"github.com/sender-identity/internal/pkg/validate"
)

type Identity interface {
	CreateDomainIdentity(ctx context.Context, tenantID, domainName string) (*identity.DomainIdentity, error)
	DKIMStatus(ctx context.Context, domainName string) (identity.Status, error)
}

type DomainStore interface {
	Create(ctx context.Context, d *domain.DomainVerification) error
	Get(ctx context.Context, tenantID, domainName string) (*domain.DomainVerification, error)
	Restart(ctx context.Context, d *domain.DomainVerification) error
	DeletePending(ctx context.Context, tenantID, domainName string, expiresAt time.Time) error
}

type TierStore interface {
	GetTierLimits(ctx context.Context, tenantID string) (domain.TierLimits, error)
}

// ZoneExporter stores a zone snippet and returns a temporary download link.
type ZoneExporter interface {
	PutZone(ctx context.Context, tenantID, domainName, zone string, ttl time.Duration) (string, error)
}

type Deps struct {
	Identity Identity
	Domains  DomainStore
	Tiers    TierStore
	Zones    ZoneExporter
	ZoneTTL  time.Duration
}

type Initiator struct {
	identity Identity
	domains  DomainStore
	tiers    TierStore
	zones    ZoneExporter
	zoneTTL  time.Duration
	now      func() time.Time
}

func New(d Deps) *Initiator {
	ttl := d.ZoneTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Initiator{
		identity: d.Identity,
		domains:  d.Domains,
		tiers:    d.Tiers,
		zones:    d.Zones,
		zoneTTL:  ttl,
		now:      time.Now,
	}
}

// Initiate creates the provider identity for domainName and makes sure the
// tenant has a live verification record for it. It is called synchronously
// when a domain sender is registered. A pending or verified record is returned
// as stored; a failed or timed-out one is restarted. fresh reports whether
// this call wrote the returned record.
func (i *Initiator) Initiate(ctx context.Context, tenantID, domainName string) (rec *domain.DomainVerification, fresh bool, err error) {
	name := strings.ToLower(domainName)
	if err := validate.Var(name, "required,fqdn"); err != nil {
		return nil, false, fmt.Errorf("domain %q: %w", domainName, err)
	}
	di, err := i.identity.CreateDomainIdentity(ctx, tenantID, name)
	if err != nil {
		return nil, false, err
	}
	return i.store(ctx, i.newRecord(tenantID, name, di))
}

// Discard removes a record that Initiate wrote for a registration that was
// then abandoned. It does nothing once the record has moved on.
func (i *Initiator) Discard(ctx context.Context, rec *domain.DomainVerification) error {
	return i.domains.DeletePending(ctx, rec.TenantID, rec.Domain, rec.ExpiresAt)
}

func restartable(s domain.VerificationStatus) bool {
	return s == domain.StatusFailed || s == domain.StatusTimedOut
}

// store writes rec unless the tenant already has a live record for the domain.
func (i *Initiator) store(ctx context.Context, rec *domain.DomainVerification) (*domain.DomainVerification, bool, error) {
	err := i.domains.Create(ctx, rec)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, domain.ErrDuplicate) {
		return nil, false, fmt.Errorf("store domain verification: %w", err)
	}
	existing, err := i.domains.Get(ctx, rec.TenantID, rec.Domain)
	if err != nil {
		return nil, false, err
	}
	if !restartable(existing.Status) {
		return existing, false, nil
	}

	rec.CreatedAt = existing.CreatedAt
	if err := i.domains.Restart(ctx, rec); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			return nil, false, fmt.Errorf("restart domain verification: %w", err)
		}
		// A concurrent registration restarted it first.
		if existing, err = i.domains.Get(ctx, rec.TenantID, rec.Domain); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	slog.Info("domain verification restarted", "tenant_id", rec.TenantID, "domain", rec.Domain,
		"previous_status", existing.Status)
	return rec, true, nil
}

// CreateDomainVerification starts verification of a domain outside of sender
// registration. A domain the tenant already has pending or verified is
// rejected with ErrDuplicate and the existing record is returned unchanged;
// a failed or timed-out one is started over.
func (i *Initiator) CreateDomainVerification(ctx context.Context, tenantID string, req domain.CreateDomainRequest) (*domain.DomainSetup, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	name := strings.ToLower(req.Domain)

	limits, err := i.tiers.GetTierLimits(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !limits.CanUseDNS {
		return nil, &domain.QuotaError{
			Tier:     limits.Tier,
			Limit:    limits.MaxSenders,
			Reason:   "DNS verification is not available on this plan",
			Guidance: limits.UpgradeGuidance(domain.VerificationDomain),
		}
	}

	existing, err := i.domains.Get(ctx, tenantID, name)
	switch {
	case err == nil && !restartable(existing.Status):
		return i.describe(existing), fmt.Errorf("domain %s: %w", name, domain.ErrDuplicate)
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	di, err := i.identity.CreateDomainIdentity(ctx, tenantID, name)
	if err != nil {
		return nil, err
	}
	rec, fresh, err := i.store(ctx, i.newRecord(tenantID, name, di))
	if err != nil {
		return nil, err
	}
	if !fresh {
		// Lost a race with a concurrent request for the same domain.
		return i.describe(rec), fmt.Errorf("domain %s: %w", name, domain.ErrDuplicate)
	}

	setup := i.describe(rec)
	setup.ZoneFileURL = i.exportZone(ctx, rec)
	return setup, nil
}

// Describe returns the record with instructions and status-specific guidance.
func (i *Initiator) Describe(ctx context.Context, tenantID, domainName string) (*domain.DomainSetup, error) {
	rec, err := i.domains.Get(ctx, tenantID, domainName)
	if err != nil {
		return nil, err
	}
	setup := i.describe(rec)
	if rec.Status == domain.StatusPending {
		setup.ZoneFileURL = i.exportZone(ctx, rec)
	}
	// A timed-out record's identity has been released.
	if rec.Status != domain.StatusTimedOut {
		if dkim, ok := i.dkimStatus(ctx, rec); ok {
			setup.DKIMStatus = string(dkim)
			setup.Troubleshooting = append(setup.Troubleshooting, DKIMTroubleshooting(dkim)...)
		}
	}
	return setup, nil
}

// dkimStatus is best effort; the record itself is still worth returning.
func (i *Initiator) dkimStatus(ctx context.Context, rec *domain.DomainVerification) (identity.Status, bool) {
	st, err := i.identity.DKIMStatus(ctx, rec.Domain)
	if err != nil {
		slog.Warn("query dkim status", "tenant_id", rec.TenantID, "domain", rec.Domain, "err", err)
		return "", false
	}
	return st, true
}

func (i *Initiator) newRecord(tenantID, name string, di *identity.DomainIdentity) *domain.DomainVerification {
	now := i.now().UTC().Truncate(time.Second)
	return &domain.DomainVerification{
		TenantID:    tenantID,
		Domain:      name,
		Status:      domain.StatusPending,
		IdentityRef: di.Ref,
		DNSRecords:  Records(name, di.VerificationToken, di.DKIMTokens),
		ExpiresAt:   now.Add(domain.VerificationWindow),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (i *Initiator) describe(rec *domain.DomainVerification) *domain.DomainSetup {
	reason := ""
	if rec.FailureReason != nil {
		reason = *rec.FailureReason
	}
	return &domain.DomainSetup{
		Record:                rec,
		Instructions:          Instructions(rec.Domain, rec.DNSRecords),
		EstimatedVerification: EstimatedVerificationTime(rec.DNSRecords),
		Troubleshooting:       Troubleshooting(rec.Status, reason),
	}
}

// exportZone is best effort; a missing download link does not block verification.
func (i *Initiator) exportZone(ctx context.Context, rec *domain.DomainVerification) string {
	if i.zones == nil {
		return ""
	}
	url, err := i.zones.PutZone(ctx, rec.TenantID, rec.Domain, ZoneSnippet(rec.DNSRecords), i.zoneTTL)
	if err != nil {
		slog.Warn("export dns zone snippet", "tenant_id", rec.TenantID, "domain", rec.Domain, "err", err)
		return ""
	}
	return url
}
