// Package identity wraps the email identity provider behind the vocabulary the
// rest of the service uses: create, query status, remove association, delete.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sender-identity/internal/domain"
)

// Provider is the raw provider surface, implemented by infrastructure/ses.
type Provider interface {
	VerifyDomain(ctx context.Context, domainName string) (string, []string, error)
	VerifyEmail(ctx context.Context, email string) error
	VerificationStatus(ctx context.Context, identity string) (string, bool, error)
	DKIMStatus(ctx context.Context, domainName string) (string, bool, error)
	DeleteIdentity(ctx context.Context, identity string) error
	Associate(ctx context.Context, tenantID, identity string) error
	Disassociate(ctx context.Context, tenantID, identity string) error
	IdentityARN(identity string) string
}

// Status is the provider-side verification state of an identity.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusPending  Status = "pending"
	StatusNotFound Status = "not_found"
)

// Verification maps a provider status onto a record status.
// ok is false when the record should not change.
func (s Status) Verification() (domain.VerificationStatus, bool) {
	switch s {
	case StatusSuccess:
		return domain.StatusVerified, true
	case StatusFailed:
		return domain.StatusFailed, true
	}
	return "", false
}

// DomainIdentity is what the provider hands back for a new domain identity.
type DomainIdentity struct {
	Ref               string
	VerificationToken string
	DKIMTokens        []string
}

type Adapter struct {
	provider Provider
}

func NewAdapter(p Provider) *Adapter {
	return &Adapter{provider: p}
}

// CreateDomainIdentity creates the domain identity and links it to the tenant.
func (a *Adapter) CreateDomainIdentity(ctx context.Context, tenantID, domainName string) (*DomainIdentity, error) {
	name := strings.ToLower(domainName)
	token, dkim, err := a.provider.VerifyDomain(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("create domain identity %s: %w", name, err)
	}
	if token == "" {
		return nil, fmt.Errorf("create domain identity %s: empty verification token: %w", name, domain.ErrTransientProvider)
	}
	if err := a.provider.Associate(ctx, tenantID, name); err != nil {
		return nil, fmt.Errorf("associate %s with tenant %s: %w", name, tenantID, err)
	}
	return &DomainIdentity{
		Ref:               a.provider.IdentityARN(name),
		VerificationToken: token,
		DKIMTokens:        dkim,
	}, nil
}

// CreateMailboxIdentity creates an address identity and links it to the tenant.
// Every failure is reported as transient: the caller keeps the sender pending and
// the proof token stays redeemable.
func (a *Adapter) CreateMailboxIdentity(ctx context.Context, tenantID, email string) (string, error) {
	name := domain.NormalizeEmail(email)
	if err := a.provider.VerifyEmail(ctx, name); err != nil {
		return "", asTransient(fmt.Errorf("create mailbox identity: %w", err))
	}
	if err := a.provider.Associate(ctx, tenantID, name); err != nil {
		return "", asTransient(fmt.Errorf("associate mailbox identity with tenant %s: %w", tenantID, err))
	}
	return a.provider.IdentityARN(name), nil
}

func asTransient(err error) error {
	if errors.Is(err, domain.ErrTransientProvider) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrTransientProvider, err)
}

// Status queries the provider. Unknown provider states are treated as pending.
func (a *Adapter) Status(ctx context.Context, identity string) (Status, error) {
	raw, found, err := a.provider.VerificationStatus(ctx, identity)
	if err != nil {
		return "", err
	}
	if !found {
		return StatusNotFound, nil
	}
	return statusOf(identity, raw), nil
}

// DKIMStatus reports whether the provider found the DKIM records of a domain
// identity, in the same vocabulary as Status.
func (a *Adapter) DKIMStatus(ctx context.Context, domainName string) (Status, error) {
	name := strings.ToLower(domainName)
	raw, found, err := a.provider.DKIMStatus(ctx, name)
	if err != nil {
		return "", fmt.Errorf("dkim status %s: %w", name, err)
	}
	if !found {
		return StatusNotFound, nil
	}
	return statusOf(name, raw), nil
}

func statusOf(identity, raw string) Status {
	switch raw {
	case "Success":
		return StatusSuccess
	case "Failed":
		return StatusFailed
	case "Pending", "TemporaryFailure", "NotStarted":
		return StatusPending
	}
	slog.Warn("unknown provider verification status", "identity", identity, "status", raw)
	return StatusPending
}

func (a *Adapter) RemoveAssociation(ctx context.Context, tenantID, identity string) error {
	return a.provider.Disassociate(ctx, tenantID, identity)
}

func (a *Adapter) DeleteIdentity(ctx context.Context, identity string) error {
	return a.provider.DeleteIdentity(ctx, identity)
}
