// Package sender is the tenant-facing registry of sender identities. It owns
// the tenant invariants: tier quotas, email uniqueness and a single default.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/sender-identity/internal/application/cleanup"
	"github.com/sender-identity/internal/application/transition"
	"github.com/sender-identity/internal/domain"
	"github.com/sender-identity/internal/pkg/id"
	"github.com/sender-identity/internal/pkg/token"
	"github.com/sender-identity/internal/pkg/validate"
)

const (
	// maxWriteAttempts bounds retries of tenant-scoped transactions that lost a race.
	maxWriteAttempts = 3
	resendCooldown   = 60 * time.Second
	firstPollDelay   = time.Hour
)

type Service interface {
	Create(ctx context.Context, tenantID string, req domain.CreateSenderRequest) (*domain.Sender, error)
	List(ctx context.Context, tenantID string) ([]domain.Sender, error)
	Get(ctx context.Context, tenantID, senderID string) (*domain.Sender, error)
	Update(ctx context.Context, tenantID, senderID string, req domain.UpdateSenderRequest) (*domain.Sender, error)
	Delete(ctx context.Context, tenantID, senderID string) error
	ConfirmChallenge(ctx context.Context, tok string) (*domain.Sender, error)
	ResendChallenge(ctx context.Context, tenantID, senderID string) (*domain.Sender, error)
}

type senderStore interface {
	Create(ctx context.Context, s *domain.Sender, maxSenders int) error
	Get(ctx context.Context, tenantID, senderID string) (*domain.Sender, error)
	ListByTenant(ctx context.Context, tenantID string) ([]domain.Sender, error)
	UpdateName(ctx context.Context, tenantID, senderID, name string, at time.Time) error
	SetDefault(ctx context.Context, tenantID, senderID string) error
	Delete(ctx context.Context, s *domain.Sender, reassignTo string) error
	SetIdentity(ctx context.Context, tenantID, senderID, identityName, ref string, at time.Time) error
	MarkChallengeSent(ctx context.Context, tenantID, senderID string, at time.Time) error
}

type tierStore interface {
	GetTierLimits(ctx context.Context, tenantID string) (domain.TierLimits, error)
}

type domainInitiator interface {
	Initiate(ctx context.Context, tenantID, domainName string) (*domain.DomainVerification, bool, error)
	Discard(ctx context.Context, rec *domain.DomainVerification) error
}

type mailboxIdentity interface {
	CreateMailboxIdentity(ctx context.Context, tenantID, email string) (string, error)
}

type tokenCodec interface {
	Issue(tenantID, senderID, email string) (string, error)
	Parse(tok string) (*token.Claims, error)
}

type mailer interface {
	SendEmail(to, subject, body string) error
}

type scheduler interface {
	Schedule(ctx context.Context, task domain.PollTask, at time.Time) error
}

type cleaner interface {
	Cleanup(ctx context.Context, t cleanup.Target) cleanup.Result
}

type transitioner interface {
	ApplySender(ctx context.Context, tenantID, senderID string, to domain.VerificationStatus, reason, source string) (bool, error)
}

type service struct {
	repo        senderStore
	tiers       tierStore
	initiator   domainInitiator
	identity    mailboxIdentity
	tokens      tokenCodec
	mailer      mailer
	scheduler   scheduler
	cleaner     cleaner
	transitions transitioner
	verifyURL   string
	now         func() time.Time
}

type ServiceDeps struct {
	SenderRepo  senderStore
	TierRepo    tierStore
	Initiator   domainInitiator
	Identity    mailboxIdentity
	Tokens      tokenCodec
	Mailer      mailer
	Scheduler   scheduler
	Cleaner     cleaner
	Transitions transitioner
	// PublicBaseURL prefixes the mailbox verification link.
	PublicBaseURL string
	Now           func() time.Time
}

func NewService(deps ServiceDeps) Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:        deps.SenderRepo,
		tiers:       deps.TierRepo,
		initiator:   deps.Initiator,
		identity:    deps.Identity,
		tokens:      deps.Tokens,
		mailer:      deps.Mailer,
		scheduler:   deps.Scheduler,
		cleaner:     deps.Cleaner,
		transitions: deps.Transitions,
		verifyURL:   deps.PublicBaseURL + "/v1/verify",
		now:         now,
	}
}

func (s *service) Create(ctx context.Context, tenantID string, req domain.CreateSenderRequest) (*domain.Sender, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	limits, err := s.tiers.GetTierLimits(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !limits.Allows(req.VerificationType) {
		return nil, &domain.QuotaError{
			Tier:     limits.Tier,
			Limit:    limits.MaxSenders,
			Reason:   fmt.Sprintf("%s verification is not available on this plan", req.VerificationType),
			Guidance: limits.UpgradeGuidance(req.VerificationType),
		}
	}
	count, err := s.admit(ctx, tenantID, req.Email, limits)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Second)
	snd := &domain.Sender{
		SenderID:              id.NewAt(now),
		TenantID:              tenantID,
		Email:                 domain.NormalizeEmail(req.Email),
		Name:                  req.Name,
		VerificationType:      req.VerificationType,
		VerificationStatus:    domain.StatusPending,
		IdentityPhase:         domain.PhaseChallengeIssued,
		VerificationExpiresAt: now.Add(domain.VerificationWindow),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	var (
		rec   *domain.DomainVerification
		fresh bool
	)
	if req.VerificationType == domain.VerificationDomain {
		snd.Domain = domain.DomainOf(req.Email)
		if rec, fresh, err = s.initiator.Initiate(ctx, tenantID, snd.Domain); err != nil {
			return nil, err
		}
		snd.IdentityPhase = domain.PhaseIdentityCreated
		snd.ExternalIdentityRef = rec.IdentityRef
		snd.DNSRecords = rec.DNSRecords
	}

	if err := s.persist(ctx, snd, count, limits); err != nil {
		if rec != nil {
			s.abandonDomain(ctx, snd, rec, fresh)
		}
		return nil, err
	}

	if snd.VerificationType == domain.VerificationMailbox {
		s.sendChallenge(ctx, snd, now)
	}
	s.scheduleFirstPoll(ctx, snd, now)
	slog.Info("sender registered", "tenant_id", tenantID, "sender_id", snd.SenderID,
		"type", snd.VerificationType, "is_default", snd.IsDefault)
	return snd, nil
}

// persist writes snd, re-admitting it when the tenant transaction lost a race.
func (s *service) persist(ctx context.Context, snd *domain.Sender, count int, limits domain.TierLimits) error {
	var err error
	for attempt := 1; ; attempt++ {
		snd.IsDefault = count == 0
		err = s.repo.Create(ctx, snd, limits.MaxSenders)
		if !errors.Is(err, domain.ErrConflict) || attempt == maxWriteAttempts {
			return err
		}
		if count, err = s.admit(ctx, snd.TenantID, snd.Email, limits); err != nil {
			return err
		}
	}
}

// abandonDomain releases what Initiate set up for a sender that was never
// stored: the record it wrote, then the provider identity unless something
// else still uses it.
func (s *service) abandonDomain(ctx context.Context, snd *domain.Sender, rec *domain.DomainVerification, fresh bool) {
	if fresh {
		if err := s.initiator.Discard(ctx, rec); err != nil {
			slog.Warn("discard domain verification", "tenant_id", snd.TenantID, "domain", snd.Domain, "err", err)
		}
	}
	res := s.cleaner.Cleanup(ctx, cleanup.Target{TenantID: snd.TenantID, SenderID: snd.SenderID, Identity: snd.Domain})
	if !res.OK() {
		slog.Warn("release identity of unsaved sender", "tenant_id", snd.TenantID, "domain", snd.Domain, "err", res.Err)
	}
}

// admit checks quota and uniqueness against the tenant's current senders and
// returns their count. The store transaction repeats both checks atomically.
func (s *service) admit(ctx context.Context, tenantID, email string, limits domain.TierLimits) (int, error) {
	existing, err := s.repo.ListByTenant(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	normalized := domain.NormalizeEmail(email)
	for _, e := range existing {
		if domain.NormalizeEmail(e.Email) == normalized {
			return 0, fmt.Errorf("email %s: %w", normalized, domain.ErrDuplicate)
		}
	}
	if len(existing) >= limits.MaxSenders {
		return 0, &domain.QuotaError{
			Tier:     limits.Tier,
			Limit:    limits.MaxSenders,
			Reason:   fmt.Sprintf("sender limit of %d reached", limits.MaxSenders),
			Guidance: limits.UpgradeGuidance(""),
		}
	}
	return len(existing), nil
}

// sendChallenge is best effort; the sender can ask for a resend.
func (s *service) sendChallenge(ctx context.Context, snd *domain.Sender, now time.Time) {
	if err := s.deliverToken(snd); err != nil {
		slog.Warn("send verification email", "tenant_id", snd.TenantID, "sender_id", snd.SenderID, "err", err)
		return
	}
	if err := s.repo.MarkChallengeSent(ctx, snd.TenantID, snd.SenderID, now); err != nil {
		slog.Warn("record verification email", "tenant_id", snd.TenantID, "sender_id", snd.SenderID, "err", err)
		return
	}
	snd.LastVerificationSent = &now
}

func (s *service) deliverToken(snd *domain.Sender) error {
	tok, err := s.tokens.Issue(snd.TenantID, snd.SenderID, snd.Email)
	if err != nil {
		return err
	}
	link := s.verifyURL + "?token=" + url.QueryEscape(tok)
	body := fmt.Sprintf("Confirm that you own %s by opening the link below within 24 hours.\n\n%s\n\n"+
		"If you did not request this, you can ignore this message.\n", snd.Email, link)
	return s.mailer.SendEmail(snd.Email, "Confirm your sender address", body)
}

// scheduleFirstPoll is best effort; the expiry sweep resolves senders whose
// wake-ups were lost.
func (s *service) scheduleFirstPoll(ctx context.Context, snd *domain.Sender, now time.Time) {
	task := domain.PollTask{TenantID: snd.TenantID, SenderID: snd.SenderID, ExpiresAt: snd.VerificationExpiresAt}
	if err := s.scheduler.Schedule(ctx, task, now.Add(firstPollDelay)); err != nil {
		slog.Warn("schedule first status check", "tenant_id", snd.TenantID, "sender_id", snd.SenderID, "err", err)
	}
}

func (s *service) List(ctx context.Context, tenantID string) ([]domain.Sender, error) {
	return s.repo.ListByTenant(ctx, tenantID)
}

func (s *service) Get(ctx context.Context, tenantID, senderID string) (*domain.Sender, error) {
	return s.repo.Get(ctx, tenantID, senderID)
}

func (s *service) Update(ctx context.Context, tenantID, senderID string, req domain.UpdateSenderRequest) (*domain.Sender, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	snd, err := s.repo.Get(ctx, tenantID, senderID)
	if err != nil {
		return nil, err
	}
	if req.IsDefault != nil && !*req.IsDefault && snd.IsDefault {
		return nil, fmt.Errorf("choose another default sender instead of unsetting this one: %w", domain.ErrValidation)
	}
	if req.Name != nil && *req.Name != snd.Name {
		if err := s.repo.UpdateName(ctx, tenantID, senderID, *req.Name, s.now().UTC()); err != nil {
			return nil, err
		}
	}
	if req.IsDefault != nil && *req.IsDefault && !snd.IsDefault {
		for attempt := 1; ; attempt++ {
			err = s.repo.SetDefault(ctx, tenantID, senderID)
			if !errors.Is(err, domain.ErrConflict) || attempt == maxWriteAttempts {
				break
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return s.repo.Get(ctx, tenantID, senderID)
}

func (s *service) Delete(ctx context.Context, tenantID, senderID string) error {
	snd, err := s.repo.Get(ctx, tenantID, senderID)
	if err != nil {
		return err
	}
	if snd.HasIdentity() {
		res := s.cleaner.Cleanup(ctx, cleanup.Target{TenantID: tenantID, SenderID: senderID, Identity: snd.IdentityName()})
		if !res.OK() {
			slog.Warn("identity cleanup incomplete on delete", "tenant_id", tenantID, "sender_id", senderID, "err", res.Err)
		}
	}

	for attempt := 1; ; attempt++ {
		reassign := ""
		if snd.IsDefault {
			remaining, lerr := s.repo.ListByTenant(ctx, tenantID)
			if lerr != nil {
				return lerr
			}
			reassign = nextDefault(remaining, senderID)
		}
		err = s.repo.Delete(ctx, snd, reassign)
		if !errors.Is(err, domain.ErrConflict) || attempt == maxWriteAttempts {
			break
		}
		if snd, err = s.repo.Get(ctx, tenantID, senderID); err != nil {
			return err
		}
	}
	if err != nil {
		return err
	}
	slog.Info("sender deleted", "tenant_id", tenantID, "sender_id", senderID)
	return nil
}

// nextDefault picks the first verified sender other than excluded, falling
// back to any other sender, or "" when none remain.
func nextDefault(senders []domain.Sender, excluded string) string {
	fallback := ""
	for _, s := range senders {
		if s.SenderID == excluded {
			continue
		}
		if s.VerificationStatus == domain.StatusVerified {
			return s.SenderID
		}
		if fallback == "" {
			fallback = s.SenderID
		}
	}
	return fallback
}

// ConfirmChallenge redeems a mailbox proof token. Redeeming an already
// verified sender's token again succeeds without side effects.
func (s *service) ConfirmChallenge(ctx context.Context, tok string) (*domain.Sender, error) {
	claims, err := s.tokens.Parse(tok)
	if err != nil {
		return nil, err
	}
	snd, err := s.repo.Get(ctx, claims.TenantID, claims.SenderID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("sender no longer exists: %w", domain.ErrTokenInvalid)
	}
	if err != nil {
		return nil, err
	}
	if snd.VerificationType != domain.VerificationMailbox ||
		domain.NormalizeEmail(snd.Email) != domain.NormalizeEmail(claims.Email) {
		return nil, fmt.Errorf("token does not match sender: %w", domain.ErrTokenInvalid)
	}
	if err := settled(snd); err != nil {
		return nil, err
	}
	if snd.VerificationStatus == domain.StatusVerified {
		return snd, nil
	}
	now := s.now().UTC()
	if snd.Expired(now) {
		return nil, fmt.Errorf("sender %s: %w", snd.SenderID, domain.ErrExpired)
	}

	if !snd.HasIdentity() {
		ref, err := s.identity.CreateMailboxIdentity(ctx, snd.TenantID, snd.Email)
		if err != nil {
			return nil, err
		}
		err = s.repo.SetIdentity(ctx, snd.TenantID, snd.SenderID, snd.IdentityName(), ref, now)
		if errors.Is(err, domain.ErrConflict) {
			return s.reload(ctx, snd)
		}
		if err != nil {
			return nil, err
		}
	}
	if _, err := s.transitions.ApplySender(ctx, snd.TenantID, snd.SenderID, domain.StatusVerified, "", transition.SourceConfirm); err != nil {
		return nil, err
	}
	return s.reload(ctx, snd)
}

// reload re-reads snd after a write that may have raced with another writer.
func (s *service) reload(ctx context.Context, snd *domain.Sender) (*domain.Sender, error) {
	fresh, err := s.repo.Get(ctx, snd.TenantID, snd.SenderID)
	if err != nil {
		return nil, err
	}
	if err := settled(fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// settled maps terminal non-success states to the error a confirmation reports.
func settled(snd *domain.Sender) error {
	switch snd.VerificationStatus {
	case domain.StatusFailed:
		return fmt.Errorf("sender %s: %w", snd.SenderID, domain.ErrVerificationFailed)
	case domain.StatusTimedOut:
		return fmt.Errorf("sender %s: %w", snd.SenderID, domain.ErrExpired)
	}
	return nil
}

func (s *service) ResendChallenge(ctx context.Context, tenantID, senderID string) (*domain.Sender, error) {
	snd, err := s.repo.Get(ctx, tenantID, senderID)
	if err != nil {
		return nil, err
	}
	if snd.VerificationType != domain.VerificationMailbox {
		return nil, fmt.Errorf("domain senders are verified via DNS: %w", domain.ErrValidation)
	}
	now := s.now().UTC().Truncate(time.Second)
	switch {
	case snd.VerificationStatus == domain.StatusTimedOut || (snd.VerificationStatus == domain.StatusPending && snd.Expired(now)):
		return nil, fmt.Errorf("sender %s: %w", senderID, domain.ErrExpired)
	case snd.VerificationStatus != domain.StatusPending || snd.IdentityPhase != domain.PhaseChallengeIssued:
		return nil, fmt.Errorf("sender is %s and needs no new link: %w", snd.VerificationStatus, domain.ErrValidation)
	}
	if snd.LastVerificationSent != nil && now.Sub(*snd.LastVerificationSent) < resendCooldown {
		return nil, fmt.Errorf("last link sent %s ago: %w", now.Sub(*snd.LastVerificationSent), domain.ErrTooSoon)
	}
	if err := s.deliverToken(snd); err != nil {
		return nil, fmt.Errorf("send verification email: %w", err)
	}
	if err := s.repo.MarkChallengeSent(ctx, tenantID, senderID, now); err != nil {
		return nil, err
	}
	snd.LastVerificationSent = &now
	snd.UpdatedAt = now
	return snd, nil
}
