// Package poller reconciles pending senders against the identity provider on a
// schedule: one wake-up per hour until a terminal state or the window closes.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sender-identity/internal/application/cleanup"
	"github.com/sender-identity/internal/application/identity"
	"github.com/sender-identity/internal/application/transition"
	"github.com/sender-identity/internal/domain"
	"github.com/sender-identity/internal/metrics"
)

// Interval between two status checks of the same sender.
const Interval = time.Hour

const timedOutReason = "verification not completed within 24 hours"

type SenderStore interface {
	Get(ctx context.Context, tenantID, senderID string) (*domain.Sender, error)
}

type Identity interface {
	Status(ctx context.Context, identity string) (identity.Status, error)
}

type Scheduler interface {
	Schedule(ctx context.Context, task domain.PollTask, at time.Time) error
}

type Cleaner interface {
	Cleanup(ctx context.Context, t cleanup.Target) cleanup.Result
}

type Transitioner interface {
	ApplySender(ctx context.Context, tenantID, senderID string, to domain.VerificationStatus, reason, source string) (bool, error)
}

type Deps struct {
	Senders     SenderStore
	Identity    Identity
	Scheduler   Scheduler
	Cleaner     Cleaner
	Transitions Transitioner
}

type Poller struct {
	senders     SenderStore
	identity    Identity
	scheduler   Scheduler
	cleaner     Cleaner
	transitions Transitioner
	now         func() time.Time
}

func New(d Deps) *Poller {
	return &Poller{
		senders:     d.Senders,
		identity:    d.Identity,
		scheduler:   d.Scheduler,
		cleaner:     d.Cleaner,
		transitions: d.Transitions,
		now:         time.Now,
	}
}

// NextWake returns when the task after now should run: an hour later, but never
// after expiresAt, so the final wake-up lands exactly on the expiry check.
func NextWake(now, expiresAt time.Time) time.Time {
	next := now.Add(Interval)
	if next.Before(expiresAt) {
		return next
	}
	return expiresAt
}

// Handle runs one wake-up. It returns an error only when the store could not be
// read or the next wake-up could not be scheduled, so the dispatcher redelivers.
func (p *Poller) Handle(ctx context.Context, task domain.PollTask) error {
	now := p.now()
	log := slog.With("tenant_id", task.TenantID, "sender_id", task.SenderID, "retry", task.RetryCount)

	s, err := p.senders.Get(ctx, task.TenantID, task.SenderID)
	if errors.Is(err, domain.ErrNotFound) {
		metrics.IncPollCheck("skipped")
		return nil
	}
	if err != nil {
		return err
	}
	if s.VerificationStatus.IsTerminal() {
		metrics.IncPollCheck("skipped")
		return nil
	}

	if !now.Before(task.ExpiresAt) {
		return p.expire(ctx, s, log)
	}

	status := identity.StatusNotFound
	if s.HasIdentity() {
		status, err = p.identity.Status(ctx, s.IdentityName())
		if err != nil {
			metrics.IncPollCheck("transient")
			log.Warn("provider status check failed, retrying later", "err", err)
			next := task
			next.RetryCount++
			return p.scheduler.Schedule(ctx, next, NextWake(now, task.ExpiresAt))
		}
	}

	if to, changed := status.Verification(); changed {
		reason := ""
		if to == domain.StatusFailed {
			reason = "identity provider reported verification failure"
		}
		if _, err := p.transitions.ApplySender(ctx, s.TenantID, s.SenderID, to, reason, transition.SourcePoll); err != nil {
			return err
		}
		metrics.IncPollCheck("changed")
		return nil
	}

	metrics.IncPollCheck("unchanged")
	return p.scheduler.Schedule(ctx, task, NextWake(now, task.ExpiresAt))
}

func (p *Poller) expire(ctx context.Context, s *domain.Sender, log *slog.Logger) error {
	metrics.IncPollCheck("expired")
	if s.HasIdentity() {
		res := p.cleaner.Cleanup(ctx, cleanup.Target{TenantID: s.TenantID, SenderID: s.SenderID, Identity: s.IdentityName()})
		if !res.OK() {
			log.Warn("cleanup before timeout incomplete", "err", res.Err)
		}
	}
	_, err := p.transitions.ApplySender(ctx, s.TenantID, s.SenderID, domain.StatusTimedOut, timedOutReason, transition.SourceExpiry)
	return err
}
