package domain

import (
	"strings"
	"time"
)

// VerificationWindow bounds how long a sender may stay pending.
const VerificationWindow = 24 * time.Hour

type VerificationType string

const (
	VerificationMailbox VerificationType = "mailbox"
	VerificationDomain  VerificationType = "domain"
)

func (t VerificationType) Valid() bool {
	return t == VerificationMailbox || t == VerificationDomain
}

type VerificationStatus string

const (
	StatusPending  VerificationStatus = "pending"
	StatusVerified VerificationStatus = "verified"
	StatusFailed   VerificationStatus = "failed"
	StatusTimedOut VerificationStatus = "timed_out"
)

// IsTerminal reports whether no further transition is permitted from s.
func (s VerificationStatus) IsTerminal() bool {
	switch s {
	case StatusVerified, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

// IdentityPhase separates "challenge sent" from "external identity exists".
// Mailbox senders stay in PhaseChallengeIssued until the proof token is redeemed.
type IdentityPhase string

const (
	PhaseChallengeIssued IdentityPhase = "challenge_issued"
	PhaseIdentityCreated IdentityPhase = "identity_created"
)

// Sender is one address or domain a tenant may send newsletters from.
// PK: tenant_id, SK: "sender#" + sender_id.
type Sender struct {
	SenderID              string             `json:"id" dynamodbav:"sender_id"`
	TenantID              string             `json:"tenant_id" dynamodbav:"tenant_id"`
	Email                 string             `json:"email" dynamodbav:"email"`
	Name                  string             `json:"name" dynamodbav:"name"`
	VerificationType      VerificationType   `json:"verification_type" dynamodbav:"verification_type"`
	VerificationStatus    VerificationStatus `json:"verification_status" dynamodbav:"verification_status"`
	IsDefault             bool               `json:"is_default" dynamodbav:"is_default"`
	Domain                string             `json:"domain,omitempty" dynamodbav:"domain,omitempty"`
	ExternalIdentityRef   string             `json:"-" dynamodbav:"external_identity_ref,omitempty"`
	IdentityPhase         IdentityPhase      `json:"identity_phase" dynamodbav:"identity_phase"`
	DNSRecords            []DNSRecord        `json:"dns_records,omitempty" dynamodbav:"dns_records,omitempty"`
	VerificationExpiresAt time.Time          `json:"verification_expires_at" dynamodbav:"verification_expires_at"`
	LastVerificationSent  *time.Time         `json:"last_verification_sent,omitempty" dynamodbav:"last_verification_sent,omitempty"`
	VerifiedAt            *time.Time         `json:"verified_at,omitempty" dynamodbav:"verified_at,omitempty"`
	FailureReason         *string            `json:"failure_reason,omitempty" dynamodbav:"failure_reason,omitempty"`
	CreatedAt             time.Time          `json:"created" dynamodbav:"created_at"`
	UpdatedAt             time.Time          `json:"updated" dynamodbav:"updated_at"`
}

// IdentityName is the name the external provider knows this sender by:
// the domain for DNS verification, the full address otherwise.
func (s *Sender) IdentityName() string {
	if s.VerificationType == VerificationDomain {
		return s.Domain
	}
	return NormalizeEmail(s.Email)
}

// HasIdentity reports whether an external identity has been created for s.
func (s *Sender) HasIdentity() bool {
	return s.IdentityPhase == PhaseIdentityCreated && s.ExternalIdentityRef != ""
}

// Expired reports whether the verification window has elapsed at now.
func (s *Sender) Expired(now time.Time) bool {
	return !now.Before(s.VerificationExpiresAt)
}

type CreateSenderRequest struct {
	Email            string           `json:"email" validate:"required,email,max=254"`
	Name             string           `json:"name" validate:"max=128"`
	VerificationType VerificationType `json:"verification_type" validate:"required,oneof=mailbox domain"`
}

type UpdateSenderRequest struct {
	Name      *string `json:"name" validate:"omitempty,max=128"`
	IsDefault *bool   `json:"is_default"`
}

// NormalizeEmail lower-cases and trims an address for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DomainOf returns the part of email after the last '@', lower-cased.
func DomainOf(email string) string {
	e := NormalizeEmail(email)
	if at := strings.LastIndexByte(e, '@'); at >= 0 {
		return e[at+1:]
	}
	return ""
}
