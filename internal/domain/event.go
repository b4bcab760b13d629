package domain

import "time"

// ProviderEvent is an asynchronous verification result pushed by the identity provider.
type ProviderEvent struct {
	Identity  string `json:"identity"`
	EventType string `json:"eventType"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// StatusEvent is published to the tenant's real-time channel on every transition.
type StatusEvent struct {
	Type     string             `json:"type"`
	TenantID string             `json:"tenant_id"`
	SenderID string             `json:"sender_id,omitempty"`
	Domain   string             `json:"domain,omitempty"`
	Email    string             `json:"email,omitempty"`
	Status   VerificationStatus `json:"status"`
	Reason   string             `json:"reason,omitempty"`
	At       time.Time          `json:"at"`
}

const (
	EventSenderStatusChanged = "sender.status_changed"
	EventDomainStatusChanged = "domain.status_changed"
)

// PollTask is the payload of one scheduled reconciliation wake-up.
type PollTask struct {
	TenantID   string    `json:"tenantId"`
	SenderID   string    `json:"senderId"`
	RetryCount int       `json:"retryCount"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Transition describes a requested status change; it only applies to a pending record.
type Transition struct {
	To     VerificationStatus
	Reason string
	At     time.Time
}
