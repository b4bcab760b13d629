package domain

import "time"

type DNSRecordType string

const (
	DNSRecordTXT   DNSRecordType = "TXT"
	DNSRecordCNAME DNSRecordType = "CNAME"
)

// DNSRecord is one record a tenant must publish under their domain.
type DNSRecord struct {
	Type    DNSRecordType `json:"type" dynamodbav:"type"`
	Name    string        `json:"name" dynamodbav:"name"`
	Value   string        `json:"value" dynamodbav:"value"`
	Purpose string        `json:"purpose" dynamodbav:"purpose"`
}

// DomainVerification tracks DNS-based ownership proof for one domain of a tenant.
// PK: tenant_id, SK: domain.
type DomainVerification struct {
	TenantID      string             `json:"tenant_id" dynamodbav:"tenant_id"`
	Domain        string             `json:"domain" dynamodbav:"domain"`
	Status        VerificationStatus `json:"status" dynamodbav:"verification_status"`
	IdentityRef   string             `json:"-" dynamodbav:"identity_ref"`
	DNSRecords    []DNSRecord        `json:"dns_records" dynamodbav:"dns_records"`
	ExpiresAt     time.Time          `json:"expires_at" dynamodbav:"expires_at"`
	VerifiedAt    *time.Time         `json:"verified_at,omitempty" dynamodbav:"verified_at,omitempty"`
	FailureReason *string            `json:"failure_reason,omitempty" dynamodbav:"failure_reason,omitempty"`
	CreatedAt     time.Time          `json:"created" dynamodbav:"created_at"`
	UpdatedAt     time.Time          `json:"updated" dynamodbav:"updated_at"`
}

type CreateDomainRequest struct {
	Domain string `json:"domain" validate:"required,fqdn"`
}

// DomainSetup is the user-facing result of initiating domain verification.
type DomainSetup struct {
	Record                *DomainVerification `json:"record"`
	Instructions          []string            `json:"instructions"`
	EstimatedVerification string              `json:"estimated_verification_time"`
	Troubleshooting       []string            `json:"troubleshooting,omitempty"`
	DKIMStatus            string              `json:"dkim_status,omitempty"`
	ZoneFileURL           string              `json:"zone_file_url,omitempty"`
}
