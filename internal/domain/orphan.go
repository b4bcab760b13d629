package domain

import "time"

type CleanupStage string

const (
	StageAssociation CleanupStage = "association"
	StageIdentity    CleanupStage = "identity"
)

// OrphanedIdentity records an external identity whose cleanup did not complete.
// PK: identity_name.
type OrphanedIdentity struct {
	IdentityName string       `json:"identity_name" dynamodbav:"identity_name"`
	TenantID     string       `json:"tenant_id" dynamodbav:"tenant_id"`
	Stage        CleanupStage `json:"stage" dynamodbav:"stage"`
	LastError    string       `json:"last_error" dynamodbav:"last_error"`
	Attempts     int          `json:"attempts" dynamodbav:"attempts"`
	CreatedAt    time.Time    `json:"created" dynamodbav:"created_at"`
	UpdatedAt    time.Time    `json:"updated" dynamodbav:"updated_at"`
}
