package dynamo

// DynamoDB attribute names used in key, update and condition expressions across all repos.
const (
	fieldTenantID        = "tenant_id"
	fieldSK              = "sk"
	fieldSenderID        = "sender_id"
	fieldDomain          = "domain"
	fieldIdentityName    = "identity_name"
	fieldIdentityRef     = "external_identity_ref"
	fieldIdentityPhase   = "identity_phase"
	fieldStatus          = "verification_status"
	fieldSenderExpiresAt = "verification_expires_at"
	fieldDomainExpiresAt = "expires_at"
	fieldVerifiedAt      = "verified_at"
	fieldFailureReason   = "failure_reason"
	fieldIsDefault       = "is_default"
	fieldName            = "name"
	fieldLastSent        = "last_verification_sent"
	fieldUpdatedAt       = "updated_at"
	fieldSenderCount     = "sender_count"
	fieldDefaultSender   = "default_sender_id"
	fieldVersion         = "version"
	fieldTier            = "tier"

	indexIdentity      = "identity-index"
	indexStatusExpires = "status-expires-index"
	indexDomain        = "domain-index"

	skSenderPrefix = "sender#"
	skEmailPrefix  = "email#"
	skMeta         = "meta"
)
