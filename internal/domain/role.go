package domain

// Roles carried in the API bearer token. Viewers may read senders but not change them.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)
