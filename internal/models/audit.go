package models

import "time"

// Outcome of an access-checked operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeDenied  Outcome = "denied"
	OutcomeError   Outcome = "error"
)

// Audit event kinds.
const (
	EventLogin         = "login"
	EventLoginFailed   = "login_failed"
	EventLogout        = "logout"
	EventSecretCreated = "secret_created"
	EventSecretRead    = "secret_accessed"
	EventSecretUpdated = "secret_updated"
	EventSecretDeleted = "secret_deleted"
	EventSecretRestore = "secret_restored"
	EventSecretList    = "secret_listed"
	EventNamespace     = "namespace_changed"
	EventTenantCreated = "tenant_created"
	EventUserInvited   = "user_invited"
	EventUserAdded     = "user_added"
	EventUserRemoved   = "user_removed"
	EventRoleChanged   = "role_changed"
	EventUserList      = "user_listed"
	EventAuditView     = "audit_viewed"
	EventSyncPush      = "sync_push"
	EventSyncPull      = "sync_pull"
	EventSyncConflict  = "sync_conflict"
	EventStats         = "stats_viewed"
)

// AuditEntry is one append-only audit record.
type AuditEntry struct {
	// Seq is assigned by the store and orders entries within a tenant.
	Seq       int64
	ID        string
	TenantID  string
	Timestamp time.Time
	Principal string
	Action    string
	Resource  string
	Outcome   Outcome
	// Detail is a free-form reason; never secret material.
	Detail string
}
