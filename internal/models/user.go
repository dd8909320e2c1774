package models

import (
	"fmt"
	"strings"
	"time"
)

// Role is one of a fixed set of capability profiles. Permissions live in
// package access as a table, never in the role itself.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleOwner   Role = "owner"
	RoleWriter  Role = "writer"
	RoleReader  Role = "reader"
	RoleAuditor Role = "auditor"
)

// AllRoles lists every role in capability order.
var AllRoles = []Role{RoleAdmin, RoleOwner, RoleWriter, RoleReader, RoleAuditor}

// ParseRole accepts a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllRoles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// UserState tracks invitation progress.
type UserState string

const (
	UserPending  UserState = "pending"
	UserAccepted UserState = "accepted"
)

// User is a principal within one tenant.
type User struct {
	TenantID string
	// Email is unique within the tenant.
	Email string
	Role  Role
	State UserState
	// AuthSecret is SHA-256 of the HKDF "auth" subkey of the user's master key.
	// The master key is never stored.
	AuthSecret []byte
	// KDFSalt salts the Argon2id derivation of the master key.
	KDFSalt []byte
	// WrappedDEK is the tenant data key sealed under the user's master key.
	WrappedDEK []byte
	CreatedAt  time.Time
	LastLogin  *time.Time
}

// InvitationTTL is how long an invitation token stays valid.
const InvitationTTL = 7 * 24 * time.Hour

// Invitation lets a new user join a tenant with a given role.
type Invitation struct {
	// Token is handed to the invitee once and never persisted.
	Token string
	// TokenHash is the hex SHA-256 of Token and the lookup key.
	TokenHash string
	TenantID  string
	Email     string
	Role      Role
	InvitedBy string
	CreatedAt time.Time
	ExpiresAt time.Time
	Accepted  bool
	// WrappedDEK is the tenant data key sealed under a key derived from Token.
	WrappedDEK []byte
}

// IsValid reports whether the invitation can still be accepted at now.
func (i *Invitation) IsValid(now time.Time) bool {
	return !i.Accepted && now.Before(i.ExpiresAt)
}
