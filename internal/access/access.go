// Package access decides whether a principal may perform an action. Roles
// carry no behaviour; the permission table below is the single source of
// truth and Authorize is a pure lookup.
package access

import (
	"fmt"
	"slices"

	"github.com/dmitrijs2005/gophvault/internal/models"
)

// Action is an access-checked operation.
type Action string

const (
	SecretRead      Action = "secret.read"
	SecretCreate    Action = "secret.create"
	SecretUpdate    Action = "secret.update"
	SecretDelete    Action = "secret.delete"
	NamespaceManage Action = "namespace.manage"
	UserInvite      Action = "user.invite"
	UserRemove      Action = "user.remove"
	UserRoleChange  Action = "user.role_change"
	UserList        Action = "user.list"
	AuditView       Action = "audit.view"
	Sync            Action = "sync"
	TenantAdmin     Action = "tenant.admin"
)

// AllActions lists every action in the table.
var AllActions = []Action{
	SecretRead, SecretCreate, SecretUpdate, SecretDelete, NamespaceManage,
	UserInvite, UserRemove, UserRoleChange, UserList, AuditView, Sync, TenantAdmin,
}

type roleSet []models.Role

var (
	admin    = models.RoleAdmin
	owner    = models.RoleOwner
	writer   = models.RoleWriter
	reader   = models.RoleReader
	auditor  = models.RoleAuditor
	allRoles = roleSet{admin, owner, writer, reader, auditor}
)

// permissions maps each action to the roles allowed to perform it.
var permissions = map[Action]roleSet{
	SecretRead:      allRoles,
	SecretCreate:    {admin, owner, writer},
	SecretUpdate:    {admin, owner, writer},
	SecretDelete:    {admin, owner},
	NamespaceManage: {admin, owner},
	UserInvite:      {admin, owner},
	UserRemove:      {admin, owner},
	UserRoleChange:  {admin, owner},
	UserList:        {admin, owner, auditor},
	AuditView:       {admin, owner, auditor},
	Sync:            {admin, owner, writer},
	TenantAdmin:     {admin},
}

// Principal is an authenticated user acting within one tenant.
type Principal struct {
	TenantID string
	Email    string
	Role     models.Role
}

func (p Principal) String() string { return p.Email }

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed bool
	Reason  string
}

// Authorize checks p against the permission table for action on resource.
// resource must belong to p's tenant; an empty resource tenant is accepted
// for tenant-wide actions.
func Authorize(p Principal, action Action, resource Resource) Decision {
	if resource.TenantID != "" && resource.TenantID != p.TenantID {
		return Decision{Reason: "resource belongs to another tenant"}
	}
	allowed, ok := permissions[action]
	if !ok {
		return Decision{Reason: fmt.Sprintf("unknown action %q", action)}
	}
	if !slices.Contains(allowed, p.Role) {
		return Decision{Reason: fmt.Sprintf("role %s may not %s", p.Role, action)}
	}
	return Decision{Allowed: true}
}

// Allowed reports whether role may perform action.
func Allowed(role models.Role, action Action) bool {
	return slices.Contains(permissions[action], role)
}

// CanGrant reports whether actor may assign target to another user. Only an
// Admin grants Admin; an Owner grants Owner and below.
func CanGrant(actor, target models.Role) bool {
	switch actor {
	case models.RoleAdmin:
		return true
	case models.RoleOwner:
		return target != models.RoleAdmin
	default:
		return false
	}
}

// Resource names the object of an action.
type Resource struct {
	TenantID  string
	Namespace string
	Key       string
}

func (r Resource) String() string {
	switch {
	case r.Key != "":
		return models.RecordPath(r.TenantID, r.Namespace, r.Key)
	case r.Namespace != "":
		return r.TenantID + "/" + r.Namespace
	default:
		return r.TenantID
	}
}
