package access

import (
	"testing"

	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestAuthorize_Table(t *testing.T) {
	want := map[models.Role][]Action{
		models.RoleAdmin:   AllActions,
		models.RoleOwner:   {SecretRead, SecretCreate, SecretUpdate, SecretDelete, NamespaceManage, UserInvite, UserRemove, UserRoleChange, UserList, AuditView, Sync},
		models.RoleWriter:  {SecretRead, SecretCreate, SecretUpdate, Sync},
		models.RoleReader:  {SecretRead},
		models.RoleAuditor: {SecretRead, UserList, AuditView},
	}
	res := Resource{TenantID: "acme", Namespace: "dev", Key: "token"}

	for _, role := range models.AllRoles {
		p := Principal{TenantID: "acme", Email: "u@acme.com", Role: role}
		for _, action := range AllActions {
			expected := false
			for _, a := range want[role] {
				if a == action {
					expected = true
				}
			}
			d := Authorize(p, action, res)
			assert.Equal(t, expected, d.Allowed, "%s %s", role, action)
			if !d.Allowed {
				assert.NotEmpty(t, d.Reason)
			}
		}
	}
}

func TestAuthorize_StableAcrossCallOrder(t *testing.T) {
	res := Resource{TenantID: "acme"}
	first := map[string]bool{}
	for _, role := range models.AllRoles {
		for _, action := range AllActions {
			first[string(role)+string(action)] = Authorize(Principal{TenantID: "acme", Role: role}, action, res).Allowed
		}
	}
	for i := len(AllActions) - 1; i >= 0; i-- {
		for j := len(models.AllRoles) - 1; j >= 0; j-- {
			role, action := models.AllRoles[j], AllActions[i]
			assert.Equal(t, first[string(role)+string(action)], Authorize(Principal{TenantID: "acme", Role: role}, action, res).Allowed)
		}
	}
}

func TestAuthorize_CrossTenantDenied(t *testing.T) {
	p := Principal{TenantID: "acme", Role: models.RoleAdmin}
	d := Authorize(p, SecretRead, Resource{TenantID: "globex", Namespace: "dev", Key: "k"})
	assert.False(t, d.Allowed)
}

func TestAuthorize_UnknownAction(t *testing.T) {
	d := Authorize(Principal{TenantID: "acme", Role: models.RoleAdmin}, Action("secret.explode"), Resource{})
	assert.False(t, d.Allowed)
}

func TestCanGrant(t *testing.T) {
	assert.True(t, CanGrant(models.RoleAdmin, models.RoleAdmin))
	assert.False(t, CanGrant(models.RoleOwner, models.RoleAdmin))
	assert.True(t, CanGrant(models.RoleOwner, models.RoleOwner))
	assert.True(t, CanGrant(models.RoleOwner, models.RoleReader))
	assert.False(t, CanGrant(models.RoleWriter, models.RoleReader))
	assert.False(t, CanGrant(models.RoleAuditor, models.RoleReader))
}

func TestResourceString(t *testing.T) {
	assert.Equal(t, "acme/dev/token", Resource{TenantID: "acme", Namespace: "dev", Key: "token"}.String())
	assert.Equal(t, "acme/dev", Resource{TenantID: "acme", Namespace: "dev"}.String())
	assert.Equal(t, "acme", Resource{TenantID: "acme"}.String())
}
