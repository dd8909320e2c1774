package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Writer ")
	require.NoError(t, err)
	assert.Equal(t, RoleWriter, r)

	_, err = ParseRole("superuser")
	require.Error(t, err)
}

func TestInvitation_IsValid(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	inv := &Invitation{ExpiresAt: now.Add(InvitationTTL)}

	assert.True(t, inv.IsValid(now))
	assert.False(t, inv.IsValid(now.Add(InvitationTTL)))

	inv.Accepted = true
	assert.False(t, inv.IsValid(now))
}

func TestSecretRecord_TagsAndSearch(t *testing.T) {
	r := &SecretRecord{TenantID: "acme", Namespace: "dev", Key: "DB-Password", Tags: NormalizeTags([]string{"prod", " DB ", "", "Prod"})}

	assert.Equal(t, []string{"db", "prod"}, r.Tags)
	assert.True(t, r.HasTags([]string{"prod"}))
	assert.True(t, r.HasTags(nil))
	assert.False(t, r.HasTags([]string{"prod", "staging"}))

	assert.True(t, r.Matches("password"))
	assert.True(t, r.Matches("PROD"))
	assert.False(t, r.Matches("token"))
	assert.Equal(t, "acme/dev/DB-Password", r.Path())
}
