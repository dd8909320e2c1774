package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dmitrijs2005/gophvault/internal/audit"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/dmitrijs2005/gophvault/internal/services"
	"github.com/dmitrijs2005/gophvault/internal/services/vaulttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderWriteIsDeniedAndAudited(t *testing.T) {
	env := vaulttest.New(t, vaulttest.Collaborative())
	ctx := context.Background()
	admin := env.Init(t, "acme", "alice@acme.com", "pw-alice")
	reader := env.AddUser(t, admin, "rita@acme.com", "pw-rita", models.RoleReader)

	_, err := env.Vault.Put(ctx, admin, services.PutRequest{Namespace: "prod", Key: "db", Value: []byte("v")})
	require.NoError(t, err)

	_, err = env.Vault.Put(ctx, reader, services.PutRequest{Namespace: "prod", Key: "db", Value: []byte("mine")})
	require.ErrorIs(t, err, common.ErrAuthorization)
	_, err = env.Vault.Put(ctx, reader, services.PutRequest{Namespace: "prod", Key: "new", Value: []byte("mine")})
	require.ErrorIs(t, err, common.ErrAuthorization)
	require.ErrorIs(t, env.Vault.Delete(ctx, reader, "prod", "db"), common.ErrAuthorization)

	v, _, err := env.Vault.Get(ctx, reader, "prod", "db", nil)
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))

	entries := auditEntries(t, env, "acme")
	var deniedPuts []string
	for _, e := range entries {
		if e.Principal == "rita@acme.com" && e.Action == models.EventSecretCreated && e.Outcome == models.OutcomeDenied {
			deniedPuts = append(deniedPuts, e.Resource)
		}
	}
	assert.ElementsMatch(t, []string{"acme/prod/db", "acme/prod/new"}, deniedPuts)
	require.NotNil(t, findAudit(entries, "rita@acme.com", models.EventSecretDeleted, models.OutcomeDenied))
}

func TestPut_DeniedBeforeHashingOrWriting(t *testing.T) {
	env := vaulttest.New(t, vaulttest.Collaborative())
	ctx := context.Background()
	admin := env.Init(t, "acme", "alice@acme.com", "pw-alice")
	reader := env.AddUser(t, admin, "rita@acme.com", "pw-rita", models.RoleReader)

	hashed := 0
	restore := services.SetHashAccessPassword(func([]byte) (string, error) {
		hashed++
		return "", errors.New("unexpected hash")
	})
	defer restore()

	before := len(auditEntries(t, env, "acme"))
	_, err := env.Vault.Put(ctx, reader, services.PutRequest{
		Namespace: "prod", Key: "db", Value: []byte("mine"), AccessPassword: []byte("pw"),
	})
	require.ErrorIs(t, err, common.ErrAuthorization)
	assert.Zero(t, hashed)

	entries := auditEntries(t, env, "acme")
	require.Len(t, entries, before+1)
	last := entries[len(entries)-1]
	assert.Equal(t, models.EventSecretCreated, last.Action)
	assert.Equal(t, models.OutcomeDenied, last.Outcome)

	_, _, err = env.Vault.Get(ctx, admin, "prod", "db", nil)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestInvitation_Lifecycle(t *testing.T) {
	env := vaulttest.New(t, vaulttest.Collaborative())
	ctx := context.Background()
	admin := env.Init(t, "acme", "alice@acme.com", "pw-alice")

	inv, err := env.Vault.InviteUser(ctx, admin, "bob@acme.com", models.RoleWriter)
	require.NoError(t, err)
	assert.Len(t, inv.Token, 32)
	assert.NotEqual(t, inv.Token, inv.TokenHash)

	_, err = env.Vault.Login(ctx, "acme", "bob@acme.com", []byte("anything"))
	require.ErrorIs(t, err, common.ErrAuthentication, "pending users cannot log in")

	_, err = env.Vault.AcceptInvitation(ctx, "not-a-token", []byte("pw-bob"))
	require.ErrorIs(t, err, common.ErrAuthentication)

	s, err := env.Vault.AcceptInvitation(ctx, inv.Token, []byte("pw-bob"))
	require.NoError(t, err)
	assert.Equal(t, models.RoleWriter, s.Principal.Role)

	_, err = env.Vault.AcceptInvitation(ctx, inv.Token, []byte("pw-bob"))
	require.ErrorIs(t, err, common.ErrAuthentication, "an invitation is single use")

	_, err = env.Vault.Put(ctx, admin, services.PutRequest{Key: "shared", Value: []byte("from alice")})
	require.NoError(t, err)

	relogin, err := env.Vault.Login(ctx, "acme", "bob@acme.com", []byte("pw-bob"))
	require.NoError(t, err)
	v, _, err := env.Vault.Get(ctx, relogin.Token, "", "shared", nil)
	require.NoError(t, err)
	assert.Equal(t, "from alice", string(v), "invitee unwraps the same tenant key")

	_, err = env.Vault.InviteUser(ctx, admin, "bob@acme.com", models.RoleReader)
	require.ErrorIs(t, err, common.ErrAlreadyExists)
}

func TestInvitation_Expires(t *testing.T) {
	env := vaulttest.New(t, vaulttest.Collaborative())
	ctx := context.Background()
	admin := env.Init(t, "acme", "alice@acme.com", "pw-alice")

	inv, err := env.Vault.InviteUser(ctx, admin, "bob@acme.com", models.RoleReader)
	require.NoError(t, err)

	env.Clock.Advance(models.InvitationTTL + 1)
	_, err = env.Vault.AcceptInvitation(ctx, inv.Token, []byte("pw-bob"))
	require.ErrorIs(t, err, common.ErrAuthentication)
}

func TestInvite_RequiresCollaborativeMode(t *testing.T) {
	env := vaulttest.New(t)
	admin := env.Init(t, "acme", "alice@acme.com", "pw-alice")

	_, err := env.Vault.InviteUser(context.Background(), admin, "bob@acme.com", models.RoleReader)
	require.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestInvite_OwnerCannotGrantAdmin(t *testing.T) {
	env := vaulttest.New(t, vaulttest.Collaborative())
	ctx := context.Background()
	admin := env.Init(t, "acme", "alice@acme.com", "pw-alice")
	owner := env.AddUser(t, admin, "olga@acme.com", "pw-olga", models.RoleOwner)

	_, err := env.Vault.InviteUser(ctx, owner, "dave@acme.com", models.RoleAdmin)
	require.ErrorIs(t, err, common.ErrAuthorization)

	_, err = env.Vault.InviteUser(ctx, owner, "dave@acme.com", models.RoleOwner)
	require.NoError(t, err)

	require.ErrorIs(t, env.Vault.RemoveUser(ctx, owner, "alice@acme.com"), common.ErrAuthorization)
}

func TestChangeRole_TakesEffectImmediately(t *testing.T) {
	env := vaulttest.New(t, vaulttest.Collaborative())
	ctx := context.Background()
	admin := env.Init(t, "acme", "alice@acme.com", "pw-alice")
	bob := env.AddUser(t, admin, "bob@acme.com", "pw-bob", models.RoleWriter)

	_, err := env.Vault.Put(ctx, bob, services.PutRequest{Key: "k", Value: []byte("v")})
	require.NoError(t, err)

	require.NoError(t, env.Vault.ChangeRole(ctx, admin, "bob@acme.com", models.RoleReader))
	_, err = env.Vault.Put(ctx, bob, services.PutRequest{Key: "k", Value: []byte("v2")})
	require.ErrorIs(t, err, common.ErrAuthorization)

	users, err := env.Vault.ListUsers(ctx, admin)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, models.RoleReader, users[1].Role)
	assert.Nil(t, users[1].WrappedDEK)
}

func TestLastAdminIsProtected(t *testing.T) {
	env := vaulttest.New(t, vaulttest.Collaborative())
	ctx := context.Background()
	admin := env.Init(t, "acme", "alice@acme.com", "pw-alice")

	require.ErrorIs(t, env.Vault.RemoveUser(ctx, admin, "alice@acme.com"), common.ErrInvalidInput)
	require.ErrorIs(t, env.Vault.ChangeRole(ctx, admin, "alice@acme.com", models.RoleOwner), common.ErrInvalidInput)

	env.AddUser(t, admin, "ada@acme.com", "pw-ada", models.RoleAdmin)
	require.NoError(t, env.Vault.ChangeRole(ctx, admin, "alice@acme.com", models.RoleOwner))
}

func TestRemoveUser_RevokesAccess(t *testing.T) {
	env := vaulttest.New(t, vaulttest.Collaborative())
	ctx := context.Background()
	admin := env.Init(t, "acme", "alice@acme.com", "pw-alice")
	bob := env.AddUser(t, admin, "bob@acme.com", "pw-bob", models.RoleWriter)

	require.NoError(t, env.Vault.RemoveUser(ctx, admin, "bob@acme.com"))

	_, err := env.Vault.List(ctx, bob, "", nil)
	require.ErrorIs(t, err, common.ErrSessionInvalid)
	_, err = env.Vault.Login(ctx, "acme", "bob@acme.com", []byte("pw-bob"))
	require.ErrorIs(t, err, common.ErrAuthentication)

	require.ErrorIs(t, env.Vault.RemoveUser(ctx, admin, "bob@acme.com"), common.ErrNotFound)
}

func TestAuditViews(t *testing.T) {
	env := vaulttest.New(t, vaulttest.Collaborative())
	ctx := context.Background()
	admin := env.Init(t, "acme", "alice@acme.com", "pw-alice")
	writer := env.AddUser(t, admin, "bob@acme.com", "pw-bob", models.RoleWriter)
	auditor := env.AddUser(t, admin, "audrey@acme.com", "pw-audrey", models.RoleAuditor)

	_, err := env.Vault.AuditTail(ctx, writer, 10, false)
	require.ErrorIs(t, err, common.ErrAuthorization)

	seq, err := env.Vault.AuditTail(ctx, auditor, 3, false)
	require.NoError(t, err)
	var tail []models.AuditEntry
	for e, err := range seq {
		require.NoError(t, err)
		tail = append(tail, e)
	}
	require.Len(t, tail, 3)
	last := tail[len(tail)-1]
	assert.Equal(t, models.EventAuditView, last.Action, "the view is audited before it is served")
	assert.Equal(t, "audrey@acme.com", last.Principal)

	found, err := env.Vault.AuditSearch(ctx, auditor, audit.Query{Text: "outcome=denied principal=bob@acme.com"})
	require.NoError(t, err)
	n := 0
	for e, err := range found {
		require.NoError(t, err)
		assert.Equal(t, models.EventAuditView, e.Action)
		n++
	}
	assert.Equal(t, 1, n)
}
