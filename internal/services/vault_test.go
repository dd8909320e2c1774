package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/dmitrijs2005/gophvault/internal/services"
	"github.com/dmitrijs2005/gophvault/internal/services/vaulttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func auditEntries(t *testing.T, env *vaulttest.Env, tenant string) []models.AuditEntry {
	t.Helper()
	out, err := env.Store.Repos().Audit.Latest(context.Background(), tenant, 1000)
	require.NoError(t, err)
	return out
}

func findAudit(entries []models.AuditEntry, principal, action string, outcome models.Outcome) *models.AuditEntry {
	for i := range entries {
		e := &entries[i]
		if e.Principal == principal && e.Action == action && e.Outcome == outcome {
			return e
		}
	}
	return nil
}

func TestInitPutGet(t *testing.T) {
	env := vaulttest.New(t)
	ctx := context.Background()
	tok := env.Init(t, "acme", "alice@acme.com", "correct horse")

	rec, err := env.Vault.Put(ctx, tok, services.PutRequest{Namespace: "dev", Key: "token", Value: []byte("abc123")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)
	assert.True(t, rec.Pending)
	assert.NotContains(t, string(rec.Ciphertext), "abc123")

	value, got, err := env.Vault.Get(ctx, tok, "dev", "token", nil)
	require.NoError(t, err)
	assert.Equal(t, "abc123", string(value))
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, "alice@acme.com", got.CreatedBy)

	entries := auditEntries(t, env, "acme")
	require.NotNil(t, findAudit(entries, "alice@acme.com", models.EventTenantCreated, models.OutcomeSuccess))
	require.NotNil(t, findAudit(entries, "alice@acme.com", models.EventSecretCreated, models.OutcomeSuccess))
	require.NotNil(t, findAudit(entries, "alice@acme.com", models.EventSecretRead, models.OutcomeSuccess))
}

func TestInitTenant_Duplicate(t *testing.T) {
	env := vaulttest.New(t)
	env.Init(t, "acme", "alice@acme.com", "pw")

	_, err := env.Vault.InitTenant(context.Background(), services.InitRequest{TenantID: "acme", AdminEmail: "eve@acme.com", Passphrase: []byte("pw")})
	require.ErrorIs(t, err, common.ErrAlreadyExists)
}

func TestInitTenant_Validation(t *testing.T) {
	env := vaulttest.New(t)
	ctx := context.Background()

	for name, req := range map[string]services.InitRequest{
		"empty tenant":     {AdminEmail: "a@x.io", Passphrase: []byte("pw")},
		"slash in tenant":  {TenantID: "a/b", AdminEmail: "a@x.io", Passphrase: []byte("pw")},
		"bad email":        {TenantID: "acme", AdminEmail: "alice", Passphrase: []byte("pw")},
		"empty passphrase": {TenantID: "acme", AdminEmail: "a@x.io"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := env.Vault.InitTenant(ctx, req)
			require.ErrorIs(t, err, common.ErrInvalidInput)
		})
	}
}

func TestLogin_SuccessAndFailureAreAudited(t *testing.T) {
	env := vaulttest.New(t)
	ctx := context.Background()
	env.Init(t, "acme", "alice@acme.com", "pw-alice")

	_, err := env.Vault.Login(ctx, "acme", "alice@acme.com", []byte("wrong"))
	require.ErrorIs(t, err, common.ErrAuthentication)

	_, err = env.Vault.Login(ctx, "acme", "nobody@acme.com", []byte("pw-alice"))
	require.ErrorIs(t, err, common.ErrAuthentication)

	s, err := env.Vault.Login(ctx, "acme", "alice@acme.com", []byte("pw-alice"))
	require.NoError(t, err)

	u, err := env.Store.Repos().Users.Get(ctx, "acme", "alice@acme.com")
	require.NoError(t, err)
	require.NotNil(t, u.LastLogin)

	entries := auditEntries(t, env, "acme")
	require.NotNil(t, findAudit(entries, "alice@acme.com", models.EventLoginFailed, models.OutcomeDenied))
	require.NotNil(t, findAudit(entries, "nobody@acme.com", models.EventLoginFailed, models.OutcomeDenied))
	require.NotNil(t, findAudit(entries, "alice@acme.com", models.EventLogin, models.OutcomeSuccess))

	require.NoError(t, env.Vault.Logout(ctx, s.Token))
	_, _, err = env.Vault.Get(ctx, s.Token, "dev", "x", nil)
	require.ErrorIs(t, err, common.ErrSessionInvalid)
}

func TestSession_ExpiryAndRefresh(t *testing.T) {
	env := vaulttest.New(t)
	ctx := context.Background()
	tok := env.Init(t, "acme", "alice@acme.com", "pw")
	_, err := env.Vault.Put(ctx, tok, services.PutRequest{Key: "k", Value: []byte("v")})
	require.NoError(t, err)

	env.Clock.Advance(vaulttest.SessionTimeout / 2)
	_, err = env.Vault.Refresh(tok)
	require.NoError(t, err)

	env.Clock.Advance(vaulttest.SessionTimeout * 3 / 4)
	_, _, err = env.Vault.Get(ctx, tok, "", "k", nil)
	require.NoError(t, err, "refreshed session is still inside its window")

	env.Clock.Advance(vaulttest.SessionTimeout + 1)
	_, _, err = env.Vault.Get(ctx, tok, "", "k", nil)
	require.ErrorIs(t, err, common.ErrSessionExpired)
}

func TestPut_UpdateBumpsVersionAndKeepsHistory(t *testing.T) {
	env := vaulttest.New(t)
	ctx := context.Background()
	tok := env.Init(t, "acme", "alice@acme.com", "pw")

	first, err := env.Vault.Put(ctx, tok, services.PutRequest{Key: "db", Value: []byte("one"), Tags: []string{"Prod"}})
	require.NoError(t, err)
	second, err := env.Vault.Put(ctx, tok, services.PutRequest{Key: "db", Value: []byte("two")})
	require.NoError(t, err)

	assert.Equal(t, int64(2), second.Version)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.Clock.Dominates(first.Clock))

	vs, err := env.Vault.Versions(ctx, tok, "", "db")
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, int64(1), vs[0].Record.Version)
	assert.Equal(t, models.ReasonUpdate, vs[0].Reason)

	old, err := env.Vault.ReadVersion(ctx, tok, "", "db", 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "one", string(old))
}

func TestPut_HistoryIsBounded(t *testing.T) {
	env := vaulttest.New(t)
	ctx := context.Background()
	tok := env.Init(t, "acme", "alice@acme.com", "pw")

	for i := 0; i < models.MaxVersions+5; i++ {
		_, err := env.Vault.Put(ctx, tok, services.PutRequest{Key: "k", Value: []byte{byte(i)}})
		require.NoError(t, err)
	}
	vs, err := env.Vault.Versions(ctx, tok, "", "k")
	require.NoError(t, err)
	assert.Len(t, vs, models.MaxVersions)
	assert.Equal(t, int64(models.MaxVersions+4), vs[0].Record.Version)
}

func TestPut_VersionMonotonicUnderConcurrentWriters(t *testing.T) {
	env := vaulttest.New(t)
	ctx := context.Background()
	tok := env.Init(t, "acme", "alice@acme.com", "pw")

	_, err := env.Vault.Put(ctx, tok, services.PutRequest{Key: "shared", Value: []byte("seed")})
	require.NoError(t, err)

	const writers = 4
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.Vault.Put(ctx, tok, services.PutRequest{Key: "shared", Value: []byte{byte('a' + i)}})
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	_, rec, err := env.Vault.Get(ctx, tok, "", "shared", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1+writers), rec.Version)

	vs, err := env.Vault.Versions(ctx, tok, "", "shared")
	require.NoError(t, err)
	seen := map[int64]bool{}
	for _, v := range vs {
		require.False(t, seen[v.Record.Version], "version %d archived twice", v.Record.Version)
		seen[v.Record.Version] = true
	}
	assert.Len(t, seen, writers)
	assert.LessOrEqual(t, env.Vault.ConflictRetries(), int64(writers*(writers-1)/2))
}

func TestPut_Validation(t *testing.T) {
	env := vaulttest.New(t)
	tok := env.Init(t, "acme", "alice@acme.com", "pw")

	_, err := env.Vault.Put(context.Background(), tok, services.PutRequest{Key: "", Value: []byte("v")})
	require.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = env.Vault.Put(context.Background(), tok, services.PutRequest{Namespace: "a/b", Key: "k", Value: []byte("v")})
	require.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestGet_Missing(t *testing.T) {
	env := vaulttest.New(t)
	tok := env.Init(t, "acme", "alice@acme.com", "pw")

	_, _, err := env.Vault.Get(context.Background(), tok, "dev", "nope", nil)
	require.ErrorIs(t, err, common.ErrNotFound)

	var oe *common.OpError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "get", oe.Op)
	assert.Equal(t, "acme/dev/nope", oe.Resource)
}

func TestAccessPassword(t *testing.T) {
	env := vaulttest.New(t)
	ctx := context.Background()
	tok := env.Init(t, "acme", "alice@acme.com", "pw")

	_, err := env.Vault.Put(ctx, tok, services.PutRequest{Key: "root", Value: []byte("s3cr3t"), AccessPassword: []byte("open sesame")})
	require.NoError(t, err)

	_, _, err = env.Vault.Get(ctx, tok, "", "root", nil)
	require.ErrorIs(t, err, common.ErrAuthentication)
	_, _, err = env.Vault.Get(ctx, tok, "", "root", []byte("wrong"))
	require.ErrorIs(t, err, common.ErrAuthentication)

	v, _, err := env.Vault.Get(ctx, tok, "", "root", []byte("open sesame"))
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", string(v))

	// an update without a password keeps the existing one
	_, err = env.Vault.Put(ctx, tok, services.PutRequest{Key: "root", Value: []byte("rotated")})
	require.NoError(t, err)
	_, _, err = env.Vault.Get(ctx, tok, "", "root", nil)
	require.ErrorIs(t, err, common.ErrAuthentication)

	require.NotNil(t, findAudit(auditEntries(t, env, "acme"), "alice@acme.com", models.EventSecretRead, models.OutcomeDenied))
}

func TestGet_TamperedCiphertextIsDecryptionError(t *testing.T) {
	env := vaulttest.New(t)
	ctx := context.Background()
	tok := env.Init(t, "acme", "alice@acme.com", "pw")

	rec, err := env.Vault.Put(ctx, tok, services.PutRequest{Key: "k", Value: []byte("value")})
	require.NoError(t, err)

	tampered := *rec
	tampered.Ciphertext = append([]byte(nil), rec.Ciphertext...)
	tampered.Ciphertext[0] ^= 0x01
	tampered.Version = rec.Version + 1
	require.NoError(t, env.Store.Repos().Secrets.Update(ctx, &tampered, rec.Version))

	_, _, err = env.Vault.Get(ctx, tok, "", "k", nil)
	require.ErrorIs(t, err, common.ErrDecryption)
	require.ErrorIs(t, err, common.ErrAuthentication)
}

func TestDelete_TombstoneThenRecreate(t *testing.T) {
	env := vaulttest.New(t)
	ctx := context.Background()
	tok := env.Init(t, "acme", "alice@acme.com", "pw")

	_, err := env.Vault.Put(ctx, tok, services.PutRequest{Key: "k", Value: []byte("v1")})
	require.NoError(t, err)
	require.NoError(t, env.Vault.Delete(ctx, tok, "", "k"))
	require.ErrorIs(t, env.Vault.Delete(ctx, tok, "", "k"), common.ErrNotFound)

	_, _, err = env.Vault.Get(ctx, tok, "", "k", nil)
	require.ErrorIs(t, err, common.ErrNotFound)

	tomb, err := env.Store.Repos().Secrets.Get(ctx, "acme", common.DefaultNamespace, "k")
	require.NoError(t, err)
	assert.True(t, tomb.Deleted)
	assert.True(t, tomb.Pending)
	assert.Equal(t, int64(2), tomb.Version)

	list, err := env.Vault.List(ctx, tok, "", nil)
	require.NoError(t, err)
	assert.Empty(t, list)

	rec, err := env.Vault.Put(ctx, tok, services.PutRequest{Key: "k", Value: []byte("v3")})
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.Version)
	assert.True(t, rec.Clock.Dominates(tomb.Clock))

	vs, err := env.Vault.Versions(ctx, tok, "", "k")
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, models.ReasonDelete, vs[0].Reason)
}

func TestRestoreVersion_IsNewMutation(t *testing.T) {
	env := vaulttest.New(t)
	ctx := context.Background()
	tok := env.Init(t, "acme", "alice@acme.com", "pw")

	for _, v := range []string{"a", "b"} {
		_, err := env.Vault.Put(ctx, tok, services.PutRequest{Key: "k", Value: []byte(v)})
		require.NoError(t, err)
	}

	rec, err := env.Vault.RestoreVersion(ctx, tok, "", "k", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.Version)

	v, _, err := env.Vault.Get(ctx, tok, "", "k", nil)
	require.NoError(t, err)
	assert.Equal(t, "a", string(v))

	vs, err := env.Vault.Versions(ctx, tok, "", "k")
	require.NoError(t, err)
	require.Len(t, vs, 2)
	assert.Equal(t, models.ReasonRestore, vs[0].Reason)
	assert.Equal(t, int64(2), vs[0].Record.Version)

	_, err = env.Vault.RestoreVersion(ctx, tok, "", "k", 42)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestListAndSearch(t *testing.T) {
	env := vaulttest.New(t)
	ctx := context.Background()
	tok := env.Init(t, "acme", "alice@acme.com", "pw")

	for _, r := range []services.PutRequest{
		{Namespace: "prod", Key: "db-password", Tags: []string{"db", "critical"}},
		{Namespace: "prod", Key: "api-key", Tags: []string{"api"}},
		{Namespace: "dev", Key: "db-password", Tags: []string{"db"}},
	} {
		r.Value = []byte("x")
		_, err := env.Vault.Put(ctx, tok, r)
		require.NoError(t, err)
	}

	all, err := env.Vault.List(ctx, tok, "", nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "dev", all[0].Namespace)
	assert.Equal(t, "api-key", all[1].Key)

	prod, err := env.Vault.List(ctx, tok, "prod", []string{"DB"})
	require.NoError(t, err)
	require.Len(t, prod, 1)
	assert.Equal(t, "db-password", prod[0].Key)

	both, err := env.Vault.List(ctx, tok, "", []string{"db", "critical"})
	require.NoError(t, err)
	require.Len(t, both, 1)

	found, err := env.Vault.Search(ctx, tok, "API", "")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "api-key", found[0].Key)
}

func TestNamespaces(t *testing.T) {
	env := vaulttest.New(t)
	ctx := context.Background()
	tok := env.Init(t, "acme", "alice@acme.com", "pw")

	require.NoError(t, env.Vault.CreateNamespace(ctx, tok, "prod"))
	require.ErrorIs(t, env.Vault.CreateNamespace(ctx, tok, "prod"), common.ErrAlreadyExists)

	nss, err := env.Vault.ListNamespaces(ctx, tok)
	require.NoError(t, err)
	require.Len(t, nss, 2)

	_, err = env.Vault.Put(ctx, tok, services.PutRequest{Namespace: "prod", Key: "k", Value: []byte("v")})
	require.NoError(t, err)
	require.ErrorIs(t, env.Vault.DeleteNamespace(ctx, tok, "prod"), common.ErrNamespaceNotEmpty)

	require.NoError(t, env.Vault.Delete(ctx, tok, "prod", "k"))
	require.ErrorIs(t, env.Vault.DeleteNamespace(ctx, tok, "prod"), common.ErrNamespaceNotEmpty, "unsynced tombstone still pins the namespace")

	ok, err := env.Store.Repos().Secrets.ClearPending(ctx, "acme", "prod", "k", 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, env.Vault.DeleteNamespace(ctx, tok, "prod"))

	require.ErrorIs(t, env.Vault.DeleteNamespace(ctx, tok, common.DefaultNamespace), common.ErrInvalidInput)
}

func TestStatsAndHealth(t *testing.T) {
	env := vaulttest.New(t)
	ctx := context.Background()
	tok := env.Init(t, "acme", "alice@acme.com", "pw")

	_, err := env.Vault.Put(ctx, tok, services.PutRequest{Key: "a", Value: []byte("1234")})
	require.NoError(t, err)
	_, err = env.Vault.Put(ctx, tok, services.PutRequest{Key: "b", Value: []byte("x")})
	require.NoError(t, err)
	require.NoError(t, env.Vault.Delete(ctx, tok, "", "b"))

	st, err := env.Vault.Stats(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Secrets)
	assert.Equal(t, 1, st.Tombstones)
	assert.Equal(t, 2, st.Pending)
	assert.Equal(t, 1, st.Namespaces)
	assert.Equal(t, 1, st.Users)
	assert.Positive(t, st.TotalBytes)

	require.NoError(t, env.Vault.HealthCheck(ctx, "acme"))
	require.ErrorIs(t, env.Vault.HealthCheck(ctx, "globex"), common.ErrNotFound)
}

func countAudit(t *testing.T, env *vaulttest.Env, action string, outcome models.Outcome) int {
	t.Helper()
	n := 0
	for _, e := range auditEntries(t, env, "acme") {
		if e.Action == action && e.Outcome == outcome {
			n++
		}
	}
	return n
}

func TestListNamespaces_IsAudited(t *testing.T) {
	env := vaulttest.New(t)
	ctx := context.Background()
	tok := env.Init(t, "acme", "alice@acme.com", "pw")

	before := countAudit(t, env, models.EventNamespace, models.OutcomeSuccess)
	_, err := env.Vault.ListNamespaces(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, before+1, countAudit(t, env, models.EventNamespace, models.OutcomeSuccess))
}

func TestPut_FailureAfterAuthorizationIsAudited(t *testing.T) {
	env := vaulttest.New(t)
	ctx := context.Background()
	tok := env.Init(t, "acme", "alice@acme.com", "pw")

	restore := services.SetHashAccessPassword(func([]byte) (string, error) {
		return "", errors.New("entropy source unavailable")
	})
	_, err := env.Vault.Put(ctx, tok, services.PutRequest{Key: "k", Value: []byte("v"), AccessPassword: []byte("pin")})
	restore()
	require.Error(t, err)
	assert.Equal(t, 1, countAudit(t, env, models.EventSecretCreated, models.OutcomeError))
}

func TestWriteStorageFailuresAreAudited(t *testing.T) {
	env := vaulttest.New(t)
	ctx := context.Background()
	tok := env.Init(t, "acme", "alice@acme.com", "pw")

	_, err := env.Vault.Put(ctx, tok, services.PutRequest{Key: "k", Value: []byte("v1")})
	require.NoError(t, err)

	_, err = env.Store.DB().ExecContext(ctx, `
		CREATE TRIGGER history_unavailable BEFORE INSERT ON secret_versions
		BEGIN SELECT RAISE(ABORT, 'history unavailable'); END`)
	require.NoError(t, err)

	_, err = env.Vault.Put(ctx, tok, services.PutRequest{Key: "k", Value: []byte("v2")})
	require.ErrorIs(t, err, common.ErrStorage)
	assert.Equal(t, 1, countAudit(t, env, models.EventSecretUpdated, models.OutcomeError))

	err = env.Vault.Delete(ctx, tok, "", "k")
	require.ErrorIs(t, err, common.ErrStorage)
	assert.Equal(t, 1, countAudit(t, env, models.EventSecretDeleted, models.OutcomeError))

	v, rec, err := env.Vault.Get(ctx, tok, "", "k", nil)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(v))
	assert.Equal(t, int64(1), rec.Version)

	require.ErrorIs(t, env.Vault.Delete(ctx, tok, "", "missing"), common.ErrNotFound)
	assert.Equal(t, 2, countAudit(t, env, models.EventSecretDeleted, models.OutcomeError))
}
