package syncer_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/dmitrijs2005/gophvault/internal/remote"
	"github.com/dmitrijs2005/gophvault/internal/services"
	"github.com/dmitrijs2005/gophvault/internal/services/vaulttest"
	"github.com/dmitrijs2005/gophvault/internal/syncer"
)

const (
	tenant = "acme"
	alice  = "alice@acme.com"
	pass   = "correct horse"
)

type device struct {
	env    *vaulttest.Env
	engine *syncer.Engine
	token  string
}

func newEngine(env *vaulttest.Env, b remote.Backend, opts syncer.Options) *syncer.Engine {
	opts.BaseDelay = time.Millisecond
	opts.Now = env.Clock.Now
	return syncer.New(env.Vault, env.Store, env.Audit, b, opts, logging.Discard())
}

// twoDevices initializes a tenant on device a, syncs it and enrolls device
// b from a clone of a's store.
func twoDevices(t *testing.T, b remote.Backend, opts syncer.Options) (*device, *device) {
	t.Helper()
	ctx := context.Background()

	envA := vaulttest.New(t, vaulttest.Device("a"))
	a := &device{env: envA, engine: newEngine(envA, b, opts), token: envA.Init(t, tenant, alice, pass)}
	put(t, a, "db", "v1")
	_, err := a.engine.Sync(ctx, a.token)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "b.db")
	require.NoError(t, envA.Store.Clone(ctx, path))
	clockB := vaulttest.NewClock(envA.Clock.Now())
	envB := vaulttest.Open(t, path, clockB, vaulttest.Device("b"))
	sess, err := envB.Vault.Login(ctx, tenant, alice, []byte(pass))
	require.NoError(t, err)
	bdev := &device{env: envB, engine: newEngine(envB, b, opts), token: sess.Token}

	_, err = bdev.engine.Sync(ctx, bdev.token)
	require.NoError(t, err)
	return a, bdev
}

func put(t *testing.T, d *device, key, value string) *models.SecretRecord {
	t.Helper()
	rec, err := d.env.Vault.Put(context.Background(), d.token, services.PutRequest{Namespace: "dev", Key: key, Value: []byte(value)})
	require.NoError(t, err)
	return rec
}

func get(t *testing.T, d *device, key string) string {
	t.Helper()
	v, _, err := d.env.Vault.Get(context.Background(), d.token, "dev", key, nil)
	require.NoError(t, err)
	return string(v)
}

func current(t *testing.T, d *device, key string) *models.SecretRecord {
	t.Helper()
	_, rec, err := d.env.Vault.Get(context.Background(), d.token, "dev", key, nil)
	require.NoError(t, err)
	return rec
}

func auditActions(t *testing.T, env *vaulttest.Env, action string, outcome models.Outcome) int {
	t.Helper()
	entries, err := env.Store.Repos().Audit.Latest(context.Background(), tenant, 1000)
	require.NoError(t, err)
	n := 0
	for _, e := range entries {
		if e.Action == action && e.Outcome == outcome {
			n++
		}
	}
	return n
}

func TestSync_PropagatesAndClearsPending(t *testing.T) {
	ctx := context.Background()
	a, b := twoDevices(t, remote.NewMemory(), syncer.Options{})

	put(t, a, "api", "k-1")
	res, err := a.engine.Sync(ctx, a.token)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pushed)

	st, err := a.engine.Status(ctx, a.token)
	require.NoError(t, err)
	assert.Zero(t, st.Pending)
	assert.NotEmpty(t, st.Cursor)
	assert.False(t, st.LastSync.IsZero())

	res, err = b.engine.Sync(ctx, b.token)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, "k-1", get(t, b, "api"))
	assert.Equal(t, "v1", get(t, b, "db"))

	assert.Positive(t, auditActions(t, a.env, models.EventSyncPush, models.OutcomeSuccess))
	assert.Positive(t, auditActions(t, b.env, models.EventSyncPull, models.OutcomeSuccess))
}

func TestSync_ConcurrentEditsConverge(t *testing.T) {
	ctx := context.Background()
	a, b := twoDevices(t, remote.NewMemory(), syncer.Options{})

	a.env.Clock.Advance(time.Minute)
	put(t, a, "db", "from-a")
	b.env.Clock.Advance(2 * time.Minute)
	put(t, b, "db", "from-b")

	_, err := a.engine.Sync(ctx, a.token)
	require.NoError(t, err)

	res, err := b.engine.Sync(ctx, b.token)
	require.NoError(t, err)
	require.Len(t, res.Conflicts, 1)
	c := res.Conflicts[0]
	assert.Equal(t, syncer.ModifiedBoth, c.Type)
	assert.Equal(t, "local", c.Winner)
	assert.Equal(t, int64(2), c.LocalVersion)
	assert.Equal(t, int64(2), c.RemoteVersion)
	assert.Equal(t, int64(3), c.LoserVersion)
	assert.Equal(t, int64(4), current(t, b, "db").Version)

	_, err = a.engine.Sync(ctx, a.token)
	require.NoError(t, err)

	assert.Equal(t, "from-b", get(t, a, "db"))
	assert.Equal(t, "from-b", get(t, b, "db"))

	// the losing value is retained on the device that settled the conflict
	vs, err := b.env.Vault.Versions(ctx, b.token, "dev", "db")
	require.NoError(t, err)
	var reasons []models.VersionReason
	for _, v := range vs {
		reasons = append(reasons, v.Reason)
	}
	assert.Contains(t, reasons, models.ReasonConflict)
	lost, err := b.env.Vault.ReadVersion(ctx, b.token, "dev", "db", c.LoserVersion, nil)
	require.NoError(t, err)
	assert.Equal(t, "from-a", string(lost))
	assert.Equal(t, 1, auditActions(t, b.env, models.EventSyncConflict, models.OutcomeSuccess))

	conflicts, err := b.engine.Conflicts(ctx, b.token)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	// manual override brings the loser back and syncs like any write
	_, err = b.engine.Resolve(ctx, b.token, "dev", "db", c.LoserVersion)
	require.NoError(t, err)
	conflicts, err = b.engine.Conflicts(ctx, b.token)
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	_, err = b.engine.Sync(ctx, b.token)
	require.NoError(t, err)
	_, err = a.engine.Sync(ctx, a.token)
	require.NoError(t, err)
	assert.Equal(t, "from-a", get(t, a, "db"))
}

func TestSync_ConflictLoserGetsUnusedVersion(t *testing.T) {
	ctx := context.Background()
	a, b := twoDevices(t, remote.NewMemory(), syncer.Options{})

	a.env.Clock.Advance(time.Minute)
	put(t, a, "db", "from-a")
	b.env.Clock.Advance(2 * time.Minute)
	put(t, b, "db", "b-second")
	b.env.Clock.Advance(time.Minute)
	put(t, b, "db", "b-third")

	_, err := a.engine.Sync(ctx, a.token)
	require.NoError(t, err)
	res, err := b.engine.Sync(ctx, b.token)
	require.NoError(t, err)
	require.Len(t, res.Conflicts, 1)
	c := res.Conflicts[0]
	assert.Equal(t, int64(3), c.LocalVersion)
	assert.Equal(t, int64(2), c.RemoteVersion)
	assert.Equal(t, int64(4), c.LoserVersion)

	vs, err := b.env.Vault.Versions(ctx, b.token, "dev", "db")
	require.NoError(t, err)
	seen := map[int64]bool{}
	for _, v := range vs {
		assert.False(t, seen[v.Record.Version], "version %d archived twice", v.Record.Version)
		seen[v.Record.Version] = true
	}

	for version, want := range map[int64]string{1: "v1", 2: "b-second", 4: "from-a"} {
		got, err := b.env.Vault.ReadVersion(ctx, b.token, "dev", "db", version, nil)
		require.NoError(t, err, "version %d", version)
		assert.Equal(t, want, string(got), "version %d", version)
	}
	assert.Equal(t, "b-third", get(t, b, "db"))
	assert.Equal(t, int64(5), current(t, b, "db").Version)
}

func TestConflicts_SurviveRestart(t *testing.T) {
	ctx := context.Background()
	backend := remote.NewMemory()
	a, b := twoDevices(t, backend, syncer.Options{})

	a.env.Clock.Advance(time.Minute)
	put(t, a, "db", "from-a")
	b.env.Clock.Advance(2 * time.Minute)
	put(t, b, "db", "from-b")
	_, err := a.engine.Sync(ctx, a.token)
	require.NoError(t, err)
	_, err = b.engine.Sync(ctx, b.token)
	require.NoError(t, err)

	fresh := newEngine(b.env, backend, syncer.Options{})
	st, err := fresh.Status(ctx, b.token)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Conflicts)

	cs, err := fresh.Conflicts(ctx, b.token)
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, syncer.ConflictInfo{
		Namespace: "dev", Key: "db", LocalVersion: 2, RemoteVersion: 2,
		Type: syncer.ModifiedBoth, Winner: "local", LoserVersion: 3, DetectedAt: cs[0].DetectedAt,
	}, cs[0])
	assert.False(t, cs[0].DetectedAt.IsZero())

	// naming the current version keeps the automatic choice
	kept, err := fresh.Resolve(ctx, b.token, "dev", "db", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), kept.Version)
	assert.Equal(t, "from-b", get(t, b, "db"))

	cs, err = fresh.Conflicts(ctx, b.token)
	require.NoError(t, err)
	assert.Empty(t, cs)
	st, err = fresh.Status(ctx, b.token)
	require.NoError(t, err)
	assert.Zero(t, st.Conflicts)

	_, err = fresh.Resolve(ctx, b.token, "dev", "db", 4)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestSync_PreferRemote(t *testing.T) {
	ctx := context.Background()
	a, b := twoDevices(t, remote.NewMemory(), syncer.Options{Strategy: syncer.PreferRemote})

	put(t, a, "db", "from-a")
	b.env.Clock.Advance(time.Hour)
	put(t, b, "db", "from-b")

	_, err := a.engine.Sync(ctx, a.token)
	require.NoError(t, err)
	res, err := b.engine.Sync(ctx, b.token)
	require.NoError(t, err)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "remote", res.Conflicts[0].Winner)
	assert.Equal(t, "from-a", get(t, b, "db"))
}

func TestSync_TombstonePropagates(t *testing.T) {
	ctx := context.Background()
	a, b := twoDevices(t, remote.NewMemory(), syncer.Options{})

	require.NoError(t, a.env.Vault.Delete(ctx, a.token, "dev", "db"))
	_, err := a.engine.Sync(ctx, a.token)
	require.NoError(t, err)
	_, err = b.engine.Sync(ctx, b.token)
	require.NoError(t, err)

	_, _, err = b.env.Vault.Get(ctx, b.token, "dev", "db", nil)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestPull_ReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a, b := twoDevices(t, remote.NewMemory(), syncer.Options{})

	put(t, a, "api", "k-1")
	_, err := a.engine.Sync(ctx, a.token)
	require.NoError(t, err)
	_, err = b.engine.Sync(ctx, b.token)
	require.NoError(t, err)
	_, before, err := b.env.Vault.Get(ctx, b.token, "dev", "api", nil)
	require.NoError(t, err)

	res, err := b.engine.Pull(ctx, b.token, true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pulled)
	assert.Zero(t, res.Applied)
	assert.Empty(t, res.Conflicts)

	_, after, err := b.env.Vault.Get(ctx, b.token, "dev", "api", nil)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.Clock, after.Clock)
}

func TestPush_ForceResendsEverything(t *testing.T) {
	ctx := context.Background()
	a, _ := twoDevices(t, remote.NewMemory(), syncer.Options{})

	res, err := a.engine.Push(ctx, a.token, true)
	require.NoError(t, err)
	assert.Zero(t, res.Pushed)
	assert.Equal(t, 1, res.Skipped)
}

// tamperingBackend flips a MAC byte on everything it returns.
type tamperingBackend struct {
	remote.Backend
}

func (b tamperingBackend) Pull(ctx context.Context, tenantID, cursor string, limit int) (remote.Batch, error) {
	batch, err := b.Backend.Pull(ctx, tenantID, cursor, limit)
	for i := range batch.Records {
		batch.Records[i].MAC = append([]byte(nil), batch.Records[i].MAC...)
		batch.Records[i].MAC[0] ^= 0xff
	}
	return batch, err
}

func TestPull_RejectsTamperedBatch(t *testing.T) {
	ctx := context.Background()
	mem := remote.NewMemory()
	a, b := twoDevices(t, mem, syncer.Options{})

	put(t, a, "db", "v2")
	_, err := a.engine.Sync(ctx, a.token)
	require.NoError(t, err)

	stB, err := b.engine.Status(ctx, b.token)
	require.NoError(t, err)

	tampered := newEngine(b.env, tamperingBackend{mem}, syncer.Options{})
	_, err = tampered.Pull(ctx, b.token, false)
	require.ErrorIs(t, err, common.ErrSyncCorruption)

	assert.Equal(t, "v1", get(t, b, "db"))
	st, err := tampered.Status(ctx, b.token)
	require.NoError(t, err)
	assert.Equal(t, stB.Cursor, st.Cursor)
	assert.Contains(t, st.LastError, common.ErrSyncCorruption.Error())
	assert.Equal(t, 1, auditActions(t, b.env, models.EventSyncPull, models.OutcomeError))
}

func TestPull_RejectsOtherTenantsKey(t *testing.T) {
	ctx := context.Background()
	mem := remote.NewMemory()
	twoDevices(t, mem, syncer.Options{})

	// same tenant id, different data key
	other := vaulttest.New(t, vaulttest.Device("c"))
	tok := other.Init(t, tenant, alice, pass)
	_, err := newEngine(other, mem, syncer.Options{}).Pull(ctx, tok, false)
	require.ErrorIs(t, err, common.ErrSyncCorruption)
}

func TestSync_RetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	mem := remote.NewMemory()
	a, _ := twoDevices(t, mem, syncer.Options{MaxAttempts: 4})

	put(t, a, "api", "k-1")
	mem.FailNext(3)
	res, err := a.engine.Sync(ctx, a.token)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pushed)
}

func TestSync_GivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	mem := remote.NewMemory()
	a, _ := twoDevices(t, mem, syncer.Options{MaxAttempts: 2})

	put(t, a, "api", "k-1")
	mem.FailNext(2)
	_, err := a.engine.Sync(ctx, a.token)
	require.ErrorIs(t, err, common.ErrSync)

	st, err := a.engine.Status(ctx, a.token)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Pending)
	assert.NotEmpty(t, st.LastError)

	res, err := a.engine.Sync(ctx, a.token)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pushed)
}

func TestSync_ReaderDenied(t *testing.T) {
	ctx := context.Background()
	env := vaulttest.New(t, vaulttest.Collaborative())
	admin := env.Init(t, tenant, alice, pass)
	reader := env.AddUser(t, admin, "rob@acme.com", "pw", models.RoleReader)
	e := newEngine(env, remote.NewMemory(), syncer.Options{})

	_, err := e.Sync(ctx, reader)
	require.ErrorIs(t, err, common.ErrAuthorization)

	_, err = e.Status(ctx, reader)
	require.NoError(t, err)
}

func TestSync_RequiresSession(t *testing.T) {
	env := vaulttest.New(t)
	e := newEngine(env, remote.NewMemory(), syncer.Options{})
	_, err := e.Sync(context.Background(), "bogus")
	require.Error(t, err)
}
