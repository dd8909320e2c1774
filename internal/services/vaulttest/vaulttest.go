// Package vaulttest builds fully wired vaults on temporary stores for tests.
package vaulttest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/audit"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/dmitrijs2005/gophvault/internal/services"
	"github.com/dmitrijs2005/gophvault/internal/session"
	"github.com/dmitrijs2005/gophvault/internal/store"
	"github.com/stretchr/testify/require"
)

// FastKDF keeps Argon2id cheap in tests.
var FastKDF = cryptox.KDFParams{Memory: 1024, Time: 1, Parallelism: 1}

const (
	SessionTimeout     = time.Hour
	SessionMaxLifetime = 3 * time.Hour
)

// Clock is a manually advanced clock shared by every component of an Env.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{now: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type Env struct {
	Path     string
	Store    *store.Store
	Sessions *session.Manager
	Audit    *audit.Log
	Vault    *services.Vault
	Clock    *Clock
}

type Option func(*services.Options)

func Collaborative() Option { return func(o *services.Options) { o.Collaborative = true } }

func Device(id string) Option { return func(o *services.Options) { o.DeviceID = id } }

func Algorithm(a cryptox.Algorithm) Option { return func(o *services.Options) { o.Algorithm = a } }

// New opens a fresh store under t.TempDir and wires a vault on it.
func New(t *testing.T, opts ...Option) *Env {
	t.Helper()
	return Open(t, filepath.Join(t.TempDir(), "vault.db"), NewClock(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)), opts...)
}

// Open wires a vault on the store at path. The store is closed on cleanup.
func Open(t *testing.T, path string, clock *Clock, opts ...Option) *Env {
	t.Helper()
	ctx := context.Background()
	l := logging.Discard()

	s, err := store.Open(ctx, path, l)
	require.NoError(t, err)

	o := services.Options{KDF: FastKDF, Now: clock.Now}
	for _, opt := range opts {
		opt(&o)
	}
	o.DeviceID, err = s.DeviceID(ctx, o.DeviceID)
	require.NoError(t, err)

	sm := session.NewManager(session.StoreDirectory(s), session.Options{
		Timeout:     SessionTimeout,
		MaxLifetime: SessionMaxLifetime,
		Now:         clock.Now,
	}, l)
	al := audit.New(s, l, audit.WithClock(clock.Now), audit.WithPollInterval(5*time.Millisecond))

	env := &Env{
		Path:     path,
		Store:    s,
		Sessions: sm,
		Audit:    al,
		Vault:    services.NewVault(s, sm, al, o, l),
		Clock:    clock,
	}
	t.Cleanup(func() {
		sm.Close()
		_ = s.Close()
	})
	return env
}

// Init creates tenant with an Admin and returns the Admin's session token.
func (e *Env) Init(t *testing.T, tenant, email, passphrase string) string {
	t.Helper()
	s, err := e.Vault.InitTenant(context.Background(), services.InitRequest{
		TenantID:   tenant,
		AdminEmail: email,
		Passphrase: []byte(passphrase),
	})
	require.NoError(t, err)
	return s.Token
}

// AddUser invites email with role and accepts on their behalf, returning
// the new user's session token. The vault must be collaborative.
func (e *Env) AddUser(t *testing.T, inviterToken, email, passphrase string, role models.Role) string {
	t.Helper()
	ctx := context.Background()
	inv, err := e.Vault.InviteUser(ctx, inviterToken, email, role)
	require.NoError(t, err)
	s, err := e.Vault.AcceptInvitation(ctx, inv.Token, []byte(passphrase))
	require.NoError(t, err)
	return s.Token
}
