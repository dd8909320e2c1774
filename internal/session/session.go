// Package session issues, validates, refreshes and revokes login sessions.
//
// A session token is an HS256 JWT signed with a per-process secret. It
// carries the session id, tenant and user; the token's exp claim is the
// maximum lifetime. The sliding expiry and the unwrapped tenant data key
// live only in this process' memory and are zeroized on logout or expiry.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/access"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/google/uuid"
)

// Directory resolves the tenant and user records a login is checked against.
type Directory interface {
	GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error)
	GetUser(ctx context.Context, tenantID, email string) (*models.User, error)
}

// Options configures a Manager.
type Options struct {
	// Timeout is the idle window; validation near its end slides it forward.
	Timeout time.Duration
	// MaxLifetime caps how long a session may live in total.
	MaxLifetime time.Duration
	// Secret signs tokens; a random one is generated when empty.
	Secret []byte
	// Now is the clock; time.Now when nil.
	Now func() time.Time
}

// Session is what a successful login hands back.
type Session struct {
	Token     string
	Principal access.Principal
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type entry struct {
	principal access.Principal
	issued    time.Time
	expires   time.Time
	dek       *cryptox.Key
}

type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry
	dir      Directory
	opts     Options
	secret   []byte
	logger   logging.Logger
}

func NewManager(dir Directory, opts Options, l logging.Logger) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 24 * time.Hour
	}
	if opts.MaxLifetime < opts.Timeout {
		opts.MaxLifetime = opts.Timeout
	}
	secret := opts.Secret
	if len(secret) == 0 {
		secret = common.GenerateRandByteArray(32)
	}
	return &Manager{
		sessions: make(map[string]*entry),
		dir:      dir,
		opts:     opts,
		secret:   secret,
		logger:   l.With("module", "session"),
	}
}

// Login verifies the passphrase against the stored authentication secret in
// constant time, unwraps the tenant data key and mints a session. Every
// credential failure is reported as common.ErrAuthentication without saying
// which part was wrong.
func (m *Manager) Login(ctx context.Context, tenantID, email string, passphrase []byte) (*Session, error) {
	tenant, err := m.dir.GetTenant(ctx, tenantID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	var user *models.User
	if tenant != nil {
		user, err = m.dir.GetUser(ctx, tenantID, email)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
	}

	if tenant == nil || user == nil || user.State != models.UserAccepted {
		// derive anyway so unknown users cost the same as wrong passphrases
		params := cryptox.DefaultKDFParams()
		if tenant != nil {
			params = tenant.Settings.KDF
		}
		if k, err := cryptox.DeriveKey(passphrase, common.GenerateRandByteArray(cryptox.MinSaltSize), params); err == nil {
			k.Destroy()
		}
		return nil, common.ErrAuthentication
	}

	master, err := cryptox.DeriveKey(passphrase, user.KDFSalt, tenant.Settings.KDF)
	if err != nil {
		return nil, err
	}
	defer master.Destroy()

	if !cryptox.VerifyAuthSecret(master, user.AuthSecret) {
		return nil, common.ErrAuthentication
	}

	dek, err := cryptox.UnwrapKey(user.WrappedDEK, master)
	if err != nil {
		return nil, fmt.Errorf("%w: data key", common.ErrAuthentication)
	}

	p := access.Principal{TenantID: tenantID, Email: email, Role: user.Role}
	s, err := m.open(p, dek)
	if err != nil {
		dek.Destroy()
		return nil, err
	}
	m.logger.Info(ctx, "session opened", "tenant", tenantID, "user", email)
	return s, nil
}

// Open mints a session for an already verified principal holding dek. It
// is used right after a tenant is initialized or an invitation accepted,
// where the caller has just derived the keys itself. The manager takes
// ownership of dek.
func (m *Manager) Open(p access.Principal, dek *cryptox.Key) (*Session, error) {
	return m.open(p, dek)
}

func (m *Manager) open(p access.Principal, dek *cryptox.Key) (*Session, error) {
	now := m.opts.Now()
	sid := uuid.NewString()
	token, err := signToken(m.secret, sid, p.TenantID, p.Email, now, now.Add(m.opts.MaxLifetime))
	if err != nil {
		return nil, err
	}

	e := &entry{principal: p, issued: now, expires: now.Add(m.opts.Timeout), dek: dek}
	m.mu.Lock()
	m.sessions[sid] = e
	m.mu.Unlock()

	return &Session{Token: token, Principal: p, IssuedAt: now, ExpiresAt: e.expires}, nil
}

// Validate resolves token to its principal. A session within the last
// quarter of its idle window is refreshed, never beyond MaxLifetime.
func (m *Manager) Validate(token string) (access.Principal, error) {
	e, err := m.lookup(token, true)
	if err != nil {
		return access.Principal{}, err
	}
	return e.principal, nil
}

// Refresh slides the session's expiry forward by Timeout, capped at
// IssuedAt+MaxLifetime, and returns the updated session.
func (m *Manager) Refresh(token string) (*Session, error) {
	e, err := m.lookup(token, false)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.extend(e, m.opts.Now())
	s := &Session{Token: token, Principal: e.principal, IssuedAt: e.issued, ExpiresAt: e.expires}
	m.mu.Unlock()
	return s, nil
}

// Logout invalidates token immediately and zeroizes its data key.
func (m *Manager) Logout(token string) error {
	claims, err := parseToken(m.secret, token, m.opts.Now, true)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[claims.ID]
	if !ok {
		return common.ErrSessionInvalid
	}
	m.drop(claims.ID, e)
	return nil
}

// UseKey validates token and runs fn with a copy of the session's data key.
// The copy is destroyed when fn returns.
func (m *Manager) UseKey(token string, fn func(p access.Principal, dek *cryptox.Key) error) error {
	e, err := m.lookup(token, true)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if e.dek.Destroyed() {
		m.mu.Unlock()
		return common.ErrSessionInvalid
	}
	dek, err := cryptox.NewKey(e.dek.Bytes())
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return cryptox.WithKey(dek, func(k *cryptox.Key) error { return fn(e.principal, k) })
}

// Close revokes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.sessions {
		m.drop(id, e)
	}
}

// Sweep drops expired sessions and returns how many were removed.
func (m *Manager) Sweep() int {
	now := m.opts.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.sessions {
		if !now.Before(e.expires) {
			m.drop(id, e)
			n++
		}
	}
	return n
}

func (m *Manager) lookup(token string, autoRefresh bool) (*entry, error) {
	claims, err := parseToken(m.secret, token, m.opts.Now, false)
	if err != nil {
		if errors.Is(err, common.ErrSessionExpired) && claims != nil {
			m.forget(claims.ID)
		}
		return nil, err
	}

	now := m.opts.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[claims.ID]
	if !ok {
		return nil, common.ErrSessionInvalid
	}
	if !now.Before(e.expires) {
		m.drop(claims.ID, e)
		return nil, common.ErrSessionExpired
	}
	if autoRefresh && e.expires.Sub(now) < m.opts.Timeout/4 {
		m.extend(e, now)
	}
	return e, nil
}

// extend must be called with m.mu held.
func (m *Manager) extend(e *entry, now time.Time) {
	next := now.Add(m.opts.Timeout)
	if hard := e.issued.Add(m.opts.MaxLifetime); next.After(hard) {
		next = hard
	}
	if next.After(e.expires) {
		e.expires = next
	}
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[id]; ok {
		m.drop(id, e)
	}
}

// drop must be called with m.mu held.
func (m *Manager) drop(id string, e *entry) {
	e.dek.Destroy()
	delete(m.sessions, id)
}
