// Package services implements the vault operations behind every user-facing
// command. Each operation validates the session, re-reads the caller's
// current role, authorizes the action, performs the crypto work and commits
// the store change together with its audit entry. Denials are audited too.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/access"
	"github.com/dmitrijs2005/gophvault/internal/audit"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/dmitrijs2005/gophvault/internal/session"
	"github.com/dmitrijs2005/gophvault/internal/store"
)

const defaultConflictRetries = 3

// Options is the immutable configuration snapshot a Vault runs with.
type Options struct {
	// Algorithm seals new records and new tenants.
	Algorithm cryptox.Algorithm
	// KDF is applied to tenants created by this process.
	KDF cryptox.KDFParams
	// Collaborative enables user management.
	Collaborative bool
	// DeviceID names this replica in vector clocks.
	DeviceID string
	// ConflictRetries bounds re-reads after an optimistic version conflict.
	ConflictRetries int
	Now             func() time.Time
}

type Vault struct {
	store    *store.Store
	sessions *session.Manager
	audit    *audit.Log
	opts     Options
	logger   logging.Logger

	conflictRetries atomic.Int64
}

func NewVault(s *store.Store, sm *session.Manager, al *audit.Log, opts Options, l logging.Logger) *Vault {
	if opts.Algorithm == "" {
		opts.Algorithm = cryptox.AES256GCM
	}
	if opts.KDF == (cryptox.KDFParams{}) {
		opts.KDF = cryptox.DefaultKDFParams()
	}
	if opts.DeviceID == "" {
		opts.DeviceID = "local"
	}
	if opts.ConflictRetries <= 0 {
		opts.ConflictRetries = defaultConflictRetries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Vault{
		store:    s,
		sessions: sm,
		audit:    al,
		opts:     opts,
		logger:   l.With("module", "vault"),
	}
}

// DeviceID is the replica id stamped into vector clocks.
func (v *Vault) DeviceID() string { return v.opts.DeviceID }

// Sessions exposes the session manager for components that need the data key.
func (v *Vault) Sessions() *session.Manager { return v.sessions }

// ConflictRetries reports how many optimistic version conflicts were retried.
func (v *Vault) ConflictRetries() int64 { return v.conflictRetries.Load() }

func (v *Vault) now() time.Time { return v.opts.Now().UTC() }

// Authorize validates token, refreshes the principal's role from the store
// and checks action against resource. A denial is audited under event.
// An empty resource tenant is filled in from the principal.
func (v *Vault) Authorize(ctx context.Context, token string, action access.Action, event string, res access.Resource) (access.Principal, error) {
	p, err := v.principal(ctx, token)
	if err != nil {
		return access.Principal{}, err
	}
	if res.TenantID == "" {
		res.TenantID = p.TenantID
	}
	if err := v.authorize(ctx, p, action, event, res); err != nil {
		return access.Principal{}, err
	}
	return p, nil
}

// principal resolves token to a principal carrying the user's current role.
// A user removed while logged in loses the session.
func (v *Vault) principal(ctx context.Context, token string) (access.Principal, error) {
	p, err := v.sessions.Validate(token)
	if err != nil {
		return access.Principal{}, err
	}
	u, err := v.store.Repos().Users.Get(ctx, p.TenantID, p.Email)
	if errors.Is(err, common.ErrNotFound) || (err == nil && u.State != models.UserAccepted) {
		_ = v.sessions.Logout(token)
		return access.Principal{}, common.ErrSessionInvalid
	}
	if err != nil {
		return access.Principal{}, fmt.Errorf("%w: %v", common.ErrStorage, err)
	}
	p.Role = u.Role
	return p, nil
}

func (v *Vault) authorize(ctx context.Context, p access.Principal, action access.Action, event string, res access.Resource) error {
	d := access.Authorize(p, action, res)
	if d.Allowed {
		return nil
	}
	v.deny(ctx, p, event, res.String(), d.Reason)
	return common.NewOpError(string(action), res.String(), d.Reason, common.ErrAuthorization)
}

// deny audits a refused operation in its own transaction.
func (v *Vault) deny(ctx context.Context, p access.Principal, event, resource, reason string) {
	v.recordStandalone(ctx, v.audit.Entry(p.TenantID, p.Email, event, resource, models.OutcomeDenied, reason))
}

// fail audits an operation that was allowed but did not complete.
func (v *Vault) fail(ctx context.Context, p access.Principal, event, resource string, err error) {
	v.recordStandalone(ctx, v.audit.Entry(p.TenantID, p.Email, event, resource, models.OutcomeError, reasonOf(err)))
}

func (v *Vault) succeed(ctx context.Context, p access.Principal, event, resource, detail string) {
	v.recordStandalone(ctx, v.audit.Entry(p.TenantID, p.Email, event, resource, models.OutcomeSuccess, detail))
}

func (v *Vault) recordStandalone(ctx context.Context, e models.AuditEntry) {
	if err := v.audit.RecordStandalone(ctx, e); err != nil {
		v.logger.Error(ctx, "audit append failed", "action", e.Action, "resource", e.Resource, "error", err)
	}
}

func (v *Vault) success(p access.Principal, event, resource, detail string) models.AuditEntry {
	return v.audit.Entry(p.TenantID, p.Email, event, resource, models.OutcomeSuccess, detail)
}

// known are the sentinels passed through to callers unchanged.
var known = []error{
	common.ErrNotFound, common.ErrAlreadyExists, common.ErrVersionConflict, common.ErrNamespaceNotEmpty,
	common.ErrDecryption, common.ErrAuthentication, common.ErrAuthorization, common.ErrInvalidInput,
	common.ErrSessionExpired, common.ErrSessionInvalid, common.ErrKeyDerivation, common.ErrStorage,
	context.Canceled, context.DeadlineExceeded,
}

func isKnown(err error) bool {
	for _, s := range known {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

// reasonOf keeps the sentinel part of err for audit details.
func reasonOf(err error) string {
	var oe *common.OpError
	if errors.As(err, &oe) && oe.Reason != "" {
		return oe.Reason
	}
	for _, s := range known {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// opErr attaches operation context unless err already carries it.
func opErr(op, resource string, err error) error {
	if err == nil {
		return nil
	}
	var oe *common.OpError
	if errors.As(err, &oe) {
		return err
	}
	return common.NewOpError(op, resource, "", err)
}

func invalid(op, resource, reason string) error {
	return common.NewOpError(op, resource, reason, common.ErrInvalidInput)
}

// checkName rejects empty names and the path separator.
func checkName(what, s string) error {
	switch {
	case strings.TrimSpace(s) == "":
		return fmt.Errorf("%s must not be empty", what)
	case strings.Contains(s, "/"):
		return fmt.Errorf("%s must not contain '/'", what)
	case len(s) > 256:
		return fmt.Errorf("%s is too long", what)
	}
	return nil
}

func namespaceOrDefault(ns string) string {
	if ns == "" {
		return common.DefaultNamespace
	}
	return ns
}

// storageErr classifies an unexpected store failure as common.ErrStorage.
func storageErr(err error) error {
	if err == nil || isKnown(err) {
		return err
	}
	return fmt.Errorf("%w: %v", common.ErrStorage, err)
}
