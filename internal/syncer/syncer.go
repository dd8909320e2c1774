// Package syncer exchanges encrypted records with a remote backend and
// merges remote state back into the local store.
//
// A sync round pulls first, so concurrent edits are detected and settled on
// this device, then pushes everything still pending, including the merged
// results. Every pulled record is authenticated with an HMAC under a subkey
// of the tenant data key before anything is written; merges commit one
// record per transaction, and the cursor moves only after a whole page has
// committed, so an interrupted round can be replayed from the old cursor.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/access"
	"github.com/dmitrijs2005/gophvault/internal/audit"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/dmitrijs2005/gophvault/internal/remote"
	"github.com/dmitrijs2005/gophvault/internal/repositories/metadata"
	"github.com/dmitrijs2005/gophvault/internal/services"
	"github.com/dmitrijs2005/gophvault/internal/store"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 200 * time.Millisecond
)

type Options struct {
	Strategy Strategy
	// MaxAttempts bounds tries per backend call on common.ErrSync.
	MaxAttempts int
	// BaseDelay is the first backoff delay; it doubles per attempt.
	BaseDelay time.Duration
	// PageSize bounds records per push and pull call.
	PageSize int
	// ConflictRetries bounds re-reads when a local write races a merge.
	ConflictRetries int
	Now             func() time.Time
}

// Result summarizes one push, pull or full round.
type Result struct {
	Pushed    int
	Skipped   int
	Pulled    int
	Applied   int
	Conflicts []ConflictInfo
	Cursor    string
	Duration  time.Duration
}

type Status struct {
	LastSync   time.Time
	LastResult *Result
	LastError  string
	Pending    int
	Cursor     string
	// Conflicts counts retained conflict losers not yet resolved.
	Conflicts int
}

type Engine struct {
	vault   *services.Vault
	store   *store.Store
	audit   *audit.Log
	backend remote.Backend
	opts    Options
	logger  logging.Logger

	// running allows one round at a time.
	running sync.Mutex

	mu         sync.Mutex
	lastResult *Result
	lastErr    error
}

func New(v *services.Vault, s *store.Store, al *audit.Log, b remote.Backend, opts Options, l logging.Logger) *Engine {
	if opts.Strategy == "" {
		opts.Strategy = LastWriteWins
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	opts.PageSize = remote.Limit(opts.PageSize)
	if opts.ConflictRetries <= 0 {
		opts.ConflictRetries = 3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		vault:   v,
		store:   s,
		audit:   al,
		backend: b,
		opts:    opts,
		logger:  l.With("module", "syncer"),
	}
}

func (e *Engine) now() time.Time { return e.opts.Now().UTC() }

// Sync runs a full round: pull and merge, then push.
func (e *Engine) Sync(ctx context.Context, token string) (*Result, error) {
	return e.round(ctx, token, true, true, false)
}

// Push sends pending records, or every record when force is set.
func (e *Engine) Push(ctx context.Context, token string, force bool) (*Result, error) {
	return e.round(ctx, token, false, true, force)
}

// Pull merges remote records past the cursor, or from the start when force
// is set.
func (e *Engine) Pull(ctx context.Context, token string, force bool) (*Result, error) {
	return e.round(ctx, token, true, false, force)
}

func (e *Engine) round(ctx context.Context, token string, pull, push, force bool) (*Result, error) {
	event := models.EventSyncPush
	if pull {
		event = models.EventSyncPull
	}
	p, err := e.vault.Authorize(ctx, token, access.Sync, event, access.Resource{})
	if err != nil {
		return nil, common.NewOpError("sync", "", "", err)
	}

	e.running.Lock()
	defer e.running.Unlock()

	key, err := e.macKey(token)
	if err != nil {
		return nil, common.NewOpError("sync", p.TenantID, "", err)
	}
	defer key.Destroy()

	start := time.Now()
	res := &Result{}
	if pull {
		if err = e.pull(ctx, p, key, res, force); err != nil {
			return e.finish(ctx, p, models.EventSyncPull, res, start, err)
		}
	}
	if push {
		if err = e.push(ctx, p, key, res, force); err != nil {
			return e.finish(ctx, p, models.EventSyncPush, res, start, err)
		}
	}
	return e.finish(ctx, p, event, res, start, nil)
}

// macKey derives the record MAC key from the session's data key. The
// subkey outlives the session key copy and must be destroyed by the caller.
func (e *Engine) macKey(token string) (*cryptox.Key, error) {
	var key *cryptox.Key
	err := e.vault.Sessions().UseKey(token, func(_ access.Principal, dek *cryptox.Key) error {
		var err error
		key, err = cryptox.Subkey(dek, cryptox.InfoSyncMAC)
		return err
	})
	return key, err
}

func (e *Engine) pull(ctx context.Context, p access.Principal, key *cryptox.Key, res *Result, force bool) error {
	cursor := ""
	if !force {
		c, err := e.store.Repos().Metadata.GetString(ctx, metadata.CursorKey(p.TenantID))
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrStorage, err)
		}
		cursor = c
	}

	for {
		var batch remote.Batch
		err := e.retry(ctx, func(ctx context.Context) error {
			var err error
			batch, err = e.backend.Pull(ctx, p.TenantID, cursor, e.opts.PageSize)
			return err
		})
		if err != nil {
			return err
		}

		incoming, err := open(p.TenantID, key, batch.Records)
		if err != nil {
			e.logger.Error(ctx, "pulled batch rejected", "tenant", p.TenantID, "cursor", cursor, "error", err)
			return err
		}

		applied, conflicts := 0, 0
		for _, in := range incoming {
			if err := ctx.Err(); err != nil {
				return err
			}
			ok, c, err := e.merge(ctx, p, in)
			if err != nil {
				return fmt.Errorf("merge %s: %w", in.Path(), storageErr(err))
			}
			if ok {
				applied++
			}
			if c != nil {
				conflicts++
				res.Conflicts = append(res.Conflicts, *c)
				e.logger.Warn(ctx, "conflict settled", "resource", in.Path(), "type", c.Type, "winner", c.Winner)
			}
		}

		err = e.store.WithTx(ctx, func(ctx context.Context, r *store.Repositories) error {
			if err := r.Metadata.SetString(ctx, metadata.CursorKey(p.TenantID), batch.Cursor); err != nil {
				return err
			}
			if len(incoming) == 0 {
				return nil
			}
			detail := fmt.Sprintf("pulled %d, applied %d, conflicts %d, cursor %s",
				len(incoming), applied, conflicts, batch.Cursor)
			return e.audit.Record(ctx, r, e.audit.Entry(p.TenantID, p.Email, models.EventSyncPull,
				p.TenantID, models.OutcomeSuccess, detail))
		})
		if err != nil {
			return storageErr(err)
		}

		res.Pulled += len(incoming)
		res.Applied += applied
		res.Cursor = batch.Cursor
		cursor = batch.Cursor
		if !batch.More {
			return nil
		}
	}
}

func (e *Engine) push(ctx context.Context, p access.Principal, key *cryptox.Key, res *Result, force bool) error {
	repo := e.store.Repos().Secrets
	var (
		recs []models.SecretRecord
		err  error
	)
	if force {
		recs, err = repo.List(ctx, p.TenantID, "", true)
	} else {
		recs, err = repo.ListPending(ctx, p.TenantID)
	}
	if err != nil {
		return storageErr(err)
	}

	for chunk := range slices.Chunk(recs, e.opts.PageSize) {
		wire, err := seal(p.TenantID, key, chunk)
		if err != nil {
			return err
		}

		var pr remote.PushResult
		err = e.retry(ctx, func(ctx context.Context) error {
			var err error
			pr, err = e.backend.Push(ctx, p.TenantID, wire)
			return err
		})
		if err != nil {
			return err
		}

		err = e.store.WithTx(ctx, func(ctx context.Context, r *store.Repositories) error {
			for i := range chunk {
				if _, err := r.Secrets.ClearPending(ctx, p.TenantID, chunk[i].Namespace, chunk[i].Key, chunk[i].Version); err != nil {
					return err
				}
			}
			detail := fmt.Sprintf("pushed %d, accepted %d, skipped %d", len(chunk), pr.Accepted, len(pr.Skipped))
			return e.audit.Record(ctx, r, e.audit.Entry(p.TenantID, p.Email, models.EventSyncPush,
				p.TenantID, models.OutcomeSuccess, detail))
		})
		if err != nil {
			return storageErr(err)
		}

		res.Pushed += pr.Accepted
		res.Skipped += len(pr.Skipped)
	}
	return nil
}

func (e *Engine) finish(ctx context.Context, p access.Principal, event string, res *Result, start time.Time, err error) (*Result, error) {
	res.Duration = time.Since(start)

	e.mu.Lock()
	e.lastResult, e.lastErr = res, err
	e.mu.Unlock()

	if err != nil {
		entry := e.audit.Entry(p.TenantID, p.Email, event, p.TenantID, models.OutcomeError, err.Error())
		if aerr := e.audit.RecordStandalone(ctx, entry); aerr != nil {
			e.logger.Error(ctx, "audit append failed", "error", aerr)
		}
		e.logger.Error(ctx, "sync failed", "tenant", p.TenantID, "error", err)
		return res, common.NewOpError("sync", p.TenantID, "", err)
	}

	if err := e.store.Repos().Metadata.SetString(ctx, metadata.LastSyncKey(p.TenantID), e.now().Format(time.RFC3339Nano)); err != nil {
		e.logger.Warn(ctx, "last sync time not saved", "error", err)
	}
	e.logger.Info(ctx, "sync finished", "tenant", p.TenantID, "pushed", res.Pushed, "pulled", res.Pulled,
		"conflicts", len(res.Conflicts), "duration", res.Duration)
	return res, nil
}

// Status reports the last round and the local pending count.
func (e *Engine) Status(ctx context.Context, token string) (Status, error) {
	p, err := e.vault.Authorize(ctx, token, access.SecretRead, models.EventSyncPull, access.Resource{})
	if err != nil {
		return Status{}, common.NewOpError("sync status", "", "", err)
	}

	repos := e.store.Repos()
	pending, err := repos.Secrets.ListPending(ctx, p.TenantID)
	if err != nil {
		return Status{}, storageErr(err)
	}
	cursor, err := repos.Metadata.GetString(ctx, metadata.CursorKey(p.TenantID))
	if err != nil {
		return Status{}, storageErr(err)
	}
	last, err := repos.Metadata.GetString(ctx, metadata.LastSyncKey(p.TenantID))
	if err != nil {
		return Status{}, storageErr(err)
	}

	open, err := repos.Secrets.ListConflicts(ctx, p.TenantID)
	if err != nil {
		return Status{}, storageErr(err)
	}

	st := Status{Pending: len(pending), Cursor: cursor, Conflicts: len(open)}
	if last != "" {
		st.LastSync, _ = time.Parse(time.RFC3339Nano, last)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	st.LastResult = e.lastResult
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	return st, nil
}

// Conflicts lists the unresolved conflicts whose losing value is retained
// in history, oldest first. They survive restarts.
func (e *Engine) Conflicts(ctx context.Context, token string) ([]ConflictInfo, error) {
	p, err := e.vault.Authorize(ctx, token, access.SecretRead, models.EventSyncConflict, access.Resource{})
	if err != nil {
		return nil, common.NewOpError("sync conflicts", "", "", err)
	}
	rows, err := e.store.Repos().Secrets.ListConflicts(ctx, p.TenantID)
	if err != nil {
		return nil, common.NewOpError("sync conflicts", p.TenantID, "", storageErr(err))
	}
	out := make([]ConflictInfo, 0, len(rows))
	for _, v := range rows {
		out = append(out, conflictInfo(v))
	}
	return out, nil
}

func conflictInfo(v models.SecretVersion) ConflictInfo {
	c := ConflictInfo{
		Namespace:    v.Record.Namespace,
		Key:          v.Record.Key,
		LoserVersion: v.Record.Version,
		DetectedAt:   v.ArchivedAt,
	}
	if v.Conflict != nil {
		c.Type = ConflictType(v.Conflict.Type)
		c.Winner = v.Conflict.Winner
		c.LocalVersion = v.Conflict.LocalVersion
		c.RemoteVersion = v.Conflict.RemoteVersion
	}
	return c
}

// Resolve settles the open conflicts on a key. Naming the current version
// accepts the automatic choice; any other version is restored from history
// as a new mutation that syncs like any other write.
func (e *Engine) Resolve(ctx context.Context, token, namespace, key string, version int64) (*models.SecretRecord, error) {
	const op = "resolve"
	if namespace == "" {
		namespace = common.DefaultNamespace
	}
	p, err := e.vault.Authorize(ctx, token, access.SecretUpdate, models.EventSyncConflict, access.Resource{Namespace: namespace, Key: key})
	if err != nil {
		return nil, common.NewOpError(op, "", "", err)
	}
	path := models.RecordPath(p.TenantID, namespace, key)

	cur, err := e.store.Repos().Secrets.Get(ctx, p.TenantID, namespace, key)
	if err != nil {
		return nil, common.NewOpError(op, path, "", storageErr(err))
	}
	if cur.Version != version {
		return e.vault.RestoreVersion(ctx, token, namespace, key, version)
	}

	err = e.store.WithTx(ctx, func(ctx context.Context, r *store.Repositories) error {
		n, err := r.Secrets.ResolveConflicts(ctx, p.TenantID, namespace, key)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("no open conflicts on %s: %w", path, common.ErrNotFound)
		}
		return e.audit.Record(ctx, r, e.audit.Entry(p.TenantID, p.Email, models.EventSyncConflict,
			path, models.OutcomeSuccess, fmt.Sprintf("kept v%d, %d resolved", version, n)))
	})
	if err != nil {
		return nil, common.NewOpError(op, path, "", storageErr(err))
	}
	return cur, nil
}

func storageErr(err error) error {
	if err == nil || common.IsAny(err, common.ErrStorage, common.ErrNotFound, common.ErrVersionConflict, context.Canceled, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", common.ErrStorage, err)
}

var errNoBackend = errors.New("no sync backend configured")
