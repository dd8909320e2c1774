package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophvault/internal/access"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/dmitrijs2005/gophvault/internal/store"
	"github.com/dmitrijs2005/gophvault/internal/vclock"
)

// PutRequest creates or replaces one secret value.
type PutRequest struct {
	Namespace string
	Key       string
	Value     []byte
	Tags      []string
	// AccessPassword, when set, must be presented to read the value.
	// Leaving it empty keeps any existing password.
	AccessPassword []byte
}

// hashAccessPassword is replaced in tests.
var hashAccessPassword = cryptox.HashAccessPassword

// Put encrypts req.Value and stores it as a new version. A concurrent
// writer that commits first causes a version conflict, which is retried
// with a fresh read a bounded number of times. Create and update share one
// role set, so the caller is authorized before anything is hashed or read.
func (v *Vault) Put(ctx context.Context, token string, req PutRequest) (*models.SecretRecord, error) {
	const op = "put"
	ns := namespaceOrDefault(req.Namespace)
	res := access.Resource{Namespace: ns, Key: req.Key}
	p, err := v.Authorize(ctx, token, access.SecretCreate, models.EventSecretCreated, res)
	if err != nil {
		return nil, opErr(op, "", err)
	}
	res.TenantID = p.TenantID
	if err := checkName("namespace", ns); err != nil {
		return nil, invalid(op, res.String(), err.Error())
	}
	if err := checkName("key", req.Key); err != nil {
		return nil, invalid(op, res.String(), err.Error())
	}

	event := models.EventSecretCreated
	var accessHash string
	if len(req.AccessPassword) > 0 {
		if accessHash, err = hashAccessPassword(req.AccessPassword); err != nil {
			v.fail(ctx, p, event, res.String(), err)
			return nil, opErr(op, res.String(), err)
		}
	}

	var rec *models.SecretRecord
	err = v.retryConflicts(ctx, res, func() error {
		rec, event, err = v.putOnce(ctx, token, p, res, req, accessHash)
		return err
	})
	if err != nil {
		v.fail(ctx, p, event, res.String(), err)
		return nil, opErr(op, res.String(), err)
	}
	v.logger.Debug(ctx, "secret stored", "resource", res.String(), "version", rec.Version)
	return rec, nil
}

// putOnce writes one attempt and reports the audit event it used.
func (v *Vault) putOnce(ctx context.Context, token string, p access.Principal, res access.Resource, req PutRequest, accessHash string) (*models.SecretRecord, string, error) {
	event := models.EventSecretCreated
	existing, err := v.current(ctx, res)
	if err != nil {
		return nil, event, err
	}
	live := existing != nil && !existing.Deleted
	if live {
		event = models.EventSecretUpdated
	}

	now := v.now()
	rec := &models.SecretRecord{
		TenantID:   res.TenantID,
		Namespace:  res.Namespace,
		Key:        res.Key,
		Algorithm:  v.opts.Algorithm,
		CreatedAt:  now,
		UpdatedAt:  now,
		CreatedBy:  p.Email,
		UpdatedBy:  p.Email,
		Tags:       models.NormalizeTags(req.Tags),
		AccessHash: accessHash,
		Pending:    true,
	}
	if existing == nil {
		rec.Version = 1
		rec.Clock = vclock.Clock{}.Increment(v.opts.DeviceID)
	} else {
		rec.Version = existing.Version + 1
		rec.Clock = existing.Clock.Increment(v.opts.DeviceID)
		if live {
			rec.CreatedAt, rec.CreatedBy = existing.CreatedAt, existing.CreatedBy
			if accessHash == "" {
				rec.AccessHash = existing.AccessHash
			}
		}
	}

	err = v.sessions.UseKey(token, func(_ access.Principal, dek *cryptox.Key) error {
		sealed, err := cryptox.EncryptWithAD(req.Value, []byte(rec.Path()), dek, rec.Algorithm)
		if err != nil {
			return err
		}
		rec.Ciphertext, rec.Nonce = sealed.Ciphertext, sealed.Nonce
		return nil
	})
	if err != nil {
		return nil, event, err
	}

	err = v.store.WithTx(ctx, func(ctx context.Context, r *store.Repositories) error {
		if err := r.Secrets.EnsureNamespace(ctx, res.TenantID, res.Namespace, now); err != nil {
			return err
		}
		if existing == nil {
			if err := r.Secrets.Insert(ctx, rec); err != nil {
				return err
			}
		} else {
			if err := r.Secrets.Update(ctx, rec, existing.Version); err != nil {
				return err
			}
			if err := r.Archive(ctx, existing, models.ReasonUpdate, now); err != nil {
				return err
			}
		}
		return v.audit.Record(ctx, r, v.success(p, event, res.String(), fmt.Sprintf("version %d", rec.Version)))
	})
	if err != nil {
		return nil, event, storageErr(err)
	}
	return rec, event, nil
}

// Get decrypts the current value. The caller owns the returned plaintext
// and should zeroize it after use.
func (v *Vault) Get(ctx context.Context, token, namespace, key string, accessPassword []byte) ([]byte, *models.SecretRecord, error) {
	const op = "get"
	ns := namespaceOrDefault(namespace)
	p, err := v.Authorize(ctx, token, access.SecretRead, models.EventSecretRead, access.Resource{Namespace: ns, Key: key})
	if err != nil {
		return nil, nil, opErr(op, "", err)
	}
	res := access.Resource{TenantID: p.TenantID, Namespace: ns, Key: key}

	rec, err := v.current(ctx, res)
	if err == nil && (rec == nil || rec.Deleted) {
		err = common.ErrNotFound
	}
	if err != nil {
		v.fail(ctx, p, models.EventSecretRead, res.String(), err)
		return nil, nil, opErr(op, res.String(), err)
	}

	plaintext, err := v.open(ctx, token, p, rec, accessPassword, "")
	if err != nil {
		return nil, nil, opErr(op, res.String(), err)
	}
	return plaintext, rec, nil
}

// open checks the access password, decrypts rec and audits the outcome.
func (v *Vault) open(ctx context.Context, token string, p access.Principal, rec *models.SecretRecord, accessPassword []byte, detail string) ([]byte, error) {
	resource := rec.Path()
	if rec.AccessHash != "" && !cryptox.VerifyAccessPassword(accessPassword, rec.AccessHash) {
		v.deny(ctx, p, models.EventSecretRead, resource, "access password mismatch")
		return nil, common.NewOpError("get", resource, "access password mismatch", common.ErrAuthentication)
	}

	var plaintext []byte
	err := v.sessions.UseKey(token, func(_ access.Principal, dek *cryptox.Key) error {
		pt, err := cryptox.DecryptWithAD(rec.Sealed(), []byte(resource), dek)
		if err != nil {
			return err
		}
		plaintext = pt
		return nil
	})
	if errors.Is(err, common.ErrDecryption) {
		v.deny(ctx, p, models.EventSecretRead, resource, "decryption failed")
		return nil, err
	}
	if err != nil {
		v.fail(ctx, p, models.EventSecretRead, resource, err)
		return nil, err
	}
	v.succeed(ctx, p, models.EventSecretRead, resource, detail)
	return plaintext, nil
}

// Delete replaces the record with a tombstone so the deletion syncs.
func (v *Vault) Delete(ctx context.Context, token, namespace, key string) error {
	const op = "delete"
	ns := namespaceOrDefault(namespace)
	p, err := v.Authorize(ctx, token, access.SecretDelete, models.EventSecretDeleted, access.Resource{Namespace: ns, Key: key})
	if err != nil {
		return opErr(op, "", err)
	}
	res := access.Resource{TenantID: p.TenantID, Namespace: ns, Key: key}

	err = v.retryConflicts(ctx, res, func() error {
		existing, err := v.current(ctx, res)
		if err == nil && (existing == nil || existing.Deleted) {
			err = common.ErrNotFound
		}
		if err != nil {
			return err
		}

		now := v.now()
		tomb := *existing
		tomb.Ciphertext, tomb.Nonce = []byte{}, []byte{}
		tomb.AccessHash = ""
		tomb.Deleted = true
		tomb.Pending = true
		tomb.Version = existing.Version + 1
		tomb.Clock = existing.Clock.Increment(v.opts.DeviceID)
		tomb.UpdatedAt, tomb.UpdatedBy = now, p.Email

		return storageErr(v.store.WithTx(ctx, func(ctx context.Context, r *store.Repositories) error {
			if err := r.Secrets.Update(ctx, &tomb, existing.Version); err != nil {
				return err
			}
			if err := r.Archive(ctx, existing, models.ReasonDelete, now); err != nil {
				return err
			}
			return v.audit.Record(ctx, r, v.success(p, models.EventSecretDeleted, res.String(), fmt.Sprintf("version %d", tomb.Version)))
		}))
	})
	if err != nil {
		v.fail(ctx, p, models.EventSecretDeleted, res.String(), err)
		return opErr(op, res.String(), err)
	}
	return nil
}

// List returns live records in namespace ("" for all) carrying every tag
// in tags, sorted by namespace then key.
func (v *Vault) List(ctx context.Context, token, namespace string, tags []string) ([]models.SecretRecord, error) {
	return v.filter(ctx, token, "list", namespace, func(r *models.SecretRecord) bool {
		return r.HasTags(models.NormalizeTags(tags))
	})
}

// Search matches query case-insensitively against keys and tags.
func (v *Vault) Search(ctx context.Context, token, query, namespace string) ([]models.SecretRecord, error) {
	return v.filter(ctx, token, "search", namespace, func(r *models.SecretRecord) bool {
		return r.Matches(query)
	})
}

func (v *Vault) filter(ctx context.Context, token, op, namespace string, keep func(*models.SecretRecord) bool) ([]models.SecretRecord, error) {
	p, err := v.Authorize(ctx, token, access.SecretRead, models.EventSecretList, access.Resource{Namespace: namespace})
	if err != nil {
		return nil, opErr(op, "", err)
	}
	res := access.Resource{TenantID: p.TenantID, Namespace: namespace}

	recs, err := v.store.Repos().Secrets.List(ctx, p.TenantID, namespace, false)
	if err != nil {
		v.fail(ctx, p, models.EventSecretList, res.String(), err)
		return nil, opErr(op, res.String(), storageErr(err))
	}
	out := recs[:0]
	for i := range recs {
		if keep(&recs[i]) {
			out = append(out, recs[i])
		}
	}
	v.succeed(ctx, p, models.EventSecretList, res.String(), fmt.Sprintf("%s: %d results", op, len(out)))
	return out, nil
}

// Versions lists the retained prior versions of a secret, newest first.
func (v *Vault) Versions(ctx context.Context, token, namespace, key string) ([]models.SecretVersion, error) {
	const op = "versions"
	ns := namespaceOrDefault(namespace)
	p, err := v.Authorize(ctx, token, access.SecretRead, models.EventSecretList, access.Resource{Namespace: ns, Key: key})
	if err != nil {
		return nil, opErr(op, "", err)
	}
	res := access.Resource{TenantID: p.TenantID, Namespace: ns, Key: key}

	vs, err := v.store.Repos().Secrets.ListVersions(ctx, p.TenantID, ns, key)
	if err != nil {
		v.fail(ctx, p, models.EventSecretList, res.String(), err)
		return nil, opErr(op, res.String(), storageErr(err))
	}
	v.succeed(ctx, p, models.EventSecretList, res.String(), fmt.Sprintf("history: %d versions", len(vs)))
	return vs, nil
}

// ReadVersion decrypts a retained prior version.
func (v *Vault) ReadVersion(ctx context.Context, token, namespace, key string, version int64, accessPassword []byte) ([]byte, error) {
	const op = "read-version"
	ns := namespaceOrDefault(namespace)
	p, err := v.Authorize(ctx, token, access.SecretRead, models.EventSecretRead, access.Resource{Namespace: ns, Key: key})
	if err != nil {
		return nil, opErr(op, "", err)
	}
	res := access.Resource{TenantID: p.TenantID, Namespace: ns, Key: key}

	old, err := v.store.Repos().Secrets.GetVersion(ctx, p.TenantID, ns, key, version)
	if err == nil && old.Record.Deleted {
		err = common.ErrNotFound
	}
	if err != nil {
		v.fail(ctx, p, models.EventSecretRead, res.String(), err)
		return nil, opErr(op, res.String(), storageErr(err))
	}
	pt, err := v.open(ctx, token, p, &old.Record, accessPassword, fmt.Sprintf("version %d", version))
	return pt, opErr(op, res.String(), err)
}

// RestoreVersion makes a retained version current again as a new mutation,
// so the restore itself syncs and can be undone.
func (v *Vault) RestoreVersion(ctx context.Context, token, namespace, key string, version int64) (*models.SecretRecord, error) {
	const op = "restore"
	ns := namespaceOrDefault(namespace)
	p, err := v.Authorize(ctx, token, access.SecretUpdate, models.EventSecretRestore, access.Resource{Namespace: ns, Key: key})
	if err != nil {
		return nil, opErr(op, "", err)
	}
	res := access.Resource{TenantID: p.TenantID, Namespace: ns, Key: key}

	var rec *models.SecretRecord
	err = v.retryConflicts(ctx, res, func() error {
		cur, err := v.current(ctx, res)
		if err == nil && cur == nil {
			err = common.ErrNotFound
		}
		if err != nil {
			return err
		}
		old, err := v.store.Repos().Secrets.GetVersion(ctx, p.TenantID, ns, key, version)
		if err != nil {
			return err
		}
		if old.Record.Deleted {
			return invalid(op, res.String(), "cannot restore a deletion")
		}

		now := v.now()
		next := old.Record
		next.Version = cur.Version + 1
		next.Clock = cur.Clock.Increment(v.opts.DeviceID)
		next.UpdatedAt, next.UpdatedBy = now, p.Email
		next.Deleted = false
		next.Pending = true
		if !cur.Deleted {
			next.CreatedAt, next.CreatedBy = cur.CreatedAt, cur.CreatedBy
		}

		err = v.store.WithTx(ctx, func(ctx context.Context, r *store.Repositories) error {
			if err := r.Secrets.Update(ctx, &next, cur.Version); err != nil {
				return err
			}
			if err := r.Archive(ctx, cur, models.ReasonRestore, now); err != nil {
				return err
			}
			if _, err := r.Secrets.ResolveConflicts(ctx, p.TenantID, ns, key); err != nil {
				return err
			}
			return v.audit.Record(ctx, r, v.success(p, models.EventSecretRestore, res.String(),
				fmt.Sprintf("version %d restored as %d", version, next.Version)))
		})
		if err != nil {
			return storageErr(err)
		}
		rec = &next
		return nil
	})
	if err != nil {
		if !errors.Is(err, common.ErrInvalidInput) {
			v.fail(ctx, p, models.EventSecretRestore, res.String(), err)
		}
		return nil, opErr(op, res.String(), err)
	}
	return rec, nil
}

// current reads the stored record, tombstones included; nil if absent.
func (v *Vault) current(ctx context.Context, res access.Resource) (*models.SecretRecord, error) {
	rec, err := v.store.Repos().Secrets.Get(ctx, res.TenantID, res.Namespace, res.Key)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return rec, nil
}

// retryConflicts reruns fn while it fails with a version conflict, up to
// the configured number of retries.
func (v *Vault) retryConflicts(ctx context.Context, res access.Resource, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if !errors.Is(err, common.ErrVersionConflict) || attempt >= v.opts.ConflictRetries {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		v.conflictRetries.Add(1)
		v.logger.Debug(ctx, "version conflict, retrying", "resource", res.String(), "attempt", attempt+1)
	}
}
