// Package boltremote is a remote.Backend kept in a single bbolt file. Each
// tenant has a bucket holding the newest record per id and an index from
// sequence number to id, so a pull is a cursor seek.
package boltremote

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/filex"
	"github.com/dmitrijs2005/gophvault/internal/remote"
	"go.etcd.io/bbolt"
)

var (
	recordsBucket = []byte("records")
	seqBucket     = []byte("seq")
)

type Backend struct {
	db *bbolt.DB
}

// Open opens or creates the bbolt file at path.
func Open(path string) (*Backend, error) {
	abs, err := filex.EnsureParentDir(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrSync, err)
	}
	db, err := bbolt.Open(abs, 0600, &bbolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", common.ErrSync, abs, err)
	}
	return &Backend{db: db}, nil
}

func tenantBucket(id string) []byte { return []byte("tenant:" + id) }

func seqKey(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func (b *Backend) Push(ctx context.Context, tenantID string, recs []remote.Record) (remote.PushResult, error) {
	if err := ctx.Err(); err != nil {
		return remote.PushResult{}, err
	}
	var res remote.PushResult
	err := b.db.Update(func(tx *bbolt.Tx) error {
		tb, err := tx.CreateBucketIfNotExists(tenantBucket(tenantID))
		if err != nil {
			return err
		}
		records, err := tb.CreateBucketIfNotExists(recordsBucket)
		if err != nil {
			return err
		}
		index, err := tb.CreateBucketIfNotExists(seqBucket)
		if err != nil {
			return err
		}

		for _, r := range recs {
			id := []byte(r.ID())
			var stored *remote.Record
			if raw := records.Get(id); raw != nil {
				stored = &remote.Record{}
				if err := json.Unmarshal(raw, stored); err != nil {
					return fmt.Errorf("%w: stored %s: %v", common.ErrSyncCorruption, id, err)
				}
			}
			if !remote.Supersedes(stored, &r) {
				res.Skipped = append(res.Skipped, r.ID())
				continue
			}

			seq, err := tb.NextSequence()
			if err != nil {
				return err
			}
			if stored != nil {
				if err := index.Delete(seqKey(uint64(stored.Seq))); err != nil {
					return err
				}
			}
			r.Seq = int64(seq)
			raw, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if err := records.Put(id, raw); err != nil {
				return err
			}
			if err := index.Put(seqKey(seq), id); err != nil {
				return err
			}
			res.Accepted++
		}
		return nil
	})
	if err != nil {
		return remote.PushResult{}, wrap(err)
	}
	return res, nil
}

func (b *Backend) Pull(ctx context.Context, tenantID, cursor string, limit int) (remote.Batch, error) {
	after, err := remote.ParseCursor(cursor)
	if err != nil {
		return remote.Batch{}, err
	}
	if err := ctx.Err(); err != nil {
		return remote.Batch{}, err
	}
	limit = remote.Limit(limit)

	var out []remote.Record
	err = b.db.View(func(tx *bbolt.Tx) error {
		tb := tx.Bucket(tenantBucket(tenantID))
		if tb == nil {
			return nil
		}
		records, index := tb.Bucket(recordsBucket), tb.Bucket(seqBucket)
		c := index.Cursor()
		// read one extra row to learn whether more remain
		for k, id := c.Seek(seqKey(uint64(after) + 1)); k != nil && len(out) <= limit; k, id = c.Next() {
			var r remote.Record
			if err := json.Unmarshal(records.Get(id), &r); err != nil {
				return fmt.Errorf("%w: record %s: %v", common.ErrSyncCorruption, id, err)
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return remote.Batch{}, wrap(err)
	}
	return remote.Page(out, after, limit), nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}

func wrap(err error) error {
	if err == nil || common.IsAny(err, common.ErrSync, common.ErrSyncCorruption) {
		return err
	}
	return fmt.Errorf("%w: %v", common.ErrSync, err)
}
