// Package remotetest holds the behavioural contract every remote.Backend
// must satisfy.
package remotetest

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/remote"
	"github.com/dmitrijs2005/gophvault/internal/vclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Rec builds a wire record with the given clock.
func Rec(ns, key string, version int64, clock vclock.Clock, body string) remote.Record {
	ts := time.Date(2026, 1, 1, 0, 0, int(version), 0, time.UTC)
	return remote.Record{
		Namespace:  ns,
		Key:        key,
		Version:    version,
		Clock:      clock,
		Algorithm:  cryptox.AES256GCM,
		Ciphertext: []byte(body),
		Nonce:      []byte("nonce-123456"),
		CreatedAt:  ts,
		UpdatedAt:  ts,
		CreatedBy:  "alice@acme.com",
		UpdatedBy:  "alice@acme.com",
		Tags:       []string{"t"},
		MAC:        []byte("mac"),
	}
}

// Run exercises b against the backend contract. newBackend must return a
// fresh, empty backend.
func Run(t *testing.T, newBackend func(t *testing.T) remote.Backend) {
	ctx := context.Background()

	t.Run("push then pull returns records in sequence", func(t *testing.T) {
		b := newBackend(t)
		res, err := b.Push(ctx, "acme", []remote.Record{
			Rec("dev", "a", 1, vclock.Clock{"d1": 1}, "A"),
			Rec("dev", "b", 1, vclock.Clock{"d1": 2}, "B"),
		})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Accepted)

		batch, err := b.Pull(ctx, "acme", "", 10)
		require.NoError(t, err)
		require.Len(t, batch.Records, 2)
		assert.Equal(t, "a", batch.Records[0].Key)
		assert.Equal(t, "b", batch.Records[1].Key)
		assert.Less(t, batch.Records[0].Seq, batch.Records[1].Seq)
		assert.Equal(t, []byte("A"), batch.Records[0].Ciphertext)
		assert.Equal(t, vclock.Clock{"d1": 1}, batch.Records[0].Clock)
		assert.Equal(t, []byte("mac"), batch.Records[0].MAC)
		assert.False(t, batch.More)

		again, err := b.Pull(ctx, "acme", batch.Cursor, 10)
		require.NoError(t, err)
		assert.Empty(t, again.Records)
		assert.Equal(t, batch.Cursor, again.Cursor)
	})

	t.Run("dominated and equal clocks are skipped", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.Push(ctx, "acme", []remote.Record{Rec("dev", "a", 2, vclock.Clock{"d1": 2}, "new")})
		require.NoError(t, err)

		res, err := b.Push(ctx, "acme", []remote.Record{
			Rec("dev", "a", 1, vclock.Clock{"d1": 1}, "old"),
			Rec("dev", "a", 2, vclock.Clock{"d1": 2}, "new"),
		})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Accepted)
		assert.Equal(t, []string{"dev/a", "dev/a"}, res.Skipped)

		batch, err := b.Pull(ctx, "acme", "", 10)
		require.NoError(t, err)
		require.Len(t, batch.Records, 1)
		assert.Equal(t, []byte("new"), batch.Records[0].Ciphertext)
	})

	t.Run("newer and concurrent clocks replace and move to the end", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.Push(ctx, "acme", []remote.Record{
			Rec("dev", "a", 1, vclock.Clock{"d1": 1}, "a1"),
			Rec("dev", "b", 1, vclock.Clock{"d1": 2}, "b1"),
		})
		require.NoError(t, err)
		first, err := b.Pull(ctx, "acme", "", 10)
		require.NoError(t, err)

		res, err := b.Push(ctx, "acme", []remote.Record{Rec("dev", "a", 2, vclock.Clock{"d2": 1}, "a-concurrent")})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Accepted)

		next, err := b.Pull(ctx, "acme", first.Cursor, 10)
		require.NoError(t, err)
		require.Len(t, next.Records, 1)
		assert.Equal(t, []byte("a-concurrent"), next.Records[0].Ciphertext)

		all, err := b.Pull(ctx, "acme", "", 10)
		require.NoError(t, err)
		require.Len(t, all.Records, 2, "only the newest record per key is kept")
		assert.Equal(t, "b", all.Records[0].Key)
		assert.Equal(t, "a", all.Records[1].Key)
	})

	t.Run("pull pages by limit", func(t *testing.T) {
		b := newBackend(t)
		var recs []remote.Record
		for i, k := range []string{"a", "b", "c", "d", "e"} {
			recs = append(recs, Rec("dev", k, 1, vclock.Clock{"d1": uint64(i + 1)}, k))
		}
		_, err := b.Push(ctx, "acme", recs)
		require.NoError(t, err)

		var keys []string
		cursor := ""
		for range 10 {
			batch, err := b.Pull(ctx, "acme", cursor, 2)
			require.NoError(t, err)
			for _, r := range batch.Records {
				keys = append(keys, r.Key)
			}
			cursor = batch.Cursor
			if !batch.More {
				break
			}
		}
		assert.Equal(t, []string{"a", "b", "c", "d", "e"}, keys)
	})

	t.Run("tenants are isolated", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.Push(ctx, "acme", []remote.Record{Rec("dev", "a", 1, vclock.Clock{"d1": 1}, "acme")})
		require.NoError(t, err)

		batch, err := b.Pull(ctx, "globex", "", 10)
		require.NoError(t, err)
		assert.Empty(t, batch.Records)
	})

	t.Run("tombstones round trip", func(t *testing.T) {
		b := newBackend(t)
		r := Rec("dev", "a", 2, vclock.Clock{"d1": 2}, "")
		r.Ciphertext, r.Nonce, r.Deleted = []byte{}, []byte{}, true
		_, err := b.Push(ctx, "acme", []remote.Record{r})
		require.NoError(t, err)

		batch, err := b.Pull(ctx, "acme", "", 10)
		require.NoError(t, err)
		require.Len(t, batch.Records, 1)
		assert.True(t, batch.Records[0].Deleted)
	})

	t.Run("bad cursor is rejected", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.Pull(ctx, "acme", "not-a-number", 10)
		require.Error(t, err)
	})
}
