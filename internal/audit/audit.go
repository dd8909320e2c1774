// Package audit records every access-checked operation and serves the log
// back as lazy sequences: Tail for the newest entries (optionally following
// new appends until cancelled) and Search for a filtered, time-bounded scan.
package audit

import (
	"context"
	"iter"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/dmitrijs2005/gophvault/internal/repositories/auditlog"
	"github.com/dmitrijs2005/gophvault/internal/store"
	"github.com/google/uuid"
)

const (
	defaultPageSize     = 100
	defaultPollInterval = 500 * time.Millisecond
)

type Log struct {
	store        *store.Store
	logger       logging.Logger
	now          func() time.Time
	pageSize     int
	pollInterval time.Duration
}

type Option func(*Log)

// WithPollInterval sets how often a following Tail checks for new entries.
func WithPollInterval(d time.Duration) Option { return func(l *Log) { l.pollInterval = d } }

// WithPageSize bounds how many rows one query reads.
func WithPageSize(n int) Option { return func(l *Log) { l.pageSize = n } }

// WithClock overrides time.Now for entry timestamps.
func WithClock(now func() time.Time) Option { return func(l *Log) { l.now = now } }

func New(s *store.Store, l logging.Logger, opts ...Option) *Log {
	log := &Log{
		store:        s,
		logger:       l.With("module", "audit"),
		now:          time.Now,
		pageSize:     defaultPageSize,
		pollInterval: defaultPollInterval,
	}
	for _, o := range opts {
		o(log)
	}
	return log
}

// Entry builds an entry stamped with an id and the current time.
func (l *Log) Entry(tenantID, principal, action, resource string, outcome models.Outcome, detail string) models.AuditEntry {
	return models.AuditEntry{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Timestamp: l.now().UTC(),
		Principal: principal,
		Action:    action,
		Resource:  resource,
		Outcome:   outcome,
		Detail:    detail,
	}
}

// Record appends e through repos, which should be bound to the transaction
// of the operation e describes.
func (l *Log) Record(ctx context.Context, repos *store.Repositories, e models.AuditEntry) error {
	return repos.Audit.Append(ctx, &e)
}

// RecordStandalone appends e in its own transaction. It is used for
// outcomes that have no write of their own, such as denials.
func (l *Log) RecordStandalone(ctx context.Context, e models.AuditEntry) error {
	err := l.store.Repos().Audit.Append(ctx, &e)
	if err != nil {
		l.logger.Error(ctx, "audit append failed", "action", e.Action, "outcome", e.Outcome, "error", err)
	}
	return err
}

// Tail yields the newest limit entries in ascending order. With follow it
// then keeps yielding entries as they are appended until ctx is cancelled
// or the consumer stops.
func (l *Log) Tail(ctx context.Context, tenantID string, limit int, follow bool) iter.Seq2[models.AuditEntry, error] {
	return func(yield func(models.AuditEntry, error) bool) {
		entries, err := l.store.Repos().Audit.Latest(ctx, tenantID, limit)
		if err != nil {
			yield(models.AuditEntry{}, err)
			return
		}
		var last int64
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
			last = e.Seq
		}
		if !follow {
			return
		}
		if len(entries) == 0 {
			// nothing shown yet: follow from the current end of the log
			if latest, err := l.store.Repos().Audit.Latest(ctx, tenantID, 1); err == nil && len(latest) == 1 {
				last = latest[0].Seq
			}
		}
		l.follow(ctx, tenantID, last, yield)
	}
}

// TailFrom follows the log starting after seq. It restarts a Tail that was
// interrupted, given the last Seq the consumer saw.
func (l *Log) TailFrom(ctx context.Context, tenantID string, afterSeq int64) iter.Seq2[models.AuditEntry, error] {
	return func(yield func(models.AuditEntry, error) bool) {
		l.follow(ctx, tenantID, afterSeq, yield)
	}
}

func (l *Log) follow(ctx context.Context, tenantID string, last int64, yield func(models.AuditEntry, error) bool) {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		entries, err := l.store.Repos().Audit.After(ctx, tenantID, last, l.pageSize)
		if err != nil {
			if ctx.Err() == nil {
				yield(models.AuditEntry{}, err)
			}
			return
		}
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
			last = e.Seq
		}
		if len(entries) == l.pageSize {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Search yields entries matching q in ascending timestamp order, reading
// one page at a time as the consumer advances.
func (l *Log) Search(ctx context.Context, tenantID string, q Query) iter.Seq2[models.AuditEntry, error] {
	return func(yield func(models.AuditEntry, error) bool) {
		m := parseTerms(q.Text)
		var (
			cursor  auditlog.Cursor
			yielded int
		)
		for {
			if err := ctx.Err(); err != nil {
				yield(models.AuditEntry{}, err)
				return
			}
			page, err := l.store.Repos().Audit.Range(ctx, tenantID, q.Since, q.Until, cursor, l.pageSize)
			if err != nil {
				yield(models.AuditEntry{}, err)
				return
			}
			for _, e := range page {
				cursor = auditlog.Cursor{Timestamp: e.Timestamp, Seq: e.Seq}
				if !m.match(e) {
					continue
				}
				if !yield(e, nil) {
					return
				}
				yielded++
				if q.Limit > 0 && yielded >= q.Limit {
					return
				}
			}
			if len(page) < l.pageSize {
				return
			}
		}
	}
}
