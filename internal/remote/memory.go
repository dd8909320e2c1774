package remote

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dmitrijs2005/gophvault/internal/common"
)

type memTenant struct {
	seq  int64
	byID map[string]Record
}

// Memory is a process-local backend. It backs tests and lets cloud mode
// "none" run the same sync path against a loopback.
type Memory struct {
	mu      sync.Mutex
	tenants map[string]*memTenant
	closed  bool

	// FailNext makes the next n calls fail with common.ErrSync.
	failNext int
}

func NewMemory() *Memory {
	return &Memory{tenants: make(map[string]*memTenant)}
}

// FailNext injects n transient failures.
func (m *Memory) FailNext(n int) {
	m.mu.Lock()
	m.failNext = n
	m.mu.Unlock()
}

func (m *Memory) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.closed {
		return fmt.Errorf("%w: backend closed", common.ErrSync)
	}
	if m.failNext > 0 {
		m.failNext--
		return fmt.Errorf("%w: injected failure", common.ErrSync)
	}
	return nil
}

func (m *Memory) tenant(id string) *memTenant {
	t, ok := m.tenants[id]
	if !ok {
		t = &memTenant{byID: make(map[string]Record)}
		m.tenants[id] = t
	}
	return t
}

func (m *Memory) Push(ctx context.Context, tenantID string, recs []Record) (PushResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return PushResult{}, err
	}

	t := m.tenant(tenantID)
	var res PushResult
	for _, r := range recs {
		id := r.ID()
		var stored *Record
		if cur, ok := t.byID[id]; ok {
			stored = &cur
		}
		if !Supersedes(stored, &r) {
			res.Skipped = append(res.Skipped, id)
			continue
		}
		t.seq++
		r.Seq = t.seq
		r.Clock = r.Clock.Copy()
		t.byID[id] = r
		res.Accepted++
	}
	return res, nil
}

func (m *Memory) Pull(ctx context.Context, tenantID, cursor string, limit int) (Batch, error) {
	after, err := ParseCursor(cursor)
	if err != nil {
		return Batch{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return Batch{}, err
	}

	t := m.tenant(tenantID)
	var out []Record
	for _, r := range t.byID {
		if r.Seq > after {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b Record) int { return cmp.Compare(a.Seq, b.Seq) })
	return Page(out, after, Limit(limit)), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Page cuts seq-ordered records to limit and computes the next cursor.
func Page(sorted []Record, after int64, limit int) Batch {
	b := Batch{Cursor: FormatCursor(after)}
	if len(sorted) > limit {
		sorted, b.More = sorted[:limit], true
	}
	if len(sorted) > 0 {
		b.Cursor = FormatCursor(sorted[len(sorted)-1].Seq)
	}
	b.Records = sorted
	return b
}
