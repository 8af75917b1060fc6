package syncfail

import (
	"context"
	"sort"
	"sync"
	"time"

	"radgate.org/internal/ids"
)

// InMemory implements Ledger for tests.
type InMemory struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

var _ Ledger = (*InMemory)(nil)

func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[string]*Entry)}
}

func (l *InMemory) Record(ctx context.Context, e *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e.ID == "" {
		e.ID = ids.New()
	}
	e.Status = StatusPending
	cp := *e
	l.entries[e.ID] = &cp
	return nil
}

func (l *InMemory) Claim(ctx context.Context, limit int, now time.Time, visibility time.Duration) ([]*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var due []*Entry
	for _, e := range l.entries {
		if (e.Status == StatusPending || e.Status == StatusRetrying) && !e.NextRetryAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRetryAt.Before(due[j].NextRetryAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]*Entry, 0, len(due))
	for _, e := range due {
		e.Status = StatusRetrying
		e.NextRetryAt = now.Add(visibility)
		e.UpdatedAt = now
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (l *InMemory) Resolve(ctx context.Context, id string, retryCount int, at time.Time) error {
	return l.transition(id, StatusResolved, retryCount, at, at)
}

func (l *InMemory) Reschedule(ctx context.Context, id string, retryCount int, next time.Time) error {
	return l.transition(id, StatusRetrying, retryCount, next, next)
}

func (l *InMemory) Fail(ctx context.Context, id string, retryCount int, at time.Time) error {
	return l.transition(id, StatusFailed, retryCount, at, at)
}

func (l *InMemory) Ignore(ctx context.Context, id string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.Status = StatusIgnored
	e.UpdatedAt = at
	return nil
}

func (l *InMemory) List(ctx context.Context, status Status, limit int) ([]*Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var res []*Entry
	for _, e := range l.entries {
		if status == "" || e.Status == status {
			cp := *e
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (l *InMemory) transition(id string, st Status, retryCount int, next, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.Status = st
	e.RetryCount = retryCount
	e.NextRetryAt = next
	e.UpdatedAt = at
	return nil
}
