package inmem

import (
	"context"
	"time"

	"github.com/signalmesh/core/execmodel"
)

type handlerRunStore struct{ db *db }

func (s handlerRunStore) Create(ctx context.Context, r execmodel.HandlerRun) (execmodel.HandlerRun, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if r.ID == "" {
		r.ID = newID()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	r.Logs = cloneStrings(r.Logs)
	s.db.handlerRuns[r.ID] = r
	return r, nil
}

func (s handlerRunStore) Load(ctx context.Context, id string) (execmodel.HandlerRun, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	r, ok := s.db.handlerRuns[id]
	if !ok {
		return execmodel.HandlerRun{}, execmodel.ErrNotFound
	}
	r.Logs = cloneStrings(r.Logs)
	return r, nil
}

func (s handlerRunStore) Update(ctx context.Context, r execmodel.HandlerRun) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.handlerRuns[r.ID]; !ok {
		return execmodel.ErrNotFound
	}
	r.Logs = cloneStrings(r.Logs)
	s.db.handlerRuns[r.ID] = r
	return nil
}

func (s handlerRunStore) ListActive(ctx context.Context) ([]execmodel.HandlerRun, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []execmodel.HandlerRun
	for _, r := range s.db.handlerRuns {
		if r.Status == execmodel.StatusActive {
			r.Logs = cloneStrings(r.Logs)
			out = append(out, r)
		}
	}
	return out, nil
}

func (s handlerRunStore) DueForRetry(ctx context.Context, nowMs int64, limit int) ([]execmodel.HandlerRun, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var due []execmodel.HandlerRun
	for _, r := range s.db.handlerRuns {
		if r.Status != execmodel.StatusPausedTransient {
			continue
		}
		if r.NextRetryAt <= 0 || r.NextRetryAt > nowMs {
			continue
		}
		r.Logs = cloneStrings(r.Logs)
		due = append(due, r)
		if limit > 0 && len(due) >= limit {
			break
		}
	}
	return due, nil
}

func (s handlerRunStore) LatestInChain(ctx context.Context, runID string) (execmodel.HandlerRun, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	cur, ok := s.db.handlerRuns[runID]
	if !ok {
		return execmodel.HandlerRun{}, execmodel.ErrNotFound
	}
	for {
		var next execmodel.HandlerRun
		found := false
		for _, r := range s.db.handlerRuns {
			if r.RetryOf == cur.ID {
				next = r
				found = true
				break
			}
		}
		if !found {
			break
		}
		cur = next
	}
	cur.Logs = cloneStrings(cur.Logs)
	return cur, nil
}
