package inmem

import (
	"context"
	"sort"
	"time"

	"github.com/signalmesh/core/execmodel"
)

type workflowStore struct{ db *db }

func (s workflowStore) Create(ctx context.Context, w execmodel.Workflow) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if w.ID == "" {
		w.ID = newID()
	}
	now := time.Now()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	s.db.workflows[w.ID] = w
	return nil
}

func (s workflowStore) Load(ctx context.Context, id string) (execmodel.Workflow, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	w, ok := s.db.workflows[id]
	if !ok {
		return execmodel.Workflow{}, execmodel.ErrNotFound
	}
	return w, nil
}

func (s workflowStore) Update(ctx context.Context, w execmodel.Workflow) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	existing, ok := s.db.workflows[w.ID]
	if !ok {
		return execmodel.ErrNotFound
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = existing.CreatedAt
	}
	w.UpdatedAt = time.Now()
	s.db.workflows[w.ID] = w
	return nil
}

func (s workflowStore) ListRunnable(ctx context.Context, cursor string, limit int) ([]execmodel.Workflow, string, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	ids := make([]string, 0, len(s.db.workflows))
	for id := range s.db.workflows {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id > cursor {
				start = i
				break
			}
			start = i + 1
		}
	}

	var out []execmodel.Workflow
	next := ""
	for i := start; i < len(ids); i++ {
		w := s.db.workflows[ids[i]]
		if !w.Runnable() {
			continue
		}
		if limit > 0 && len(out) >= limit {
			next = out[len(out)-1].ID
			break
		}
		out = append(out, w)
	}
	return out, next, nil
}
