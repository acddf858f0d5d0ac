package inmem

import (
	"context"
	"time"

	"github.com/signalmesh/core/execmodel"
)

type scriptRunStore struct{ db *db }

func (s scriptRunStore) Create(ctx context.Context, r execmodel.ScriptRun) (execmodel.ScriptRun, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if r.ID == "" {
		r.ID = newID()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = execmodel.ScriptRunActive
	}
	r.HandlerRunIDs = cloneStrings(r.HandlerRunIDs)
	s.db.scriptRuns[r.ID] = r
	return r, nil
}

func (s scriptRunStore) Load(ctx context.Context, id string) (execmodel.ScriptRun, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	r, ok := s.db.scriptRuns[id]
	if !ok {
		return execmodel.ScriptRun{}, execmodel.ErrNotFound
	}
	r.HandlerRunIDs = cloneStrings(r.HandlerRunIDs)
	return r, nil
}

func (s scriptRunStore) Update(ctx context.Context, r execmodel.ScriptRun) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.scriptRuns[r.ID]; !ok {
		return execmodel.ErrNotFound
	}
	r.HandlerRunIDs = cloneStrings(r.HandlerRunIDs)
	s.db.scriptRuns[r.ID] = r
	return nil
}

func (s scriptRunStore) ListOpen(ctx context.Context) ([]execmodel.ScriptRun, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []execmodel.ScriptRun
	for _, r := range s.db.scriptRuns {
		if r.Status == execmodel.ScriptRunActive {
			r.HandlerRunIDs = cloneStrings(r.HandlerRunIDs)
			out = append(out, r)
		}
	}
	return out, nil
}
