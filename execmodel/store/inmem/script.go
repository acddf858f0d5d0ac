package inmem

import (
	"context"
	"time"

	"github.com/signalmesh/core/execmodel"
)

type scriptStore struct{ db *db }

func (s scriptStore) Create(ctx context.Context, sc execmodel.Script) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if sc.ID == "" {
		sc.ID = newID()
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now()
	}
	s.db.scripts[sc.ID] = sc
	return nil
}

func (s scriptStore) Load(ctx context.Context, id string) (execmodel.Script, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	sc, ok := s.db.scripts[id]
	if !ok {
		return execmodel.Script{}, execmodel.ErrNotFound
	}
	return sc, nil
}

func (s scriptStore) LatestForWorkflow(ctx context.Context, workflowID string) (execmodel.Script, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var best execmodel.Script
	found := false
	for _, sc := range s.db.scripts {
		if sc.WorkflowID != workflowID {
			continue
		}
		if !found || sc.MajorVersion > best.MajorVersion ||
			(sc.MajorVersion == best.MajorVersion && sc.MinorVersion > best.MinorVersion) {
			best = sc
			found = true
		}
	}
	if !found {
		return execmodel.Script{}, execmodel.ErrNotFound
	}
	return best, nil
}
