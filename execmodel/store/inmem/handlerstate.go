package inmem

import (
	"context"

	"github.com/signalmesh/core/execmodel"
)

type handlerStateStore struct{ db *db }

func (s handlerStateStore) Load(ctx context.Context, workflowID, handlerName string) (execmodel.HandlerState, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	hs, ok := s.db.handlerStates[stateKey(workflowID, handlerName)]
	if !ok {
		return execmodel.HandlerState{}, execmodel.ErrNotFound
	}
	hs.State = cloneBytes(hs.State)
	return hs, nil
}

func (s handlerStateStore) Save(ctx context.Context, hs execmodel.HandlerState) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	hs.State = cloneBytes(hs.State)
	s.db.handlerStates[stateKey(hs.WorkflowID, hs.HandlerName)] = hs
	return nil
}

func (s handlerStateStore) DueWakes(ctx context.Context, nowMs int64, limit int) ([]execmodel.HandlerState, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var due []execmodel.HandlerState
	for _, hs := range s.db.handlerStates {
		if hs.WakeAt > 0 && hs.WakeAt <= nowMs {
			hs.State = cloneBytes(hs.State)
			due = append(due, hs)
			if limit > 0 && len(due) >= limit {
				break
			}
		}
	}
	return due, nil
}
