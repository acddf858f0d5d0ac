package inmem

import (
	"context"
	"time"

	"github.com/signalmesh/core/execmodel"
)

type inputStore struct{ db *db }

func inputKey(k execmodel.InputKey) string {
	return k.WorkflowID + "\x00" + k.Source + "\x00" + k.Type + "\x00" + k.ExternalID
}

func (s inputStore) Upsert(ctx context.Context, key execmodel.InputKey, title string) (execmodel.Input, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	ik := inputKey(key)
	for _, in := range s.db.inputs {
		if inputKey(execmodel.InputKey{WorkflowID: in.WorkflowID, Source: in.Source, Type: in.Type, ExternalID: in.ExternalID}) == ik {
			return in, nil
		}
	}

	in := execmodel.Input{
		ID:         newID(),
		WorkflowID: key.WorkflowID,
		Source:     key.Source,
		Type:       key.Type,
		ExternalID: key.ExternalID,
		Title:      title,
		CreatedAt:  time.Now(),
	}
	s.db.inputs[in.ID] = in
	return in, nil
}

func (s inputStore) Load(ctx context.Context, id string) (execmodel.Input, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	in, ok := s.db.inputs[id]
	if !ok {
		return execmodel.Input{}, execmodel.ErrNotFound
	}
	return in, nil
}
