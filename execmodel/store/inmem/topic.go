package inmem

import (
	"context"
	"time"

	"github.com/signalmesh/core/execmodel"
)

type topicStore struct{ db *db }

func (s topicStore) EnsureTopic(ctx context.Context, workflowID, name string) (execmodel.Topic, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	key := topicKey(workflowID, name)
	if t, ok := s.db.topics[key]; ok {
		return t, nil
	}
	t := execmodel.Topic{ID: newID(), WorkflowID: workflowID, Name: name, CreatedAt: time.Now()}
	s.db.topics[key] = t
	return t, nil
}

func (s topicStore) Load(ctx context.Context, workflowID, name string) (execmodel.Topic, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	t, ok := s.db.topics[topicKey(workflowID, name)]
	if !ok {
		return execmodel.Topic{}, execmodel.ErrNotFound
	}
	return t, nil
}
