package inmem

import (
	"context"

	"github.com/signalmesh/core/execmodel"
)

type producerScheduleStore struct{ db *db }

func (s producerScheduleStore) Load(ctx context.Context, workflowID, producerName string) (execmodel.ProducerSchedule, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	ps, ok := s.db.producerSchedules[stateKey(workflowID, producerName)]
	if !ok {
		return execmodel.ProducerSchedule{}, execmodel.ErrNotFound
	}
	return ps, nil
}

func (s producerScheduleStore) Save(ctx context.Context, ps execmodel.ProducerSchedule) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.producerSchedules[stateKey(ps.WorkflowID, ps.ProducerName)] = ps
	return nil
}

func (s producerScheduleStore) DueSchedules(ctx context.Context, nowMs int64, limit int) ([]execmodel.ProducerSchedule, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var due []execmodel.ProducerSchedule
	for _, ps := range s.db.producerSchedules {
		if ps.NextRunAt <= nowMs {
			due = append(due, ps)
			if limit > 0 && len(due) >= limit {
				break
			}
		}
	}
	return due, nil
}
