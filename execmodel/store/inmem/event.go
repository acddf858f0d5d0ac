package inmem

import (
	"context"
	"sort"
	"time"

	"github.com/signalmesh/core/execmodel"
)

type eventStore struct{ db *db }

// eventKey uniquely identifies an event by (topicID, messageID).
func eventKey(topicID, messageID string) string { return topicID + "\x00" + messageID }

func (s eventStore) Publish(ctx context.Context, workflowID, topic string, req execmodel.PublishRequest, createdByRunID string) (execmodel.Event, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	t, ok := s.db.topics[topicKey(workflowID, topic)]
	if !ok {
		t = execmodel.Topic{ID: newID(), WorkflowID: workflowID, Name: topic, CreatedAt: time.Now()}
		s.db.topics[topicKey(workflowID, topic)] = t
	}

	causedBy := req.CausedBy
	if causedBy == nil {
		causedBy = []string{}
	}

	now := time.Now()
	for id, ev := range s.db.events {
		if ev.TopicID == t.ID && ev.MessageID == req.MessageID {
			// A conflicting republish of the same (topic, messageId) is
			// last-write-wins on payload/caused_by only; status (and
			// everything else) is untouched, per spec.md §4.1.
			ev.Payload = cloneBytes(req.Payload)
			ev.CausedBy = dedupe(causedBy)
			ev.UpdatedAt = now
			s.db.events[id] = ev
			return ev, nil
		}
	}

	ev := execmodel.Event{
		ID:             newID(),
		TopicID:        t.ID,
		WorkflowID:     workflowID,
		MessageID:      req.MessageID,
		Payload:        cloneBytes(req.Payload),
		Status:         execmodel.EventPending,
		CreatedByRunID: createdByRunID,
		CausedBy:       dedupe(causedBy),
		AttemptNumber:  0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.db.events[ev.ID] = ev
	return ev, nil
}

func (s eventStore) Peek(ctx context.Context, workflowID, topic string, status execmodel.EventStatus, limit int) ([]execmodel.Event, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	if status == "" {
		status = execmodel.EventPending
	}
	t, ok := s.db.topics[topicKey(workflowID, topic)]
	if !ok {
		return nil, nil
	}

	var matches []execmodel.Event
	for _, ev := range s.db.events {
		if ev.TopicID == t.ID && ev.Status == status {
			matches = append(matches, ev)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.Before(matches[j].CreatedAt) })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s eventStore) Reserve(ctx context.Context, runID string, reservations []execmodel.Reservation) ([]execmodel.Event, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var reserved []execmodel.Event
	now := time.Now()
	for _, r := range reservations {
		for _, id := range r.IDs {
			ev, ok := s.db.events[id]
			if !ok || ev.Status != execmodel.EventPending {
				continue
			}
			ev.Status = execmodel.EventReserved
			ev.ReservedByRunID = runID
			ev.UpdatedAt = now
			s.db.events[id] = ev
			reserved = append(reserved, ev)
		}
	}
	return reserved, nil
}

func (s eventStore) Consume(ctx context.Context, runID string) error {
	return s.finalizeReserved(runID, execmodel.EventConsumed)
}

func (s eventStore) Skip(ctx context.Context, runID string) error {
	return s.finalizeReserved(runID, execmodel.EventSkipped)
}

func (s eventStore) finalizeReserved(runID string, to execmodel.EventStatus) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	now := time.Now()
	for id, ev := range s.db.events {
		if ev.Status != execmodel.EventReserved || ev.ReservedByRunID != runID {
			continue
		}
		ev.Status = to
		ev.ReservedByRunID = ""
		ev.UpdatedAt = now
		s.db.events[id] = ev
	}
	return nil
}

func (s eventStore) Release(ctx context.Context, runID string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	now := time.Now()
	for id, ev := range s.db.events {
		if ev.Status != execmodel.EventReserved || ev.ReservedByRunID != runID {
			continue
		}
		ev.Status = execmodel.EventPending
		ev.ReservedByRunID = ""
		ev.AttemptNumber++
		ev.UpdatedAt = now
		s.db.events[id] = ev
	}
	return nil
}

func (s eventStore) Reassign(ctx context.Context, fromRunID, toRunID string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	now := time.Now()
	for id, ev := range s.db.events {
		if ev.Status != execmodel.EventReserved || ev.ReservedByRunID != fromRunID {
			continue
		}
		ev.ReservedByRunID = toRunID
		ev.UpdatedAt = now
		s.db.events[id] = ev
	}
	return nil
}

func (s eventStore) ReleaseOrphaned(ctx context.Context, isActive func(runID string) bool) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	now := time.Now()
	released := 0
	for id, ev := range s.db.events {
		if ev.Status != execmodel.EventReserved {
			continue
		}
		if isActive(ev.ReservedByRunID) {
			continue
		}
		ev.Status = execmodel.EventPending
		ev.ReservedByRunID = ""
		ev.AttemptNumber++
		ev.UpdatedAt = now
		s.db.events[id] = ev
		released++
	}
	return released, nil
}

func (s eventStore) CausedByForRun(ctx context.Context, runID string) ([]string, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var union []string
	for _, ev := range s.db.events {
		if ev.Status == execmodel.EventReserved && ev.ReservedByRunID == runID {
			union = append(union, ev.CausedBy...)
		}
	}
	return dedupe(union), nil
}

func (s eventStore) HasAnyPendingForWorkflow(ctx context.Context, workflowID string) (bool, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	for _, ev := range s.db.events {
		if ev.WorkflowID == workflowID && ev.Status == execmodel.EventPending {
			return true, nil
		}
	}
	return false, nil
}

func (s eventStore) CountPendingByTopic(ctx context.Context, workflowID string, topics []string) (map[string]int, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	wanted := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		wanted[t] = struct{}{}
	}
	topicNameByID := make(map[string]string, len(s.db.topics))
	for _, t := range s.db.topics {
		if t.WorkflowID != workflowID {
			continue
		}
		if _, ok := wanted[t.Name]; len(topics) == 0 || ok {
			topicNameByID[t.ID] = t.Name
		}
	}

	counts := make(map[string]int)
	for _, ev := range s.db.events {
		if ev.WorkflowID != workflowID || ev.Status != execmodel.EventPending {
			continue
		}
		name, ok := topicNameByID[ev.TopicID]
		if !ok {
			continue
		}
		counts[name]++
	}
	return counts, nil
}
