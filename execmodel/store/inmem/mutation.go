package inmem

import (
	"context"
	"sort"
	"time"

	"github.com/signalmesh/core/execmodel"
)

type mutationStore struct{ db *db }

func (s mutationStore) Create(ctx context.Context, m execmodel.Mutation) (execmodel.Mutation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.create(m, execmodel.MutationPending)
}

func (s mutationStore) CreateInFlight(ctx context.Context, m execmodel.Mutation) (execmodel.Mutation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.create(m, execmodel.MutationInFlight)
}

func (s mutationStore) create(m execmodel.Mutation, status execmodel.MutationStatus) (execmodel.Mutation, error) {
	if _, ok := s.db.mutationByRun[m.HandlerRunID]; ok {
		return execmodel.Mutation{}, execmodel.ErrConflict
	}
	if m.ID == "" {
		m.ID = newID()
	}
	now := time.Now()
	m.Status = status
	m.CreatedAt = now
	m.UpdatedAt = now
	s.db.mutations[m.ID] = m
	s.db.mutationByRun[m.HandlerRunID] = m.ID
	return m, nil
}

func (s mutationStore) Load(ctx context.Context, id string) (execmodel.Mutation, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	m, ok := s.db.mutations[id]
	if !ok {
		return execmodel.Mutation{}, execmodel.ErrNotFound
	}
	return m, nil
}

func (s mutationStore) LoadByHandlerRun(ctx context.Context, handlerRunID string) (execmodel.Mutation, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	id, ok := s.db.mutationByRun[handlerRunID]
	if !ok {
		return execmodel.Mutation{}, execmodel.ErrNotFound
	}
	return s.db.mutations[id], nil
}

func (s mutationStore) UpdateStatus(ctx context.Context, id string, to execmodel.MutationStatus, result []byte, errMsg string) (execmodel.Mutation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	m, ok := s.db.mutations[id]
	if !ok {
		return execmodel.Mutation{}, execmodel.ErrNotFound
	}
	if !execmodel.CanTransition(m.Status, to) {
		return execmodel.Mutation{}, &execmodel.ErrInvalidMutationTransition{From: m.Status, To: to}
	}
	m.Status = to
	if result != nil {
		m.Result = cloneBytes(result)
	}
	if errMsg != "" {
		m.Error = errMsg
	}
	m.UpdatedAt = time.Now()
	s.db.mutations[id] = m
	return m, nil
}

func (s mutationStore) ScheduleNextReconcile(ctx context.Context, id string, nowMs, delayMs int64) (execmodel.Mutation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	m, ok := s.db.mutations[id]
	if !ok {
		return execmodel.Mutation{}, execmodel.ErrNotFound
	}
	now := time.UnixMilli(nowMs)
	m.ReconcileAttempts++
	m.LastReconcileAt = now
	m.NextReconcileAt = now.Add(time.Duration(delayMs) * time.Millisecond)
	m.UpdatedAt = now
	s.db.mutations[id] = m
	return m, nil
}

func (s mutationStore) DueForReconciliation(ctx context.Context, nowMs int64, limit int) ([]execmodel.Mutation, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	cutoff := time.UnixMilli(nowMs)
	var due []execmodel.Mutation
	for _, m := range s.db.mutations {
		if m.Status != execmodel.MutationNeedsReconcile {
			continue
		}
		if m.NextReconcileAt.After(cutoff) {
			continue
		}
		due = append(due, m)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextReconcileAt.Before(due[j].NextReconcileAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Resolve is the user-override path and, unlike UpdateStatus, does not
// gate on execmodel.CanTransition: a human asserting an outcome for a
// stuck (needs_reconcile/indeterminate) or disputed (failed) mutation is
// allowed to set its terminal status directly.
func (s mutationStore) Resolve(ctx context.Context, id string, by execmodel.Resolution, status execmodel.MutationStatus) (execmodel.Mutation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	m, ok := s.db.mutations[id]
	if !ok {
		return execmodel.Mutation{}, execmodel.ErrNotFound
	}
	now := time.Now()
	m.Status = status
	m.ResolvedBy = by
	m.ResolvedAt = now
	m.UpdatedAt = now
	s.db.mutations[id] = m
	return m, nil
}
