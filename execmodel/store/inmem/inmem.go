// Package inmem provides an in-memory implementation of every execmodel/store
// interface for testing and local development, mirroring
// runtime/agent/run/inmem and runtime/agent/session/inmem: sync.RWMutex-
// guarded maps, defensive copies on read/write, and a Reset helper for test
// isolation. Production deployments should use execmodel/store/mongo.
package inmem

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/signalmesh/core/execmodel"
	"github.com/signalmesh/core/execmodel/store"
)

// db holds every table behind one mutex. Sharing a lock across tables costs
// nothing at in-memory scale and gives test code read-your-writes
// consistency across the Stores bundle for free.
type db struct {
	mu sync.RWMutex

	workflows         map[string]execmodel.Workflow
	scripts           map[string]execmodel.Script
	topics            map[string]execmodel.Topic // keyed by topicKey(workflowID, name)
	events            map[string]execmodel.Event
	inputs            map[string]execmodel.Input
	mutations         map[string]execmodel.Mutation
	mutationByRun     map[string]string // handlerRunID -> mutationID
	handlerRuns       map[string]execmodel.HandlerRun
	handlerStates     map[string]execmodel.HandlerState // keyed by stateKey(workflowID, name)
	producerSchedules map[string]execmodel.ProducerSchedule
	scriptRuns        map[string]execmodel.ScriptRun
}

func newDB() *db {
	return &db{
		workflows:         make(map[string]execmodel.Workflow),
		scripts:           make(map[string]execmodel.Script),
		topics:            make(map[string]execmodel.Topic),
		events:            make(map[string]execmodel.Event),
		inputs:            make(map[string]execmodel.Input),
		mutations:         make(map[string]execmodel.Mutation),
		mutationByRun:     make(map[string]string),
		handlerRuns:       make(map[string]execmodel.HandlerRun),
		handlerStates:     make(map[string]execmodel.HandlerState),
		producerSchedules: make(map[string]execmodel.ProducerSchedule),
		scriptRuns:        make(map[string]execmodel.ScriptRun),
	}
}

// Store bundles in-memory implementations of every execmodel/store
// interface. Use Stores() to obtain the store.Stores wiring Manager expects.
type Store struct {
	db *db
}

// New constructs an empty Store, immediately ready for use.
func New() *Store {
	return &Store{db: newDB()}
}

// Reset clears all stored rows. Useful for test isolation between cases.
func (s *Store) Reset() {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	*s.db = *newDB()
}

// Stores returns the store.Stores bundle backed by this instance.
func (s *Store) Stores() store.Stores {
	return store.Stores{
		Workflows:         workflowStore{s.db},
		Scripts:           scriptStore{s.db},
		Topics:            topicStore{s.db},
		Events:            eventStore{s.db},
		Inputs:            inputStore{s.db},
		Mutations:         mutationStore{s.db},
		HandlerRuns:       handlerRunStore{s.db},
		HandlerStates:     handlerStateStore{s.db},
		ProducerSchedules: producerScheduleStore{s.db},
		ScriptRuns:        scriptRunStore{s.db},
	}
}

func newID() string { return uuid.NewString() }

func topicKey(workflowID, name string) string { return workflowID + "\x00" + name }
func stateKey(workflowID, name string) string { return workflowID + "\x00" + name }

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneBytes(in []byte) []byte {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
