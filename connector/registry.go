package connector

import (
	"fmt"
	"sync"
)

// Registry is the process-wide map from tool_namespace to Connector
// (spec.md §9 "dynamic dispatch... a process-wide map built from
// configuration"), mirroring how the teacher's toolregistry resolves a
// toolset name to a client.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

// Register binds namespace to c, overwriting any previous binding. Intended
// to be called once per namespace during process wiring, before the
// scheduler starts.
func (r *Registry) Register(namespace string, c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[namespace] = c
}

// Lookup resolves namespace to its Connector.
func (r *Registry) Lookup(namespace string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[namespace]
	if !ok {
		return Connector{}, fmt.Errorf("connector: no connector registered for namespace %q", namespace)
	}
	return c, nil
}
