package handler

import (
	"fmt"
	"sync"
)

// Registry is the process-wide map from handler_name to its implementation,
// mirroring connector.Registry's namespace-to-Connector binding. The
// scheduler resolves a handler_name to its Producer or Consumer through
// this registry each time it dispatches a handler body or checks a
// consumer's capabilities; an unregistered name is reported only when a
// run of that handler is driven.
type Registry struct {
	mu        sync.RWMutex
	producers map[string]Producer
	consumers map[string]Consumer
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{producers: make(map[string]Producer), consumers: make(map[string]Consumer)}
}

// RegisterProducer binds name to p, overwriting any previous binding.
func (r *Registry) RegisterProducer(name string, p Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[name] = p
}

// RegisterConsumer binds name to c, overwriting any previous binding.
func (r *Registry) RegisterConsumer(name string, c Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumers[name] = c
}

// Producer resolves name to its registered Producer.
func (r *Registry) Producer(name string) (Producer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[name]
	if !ok {
		return nil, fmt.Errorf("handler: no producer registered for %q", name)
	}
	return p, nil
}

// Consumer resolves name to its registered Consumer.
func (r *Registry) Consumer(name string) (Consumer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.consumers[name]
	if !ok {
		return nil, fmt.Errorf("handler: no consumer registered for %q", name)
	}
	return c, nil
}

// Capabilities reports which optional extensions name's registered Consumer
// implements, so callers can decide whether to invoke Mutate/Emit without
// a second type assertion against the live handler instance.
type Capabilities struct {
	Mutator bool
	Emitter bool
}

// ConsumerCapabilities resolves name and reports its optional extensions.
func (r *Registry) ConsumerCapabilities(name string) (Capabilities, error) {
	c, err := r.Consumer(name)
	if err != nil {
		return Capabilities{}, err
	}
	_, isMutator := c.(Mutator)
	_, isEmitter := c.(Emitter)
	return Capabilities{Mutator: isMutator, Emitter: isEmitter}, nil
}
