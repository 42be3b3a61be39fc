package router

import (
	"context"
	"sync"

	"github.com/r3e-network/evo-core/infrastructure/resilience"
)

// BreakerRegistry owns one circuit breaker per provider name, lazily
// created on first use, backed by infrastructure/resilience's
// gobreaker wrapper configured per §4.5.2's three-state contract.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*resilience.CircuitBreaker
}

// NewBreakerRegistry builds an empty registry.
func NewBreakerRegistry() *BreakerRegistry {
	return &BreakerRegistry{breakers: make(map[string]*resilience.CircuitBreaker)}
}

// For returns the breaker for name, creating it with the standard
// provider breaker config if it doesn't exist yet.
func (r *BreakerRegistry) For(name string) *resilience.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[name]
	if !ok {
		cb = resilience.New(resilience.ProviderBreakerConfig(nil))
		r.breakers[name] = cb
	}
	return cb
}

// State returns name's current breaker state, reading it lazily
// (state transitions are computed on read, per §4.5.2).
func (r *BreakerRegistry) State(name string) resilience.State {
	return r.For(name).State()
}

// Execute runs fn through name's breaker, recording success/failure
// against the gobreaker state machine.
func (r *BreakerRegistry) Execute(name string, fn func() error) error {
	return r.For(name).Execute(context.Background(), fn)
}

// Snapshot returns the current state of every breaker the registry has
// created so far, keyed by provider name (used by the `status` CLI
// command).
func (r *BreakerRegistry) Snapshot() map[string]resilience.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]resilience.State, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = cb.State()
	}
	return out
}
