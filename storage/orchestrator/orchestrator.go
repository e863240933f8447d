// Package orchestrator multiplexes several named storage providers
// behind the single Provider contract. Calls route to a
// caller-selected or default backend, each guarded by its own circuit
// breaker, with aggregated health and metrics across all of them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samihalawa/psp-go/internal/logging"
	"github.com/samihalawa/psp-go/internal/resilience"
	"github.com/samihalawa/psp-go/storage"
	"github.com/samihalawa/psp-go/types"
)

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithLogger attaches a logger.
func WithLogger(log *logging.Logger) Option {
	return func(o *Orchestrator) { o.log = log.WithProvider(o.name) }
}

// WithBreakerSettings overrides the circuit breaker applied to each
// registered provider.
func WithBreakerSettings(settings resilience.Settings) Option {
	return func(o *Orchestrator) { o.breakerSettings = settings }
}

type entry struct {
	provider storage.Provider
	breaker  *resilience.Breaker
}

// Orchestrator is the multi-provider backend. It satisfies
// storage.Provider by routing to the default provider.
type Orchestrator struct {
	name            string
	log             *logging.Logger
	breakerSettings resilience.Settings

	mu          sync.RWMutex
	entries     map[string]*entry
	defaultName string
}

// New creates an empty orchestrator. Register at least one provider
// and set a default before use.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		name:    "multi",
		log:     logging.NewNop(),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register adds a named provider. The first registration becomes the
// default. Registering a duplicate name is a configuration error.
func (o *Orchestrator) Register(name string, p storage.Provider) error {
	if name == "" || p == nil {
		return errors.New("orchestrator: name and provider are required")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.entries[name]; exists {
		return fmt.Errorf("orchestrator: provider %q already registered", name)
	}
	o.entries[name] = &entry{
		provider: p,
		breaker:  resilience.New(name, o.breakerSettings),
	}
	if o.defaultName == "" {
		o.defaultName = name
	}
	return nil
}

// SetDefault changes the default routing target.
func (o *Orchestrator) SetDefault(name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.entries[name]; !exists {
		return fmt.Errorf("orchestrator: unknown provider %q", name)
	}
	o.defaultName = name
	return nil
}

// On returns the breaker-guarded view of a named provider for
// caller-selected routing.
func (o *Orchestrator) On(name string) (storage.Provider, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, exists := o.entries[name]
	if !exists {
		return nil, fmt.Errorf("orchestrator: unknown provider %q", name)
	}
	return &guarded{entry: e}, nil
}

// Providers returns the registered provider names.
func (o *Orchestrator) Providers() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := make([]string, 0, len(o.entries))
	for name := range o.entries {
		names = append(names, name)
	}
	return names
}

func (o *Orchestrator) defaultEntry() (*entry, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.defaultName == "" {
		return nil, errors.New("orchestrator: no providers registered")
	}
	return o.entries[o.defaultName], nil
}

func (o *Orchestrator) Name() string       { return o.name }
func (o *Orchestrator) Kind() storage.Kind { return storage.KindMulti }

// Store routes to the default provider.
func (o *Orchestrator) Store(ctx context.Context, id string, data []byte, opts *storage.StoreOptions) storage.StoreResult {
	e, err := o.defaultEntry()
	if err != nil {
		return storage.StoreFailure(err)
	}
	return (&guarded{entry: e}).Store(ctx, id, data, opts)
}

// Retrieve routes to the default provider.
func (o *Orchestrator) Retrieve(ctx context.Context, id string, opts *storage.RetrieveOptions) storage.RetrieveResult {
	e, err := o.defaultEntry()
	if err != nil {
		return storage.FailureResult(err)
	}
	return (&guarded{entry: e}).Retrieve(ctx, id, opts)
}

// Delete routes to the default provider.
func (o *Orchestrator) Delete(ctx context.Context, id string) bool {
	e, err := o.defaultEntry()
	if err != nil {
		return false
	}
	return e.provider.Delete(ctx, id)
}

// List routes to the default provider.
func (o *Orchestrator) List(ctx context.Context, opts *storage.ListOptions) ([]types.SessionMetadata, error) {
	e, err := o.defaultEntry()
	if err != nil {
		return nil, err
	}
	return e.provider.List(ctx, opts)
}

// Exists routes to the default provider.
func (o *Orchestrator) Exists(ctx context.Context, id string) bool {
	e, err := o.defaultEntry()
	if err != nil {
		return false
	}
	return e.provider.Exists(ctx, id)
}

// HealthCheck reports the default provider's health.
func (o *Orchestrator) HealthCheck(ctx context.Context) storage.Health {
	e, err := o.defaultEntry()
	if err != nil {
		return storage.Health{Healthy: false, Provider: o.name, Details: map[string]string{"error": err.Error()}}
	}
	return e.provider.HealthCheck(ctx)
}

// Metrics returns the default provider's snapshot.
func (o *Orchestrator) Metrics() storage.Metrics {
	e, err := o.defaultEntry()
	if err != nil {
		return storage.Metrics{}
	}
	return e.provider.Metrics()
}

// HealthCheckAll checks every registered provider and annotates each
// report with its breaker state.
func (o *Orchestrator) HealthCheckAll(ctx context.Context) map[string]storage.Health {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make(map[string]storage.Health, len(o.entries))
	for name, e := range o.entries {
		h := e.provider.HealthCheck(ctx)
		if h.Details == nil {
			h.Details = map[string]string{}
		}
		h.Details["breaker"] = e.breaker.State().String()
		out[name] = h
	}
	return out
}

// AllMetrics aggregates snapshots across every registered provider.
func (o *Orchestrator) AllMetrics() map[string]storage.Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make(map[string]storage.Metrics, len(o.entries))
	for name, e := range o.entries {
		out[name] = e.provider.Metrics()
	}
	return out
}

// guarded wraps one entry with its circuit breaker. A not-found
// retrieval is a healthy answer and never counts against the breaker.
type guarded struct {
	entry *entry
}

func (g *guarded) Name() string       { return g.entry.provider.Name() }
func (g *guarded) Kind() storage.Kind { return g.entry.provider.Kind() }

func (g *guarded) Store(ctx context.Context, id string, data []byte, opts *storage.StoreOptions) storage.StoreResult {
	var res storage.StoreResult
	err := g.entry.breaker.Execute(func() error {
		res = g.entry.provider.Store(ctx, id, data, opts)
		if !res.Success {
			return errors.New(res.Error)
		}
		return nil
	})
	if err != nil && !res.Success && res.Error == "" {
		return storage.StoreFailure(err)
	}
	return res
}

func (g *guarded) Retrieve(ctx context.Context, id string, opts *storage.RetrieveOptions) storage.RetrieveResult {
	var res storage.RetrieveResult
	err := g.entry.breaker.Execute(func() error {
		res = g.entry.provider.Retrieve(ctx, id, opts)
		if !res.Success && !res.NotFound {
			return errors.New(res.Error)
		}
		return nil
	})
	if err != nil && !res.Success && !res.NotFound && res.Error == "" {
		return storage.FailureResult(err)
	}
	return res
}

func (g *guarded) Delete(ctx context.Context, id string) bool {
	return g.entry.provider.Delete(ctx, id)
}

func (g *guarded) List(ctx context.Context, opts *storage.ListOptions) ([]types.SessionMetadata, error) {
	return g.entry.provider.List(ctx, opts)
}

func (g *guarded) Exists(ctx context.Context, id string) bool {
	return g.entry.provider.Exists(ctx, id)
}

func (g *guarded) HealthCheck(ctx context.Context) storage.Health {
	return g.entry.provider.HealthCheck(ctx)
}

func (g *guarded) Metrics() storage.Metrics {
	return g.entry.provider.Metrics()
}
