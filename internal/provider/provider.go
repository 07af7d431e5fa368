// Package provider abstracts the LLM vendors used for widget
// generation behind a single Generate call. Each client handles its
// own rate limiting and transient-error retries.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"widgetforge/internal/logging"
)

// Options tunes a single generation call.
type Options struct {
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
}

// Response is a completed generation.
type Response struct {
	Content string // raw model text
	Model   string // model id that served the request
	Name    string // provider name
}

// Provider is one LLM vendor.
type Provider interface {
	Generate(ctx context.Context, prompt string, opts Options) (*Response, error)
	Name() string
	Model() string
}

// Task classifies a request for automatic provider selection.
type Task string

const (
	TaskGeneration Task = "generation" // full widget generation
	TaskIteration  Task = "iteration"  // refinement of an existing widget
	TaskVariation  Task = "variation"  // branch from a stored widget
)

// Registry holds the configured providers and picks one per request.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	defaults  map[Task]string
	fallback  string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		defaults:  make(map[Task]string),
	}
}

// Register adds a provider. The first registered provider becomes the
// fallback for unmapped tasks.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	if r.fallback == "" {
		r.fallback = p.Name()
	}
	logging.Provider("Registered provider %s (model=%s)", p.Name(), p.Model())
}

// SetDefault maps a task to a provider name.
func (r *Registry) SetDefault(task Task, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults[task] = name
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured (available: %v)", name, r.names())
	}
	return p, nil
}

// Select returns the provider for a request: the explicit override when
// given, the task default otherwise, the fallback as a last resort.
func (r *Registry) Select(task Task, override string) (Provider, error) {
	if override != "" {
		return r.Get(override)
	}

	r.mu.RLock()
	name := r.defaults[task]
	if name == "" {
		name = r.fallback
	}
	r.mu.RUnlock()

	if name == "" {
		return nil, fmt.Errorf("no providers configured")
	}
	return r.Get(name)
}

// Names lists registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names()
}

func (r *Registry) names() []string {
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
