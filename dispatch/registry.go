// Package dispatch binds the functions whitelisted by a context to their
// runtime implementations for one execution.
package dispatch

import (
	"fmt"
	"sync"

	"github.com/liamcoop/ruleengine/script"
)

// Func implements a catalog function. args are the positional arguments
// written in rule code; everything else is reachable through call.
type Func func(call *Call, args ...script.Value) (script.Value, error)

// Provider contributes implementations to one namespace.
type Provider struct {
	Name      string
	Namespace string
	Funcs     map[string]Func
}

// Registry maps a namespace to its providers in load order. When two
// providers implement the same name, the one registered last wins.
type Registry struct {
	mu   sync.RWMutex
	byNS map[string][]*Provider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byNS: make(map[string][]*Provider)}
}

// Register appends p after the providers already loaded for its namespace.
func (r *Registry) Register(p Provider) error {
	if p.Namespace == "" {
		return fmt.Errorf("provider %q has no namespace", p.Name)
	}
	if p.Name == "" {
		p.Name = p.Namespace
	}
	funcs := make(map[string]Func, len(p.Funcs))
	for name, fn := range p.Funcs {
		if fn == nil {
			return fmt.Errorf("provider %q: nil implementation for %s", p.Name, name)
		}
		funcs[name] = fn
	}
	p.Funcs = funcs

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byNS[p.Namespace] = append(r.byNS[p.Namespace], &p)
	return nil
}

// Resolve returns the implementation of namespace.name and the provider it
// comes from.
func (r *Registry) Resolve(namespace, name string) (Func, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := r.byNS[namespace]
	for i := len(providers) - 1; i >= 0; i-- {
		if fn, ok := providers[i].Funcs[name]; ok {
			return fn, providers[i].Name, true
		}
	}
	return nil, "", false
}

// Providers lists the provider names of a namespace in load order.
func (r *Registry) Providers(namespace string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byNS[namespace]))
	for _, p := range r.byNS[namespace] {
		out = append(out, p.Name)
	}
	return out
}
