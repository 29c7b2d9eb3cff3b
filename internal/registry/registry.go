package registry

import (
	"fmt"
	"sync"

	"github.com/mtzanidakis/directorate/internal/config"
	"github.com/mtzanidakis/directorate/internal/llm"
	"github.com/mtzanidakis/directorate/internal/store"
)

// Registry holds the configured directors and their model parameters.
type Registry struct {
	store *store.Store

	mu        sync.RWMutex
	directors []config.DirectorDefinition
	defaults  config.LLMConfig
}

func New(s *store.Store, directors []config.DirectorDefinition, defaults config.LLMConfig) *Registry {
	return &Registry{
		store:     s,
		directors: directors,
		defaults:  defaults,
	}
}

// Sync persists the director definitions and drops the ones no longer
// configured.
func (r *Registry) Sync() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.directors))
	for i, def := range r.directors {
		names = append(names, def.Name)
		p := r.resolve(def)

		d := &store.Director{
			Name:        def.Name,
			Description: def.Description,
			Model:       p.Model,
			Temperature: *p.Temperature,
			MaxTokens:   p.MaxTokens,
			After:       def.After,
			Position:    i,
		}
		if err := r.store.SaveDirector(d); err != nil {
			return fmt.Errorf("save director %s: %w", def.Name, err)
		}
	}

	if err := r.store.DeleteDirectorsNotIn(names); err != nil {
		return fmt.Errorf("delete stale directors: %w", err)
	}
	return nil
}

// Update swaps the definitions after a config reload. Call Sync afterwards to
// persist them.
func (r *Registry) Update(directors []config.DirectorDefinition) {
	r.mu.Lock()
	r.directors = directors
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (*store.Director, error) {
	return r.store.GetDirector(name)
}

func (r *Registry) List() ([]store.Director, error) {
	return r.store.ListDirectors()
}

// Definitions returns a copy of the configured definitions in order.
func (r *Registry) Definitions() []config.DirectorDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]config.DirectorDefinition, len(r.directors))
	copy(out, r.directors)
	return out
}

func (r *Registry) GetDefinition(name string) (config.DirectorDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, def := range r.directors {
		if def.Name == name {
			return def, true
		}
	}
	return config.DirectorDefinition{}, false
}

// Resolve returns the effective model parameters for a director, falling back
// to the llm defaults for anything the definition leaves unset.
func (r *Registry) Resolve(name string) llm.Params {
	def, _ := r.GetDefinition(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolve(def)
}

func (r *Registry) resolve(def config.DirectorDefinition) llm.Params {
	p := llm.Params{
		Model:       r.defaults.Model,
		Temperature: llm.Temperature(r.defaults.Temperature),
		MaxTokens:   r.defaults.MaxTokens,
	}
	if def.Model != "" {
		p.Model = def.Model
	}
	if def.Temperature != nil {
		p.Temperature = llm.Temperature(*def.Temperature)
	}
	if def.MaxTokens > 0 {
		p.MaxTokens = def.MaxTokens
	}
	return p
}

func (r *Registry) Descriptions() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	descs := make(map[string]string, len(r.directors))
	for _, def := range r.directors {
		descs[def.Name] = def.Description
	}
	return descs
}
