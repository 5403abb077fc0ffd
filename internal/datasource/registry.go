// Package datasource holds the named fetch+format functions that turn a
// user's stored data into knowledge the agent can read.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrUnknownSource = errors.New("datasource: unknown source")

type FetchFunc func(ctx context.Context, userID string, params map[string]any) (any, error)

type FormatFunc func(raw any) (string, error)

// Source is one named data source.
type Source struct {
	Name        string
	Description string // shown to the selector model
	Fetch       FetchFunc
	Format      FormatFunc
}

// Descriptor is the catalog entry for a source.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Registry is the closed catalog of data sources.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

func NewRegistry(sources ...Source) (*Registry, error) {
	r := &Registry{sources: make(map[string]Source, len(sources))}
	for _, s := range sources {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(s Source) error {
	if s.Name == "" {
		return errors.New("datasource: empty source name")
	}
	if s.Fetch == nil || s.Format == nil {
		return fmt.Errorf("datasource: source %q needs both fetch and format", s.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.sources[s.Name]; dup {
		return fmt.Errorf("datasource: source %q registered twice", s.Name)
	}
	r.sources[s.Name] = s
	return nil
}

// Catalog lists every source, sorted by name.
func (r *Registry) Catalog() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, Descriptor{Name: s.Name, Description: s.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Has(name string) bool {
	_, ok := r.get(name)
	return ok
}

func (r *Registry) get(name string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[name]
	return s, ok
}

func (r *Registry) Fetch(ctx context.Context, name, userID string, params map[string]any) (any, error) {
	s, ok := r.get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
	raw, err := s.Fetch(ctx, userID, params)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", name, err)
	}
	return raw, nil
}

func (r *Registry) Format(name string, raw any) (string, error) {
	s, ok := r.get(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
	text, err := s.Format(raw)
	if err != nil {
		return "", fmt.Errorf("format %s: %w", name, err)
	}
	return text, nil
}

// Load fetches and formats a source in one step.
func (r *Registry) Load(ctx context.Context, name, userID string, params map[string]any) (string, error) {
	raw, err := r.Fetch(ctx, name, userID, params)
	if err != nil {
		return "", err
	}
	return r.Format(name, raw)
}
