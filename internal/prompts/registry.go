package prompts

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
)

var ErrNotFound = errors.New("prompts: not found")

// Registry holds every version of every prompt. Versions of one ID are kept
// sorted oldest first.
type Registry struct {
	mu      sync.RWMutex
	prompts map[string][]*Prompt
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the registry holding the built-in coach and
// selector prompts.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
		for _, p := range builtin {
			if err := defaultRegistry.Register(p); err != nil {
				panic(err)
			}
		}
	})
	return defaultRegistry
}

func NewRegistry() *Registry {
	return &Registry{prompts: make(map[string][]*Prompt)}
}

// Register adds a prompt version. Registering the same ID and version twice
// is an error.
func (r *Registry) Register(p *Prompt) error {
	if p == nil || p.ID == "" || p.Version == "" {
		return errors.New("prompts: prompt needs an id and a version")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	versions := r.prompts[p.ID]
	if slices.ContainsFunc(versions, func(q *Prompt) bool { return q.Version == p.Version }) {
		return fmt.Errorf("prompts: %s@%s registered twice", p.ID, p.Version)
	}
	versions = append(versions, p)
	sort.SliceStable(versions, func(i, j int) bool { return versions[i].Version.Less(versions[j].Version) })
	r.prompts[p.ID] = versions
	return nil
}

// Get returns one exact version.
func (r *Registry) Get(id string, version PromptVersion) (*Prompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.prompts[id] {
		if p.Version == version {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s@%s", ErrNotFound, id, version)
}

// GetLatest returns the newest version that is not deprecated, or the newest
// version when every one is deprecated.
func (r *Registry) GetLatest(id string) (*Prompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.prompts[id]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	for i := len(versions) - 1; i >= 0; i-- {
		if !versions[i].Deprecated {
			return versions[i], nil
		}
	}
	return versions[len(versions)-1], nil
}

// IDs returns the registered prompt IDs, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.prompts))
	for id := range r.prompts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Versions returns the versions of id, oldest first.
func (r *Registry) Versions(id string) []PromptVersion {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []PromptVersion
	for _, p := range r.prompts[id] {
		out = append(out, p.Version)
	}
	return out
}
