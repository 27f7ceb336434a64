package llm

import "sync"

// Set is a named collection of providers. Satisfies the router's
// ProviderSet lookup.
type Set struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewSet() *Set {
	return &Set{providers: make(map[string]Provider)}
}

// Add registers a provider under its name.
func (s *Set) Add(p Provider) {
	s.mu.Lock()
	s.providers[p.Name()] = p
	s.mu.Unlock()
}

// Provider looks up a provider by name.
func (s *Set) Provider(name string) (Provider, bool) {
	s.mu.RLock()
	p, ok := s.providers[name]
	s.mu.RUnlock()
	return p, ok
}

// Names lists registered provider names.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.providers))
	for name := range s.providers {
		out = append(out, name)
	}
	return out
}
