package task

import (
	"sort"
	"sync"
)

// Registry maps task keys to their current definition. It is filled while the
// configuration loads and read during dispatch.
type Registry struct {
	mu    sync.RWMutex
	tasks map[Key]Definition
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[Key]Definition)}
}

// Register stores def under its key, replacing any earlier definition.
// Replacing is the override mechanism, not an error.
func (r *Registry) Register(def Definition) (replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, replaced = r.tasks[def.Key]
	r.tasks[def.Key] = def
	return replaced
}

func (r *Registry) Lookup(key Key) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tasks[key]
	return def, ok
}

// Definitions returns all definitions ordered by key.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defs := make([]Definition, 0, len(r.tasks))
	for _, d := range r.tasks {
		defs = append(defs, d)
	}
	r.mu.RUnlock()

	sort.Slice(defs, func(i, j int) bool {
		if defs[i].Namespace != defs[j].Namespace {
			return defs[i].Namespace < defs[j].Namespace
		}
		return defs[i].Name < defs[j].Name
	})
	return defs
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
