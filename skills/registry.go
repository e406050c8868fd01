package skills

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/memlens/memlens/types"
)

// Registry holds the loaded skill set. Load replaces the whole set
// atomically: concurrent readers see either the old set or the new one,
// never a partial registry.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]SkillSpec
	logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		skills: make(map[string]SkillSpec),
		logger: logger.With(zap.String("component", "skill_registry")),
	}
}

// Load validates and installs the given specs, replacing any prior set.
// On any validation failure the registry is left unchanged.
func (r *Registry) Load(specs []SkillSpec) error {
	next := make(map[string]SkillSpec, len(specs))
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return err
		}
		if _, dup := next[spec.Name]; dup {
			return types.NewErrorf(types.ErrDuplicateSkill, "skill %q defined more than once", spec.Name)
		}
		next[spec.Name] = spec
	}

	r.mu.Lock()
	r.skills = next
	r.mu.Unlock()

	r.logger.Info("skill registry loaded", zap.Int("skills", len(next)))
	return nil
}

// Get returns the named spec and whether it exists.
func (r *Registry) Get(name string) (SkillSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.skills[name]
	return spec, ok
}

// Names returns all loaded skill names in lexicographic order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.skills))
	for name := range r.skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of loaded skills.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.skills)
}

// snapshot returns the specs in lexicographic name order, for deterministic
// iteration by the router.
func (r *Registry) snapshot() []SkillSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]SkillSpec, 0, len(r.skills))
	for _, spec := range r.skills {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}
