package skills

import (
	"github.com/memlens/memlens/types"
)

// Known safety constraint names. A spec naming anything else fails
// validation.
const (
	ConstraintNoExternalCalls = "no_external_calls"
	ConstraintNoCodeExecution = "no_code_execution"
	ConstraintNoMemoryWrite   = "no_memory_write"
	ConstraintNoSystemAccess  = "no_system_access"
)

var knownConstraints = map[string]struct{}{
	ConstraintNoExternalCalls: {},
	ConstraintNoCodeExecution: {},
	ConstraintNoMemoryWrite:   {},
	ConstraintNoSystemAccess:  {},
}

// SkillSpec is the declarative specification of a single skill. Specs are
// immutable for the lifetime of the registry that loaded them.
type SkillSpec struct {
	Name               string            `json:"name" yaml:"name"`
	Description        string            `json:"description" yaml:"description"`
	TriggerPatterns    []string          `json:"trigger_patterns" yaml:"trigger_patterns"`
	RequiredNamespaces []types.Namespace `json:"required_namespaces" yaml:"required_namespaces"`
	SafetyConstraints  []string          `json:"safety_constraints" yaml:"safety_constraints"`
	AllowedTools       []string          `json:"allowed_tools" yaml:"allowed_tools"`
	Priority           int               `json:"priority" yaml:"priority"`
	Version            string            `json:"version" yaml:"version"`
}

// Validate checks a single spec in isolation. Name uniqueness is checked by
// the registry across the whole set.
func (s SkillSpec) Validate() error {
	if s.Name == "" {
		return types.NewError(types.ErrInvalidSkillSpec, "skill must have a name")
	}
	if len(s.TriggerPatterns) == 0 {
		return types.NewErrorf(types.ErrInvalidSkillSpec, "skill %q has no trigger patterns", s.Name)
	}
	for _, p := range s.TriggerPatterns {
		if p == "" {
			return types.NewErrorf(types.ErrInvalidSkillSpec, "skill %q has an empty trigger pattern", s.Name)
		}
	}
	for _, ns := range s.RequiredNamespaces {
		if !ns.Valid() {
			return types.NewErrorf(types.ErrInvalidSkillSpec, "skill %q requires unknown namespace %q", s.Name, ns)
		}
	}
	for _, c := range s.SafetyConstraints {
		if _, ok := knownConstraints[c]; !ok {
			return types.NewErrorf(types.ErrInvalidSkillSpec, "skill %q names unknown safety constraint %q", s.Name, c)
		}
	}
	return nil
}

// HasConstraint reports whether the spec carries the named constraint.
func (s SkillSpec) HasConstraint(name string) bool {
	for _, c := range s.SafetyConstraints {
		if c == name {
			return true
		}
	}
	return false
}
