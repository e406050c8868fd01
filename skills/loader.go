package skills

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/memlens/memlens/types"
)

// skillDocument is the on-disk skill definition format:
//
//	skills:
//	  - name: memory_recall
//	    description: Retrieve and recall facts from memory
//	    trigger_patterns: ["recall", "remember", "what do you know"]
//	    required_namespaces: [semantic, episodic]
//	    priority: 10
//	    safety_constraints: []
type skillDocument struct {
	Skills []SkillSpec `yaml:"skills"`
}

// ParseYAML parses a skill definition document into specs. The specs are
// parsed only; feed them to Registry.Load for validation.
func ParseYAML(data []byte) ([]SkillSpec, error) {
	var doc skillDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse skill document: %w", err)
	}
	return doc.Skills, nil
}

// LoadFile reads and parses a skill definition file.
func LoadFile(path string) ([]SkillSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill file %s: %w", path, err)
	}
	return ParseYAML(data)
}

// DefaultSkills returns the built-in skill set used by the standard
// evaluation tracks.
func DefaultSkills() []SkillSpec {
	return []SkillSpec{
		{
			Name:            "memory_recall",
			Description:     "Retrieve and recall facts from memory",
			TriggerPatterns: []string{"recall", "remember", "what do you know", "what are my", "preferences"},
			Priority:        10,
			Version:         "1.0",
		},
		{
			Name:              "tool_use",
			Description:       "Select and use an appropriate tool",
			TriggerPatterns:   []string{"search", "compute", "calculate", "look up", "use the tool"},
			AllowedTools:      []string{"calculator", "web_search", "file_read"},
			SafetyConstraints: []string{ConstraintNoCodeExecution},
			Priority:          5,
			Version:           "1.0",
		},
		{
			Name:            "procedural_execute",
			Description:     "Execute a stored procedure or workflow",
			TriggerPatterns: []string{"workflow", "procedure", "run the steps", "execute"},
			RequiredNamespaces: []types.Namespace{
				types.NamespaceSkills,
			},
			SafetyConstraints: []string{ConstraintNoExternalCalls},
			Priority:          8,
			Version:           "1.0",
		},
		{
			Name:              "preference_update",
			Description:       "Store or update user preferences",
			TriggerPatterns:   []string{"prefer", "remember this", "note that", "update that preference", "avoid"},
			SafetyConstraints: []string{ConstraintNoSystemAccess},
			Priority:          7,
			Version:           "1.0",
		},
	}
}
