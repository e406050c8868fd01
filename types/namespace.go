package types

// Namespace partitions memory entries by semantic role. The set is closed:
// adding a namespace is a schema change, not configuration.
type Namespace string

const (
	NamespaceEpisodic    Namespace = "episodic"
	NamespaceSemantic    Namespace = "semantic"
	NamespacePreferences Namespace = "preferences"
	NamespaceToolTraces  Namespace = "tool_traces"
	NamespaceSkills      Namespace = "skills"
	NamespaceWorking     Namespace = "working"
)

// AllNamespaces returns the fixed namespace set in declaration order.
func AllNamespaces() []Namespace {
	return []Namespace{
		NamespaceEpisodic,
		NamespaceSemantic,
		NamespacePreferences,
		NamespaceToolTraces,
		NamespaceSkills,
		NamespaceWorking,
	}
}

// Valid reports whether n is a member of the fixed namespace set.
func (n Namespace) Valid() bool {
	switch n {
	case NamespaceEpisodic, NamespaceSemantic, NamespacePreferences,
		NamespaceToolTraces, NamespaceSkills, NamespaceWorking:
		return true
	}
	return false
}

func (n Namespace) String() string { return string(n) }
