package episode

import (
	"time"

	"github.com/memlens/memlens/attribution"
	"github.com/memlens/memlens/policy"
	"github.com/memlens/memlens/types"
)

// ThreatLevel labels how adversarial an episode is.
type ThreatLevel string

const (
	ThreatNone   ThreatLevel = "none"
	ThreatLow    ThreatLevel = "low"
	ThreatMedium ThreatLevel = "medium"
	ThreatHigh   ThreatLevel = "high"
)

// Seed pre-populates the store before the first turn. Seeds bypass the
// policy's write-time defenses, modeling content that entered memory through
// a surface the arbitration layer does not guard.
type Seed struct {
	Namespace  types.Namespace `json:"namespace"`
	Key        string          `json:"key"`
	Value      string          `json:"value"`
	Source     types.Source    `json:"source"`
	TrustScore float64         `json:"trust_score"`
	TTL        int64           `json:"ttl,omitempty"`
}

// Turn is one scripted user turn: the input fed to the policy and the write
// candidates the turn proposes.
type Turn struct {
	Number    int                     `json:"number"`
	UserInput string                  `json:"user_input"`
	Writes    []policy.WriteCandidate `json:"writes,omitempty"`
}

// Episode is a complete scripted scenario with expected outcomes.
type Episode struct {
	ID           string               `json:"episode_id"`
	TrackID      string               `json:"track_id"`
	ThreatLevel  ThreatLevel          `json:"threat_level"`
	Title        string               `json:"title"`
	Description  string               `json:"description"`
	InitialState []Seed               `json:"initial_state,omitempty"`
	Expected     attribution.Expected `json:"expected"`
	Turns        []Turn               `json:"turns"`

	// Capacity overrides the runner's per-namespace caps for this episode,
	// letting capacity-pressure tracks pin the store shape they need.
	Capacity map[types.Namespace]int `json:"capacity,omitempty"`
}

// TurnOutcome summarizes what one turn actually did.
type TurnOutcome struct {
	Number         int     `json:"number"`
	Response       string  `json:"response"`
	SkillUsed      string  `json:"skill_used,omitempty"`
	WrittenIDs     []int64 `json:"written_ids,omitempty"`
	RejectedWrites int     `json:"rejected_writes,omitempty"`
	FilteredReads  int     `json:"filtered_reads,omitempty"`
}

// Result is the full outcome of one episode run: every turn's summary, the
// complete ordered trace, and the attribution verdict over it.
type Result struct {
	RunID       string                         `json:"run_id"`
	EpisodeID   string                         `json:"episode_id"`
	TrackID     string                         `json:"track_id"`
	ThreatLevel ThreatLevel                    `json:"threat_level"`
	Turns       []TurnOutcome                  `json:"turns"`
	Trace       []types.TraceEvent             `json:"trace"`
	Expected    attribution.Expected           `json:"expected"`
	Verdict     attribution.AttributionVerdict `json:"verdict"`
	Success     bool                           `json:"success"`

	// Duration is wall-clock instrumentation only; replays of the same
	// episode produce identical traces but different durations.
	Duration time.Duration `json:"duration_ns,omitempty"`
}
