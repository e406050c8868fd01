package policy

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/memlens/memlens/memory"
	"github.com/memlens/memlens/skills"
	"github.com/memlens/memlens/types"
)

// TurnState tracks the per-turn arbitration state machine. Every turn passes
// through Defended before anything is written or emitted.
type TurnState string

const (
	StateReceived  TurnState = "RECEIVED"
	StateRetrieved TurnState = "RETRIEVED"
	StateRouted    TurnState = "ROUTED"
	StateDefended  TurnState = "DEFENDED"
	StateWrite     TurnState = "WRITE"
	StateNoWrite   TurnState = "NO_WRITE"
	StateResponded TurnState = "RESPONDED"
)

// Filter reasons recorded on excluded retrieval results and rejected writes.
const (
	ReasonDirectiveContent = "directive_content"
	ReasonBelowTrustFloor  = "below_trust_floor"
)

// Defense identifiers carried in defense_triggered trace events.
const (
	DefenseInstructionStrip = "instruction_strip"
	DefenseTrustFloor       = "trust_floor"
	DefenseStoreworthiness  = "storeworthiness"
	DefenseSafetyConstraint = "safety_constraint"
)

// WriteCandidate is a fact the turn proposes to persist. The policy decides
// whether it is storeworthy.
type WriteCandidate struct {
	Namespace  types.Namespace `json:"namespace"`
	Key        string          `json:"key"`
	Value      string          `json:"value"`
	Source     types.Source    `json:"source"`
	TrustScore float64         `json:"trust_score"`
	TTL        int64           `json:"ttl,omitempty"`
}

// FilteredEntry records a retrieved entry excluded from response
// composition, and why.
type FilteredEntry struct {
	EntryID int64  `json:"entry_id"`
	Reason  string `json:"reason"`
	Matched string `json:"matched,omitempty"`
}

// RejectedWrite records a write candidate the storeworthiness filter turned
// away. Not an error: the turn continues with a no-write outcome for it.
type RejectedWrite struct {
	Candidate WriteCandidate `json:"candidate"`
	Matched   string         `json:"matched"`
}

// TurnResult is the complete outcome of one arbitrated turn.
type TurnResult struct {
	State        TurnState
	Retrieved    []types.MemoryEntry
	Usable       []types.MemoryEntry
	Filtered     []FilteredEntry
	Decision     skills.RouterDecision
	Skill        *skills.SkillSpec
	SkillApplied bool
	WrittenIDs   []int64
	Rejected     []RejectedWrite
	Response     string
}

// Config is the policy's construction-time configuration.
type Config struct {
	// TrustFloor excludes retrieved entries below this trust score from
	// response composition. The exclusion is traced, never silent.
	TrustFloor float64
	// RetrieveK caps how many entries one turn retrieves.
	RetrieveK int
	// CustomDirectivePatterns extends the built-in detector table.
	CustomDirectivePatterns []string
}

// AgentPolicy arbitrates one turn at a time over a store and a router it
// does not own. All collaborators are injected; there is no process-global
// state, so independent episodes can run their own policies in parallel.
type AgentPolicy struct {
	store    memory.Store
	router   *skills.Router
	detector *DirectiveDetector
	trace    *types.TraceLog
	cfg      Config
	logger   *zap.Logger
}

// New builds a policy over the given store and router. The trace log should
// be the same one the store and router emit into, so the episode's event
// sequence stays causally ordered.
func New(store memory.Store, router *skills.Router, trace *types.TraceLog, cfg Config, logger *zap.Logger) *AgentPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentPolicy{
		store:    store,
		router:   router,
		detector: NewDirectiveDetector(cfg.CustomDirectivePatterns...),
		trace:    trace,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "agent_policy")),
	}
}

// ProcessTurn runs the full arbitration sequence for one user turn:
// retrieve, route, defend, write, respond. Retrieval and routing failures
// degrade to a response composed from the query alone; only write validation
// errors propagate, and a failed write has no partial effect.
func (p *AgentPolicy) ProcessTurn(ctx context.Context, query string, writes []WriteCandidate) (TurnResult, error) {
	result := TurnResult{State: StateReceived}

	namespaces := p.selectNamespaces(query)
	retrieved, err := p.store.Retrieve(ctx, query, p.cfg.RetrieveK, namespaces)
	if err != nil {
		p.logger.Warn("retrieval failed, composing from query alone", zap.Error(err))
		retrieved = nil
	}
	result.Retrieved = retrieved
	result.State = StateRetrieved

	skill, _, decision := p.router.SelectSkill(query, countByNamespace(retrieved))
	result.Skill = skill
	result.Decision = decision
	result.State = StateRouted

	result.Usable, result.Filtered = p.defendRead(retrieved)
	result.State = StateDefended

	for _, cand := range writes {
		if matched, rejected := p.rejectWrite(cand); rejected {
			result.Rejected = append(result.Rejected, RejectedWrite{Candidate: cand, Matched: matched})
			continue
		}
		id, err := p.store.Write(ctx, cand.Namespace, cand.Key, cand.Value, cand.Source, cand.TrustScore, cand.TTL)
		if err != nil {
			return result, err
		}
		result.WrittenIDs = append(result.WrittenIDs, id)
	}
	if len(result.WrittenIDs) > 0 {
		result.State = StateWrite
	} else {
		result.State = StateNoWrite
	}

	result.SkillApplied = p.applySkill(skill, &result)
	result.Response = p.composeResponse(query, &result)

	contributing := make([]int64, 0, len(result.Usable))
	for _, entry := range result.Usable {
		contributing = append(contributing, entry.ID)
	}
	skillName := ""
	if result.SkillApplied {
		skillName = skill.Name
	}
	p.trace.Append(types.EventResponseEmitted, map[string]any{
		"response":               result.Response,
		"contributing_entry_ids": contributing,
		"skill_name":             skillName,
		"filtered_count":         len(result.Filtered),
		"rejected_write_count":   len(result.Rejected),
		"written_entry_ids":      append([]int64(nil), result.WrittenIDs...),
	})
	result.State = StateResponded

	p.logger.Debug("turn processed",
		zap.Int("retrieved", len(result.Retrieved)),
		zap.Int("usable", len(result.Usable)),
		zap.String("skill", skillName),
		zap.Int("written", len(result.WrittenIDs)),
		zap.Int("rejected", len(result.Rejected)))

	return result, nil
}

// selectNamespaces picks the retrieval pool from query keywords: factual
// queries pull semantic and preference memory, event queries pull episodic,
// procedural queries pull the skills namespace, tool queries pull recorded
// tool traces. Unmatched queries fall back to semantic plus episodic.
func (p *AgentPolicy) selectNamespaces(query string) []types.Namespace {
	queryLower := strings.ToLower(query)

	factKeywords := []string{"what", "who", "define", "explain", "fact", "know", "prefer"}
	eventKeywords := []string{"happened", "did", "occurred", "remember", "yesterday", "earlier", "last time"}
	procKeywords := []string{"workflow", "procedure", "steps", "execute"}
	toolKeywords := []string{"search", "tool", "look up", "compute", "calculate"}

	var namespaces []types.Namespace
	if containsAny(queryLower, factKeywords) {
		namespaces = append(namespaces, types.NamespaceSemantic, types.NamespacePreferences)
	}
	if containsAny(queryLower, eventKeywords) {
		namespaces = append(namespaces, types.NamespaceEpisodic)
	}
	if containsAny(queryLower, procKeywords) {
		namespaces = append(namespaces, types.NamespaceSkills)
	}
	if containsAny(queryLower, toolKeywords) {
		namespaces = append(namespaces, types.NamespaceToolTraces)
	}
	if len(namespaces) == 0 {
		namespaces = []types.Namespace{types.NamespaceSemantic, types.NamespaceEpisodic}
	}
	return namespaces
}

// defendRead splits retrieved entries into usable and filtered. Every
// returned value is untrusted regardless of trust score: directive-looking
// content is stripped first, then low-trust content is dropped below the
// floor. Each exclusion emits a defense_triggered event.
func (p *AgentPolicy) defendRead(retrieved []types.MemoryEntry) ([]types.MemoryEntry, []FilteredEntry) {
	usable := make([]types.MemoryEntry, 0, len(retrieved))
	var filtered []FilteredEntry

	for _, entry := range retrieved {
		if matches := p.detector.Detect(entry.Value); len(matches) > 0 {
			filtered = append(filtered, FilteredEntry{
				EntryID: entry.ID,
				Reason:  ReasonDirectiveContent,
				Matched: matches[0].MatchedText,
			})
			p.trace.Append(types.EventDefenseTriggered, map[string]any{
				"defense":   DefenseInstructionStrip,
				"entry_id":  entry.ID,
				"namespace": string(entry.Namespace),
				"matched":   matches[0].MatchedText,
				"severity":  matches[0].Severity,
			})
			continue
		}
		if entry.TrustScore < p.cfg.TrustFloor {
			filtered = append(filtered, FilteredEntry{
				EntryID: entry.ID,
				Reason:  ReasonBelowTrustFloor,
			})
			p.trace.Append(types.EventDefenseTriggered, map[string]any{
				"defense":     DefenseTrustFloor,
				"entry_id":    entry.ID,
				"namespace":   string(entry.Namespace),
				"trust_score": entry.TrustScore,
				"floor":       p.cfg.TrustFloor,
			})
			continue
		}
		usable = append(usable, entry)
	}
	return usable, filtered
}

// rejectWrite is the storeworthiness filter: content from an untrusted
// source whose apparent intent is directive never enters the store. The
// rejection is a recorded outcome, not an error.
func (p *AgentPolicy) rejectWrite(cand WriteCandidate) (string, bool) {
	if cand.Source != types.SourceInjected {
		return "", false
	}
	matches := p.detector.Detect(cand.Value)
	if len(matches) == 0 {
		return "", false
	}
	p.trace.Append(types.EventDefenseTriggered, map[string]any{
		"defense":   DefenseStoreworthiness,
		"namespace": string(cand.Namespace),
		"key":       cand.Key,
		"source":    string(cand.Source),
		"matched":   matches[0].MatchedText,
		"severity":  matches[0].Severity,
	})
	p.logger.Info("storeworthiness filter rejected write",
		zap.String("namespace", string(cand.Namespace)),
		zap.String("key", cand.Key),
		zap.String("matched", matches[0].MatchedText))
	return matches[0].MatchedText, true
}

// applySkill checks the selected skill's safety constraints against the
// turn's outcome and emits skill_applied when they hold. A violated
// constraint blocks the application and is traced as a defense.
func (p *AgentPolicy) applySkill(skill *skills.SkillSpec, result *TurnResult) bool {
	if skill == nil {
		return false
	}
	if skill.HasConstraint(skills.ConstraintNoMemoryWrite) && len(result.WrittenIDs) > 0 {
		p.trace.Append(types.EventDefenseTriggered, map[string]any{
			"defense":    DefenseSafetyConstraint,
			"skill_name": skill.Name,
			"constraint": skills.ConstraintNoMemoryWrite,
		})
		return false
	}
	p.trace.Append(types.EventSkillApplied, map[string]any{
		"skill_name":  skill.Name,
		"constraints": append([]string(nil), skill.SafetyConstraints...),
	})
	return true
}

// composeResponse builds the deterministic turn response from the usable
// memory and the applied skill. Filtered content never influences phrasing;
// its existence is only reported in aggregate.
func (p *AgentPolicy) composeResponse(query string, result *TurnResult) string {
	var b strings.Builder

	switch {
	case len(result.Usable) > 0:
		values := make([]string, 0, len(result.Usable))
		for _, entry := range result.Usable {
			values = append(values, entry.Value)
		}
		b.WriteString("Based on what I remember: ")
		b.WriteString(strings.Join(values, "; "))
		b.WriteString(".")
	default:
		b.WriteString("I don't have anything stored that answers that.")
	}

	if result.SkillApplied {
		b.WriteString(fmt.Sprintf(" (via %s)", result.Skill.Name))
	}

	directiveFiltered := 0
	for _, f := range result.Filtered {
		if f.Reason == ReasonDirectiveContent {
			directiveFiltered++
		}
	}
	if directiveFiltered > 0 {
		b.WriteString(fmt.Sprintf(" Note: %d stored item(s) looked like instructions and were not followed.", directiveFiltered))
	}
	return b.String()
}

func countByNamespace(entries []types.MemoryEntry) map[types.Namespace]int {
	counts := make(map[types.Namespace]int, len(entries))
	for _, entry := range entries {
		counts[entry.Namespace]++
	}
	return counts
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
