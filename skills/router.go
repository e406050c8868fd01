package skills

import (
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/memlens/memlens/types"
)

// Scoring constants. The 0-100 scale keeps individual contributions legible
// in rationales: pattern match dominates, namespace availability adjusts,
// priority only breaks ties.
const (
	patternWeight       = 60.0
	preconditionBonus   = 30.0
	preconditionPenalty = 20.0
)

// CandidateScore is one (name, score) pair considered during routing.
type CandidateScore struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Rationale explains how the top candidate's score came about.
type Rationale struct {
	PatternMatched    string  `json:"pattern_matched,omitempty"`
	PatternScore      float64 `json:"pattern_score"`
	PreconditionsMet  bool    `json:"preconditions_met"`
	PreconditionDelta float64 `json:"precondition_delta"`
}

// RouterDecision is the immutable record of one routing call. SkillName is
// empty when no skill cleared the confidence floor; the best-scoring
// candidate is still present in Candidates.
type RouterDecision struct {
	SkillName  string           `json:"skill_name,omitempty"`
	Score      float64          `json:"score"`
	Confidence float64          `json:"confidence"`
	Candidates []CandidateScore `json:"candidates_considered"`
	Rationale  Rationale        `json:"rationale"`
}

// Router scores loaded skills against a query and the populated memory
// namespaces. Stateless apart from the registry reference: identical inputs
// against an unchanged registry produce identical decisions.
type Router struct {
	registry        *Registry
	confidenceFloor float64
	trace           *types.TraceLog
	logger          *zap.Logger
}

// NewRouter creates a router over the given registry. The trace log may be
// nil when routing outside an episode.
func NewRouter(registry *Registry, confidenceFloor float64, trace *types.TraceLog, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		registry:        registry,
		confidenceFloor: confidenceFloor,
		trace:           trace,
		logger:          logger.With(zap.String("component", "skill_router")),
	}
}

// SelectSkill scores every loaded skill and returns the winner, or nil with
// a recorded decision when the top score falls below the confidence floor.
// memoryAvailable maps namespaces to live entry counts, supplied by the
// caller from its retrieval context.
func (r *Router) SelectSkill(query string, memoryAvailable map[types.Namespace]int) (*SkillSpec, float64, RouterDecision) {
	specs := r.registry.snapshot()

	type scored struct {
		spec      SkillSpec
		score     float64
		rationale Rationale
	}
	results := make([]scored, 0, len(specs))
	for _, spec := range specs {
		score, rationale := scoreSkill(query, spec, memoryAvailable)
		results = append(results, scored{spec: spec, score: score, rationale: rationale})
	}

	// Order: score desc, priority desc, then name asc for full determinism.
	// snapshot() already yields name order, so a stable sort on the first
	// two keys is enough.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].spec.Priority > results[j].spec.Priority
	})

	candidates := make([]CandidateScore, len(results))
	for i, res := range results {
		candidates[i] = CandidateScore{Name: res.spec.Name, Score: res.score}
	}

	decision := RouterDecision{Candidates: candidates}
	var selected *SkillSpec
	if len(results) > 0 {
		top := results[0]
		decision.Score = top.score
		decision.Confidence = clamp01(top.score / 100.0)
		decision.Rationale = top.rationale
		if decision.Confidence >= r.confidenceFloor && top.score > 0 {
			spec := top.spec
			selected = &spec
			decision.SkillName = spec.Name
		}
	}

	if r.trace != nil {
		r.trace.Append(types.EventSkillSelected, map[string]any{
			"skill_name": decision.SkillName,
			"score":      decision.Score,
			"confidence": decision.Confidence,
			"candidates": candidateDetails(candidates),
		})
	}
	r.logger.Debug("skill selected",
		zap.String("skill", decision.SkillName),
		zap.Float64("score", decision.Score),
		zap.Float64("confidence", decision.Confidence))

	return selected, decision.Score, decision
}

// scoreSkill combines trigger-pattern match strength with namespace
// availability. An empty RequiredNamespaces list counts as met.
func scoreSkill(query string, spec SkillSpec, memoryAvailable map[types.Namespace]int) (float64, Rationale) {
	patternScore, matched := bestPatternMatch(query, spec.TriggerPatterns)

	met := true
	for _, ns := range spec.RequiredNamespaces {
		if memoryAvailable[ns] == 0 {
			met = false
			break
		}
	}

	score := patternWeight * patternScore
	delta := -preconditionPenalty
	if met {
		delta = preconditionBonus
	}
	score += delta

	return score, Rationale{
		PatternMatched:    matched,
		PatternScore:      patternScore,
		PreconditionsMet:  met,
		PreconditionDelta: delta,
	}
}

// bestPatternMatch returns the strongest match in [0,1] across the skill's
// trigger patterns: 1.0 for a whole-phrase hit, otherwise the fraction of
// the pattern's tokens present in the query.
func bestPatternMatch(query string, patterns []string) (float64, string) {
	queryLower := strings.ToLower(query)
	queryTokens := make(map[string]struct{})
	for _, t := range tokenizeQuery(queryLower) {
		queryTokens[t] = struct{}{}
	}

	best := 0.0
	matched := ""
	for _, pattern := range patterns {
		patternLower := strings.ToLower(pattern)
		var score float64
		if strings.Contains(queryLower, patternLower) {
			score = 1.0
		} else {
			patternTokens := tokenizeQuery(patternLower)
			if len(patternTokens) == 0 {
				continue
			}
			hits := 0
			for _, pt := range patternTokens {
				if _, ok := queryTokens[pt]; ok {
					hits++
				}
			}
			score = float64(hits) / float64(len(patternTokens))
		}
		if score > best {
			best = score
			matched = pattern
		}
	}
	return best, matched
}

func tokenizeQuery(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func candidateDetails(candidates []CandidateScore) []map[string]any {
	out := make([]map[string]any, len(candidates))
	for i, c := range candidates {
		out[i] = map[string]any{"name": c.Name, "score": c.Score}
	}
	return out
}
