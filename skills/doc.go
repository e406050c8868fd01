// Package skills implements the skill registry and the heuristic router.
//
// The registry holds an immutable set of declarative SkillSpecs, loaded once
// and replaced atomically on re-load. The router scores candidate skills
// against a query and the memory namespaces currently populated; its output
// is a pure function of (query, memory availability, loaded specs), so a
// replayed episode selects identical skills. Scoring is intentionally simple
// and explainable: every decision records the candidates considered and a
// structured rationale for audit by failure attribution.
package skills
