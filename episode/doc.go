// Package episode drives scripted evaluation episodes through the
// arbitration core. Each episode owns its store, registry, and trace log, so
// episodes run in parallel with structural isolation rather than locks; the
// built-in track library covers benign capability checks and two robustness
// tiers of memory-poisoning attacks.
package episode
