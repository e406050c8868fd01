// Package attribution classifies episode failures into write, retrieve, and
// apply faults from the ordered trace event sequence alone. It never mutates
// the trace; verdicts carry the implicated event indices as evidence. The
// fault checks run in causal precedence order: a downstream stage is never
// blamed when an upstream stage already failed.
package attribution
