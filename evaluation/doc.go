// Package evaluation turns episode results into publishable numbers:
// per-episode task metrics, per-track aggregates, and a JSON report.
// Everything here is derived from recorded traces and verdicts, so
// recomputing a report from saved results gives identical output.
package evaluation
