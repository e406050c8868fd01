// Package types provides the shared type definitions for the memlens
// harness: the memory namespace enum, the memory entry and operation log
// schema, the trace event schema consumed by failure attribution, and the
// structured error type used across all packages.
package types
