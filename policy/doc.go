// Package policy implements the arbitration layer between the user, the
// memory store, and the skill router. It is the trust boundary of the
// harness: every retrieved memory value and every write candidate is treated
// as untrusted content, and directive-looking payloads are stripped at read
// time or rejected at write time with a recorded defense event.
package policy
