// Package session defines the per-thread conversation state for the
// writer/critic refinement loop and the stores that persist it.
//
// A State is exclusively owned by the orchestrator: it is loaded at the
// start of a step, mutated through append helpers, and saved once the step
// completes. Histories are append-only; only a full reset clears them.
package session
