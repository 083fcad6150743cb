// Package orchestrator drives the writer/critic refinement loop.
//
// The engine owns the session state machine: it sequences the two role
// controllers and the tool gateway, applies the routing rules, and decides
// termination. One Step is one transition: load state, transition, save,
// emit events. Partial state is never persisted, so an abandoned step is
// equivalent to a step that never started.
//
// Liveness is guaranteed by three bounds: the per-role tool budget, the
// iteration cap, and a hard per-run step limit that covers pathological
// provider behavior the budgets cannot see.
package orchestrator
