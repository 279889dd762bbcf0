// Package engine hosts the workflow instance orchestrator. Each instance
// is a single-writer actor: one goroutine owns its state and applies
// inbound operations strictly one turn at a time, so instance state needs
// no locking. Turns never block on evaluation results; a routing decision
// that needs one is parked under a correlation key and resumed when the
// result arrives through the engine's ResultSink callbacks.
//
// The engine publishes domain events on the event bus, persists a
// snapshot after every committed turn, and links parent and child
// workflow instances through the child-workflow topics.
package engine
