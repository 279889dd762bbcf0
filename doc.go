// Package fleans provides a BPMN-style process execution engine for Go.
// It advances long-running workflow instances through activities, evaluates
// branching conditions, routes errors, and tracks variables until each
// instance completes or fails.
//
// Fleans is designed as a library, not a service. Import it, register
// process definitions, configure a store and an event bus, and drive
// instances through the engine's public contract.
//
// # Quick Start
//
//	eng, err := engine.New(
//	    engine.WithStore(memory.New()),
//	    engine.WithBus(event.NewMemoryBus()),
//	)
//
// # Architecture
//
// Each workflow instance is a single-writer, turn-based actor: all state
// mutations for one instance are applied strictly one at a time through a
// per-instance mailbox. Condition and script evaluation is decoupled from
// the instance's own turn: the engine publishes evaluation requests on the
// event bus, a pool of stateless workers evaluates them, and results resume
// the exact pending routing decision via correlation keys.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package fleans
