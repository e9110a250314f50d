// Package echopipe is a synchronized bounded byte-buffer toolkit: a
// shared, resizable FIFO resource supporting blocking concurrent
// readers and writers, writer-lifetime tracking, and dual-mode
// readiness notification.
//
// # Architecture
//
// The repository is organized around one core resource and thin
// surfaces on top of it:
//
//	┌─────────────────────────────────────┐
//	│   cmd/echod · cmd/echoctl           │  Daemon and control CLI
//	└─────────────────────────────────────┘
//	           ↓ HTTP / WebSocket
//	┌─────────────────────────────────────┐
//	│   gateway · client · natspub        │  Remote command surface,
//	│                                     │  event fan-out
//	└─────────────────────────────────────┘
//	           ↓ handles, subscriptions
//	┌─────────────────────────────────────┐
//	│   pipe.Resource                     │  Bounded buffer, blocking
//	│   (buffer · sync · readiness)       │  I/O, poll + subscriptions
//	└─────────────────────────────────────┘
//
// The pipe package is library-first: a Resource is explicitly
// constructed with pipe.New and torn down with Close; nothing in this
// module holds process-wide singletons. Readers and writers obtain
// capability-scoped handles via Resource.Open. When the last
// write-capable handle closes, readers observe end-of-input. Readiness
// is observable two ways from a single predicate: level-triggered
// (Resource.Poll / PollWait) and edge-triggered
// (Resource.Subscribe), so a poll answer and a subscription's
// magnitude query always agree.
//
// Supporting packages follow the same conventions throughout: errors
// carries the domain error taxonomy and classification, metric wraps a
// Prometheus registry, config loads and validates daemon
// configuration, health reports liveness, and pkg/retry provides
// backoff for transport connection establishment.
package echopipe
