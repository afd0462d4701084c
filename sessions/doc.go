// Package sessions models durable, identified client sessions and the
// ephemeral transport bindings that serve them. A session is a record of a
// client's configuration that survives process restarts and transient
// disconnects; a binding pairs that record with a live transport and a bound
// protocol handler for as long as one connection lasts.
//
// The package centers on the Manager, which owns all session collections (the
// durable Store, the access-order tracker, and the transport registry) behind
// a single lock so that create, reuse, evict, delete, and unbind can never
// interleave inconsistently for the same session id. Long-running work —
// persistence excepted, protocol dispatch into a bound handler especially —
// happens outside that lock.
//
// Durability is write-through: every mutation of a session record is flushed
// to the Store before the operation completes. Transport bindings are never
// persisted; after a restart the registry is empty even though the Store has
// been repopulated from disk.
package sessions
