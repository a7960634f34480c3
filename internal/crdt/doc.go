// Package crdt implements the replicated text document underlying the
// synchronization service.
//
// # Model
//
// A document is an RGA (replicated growable array) of characters. Every
// character carries a unique ID of (replica, counter) and an origin link to
// the character it was inserted after. Deletes leave tombstones. Concurrent
// inserts at the same origin are ordered by descending (counter, replica),
// which is the same on every replica, so all replicas converge to the same
// sequence regardless of delivery order.
//
// # Updates
//
// A local edit produces an Update: an opaque serialized batch of insert and
// delete operations tagged with the originating replica. Applying an update
// is idempotent (known ops are skipped) and commutative (ops whose origin
// has not arrived yet are buffered until it does), so redelivery and
// reordering are safe.
//
// # Snapshots
//
// EncodeState serializes the full element sequence including tombstones.
// Merge folds one document's state into another by replaying its elements
// as operations; merging is idempotent, so "merge rather than compare" is
// the safe way to reconcile a durable snapshot with live in-memory state.
package crdt
