// Package storage defines the interface for scan state storage.
// It is implemented by a MongoDB-backed store (pkg/storage/mongo) and an
// in-memory store (pkg/storage/memory) used by tests and dry runs.
//
// Aggregations are part of the contract: the snapshot builder asks the store
// for counts and statistics rather than iterating documents itself, so the
// database backend can run them server side.
package storage
