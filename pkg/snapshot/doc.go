// Package snapshot builds immutable point-in-time aggregations for an owner
// and its included descendants. A build tags the owner's current documents
// with a fresh snapshot id, runs the metric aggregations over the tagged
// set, and persists the result as the owner's latest snapshot.
package snapshot
