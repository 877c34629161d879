// Package memory implements the storage contract entirely in process.
// It backs the test suites and tooling dry runs; aggregations are computed
// client side over the held documents.
package memory
