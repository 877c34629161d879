// Package mongo implements the storage contract on MongoDB. Snapshot
// aggregations run server side as pipelines with disk spill allowed; median
// statistics are finished client side.
package mongo
