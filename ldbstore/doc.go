// Package ldbstore implements the selfplay pool store on top of a
// LevelDB database, so the opponent pool and rollout queue survive
// process restarts.
//
// Paired writes (a snapshot and its initial quality, the latest blob
// and its version) go through a single leveldb.Batch, and quality
// updates run under a store-wide mutex, so the atomicity contract of
// selfplay.PoolStore holds as long as one process owns the database.
// For multi-process deployments, serve it behind poolhttp.
package ldbstore
