// Package storage defines the persistence contracts of the pipeline and the
// JSON snapshot backend.
//
// EventStore covers the stored-event table (select, insert, delete, upsert with
// conflict keys). PlaceRegistry is the read view over places plus the single
// write the pipeline performs on them (last_processed_at). Backends that can
// run a group of writes atomically also implement Transactor.
//
// The snapshot backend keeps places and events in one JSON file, written
// atomically after every mutation. The default location is
// ~/.local/share/bake-events/snapshot.json. Postgres and SQLite backends live
// in the postgres and sqlite subpackages.
package storage
