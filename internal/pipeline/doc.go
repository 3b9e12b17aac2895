// Package pipeline runs one discovery pass over the tracked places.
//
// A run sweeps stale events, selects a batch of masters, fetches their pages
// concurrently, then handles masters one at a time: extract candidates through
// the rate-limited oracle, validate, attribute to leaf places, and write the
// batch with a targeted stale sweep inside a single store transaction. A master
// is marked processed once its batch is written. Cancellation and oracle quota
// exhaustion stop the run early; every other failure is confined to one master.
package pipeline
