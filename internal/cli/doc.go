// Package cli implements the command-line interface for bake-events.
//
// The cli package provides the Cobra-based CLI: run executes one discovery
// pass, plan shows what the scheduler would pick, evict sweeps stale rows,
// export prints stored events (text, JSON or iCalendar) and places import
// seeds the registry. It builds every dependency once from the loaded
// configuration and injects it into the pipeline.
package cli
