// Package event provides the event types handled by the discovery pipeline.
//
// A Candidate is the transient, unvalidated record produced by one extraction
// call. A Stored event is what the pipeline persists: the candidate fields minus
// the location hint, attributed to a leaf place and keyed by
// (place_id, event_date, title_key). TitleKey gives the normalized title prefix
// used for soft uniqueness, and Index tracks keys across a write batch.
package event
