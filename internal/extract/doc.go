// Package extract turns a page's visible text into event candidates by asking
// an extraction oracle (a hosted language model) for a JSON array.
//
// The Client truncates the text, renders the prompt, calls the Oracle through
// a RetryPolicy and parses the response. Rate limiting is retried with
// exponential backoff. A malformed response or any other oracle failure yields
// no candidates and ErrNoResult, which callers treat as a failed extraction
// rather than an empty calendar. ErrQuotaExhausted ends the run.
package extract
