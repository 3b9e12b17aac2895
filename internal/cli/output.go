package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/pfrederiksen/bake-events/internal/calendar"
	"github.com/pfrederiksen/bake-events/internal/event"
	"github.com/pfrederiksen/bake-events/internal/pipeline"
)

// OutputFormat specifies the output format
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
	FormatICS  OutputFormat = "ics"
)

// RunResult is what the run command reports
type RunResult struct {
	*pipeline.Summary
	DryRun      bool  `json:"dry_run,omitempty"`
	WouldInsert int64 `json:"would_insert,omitempty"`
	WouldDelete int64 `json:"would_delete,omitempty"`
	WouldMark   int64 `json:"would_mark,omitempty"`
}

// EventsResult contains exported events
type EventsResult struct {
	ExportedAt time.Time      `json:"exported_at"`
	Events     []event.Stored `json:"events"`
	Count      int            `json:"count"`
}

// WriteRun writes a run summary in the specified format
func WriteRun(w io.Writer, result *RunResult, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, result)
	case FormatText:
		return writeRunText(w, result)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// WritePlan writes a scheduling plan in the specified format
func WritePlan(w io.Writer, plan *pipeline.Plan, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, planJSON(plan))
	case FormatText:
		return writePlanText(w, plan)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// WriteEvents writes exported events in the specified format
func WriteEvents(w io.Writer, result *EventsResult, format OutputFormat, verbose bool) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, result)
	case FormatICS:
		return calendar.WriteICS(w, result.Events, result.ExportedAt)
	case FormatText:
		return writeEventsText(w, result, verbose)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// writeJSON outputs results as JSON
func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func writeRunText(w io.Writer, r *RunResult) error {
	s := r.Summary
	status := "completed"
	switch {
	case s.QuotaExhausted:
		status = "stopped: oracle quota exhausted"
	case s.Cancelled:
		status = "cancelled"
	}
	if r.DryRun {
		status += " (dry run)"
	}

	fmt.Fprintf(w, "Run %s %s\n", s.RunID, status)
	fmt.Fprintf(w, "  Masters:    %d selected, %d processed, %d failed\n", s.Selected, s.Processed, s.MastersFailed)
	fmt.Fprintf(w, "  Fetches:    %d failed\n", s.FetchFailed)
	fmt.Fprintf(w, "  Extraction: %d failed\n", s.ExtractFailed)
	fmt.Fprintf(w, "  Candidates: %d extracted, %d rejected, %d unattributed\n", s.Candidates, s.TotalRejected(), s.Unattributed)
	if len(s.Rejected) > 0 {
		reasons := make([]string, 0, len(s.Rejected))
		for reason := range s.Rejected {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			fmt.Fprintf(w, "    %s: %d\n", reason, s.Rejected[reason])
		}
	}
	fmt.Fprintf(w, "  Rows:       %d inserted, %d skipped, %d failed, %d deleted\n", s.Inserted, s.Skipped, s.RowsFailed, s.Deleted)
	fmt.Fprintf(w, "  Evicted:    %d before %s\n", s.Evicted, s.Cutoff)
	if r.DryRun {
		fmt.Fprintf(w, "  Would write: %d inserts, %d deletes, %d masters marked\n", r.WouldInsert, r.WouldDelete, r.WouldMark)
	}
	return nil
}

type planMaster struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	LastProcessedAt *time.Time `json:"last_processed_at"`
	URLs            []string   `json:"urls"`
	Leaves          int        `json:"leaves"`
}

type planOutput struct {
	Total           int          `json:"total"`
	RunsForCoverage int          `json:"runs_for_coverage"`
	Masters         []planMaster `json:"masters"`
	Invalid         []string     `json:"invalid,omitempty"`
}

func planJSON(plan *pipeline.Plan) planOutput {
	out := planOutput{
		Total:           plan.Total,
		RunsForCoverage: plan.RunsForCoverage,
		Masters:         make([]planMaster, 0, len(plan.Masters)),
	}
	for _, m := range plan.Masters {
		pm := planMaster{ID: m.ID, Name: m.Name, LastProcessedAt: m.LastProcessedAt}
		for _, j := range plan.JobsFor(m.ID) {
			pm.URLs = append(pm.URLs, j.URL)
			pm.Leaves += len(j.Scope)
		}
		out.Masters = append(out.Masters, pm)
	}
	for _, inv := range plan.Invalid {
		out.Invalid = append(out.Invalid, fmt.Sprintf("%d %s: %s", inv.Place.ID, inv.Place.Name, inv.Reason))
	}
	return out
}

func writePlanText(w io.Writer, plan *pipeline.Plan) error {
	out := planJSON(plan)
	if len(out.Masters) == 0 {
		fmt.Fprintln(w, "No masters to process.")
		return nil
	}

	fmt.Fprintf(w, "Next run processes %d of %d masters (%d runs for full coverage):\n",
		len(out.Masters), out.Total, out.RunsForCoverage)
	for _, m := range out.Masters {
		last := "never"
		if m.LastProcessedAt != nil {
			last = m.LastProcessedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "  %d %s (last processed %s, %d leaves)\n", m.ID, m.Name, last, m.Leaves)
		for _, u := range m.URLs {
			fmt.Fprintf(w, "       %s\n", u)
		}
	}
	for _, inv := range out.Invalid {
		fmt.Fprintf(w, "  skipped: %s\n", inv)
	}
	return nil
}

// writeEventsText outputs events as human-readable text
func writeEventsText(w io.Writer, result *EventsResult, verbose bool) error {
	if result.Count == 0 {
		fmt.Fprintln(w, "No events found.")
		return nil
	}

	for _, evt := range result.Events {
		fmt.Fprintf(w, "%s  %s: %s\n", evt.EventDate, evt.PlaceName, evt.Title)
		if verbose {
			fmt.Fprintf(w, "     ID: %d\n", evt.ID)
			if evt.Category != "" {
				fmt.Fprintf(w, "     Category: %s\n", evt.Category)
			}
			if evt.PriceText != "" {
				fmt.Fprintf(w, "     Price: %s\n", evt.PriceText)
			}
			if evt.Description != "" {
				fmt.Fprintf(w, "     %s\n", evt.Description)
			}
		}
	}
	fmt.Fprintf(w, "\nTotal: %d events\n", result.Count)
	return nil
}
