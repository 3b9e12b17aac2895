package pipeline

import (
	"time"

	"github.com/pfrederiksen/bake-events/internal/dedup"
	"github.com/pfrederiksen/bake-events/internal/event"
	"github.com/pfrederiksen/bake-events/internal/logger"
	"github.com/pfrederiksen/bake-events/internal/validate"
)

// Summary describes one run
type Summary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Cutoff     string    `json:"cutoff"`

	Selected      int `json:"selected"`
	Processed     int `json:"processed"`
	MastersFailed int `json:"masters_failed"`
	FetchFailed   int `json:"fetch_failed"`
	ExtractFailed int `json:"extract_failed"`

	Candidates   int            `json:"candidates"`
	Rejected     map[string]int `json:"rejected"`
	Unattributed int            `json:"unattributed"`

	Inserted   int   `json:"inserted"`
	Skipped    int   `json:"skipped"`
	RowsFailed int   `json:"rows_failed"`
	Deleted    int64 `json:"deleted"`
	Evicted    int64 `json:"evicted"`

	Cancelled      bool `json:"cancelled"`
	QuotaExhausted bool `json:"quota_exhausted"`

	// Written are the rows inserted by this run
	Written []event.Stored `json:"-"`
}

func newSummary(runID string, started time.Time) *Summary {
	return &Summary{
		RunID:     runID,
		StartedAt: started,
		Rejected:  make(map[string]int),
	}
}

func (s *Summary) reject(r validate.Reason) {
	s.Rejected[string(r)]++
}

func (s *Summary) add(r dedup.Result) {
	s.Inserted += r.Inserted
	s.Skipped += r.Skipped
	s.RowsFailed += r.Failed
	s.Deleted += r.Deleted
	s.Written = append(s.Written, r.Written...)
}

// TotalRejected sums rejections over all reasons
func (s *Summary) TotalRejected() int {
	n := 0
	for _, c := range s.Rejected {
		n += c
	}
	return n
}

// Fields renders the summary as log fields
func (s *Summary) Fields() logger.Fields {
	return logger.Fields{
		"selected":       s.Selected,
		"processed":      s.Processed,
		"failed":         s.MastersFailed,
		"fetch_failed":   s.FetchFailed,
		"extract_failed": s.ExtractFailed,
		"candidates":     s.Candidates,
		"rejected":       s.TotalRejected(),
		"unattributed":   s.Unattributed,
		"inserted":       s.Inserted,
		"skipped":        s.Skipped,
		"rows_failed":    s.RowsFailed,
		"deleted":        s.Deleted,
		"evicted":        s.Evicted,
		"duration":       s.FinishedAt.Sub(s.StartedAt).String(),
	}
}
