package ingest

import (
	"fmt"
	"io"
	"time"

	"github.com/crawldex/crawldex/internal/engine"
)

// Report summarizes one ingestion run.
type Report struct {
	RunID string `json:"run_id"`
	Index string `json:"index"`

	// Submitted counts records handed to the indexer.
	Submitted int `json:"submitted"`

	// BatchesFlushed counts bulk writes the engine accepted, including
	// writes in which some items failed.
	BatchesFlushed int `json:"batches_flushed"`

	// Took holds the engine-reported time of each accepted batch.
	Took      []time.Duration `json:"took"`
	TotalTook time.Duration   `json:"total_took"`

	// Errors holds one entry per rejected item.
	Errors []ItemFailure `json:"errors"`

	// BatchFailures holds one entry per bulk write that failed as a whole.
	BatchFailures []BatchFailure `json:"batch_failures,omitempty"`

	Elapsed time.Duration `json:"elapsed"`
}

// ItemFailure is one rejected bulk item.
type ItemFailure struct {
	ID     string `json:"id"`
	Type   string `json:"type,omitempty"`
	Reason string `json:"reason"`
}

// BatchFailure is one bulk write that failed in transport.
type BatchFailure struct {
	Batch   int    `json:"batch"`
	Records int    `json:"records"`
	Error   string `json:"error"`
}

// Failed reports whether every attempted batch failed in transport.
func (r *Report) Failed() bool {
	return len(r.BatchFailures) > 0 && r.BatchesFlushed == 0
}

// Indexed returns the number of records the engine accepted.
func (r *Report) Indexed() int {
	lost := len(r.Errors)
	for _, f := range r.BatchFailures {
		lost += f.Records
	}
	return r.Submitted - lost
}

// WriteText prints a human-readable summary.
func (r *Report) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w,
		"Run %s -> %s\n  submitted: %d\n  indexed:   %d\n  batches:   %d (%d failed)\n  took:      %s\n  elapsed:   %s\n",
		r.RunID, r.Index, r.Submitted, r.Indexed(), r.BatchesFlushed, len(r.BatchFailures),
		r.TotalTook, r.Elapsed.Round(time.Millisecond))
	if err != nil {
		return err
	}
	for _, f := range r.BatchFailures {
		if _, err := fmt.Fprintf(w, "  batch %d failed: %s\n", f.Batch, f.Error); err != nil {
			return err
		}
	}
	for _, e := range r.Errors {
		if _, err := fmt.Fprintf(w, "  item %s: %s\n", e.ID, e.Reason); err != nil {
			return err
		}
	}
	return nil
}

func (r *Report) addBatch(took time.Duration) {
	r.BatchesFlushed++
	r.Took = append(r.Took, took)
	r.TotalTook += took
}

func (r *Report) addItemFailure(item engine.BulkItem) {
	r.Errors = append(r.Errors, ItemFailure{
		ID:     item.ID,
		Type:   item.Error.Type,
		Reason: item.Error.Reason,
	})
}

func (r *Report) addBatchFailure(batch, records int, err error) {
	r.BatchFailures = append(r.BatchFailures, BatchFailure{
		Batch:   batch,
		Records: records,
		Error:   err.Error(),
	})
}
