package compress

import (
	"github.com/schaermu/vpkpipe/internal/changegate"
)

// Outcome is what happened to one container
type Outcome string

const (
	OutcomeCompressed Outcome = "compressed"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeFailed     Outcome = "failed"
	OutcomeCanceled   Outcome = "canceled"
)

// Result records the processing of a single container
type Result struct {
	Container string            // container file name
	Archive   string            // archive path (first volume when split)
	Outcome   Outcome           // what happened
	Reason    changegate.Reason // why the gate decided as it did
	Size      int64             // archive bytes on disk after the run
	Err       error             // set when Outcome is failed
}

// Report collects per-container results in discovery order
type Report struct {
	Results []Result
}

// Count returns the number of results with outcome o
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Failed returns the failed results
func (r *Report) Failed() []Result {
	var failed []Result
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			failed = append(failed, res)
		}
	}
	return failed
}
