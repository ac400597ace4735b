package batch

import (
	"github.com/mobdev-source/pdf-bulk-filler-version-2/internal/fill"
)

// Report aggregates per-record outcomes for one batch run. The runner owns
// the report exclusively while running and publishes read-only snapshots;
// once the batch reaches a terminal state the report no longer changes.
type Report struct {
	Total          int
	Succeeded      int
	Failed         int
	Skipped        int
	Cancelled      bool
	CombinedOutput string

	// Err carries a batch-level failure such as *MergeFailedError,
	// distinct from per-record failures.
	Err error

	// results is an arena indexed by original record index, so consumers
	// can reconstruct input order regardless of completion order.
	results []*fill.Result
}

func newReport(total int) *Report {
	return &Report{Total: total, results: make([]*fill.Result, total)}
}

// record stores one outcome. Callers serialize access.
func (r *Report) record(res fill.Result) {
	if res.Index < 0 || res.Index >= len(r.results) {
		return
	}
	r.results[res.Index] = &res
	if res.Succeeded() {
		r.Succeeded++
	} else {
		r.Failed++
	}
}

// Processed returns the number of records with a recorded outcome.
func (r *Report) Processed() int {
	return r.Succeeded + r.Failed
}

// Results returns recorded outcomes in original record-index order.
func (r *Report) Results() []fill.Result {
	out := make([]fill.Result, 0, r.Processed())
	for _, res := range r.results {
		if res != nil {
			out = append(out, *res)
		}
	}
	return out
}

// Result returns the outcome for one record index, if recorded.
func (r *Report) Result(index int) (fill.Result, bool) {
	if index < 0 || index >= len(r.results) || r.results[index] == nil {
		return fill.Result{}, false
	}
	return *r.results[index], true
}

// FailedResults returns the outcomes of records that produced no artifact.
func (r *Report) FailedResults() []fill.Result {
	var out []fill.Result
	for _, res := range r.results {
		if res != nil && !res.Succeeded() {
			out = append(out, *res)
		}
	}
	return out
}

// snapshot deep-copies the report so observers never see later mutations.
func (r *Report) snapshot() *Report {
	cp := *r
	cp.results = make([]*fill.Result, len(r.results))
	for i, res := range r.results {
		if res != nil {
			c := *res
			cp.results[i] = &c
		}
	}
	return &cp
}
