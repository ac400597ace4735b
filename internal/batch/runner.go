// Package batch drives the fill engine across many records concurrently,
// isolating per-record failures, reporting progress, and supporting
// cooperative cancellation.
package batch

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/mobdev-source/pdf-bulk-filler-version-2/internal/fill"
	"github.com/mobdev-source/pdf-bulk-filler-version-2/internal/tabular"
)

// State is the runner lifecycle: Idle -> Running -> {Completed, Cancelled,
// Failed}. Terminal states are final.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Progress is emitted after each record completes. Completed counts every
// processed record, success or failure, and only ever increases.
type Progress struct {
	Completed int
	Total     int
}

// Filler produces one filled document per record. fill.Engine satisfies it.
type Filler interface {
	Fill(ctx context.Context, index int, record tabular.Record, outPath string) fill.Result
}

// Merger combines finished documents. pdfform.Codec satisfies it.
type Merger interface {
	Merge(inputs []string, output string) error
}

// MergeFailedError reports a failed combined-output merge. It marks the
// whole batch Failed even when every individual fill succeeded.
type MergeFailedError struct {
	Output string
	Err    error
}

func (e *MergeFailedError) Error() string {
	return fmt.Sprintf("failed to merge combined output %s: %v", e.Output, e.Err)
}

func (e *MergeFailedError) Unwrap() error {
	return e.Err
}

// InvalidStateError reports an operation not valid in the current state.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Op, e.State)
}

// Options configures one batch run.
type Options struct {
	// Concurrency bounds the worker pool. Zero derives it from available
	// parallelism.
	Concurrency int

	// OutputDir receives one document per record.
	OutputDir string

	// FilenamePattern names per-record outputs; it must contain one
	// integer verb for the record index.
	FilenamePattern string

	// CombinedOutput, when set, merges all successful outputs into one
	// document at this path after the batch drains.
	CombinedOutput string
}

// Runner executes one batch. A Runner is single-use: Start may be called
// exactly once.
type Runner struct {
	filler  Filler
	merger  Merger
	records []tabular.Record
	opts    Options

	mu     sync.Mutex
	state  State
	report *Report
	final  *Report

	progress   chan Progress
	done       chan struct{}
	cancelCh   chan struct{}
	cancelOnce sync.Once
}

// NewRunner creates an idle runner over the given records.
func NewRunner(filler Filler, merger Merger, records []tabular.Record, opts Options) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.NumCPU()
	}
	if opts.Concurrency > len(records) && len(records) > 0 {
		opts.Concurrency = len(records)
	}
	if opts.FilenamePattern == "" {
		opts.FilenamePattern = "record-%05d.pdf"
	}
	return &Runner{
		filler:   filler,
		merger:   merger,
		records:  records,
		opts:     opts,
		state:    StateIdle,
		report:   newReport(len(records)),
		progress: make(chan Progress, len(records)+1),
		done:     make(chan struct{}),
		cancelCh: make(chan struct{}),
	}
}

// Start transitions Idle to Running and returns immediately; the batch runs
// asynchronously until a terminal state.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateIdle {
		state := r.state
		r.mu.Unlock()
		return &InvalidStateError{Op: "start", State: state}
	}
	r.state = StateRunning
	r.mu.Unlock()

	go r.run(ctx)
	return nil
}

// Cancel requests cooperative cancellation: no new records are dispatched,
// in-flight records finish, and completed results stay in the report.
func (r *Runner) Cancel() {
	r.cancelOnce.Do(func() { close(r.cancelCh) })
}

// Progress returns the progress stream. It is closed when the batch
// reaches a terminal state.
func (r *Runner) Progress() <-chan Progress {
	return r.progress
}

// Done is closed when the batch reaches a terminal state.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the batch reaches a terminal state and returns the
// final, immutable report.
func (r *Runner) Wait() *Report {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.final
}

// State returns the current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Snapshot returns a read-only copy of the report as of now.
func (r *Runner) Snapshot() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.final != nil {
		return r.final
	}
	return r.report.snapshot()
}

func (r *Runner) run(ctx context.Context) {
	indices := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < r.opts.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range indices {
				outPath := filepath.Join(r.opts.OutputDir, fmt.Sprintf(r.opts.FilenamePattern, idx))
				res := r.filler.Fill(ctx, idx, r.records[idx], outPath)
				res.Index = idx
				r.record(res)
			}
		}()
	}

	// Dispatch in input order. Cancellation is checked before every send
	// so an already-cancelled batch never hands out another record.
dispatch:
	for i := range r.records {
		select {
		case <-r.cancelCh:
			break dispatch
		case <-ctx.Done():
			break dispatch
		default:
		}
		select {
		case <-r.cancelCh:
			break dispatch
		case <-ctx.Done():
			break dispatch
		case indices <- i:
		}
	}
	close(indices)
	wg.Wait()

	r.finalize(ctx)
	close(r.progress)
	close(r.done)
}

// record stores one result and emits progress. All report mutation is
// serialized behind the runner mutex, and the progress send happens under
// the same lock so completed counts arrive in increasing order. The channel
// is sized for one event per record, so the send never blocks.
func (r *Runner) record(res fill.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.record(res)
	r.progress <- Progress{Completed: r.report.Processed(), Total: r.report.Total}
}

func (r *Runner) finalize(ctx context.Context) {
	cancelled := ctx.Err() != nil
	select {
	case <-r.cancelCh:
		cancelled = true
	default:
	}

	r.mu.Lock()
	report := r.report
	if cancelled {
		report.Cancelled = true
		report.Skipped = report.Total - report.Processed()
		r.state = StateCancelled
		r.final = report.snapshot()
		r.mu.Unlock()
		return
	}

	var inputs []string
	if r.opts.CombinedOutput != "" {
		for _, res := range report.Results() {
			if res.Succeeded() {
				inputs = append(inputs, res.OutputPath)
			}
		}
	}
	r.mu.Unlock()

	// Merge outside the lock; observers may poll state meanwhile.
	var mergeErr error
	if r.opts.CombinedOutput != "" && len(inputs) > 0 {
		if err := r.merger.Merge(inputs, r.opts.CombinedOutput); err != nil {
			mergeErr = &MergeFailedError{Output: r.opts.CombinedOutput, Err: err}
		}
	}

	r.mu.Lock()
	if mergeErr != nil {
		report.Err = mergeErr
		r.state = StateFailed
	} else {
		if r.opts.CombinedOutput != "" && len(inputs) > 0 {
			report.CombinedOutput = r.opts.CombinedOutput
		}
		r.state = StateCompleted
	}
	r.final = report.snapshot()
	r.mu.Unlock()
}
