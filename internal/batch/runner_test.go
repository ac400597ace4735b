package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobdev-source/pdf-bulk-filler-version-2/internal/fill"
	"github.com/mobdev-source/pdf-bulk-filler-version-2/internal/tabular"
)

// stubFiller fabricates results without touching a real template.
type stubFiller struct {
	mu      sync.Mutex
	delay   time.Duration
	failIdx map[int]error
	started chan int
	release chan struct{}
	calls   []int
}

func (s *stubFiller) Fill(ctx context.Context, index int, record tabular.Record, outPath string) fill.Result {
	s.mu.Lock()
	s.calls = append(s.calls, index)
	s.mu.Unlock()

	if s.started != nil {
		s.started <- index
	}
	if s.release != nil {
		<-s.release
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if err, ok := s.failIdx[index]; ok {
		return fill.Result{Index: index, Status: fill.StatusFailed, Err: err}
	}
	return fill.Result{Index: index, Status: fill.StatusFilled, OutputPath: outPath}
}

type stubMerger struct {
	mu     sync.Mutex
	err    error
	inputs []string
	output string
	calls  int
}

func (s *stubMerger) Merge(inputs []string, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.inputs = append([]string(nil), inputs...)
	s.output = output
	return s.err
}

func makeRecords(n int) []tabular.Record {
	records := make([]tabular.Record, n)
	for i := range records {
		records[i] = tabular.Record{"name": fmt.Sprintf("person-%d", i)}
	}
	return records
}

func TestRunner_StartTwiceFails(t *testing.T) {
	r := NewRunner(&stubFiller{}, &stubMerger{}, makeRecords(3), Options{OutputDir: t.TempDir()})

	require.NoError(t, r.Start(context.Background()))
	err := r.Start(context.Background())

	var invalid *InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "start", invalid.Op)
	r.Wait()
}

func TestRunner_FailureIsolation(t *testing.T) {
	filler := &stubFiller{failIdx: map[int]error{2: errors.New("bad value")}}
	r := NewRunner(filler, &stubMerger{}, makeRecords(5), Options{
		Concurrency: 3,
		OutputDir:   t.TempDir(),
	})

	require.NoError(t, r.Start(context.Background()))
	report := r.Wait()

	assert.Equal(t, StateCompleted, r.State())
	assert.Equal(t, 5, report.Total)
	assert.Equal(t, 4, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Skipped)
	assert.False(t, report.Cancelled)
	assert.NoError(t, report.Err)

	failed := report.FailedResults()
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].Index)
	assert.EqualError(t, failed[0].Err, "bad value")
}

func TestRunner_ProgressIsMonotonicAndComplete(t *testing.T) {
	r := NewRunner(&stubFiller{}, &stubMerger{}, makeRecords(8), Options{
		Concurrency: 4,
		OutputDir:   t.TempDir(),
	})
	require.NoError(t, r.Start(context.Background()))

	var events []Progress
	for p := range r.Progress() {
		events = append(events, p)
	}

	require.Len(t, events, 8)
	for i, p := range events {
		assert.Equal(t, i+1, p.Completed)
		assert.Equal(t, 8, p.Total)
	}
	assert.Equal(t, StateCompleted, r.State())
}

func TestRunner_ProgressNeverGoesBackwards(t *testing.T) {
	// Many workers finishing near-simultaneously must still publish
	// strictly increasing completed counts.
	r := NewRunner(&stubFiller{}, &stubMerger{}, makeRecords(64), Options{
		Concurrency: 16,
		OutputDir:   t.TempDir(),
	})
	require.NoError(t, r.Start(context.Background()))

	prev := 0
	for p := range r.Progress() {
		require.Greater(t, p.Completed, prev,
			"progress went backwards: saw %d after %d", p.Completed, prev)
		prev = p.Completed
	}
	assert.Equal(t, 64, prev)
}

func TestRunner_ResultsKeepInputOrder(t *testing.T) {
	// Uneven per-record delays shuffle completion order.
	filler := &stubFiller{delay: time.Millisecond}
	r := NewRunner(filler, &stubMerger{}, makeRecords(12), Options{
		Concurrency: 6,
		OutputDir:   t.TempDir(),
	})

	require.NoError(t, r.Start(context.Background()))
	report := r.Wait()

	results := report.Results()
	require.Len(t, results, 12)
	for i, res := range results {
		assert.Equal(t, i, res.Index)
	}
}

func TestRunner_CancelStopsDispatch(t *testing.T) {
	filler := &stubFiller{
		started: make(chan int, 10),
		release: make(chan struct{}),
	}
	r := NewRunner(filler, &stubMerger{}, makeRecords(10), Options{
		Concurrency: 2,
		OutputDir:   t.TempDir(),
	})
	require.NoError(t, r.Start(context.Background()))

	// Let exactly two records begin, then cancel and release them.
	<-filler.started
	<-filler.started
	r.Cancel()
	close(filler.release)

	report := r.Wait()

	assert.Equal(t, StateCancelled, r.State())
	assert.True(t, report.Cancelled)
	assert.Equal(t, 10, report.Total)
	// The two in-flight records finish; perhaps one more slipped into the
	// dispatch channel before cancel landed.
	assert.GreaterOrEqual(t, report.Processed(), 2)
	assert.LessOrEqual(t, report.Processed(), 3)
	assert.Equal(t, report.Total-report.Processed(), report.Skipped)
}

func TestRunner_ContextCancellation(t *testing.T) {
	filler := &stubFiller{
		started: make(chan int, 10),
		release: make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(filler, &stubMerger{}, makeRecords(6), Options{
		Concurrency: 1,
		OutputDir:   t.TempDir(),
	})
	require.NoError(t, r.Start(ctx))

	<-filler.started
	cancel()
	close(filler.release)

	report := r.Wait()
	assert.Equal(t, StateCancelled, r.State())
	assert.True(t, report.Cancelled)
	assert.Greater(t, report.Skipped, 0)
}

func TestRunner_CombinedOutputMergesInOrder(t *testing.T) {
	merger := &stubMerger{}
	dir := t.TempDir()
	r := NewRunner(&stubFiller{delay: time.Millisecond}, merger, makeRecords(4), Options{
		Concurrency:    4,
		OutputDir:      dir,
		CombinedOutput: dir + "/combined.pdf",
	})

	require.NoError(t, r.Start(context.Background()))
	report := r.Wait()

	assert.Equal(t, StateCompleted, r.State())
	assert.Equal(t, dir+"/combined.pdf", report.CombinedOutput)
	require.Equal(t, 1, merger.calls)
	require.Len(t, merger.inputs, 4)
	// Inputs follow record order even though completion order varied.
	for i := 1; i < len(merger.inputs); i++ {
		assert.Less(t, merger.inputs[i-1], merger.inputs[i])
	}
}

func TestRunner_MergeExcludesFailedRecords(t *testing.T) {
	merger := &stubMerger{}
	filler := &stubFiller{failIdx: map[int]error{1: errors.New("nope")}}
	dir := t.TempDir()
	r := NewRunner(filler, merger, makeRecords(3), Options{
		OutputDir:      dir,
		CombinedOutput: dir + "/combined.pdf",
	})

	require.NoError(t, r.Start(context.Background()))
	report := r.Wait()

	assert.Equal(t, StateCompleted, r.State())
	assert.Equal(t, 1, report.Failed)
	require.Len(t, merger.inputs, 2)
}

func TestRunner_MergeFailureFailsBatch(t *testing.T) {
	merger := &stubMerger{err: errors.New("disk full")}
	dir := t.TempDir()
	r := NewRunner(&stubFiller{}, merger, makeRecords(2), Options{
		OutputDir:      dir,
		CombinedOutput: dir + "/combined.pdf",
	})

	require.NoError(t, r.Start(context.Background()))
	report := r.Wait()

	assert.Equal(t, StateFailed, r.State())
	assert.Empty(t, report.CombinedOutput)

	var mergeErr *MergeFailedError
	require.ErrorAs(t, report.Err, &mergeErr)
	assert.Equal(t, dir+"/combined.pdf", mergeErr.Output)
	assert.EqualError(t, errors.Unwrap(mergeErr), "disk full")

	// Per-record outcomes survive the batch-level failure.
	assert.Equal(t, 2, report.Succeeded)
}

func TestRunner_MergeSkippedWhenCancelled(t *testing.T) {
	merger := &stubMerger{}
	filler := &stubFiller{
		started: make(chan int, 4),
		release: make(chan struct{}),
	}
	dir := t.TempDir()
	r := NewRunner(filler, merger, makeRecords(4), Options{
		Concurrency:    1,
		OutputDir:      dir,
		CombinedOutput: dir + "/combined.pdf",
	})
	require.NoError(t, r.Start(context.Background()))

	<-filler.started
	r.Cancel()
	close(filler.release)

	report := r.Wait()
	assert.Equal(t, StateCancelled, r.State())
	assert.Equal(t, 0, merger.calls)
	assert.Empty(t, report.CombinedOutput)
}

func TestRunner_ZeroRecordsCompletesImmediately(t *testing.T) {
	r := NewRunner(&stubFiller{}, &stubMerger{}, nil, Options{OutputDir: t.TempDir()})

	require.NoError(t, r.Start(context.Background()))
	report := r.Wait()

	assert.Equal(t, StateCompleted, r.State())
	assert.Equal(t, 0, report.Total)
	assert.Equal(t, 0, report.Processed())
}

func TestRunner_SnapshotIsIsolated(t *testing.T) {
	filler := &stubFiller{
		started: make(chan int, 4),
		release: make(chan struct{}),
	}
	r := NewRunner(filler, &stubMerger{}, makeRecords(4), Options{
		Concurrency: 1,
		OutputDir:   t.TempDir(),
	})
	require.NoError(t, r.Start(context.Background()))

	<-filler.started
	snap := r.Snapshot()
	assert.Equal(t, 0, snap.Processed())

	close(filler.release)
	report := r.Wait()

	// The earlier snapshot did not pick up later results.
	assert.Equal(t, 0, snap.Processed())
	assert.Equal(t, 4, report.Processed())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "completed", StateCompleted.String())
	assert.Equal(t, "cancelled", StateCancelled.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.False(t, StateRunning.Terminal())
	assert.True(t, StateCancelled.Terminal())
}
