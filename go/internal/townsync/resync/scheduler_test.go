package resync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttown/townsync/go/internal/models"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	err   error
	patch models.Patch
	block chan struct{}
}

func (f *fakeFetcher) FetchGameState(ctx context.Context) (models.Patch, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	patch, err := f.patch, f.err
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return models.Patch{}, ctx.Err()
		}
	}
	return patch, err
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recorder struct {
	mu      sync.Mutex
	patches []models.Patch
}

func (r *recorder) apply(p models.Patch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patches = append(r.patches, p)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.patches)
}

func strPtr(s string) *string { return &s }

func newTestScheduler(t *testing.T) (*Scheduler, *clockwork.FakeClock, *fakeFetcher, *recorder) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	fetcher := &fakeFetcher{patch: models.Patch{Town: &models.TownPatch{Name: strPtr("Resynced")}}}
	rec := &recorder{}
	s := NewScheduler(DefaultConfig(), fetcher, rec.apply, clock)
	t.Cleanup(s.Close)
	return s, clock, fetcher, rec
}

func doneReport(id string) models.Report {
	return models.Report{ReportID: id, TaskID: "t1", WorkerID: "a1", Status: models.TaskStatusDone}
}

func TestScheduler_DebouncesBurst(t *testing.T) {
	s, clock, fetcher, rec := newTestScheduler(t)

	for i := 0; i < 5; i++ {
		s.ScheduleResync()
		clock.Advance(100 * time.Millisecond)
	}
	assert.Zero(t, fetcher.count(), "burst still settling")

	clock.Advance(DefaultDebounce)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, fetcher.count())

	rec.mu.Lock()
	assert.Equal(t, "Resynced", *rec.patches[0].Town.Name)
	rec.mu.Unlock()
}

func TestScheduler_SameDoneReportSchedulesOnce(t *testing.T) {
	s, clock, fetcher, rec := newTestScheduler(t)

	assert.True(t, s.ObserveReport(doneReport("r1")))
	clock.Advance(DefaultDebounce)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	assert.False(t, s.ObserveReport(doneReport("r1")))
	clock.Advance(DefaultDebounce)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, fetcher.count())

	assert.True(t, s.ObserveReport(doneReport("r2")))
	clock.Advance(DefaultDebounce)
	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_IgnoresNonDoneReports(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)

	r := doneReport("r1")
	r.Status = models.TaskStatusInProgress
	assert.False(t, s.ObserveReport(r))
	assert.False(t, s.ObserveReport(models.Report{Status: models.TaskStatusDone}))

	// An in-progress delivery does not consume the id.
	assert.True(t, s.ObserveReport(doneReport("r1")))
}

func TestScheduler_DedupSetEvictsOldest(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)

	for i := 0; i <= MaxSyncedReports; i++ {
		require.True(t, s.ObserveReport(doneReport(fmt.Sprintf("r%d", i))))
	}

	s.mu.Lock()
	assert.Len(t, s.synced, MaxSyncedReports)
	assert.Len(t, s.syncedOrder, MaxSyncedReports)
	s.mu.Unlock()

	// r0 was evicted, the newest is still remembered.
	assert.True(t, s.ObserveReport(doneReport("r0")))
	assert.False(t, s.ObserveReport(doneReport(fmt.Sprintf("r%d", MaxSyncedReports))))
}

func TestScheduler_FetchFailureIsSwallowed(t *testing.T) {
	s, clock, fetcher, rec := newTestScheduler(t)
	fetcher.err = errors.New("502 bad gateway")

	s.ScheduleResync()
	clock.Advance(DefaultDebounce)
	require.Eventually(t, func() bool { return fetcher.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, rec.count())

	fetcher.mu.Lock()
	fetcher.err = nil
	fetcher.mu.Unlock()

	s.ScheduleResync()
	clock.Advance(DefaultDebounce)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_SuspendDefersUntilResume(t *testing.T) {
	s, clock, fetcher, rec := newTestScheduler(t)

	s.Suspend()
	s.ScheduleResync()
	clock.Advance(DefaultDebounce)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, fetcher.count())

	s.Resume()
	clock.Advance(DefaultDebounce)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_ResumeWithoutPendingDoesNothing(t *testing.T) {
	s, clock, fetcher, _ := newTestScheduler(t)

	s.Suspend()
	s.Resume()
	clock.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, fetcher.count())
}

func TestScheduler_CloseCancelsPendingTimer(t *testing.T) {
	s, clock, fetcher, _ := newTestScheduler(t)

	assert.True(t, s.ObserveReport(doneReport("r1")))
	s.Close()

	clock.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, fetcher.count())

	s.mu.Lock()
	assert.Empty(t, s.synced)
	s.mu.Unlock()

	assert.False(t, s.ObserveReport(doneReport("r2")))
}

func TestScheduler_CloseDuringFetchDropsResult(t *testing.T) {
	s, clock, fetcher, rec := newTestScheduler(t)
	fetcher.block = make(chan struct{})

	s.ScheduleResync()
	clock.Advance(DefaultDebounce)
	require.Eventually(t, func() bool { return fetcher.count() == 1 }, time.Second, 5*time.Millisecond)

	s.Close()
	assert.Zero(t, rec.count())
}
