package router

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttown/townsync/go/internal/models"
	"github.com/agenttown/townsync/go/internal/townsync/merge"
	"github.com/agenttown/townsync/go/internal/townsync/resync"
	"github.com/agenttown/townsync/go/internal/townsync/state"
)

type countingTrigger struct {
	mu       sync.Mutex
	reports  []models.Report
	resyncs  int
	observed map[string]bool
}

func (c *countingTrigger) ObserveReport(r models.Report) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
	if r.Status != models.TaskStatusDone || c.observed[r.ReportID] {
		return false
	}
	if c.observed == nil {
		c.observed = map[string]bool{}
	}
	c.observed[r.ReportID] = true
	c.resyncs++
	return true
}

func newTestRouter() (*Router, *state.Store, *countingTrigger) {
	store := state.NewStore(clockwork.NewFakeClock())
	trigger := &countingTrigger{}
	return New(store, trigger), store, trigger
}

func fixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "normalize", "testdata", "envelopes", name))
	require.NoError(t, err)
	return data
}

func TestHandle_TaskThenDoneReport(t *testing.T) {
	r, store, trigger := newTestRouter()

	require.True(t, r.Handle([]byte(`{"type":"task_update","payload":{"taskId":"t1","assigneeId":"a1","status":"assigned"}}`)))
	require.True(t, r.Handle([]byte(`{"type":"report_update","payload":{"reportId":"r1","taskId":"t1","workerId":"a1","status":"done","createdAt":"2026-01-01T00:00:01Z"}}`)))

	task, ok := store.Snapshot().TaskFor("a1")
	require.True(t, ok)
	assert.Equal(t, models.TaskStatusDone, task.Status)
	assert.Equal(t, 1, trigger.resyncs)

	// Redelivery of the same report does not schedule again.
	require.True(t, r.Handle([]byte(`{"type":"report_update","payload":{"reportId":"r1","taskId":"t1","workerId":"a1","status":"done","createdAt":"2026-01-01T00:00:01Z"}}`)))
	assert.Equal(t, 1, trigger.resyncs)
}

func TestHandle_ReportsConvergeRegardlessOfOrder(t *testing.T) {
	inProgress := []byte(`{"type":"report_update","payload":{"reportId":"r1","taskId":"t1","workerId":"a1","status":"in_progress","createdAt":"2026-01-01T00:00:01Z"}}`)
	done := []byte(`{"type":"report_update","payload":{"reportId":"r2","taskId":"t1","workerId":"a1","status":"done","createdAt":"2026-01-01T00:00:02Z"}}`)
	task := []byte(`{"type":"task_update","payload":{"taskId":"t1","assigneeId":"a1","status":"assigned","updatedAt":"2026-01-01T00:00:00Z"}}`)

	for name, order := range map[string][][]byte{
		"in order":     {task, inProgress, done},
		"reversed":     {task, done, inProgress},
		"task last":    {done, inProgress, task},
		"task between": {inProgress, task, done},
	} {
		t.Run(name, func(t *testing.T) {
			r, store, _ := newTestRouter()
			for _, msg := range order {
				r.Handle(msg)
			}
			got, ok := store.Snapshot().TaskFor("a1")
			require.True(t, ok)
			assert.Equal(t, models.TaskStatusDone, got.Status)
			assert.Equal(t, "2026-01-01T00:00:02Z", got.UpdatedAt)
		})
	}
}

func TestHandle_WrappedAndBareGameStateAreIdentical(t *testing.T) {
	wrapped, wrappedStore, _ := newTestRouter()
	bare, bareStore, _ := newTestRouter()

	require.True(t, wrapped.Handle(fixture(t, "game_state_state.json")))
	require.True(t, bare.Handle(fixture(t, "game_state_bare.json")))

	assert.Equal(t, bareStore.Snapshot().Game, wrappedStore.Snapshot().Game)
	assert.Equal(t, "Hive", wrappedStore.Snapshot().Game.Town.Name)
	assert.Equal(t, wrappedStore.Snapshot().Game.Town.Gold, wrappedStore.Snapshot().Game.Economy.Gold)
	assert.Equal(t, merge.LevelFromXP(260), wrappedStore.Snapshot().Game.Town.Level)
}

func TestHandle_AllFixturesAccepted(t *testing.T) {
	entries, err := os.ReadDir(filepath.Join("..", "normalize", "testdata", "envelopes"))
	require.NoError(t, err)
	for _, e := range entries {
		t.Run(e.Name(), func(t *testing.T) {
			r, _, _ := newTestRouter()
			assert.True(t, r.Handle(fixture(t, e.Name())))
		})
	}
}

func TestHandle_CommandUpdates(t *testing.T) {
	r, store, _ := newTestRouter()

	require.True(t, r.Handle([]byte(`{"type":"command_update","payload":{"commands":[{"id":"c1","command":"a"},{"id":"c2","command":"b"}]}}`)))
	require.Len(t, store.Snapshot().Commands, 2)

	require.True(t, r.Handle([]byte(`{"type":"command_update","payload":{"id":"c2","message":"b2","status":"done"}}`)))
	cmds := store.Snapshot().Commands
	require.Len(t, cmds, 2)
	assert.Equal(t, "b2", cmds[1].Command)

	require.True(t, r.Handle([]byte(`{"type":"command_update","payload":[{"id":"c9","command":"z"}]}`)))
	cmds = store.Snapshot().Commands
	require.Len(t, cmds, 1)
	assert.Equal(t, "c9", cmds[0].ID)
}

func TestHandle_InitialState(t *testing.T) {
	r, store, _ := newTestRouter()
	require.True(t, r.Handle(fixture(t, "initial_state.json")))

	snap := store.Snapshot()
	assert.Equal(t, "# Dashboard", snap.Dashboard)
	assert.Equal(t, 120, snap.Game.Town.XP)
	assert.Equal(t, 7, snap.Game.Economy.Gold)
	task, ok := snap.TaskFor("a1")
	require.True(t, ok)
	assert.Equal(t, models.TaskStatusDone, task.Status)
	require.Len(t, snap.Commands, 1)
	assert.JSONEq(t, `{"tokensUsed":1200,"tokenLimit":200000}`, string(snap.ContextStats))
}

func TestHandle_DropsMalformedAndUnknown(t *testing.T) {
	r, store, trigger := newTestRouter()
	before := store.Snapshot().Version

	for _, raw := range []string{
		`not json`,
		`{"payload":{}}`,
		`{"type":"mystery","payload":{}}`,
		`{"type":"task_update","payload":{"taskId":"t1"}}`,
		`{"type":"report_update","payload":"nope"}`,
		`{"type":"game_state_update","payload":{"success":false}}`,
		`{"type":"dashboard_update","payload":42}`,
	} {
		assert.False(t, r.Handle([]byte(raw)), raw)
	}
	assert.Equal(t, before, store.Snapshot().Version)
	assert.Empty(t, trigger.reports)
}

func TestHandle_WSErrorDoesNotMutate(t *testing.T) {
	r, store, _ := newTestRouter()
	before := store.Snapshot().Version

	assert.True(t, r.Handle(fixture(t, "ws_error.json")))
	assert.Equal(t, before, store.Snapshot().Version)
}

func TestRun_ProcessesInOrderUntilClosed(t *testing.T) {
	r, store, _ := newTestRouter()
	messages := make(chan []byte, 3)
	messages <- []byte(`{"type":"dashboard_update","payload":"one"}`)
	messages <- []byte(`{"type":"dashboard_update","payload":"two"}`)
	messages <- []byte(`{"type":"dashboard_update","payload":"three"}`)
	close(messages)

	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), messages)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after channel close")
	}
	assert.Equal(t, "three", store.Snapshot().Dashboard)
	assert.Equal(t, uint64(3), store.Snapshot().Version)
}

func TestRun_StopsOnCancel(t *testing.T) {
	r, _, _ := newTestRouter()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, make(chan []byte))
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

type stubFetcher struct {
	mu    sync.Mutex
	calls int
}

func (f *stubFetcher) FetchGameState(context.Context) (models.Patch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return models.Patch{}, nil
}

func (f *stubFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestHandle_DoneReportResyncsExactlyOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := state.NewStore(clock)
	fetcher := &stubFetcher{}
	scheduler := resync.NewScheduler(resync.DefaultConfig(), fetcher, func(p models.Patch) { store.ApplyPatch(p) }, clock)
	defer scheduler.Close()
	r := New(store, scheduler)

	r.Handle([]byte(`{"type":"task_update","payload":{"taskId":"t1","assigneeId":"a1","status":"assigned"}}`))
	report := []byte(`{"type":"report_update","payload":{"reportId":"r1","taskId":"t1","workerId":"a1","status":"done","createdAt":"2026-01-01T00:00:01Z"}}`)
	r.Handle(report)
	r.Handle(report)

	clock.Advance(resync.DefaultDebounce)
	require.Eventually(t, func() bool { return fetcher.count() == 1 }, time.Second, 5*time.Millisecond)

	r.Handle(report)
	clock.Advance(resync.DefaultDebounce)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, fetcher.count())

	task, ok := store.Snapshot().TaskFor("a1")
	require.True(t, ok)
	assert.Equal(t, models.TaskStatusDone, task.Status)
}
