// Package resync debounces pull-based refreshes of the canonical game state.
package resync

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/agenttown/townsync/go/internal/models"
)

const (
	// DefaultDebounce is how long the scheduler waits for a burst of triggers
	// to settle before refreshing.
	DefaultDebounce = 300 * time.Millisecond
	// MaxSyncedReports bounds the set of report ids that already triggered a
	// resync; the oldest ids are evicted first.
	MaxSyncedReports = 1000
)

// Fetcher pulls the server-authoritative game state.
type Fetcher interface {
	FetchGameState(ctx context.Context) (models.Patch, error)
}

// ApplyFunc merges a fetched game state into the canonical state.
type ApplyFunc func(patch models.Patch)

// Config holds scheduler settings.
type Config struct {
	Debounce     time.Duration
	FetchTimeout time.Duration
}

// DefaultConfig returns default scheduler configuration
func DefaultConfig() Config {
	return Config{
		Debounce:     DefaultDebounce,
		FetchTimeout: 10 * time.Second,
	}
}

// Scheduler coalesces resync requests into a single fetch per quiet period.
type Scheduler struct {
	cfg     Config
	fetcher Fetcher
	apply   ApplyFunc
	clock   clockwork.Clock

	mu        sync.Mutex
	timer     clockwork.Timer
	gen       uint64
	suspended bool
	pending   bool
	closed    bool

	synced      map[string]struct{}
	syncedOrder []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a resync scheduler.
func NewScheduler(cfg Config, fetcher Fetcher, apply ApplyFunc, clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:     cfg,
		fetcher: fetcher,
		apply:   apply,
		clock:   clock,
		synced:  make(map[string]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ScheduleResync (re)starts the debounce timer. Only the last call in a burst
// results in a fetch.
func (s *Scheduler) ScheduleResync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = s.clock.AfterFunc(s.cfg.Debounce, func() { s.fire(gen) })
}

// ObserveReport schedules a resync the first time a report id reaches done.
// It reports whether a resync was scheduled.
func (s *Scheduler) ObserveReport(report models.Report) bool {
	if report.Status != models.TaskStatusDone || report.ReportID == "" {
		return false
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if _, seen := s.synced[report.ReportID]; seen {
		s.mu.Unlock()
		return false
	}
	s.synced[report.ReportID] = struct{}{}
	s.syncedOrder = append(s.syncedOrder, report.ReportID)
	if len(s.syncedOrder) > MaxSyncedReports {
		evicted := s.syncedOrder[0]
		s.syncedOrder = s.syncedOrder[1:]
		delete(s.synced, evicted)
	}
	s.mu.Unlock()

	log.Debug().Str("report_id", report.ReportID).Msg("report done, scheduling resync")
	s.ScheduleResync()
	return true
}

// Suspend defers resyncs, e.g. while the push channel is down and the pull
// endpoint is likely unreachable too.
func (s *Scheduler) Suspend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended = true
}

// Resume lifts a suspension and runs any resync deferred during it.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	if !s.suspended {
		s.mu.Unlock()
		return
	}
	s.suspended = false
	pending := s.pending
	s.pending = false
	s.mu.Unlock()

	if pending {
		s.ScheduleResync()
	}
}

// Close cancels pending timers and in-flight fetches, clears the dedup set
// and waits for running fetches to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.synced = make(map[string]struct{})
	s.syncedOrder = nil
	s.pending = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	if s.suspended {
		s.pending = true
		s.mu.Unlock()
		log.Debug().Msg("resync deferred while suspended")
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.run()
	}()
}

// run fetches and applies the canonical state. Failures leave the current
// state in place until the next trigger.
func (s *Scheduler) run() {
	ctx := s.ctx
	if s.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.FetchTimeout)
		defer cancel()
	}

	start := s.clock.Now()
	patch, err := s.fetcher.FetchGameState(ctx)
	if err != nil {
		if s.isClosed() {
			return
		}
		log.Warn().Err(err).Msg("resync fetch failed, keeping current state")
		return
	}

	if s.isClosed() {
		return
	}
	s.apply(patch)
	log.Debug().Dur("took", s.clock.Since(start)).Msg("resync applied")
}

func (s *Scheduler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
