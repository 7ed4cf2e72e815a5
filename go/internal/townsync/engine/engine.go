// Package engine wires the connection manager, message router, resync
// scheduler and state store into one running service.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/agenttown/townsync/go/internal/models"
	"github.com/agenttown/townsync/go/internal/townsync/connection"
	"github.com/agenttown/townsync/go/internal/townsync/publisher"
	"github.com/agenttown/townsync/go/internal/townsync/resync"
	"github.com/agenttown/townsync/go/internal/townsync/router"
	"github.com/agenttown/townsync/go/internal/townsync/snapshotcache"
	"github.com/agenttown/townsync/go/internal/townsync/state"
)

// Puller reads canonical state from the pull endpoints.
type Puller interface {
	resync.Fetcher
	FetchTasks(ctx context.Context) ([]models.Task, error)
	FetchReports(ctx context.Context) ([]models.Report, error)
}

// SnapshotCache persists the last-known-good state between runs.
type SnapshotCache interface {
	Save(ctx context.Context, snap state.Snapshot) error
	Load(ctx context.Context) (snapshotcache.Entry, bool, error)
}

// Deps are the collaborators of a Service. Cache and Publisher are optional.
type Deps struct {
	Connection connection.Config
	Dialer     connection.Dialer
	Resync     resync.Config
	Puller     Puller
	Cache      SnapshotCache
	Publisher  *publisher.Publisher
	Clock      clockwork.Clock
}

// Service is the running synchronization engine.
type Service struct {
	store     *state.Store
	conn      *connection.Manager
	router    *router.Router
	scheduler *resync.Scheduler
	puller    Puller
	cache     SnapshotCache
	publisher *publisher.Publisher
	clock     clockwork.Clock

	mu            sync.Mutex
	lastState     models.ConnectionState
	connectedOnce bool
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	stopOnce      sync.Once
}

// New builds a service. Nothing runs until Start.
func New(deps Deps) *Service {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	s := &Service{
		store:     state.NewStore(clock),
		conn:      connection.NewManager(deps.Connection, deps.Dialer, clock),
		puller:    deps.Puller,
		cache:     deps.Cache,
		publisher: deps.Publisher,
		clock:     clock,
		lastState: models.ConnectionStateConnecting,
	}
	s.scheduler = resync.NewScheduler(deps.Resync, deps.Puller, s.applyResync, clock)
	s.router = router.New(s.store, s.scheduler)
	return s
}

// Start bootstraps the state, opens the push channel and begins routing
// messages. Bootstrap failures are logged, never returned.
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	if s.publisher != nil {
		s.store.Subscribe(s.publisher.SnapshotListener())
		s.conn.OnStatusChange(s.publisher.StatusListener())
	}
	s.conn.OnStatusChange(s.onStatusChange)

	s.Bootstrap(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.router.Run(ctx, s.conn.Messages())
	}()

	s.conn.Start(ctx)
	log.Info().Msg("townsync engine started")
	return nil
}

// Stop tears everything down and saves the current state to the cache.
func (s *Service) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		s.conn.Close()
		s.scheduler.Close()

		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.wg.Wait()

		s.saveCache(ctx)
		log.Info().Msg("townsync engine stopped")
	})
}

// Bootstrap loads canonical state from the pull endpoints. When the game
// state cannot be fetched the cached snapshot is used, and failing that the
// defaults stay in place.
func (s *Service) Bootstrap(ctx context.Context) {
	start := s.clock.Now()

	patch, err := s.puller.FetchGameState(ctx)
	switch {
	case err == nil:
		s.store.ResetGame(patch)
	case s.restoreFromCache(ctx):
		log.Warn().Err(err).Msg("game state fetch failed, using cached snapshot")
	default:
		log.Warn().Err(err).Msg("game state fetch failed and no cached snapshot, using defaults")
	}

	tasks, err := s.puller.FetchTasks(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to fetch tasks during bootstrap")
		tasks = nil
	}
	reports, err := s.puller.FetchReports(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to fetch reports during bootstrap")
		reports = nil
	}
	snap := s.store.Bootstrap(tasks, reports)

	log.Info().
		Int("tasks", len(snap.Tasks)).
		Int("reports", len(snap.Reports)).
		Int("town_level", snap.Game.Town.Level).
		Dur("took", s.clock.Since(start)).
		Msg("bootstrap complete")
}

func (s *Service) restoreFromCache(ctx context.Context) bool {
	if s.cache == nil {
		return false
	}
	entry, ok, err := s.cache.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load cached snapshot")
		return false
	}
	if !ok {
		return false
	}
	s.store.RestoreGame(entry.Game)
	if entry.Dashboard != "" {
		s.store.SetDashboard(entry.Dashboard)
	}
	log.Info().
		Uint64("version", entry.Version).
		Time("saved_at", entry.SavedAt).
		Msg("restored cached snapshot")
	return true
}

func (s *Service) applyResync(patch models.Patch) {
	s.store.ApplyPatch(patch)
	s.saveCache(context.Background())
}

func (s *Service) saveCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.cache.Save(ctx, s.store.Snapshot()); err != nil {
		log.Warn().Err(err).Msg("failed to save snapshot cache")
	}
}

// onStatusChange suspends resyncs while the channel is down and schedules
// one whenever the channel comes back after having been up, since missed
// events are not replayed.
func (s *Service) onStatusChange(status models.ConnectionStatus) {
	s.mu.Lock()
	prev := s.lastState
	s.lastState = status.State
	reconnected := status.State == models.ConnectionStateConnected &&
		prev != models.ConnectionStateConnected &&
		s.connectedOnce
	if status.State == models.ConnectionStateConnected {
		s.connectedOnce = true
	}
	s.mu.Unlock()

	if prev == status.State {
		return
	}
	switch status.State {
	case models.ConnectionStateReconnecting:
		s.scheduler.Suspend()
	case models.ConnectionStateConnected:
		s.scheduler.Resume()
		if reconnected {
			log.Info().Msg("channel reconnected, scheduling resync")
			s.scheduler.ScheduleResync()
		}
	}
}

// Status returns the connection status projection.
func (s *Service) Status() models.ConnectionStatus {
	return s.conn.Status()
}

// Snapshot returns the current synchronized state.
func (s *Service) Snapshot() state.Snapshot {
	return s.store.Snapshot()
}

// Subscribe registers fn for state changes. Snapshots arrive in increasing
// Version order; under concurrent mutations an intermediate version may be
// skipped, but the latest one is always delivered.
func (s *Service) Subscribe(fn state.Listener) (unsubscribe func()) {
	return s.store.Subscribe(fn)
}

// ReconnectNow forces an immediate reconnect.
func (s *Service) ReconnectNow() {
	s.conn.ReconnectNow()
}

// SendMessage writes an arbitrary payload to the channel.
func (s *Service) SendMessage(payload any) bool {
	return s.conn.SendMessage(payload)
}

// SendCommand issues a command to the agent workforce. The command is recorded
// as pending only when the channel accepted it.
func (s *Service) SendCommand(text, agentID string) (models.Command, bool) {
	now := s.clock.Now().UTC().Format(time.RFC3339)
	cmd := models.Command{
		ID:        uuid.New().String(),
		Command:   text,
		Status:    "pending",
		AgentID:   agentID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	sent := s.conn.SendMessage(map[string]any{
		"type":    "command",
		"payload": cmd,
	})
	if !sent {
		log.Warn().Str("command_id", cmd.ID).Msg("command not sent, channel is not connected")
		return models.Command{}, false
	}
	s.store.UpsertCommands([]models.Command{cmd})
	return cmd, true
}
