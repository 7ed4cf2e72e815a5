// Package state owns the single mutable cell holding the synchronized view.
package state

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/agenttown/townsync/go/internal/models"
	"github.com/agenttown/townsync/go/internal/townsync/merge"
	"github.com/agenttown/townsync/go/internal/townsync/reconcile"
)

// MaxCommands caps the retained command list; the oldest commands are dropped.
const MaxCommands = 100

// Snapshot is an immutable view of the synchronized state. Callers must not
// modify the slices, maps or pointees it carries.
type Snapshot struct {
	Game         models.GameState          `json:"gameState"`
	Tasks        []*models.Task            `json:"tasks"`
	Reports      map[string]*models.Report `json:"reports"`
	Commands     []models.Command          `json:"commands"`
	Dashboard    string                    `json:"dashboard"`
	ContextStats json.RawMessage           `json:"contextStats,omitempty"`
	Version      uint64                    `json:"version"`
	UpdatedAt    time.Time                 `json:"updatedAt"`
}

// TaskFor returns the active task of an assignee.
func (s Snapshot) TaskFor(assigneeID string) (*models.Task, bool) {
	for _, t := range s.Tasks {
		if t.AssigneeID == assigneeID {
			return t, true
		}
	}
	return nil, false
}

// Listener observes snapshots after every mutation. Listeners are called one
// at a time in version order; a snapshot overtaken by a newer one before it
// could be delivered is skipped. Listeners must not mutate the store.
type Listener func(Snapshot)

// Store is the owned state container. Game state changes only through
// merge.Merge and task changes only through reconcile.
type Store struct {
	mu    sync.RWMutex
	snap  Snapshot
	clock clockwork.Clock

	// notifyMu serializes delivery; delivered is the newest version handed
	// to listeners.
	notifyMu  sync.Mutex
	delivered uint64

	listenersMu sync.Mutex
	listeners   map[int]Listener
	nextID      int
}

// NewStore creates a store seeded with the default game state.
func NewStore(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		snap: Snapshot{
			Game:     merge.DefaultState(),
			Tasks:    []*models.Task{},
			Reports:  map[string]*models.Report{},
			Commands: []models.Command{},
		},
		clock:     clock,
		listeners: make(map[int]Listener),
	}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Subscribe registers fn for every subsequent mutation and returns a function
// that removes it.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

// ApplyPatch merges a game-state patch.
func (s *Store) ApplyPatch(patch models.Patch) Snapshot {
	return s.update(func(snap *Snapshot) bool {
		snap.Game = merge.Merge(snap.Game, patch)
		return true
	})
}

// UpsertTask stores task as the active task of its assignee, reconciled
// against the latest known report for that assignee.
func (s *Store) UpsertTask(task models.Task) Snapshot {
	return s.update(func(snap *Snapshot) bool {
		t := &task
		t = reconcile.Task(t, snap.Reports[t.AssigneeID])

		tasks := make([]*models.Task, 0, len(snap.Tasks)+1)
		replaced := false
		for _, existing := range snap.Tasks {
			if existing.AssigneeID == t.AssigneeID {
				tasks = append(tasks, t)
				replaced = true
				continue
			}
			tasks = append(tasks, existing)
		}
		if !replaced {
			tasks = append(tasks, t)
		}
		snap.Tasks = tasks
		return true
	})
}

// ApplyReport records a report and reconciles the affected task. A report
// older than the one already held for its worker is kept out of the live store
// and changes nothing. The returned bool reports whether the store changed.
func (s *Store) ApplyReport(report models.Report) (Snapshot, bool) {
	var changed bool
	snap := s.update(func(snap *Snapshot) bool {
		r := &report
		if current, ok := snap.Reports[r.WorkerID]; ok && reconcile.Newer(current, r) {
			return false
		}

		reports := make(map[string]*models.Report, len(snap.Reports)+1)
		for k, v := range snap.Reports {
			reports[k] = v
		}
		reports[r.WorkerID] = r
		snap.Reports = reports
		snap.Tasks = reconcile.Tasks(snap.Tasks, []*models.Report{r})
		changed = true
		return true
	})
	return snap, changed
}

// Bootstrap replaces tasks and reports wholesale, reconciling the task list
// against the report list. Nil arguments leave the corresponding part untouched.
func (s *Store) Bootstrap(tasks []models.Task, reports []models.Report) Snapshot {
	return s.update(func(snap *Snapshot) bool {
		bootstrapTasks(snap, tasks, reports)
		return true
	})
}

// ResetGame rebuilds the game state from defaults with patch merged on top.
func (s *Store) ResetGame(patch models.Patch) Snapshot {
	return s.update(func(snap *Snapshot) bool {
		snap.Game = merge.Merge(merge.DefaultState(), patch)
		return true
	})
}

// RestoreGame installs a previously saved game state. The merge engine
// re-derives level and gold and clamps quantities, so a stale or hand-edited
// cache cannot break them.
func (s *Store) RestoreGame(game models.GameState) Snapshot {
	return s.update(func(snap *Snapshot) bool {
		snap.Game = merge.Merge(game, models.Patch{})
		return true
	})
}

// ApplyInitialState installs a bootstrap snapshot as one mutation. Parts the
// server did not send keep their current value.
func (s *Store) ApplyInitialState(init models.InitialState) Snapshot {
	return s.update(func(snap *Snapshot) bool {
		if init.GameState != nil {
			snap.Game = merge.Merge(merge.DefaultState(), *init.GameState)
		}
		bootstrapTasks(snap, init.Tasks, init.Reports)
		if init.Commands != nil {
			snap.Commands = capCommands(append([]models.Command{}, init.Commands...))
		}
		if init.Dashboard != nil {
			snap.Dashboard = *init.Dashboard
		}
		if init.ContextStats != nil {
			snap.ContextStats = append(json.RawMessage(nil), init.ContextStats...)
		}
		return true
	})
}

func bootstrapTasks(snap *Snapshot, tasks []models.Task, reports []models.Report) {
	if reports != nil {
		latest := make([]*models.Report, len(reports))
		for i := range reports {
			r := reports[i]
			latest[i] = &r
		}
		snap.Reports = reconcile.LatestByWorker(latest)
	}
	if tasks != nil {
		byAssignee := make(map[string]int, len(tasks))
		list := make([]*models.Task, 0, len(tasks))
		for i := range tasks {
			t := tasks[i]
			if idx, ok := byAssignee[t.AssigneeID]; ok {
				list[idx] = &t
				continue
			}
			byAssignee[t.AssigneeID] = len(list)
			list = append(list, &t)
		}
		snap.Tasks = list
	}

	reportList := make([]*models.Report, 0, len(snap.Reports))
	for _, r := range snap.Reports {
		reportList = append(reportList, r)
	}
	snap.Tasks = reconcile.Tasks(snap.Tasks, reportList)
}

// SetDashboard replaces the dashboard markdown.
func (s *Store) SetDashboard(content string) Snapshot {
	return s.update(func(snap *Snapshot) bool {
		if snap.Dashboard == content {
			return false
		}
		snap.Dashboard = content
		return true
	})
}

// ReplaceCommands replaces the whole command list.
func (s *Store) ReplaceCommands(commands []models.Command) Snapshot {
	return s.update(func(snap *Snapshot) bool {
		snap.Commands = capCommands(append([]models.Command{}, commands...))
		return true
	})
}

// UpsertCommands updates commands by id, appending unknown ones.
func (s *Store) UpsertCommands(commands []models.Command) Snapshot {
	return s.update(func(snap *Snapshot) bool {
		next := append([]models.Command{}, snap.Commands...)
		index := make(map[string]int, len(next))
		for i, c := range next {
			index[c.ID] = i
		}
		for _, c := range commands {
			if i, ok := index[c.ID]; ok {
				next[i] = c
				continue
			}
			index[c.ID] = len(next)
			next = append(next, c)
		}
		snap.Commands = capCommands(next)
		return true
	})
}

// SetContextStats stores the opaque context statistics blob.
func (s *Store) SetContextStats(stats json.RawMessage) Snapshot {
	return s.update(func(snap *Snapshot) bool {
		snap.ContextStats = append(json.RawMessage(nil), stats...)
		return true
	})
}

// update applies fn to a copy of the snapshot and publishes the result when fn
// reports a change. Listeners run outside the state lock.
func (s *Store) update(fn func(*Snapshot) bool) Snapshot {
	s.mu.Lock()
	next := s.snap
	if !fn(&next) {
		current := s.snap
		s.mu.Unlock()
		return current
	}
	next.Version = s.snap.Version + 1
	next.UpdatedAt = s.clock.Now()
	s.snap = next
	s.mu.Unlock()

	s.notify(next)
	return next
}

func (s *Store) notify(snap Snapshot) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if snap.Version <= s.delivered {
		return
	}
	s.delivered = snap.Version

	s.listenersMu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenersMu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

func capCommands(commands []models.Command) []models.Command {
	if len(commands) <= MaxCommands {
		return commands
	}
	return commands[len(commands)-MaxCommands:]
}
