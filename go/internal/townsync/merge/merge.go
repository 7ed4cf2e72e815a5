package merge

import (
	"math"

	"github.com/agenttown/townsync/go/internal/models"
)

// MaxActivityEntries caps the activity log; the oldest entries are dropped first.
const MaxActivityEntries = 50

// DefaultTownName is used when a state is created without a server snapshot.
const DefaultTownName = "Agent Town"

// DefaultState returns a fresh game state with every invariant already satisfied.
func DefaultState() models.GameState {
	return Merge(models.GameState{
		Town: models.Town{Name: DefaultTownName},
	}, models.Patch{})
}

// Merge applies patch onto base and returns the new canonical state.
//
// Merge never mutates base and never fails: malformed values are coerced to
// safe defaults. After every merge the town level is recomputed from XP and
// the economy gold mirrors the town gold, in that order.
func Merge(base models.GameState, patch models.Patch) models.GameState {
	next := base

	if patch.Town != nil {
		next.Town = mergeTown(base.Town, *patch.Town)
	}
	if patch.Economy != nil {
		next.Economy = mergeEconomy(base.Economy, *patch.Economy)
	}

	if patch.Agents != nil {
		next.Agents = upsert(base.Agents, patch.Agents,
			func(a models.Agent) string { return a.ID },
			func(p models.AgentPatch) string { return p.ID },
			newAgent, mergeAgent)
	}
	if patch.Buildings != nil {
		next.Buildings = upsert(base.Buildings, patch.Buildings,
			func(b models.Building) string { return b.Type },
			func(p models.BuildingPatch) string { return p.Type },
			func(p models.BuildingPatch) models.Building {
				return mergeBuilding(models.Building{Type: p.Type, Level: 1}, p)
			},
			mergeBuilding)
	}
	if patch.Inventory != nil {
		next.Inventory = upsert(base.Inventory, patch.Inventory,
			func(i models.InventoryItem) string { return i.ItemID },
			func(p models.InventoryPatch) string { return p.ItemID },
			func(p models.InventoryPatch) models.InventoryItem {
				return mergeInventory(models.InventoryItem{ItemID: p.ItemID}, p)
			},
			mergeInventory)
	}
	if patch.Decorations != nil {
		next.Decorations = upsert(base.Decorations, patch.Decorations,
			func(d models.Decoration) string { return d.ID },
			func(p models.DecorationPatch) string { return p.ID },
			func(p models.DecorationPatch) models.Decoration {
				return mergeDecoration(models.Decoration{ID: p.ID}, p)
			},
			mergeDecoration)
	}
	if patch.Missions != nil {
		next.Missions = upsert(base.Missions, patch.Missions,
			func(m models.Mission) string { return m.ID },
			func(p models.MissionPatch) string { return p.ID },
			func(p models.MissionPatch) models.Mission {
				return mergeMission(models.Mission{ID: p.ID, Requirements: []string{}}, p)
			},
			mergeMission)
	}
	if patch.Achievements != nil {
		next.Achievements = upsert(base.Achievements, patch.Achievements,
			func(a models.Achievement) string { return a.ID },
			func(p models.AchievementPatch) string { return p.ID },
			func(p models.AchievementPatch) models.Achievement {
				return mergeAchievement(models.Achievement{ID: p.ID}, p)
			},
			mergeAchievement)
	}
	if patch.Titles != nil {
		next.Titles = upsert(base.Titles, patch.Titles,
			func(t models.Title) string { return t.ID },
			func(p models.TitlePatch) string { return p.ID },
			func(p models.TitlePatch) models.Title {
				return mergeTitle(models.Title{ID: p.ID}, p)
			},
			mergeTitle)
	}
	if patch.DailyRecords != nil {
		next.DailyRecords = upsert(base.DailyRecords, patch.DailyRecords,
			func(d models.DailyRecord) string { return d.Date },
			func(p models.DailyRecordPatch) string { return p.Date },
			func(p models.DailyRecordPatch) models.DailyRecord {
				return mergeDailyRecord(models.DailyRecord{Date: p.Date}, p)
			},
			mergeDailyRecord)
	}
	if patch.MaterialCollection != nil {
		next.MaterialCollection = upsert(base.MaterialCollection, patch.MaterialCollection,
			func(m models.MaterialEntry) string { return m.MaterialID },
			func(p models.MaterialPatch) string { return p.MaterialID },
			func(p models.MaterialPatch) models.MaterialEntry {
				return mergeMaterial(models.MaterialEntry{MaterialID: p.MaterialID}, p)
			},
			mergeMaterial)
	}

	if patch.ActivityLog != nil {
		next.ActivityLog = capActivity(patch.ActivityLog)
	} else if len(base.ActivityLog) > MaxActivityEntries {
		next.ActivityLog = capActivity(base.ActivityLog)
	}

	next.Town.XP = nonNegative(next.Town.XP)
	next.Town.Gold = nonNegative(next.Town.Gold)
	next.Town.Level = LevelFromXP(next.Town.XP)
	next.Economy.Gold = next.Town.Gold
	next.Economy.TotalEarned = nonNegative(next.Economy.TotalEarned)
	next.Economy.TotalSpent = nonNegative(next.Economy.TotalSpent)

	return withEmptyCollections(clampQuantities(next))
}

// clampQuantities clamps every quantity in the keyed collections, including
// values carried over from base untouched by the patch.
func clampQuantities(s models.GameState) models.GameState {
	s.Buildings = clampEach(s.Buildings, func(b *models.Building) bool {
		return clampField(&b.Level)
	})
	s.Inventory = clampEach(s.Inventory, func(i *models.InventoryItem) bool {
		return clampField(&i.Quantity)
	})
	s.Missions = clampEach(s.Missions, func(m *models.Mission) bool {
		a, b := clampField(&m.Progress), clampField(&m.Target)
		return a || b
	})
	s.Achievements = clampEach(s.Achievements, func(a *models.Achievement) bool {
		return clampField(&a.CurrentValue)
	})
	s.DailyRecords = clampEach(s.DailyRecords, func(d *models.DailyRecord) bool {
		a, b, c := clampField(&d.TasksCompleted), clampField(&d.GoldEarned), clampField(&d.XPEarned)
		return a || b || c
	})
	s.MaterialCollection = clampEach(s.MaterialCollection, func(m *models.MaterialEntry) bool {
		return clampField(&m.Collected)
	})
	return s
}

// clampEach applies clamp to copies of items. The slice is only copied when
// some element changed, so base slices shared with the result are never written.
func clampEach[T any](items []T, clamp func(*T) bool) []T {
	var out []T
	for i := range items {
		v := items[i]
		if !clamp(&v) {
			continue
		}
		if out == nil {
			out = make([]T, len(items))
			copy(out, items)
		}
		out[i] = v
	}
	if out == nil {
		return items
	}
	return out
}

func clampField(v *int) bool {
	if *v >= 0 {
		return false
	}
	*v = 0
	return true
}

// upsert merges patches into base by key. Existing records keep their position;
// unknown keys are appended in patch order. Entries with an empty key are skipped.
func upsert[T, P any](
	base []T,
	patches []P,
	keyOf func(T) string,
	patchKey func(P) string,
	create func(P) T,
	apply func(T, P) T,
) []T {
	out := make([]T, len(base), len(base)+len(patches))
	copy(out, base)

	index := make(map[string]int, len(out))
	for i, item := range out {
		index[keyOf(item)] = i
	}

	for _, p := range patches {
		key := patchKey(p)
		if key == "" {
			continue
		}
		if i, ok := index[key]; ok {
			out[i] = apply(out[i], p)
			continue
		}
		index[key] = len(out)
		out = append(out, create(p))
	}
	return out
}

func mergeTown(base models.Town, p models.TownPatch) models.Town {
	if p.Name != nil {
		base.Name = *p.Name
	}
	if p.XP != nil {
		base.XP = quantity(*p.XP)
	}
	if p.Gold != nil {
		base.Gold = quantity(*p.Gold)
	}
	return base
}

func mergeEconomy(base models.Economy, p models.EconomyPatch) models.Economy {
	if p.Gold != nil {
		base.Gold = quantity(*p.Gold)
	}
	if p.TotalEarned != nil {
		base.TotalEarned = quantity(*p.TotalEarned)
	}
	if p.TotalSpent != nil {
		base.TotalSpent = quantity(*p.TotalSpent)
	}
	return base
}

func newAgent(p models.AgentPatch) models.Agent {
	return mergeAgent(models.Agent{
		ID:     p.ID,
		Name:   p.ID,
		Status: models.AgentStatusIdle,
		Skills: []string{},
	}, p)
}

func mergeAgent(base models.Agent, p models.AgentPatch) models.Agent {
	if p.Name != nil {
		base.Name = *p.Name
	}
	if p.Category != nil {
		base.Category = *p.Category
	}
	if p.Position != nil {
		base.Position = mergePosition(base.Position, *p.Position)
	}
	if p.Skills != nil {
		base.Skills = append([]string{}, p.Skills...)
	}

	previous := base.Status
	if p.HasCurrentTaskID {
		if p.CurrentTaskID != nil {
			id := *p.CurrentTaskID
			base.CurrentTaskID = &id
		} else {
			base.CurrentTaskID = nil
		}
	}

	switch {
	case p.Status != nil:
		base.Status = *p.Status
	case p.HasCurrentTaskID && p.CurrentTaskID != nil:
		base.Status = models.AgentStatusWorking
	case p.HasCurrentTaskID && previous == models.AgentStatusOffline:
		base.Status = models.AgentStatusOffline
	case p.HasCurrentTaskID:
		base.Status = models.AgentStatusIdle
	}
	if base.Status == "" {
		base.Status = models.AgentStatusIdle
	}
	return base
}

func mergeBuilding(base models.Building, p models.BuildingPatch) models.Building {
	if p.Level != nil {
		base.Level = quantity(*p.Level)
	}
	if p.Unlocked != nil {
		base.Unlocked = *p.Unlocked
	}
	if p.Position != nil {
		base.Position = mergePosition(base.Position, *p.Position)
	}
	return base
}

func mergeInventory(base models.InventoryItem, p models.InventoryPatch) models.InventoryItem {
	if p.Quantity != nil {
		base.Quantity = quantity(*p.Quantity)
	}
	return base
}

func mergeDecoration(base models.Decoration, p models.DecorationPatch) models.Decoration {
	if p.ItemID != nil {
		base.ItemID = *p.ItemID
	}
	if p.HasPosition {
		if p.Position == nil {
			base.Position = nil
		} else {
			var current models.Position
			if base.Position != nil {
				current = *base.Position
			}
			pos := mergePosition(current, *p.Position)
			base.Position = &pos
		}
	}
	return base
}

func mergeMission(base models.Mission, p models.MissionPatch) models.Mission {
	if p.Title != nil {
		base.Title = *p.Title
	}
	if p.Progress != nil {
		base.Progress = quantity(*p.Progress)
	}
	if p.Target != nil {
		base.Target = quantity(*p.Target)
	}
	if p.Completed != nil {
		base.Completed = *p.Completed
	}
	if p.Requirements != nil {
		base.Requirements = append([]string{}, p.Requirements...)
	}
	return base
}

func mergeAchievement(base models.Achievement, p models.AchievementPatch) models.Achievement {
	if p.CurrentValue != nil {
		base.CurrentValue = quantity(*p.CurrentValue)
	}
	if p.Unlocked != nil {
		base.Unlocked = *p.Unlocked
	}
	if p.UnlockedAt != nil {
		base.UnlockedAt = *p.UnlockedAt
	}
	return base
}

func mergeTitle(base models.Title, p models.TitlePatch) models.Title {
	if p.Unlocked != nil {
		base.Unlocked = *p.Unlocked
	}
	if p.Equipped != nil {
		base.Equipped = *p.Equipped
	}
	return base
}

func mergeDailyRecord(base models.DailyRecord, p models.DailyRecordPatch) models.DailyRecord {
	if p.TasksCompleted != nil {
		base.TasksCompleted = quantity(*p.TasksCompleted)
	}
	if p.GoldEarned != nil {
		base.GoldEarned = quantity(*p.GoldEarned)
	}
	if p.XPEarned != nil {
		base.XPEarned = quantity(*p.XPEarned)
	}
	return base
}

func mergeMaterial(base models.MaterialEntry, p models.MaterialPatch) models.MaterialEntry {
	if p.Collected != nil {
		base.Collected = quantity(*p.Collected)
	}
	if p.FirstCollectedAt != nil {
		base.FirstCollectedAt = *p.FirstCollectedAt
	}
	return base
}

func mergePosition(base models.Position, p models.PositionPatch) models.Position {
	if p.X != nil {
		base.X = finite(*p.X)
	}
	if p.Y != nil {
		base.Y = finite(*p.Y)
	}
	return base
}

func capActivity(log []models.ActivityEntry) []models.ActivityEntry {
	start := 0
	if len(log) > MaxActivityEntries {
		start = len(log) - MaxActivityEntries
	}
	out := make([]models.ActivityEntry, len(log)-start)
	copy(out, log[start:])
	return out
}

// withEmptyCollections replaces nil collections with empty ones so that
// serialized state always carries arrays.
func withEmptyCollections(s models.GameState) models.GameState {
	if s.Agents == nil {
		s.Agents = []models.Agent{}
	}
	if s.Buildings == nil {
		s.Buildings = []models.Building{}
	}
	if s.Inventory == nil {
		s.Inventory = []models.InventoryItem{}
	}
	if s.Decorations == nil {
		s.Decorations = []models.Decoration{}
	}
	if s.ActivityLog == nil {
		s.ActivityLog = []models.ActivityEntry{}
	}
	if s.Missions == nil {
		s.Missions = []models.Mission{}
	}
	if s.Achievements == nil {
		s.Achievements = []models.Achievement{}
	}
	if s.Titles == nil {
		s.Titles = []models.Title{}
	}
	if s.DailyRecords == nil {
		s.DailyRecords = []models.DailyRecord{}
	}
	if s.MaterialCollection == nil {
		s.MaterialCollection = []models.MaterialEntry{}
	}
	return s
}

// quantity converts a patch number to a non-negative integer. Non-finite
// values become 0 and fractions are truncated.
func quantity(v float64) int {
	v = finite(v)
	if v <= 0 {
		return 0
	}
	if v >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(v)
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
