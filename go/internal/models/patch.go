package models

// Patch is a sparse update to GameState. Nil fields are absent and leave the
// corresponding state untouched.
//
// Keyed collections are upserted entry by entry. ActivityLog is different: a
// non-nil slice (even an empty one) replaces the whole log.
type Patch struct {
	Town               *TownPatch
	Economy            *EconomyPatch
	Agents             []AgentPatch
	Buildings          []BuildingPatch
	Inventory          []InventoryPatch
	Decorations        []DecorationPatch
	ActivityLog        []ActivityEntry
	Missions           []MissionPatch
	Achievements       []AchievementPatch
	Titles             []TitlePatch
	DailyRecords       []DailyRecordPatch
	MaterialCollection []MaterialPatch
}

// IsEmpty reports whether the patch carries no fields at all.
func (p Patch) IsEmpty() bool {
	return p.Town == nil && p.Economy == nil && p.Agents == nil && p.Buildings == nil &&
		p.Inventory == nil && p.Decorations == nil && p.ActivityLog == nil &&
		p.Missions == nil && p.Achievements == nil && p.Titles == nil &&
		p.DailyRecords == nil && p.MaterialCollection == nil
}

// TownPatch has no Level field: the level is always recomputed from XP.
type TownPatch struct {
	Name *string
	XP   *float64
	Gold *float64
}

type EconomyPatch struct {
	Gold        *float64
	TotalEarned *float64
	TotalSpent  *float64
}

// AgentPatch distinguishes an absent task id (HasCurrentTaskID false) from an
// explicit null (HasCurrentTaskID true, CurrentTaskID nil).
type AgentPatch struct {
	ID               string
	Name             *string
	Status           *AgentStatus
	HasCurrentTaskID bool
	CurrentTaskID    *string
	Category         *string
	Position         *PositionPatch
	Skills           []string
}

type PositionPatch struct {
	X *float64
	Y *float64
}

type BuildingPatch struct {
	Type     string
	Level    *float64
	Unlocked *bool
	Position *PositionPatch
}

type InventoryPatch struct {
	ItemID   string
	Quantity *float64
}

// DecorationPatch uses HasPosition the same way AgentPatch uses HasCurrentTaskID:
// an explicit null removes the decoration from the map.
type DecorationPatch struct {
	ID          string
	ItemID      *string
	HasPosition bool
	Position    *PositionPatch
}

type MissionPatch struct {
	ID           string
	Title        *string
	Progress     *float64
	Target       *float64
	Completed    *bool
	Requirements []string
}

type AchievementPatch struct {
	ID           string
	CurrentValue *float64
	Unlocked     *bool
	UnlockedAt   *string
}

type TitlePatch struct {
	ID       string
	Unlocked *bool
	Equipped *bool
}

type DailyRecordPatch struct {
	Date           string
	TasksCompleted *float64
	GoldEarned     *float64
	XPEarned       *float64
}

type MaterialPatch struct {
	MaterialID       string
	Collected        *float64
	FirstCollectedAt *string
}
