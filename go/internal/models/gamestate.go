package models

// AgentStatus defines what an agent is currently doing.
type AgentStatus string

const (
	AgentStatusIdle    AgentStatus = "idle"
	AgentStatusWorking AgentStatus = "working"
	AgentStatusOffline AgentStatus = "offline"
)

// Position is a location on the town map.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Agent is an autonomous worker living in the town.
type Agent struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Status        AgentStatus `json:"status"`
	CurrentTaskID *string     `json:"currentTaskId"`
	Category      string      `json:"category"`
	Position      Position    `json:"position"`
	Skills        []string    `json:"skills"`
}

// Building is a town building, keyed by its type.
type Building struct {
	Type     string   `json:"type"`
	Level    int      `json:"level"`
	Unlocked bool     `json:"unlocked"`
	Position Position `json:"position"`
}

// Town holds the town progression. Level is derived from XP.
type Town struct {
	Name  string `json:"name"`
	Level int    `json:"level"`
	XP    int    `json:"xp"`
	Gold  int    `json:"gold"`
}

// Economy mirrors the town gold and tracks lifetime totals.
type Economy struct {
	Gold        int `json:"gold"`
	TotalEarned int `json:"totalEarned"`
	TotalSpent  int `json:"totalSpent"`
}

// InventoryItem is a stack of items, keyed by ItemID.
type InventoryItem struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

// Decoration is a placeable cosmetic item. Position is nil while unplaced.
type Decoration struct {
	ID       string    `json:"id"`
	ItemID   string    `json:"itemId"`
	Position *Position `json:"position"`
}

// ActivityEntry is a single line of the town activity log.
type ActivityEntry struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	AgentID   string `json:"agentId,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Mission is a progress-tracked objective.
type Mission struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Progress     int      `json:"progress"`
	Target       int      `json:"target"`
	Completed    bool     `json:"completed"`
	Requirements []string `json:"requirements"`
}

// Achievement tracks a counter towards an unlock.
type Achievement struct {
	ID           string `json:"id"`
	CurrentValue int    `json:"currentValue"`
	Unlocked     bool   `json:"unlocked"`
	UnlockedAt   string `json:"unlockedAt,omitempty"`
}

// Title is an earned display title.
type Title struct {
	ID       string `json:"id"`
	Unlocked bool   `json:"unlocked"`
	Equipped bool   `json:"equipped"`
}

// DailyRecord aggregates activity for one calendar day, keyed by Date (YYYY-MM-DD).
type DailyRecord struct {
	Date           string `json:"date"`
	TasksCompleted int    `json:"tasksCompleted"`
	GoldEarned     int    `json:"goldEarned"`
	XPEarned       int    `json:"xpEarned"`
}

// MaterialEntry tracks collection of one material, keyed by MaterialID.
type MaterialEntry struct {
	MaterialID       string `json:"materialId"`
	Collected        int    `json:"collected"`
	FirstCollectedAt string `json:"firstCollectedAt,omitempty"`
}

// GameState is the canonical, server-authoritative aggregate mirrored by the client.
// It is only ever produced by the merge engine; treat values as read-only.
type GameState struct {
	Agents             []Agent         `json:"agents"`
	Buildings          []Building      `json:"buildings"`
	Town               Town            `json:"town"`
	Economy            Economy         `json:"economy"`
	Inventory          []InventoryItem `json:"inventory"`
	Decorations        []Decoration    `json:"decorations"`
	ActivityLog        []ActivityEntry `json:"activityLog"`
	Missions           []Mission       `json:"missions"`
	Achievements       []Achievement   `json:"achievements"`
	Titles             []Title         `json:"titles"`
	DailyRecords       []DailyRecord   `json:"dailyRecords"`
	MaterialCollection []MaterialEntry `json:"materialCollection"`
}
