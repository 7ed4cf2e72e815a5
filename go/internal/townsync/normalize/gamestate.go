package normalize

import (
	"github.com/agenttown/townsync/go/internal/models"
)

const maxUnwrapDepth = 4

// GameState converts a canonical game-state payload into a Patch. It accepts
// the bare canonical object and the wrapped forms {state: ...},
// {gameState: ...} and {success, data: {state|gameState}}.
//
// Malformed fields are dropped individually; only a payload that is not an
// object, or an explicit {success: false}, is invalid.
func GameState(v any) (models.Patch, bool) {
	o, ok := unwrapGameState(v, 0)
	if !ok {
		return models.Patch{}, false
	}
	return patchFromObject(o), true
}

func unwrapGameState(v any, depth int) (object, bool) {
	o, ok := asObject(v)
	if !ok || depth > maxUnwrapDepth {
		return nil, false
	}
	if success, ok := o["success"].(bool); ok && !success {
		return nil, false
	}
	for _, key := range []string{"data", "gameState", "state"} {
		if inner, ok := asObject(o[key]); ok {
			return unwrapGameState(map[string]any(inner), depth+1)
		}
	}
	return o, true
}

func patchFromObject(o object) models.Patch {
	var p models.Patch

	if town, ok := asObject(o["town"]); ok {
		p.Town = &models.TownPatch{
			Name: town.lenientStr("name"),
			XP:   town.num("xp"),
			Gold: town.num("gold"),
		}
	}
	if economy, ok := asObject(o["economy"]); ok {
		p.Economy = &models.EconomyPatch{
			Gold:        economy.num("gold"),
			TotalEarned: economy.num("totalEarned"),
			TotalSpent:  economy.num("totalSpent"),
		}
	}

	if o.has("agents") {
		p.Agents = collect(o["agents"], "id", agentPatch)
	}
	if o.has("buildings") {
		p.Buildings = collect(o["buildings"], "type", buildingPatch)
	}
	if o.has("inventory") {
		p.Inventory = collect(o["inventory"], "itemId", inventoryPatch)
	}
	if o.has("decorations") {
		p.Decorations = collect(o["decorations"], "id", decorationPatch)
	}
	if o.has("missions") {
		p.Missions = collect(o["missions"], "id", missionPatch)
	}
	if o.has("achievements") {
		p.Achievements = collect(o["achievements"], "id", achievementPatch)
	}
	if o.has("titles") {
		p.Titles = collect(o["titles"], "id", titlePatch)
	}
	if o.has("dailyRecords") {
		p.DailyRecords = collect(o["dailyRecords"], "date", dailyRecordPatch)
	}
	if o.has("materialCollection") {
		p.MaterialCollection = collect(o["materialCollection"], "materialId", materialPatch)
	}
	if log, ok := o["activityLog"].([]any); ok {
		p.ActivityLog = activityLog(log)
	}

	return p
}

// collect parses a keyed collection. The result is nil when the collection has
// the wrong shape, so a malformed collection never clears existing state.
func collect[P any](v any, keyField string, parse func(key string, raw any) (P, bool)) []P {
	out := []P{}
	ok := entries(v, func(fallbackKey string, raw any) {
		key := fallbackKey
		if o, isObj := asObject(raw); isObj {
			if k, ok := o.str(keyField); ok {
				key = k
			}
		}
		if key == "" {
			return
		}
		if p, ok := parse(key, raw); ok {
			out = append(out, p)
		}
	})
	if !ok {
		return nil
	}
	return out
}

func agentPatch(key string, raw any) (models.AgentPatch, bool) {
	o, ok := asObject(raw)
	if !ok {
		return models.AgentPatch{}, false
	}
	p := models.AgentPatch{
		ID:       key,
		Name:     o.lenientStr("name"),
		Category: o.lenientStr("category"),
		Position: position(o["position"]),
		Skills:   o.strings("skills"),
	}
	if status, ok := o.str("status"); ok {
		switch s := models.AgentStatus(status); s {
		case models.AgentStatusIdle, models.AgentStatusWorking, models.AgentStatusOffline:
			p.Status = &s
		}
	}
	if rawTask, present := o["currentTaskId"]; present {
		switch id := rawTask.(type) {
		case nil:
			p.HasCurrentTaskID = true
		case string:
			p.HasCurrentTaskID = true
			if id != "" {
				p.CurrentTaskID = &id
			}
		}
	}
	return p, true
}

func buildingPatch(key string, raw any) (models.BuildingPatch, bool) {
	o, ok := asObject(raw)
	if !ok {
		return models.BuildingPatch{}, false
	}
	return models.BuildingPatch{
		Type:     key,
		Level:    o.num("level"),
		Unlocked: o.boolean("unlocked"),
		Position: position(o["position"]),
	}, true
}

// inventoryPatch also accepts the compact {itemId: quantity} form.
func inventoryPatch(key string, raw any) (models.InventoryPatch, bool) {
	if qty, ok := number(raw); ok {
		return models.InventoryPatch{ItemID: key, Quantity: &qty}, true
	}
	o, ok := asObject(raw)
	if !ok {
		return models.InventoryPatch{}, false
	}
	return models.InventoryPatch{ItemID: key, Quantity: o.num("quantity")}, true
}

func decorationPatch(key string, raw any) (models.DecorationPatch, bool) {
	o, ok := asObject(raw)
	if !ok {
		return models.DecorationPatch{}, false
	}
	p := models.DecorationPatch{ID: key, ItemID: o.lenientStr("itemId")}
	if rawPos, present := o["position"]; present {
		if rawPos == nil {
			p.HasPosition = true
		} else if pos := position(rawPos); pos != nil {
			p.HasPosition = true
			p.Position = pos
		}
	}
	return p, true
}

func missionPatch(key string, raw any) (models.MissionPatch, bool) {
	o, ok := asObject(raw)
	if !ok {
		return models.MissionPatch{}, false
	}
	return models.MissionPatch{
		ID:           key,
		Title:        o.lenientStr("title"),
		Progress:     o.num("progress"),
		Target:       o.num("target"),
		Completed:    o.boolean("completed"),
		Requirements: o.strings("requirements"),
	}, true
}

func achievementPatch(key string, raw any) (models.AchievementPatch, bool) {
	o, ok := asObject(raw)
	if !ok {
		return models.AchievementPatch{}, false
	}
	return models.AchievementPatch{
		ID:           key,
		CurrentValue: o.num("currentValue"),
		Unlocked:     o.boolean("unlocked"),
		UnlockedAt:   o.lenientStr("unlockedAt"),
	}, true
}

func titlePatch(key string, raw any) (models.TitlePatch, bool) {
	o, ok := asObject(raw)
	if !ok {
		return models.TitlePatch{}, false
	}
	return models.TitlePatch{
		ID:       key,
		Unlocked: o.boolean("unlocked"),
		Equipped: o.boolean("equipped"),
	}, true
}

func dailyRecordPatch(key string, raw any) (models.DailyRecordPatch, bool) {
	o, ok := asObject(raw)
	if !ok {
		return models.DailyRecordPatch{}, false
	}
	return models.DailyRecordPatch{
		Date:           key,
		TasksCompleted: o.num("tasksCompleted"),
		GoldEarned:     o.num("goldEarned"),
		XPEarned:       o.num("xpEarned"),
	}, true
}

func materialPatch(key string, raw any) (models.MaterialPatch, bool) {
	if collected, ok := number(raw); ok {
		return models.MaterialPatch{MaterialID: key, Collected: &collected}, true
	}
	o, ok := asObject(raw)
	if !ok {
		return models.MaterialPatch{}, false
	}
	return models.MaterialPatch{
		MaterialID:       key,
		Collected:        o.num("collected"),
		FirstCollectedAt: o.lenientStr("firstCollectedAt"),
	}, true
}

func position(v any) *models.PositionPatch {
	o, ok := asObject(v)
	if !ok {
		return nil
	}
	return &models.PositionPatch{X: o.num("x"), Y: o.num("y")}
}

// activityLog keeps object entries in order; "type" is accepted for "kind".
func activityLog(items []any) []models.ActivityEntry {
	out := make([]models.ActivityEntry, 0, len(items))
	for _, item := range items {
		o, ok := asObject(item)
		if !ok {
			continue
		}
		e := models.ActivityEntry{}
		e.ID, _ = o.str("id")
		e.Kind, _ = o.firstStr("kind", "type")
		e.Message, _ = o.str("message")
		e.AgentID, _ = o.str("agentId")
		e.Timestamp, _ = o.str("timestamp")
		out = append(out, e)
	}
	return out
}

// InitialState normalizes the bootstrap snapshot. Each part is validated on
// its own; a malformed part is omitted without rejecting the rest.
func InitialState(v any) (models.InitialState, bool) {
	o, ok := asObject(v)
	if !ok {
		return models.InitialState{}, false
	}
	var s models.InitialState

	if o.has("dashboard") {
		if content, ok := Dashboard(o["dashboard"]); ok {
			s.Dashboard = &content
		}
	}
	if o.has("gameState") {
		if patch, ok := GameState(o["gameState"]); ok {
			s.GameState = &patch
		}
	}
	if tasks, ok := Tasks(o["tasks"]); ok {
		s.Tasks = tasks
	}
	if reports, ok := Reports(o["reports"]); ok {
		s.Reports = reports
	}
	if o.has("commands") {
		if update, ok := CommandUpdate(o["commands"]); ok {
			s.Commands = update.Commands
		}
	}
	if stats, ok := ContextStats(o["contextStats"]); ok {
		s.ContextStats = stats
	}
	return s, true
}
