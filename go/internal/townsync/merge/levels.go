package merge

// levelThresholds[i] is the minimum XP required for level i+1.
var levelThresholds = []int{
	0,
	100,
	250,
	500,
	1000,
	2000,
	3500,
	5500,
	8000,
	12000,
	17000,
	25000,
}

// MaxLevel is the highest reachable town level.
var MaxLevel = len(levelThresholds)

// LevelFromXP returns the town level for the given XP. It is monotonic in xp
// and never lower than 1.
func LevelFromXP(xp int) int {
	level := 1
	for i, threshold := range levelThresholds {
		if xp >= threshold {
			level = i + 1
			continue
		}
		break
	}
	return level
}

// XPForLevel returns the minimum XP for the given level, clamped to the table.
func XPForLevel(level int) int {
	if level <= 1 {
		return 0
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	return levelThresholds[level-1]
}
