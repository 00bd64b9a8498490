package economy

import "valley-of-ashes/internal/game"

// Census is one sensing pass over the battle, seen from the controlled faction.
type Census struct {
	OwnLane   int
	EnemyLane int
	ByType    map[game.UnitType]int
	ByLane    map[game.Lane]int
}

func newCensus() Census {
	return Census{
		ByType: make(map[game.UnitType]int),
		ByLane: make(map[game.Lane]int),
	}
}

// RuleEnv wraps the census and economy state and exposes helper methods
// callable from expr expressions.
type RuleEnv struct {
	census      Census
	gold        int
	budget      int
	freeSlots   int
	towers      int
	bossHPRatio float64
}

// Deficit is enemy lane units minus own lane units; positive means outnumbered.
func (e RuleEnv) Deficit() int { return e.census.EnemyLane - e.census.OwnLane }

func (e RuleEnv) OwnLaneUnits() int   { return e.census.OwnLane }
func (e RuleEnv) EnemyLaneUnits() int { return e.census.EnemyLane }

// Count returns the living own units of the named type.
func (e RuleEnv) Count(t string) int {
	ut, ok := game.ParseUnitType(t)
	if !ok {
		return 0
	}
	return e.census.ByType[ut]
}

func (e RuleEnv) Gold() int            { return e.gold }
func (e RuleEnv) Budget() int          { return e.budget }
func (e RuleEnv) FreeArcherSlots() int { return e.freeSlots }
func (e RuleEnv) StandingTowers() int  { return e.towers }
func (e RuleEnv) BossHPRatio() float64 { return e.bossHPRatio }
