package economy

import (
	"log"
	"math"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"valley-of-ashes/internal/config"
	"valley-of-ashes/internal/game"
)

const timeEpsilon = 1e-9

// Battle is the part of the simulation the AI reads and commands.
// *game.Battle satisfies it.
type Battle interface {
	Units() []*game.Unit
	Map() *game.MapGeometry
	Config() *config.Sim
	Stats() *game.StatTable
	Gold(f game.Faction) int
	Boss(f game.Faction) *game.Unit
	Time() float64
	GameOver() bool
	PurchaseUnit(f game.Faction, t game.UnitType, lane game.Lane) bool
	TriggerRecall(f game.Faction) bool
}

// Stats are cumulative AI counters.
type Stats struct {
	Decisions int            `json:"decisions"`
	Purchases int            `json:"purchases"`
	Spent     int            `json:"spent"`
	Recalls   int            `json:"recalls"`
	ByRule    map[string]int `json:"byRule"`
}

// AI purchases units and triggers recalls for one faction. It implements
// game.Controller and must run on the simulation goroutine.
type AI struct {
	battle  Battle
	faction game.Faction
	rules   []*Rule

	senseTimer  float64
	decideTimer float64
	census      Census

	lastBuy     map[game.UnitType]float64
	recallArmed bool

	statsMu sync.Mutex // Stats is read from HTTP handlers
	stats   Stats
}

// NewAI compiles rules (DefaultRules when nil) and takes an initial census.
func NewAI(b Battle, f game.Faction, rules []*Rule) (*AI, error) {
	if rules == nil {
		rules = DefaultRules()
	}
	compiled, err := compileRules(rules)
	if err != nil {
		return nil, err
	}
	a := &AI{
		battle:      b,
		faction:     f,
		rules:       compiled,
		lastBuy:     make(map[game.UnitType]float64),
		recallArmed: true,
		stats:       Stats{ByRule: make(map[string]int)},
	}
	a.sense()
	return a, nil
}

// Faction returns the controlled faction.
func (a *AI) Faction() game.Faction { return a.faction }

// Census returns the latest sensing pass.
func (a *AI) Census() Census { return a.census }

// Stats returns a copy of the cumulative counters. Safe from any goroutine.
func (a *AI) Stats() Stats {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	s := a.stats
	s.ByRule = make(map[string]int, len(a.stats.ByRule))
	for k, v := range a.stats.ByRule {
		s.ByRule[k] = v
	}
	return s
}

// Update advances both loops by dt.
func (a *AI) Update(dt float64) {
	if a.battle.GameOver() || dt <= 0 {
		return
	}
	cfg := a.battle.Config().AI

	a.senseTimer += dt
	if a.senseTimer+timeEpsilon >= cfg.SenseIntervalS {
		a.senseTimer = 0
		a.sense()
		a.checkRecall()
	}

	a.decideTimer += dt
	if a.decideTimer+timeEpsilon >= cfg.DecisionIntervalS {
		a.decideTimer = 0
		a.decide()
	}
}

// sense recounts living units. Lane totals exclude defenders and elites.
func (a *AI) sense() {
	c := newCensus()
	opp := a.faction.Opponent()
	for _, u := range a.battle.Units() {
		if !u.Alive() {
			continue
		}
		switch {
		case u.Faction == a.faction:
			c.ByType[u.Type]++
			if u.IsLaneUnit() {
				c.OwnLane++
				c.ByLane[u.Lane]++
			}
		case u.Faction == opp && u.IsLaneUnit():
			c.EnemyLane++
		}
	}
	a.census = c
}

// checkRecall fires once per downward crossing of the boss hp threshold and
// re-arms once hp climbs back above it.
func (a *AI) checkRecall() {
	boss := a.battle.Boss(a.faction)
	if boss == nil || !boss.Alive() {
		return
	}
	threshold := a.battle.Config().Recall.BossHPThreshold
	ratio := boss.HPRatio()

	if ratio > threshold {
		a.recallArmed = true
		return
	}
	if !a.recallArmed {
		return
	}
	if a.battle.TriggerRecall(a.faction) {
		a.recallArmed = false
		a.statsMu.Lock()
		a.stats.Recalls++
		a.statsMu.Unlock()
		log.Printf("🌀 %s AI recalling to defend boss at %.0f%% hp", a.faction, ratio*100)
	}
}

// decide spends up to the budget on rule picks, one unit per iteration.
func (a *AI) decide() {
	cfg := a.battle.Config().AI
	stats := a.battle.Stats()
	gold := a.battle.Gold(a.faction)
	budget := int(math.Floor(float64(gold) * cfg.SpendFraction))

	a.statsMu.Lock()
	a.stats.Decisions++
	a.statsMu.Unlock()
	spent := 0
	var bought []string

	for n := 0; n < cfg.MaxPurchasesPerDecision; n++ {
		env := a.env(gold-spent, budget-spent)
		r := a.pick(env, budget-spent, cfg)
		if r == nil {
			break
		}

		st := stats.Get(r.unitType)
		lane := game.LaneNone
		if !st.SlotLimited() {
			lane = a.chooseLane()
		}
		if !a.battle.PurchaseUnit(a.faction, r.unitType, lane) {
			break
		}

		spent += st.Cost
		a.lastBuy[r.unitType] = a.battle.Time()
		a.census.ByType[r.unitType]++
		if lane != game.LaneNone {
			a.census.OwnLane++
			a.census.ByLane[lane]++
		}
		a.statsMu.Lock()
		a.stats.Purchases++
		a.stats.Spent += st.Cost
		a.stats.ByRule[r.Name]++
		a.statsMu.Unlock()
		bought = append(bought, r.unitType.String())
	}

	if len(bought) > 0 {
		log.Printf("🤖 %s AI bought %d units for %dg [%s]", a.faction, len(bought), spent, strings.Join(bought, ", "))
	}
}

// pick returns the first rule whose condition holds, whose unit is off
// cooldown and which fits the remaining budget.
func (a *AI) pick(env RuleEnv, remaining int, cfg config.AITuning) *Rule {
	stats := a.battle.Stats()
	now := a.battle.Time()
	for _, r := range a.rules {
		st := stats.Get(r.unitType)
		if !st.Purchasable() || st.Cost > remaining {
			continue
		}
		if st.SlotLimited() && env.freeSlots == 0 {
			continue
		}
		if last, ok := a.lastBuy[r.unitType]; ok {
			cd := cfg.PurchaseCooldownsS[r.unitType.String()]
			if now-last+timeEpsilon < cd {
				continue
			}
		}

		ok, err := r.matches(env)
		if err != nil {
			log.Printf("⚠️ AI rule %s failed: %v", r.Name, err)
			continue
		}
		if ok {
			return r
		}
	}
	return nil
}

func (a *AI) env(gold, budget int) RuleEnv {
	e := RuleEnv{
		census: a.census,
		gold:   gold,
		budget: budget,
		towers: a.battle.Map().StandingTowers(a.faction),
	}

	capacity := a.battle.Config().Tower.ArchersPerTower
	for _, t := range a.battle.Map().Towers {
		if t.Owner == a.faction && t.State != game.TowerDestroyed && t.Defenders < capacity {
			e.freeSlots += capacity - t.Defenders
		}
	}
	if boss := a.battle.Boss(a.faction); boss != nil {
		e.bossHPRatio = boss.HPRatio()
	}
	return e
}

// chooseLane returns the lane with the fewest own lane units, ties in lane order.
func (a *AI) chooseLane() game.Lane {
	best := game.Lanes[0]
	for _, l := range game.Lanes[1:] {
		if a.census.ByLane[l] < a.census.ByLane[best] {
			best = l
		}
	}
	return best
}

// ParseControlled maps an AI faction setting (PLAYER, ENEMY, BOTH or NONE,
// case-insensitive) to the factions the AI should drive.
func ParseControlled(s string) ([]game.Faction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE":
		return nil, nil
	case "BOTH":
		return []game.Faction{game.FactionPlayer, game.FactionEnemy}, nil
	}
	f, ok := game.ParseFaction(strings.ToUpper(strings.TrimSpace(s)))
	if !ok || !f.Playable() {
		return nil, errors.Errorf("unknown AI faction %q", s)
	}
	return []game.Faction{f}, nil
}
