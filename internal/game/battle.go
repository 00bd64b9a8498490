package game

import (
	"math"
	"reflect"

	"github.com/pkg/errors"

	"valley-of-ashes/internal/config"
	"valley-of-ashes/internal/game/spatial"
)

// timeEpsilon absorbs float drift when fixed-step timers are compared to thresholds.
const timeEpsilon = 1e-9

type recallChannel struct {
	active        bool
	endsAt        float64
	cooldownUntil float64
}

// Battle is the deterministic simulation state. It is not safe for
// concurrent use; Engine serializes access.
type Battle struct {
	cfg   *config.Sim
	stats StatTable
	world *MapGeometry
	grid  *spatial.SpatialGrid

	units  []*Unit // units[id-1]
	bosses [NumFactions]UnitID

	gold     [NumFactions]int
	goldFrac [NumFactions]float64
	kills    [NumFactions]int
	recall   [NumFactions]recallChannel
	laneRR   [NumFactions]int

	time     float64
	tick     uint64
	gameOver bool
	winner   Faction

	events  []Event
	claimed map[UnitID]bool
	picks   []*Unit
}

// NewBattle builds the map and seeds both factions: boss, commanders,
// captain, tower archers and the starting wave.
func NewBattle(cfg *config.Sim, templates []config.UnitTemplate) (*Battle, error) {
	b, err := newBareBattle(cfg, templates)
	if err != nil {
		return nil, err
	}
	if err := b.seed(); err != nil {
		return nil, err
	}
	return b, nil
}

// newBareBattle builds the map with no units.
func newBareBattle(cfg *config.Sim, templates []config.UnitTemplate) (*Battle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid sim config")
	}
	stats, err := NewStatTable(templates)
	if err != nil {
		return nil, errors.Wrap(err, "unit templates")
	}
	world, err := NewMapGeometry(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "map geometry")
	}

	b := &Battle{
		cfg:     cfg,
		stats:   stats,
		world:   world,
		grid:    spatial.NewSpatialGrid(world.Width, world.Height, cfg.Combat.SpatialCellSize, cfg.Combat.MaxUnits),
		units:   make([]*Unit, 0, 512),
		winner:  FactionNeutral,
		claimed: make(map[UnitID]bool),
	}
	for f := range b.gold {
		b.gold[f] = cfg.Economy.StartingGold
	}
	return b, nil
}

func (b *Battle) seed() error {
	for _, f := range []Faction{FactionPlayer, FactionEnemy} {
		keep := b.world.Keeps[f]

		boss := b.spawn(f, UnitBoss, LaneNone, keep.BossSpawn)
		boss.Zone = keep.Rect

		var towers []int
		for ti, t := range b.world.Towers {
			if t.Owner == f {
				towers = append(towers, ti)
			}
		}
		for k, ti := range towers {
			pos := Vec2{
				X: keep.Rect.X + float64(k+1)*keep.Rect.W/float64(len(towers)+1),
				Y: keep.Rect.Y + keep.Rect.H*0.35,
			}
			c := b.spawn(f, UnitCommander, LaneNone, pos)
			c.TowerIndex = ti
			c.Zone = keep.Rect
		}

		for bi, bk := range b.world.Bunkers {
			if bk.Owner != f {
				continue
			}
			c := b.spawn(f, UnitCaptain, LaneNone, bk.Rect.Center())
			c.BunkerIndex = bi
			c.Zone = bk.Rect
			bk.CaptainAlive = true
		}

		for _, ti := range towers {
			for k := 0; k < b.cfg.Tower.ArchersPerTower; k++ {
				b.spawnDefender(f, UnitTowerArcher, ti)
			}
		}

		for _, w := range b.cfg.StartingWave {
			t, ok := ParseUnitType(w.Type)
			if !ok {
				return errors.Errorf("starting wave: unknown unit type %q", w.Type)
			}
			for i := 0; i < w.Count; i++ {
				b.spawn(f, t, LaneNone, b.graveyardSpawnPoint(b.world.HomeGraveyard(f), i))
			}
		}

		b.rescaleElites(f)
	}
	return nil
}

// =============================================================================
// TICK PIPELINE
// =============================================================================

// Update advances the simulation by dt seconds. A non-positive dt only
// counts the tick; nothing moves and no timer fires.
func (b *Battle) Update(dt float64) {
	b.tick++
	if dt <= 0 {
		return
	}
	b.time += dt
	if b.gameOver {
		return
	}

	b.resolveRecalls()
	b.rebuildIndex()
	b.coordinateCommanders()

	for _, u := range b.units {
		if !u.Alive() || u.Channeling() {
			continue
		}
		b.updateUnit(u, dt)
		if b.gameOver {
			return
		}
	}

	b.separate(dt)
	b.processRespawns(dt)
	b.updateTowers(dt)
	b.updateGraveyards(dt)
	b.accrueIncome(dt)
}

func (b *Battle) rebuildIndex() {
	b.grid.Clear()
	for _, u := range b.units {
		if u.Alive() {
			b.grid.Insert(uint32(u.ID), u.Pos.X, u.Pos.Y)
		}
	}
}

func (b *Battle) updateUnit(u *Unit, dt float64) {
	b.recoverStuck(u, dt)

	if u.IsHealer() {
		b.updateHealer(u, dt)
	}
	if u.IsTaunter() {
		b.updateTaunter(u, dt)
	}

	b.updateTarget(u)

	if t := b.Unit(u.TargetID); t != nil {
		b.engage(u, t, dt)
	} else if u.IsElite() {
		b.stepToward(u, u.Anchor, math.Min(u.MoveSpeed*dt, u.Pos.Dist(u.Anchor)))
	} else if u.IsLaneUnit() {
		b.march(u, dt)
	}

	b.regenerate(u, dt)
}

func (b *Battle) accrueIncome(dt float64) {
	rate := b.cfg.Economy.PassiveGoldPerSecond
	if rate <= 0 {
		return
	}
	for f := range b.goldFrac {
		b.goldFrac[f] += rate * dt
		whole := math.Floor(b.goldFrac[f])
		b.gold[f] += int(whole)
		b.goldFrac[f] -= whole
	}
}

// =============================================================================
// COMMAND SURFACE
// =============================================================================

// SpawnUnit creates a unit. A nil pos spawns at the faction's home graveyard.
// LaneNone on a marching type picks the next lane round-robin. Elites are
// bound to their structures at seeding and cannot be spawned here. Tower
// defenders take the next free tower slot, ignoring pos, and fail when every
// tower is full.
func (b *Battle) SpawnUnit(f Faction, t UnitType, lane Lane, pos *Vec2) *Unit {
	if !f.Playable() || t >= numUnitTypes {
		return nil
	}
	st := b.stats.Get(t)
	if st.Roles.Has(RoleElite) {
		return nil
	}

	var u *Unit
	if st.SlotLimited() {
		ti := b.freeTowerSlot(f)
		if ti < 0 {
			return nil
		}
		u = b.spawnDefender(f, t, ti)
	} else {
		at := b.graveyardSpawnPoint(b.world.HomeGraveyard(f), len(b.units))
		if pos != nil {
			at = *pos
		}
		u = b.spawn(f, t, lane, at)
	}
	b.emit(Event{Type: EventTypeSpawn, Faction: f.String(), UnitID: u.ID, UnitType: t.String()})
	return u
}

// PurchaseUnit spends gold on a unit. Slot-limited types need a free tower slot.
func (b *Battle) PurchaseUnit(f Faction, t UnitType, lane Lane) bool {
	if b.gameOver || !f.Playable() || t >= numUnitTypes {
		return false
	}
	st := b.stats.Get(t)
	if !st.Purchasable() || b.gold[f] < st.Cost {
		return false
	}

	var u *Unit
	if st.SlotLimited() {
		ti := b.freeTowerSlot(f)
		if ti < 0 {
			return false
		}
		b.gold[f] -= st.Cost
		u = b.spawnDefender(f, t, ti)
	} else {
		b.gold[f] -= st.Cost
		u = b.spawn(f, t, lane, b.graveyardSpawnPoint(b.world.HomeGraveyard(f), len(b.units)))
	}

	b.emit(Event{Type: EventTypePurchase, Faction: f.String(), UnitID: u.ID, UnitType: t.String(), Amount: st.Cost})
	return true
}

// TriggerRecall starts a mass recall of f's lane units.
func (b *Battle) TriggerRecall(f Faction) bool {
	if b.gameOver || !f.Playable() {
		return false
	}
	rc := &b.recall[f]
	if rc.active || b.time+timeEpsilon < rc.cooldownUntil {
		return false
	}
	if boss := b.Unit(b.bosses[f]); boss == nil || !boss.Alive() {
		return false
	}

	n := 0
	for _, u := range b.units {
		if u.Faction == f && u.Alive() && u.IsLaneUnit() {
			u.Recall = RecallChanneling
			u.TargetID = NoUnit
			n++
		}
	}
	if n == 0 {
		return false
	}

	rc.active = true
	rc.endsAt = b.time + b.cfg.Recall.ChannelS
	rc.cooldownUntil = b.time + b.cfg.Recall.CooldownS
	b.emit(Event{Type: EventTypeRecallStarted, Faction: f.String(), Amount: n})
	return true
}

// ApplyConfig swaps in new tunables, rebuilds the derived spatial index and
// rescales both factions' bosses and commanders. Changes to map geometry are
// rejected. Unit templates are fixed for the life of the battle.
func (b *Battle) ApplyConfig(cfg *config.Sim) error {
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "apply config")
	}
	if !reflect.DeepEqual(geometryKeyOf(cfg), geometryKeyOf(b.cfg)) {
		return errors.New("apply config: map geometry cannot change mid-battle")
	}
	b.grid = spatial.NewSpatialGrid(b.world.Width, b.world.Height, cfg.Combat.SpatialCellSize, cfg.Combat.MaxUnits)
	b.cfg = cfg
	b.rebuildIndex()
	for _, f := range []Faction{FactionPlayer, FactionEnemy} {
		b.rescaleElites(f)
	}
	return nil
}

type geometryKey struct {
	Map        config.MapConfig
	Graveyards []config.GraveyardSpec
	Towers     []config.TowerSpec
	Bunkers    []config.BunkerSpec
	Keeps      []config.KeepSpec
	Core       float64
	Wall, Gate float64
}

func geometryKeyOf(c *config.Sim) geometryKey {
	return geometryKey{
		Map:        c.Map,
		Graveyards: c.Graveyards,
		Towers:     c.Towers,
		Bunkers:    c.Bunkers,
		Keeps:      c.Keeps,
		Core:       c.Tower.CoreRadius,
		Wall:       c.Bunker.WallThickness,
		Gate:       c.Bunker.GateWidth,
	}
}

// DrainEvents returns and clears the events recorded since the last drain.
func (b *Battle) DrainEvents() []Event {
	out := b.events
	b.events = nil
	return out
}

func (b *Battle) emit(e Event) {
	e.TickNum = b.tick
	e.SimTime = b.time
	b.events = append(b.events, e)
}

// =============================================================================
// SPAWNING
// =============================================================================

func (b *Battle) spawn(f Faction, t UnitType, lane Lane, pos Vec2) *Unit {
	st := b.stats.Get(t)
	u := &Unit{
		ID:              UnitID(len(b.units) + 1),
		Faction:         f,
		Type:            t,
		Roles:           st.Roles,
		Pos:             pos,
		HP:              st.MaxHP,
		MaxHP:           st.MaxHP,
		Damage:          st.Damage,
		AttackRange:     st.AttackRange,
		AggroRange:      st.AggroRange,
		AttackCooldownS: st.AttackCooldownS,
		MoveSpeed:       st.MoveSpeed,
		AttackTimer:     st.AttackCooldownS,
		LastHitBy:       FactionNeutral,
		State:           StateMarching,
		RespawnDelayS:   st.RespawnDelayS,
		QueuedAt:        -1,
		TowerIndex:      -1,
		BunkerIndex:     -1,
		Anchor:          pos,
		BaseMaxHP:       st.MaxHP,
		BaseDamage:      st.Damage,
		HealTimer:       b.cfg.Support.HealCooldownS,
		TauntTimer:      b.cfg.Support.TauntCooldownS,
	}
	if st.Roles.Has(RoleRespawn) {
		u.RemainingRespawns = b.cfg.Combat.MaxRespawns
	}

	if u.IsElite() || u.IsStatic() {
		u.State = StateDefending
		u.Lane = LaneNone
		if u.IsElite() {
			u.Zone = b.world.Keeps[f].Rect
		}
	} else {
		if lane == LaneNone {
			lane = Lanes[b.laneRR[f]%len(Lanes)]
			b.laneRR[f]++
		}
		u.Lane = lane
		u.WaypointIndex = b.world.NearestWaypoint(f, lane, pos)
	}

	if u.IsBoss() {
		b.bosses[f] = u.ID
	}
	b.units = append(b.units, u)
	return u
}

// spawnDefender places a tower defender on the next ring slot and restores
// a vulnerable tower.
func (b *Battle) spawnDefender(f Faction, t UnitType, ti int) *Unit {
	tw := b.world.Towers[ti]
	n := b.cfg.Tower.ArchersPerTower
	if n < 1 {
		n = 1
	}
	angle := 2 * math.Pi * float64(tw.Defenders%n) / float64(n)
	pos := tw.Pos.Add(Vec2{math.Cos(angle), math.Sin(angle)}.Scale(b.cfg.Tower.ArcherRingRadius))

	u := b.spawn(f, t, LaneNone, pos)
	u.TowerIndex = ti
	tw.Defenders++
	if tw.State == TowerVulnerable {
		tw.State = TowerStanding
		tw.OccupyS = 0
		b.emit(Event{Type: EventTypeTowerRestored, Faction: f.String(), Structure: tw.ID})
	}
	return u
}

// freeTowerSlot returns the non-destroyed tower of f with the fewest
// defenders below capacity (ties by index), or -1.
func (b *Battle) freeTowerSlot(f Faction) int {
	best, bestN := -1, math.MaxInt
	for ti, t := range b.world.Towers {
		if t.Owner != f || t.State == TowerDestroyed || t.Defenders >= b.cfg.Tower.ArchersPerTower {
			continue
		}
		if t.Defenders < bestN {
			best, bestN = ti, t.Defenders
		}
	}
	return best
}

// graveyardSpawnPoint spreads arrivals over the spawn disc; i selects the slot.
func (b *Battle) graveyardSpawnPoint(gi, i int) Vec2 {
	g := b.world.Graveyards[gi]
	const golden = 2.399963229728653 // golden angle, radians
	r := g.SpawnRadius * math.Sqrt(float64(i%16+1)/16)
	a := golden * float64(i)
	p := g.Pos.Add(Vec2{math.Cos(a), math.Sin(a)}.Scale(r))
	if !b.world.Passable(p) {
		return g.Pos
	}
	return p
}

// =============================================================================
// STATE SURFACE
// =============================================================================

// Unit returns the unit with id, or nil.
func (b *Battle) Unit(id UnitID) *Unit {
	if id == NoUnit || int(id) > len(b.units) {
		return nil
	}
	return b.units[id-1]
}

// Units returns every unit in id order. Callers must treat it as read-only.
func (b *Battle) Units() []*Unit { return b.units }

// Map returns the map geometry and structure state.
func (b *Battle) Map() *MapGeometry { return b.world }

// Config returns the active tunables.
func (b *Battle) Config() *config.Sim { return b.cfg }

// Stats returns the base stat table.
func (b *Battle) Stats() *StatTable { return &b.stats }

// Gold returns f's current gold.
func (b *Battle) Gold(f Faction) int {
	if !f.Playable() {
		return 0
	}
	return b.gold[f]
}

// Kills returns f's kill credits.
func (b *Battle) Kills(f Faction) int {
	if !f.Playable() {
		return 0
	}
	return b.kills[f]
}

// Boss returns f's boss unit.
func (b *Battle) Boss(f Faction) *Unit {
	if !f.Playable() {
		return nil
	}
	return b.Unit(b.bosses[f])
}

// RecallActive reports an in-progress channel for f.
func (b *Battle) RecallActive(f Faction) bool {
	return f.Playable() && b.recall[f].active
}

// RecallCooldown returns seconds until f may recall again.
func (b *Battle) RecallCooldown(f Faction) float64 {
	if !f.Playable() {
		return 0
	}
	return math.Max(0, b.recall[f].cooldownUntil-b.time)
}

// Time returns the simulation clock in seconds.
func (b *Battle) Time() float64 { return b.time }

// Tick returns the number of Update calls so far.
func (b *Battle) Tick() uint64 { return b.tick }

// GameOver reports whether a boss has fallen.
func (b *Battle) GameOver() bool { return b.gameOver }

// Winner returns the victorious faction, or FactionNeutral while running.
func (b *Battle) Winner() Faction { return b.winner }

// SpatialStats exposes index occupancy for debugging.
func (b *Battle) SpatialStats() spatial.GridStats { return b.grid.Stats() }
