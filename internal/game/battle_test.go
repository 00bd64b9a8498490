package game

import (
	"math"
	"reflect"
	"testing"

	"valley-of-ashes/internal/config"
)

// =============================================================================
// HELPERS
// =============================================================================

func testSim() *config.Sim {
	cfg := config.DefaultSim()
	cfg.Economy.PassiveGoldPerSecond = 0
	return &cfg
}

// newTestBattle builds the map with no units.
func newTestBattle(t *testing.T, cfg *config.Sim) *Battle {
	t.Helper()
	if cfg == nil {
		cfg = testSim()
	}
	b, err := newBareBattle(cfg, config.DefaultUnits())
	if err != nil {
		t.Fatalf("newBareBattle: %v", err)
	}
	return b
}

func newSeededBattle(t *testing.T, cfg *config.Sim) *Battle {
	t.Helper()
	if cfg == nil {
		cfg = testSim()
	}
	b, err := NewBattle(cfg, config.DefaultUnits())
	if err != nil {
		t.Fatalf("NewBattle: %v", err)
	}
	return b
}

// place puts any unit type at an exact point with no structure binding.
func place(b *Battle, f Faction, ut UnitType, lane Lane, x, y float64) *Unit {
	return b.spawn(f, ut, lane, Vec2{x, y})
}

func graveyardByID(b *Battle, id string) (int, *Graveyard) {
	for i, g := range b.Map().Graveyards {
		if g.ID == id {
			return i, g
		}
	}
	return -1, nil
}

// =============================================================================
// SEEDING
// =============================================================================

// TestNewBattleSeeds verifies both factions start with boss, commanders,
// captain, full towers and the starting wave
func TestNewBattleSeeds(t *testing.T) {
	b := newSeededBattle(t, nil)

	counts := map[Faction]map[UnitType]int{FactionPlayer: {}, FactionEnemy: {}}
	for _, u := range b.Units() {
		counts[u.Faction][u.Type]++
	}

	for _, f := range []Faction{FactionPlayer, FactionEnemy} {
		want := map[UnitType]int{
			UnitBoss: 1, UnitCommander: 4, UnitCaptain: 1, UnitTowerArcher: 24,
			UnitGrunt: 24, UnitLieutenant: 6, UnitCavalry: 2, UnitHealer: 2,
		}
		for ut, n := range want {
			if counts[f][ut] != n {
				t.Errorf("%s: expected %d %s, got %d", f, n, ut, counts[f][ut])
			}
		}

		boss := b.Boss(f)
		if boss == nil {
			t.Fatalf("%s: no boss", f)
		}
		wantHP := 5000 * (1 + 0.8*4)
		if math.Abs(boss.MaxHP-wantHP) > 1e-6 || math.Abs(boss.HP-wantHP) > 1e-6 {
			t.Errorf("%s: expected boss hp %v, got %v/%v", f, wantHP, boss.HP, boss.MaxHP)
		}
		if b.Gold(f) != 120 {
			t.Errorf("%s: expected 120 gold, got %d", f, b.Gold(f))
		}
	}

	for _, tw := range b.Map().Towers {
		if tw.Defenders != 6 || tw.State != TowerStanding {
			t.Errorf("tower %s: expected 6 defenders standing, got %d %s", tw.ID, tw.Defenders, tw.State)
		}
	}
	for _, bk := range b.Map().Bunkers {
		if !bk.CaptainAlive {
			t.Errorf("bunker %s: expected captain alive", bk.ID)
		}
	}
}

// TestUnitIDsMonotonic verifies ids are dense, ascending and match slice order
func TestUnitIDsMonotonic(t *testing.T) {
	b := newSeededBattle(t, nil)
	for i, u := range b.Units() {
		if u.ID != UnitID(i+1) {
			t.Fatalf("Expected id %d at index %d, got %d", i+1, i, u.ID)
		}
	}
	if b.Unit(NoUnit) != nil {
		t.Error("Expected nil for NoUnit")
	}
	if b.Unit(UnitID(len(b.Units())+1)) != nil {
		t.Error("Expected nil for out-of-range id")
	}
}

// =============================================================================
// COMBAT SCENARIOS
// =============================================================================

// TestDuelDamageAndKillReward verifies one hit after the cooldown elapses
// and reward on the killing blow
func TestDuelDamageAndKillReward(t *testing.T) {
	const dt = 0.05

	b := newTestBattle(t, nil)
	a := place(b, FactionPlayer, UnitLieutenant, LaneCenter, 1500, 1500)
	v := place(b, FactionEnemy, UnitGrunt, LaneCenter, 1500, 1515)
	a.AttackCooldownS, a.AttackTimer = 1.0, 1.0

	for i := 0; i < 19; i++ {
		b.Update(dt)
	}
	if v.HP != 28 {
		t.Fatalf("Expected no damage before cooldown, got hp %v", v.HP)
	}

	b.Update(dt)
	if v.HP != 28-a.Damage {
		t.Fatalf("Expected hp %v after one hit, got %v", 28-a.Damage, v.HP)
	}
	if v.LastHitBy != FactionPlayer {
		t.Errorf("Expected last hit by PLAYER, got %s", v.LastHitBy)
	}

	// Drop the victim to a killing-blow threshold.
	v.HP = a.Damage
	goldBefore := b.Gold(FactionPlayer)
	for i := 0; i < 20; i++ {
		b.Update(dt)
	}

	if v.State != StateRespawning {
		t.Fatalf("Expected RESPAWNING, got %s", v.State)
	}
	if v.HP != 0 {
		t.Errorf("Expected hp clamped to 0, got %v", v.HP)
	}
	if got := b.Gold(FactionPlayer) - goldBefore; got != 3 {
		t.Errorf("Expected +3 gold, got %+d", got)
	}
	if b.Kills(FactionPlayer) != 1 || a.Kills != 1 {
		t.Errorf("Expected 1 faction and unit kill, got %d / %d", b.Kills(FactionPlayer), a.Kills)
	}
	if v.QueuedAt < 0 {
		t.Fatal("Expected victim queued at a graveyard")
	}
	if g := b.Map().Graveyards[v.QueuedAt]; g.Owner != FactionEnemy {
		t.Errorf("Expected queue at ENEMY graveyard, got %s", g.Owner)
	}
}

// TestKillAttribution verifies rewards only cross factions and happen once
func TestKillAttribution(t *testing.T) {
	tests := []struct {
		name      string
		killer    Faction
		nilKiller bool
		wantGold  int
		wantKills int
	}{
		{"enemy kill", FactionPlayer, false, 3, 1},
		{"friendly fire", FactionEnemy, false, 0, 0},
		{"structural", FactionPlayer, true, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBattle(t, nil)
			victim := place(b, FactionEnemy, UnitGrunt, LaneCenter, 1500, 1500)
			var killer *Unit
			if !tt.nilKiller {
				killer = place(b, tt.killer, UnitGrunt, LaneCenter, 1500, 1510)
			}
			before := [NumFactions]int{b.Gold(FactionPlayer), b.Gold(FactionEnemy)}

			victim.HP = 0
			b.handleDeath(victim, killer)
			b.handleDeath(victim, killer) // second call must be a no-op

			gained := b.Gold(FactionPlayer) - before[FactionPlayer] + b.Gold(FactionEnemy) - before[FactionEnemy]
			if gained != tt.wantGold {
				t.Errorf("Expected %d gold gained, got %d", tt.wantGold, gained)
			}
			kills := b.Kills(FactionPlayer) + b.Kills(FactionEnemy)
			if kills != tt.wantKills {
				t.Errorf("Expected %d kills, got %d", tt.wantKills, kills)
			}
		})
	}
}

// TestBunkerAttackSpeedBuff verifies the shortened cooldown inside a held bunker
func TestBunkerAttackSpeedBuff(t *testing.T) {
	b := newSeededBattle(t, nil)
	bk := b.Map().Bunkers[0]
	inside := bk.Rect.Center().Add(Vec2{-300, 0})

	a := place(b, bk.Owner, UnitGrunt, LaneCenter, inside.X, inside.Y)
	v := place(b, bk.Owner.Opponent(), UnitGrunt, LaneCenter, inside.X, inside.Y+10)
	a.AttackTimer = 0

	b.rebuildIndex()
	b.engage(a, v, 0.01)

	want := a.AttackCooldownS * b.Config().Bunker.AttackCooldownMult
	if math.Abs(a.AttackTimer-want) > 1e-9 {
		t.Errorf("Expected buffed cooldown %v, got %v", want, a.AttackTimer)
	}

	bk.CaptainAlive = false
	a.AttackTimer = 0
	b.engage(a, v, 0.01)
	if math.Abs(a.AttackTimer-a.AttackCooldownS) > 1e-9 {
		t.Errorf("Expected base cooldown %v without captain, got %v", a.AttackCooldownS, a.AttackTimer)
	}
}

// =============================================================================
// TOWERS & SCALING
// =============================================================================

// TestTowerVulnerableAndDestroyed verifies the tower state machine, commander
// death and boss rescale
func TestTowerVulnerableAndDestroyed(t *testing.T) {
	const dt = 0.5
	cfg := testSim()
	cfg.Combat.RegenPercent = 0
	b := newTestBattle(t, cfg)

	var towers []int
	for ti, tw := range b.Map().Towers {
		if tw.Owner == FactionPlayer {
			towers = append(towers, ti)
		}
	}
	var archer *Unit
	for _, ti := range towers {
		u := b.spawnDefender(FactionPlayer, UnitTowerArcher, ti)
		if archer == nil {
			archer = u
		}
	}
	target := b.Map().Towers[towers[0]]

	keep := b.Map().Keeps[FactionPlayer]
	boss := place(b, FactionPlayer, UnitBoss, LaneNone, keep.BossSpawn.X, keep.BossSpawn.Y)
	doomed := place(b, FactionPlayer, UnitCommander, LaneNone, keep.BossSpawn.X-100, keep.BossSpawn.Y)
	doomed.TowerIndex = towers[0]
	survivor := place(b, FactionPlayer, UnitCommander, LaneNone, keep.BossSpawn.X+100, keep.BossSpawn.Y)
	survivor.TowerIndex = towers[1]
	b.rescaleElites(FactionPlayer)
	boss.HP = boss.MaxHP / 2

	b.Update(dt)
	if target.State != TowerStanding {
		t.Fatalf("Expected STANDING with a defender, got %s", target.State)
	}

	b.handleDeath(archer, nil)
	if target.State != TowerVulnerable || target.OccupyS != 0 {
		t.Fatalf("Expected VULNERABLE with zero occupy, got %s %v", target.State, target.OccupyS)
	}

	steps := int(math.Round(cfg.Tower.CaptureDurationS / dt))
	for i := 0; i < steps-1; i++ {
		b.Update(dt)
	}
	if target.State != TowerVulnerable {
		t.Fatalf("Expected still VULNERABLE one step early, got %s (occupy %v)", target.State, target.OccupyS)
	}

	b.Update(dt)
	if target.State != TowerDestroyed {
		t.Fatalf("Expected DESTROYED, got %s (occupy %v)", target.State, target.OccupyS)
	}
	if doomed.State != StateDead {
		t.Errorf("Expected bound commander DEAD, got %s", doomed.State)
	}
	if !survivor.Alive() {
		t.Error("Expected other commander alive")
	}

	mult := 1 + 0.8*3
	if math.Abs(boss.MaxHP-5000*mult) > 1e-6 {
		t.Errorf("Expected boss max hp %v, got %v", 5000*mult, boss.MaxHP)
	}
	if math.Abs(boss.HPRatio()-0.5) > 1e-9 {
		t.Errorf("Expected hp ratio preserved at 0.5, got %v", boss.HPRatio())
	}
	if math.Abs(boss.Damage-60*mult) > 1e-6 {
		t.Errorf("Expected boss damage %v, got %v", 60*mult, boss.Damage)
	}
	if math.Abs(survivor.MaxHP-600*mult) > 1e-6 {
		t.Errorf("Expected commander max hp %v, got %v", 600*mult, survivor.MaxHP)
	}
	if !b.Map().Passable(target.Pos) {
		t.Error("Expected destroyed tower core to be passable")
	}
}

// TestPurchaseRestoresVulnerableTower verifies a replacement defender reverts the tower
func TestPurchaseRestoresVulnerableTower(t *testing.T) {
	b := newSeededBattle(t, nil)

	if b.PurchaseUnit(FactionPlayer, UnitTowerArcher, LaneNone) {
		t.Fatal("Expected purchase to fail with every tower full")
	}

	var tw *Tower
	var ti int
	for i, tower := range b.Map().Towers {
		if tower.Owner == FactionPlayer {
			tw, ti = tower, i
			break
		}
	}
	for _, u := range b.Units() {
		if u.TowerIndex == ti && u.Roles.Has(RoleDefender) {
			b.handleDeath(u, nil)
		}
	}
	if tw.State != TowerVulnerable {
		t.Fatalf("Expected VULNERABLE, got %s", tw.State)
	}
	tw.OccupyS = 42

	gold := b.Gold(FactionPlayer)
	if !b.PurchaseUnit(FactionPlayer, UnitTowerArcher, LaneNone) {
		t.Fatal("Expected purchase to succeed with a free slot")
	}
	if tw.State != TowerStanding || tw.OccupyS != 0 || tw.Defenders != 1 {
		t.Errorf("Expected STANDING/0/1, got %s/%v/%d", tw.State, tw.OccupyS, tw.Defenders)
	}
	if got := gold - b.Gold(FactionPlayer); got != 35 {
		t.Errorf("Expected 35 gold spent, got %d", got)
	}
}

// TestPurchaseRejects verifies purchase failures leave gold untouched
func TestPurchaseRejects(t *testing.T) {
	tests := []struct {
		name string
		f    Faction
		ut   UnitType
		gold int
	}{
		{"insufficient gold", FactionPlayer, UnitCavalry, 69},
		{"elite", FactionPlayer, UnitBoss, 10000},
		{"captain", FactionEnemy, UnitCaptain, 10000},
		{"neutral faction", FactionNeutral, UnitGrunt, 10000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newSeededBattle(t, nil)
			if tt.f.Playable() {
				b.gold[tt.f] = tt.gold
			}
			n := len(b.Units())
			if b.PurchaseUnit(tt.f, tt.ut, LaneWest) {
				t.Fatal("Expected purchase to fail")
			}
			if tt.f.Playable() && b.Gold(tt.f) != tt.gold {
				t.Errorf("Expected gold %d untouched, got %d", tt.gold, b.Gold(tt.f))
			}
			if len(b.Units()) != n {
				t.Error("Expected no unit spawned")
			}
		})
	}
}

// TestPurchaseLaneUnit verifies cost, lane and home spawn
func TestPurchaseLaneUnit(t *testing.T) {
	b := newSeededBattle(t, nil)
	if !b.PurchaseUnit(FactionEnemy, UnitGrunt, LaneEast) {
		t.Fatal("Expected purchase to succeed")
	}
	u := b.Units()[len(b.Units())-1]
	if u.Lane != LaneEast || u.Faction != FactionEnemy || u.State != StateMarching {
		t.Errorf("Unexpected unit %+v", u)
	}
	if b.Gold(FactionEnemy) != 110 {
		t.Errorf("Expected 110 gold, got %d", b.Gold(FactionEnemy))
	}
	home := b.Map().Graveyards[b.Map().HomeGraveyard(FactionEnemy)]
	if u.Pos.Dist(home.Pos) > home.SpawnRadius+1e-6 {
		t.Errorf("Expected spawn within %v of home, got %v", home.SpawnRadius, u.Pos.Dist(home.Pos))
	}
}

// =============================================================================
// BUNKER
// =============================================================================

// TestSpawnUnitCommandSurface verifies elite rejection and defender binding
func TestSpawnUnitCommandSurface(t *testing.T) {
	b := newSeededBattle(t, nil)
	boss := b.Boss(FactionPlayer)
	n := len(b.Units())

	for _, ut := range []UnitType{UnitBoss, UnitCommander, UnitCaptain} {
		if u := b.SpawnUnit(FactionPlayer, ut, LaneNone, nil); u != nil {
			t.Errorf("Expected %s spawn rejected, got unit %d", ut, u.ID)
		}
	}
	if b.Boss(FactionPlayer) != boss {
		t.Error("Expected the seeded boss to stay bound")
	}
	if b.SpawnUnit(FactionPlayer, UnitTowerArcher, LaneNone, nil) != nil {
		t.Error("Expected defender spawn rejected with every tower full")
	}
	if len(b.Units()) != n {
		t.Fatalf("Expected no units added, got %d", len(b.Units())-n)
	}

	var tw *Tower
	var ti int
	for i, tower := range b.Map().Towers {
		if tower.Owner == FactionEnemy {
			tw, ti = tower, i
			break
		}
	}
	for _, u := range b.Units() {
		if u.TowerIndex == ti && u.Roles.Has(RoleDefender) {
			b.handleDeath(u, nil)
			break
		}
	}

	anywhere := Vec2{10, 10}
	u := b.SpawnUnit(FactionEnemy, UnitTowerArcher, LaneWest, &anywhere)
	if u == nil {
		t.Fatal("Expected defender spawn into the free slot")
	}
	if u.TowerIndex != ti || u.Lane != LaneNone {
		t.Errorf("Expected tower %d and no lane, got tower %d lane %s", ti, u.TowerIndex, u.Lane)
	}
	if u.Pos == anywhere {
		t.Error("Expected defender placed on the tower ring, not the requested point")
	}
	if tw.Defenders != b.Config().Tower.ArchersPerTower {
		t.Errorf("Expected tower full again, got %d defenders", tw.Defenders)
	}
}

// TestCaptainDeathDestroysBunker verifies walls are removed permanently
func TestCaptainDeathDestroysBunker(t *testing.T) {
	b := newSeededBattle(t, nil)
	bk := b.Map().Bunkers[0]
	wall := bk.Walls[0].Center()
	if b.Map().Passable(wall) {
		t.Fatal("Expected wall to block before destruction")
	}

	var captain *Unit
	for _, u := range b.Units() {
		if u.Roles.Has(RoleCaptain) && u.BunkerIndex == 0 {
			captain = u
		}
	}
	b.handleDeath(captain, nil)

	if bk.State != BunkerDestroyed || bk.CaptainAlive || len(bk.Walls) != 0 {
		t.Errorf("Expected destroyed bunker without walls, got %s captain=%v walls=%d", bk.State, bk.CaptainAlive, len(bk.Walls))
	}
	if !b.Map().Passable(wall) {
		t.Error("Expected former wall to be passable")
	}
	if captain.State != StateDead {
		t.Errorf("Expected captain permanently DEAD, got %s", captain.State)
	}
}

// =============================================================================
// RESPAWN PIPELINE
// =============================================================================

// TestRespawnRelease verifies the batch release after the interval
func TestRespawnRelease(t *testing.T) {
	b := newTestBattle(t, nil)
	home := b.Map().HomeGraveyard(FactionPlayer)
	g := b.Map().Graveyards[home]
	u := place(b, FactionPlayer, UnitGrunt, LaneCenter, g.Pos.X, g.Pos.Y)

	b.handleDeath(u, nil)
	if u.State != StateRespawning || u.QueuedAt != home || len(g.Queue) != 1 {
		t.Fatalf("Expected queued at home, got state=%s at=%d queue=%d", u.State, u.QueuedAt, len(g.Queue))
	}

	for i := 0; i < 29; i++ {
		b.Update(1)
	}
	if u.State != StateRespawning {
		t.Fatalf("Expected still RESPAWNING at 29s, got %s", u.State)
	}

	b.Update(1)
	if u.State != StateMarching {
		t.Fatalf("Expected MARCHING at 30s, got %s", u.State)
	}
	if len(g.Queue) != 0 || u.QueuedAt != -1 {
		t.Errorf("Expected queue cleared, got %d / %d", len(g.Queue), u.QueuedAt)
	}
	if u.RemainingRespawns != 9 {
		t.Errorf("Expected 9 respawns left, got %d", u.RemainingRespawns)
	}
	if u.HP != u.MaxHP {
		t.Errorf("Expected full hp, got %v", u.HP)
	}
	gi, ok := b.Map().NearestOwnedGraveyard(FactionPlayer, u.Pos)
	if !ok || b.Map().Graveyards[gi].Owner != FactionPlayer ||
		u.Pos.Dist(b.Map().Graveyards[gi].Pos) > b.Map().Graveyards[gi].SpawnRadius+1e-6 {
		t.Errorf("Expected respawn inside an owned graveyard, got %v", u.Pos)
	}
}

// TestRespawnQueueStartResetsTimer verifies only the first arrival resets the timer
func TestRespawnQueueStartResetsTimer(t *testing.T) {
	b := newTestBattle(t, nil)
	home := b.Map().HomeGraveyard(FactionPlayer)
	g := b.Map().Graveyards[home]

	first := place(b, FactionPlayer, UnitGrunt, LaneCenter, g.Pos.X, g.Pos.Y)
	second := place(b, FactionPlayer, UnitGrunt, LaneCenter, g.Pos.X, g.Pos.Y)

	b.handleDeath(first, nil)
	for i := 0; i < 20; i++ {
		b.Update(1)
	}
	b.handleDeath(second, nil)
	if g.RespawnTimer != 20 {
		t.Errorf("Expected timer to keep running at 20, got %v", g.RespawnTimer)
	}

	for i := 0; i < 10; i++ {
		b.Update(1)
	}
	if first.State != StateMarching || second.State != StateMarching {
		t.Errorf("Expected both released together, got %s / %s", first.State, second.State)
	}
}

// TestRespawnExhaustion verifies units without respawns end permanently DEAD
func TestRespawnExhaustion(t *testing.T) {
	b := newTestBattle(t, nil)
	g := b.Map().Graveyards[b.Map().HomeGraveyard(FactionPlayer)]

	none := place(b, FactionPlayer, UnitGrunt, LaneCenter, g.Pos.X, g.Pos.Y)
	none.RemainingRespawns = 0
	b.handleDeath(none, nil)
	if none.State != StateDead {
		t.Errorf("Expected DEAD with no respawns, got %s", none.State)
	}

	late := place(b, FactionPlayer, UnitGrunt, LaneCenter, g.Pos.X, g.Pos.Y)
	late.RemainingRespawns = 1
	b.handleDeath(late, nil)
	late.RemainingRespawns = 0
	for i := 0; i < 30; i++ {
		b.Update(1)
	}
	if late.State != StateDead {
		t.Errorf("Expected DEAD at release with zero respawns, got %s", late.State)
	}

	archer := place(b, FactionPlayer, UnitTowerArcher, LaneNone, 1000, 3000)
	b.handleDeath(archer, nil)
	if archer.State != StateDead {
		t.Errorf("Expected non-respawning archer DEAD, got %s", archer.State)
	}
}

// TestRespawnFallsBackToOwnedGraveyard verifies release from a lost graveyard
func TestRespawnFallsBackToOwnedGraveyard(t *testing.T) {
	b := newTestBattle(t, nil)
	gi, fwd := graveyardByID(b, "GY_S_WEST_FORWARD")
	u := place(b, FactionPlayer, UnitGrunt, LaneWest, fwd.Pos.X, fwd.Pos.Y)
	b.handleDeath(u, nil)
	if u.QueuedAt != gi {
		t.Fatalf("Expected queue at forward graveyard %d, got %d", gi, u.QueuedAt)
	}

	fwd.Owner = FactionEnemy
	for i := 0; i < 30; i++ {
		b.Update(1)
	}
	if u.State != StateMarching {
		t.Fatalf("Expected MARCHING, got %s", u.State)
	}
	dest, _ := b.Map().NearestOwnedGraveyard(FactionPlayer, fwd.Pos)
	dg := b.Map().Graveyards[dest]
	if dg.Owner != FactionPlayer || u.Pos.Dist(dg.Pos) > dg.SpawnRadius+1e-6 {
		t.Errorf("Expected respawn at %s, got %v", dg.ID, u.Pos)
	}
}

// =============================================================================
// RECALL
// =============================================================================

// TestRecallChannelAndCooldown verifies channel, teleport ring and cooldown
func TestRecallChannelAndCooldown(t *testing.T) {
	b := newSeededBattle(t, nil)
	cfg := b.Config()

	if !b.TriggerRecall(FactionPlayer) {
		t.Fatal("Expected recall to start")
	}
	if b.TriggerRecall(FactionPlayer) {
		t.Error("Expected second recall to fail while channeling")
	}

	var channeled []*Unit
	for _, u := range b.Units() {
		if u.Channeling() {
			channeled = append(channeled, u)
			if u.Faction != FactionPlayer || !u.IsLaneUnit() {
				t.Fatalf("Unexpected channeling unit %d (%s %s)", u.ID, u.Faction, u.Type)
			}
		}
	}
	if len(channeled) != 34 {
		t.Fatalf("Expected 34 channeling lane units, got %d", len(channeled))
	}
	frozen := channeled[0].Pos

	b.Update(1)
	if channeled[0].Pos != frozen {
		t.Error("Expected channeling unit to hold position")
	}

	for i := 0; i < int(cfg.Recall.ChannelS); i++ {
		b.Update(1)
	}
	boss := b.Boss(FactionPlayer)
	for _, u := range channeled {
		if !u.Alive() {
			continue
		}
		if u.Recall == RecallChanneling {
			t.Fatalf("Unit %d still channeling", u.ID)
		}
		if d := u.Pos.Dist(boss.Pos); d > cfg.Recall.RingRadius+u.MoveSpeed*2 {
			t.Errorf("Unit %d at %.0f from boss, expected near ring %.0f", u.ID, d, cfg.Recall.RingRadius)
		}
	}

	if b.TriggerRecall(FactionPlayer) {
		t.Error("Expected recall to fail on cooldown")
	}
	if b.RecallCooldown(FactionPlayer) <= 0 {
		t.Error("Expected positive cooldown")
	}
}

// TestRecallDeathClearsChannel verifies a dying channeler returns to IDLE
func TestRecallDeathClearsChannel(t *testing.T) {
	b := newSeededBattle(t, nil)
	b.TriggerRecall(FactionEnemy)
	var u *Unit
	for _, c := range b.Units() {
		if c.Channeling() {
			u = c
			break
		}
	}
	b.handleDeath(u, nil)
	if u.Recall != RecallIdle {
		t.Errorf("Expected IDLE after death, got %s", u.Recall)
	}
}

// =============================================================================
// GAME OVER
// =============================================================================

// TestBossDeathEndsGame verifies the winner and the frozen simulation
func TestBossDeathEndsGame(t *testing.T) {
	b := newSeededBattle(t, nil)
	boss := b.Boss(FactionEnemy)
	var killer *Unit
	for _, u := range b.Units() {
		if u.Faction == FactionPlayer && u.Type == UnitGrunt {
			killer = u
			break
		}
	}

	boss.HP = 0
	b.handleDeath(boss, killer)
	if !b.GameOver() || b.Winner() != FactionPlayer {
		t.Fatalf("Expected PLAYER win, got over=%v winner=%s", b.GameOver(), b.Winner())
	}

	before := b.Snapshot()
	clock := b.Time()
	b.Update(1)
	after := b.Snapshot()

	if b.Time() != clock+1 {
		t.Errorf("Expected clock to advance to %v, got %v", clock+1, b.Time())
	}
	if !reflect.DeepEqual(before.Units, after.Units) {
		t.Error("Expected units frozen after game over")
	}
	if b.PurchaseUnit(FactionPlayer, UnitGrunt, LaneWest) {
		t.Error("Expected purchase to fail after game over")
	}
	if b.TriggerRecall(FactionPlayer) {
		t.Error("Expected recall to fail after game over")
	}
}

// =============================================================================
// PROPERTIES
// =============================================================================

// TestUpdateZeroIdempotent verifies update(0) moves nothing and fires no timer
func TestUpdateZeroIdempotent(t *testing.T) {
	b := newSeededBattle(t, nil)
	for i := 0; i < 600; i++ {
		b.Update(0.05)
	}

	type unitState struct {
		Pos                                            Vec2
		HP                                             float64
		State                                          UnitState
		Attack, Heal, Taunt, OOC, Regen, OffLane, HViz float64
	}
	capture := func() ([]unitState, []Tower, []Graveyard, [NumFactions]int) {
		us := make([]unitState, 0, len(b.Units()))
		for _, u := range b.Units() {
			us = append(us, unitState{u.Pos, u.HP, u.State, u.AttackTimer, u.HealTimer, u.TauntTimer, u.OutOfCombatS, u.RegenTimer, u.OffLaneS, u.HealVisual})
		}
		var ts []Tower
		for _, t := range b.Map().Towers {
			ts = append(ts, *t)
		}
		var gs []Graveyard
		for _, g := range b.Map().Graveyards {
			c := *g
			c.Queue = append([]UnitID(nil), g.Queue...)
			gs = append(gs, c)
		}
		return us, ts, gs, b.gold
	}

	u1, t1, g1, gold1 := capture()
	for i := 0; i < 5; i++ {
		b.Update(0)
	}
	u2, t2, g2, gold2 := capture()

	for i := range u1 {
		if u1[i] != u2[i] {
			t.Fatalf("unit %d changed under update(0): %+v -> %+v", i+1, u1[i], u2[i])
		}
	}
	if !reflect.DeepEqual(t1, t2) {
		t.Error("towers changed under update(0)")
	}
	if !reflect.DeepEqual(g1, g2) {
		t.Error("graveyards changed under update(0)")
	}
	if gold1 != gold2 {
		t.Errorf("gold changed under update(0): %v -> %v", gold1, gold2)
	}
}

// TestInvariantsOverLongRun verifies hp bounds and queue conservation every tick
func TestInvariantsOverLongRun(t *testing.T) {
	if testing.Short() {
		t.Skip("long simulation")
	}
	cfg := testSim()
	cfg.Economy.PassiveGoldPerSecond = 3
	b := newSeededBattle(t, cfg)

	for tick := 0; tick < 3000 && !b.GameOver(); tick++ {
		if tick%50 == 0 {
			b.PurchaseUnit(FactionPlayer, UnitGrunt, LaneNone)
			b.PurchaseUnit(FactionEnemy, UnitCavalry, LaneNone)
		}
		b.Update(0.1)

		queued := map[UnitID]int{}
		for gi, g := range b.Map().Graveyards {
			for _, id := range g.Queue {
				if _, dup := queued[id]; dup {
					t.Fatalf("tick %d: unit %d queued twice", tick, id)
				}
				queued[id] = gi
			}
		}

		for _, u := range b.Units() {
			if u.HP < 0 || u.HP > u.MaxHP+1e-9 {
				t.Fatalf("tick %d: unit %d hp %v outside [0,%v]", tick, u.ID, u.HP, u.MaxHP)
			}
			if u.Alive() && u.HP <= 0 {
				t.Fatalf("tick %d: unit %d alive at hp %v", tick, u.ID, u.HP)
			}
			gi, inQueue := queued[u.ID]
			if (u.State == StateRespawning) != inQueue {
				t.Fatalf("tick %d: unit %d state %s, queued=%v", tick, u.ID, u.State, inQueue)
			}
			if inQueue && u.QueuedAt != gi {
				t.Fatalf("tick %d: unit %d QueuedAt %d, found in %d", tick, u.ID, u.QueuedAt, gi)
			}
		}
	}
}

// TestDeterministicReplay verifies identical inputs produce identical state
func TestDeterministicReplay(t *testing.T) {
	run := func() *BattleSnapshot {
		b := newSeededBattle(t, nil)
		for tick := 0; tick < 1200; tick++ {
			switch tick {
			case 100:
				b.PurchaseUnit(FactionPlayer, UnitLieutenant, LaneWest)
			case 300:
				b.PurchaseUnit(FactionEnemy, UnitGrunt, LaneEast)
			case 700:
				b.TriggerRecall(FactionEnemy)
			}
			b.Update(0.05)
		}
		return b.Snapshot()
	}

	a, c := run(), run()
	if !reflect.DeepEqual(a, c) {
		t.Error("Expected identical snapshots from identical input")
	}
}

// TestApplyConfig verifies validated runtime reconfiguration
func TestApplyConfig(t *testing.T) {
	b := newSeededBattle(t, nil)

	next := *b.Config()
	next.Combat.SpatialCellSize = 120
	if err := b.ApplyConfig(&next); err != nil {
		t.Fatalf("Expected tunable change to apply, got %v", err)
	}
	if _, _, cs := b.grid.Dimensions(); cs != 120 {
		t.Errorf("Expected rebuilt grid with cell 120, got %v", cs)
	}
	if b.grid.Len() == 0 {
		t.Error("Expected rebuilt grid to be populated")
	}

	moved := *b.Config()
	moved.Map.Width = 3200
	if err := b.ApplyConfig(&moved); err == nil {
		t.Error("Expected geometry change to be rejected")
	}

	for _, mutate := range []func(*config.Sim){
		func(c *config.Sim) { c.Recall.ChannelS = 0 },
		func(c *config.Sim) { c.Support.HealMaxTargets = -1 },
	} {
		broken := *b.Config()
		mutate(&broken)
		if err := b.ApplyConfig(&broken); err == nil {
			t.Error("Expected invalid config to be rejected")
		}
	}
	if b.Config().Combat.SpatialCellSize != 120 {
		t.Error("Expected rejected config to leave the active one in place")
	}
}

// TestApplyConfigRescalesElites verifies a new tower multiplier reaches
// bosses and commanders with their hp ratio kept
func TestApplyConfigRescalesElites(t *testing.T) {
	b := newSeededBattle(t, nil)
	boss := b.Boss(FactionEnemy)
	boss.HP = boss.MaxHP / 4

	next := *b.Config()
	next.Boss.HPPerTowerMult = 0.5
	if err := b.ApplyConfig(&next); err != nil {
		t.Fatalf("Expected apply to succeed, got %v", err)
	}

	towers := float64(b.Map().StandingTowers(FactionEnemy))
	want := boss.BaseMaxHP * (1 + 0.5*towers)
	if math.Abs(boss.MaxHP-want) > 1e-6 {
		t.Errorf("Expected boss max hp %v, got %v", want, boss.MaxHP)
	}
	if math.Abs(boss.HPRatio()-0.25) > 1e-9 {
		t.Errorf("Expected hp ratio 0.25, got %v", boss.HPRatio())
	}
	for _, u := range b.Units() {
		if u.IsCommander() && u.Faction == FactionPlayer {
			if w := u.BaseDamage * (1 + 0.5*float64(b.Map().StandingTowers(FactionPlayer))); math.Abs(u.Damage-w) > 1e-6 {
				t.Errorf("Expected commander damage %v, got %v", w, u.Damage)
			}
		}
	}
}

// TestInvalidCountsRejectedAtBuild verifies a config that would break the
// support pulses never reaches Update
func TestInvalidCountsRejectedAtBuild(t *testing.T) {
	cfg := testSim()
	cfg.Support.HealMaxTargets = -1
	if _, err := NewBattle(cfg, config.DefaultUnits()); err == nil {
		t.Error("Expected NewBattle to reject negative heal targets")
	}
}

// TestStatTableRequiresEveryType verifies templates are complete
func TestStatTableRequiresEveryType(t *testing.T) {
	units := config.DefaultUnits()
	if _, err := NewStatTable(units); err != nil {
		t.Fatalf("Expected defaults to build, got %v", err)
	}
	if _, err := NewStatTable(units[:len(units)-1]); err == nil {
		t.Error("Expected error for missing template")
	}

	bad := append([]config.UnitTemplate(nil), units...)
	bad[0].Roles = []string{"wizard"}
	if _, err := NewStatTable(bad); err == nil {
		t.Error("Expected error for unknown role")
	}
}

func newBenchBattle(b *testing.B) *Battle {
	b.Helper()
	cfg := config.DefaultSim()
	battle, err := NewBattle(&cfg, config.DefaultUnits())
	if err != nil {
		b.Fatal(err)
	}
	return battle
}

func BenchmarkBattleUpdate(b *testing.B) {
	battle := newBenchBattle(b)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		battle.Update(0.05)
	}
}
