// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for battle tunables and server settings.
//
// IMPORTANT: The simulation receives a *Sim once at startup and never mutates it.
// Runtime changes go through game.Battle.ApplyConfig, which validates first.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Faction names as they appear in configuration files.
const (
	FactionPlayer  = "PLAYER"
	FactionEnemy   = "ENEMY"
	FactionNeutral = "NEUTRAL"
)

// =============================================================================
// GEOMETRY PRIMITIVES
// =============================================================================

// Point is a world-space coordinate.
type Point struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// Rect is an axis-aligned rectangle (top-left corner + size).
type Rect struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	W float64 `yaml:"w"`
	H float64 `yaml:"h"`
}

// =============================================================================
// MAP CONFIGURATION
// =============================================================================

// MapConfig describes the static terrain.
type MapConfig struct {
	Width          float64 `yaml:"width"`
	Height         float64 `yaml:"height"`
	CliffBeltWidth float64 `yaml:"cliff_belt_width"` // Impassable strip on both vertical edges
	RiftTop        float64 `yaml:"rift_top"`
	RiftBottom     float64 `yaml:"rift_bottom"`
	Crossings      []Rect  `yaml:"crossings"` // Passable bridges through the rift band
	LaneWidth      float64 `yaml:"lane_width"`
	ArrivalRadius  float64 `yaml:"arrival_radius"` // Waypoint reached within this distance

	// Lanes are listed south→north for the PLAYER side.
	// The ENEMY side walks the y-mirrored list (north→south).
	LaneWest   []Point `yaml:"lane_west"`
	LaneCenter []Point `yaml:"lane_center"`
	LaneEast   []Point `yaml:"lane_east"`
}

// GraveyardSpec places one graveyard.
type GraveyardSpec struct {
	ID            string  `yaml:"id"`
	Owner         string  `yaml:"owner"`
	Pos           Point   `yaml:"pos"`
	SpawnRadius   float64 `yaml:"spawn_radius"`
	CaptureRadius float64 `yaml:"capture_radius"`
	CaptureTimeS  float64 `yaml:"capture_time_s"`
	Home          bool    `yaml:"home"`
}

// TowerSpec places one tower.
type TowerSpec struct {
	ID    string `yaml:"id"`
	Owner string `yaml:"owner"`
	Pos   Point  `yaml:"pos"`
}

// BunkerSpec places one bunker. Gates are x-centers cut into both long walls.
type BunkerSpec struct {
	ID    string    `yaml:"id"`
	Owner string    `yaml:"owner"`
	Rect  Rect      `yaml:"rect"`
	Gates []float64 `yaml:"gates"`
}

// KeepSpec is the boss zone of one faction.
type KeepSpec struct {
	Owner     string `yaml:"owner"`
	Rect      Rect   `yaml:"rect"`
	BossSpawn Point  `yaml:"boss_spawn"`
}

// =============================================================================
// STRUCTURE TUNING
// =============================================================================

// TowerTuning holds tower state-machine constants.
type TowerTuning struct {
	CoreRadius       float64 `yaml:"core_radius"`
	CaptureRadius    float64 `yaml:"capture_radius"`
	ContestRadius    float64 `yaml:"contest_radius"`
	CaptureDurationS float64 `yaml:"capture_duration_s"`
	ArchersPerTower  int     `yaml:"archers_per_tower"`
	ArcherRingRadius float64 `yaml:"archer_ring_radius"`
}

// BunkerTuning holds bunker constants.
type BunkerTuning struct {
	WallThickness      float64 `yaml:"wall_thickness"`
	GateWidth          float64 `yaml:"gate_width"`
	AttackCooldownMult float64 `yaml:"attack_cooldown_mult"` // Applied inside a friendly bunker with a living captain
}

// GraveyardTuning holds shared graveyard constants.
type GraveyardTuning struct {
	DecayPerS        float64 `yaml:"decay_per_s"`
	RespawnIntervalS float64 `yaml:"respawn_interval_s"`
}

// BossTuning controls boss/commander scaling.
type BossTuning struct {
	HPPerTowerMult float64 `yaml:"hp_per_tower_mult"`
}

// =============================================================================
// UNIT BEHAVIOUR TUNING
// =============================================================================

// CombatTuning holds per-unit update constants.
type CombatTuning struct {
	RegenDelayS      float64 `yaml:"regen_delay_s"`
	RegenIntervalS   float64 `yaml:"regen_interval_s"`
	RegenPercent     float64 `yaml:"regen_percent"`
	SeparationRadius float64 `yaml:"separation_radius"`
	PushLimit        float64 `yaml:"push_limit"` // Fraction of move speed × dt
	SpatialCellSize  float64 `yaml:"spatial_cell_size"`
	StuckTimeoutS    float64 `yaml:"stuck_timeout_s"`
	LaneProximity    float64 `yaml:"lane_proximity"`
	MaxRespawns      int     `yaml:"max_respawns"`
	MaxUnits         int     `yaml:"max_units"` // Spatial index capacity hint
}

// SupportTuning holds healer and taunter constants.
type SupportTuning struct {
	HealRadius      float64 `yaml:"heal_radius"`
	HealCooldownS   float64 `yaml:"heal_cooldown_s"`
	HealPercent     float64 `yaml:"heal_percent"`
	HealThreshold   float64 `yaml:"heal_threshold"` // hp/max_hp below which an ally is "low"
	HealMaxTargets  int     `yaml:"heal_max_targets"`
	HealVisualS     float64 `yaml:"heal_visual_s"`
	TauntCooldownS  float64 `yaml:"taunt_cooldown_s"`
	TauntMaxTargets int     `yaml:"taunt_max_targets"`
}

// RecallTuning holds mass-recall constants.
type RecallTuning struct {
	ChannelS        float64 `yaml:"channel_s"`
	CooldownS       float64 `yaml:"cooldown_s"`
	RingRadius      float64 `yaml:"ring_radius"`
	BossHPThreshold float64 `yaml:"boss_hp_threshold"`
}

// EconomyTuning holds gold constants.
type EconomyTuning struct {
	StartingGold         int     `yaml:"starting_gold"`
	PassiveGoldPerSecond float64 `yaml:"passive_gold_per_second"`
}

// AITuning holds economy AI loop constants.
type AITuning struct {
	SenseIntervalS          float64            `yaml:"sense_interval_s"`
	DecisionIntervalS       float64            `yaml:"decision_interval_s"`
	MaxPurchasesPerDecision int                `yaml:"max_purchases_per_decision"`
	SpendFraction           float64            `yaml:"spend_fraction"`
	PurchaseCooldownsS      map[string]float64 `yaml:"purchase_cooldowns_s"`
}

// WaveEntry is one line of the starting wave.
type WaveEntry struct {
	Type  string `yaml:"type"`
	Count int    `yaml:"count"`
}

// =============================================================================
// SIMULATION CONFIGURATION
// =============================================================================

// Sim is the complete, immutable set of simulation tunables.
type Sim struct {
	Map        MapConfig       `yaml:"map"`
	Graveyards []GraveyardSpec `yaml:"graveyards"`
	Towers     []TowerSpec     `yaml:"towers"`
	Bunkers    []BunkerSpec    `yaml:"bunkers"`
	Keeps      []KeepSpec      `yaml:"keeps"`

	Tower     TowerTuning     `yaml:"tower"`
	Bunker    BunkerTuning    `yaml:"bunker"`
	Graveyard GraveyardTuning `yaml:"graveyard"`
	Boss      BossTuning      `yaml:"boss"`
	Combat    CombatTuning    `yaml:"combat"`
	Support   SupportTuning   `yaml:"support"`
	Recall    RecallTuning    `yaml:"recall"`
	Economy   EconomyTuning   `yaml:"economy"`
	AI        AITuning        `yaml:"ai"`

	StartingWave []WaveEntry `yaml:"starting_wave"`
}

// DefaultSim returns the default battle configuration.
func DefaultSim() Sim {
	const w, h = 3000.0, 4200.0
	mirror := func(p Point) Point { return Point{X: p.X, Y: h - p.Y} }

	west := []Point{{750, 3600}, {720, 3100}, {700, 2650}, {750, 2300}, {750, 2100}, {750, 1900}, {800, 1550}, {820, 1100}, {750, 600}, {750, 420}, {1100, 300}, {1500, 210}}
	center := []Point{{1500, 3600}, {1500, 3150}, {1500, 2700}, {1500, 2350}, {1500, 2100}, {1500, 1850}, {1500, 1500}, {1500, 1050}, {1500, 600}, {1500, 420}, {1500, 210}}
	east := []Point{{2250, 3600}, {2280, 3100}, {2300, 2650}, {2250, 2300}, {2250, 2100}, {2250, 1900}, {2200, 1550}, {2180, 1100}, {2250, 600}, {2250, 420}, {1900, 300}, {1500, 210}}

	gy := func(id, owner string, p Point, home bool) GraveyardSpec {
		return GraveyardSpec{ID: id, Owner: owner, Pos: p, SpawnRadius: 80, CaptureRadius: 220, CaptureTimeS: 12, Home: home}
	}
	southGY := []GraveyardSpec{
		gy("GY_S_HOME", FactionPlayer, Point{1500, 3400}, true),
		gy("GY_S_WEST_FORWARD", FactionPlayer, Point{750, 2720}, false),
		gy("GY_S_EAST_FORWARD", FactionPlayer, Point{2250, 2720}, false),
	}
	graveyards := append([]GraveyardSpec{}, southGY...)
	graveyards = append(graveyards, GraveyardSpec{
		ID: "GY_CENTER", Owner: FactionNeutral, Pos: Point{1500, 2100},
		SpawnRadius: 90, CaptureRadius: 260, CaptureTimeS: 16,
	})
	for _, s := range southGY {
		n := s
		n.ID = strings.Replace(s.ID, "_S_", "_N_", 1)
		n.Owner = FactionEnemy
		n.Pos = mirror(s.Pos)
		graveyards = append(graveyards, n)
	}

	southTowers := []TowerSpec{
		{ID: "T_S_W_REAR", Owner: FactionPlayer, Pos: Point{950, 3300}},
		{ID: "T_S_E_REAR", Owner: FactionPlayer, Pos: Point{2050, 3300}},
		{ID: "T_S_W_FORWARD", Owner: FactionPlayer, Pos: Point{520, 2500}},
		{ID: "T_S_E_FORWARD", Owner: FactionPlayer, Pos: Point{2480, 2500}},
	}
	towers := append([]TowerSpec{}, southTowers...)
	for _, t := range southTowers {
		towers = append(towers, TowerSpec{
			ID:    strings.Replace(t.ID, "_S_", "_N_", 1),
			Owner: FactionEnemy,
			Pos:   mirror(t.Pos),
		})
	}

	gates := []float64{750, 1500, 2250}

	return Sim{
		Map: MapConfig{
			Width:          w,
			Height:         h,
			CliffBeltWidth: 120,
			RiftTop:        1980,
			RiftBottom:     2220,
			Crossings: []Rect{
				{X: 540, Y: 1980, W: 420, H: 240},
				{X: 1290, Y: 1980, W: 420, H: 240},
				{X: 2040, Y: 1980, W: 420, H: 240},
			},
			LaneWidth:     320,
			ArrivalRadius: 8,
			LaneWest:      west,
			LaneCenter:    center,
			LaneEast:      east,
		},
		Graveyards: graveyards,
		Towers:     towers,
		Bunkers: []BunkerSpec{
			{ID: "B_S", Owner: FactionPlayer, Rect: Rect{X: 600, Y: 2860, W: 1800, H: 320}, Gates: gates},
			{ID: "B_N", Owner: FactionEnemy, Rect: Rect{X: 600, Y: h - 3180, W: 1800, H: 320}, Gates: gates},
		},
		Keeps: []KeepSpec{
			{Owner: FactionPlayer, Rect: Rect{X: 1200, Y: 3850, W: 600, H: 270}, BossSpawn: Point{1500, 3990}},
			{Owner: FactionEnemy, Rect: Rect{X: 1200, Y: 80, W: 600, H: 270}, BossSpawn: Point{1500, 210}},
		},
		Tower: TowerTuning{
			CoreRadius:       22,
			CaptureRadius:    120,
			ContestRadius:    140,
			CaptureDurationS: 180,
			ArchersPerTower:  6,
			ArcherRingRadius: 48,
		},
		Bunker: BunkerTuning{
			WallThickness:      18,
			GateWidth:          260,
			AttackCooldownMult: 0.75,
		},
		Graveyard: GraveyardTuning{
			DecayPerS:        2.0,
			RespawnIntervalS: 30,
		},
		Boss: BossTuning{HPPerTowerMult: 0.8},
		Combat: CombatTuning{
			RegenDelayS:      5,
			RegenIntervalS:   5,
			RegenPercent:     0.01,
			SeparationRadius: 14,
			PushLimit:        0.35,
			SpatialCellSize:  180,
			StuckTimeoutS:    10,
			LaneProximity:    320 * 0.5,
			MaxRespawns:      10,
			MaxUnits:         4096,
		},
		Support: SupportTuning{
			HealRadius:      120,
			HealCooldownS:   4,
			HealPercent:     0.15,
			HealThreshold:   0.6,
			HealMaxTargets:  3,
			HealVisualS:     0.5,
			TauntCooldownS:  8,
			TauntMaxTargets: 3,
		},
		Recall: RecallTuning{
			ChannelS:        4,
			CooldownS:       90,
			RingRadius:      140,
			BossHPThreshold: 0.5,
		},
		Economy: EconomyTuning{
			StartingGold:         120,
			PassiveGoldPerSecond: 1.0,
		},
		AI: AITuning{
			SenseIntervalS:          1.0,
			DecisionIntervalS:       5.0,
			MaxPurchasesPerDecision: 8,
			SpendFraction:           0.65,
			PurchaseCooldownsS: map[string]float64{
				"GRUNT":        0,
				"LIEUTENANT":   2,
				"CAVALRY":      3,
				"HEALER":       3,
				"TOWER_ARCHER": 2,
			},
		},
		StartingWave: []WaveEntry{
			{Type: "GRUNT", Count: 24},
			{Type: "LIEUTENANT", Count: 6},
			{Type: "CAVALRY", Count: 2},
			{Type: "HEALER", Count: 2},
		},
	}
}

// LoadSim returns DefaultSim overlaid with the YAML file at path (if any).
// Fields absent from the file keep their defaults.
func LoadSim(path string) (Sim, error) {
	cfg := DefaultSim()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Sim{}, errors.Wrapf(err, "read sim config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Sim{}, errors.Wrapf(err, "parse sim config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return Sim{}, errors.Wrapf(err, "sim config %s", path)
	}
	return cfg, nil
}

// Validate rejects configurations the simulation cannot run with.
func (s *Sim) Validate() error {
	if s.Map.Width <= 0 || s.Map.Height <= 0 {
		return errors.Errorf("map dimensions must be positive, got %vx%v", s.Map.Width, s.Map.Height)
	}
	if s.Map.RiftTop > s.Map.RiftBottom {
		return errors.Errorf("rift top %v below rift bottom %v", s.Map.RiftTop, s.Map.RiftBottom)
	}
	for name, lane := range map[string][]Point{"west": s.Map.LaneWest, "center": s.Map.LaneCenter, "east": s.Map.LaneEast} {
		if len(lane) < 2 {
			return errors.Errorf("lane %s needs at least 2 waypoints", name)
		}
	}

	positive := []struct {
		name string
		v    float64
	}{
		{"map.arrival_radius", s.Map.ArrivalRadius},
		{"map.lane_width", s.Map.LaneWidth},
		{"tower.capture_radius", s.Tower.CaptureRadius},
		{"tower.capture_duration_s", s.Tower.CaptureDurationS},
		{"graveyard.respawn_interval_s", s.Graveyard.RespawnIntervalS},
		{"combat.regen_interval_s", s.Combat.RegenIntervalS},
		{"combat.separation_radius", s.Combat.SeparationRadius},
		{"combat.spatial_cell_size", s.Combat.SpatialCellSize},
		{"combat.stuck_timeout_s", s.Combat.StuckTimeoutS},
		{"support.heal_cooldown_s", s.Support.HealCooldownS},
		{"support.taunt_cooldown_s", s.Support.TauntCooldownS},
		{"recall.channel_s", s.Recall.ChannelS},
		{"ai.sense_interval_s", s.AI.SenseIntervalS},
		{"ai.decision_interval_s", s.AI.DecisionIntervalS},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return errors.Errorf("%s must be positive, got %v", p.name, p.v)
		}
	}

	if s.Bunker.AttackCooldownMult <= 0 || s.Bunker.AttackCooldownMult > 1 {
		return errors.Errorf("bunker.attack_cooldown_mult must be in (0,1], got %v", s.Bunker.AttackCooldownMult)
	}
	if s.AI.SpendFraction <= 0 || s.AI.SpendFraction > 1 {
		return errors.Errorf("ai.spend_fraction must be in (0,1], got %v", s.AI.SpendFraction)
	}

	counts := []struct {
		name string
		v    int
		min  int
	}{
		{"tower.archers_per_tower", s.Tower.ArchersPerTower, 0},
		{"combat.max_respawns", s.Combat.MaxRespawns, 0},
		{"combat.max_units", s.Combat.MaxUnits, 0},
		{"support.heal_max_targets", s.Support.HealMaxTargets, 1},
		{"support.taunt_max_targets", s.Support.TauntMaxTargets, 1},
		{"ai.max_purchases_per_decision", s.AI.MaxPurchasesPerDecision, 1},
	}
	for _, c := range counts {
		if c.v < c.min {
			return errors.Errorf("%s must be at least %d, got %d", c.name, c.min, c.v)
		}
	}
	for _, w := range s.StartingWave {
		if w.Count < 0 {
			return errors.Errorf("starting wave %s: count must not be negative, got %d", w.Type, w.Count)
		}
	}

	homes := map[string]int{}
	for _, g := range s.Graveyards {
		if !validOwner(g.Owner) {
			return errors.Errorf("graveyard %s: unknown owner %q", g.ID, g.Owner)
		}
		if g.CaptureTimeS <= 0 || g.CaptureRadius <= 0 {
			return errors.Errorf("graveyard %s: capture time and radius must be positive", g.ID)
		}
		if g.Home {
			homes[g.Owner]++
		}
	}
	if homes[FactionPlayer] != 1 || homes[FactionEnemy] != 1 {
		return errors.New("each faction needs exactly one home graveyard")
	}

	keeps := map[string]bool{}
	for _, k := range s.Keeps {
		keeps[k.Owner] = true
	}
	if !keeps[FactionPlayer] || !keeps[FactionEnemy] {
		return errors.New("each faction needs a keep")
	}
	for _, t := range s.Towers {
		if t.Owner != FactionPlayer && t.Owner != FactionEnemy {
			return errors.Errorf("tower %s: invalid owner %q", t.ID, t.Owner)
		}
	}
	for _, b := range s.Bunkers {
		if b.Owner != FactionPlayer && b.Owner != FactionEnemy {
			return errors.Errorf("bunker %s: invalid owner %q", b.ID, b.Owner)
		}
	}
	return nil
}

func validOwner(o string) bool {
	return o == FactionPlayer || o == FactionEnemy || o == FactionNeutral
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int
	TickRate     int    // Simulation ticks per second
	AIFaction    string // PLAYER, ENEMY, BOTH or NONE
	EventLogPath string
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:         3000,
		TickRate:     20,
		AIFaction:    FactionEnemy,
		EventLogPath: "battle_events.jsonl",
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if tr := getEnvInt("TICK_RATE", 0); tr > 0 {
		cfg.TickRate = tr
	}
	if f := os.Getenv("AI_FACTION"); f != "" {
		cfg.AIFaction = strings.ToUpper(f)
	}
	if p, ok := os.LookupEnv("EVENT_LOG_PATH"); ok {
		cfg.EventLogPath = p
	}

	return cfg
}

// =============================================================================
// DEBUG CONFIGURATION
// =============================================================================

// DebugConfig controls the pprof/metrics listener.
type DebugConfig struct {
	Enabled    bool
	ListenAddr string
}

// DebugFromEnv returns debug configuration with environment variable overrides.
func DebugFromEnv() DebugConfig {
	cfg := DebugConfig{Enabled: true, ListenAddr: "localhost:6060"}
	if os.Getenv("DISABLE_DEBUG_SERVER") == "true" {
		cfg.Enabled = false
	}
	if a := os.Getenv("DEBUG_ADDR"); a != "" {
		cfg.ListenAddr = a
	}
	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Server ServerConfig
	Debug  DebugConfig
	Sim    Sim
	Units  []UnitTemplate
}

// Load returns the complete configuration with environment overrides.
// SIM_CONFIG_PATH and UNIT_STATS_PATH point at optional YAML overrides.
func Load() (AppConfig, error) {
	sim, err := LoadSim(os.Getenv("SIM_CONFIG_PATH"))
	if err != nil {
		return AppConfig{}, err
	}
	units, err := LoadUnits(os.Getenv("UNIT_STATS_PATH"))
	if err != nil {
		return AppConfig{}, err
	}
	return AppConfig{
		Server: ServerFromEnv(),
		Debug:  DebugFromEnv(),
		Sim:    sim,
		Units:  units,
	}, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
