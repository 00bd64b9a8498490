package game

import (
	"math"
	"sort"

	"github.com/pkg/errors"

	"valley-of-ashes/internal/config"
)

// Vec2 is a world-space position or direction.
type Vec2 struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

func (v Vec2) Add(o Vec2) Vec2              { return Vec2{v.X + o.X, v.Y + o.Y} }
func (v Vec2) Sub(o Vec2) Vec2              { return Vec2{v.X - o.X, v.Y - o.Y} }
func (v Vec2) Scale(s float64) Vec2         { return Vec2{v.X * s, v.Y * s} }
func (v Vec2) Len() float64                 { return math.Hypot(v.X, v.Y) }
func (v Vec2) Dist(o Vec2) float64          { return math.Hypot(v.X-o.X, v.Y-o.Y) }
func (v Vec2) Lerp(o Vec2, t float64) Vec2 { return Vec2{v.X + (o.X-v.X)*t, v.Y + (o.Y-v.Y)*t} }

// Dist2 returns the squared distance, used for all tie-sensitive comparisons.
func (v Vec2) Dist2(o Vec2) float64 {
	dx, dy := v.X-o.X, v.Y-o.Y
	return dx*dx + dy*dy
}

func vecFrom(p config.Point) Vec2 { return Vec2{p.X, p.Y} }
func rectFrom(r config.Rect) Rect { return Rect{r.X, r.Y, r.W, r.H} }

// Rect is an axis-aligned rectangle (top-left corner + size).
type Rect struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
	W float64 `json:"w" msgpack:"w"`
	H float64 `json:"h" msgpack:"h"`
}

// Contains reports whether p lies inside r, edges included.
func (r Rect) Contains(p Vec2) bool {
	return p.X >= r.X && p.X <= r.X+r.W && p.Y >= r.Y && p.Y <= r.Y+r.H
}

// Center returns the rectangle midpoint.
func (r Rect) Center() Vec2 {
	return Vec2{r.X + r.W/2, r.Y + r.H/2}
}

// Lane names a marching path.
type Lane uint8

const (
	LaneNone Lane = iota
	LaneWest
	LaneCenter
	LaneEast
)

// Lanes lists the marching lanes in tie-break order.
var Lanes = [...]Lane{LaneWest, LaneCenter, LaneEast}

func (l Lane) String() string {
	switch l {
	case LaneWest:
		return "WEST"
	case LaneCenter:
		return "CENTER"
	case LaneEast:
		return "EAST"
	default:
		return "NONE"
	}
}

// ParseLane converts a lane name. Unknown names map to LaneNone.
func ParseLane(s string) Lane {
	for _, l := range Lanes {
		if l.String() == s {
			return l
		}
	}
	return LaneNone
}

// TowerState is the tower lifecycle.
type TowerState uint8

const (
	TowerStanding TowerState = iota
	TowerVulnerable
	TowerDestroyed
)

func (s TowerState) String() string {
	switch s {
	case TowerStanding:
		return "STANDING"
	case TowerVulnerable:
		return "VULNERABLE"
	default:
		return "DESTROYED"
	}
}

// Tower is a defended structure whose destruction weakens the owner's boss.
type Tower struct {
	ID            string
	Owner         Faction
	Pos           Vec2
	CoreRadius    float64
	CaptureRadius float64
	ContestRadius float64

	State     TowerState
	Defenders int
	OccupyS   float64
	Contested bool // both factions near; display only
}

// BunkerState is the bunker lifecycle.
type BunkerState uint8

const (
	BunkerStanding BunkerState = iota
	BunkerDestroyed
)

func (s BunkerState) String() string {
	if s == BunkerStanding {
		return "STANDING"
	}
	return "DESTROYED"
}

// Bunker is a walled footprint held by a captain.
type Bunker struct {
	ID           string
	Owner        Faction
	Rect         Rect
	Walls        []Rect
	State        BunkerState
	CaptainAlive bool
}

// Graveyard is a capturable respawn point.
type Graveyard struct {
	ID            string
	Pos           Vec2
	SpawnRadius   float64
	CaptureRadius float64
	CaptureTimeS  float64
	Home          bool

	Owner        Faction
	Capturer     Faction // faction currently accumulating Progress
	Progress     float64
	Queue        []UnitID
	RespawnTimer float64
}

// Keep is a faction's boss zone.
type Keep struct {
	Owner     Faction
	Rect      Rect
	BossSpawn Vec2
}

// MapGeometry holds static terrain plus the mutable structures.
type MapGeometry struct {
	Width, Height float64

	Cliffs    []Rect
	Rift      Rect
	Crossings []Rect

	Towers     []*Tower
	Bunkers    []*Bunker
	Graveyards []*Graveyard
	Keeps      [NumFactions]Keep

	lanes         [NumFactions][len(Lanes)][]Vec2
	home          [NumFactions]int
	arrivalRadius float64
}

// NewMapGeometry builds the map from configuration.
func NewMapGeometry(cfg *config.Sim) (*MapGeometry, error) {
	mc := cfg.Map
	m := &MapGeometry{
		Width:         mc.Width,
		Height:        mc.Height,
		Rift:          Rect{0, mc.RiftTop, mc.Width, mc.RiftBottom - mc.RiftTop},
		arrivalRadius: mc.ArrivalRadius,
		home:          [NumFactions]int{-1, -1},
	}
	if mc.CliffBeltWidth > 0 {
		m.Cliffs = []Rect{
			{0, 0, mc.CliffBeltWidth, mc.Height},
			{mc.Width - mc.CliffBeltWidth, 0, mc.CliffBeltWidth, mc.Height},
		}
	}
	for _, c := range mc.Crossings {
		m.Crossings = append(m.Crossings, rectFrom(c))
	}

	// Lanes: PLAYER walks the list south→north; mirroring it in y gives the
	// ENEMY path north→south in the same order.
	for i, pts := range [][]config.Point{mc.LaneWest, mc.LaneCenter, mc.LaneEast} {
		south := make([]Vec2, len(pts))
		north := make([]Vec2, len(pts))
		for j, p := range pts {
			south[j] = vecFrom(p)
			north[j] = Vec2{p.X, mc.Height - p.Y}
		}
		m.lanes[FactionPlayer][i] = south
		m.lanes[FactionEnemy][i] = north
	}

	for _, ts := range cfg.Towers {
		owner, _ := ParseFaction(ts.Owner)
		m.Towers = append(m.Towers, &Tower{
			ID:            ts.ID,
			Owner:         owner,
			Pos:           vecFrom(ts.Pos),
			CoreRadius:    cfg.Tower.CoreRadius,
			CaptureRadius: cfg.Tower.CaptureRadius,
			ContestRadius: cfg.Tower.ContestRadius,
			State:         TowerStanding,
		})
	}

	for _, bs := range cfg.Bunkers {
		owner, _ := ParseFaction(bs.Owner)
		r := rectFrom(bs.Rect)
		m.Bunkers = append(m.Bunkers, &Bunker{
			ID:    bs.ID,
			Owner: owner,
			Rect:  r,
			Walls: bunkerWalls(r, cfg.Bunker.WallThickness, cfg.Bunker.GateWidth, bs.Gates),
			State: BunkerStanding,
		})
	}

	for _, gs := range cfg.Graveyards {
		owner, _ := ParseFaction(gs.Owner)
		gy := &Graveyard{
			ID:            gs.ID,
			Pos:           vecFrom(gs.Pos),
			SpawnRadius:   gs.SpawnRadius,
			CaptureRadius: gs.CaptureRadius,
			CaptureTimeS:  gs.CaptureTimeS,
			Home:          gs.Home,
			Owner:         owner,
			Capturer:      FactionNeutral,
		}
		if gs.Home && owner.Playable() {
			m.home[owner] = len(m.Graveyards)
		}
		m.Graveyards = append(m.Graveyards, gy)
	}

	for _, ks := range cfg.Keeps {
		owner, ok := ParseFaction(ks.Owner)
		if !ok || !owner.Playable() {
			return nil, errors.Errorf("keep with invalid owner %q", ks.Owner)
		}
		m.Keeps[owner] = Keep{Owner: owner, Rect: rectFrom(ks.Rect), BossSpawn: vecFrom(ks.BossSpawn)}
	}

	for f := 0; f < NumFactions; f++ {
		if m.home[f] < 0 {
			return nil, errors.Errorf("no home graveyard for %s", Faction(f))
		}
	}
	return m, nil
}

// bunkerWalls splits the footprint outline into wall segments, leaving
// gate openings centered on each gate x in both long walls.
func bunkerWalls(r Rect, thick, gateWidth float64, gates []float64) []Rect {
	walls := []Rect{
		{r.X, r.Y, thick, r.H},
		{r.X + r.W - thick, r.Y, thick, r.H},
	}

	sorted := append([]float64(nil), gates...)
	sort.Float64s(sorted)

	var spans [][2]float64
	start := r.X
	for _, gx := range sorted {
		g0, g1 := gx-gateWidth/2, gx+gateWidth/2
		if g0 > start {
			spans = append(spans, [2]float64{start, math.Min(g0, r.X+r.W)})
		}
		if g1 > start {
			start = g1
		}
	}
	if start < r.X+r.W {
		spans = append(spans, [2]float64{start, r.X + r.W})
	}

	for _, s := range spans {
		walls = append(walls,
			Rect{s[0], r.Y, s[1] - s[0], thick},
			Rect{s[0], r.Y + r.H - thick, s[1] - s[0], thick},
		)
	}
	return walls
}

// LanePath returns the ordered waypoints faction f walks on lane l.
func (m *MapGeometry) LanePath(f Faction, l Lane) []Vec2 {
	if l == LaneNone || !f.Playable() {
		return nil
	}
	return m.lanes[f][l-1]
}

// Passable reports whether a unit may stand at p.
func (m *MapGeometry) Passable(p Vec2) bool {
	if p.X < 0 || p.Y < 0 || p.X > m.Width || p.Y > m.Height {
		return false
	}
	for _, c := range m.Cliffs {
		if c.Contains(p) {
			return false
		}
	}
	if m.Rift.Contains(p) {
		bridged := false
		for _, c := range m.Crossings {
			if c.Contains(p) {
				bridged = true
				break
			}
		}
		if !bridged {
			return false
		}
	}
	for _, t := range m.Towers {
		if t.State != TowerDestroyed && p.Dist2(t.Pos) < t.CoreRadius*t.CoreRadius {
			return false
		}
	}
	for _, b := range m.Bunkers {
		if b.State == BunkerDestroyed {
			continue
		}
		for _, w := range b.Walls {
			if w.Contains(p) {
				return false
			}
		}
	}
	return true
}

// HomeGraveyard returns the index of f's home graveyard.
func (m *MapGeometry) HomeGraveyard(f Faction) int {
	return m.home[f]
}

// NearestOwnedGraveyard returns the graveyard owned by f closest to p
// (ties by index). ok is false when f owns none.
func (m *MapGeometry) NearestOwnedGraveyard(f Faction, p Vec2) (idx int, ok bool) {
	best := math.Inf(1)
	idx = -1
	for i, g := range m.Graveyards {
		if g.Owner != f {
			continue
		}
		if d := p.Dist2(g.Pos); d < best {
			best, idx = d, i
		}
	}
	return idx, idx >= 0
}

// DistanceToLanes returns the distance from p to the closest lane centerline walked by f.
func (m *MapGeometry) DistanceToLanes(f Faction, p Vec2) float64 {
	best := math.Inf(1)
	for _, path := range m.lanes[f] {
		for i := 0; i+1 < len(path); i++ {
			if d := distToSegment(p, path[i], path[i+1]); d < best {
				best = d
			}
		}
	}
	return best
}

// NearestWaypoint returns the index of the waypoint on f's lane l closest to p.
func (m *MapGeometry) NearestWaypoint(f Faction, l Lane, p Vec2) int {
	path := m.LanePath(f, l)
	best, idx := math.Inf(1), 0
	for i, w := range path {
		if d := p.Dist2(w); d < best {
			best, idx = d, i
		}
	}
	return idx
}

// StandingTowers counts f's towers that are not destroyed.
func (m *MapGeometry) StandingTowers(f Faction) int {
	n := 0
	for _, t := range m.Towers {
		if t.Owner == f && t.State != TowerDestroyed {
			n++
		}
	}
	return n
}

// InFriendlyBunker reports whether p is inside a bunker of f whose captain lives.
func (m *MapGeometry) InFriendlyBunker(f Faction, p Vec2) bool {
	for _, b := range m.Bunkers {
		if b.Owner == f && b.CaptainAlive && b.State == BunkerStanding && b.Rect.Contains(p) {
			return true
		}
	}
	return false
}

func distToSegment(p, a, b Vec2) float64 {
	ab := b.Sub(a)
	l2 := ab.X*ab.X + ab.Y*ab.Y
	if l2 == 0 {
		return p.Dist(a)
	}
	t := ((p.X-a.X)*ab.X + (p.Y-a.Y)*ab.Y) / l2
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return p.Dist(a.Lerp(b, t))
}

// MapLayout is the static part of the map, for adapters.
type MapLayout struct {
	Width     float64           `json:"width"`
	Height    float64           `json:"height"`
	Cliffs    []Rect            `json:"cliffs"`
	Rift      Rect              `json:"rift"`
	Crossings []Rect            `json:"crossings"`
	Keeps     []Rect            `json:"keeps"`
	Lanes     map[string][]Vec2 `json:"lanes"` // PLAYER direction
}

// Layout copies the static terrain.
func (m *MapGeometry) Layout() MapLayout {
	l := MapLayout{
		Width:     m.Width,
		Height:    m.Height,
		Cliffs:    append([]Rect(nil), m.Cliffs...),
		Rift:      m.Rift,
		Crossings: append([]Rect(nil), m.Crossings...),
		Lanes:     make(map[string][]Vec2, len(Lanes)),
	}
	for _, k := range m.Keeps {
		l.Keeps = append(l.Keeps, k.Rect)
	}
	for _, lane := range Lanes {
		l.Lanes[lane.String()] = append([]Vec2(nil), m.LanePath(FactionPlayer, lane)...)
	}
	return l
}
