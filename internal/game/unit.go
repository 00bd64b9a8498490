package game

import (
	"github.com/pkg/errors"

	"valley-of-ashes/internal/config"
)

// Faction is one of the two contesting sides. FactionNeutral marks unowned
// graveyards and "no attacker" on kill attribution.
type Faction uint8

const (
	FactionPlayer Faction = iota
	FactionEnemy
	FactionNeutral
)

// NumFactions is the number of playable sides.
const NumFactions = 2

func (f Faction) String() string {
	switch f {
	case FactionPlayer:
		return config.FactionPlayer
	case FactionEnemy:
		return config.FactionEnemy
	default:
		return config.FactionNeutral
	}
}

// Opponent returns the other playable side.
func (f Faction) Opponent() Faction {
	if f == FactionPlayer {
		return FactionEnemy
	}
	return FactionPlayer
}

// Playable reports whether f owns gold, units and a boss.
func (f Faction) Playable() bool {
	return f == FactionPlayer || f == FactionEnemy
}

// ParseFaction converts a configuration name into a Faction.
func ParseFaction(s string) (Faction, bool) {
	switch s {
	case config.FactionPlayer:
		return FactionPlayer, true
	case config.FactionEnemy:
		return FactionEnemy, true
	case config.FactionNeutral:
		return FactionNeutral, true
	}
	return FactionNeutral, false
}

// UnitType selects a stat template.
type UnitType uint8

const (
	UnitGrunt UnitType = iota
	UnitLieutenant
	UnitCavalry
	UnitHealer
	UnitTowerArcher
	UnitCaptain
	UnitCommander
	UnitBoss
	numUnitTypes
)

var unitTypeNames = [numUnitTypes]string{
	"GRUNT", "LIEUTENANT", "CAVALRY", "HEALER", "TOWER_ARCHER", "CAPTAIN", "COMMANDER", "BOSS",
}

func (t UnitType) String() string {
	if t < numUnitTypes {
		return unitTypeNames[t]
	}
	return "UNKNOWN"
}

// ParseUnitType converts a template name into a UnitType.
func ParseUnitType(s string) (UnitType, bool) {
	for i, name := range unitTypeNames {
		if name == s {
			return UnitType(i), true
		}
	}
	return 0, false
}

// AllUnitTypes lists every unit type in declaration order.
func AllUnitTypes() []UnitType {
	out := make([]UnitType, numUnitTypes)
	for i := range out {
		out[i] = UnitType(i)
	}
	return out
}

// Role is a capability bit carried by a unit template.
type Role uint16

const (
	RoleRespawn   Role = 1 << iota // re-enters play through graveyards
	RoleHeal                       // periodic ally heal
	RoleTaunt                      // periodic forced aggro
	RoleDefender                   // tower defender, counts toward tower slots
	RoleElite                      // zone-bound targeting, immune to heal/taunt
	RoleCaptain                    // bunker holder
	RoleCommander                  // tower-bound, draws fire off the boss
	RoleBoss                       // death ends the battle
)

var roleNames = map[string]Role{
	"respawn":   RoleRespawn,
	"heal":      RoleHeal,
	"taunt":     RoleTaunt,
	"defender":  RoleDefender,
	"elite":     RoleElite,
	"captain":   RoleCaptain,
	"commander": RoleCommander,
	"boss":      RoleBoss,
}

// Has reports whether every bit of r2 is set.
func (r Role) Has(r2 Role) bool { return r&r2 == r2 }

// Stats is the immutable base stat block of a unit type.
type Stats struct {
	Type            UnitType
	MaxHP           float64
	Damage          float64
	AttackRange     float64
	AggroRange      float64
	AttackCooldownS float64
	MoveSpeed       float64
	RespawnDelayS   float64
	Cost            int
	Reward          int
	Roles           Role
}

// Purchasable reports whether gold can buy this type.
func (s Stats) Purchasable() bool {
	return s.Cost > 0 && !s.Roles.Has(RoleElite)
}

// SlotLimited reports whether a purchase needs a free structure slot.
func (s Stats) SlotLimited() bool {
	return s.Roles.Has(RoleDefender)
}

// StatTable is the lookup of base stats keyed by UnitType.
type StatTable [numUnitTypes]Stats

// Get returns the stats for t.
func (st *StatTable) Get(t UnitType) Stats {
	return st[t]
}

// NewStatTable builds the table from templates. Every UnitType must be present.
func NewStatTable(templates []config.UnitTemplate) (StatTable, error) {
	var table StatTable
	var seen [numUnitTypes]bool

	for _, tpl := range templates {
		t, ok := ParseUnitType(tpl.Name)
		if !ok {
			return table, errors.Errorf("unknown unit type %q", tpl.Name)
		}
		var roles Role
		for _, name := range tpl.Roles {
			r, ok := roleNames[name]
			if !ok {
				return table, errors.Errorf("unit %s: unknown role %q", tpl.Name, name)
			}
			roles |= r
		}
		table[t] = Stats{
			Type:            t,
			MaxHP:           tpl.HP,
			Damage:          tpl.Damage,
			AttackRange:     tpl.AttackRange,
			AggroRange:      tpl.AggroRange,
			AttackCooldownS: tpl.AttackCooldownS,
			MoveSpeed:       tpl.MoveSpeed,
			RespawnDelayS:   tpl.RespawnDelayS,
			Cost:            tpl.Cost,
			Reward:          tpl.Reward,
			Roles:           roles,
		}
		seen[t] = true
	}

	for i, ok := range seen {
		if !ok {
			return table, errors.Errorf("missing template for %s", UnitType(i))
		}
	}
	return table, nil
}

// UnitID identifies a unit for the lifetime of a battle. Ids start at 1.
type UnitID uint32

// NoUnit is the zero UnitID, meaning "no target".
const NoUnit UnitID = 0

// UnitState is the lifecycle state of a unit.
type UnitState uint8

const (
	StateMarching UnitState = iota
	StateDefending
	StateRespawning
	StateDead
)

func (s UnitState) String() string {
	switch s {
	case StateMarching:
		return "MARCHING"
	case StateDefending:
		return "DEFENDING"
	case StateRespawning:
		return "RESPAWNING"
	default:
		return "DEAD"
	}
}

// RecallState tracks mass-recall participation.
type RecallState uint8

const (
	RecallIdle RecallState = iota
	RecallChanneling
	RecallReturning
)

func (s RecallState) String() string {
	switch s {
	case RecallChanneling:
		return "CHANNELING"
	case RecallReturning:
		return "RETURNING"
	default:
		return "IDLE"
	}
}

// Unit is the mutable per-unit record. Units are never removed from a battle.
type Unit struct {
	ID      UnitID
	Faction Faction
	Type    UnitType
	Roles   Role

	// Spatial
	Pos           Vec2
	Lane          Lane
	WaypointIndex int

	// Combat
	HP              float64
	MaxHP           float64
	Damage          float64
	AttackRange     float64
	AggroRange      float64
	AttackCooldownS float64
	MoveSpeed       float64
	AttackTimer     float64
	TargetID        UnitID
	LastHitBy       Faction // FactionNeutral when never hit
	Kills           int     // lifetime kills, kept across respawns

	// Lifecycle
	State             UnitState
	RemainingRespawns int
	RespawnDelayS     float64
	QueuedAt          int // graveyard index while RESPAWNING, -1 otherwise

	// Structure association (-1 when unbound)
	TowerIndex  int
	BunkerIndex int

	// Elite zone
	Zone   Rect
	Anchor Vec2

	// Scaling base for bosses and commanders
	BaseMaxHP  float64
	BaseDamage float64

	// Role timers
	HealTimer    float64
	HealVisual   float64 // adapter-only flash countdown
	TauntTimer   float64
	OutOfCombatS float64
	RegenTimer   float64
	OffLaneS     float64

	Recall RecallState
}

// Alive reports whether the unit participates in queries, combat and movement.
func (u *Unit) Alive() bool {
	return u.State != StateDead && u.State != StateRespawning
}

// IsElite reports zone-bound targeting.
func (u *Unit) IsElite() bool { return u.Roles.Has(RoleElite) }

// IsBoss reports whether this unit's death ends the battle.
func (u *Unit) IsBoss() bool { return u.Roles.Has(RoleBoss) }

// IsCommander reports tower-bound boss guards.
func (u *Unit) IsCommander() bool { return u.Roles.Has(RoleCommander) }

// IsHealer reports the support role.
func (u *Unit) IsHealer() bool { return u.Roles.Has(RoleHeal) }

// IsTaunter reports the taunt role.
func (u *Unit) IsTaunter() bool { return u.Roles.Has(RoleTaunt) }

// IsStatic reports units exempt from separation.
func (u *Unit) IsStatic() bool { return u.MoveSpeed <= 0 }

// IsLaneUnit reports units that march along a lane.
func (u *Unit) IsLaneUnit() bool { return u.Lane != LaneNone && !u.IsElite() }

// Channeling reports an active recall channel.
func (u *Unit) Channeling() bool { return u.Recall == RecallChanneling }

// HPRatio returns hp / max hp.
func (u *Unit) HPRatio() float64 {
	if u.MaxHP <= 0 {
		return 0
	}
	return u.HP / u.MaxHP
}

// heal adds amount, clamped to max hp. Returns the hp actually restored.
func (u *Unit) heal(amount float64) float64 {
	before := u.HP
	u.HP += amount
	if u.HP > u.MaxHP {
		u.HP = u.MaxHP
	}
	return u.HP - before
}

// resetCombat clears target and timers after a teleport or respawn.
func (u *Unit) resetCombat() {
	u.TargetID = NoUnit
	u.AttackTimer = u.AttackCooldownS
	u.OutOfCombatS = 0
	u.RegenTimer = 0
	u.OffLaneS = 0
}
