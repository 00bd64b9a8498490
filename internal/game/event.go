package game

// EventType enum for battle event classification
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypeSpawn
	EventTypePurchase
	EventTypeKill
	EventTypeDeath
	EventTypeRespawnQueued
	EventTypeRespawned
	EventTypeExhausted // out of respawns, permanently dead
	EventTypeTowerVulnerable
	EventTypeTowerRestored
	EventTypeTowerDestroyed
	EventTypeBunkerDestroyed
	EventTypeGraveyardCaptured
	EventTypeRecallStarted
	EventTypeRecallCompleted
	EventTypeGameOver
)

// EventVersion for backwards compatibility in replay
const EventVersion uint8 = 1

var eventTypeNames = map[EventType]string{
	EventTypeSpawn:             "spawn",
	EventTypePurchase:          "purchase",
	EventTypeKill:              "kill",
	EventTypeDeath:             "death",
	EventTypeRespawnQueued:     "respawn_queued",
	EventTypeRespawned:         "respawned",
	EventTypeExhausted:         "exhausted",
	EventTypeTowerVulnerable:   "tower_vulnerable",
	EventTypeTowerRestored:     "tower_restored",
	EventTypeTowerDestroyed:    "tower_destroyed",
	EventTypeBunkerDestroyed:   "bunker_destroyed",
	EventTypeGraveyardCaptured: "graveyard_captured",
	EventTypeRecallStarted:     "recall_started",
	EventTypeRecallCompleted:   "recall_completed",
	EventTypeGameOver:          "game_over",
}

// String returns human-readable event type
func (t EventType) String() string {
	if s, ok := eventTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// MarshalText encodes the type by name in JSON logs.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Event is one notable battle occurrence. The battle fills the simulation
// fields; the event log stamps Version, Timestamp, Sequence and MatchID.
type Event struct {
	Version   uint8     `json:"version"`
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"` // Unix nano
	Sequence  uint64    `json:"sequence"`
	MatchID   string    `json:"matchId,omitempty"`

	TickNum   uint64  `json:"tickNum"`
	SimTime   float64 `json:"simTime"`
	Faction   string  `json:"faction,omitempty"`
	UnitID    UnitID  `json:"unitId,omitempty"`
	OtherID   UnitID  `json:"otherId,omitempty"` // attacker on kills
	UnitType  string  `json:"unitType,omitempty"`
	Structure string  `json:"structure,omitempty"`
	Amount    int     `json:"amount,omitempty"` // gold, unit count, etc.
}
