package game

import (
	"sync/atomic"
	"time"
)

// UnitSnapshot is an immutable copy of unit state for readers.
type UnitSnapshot struct {
	ID         UnitID  `json:"id" msgpack:"id"`
	Faction    string  `json:"faction" msgpack:"f"`
	Type       string  `json:"type" msgpack:"t"`
	State      string  `json:"state" msgpack:"s"`
	Recall     string  `json:"recall" msgpack:"r"`
	Lane       string  `json:"lane" msgpack:"l"`
	X          float64 `json:"x" msgpack:"x"`
	Y          float64 `json:"y" msgpack:"y"`
	HP         float64 `json:"hp" msgpack:"hp"`
	MaxHP      float64 `json:"maxHp" msgpack:"mhp"`
	TargetID   UnitID  `json:"targetId,omitempty" msgpack:"tg,omitempty"`
	HealVisual float64 `json:"healVisual,omitempty" msgpack:"hv,omitempty"`
	Respawns   int     `json:"respawns" msgpack:"rs"`
	Kills      int     `json:"kills,omitempty" msgpack:"k,omitempty"`
}

// TowerSnapshot is an immutable tower view.
type TowerSnapshot struct {
	ID        string  `json:"id" msgpack:"id"`
	Owner     string  `json:"owner" msgpack:"o"`
	X         float64 `json:"x" msgpack:"x"`
	Y         float64 `json:"y" msgpack:"y"`
	State     string  `json:"state" msgpack:"s"`
	Defenders int     `json:"defenders" msgpack:"d"`
	OccupyS   float64 `json:"occupyS" msgpack:"oc"`
	Contested bool    `json:"contested" msgpack:"c"`
}

// BunkerSnapshot is an immutable bunker view.
type BunkerSnapshot struct {
	ID           string `json:"id" msgpack:"id"`
	Owner        string `json:"owner" msgpack:"o"`
	Rect         Rect   `json:"rect" msgpack:"r"`
	Walls        []Rect `json:"walls" msgpack:"w"`
	State        string `json:"state" msgpack:"s"`
	CaptainAlive bool   `json:"captainAlive" msgpack:"ca"`
}

// GraveyardSnapshot is an immutable graveyard view.
type GraveyardSnapshot struct {
	ID           string  `json:"id" msgpack:"id"`
	Owner        string  `json:"owner" msgpack:"o"`
	X            float64 `json:"x" msgpack:"x"`
	Y            float64 `json:"y" msgpack:"y"`
	Capturer     string  `json:"capturer" msgpack:"cp"`
	Progress     float64 `json:"progress" msgpack:"p"`
	CaptureTimeS float64 `json:"captureTimeS" msgpack:"ct"`
	QueueLen     int     `json:"queueLen" msgpack:"q"`
	RespawnTimer float64 `json:"respawnTimer" msgpack:"rt"`
}

// FactionSnapshot aggregates per-faction state.
type FactionSnapshot struct {
	Faction        string  `json:"faction" msgpack:"f"`
	Gold           int     `json:"gold" msgpack:"g"`
	Kills          int     `json:"kills" msgpack:"k"`
	Alive          int     `json:"alive" msgpack:"a"`
	StandingTowers int     `json:"standingTowers" msgpack:"st"`
	RecallActive   bool    `json:"recallActive" msgpack:"ra"`
	RecallCooldown float64 `json:"recallCooldown" msgpack:"rc"`
	BossHP         float64 `json:"bossHp" msgpack:"bh"`
	BossMaxHP      float64 `json:"bossMaxHp" msgpack:"bm"`
}

// BattleSnapshot is a complete immutable battle state for readers.
type BattleSnapshot struct {
	Sequence  uint64    `json:"sequence" msgpack:"seq"`
	Timestamp time.Time `json:"timestamp" msgpack:"ts"`
	MatchID   string    `json:"matchId" msgpack:"m"`
	Tick      uint64    `json:"tick" msgpack:"tk"`
	Time      float64   `json:"time" msgpack:"tm"`
	GameOver  bool      `json:"gameOver" msgpack:"go"`
	Winner    string    `json:"winner,omitempty" msgpack:"w,omitempty"`

	Factions   [NumFactions]FactionSnapshot `json:"factions" msgpack:"fs"`
	Units      []UnitSnapshot               `json:"units" msgpack:"u"`
	Towers     []TowerSnapshot              `json:"towers" msgpack:"tw"`
	Bunkers    []BunkerSnapshot             `json:"bunkers" msgpack:"b"`
	Graveyards []GraveyardSnapshot          `json:"graveyards" msgpack:"gy"`
}

// Snapshot copies the current battle state. Dead units are included so
// readers can show permanent losses.
func (b *Battle) Snapshot() *BattleSnapshot {
	snap := &BattleSnapshot{
		Tick:       b.tick,
		Time:       b.time,
		GameOver:   b.gameOver,
		Units:      make([]UnitSnapshot, 0, len(b.units)),
		Towers:     make([]TowerSnapshot, 0, len(b.world.Towers)),
		Bunkers:    make([]BunkerSnapshot, 0, len(b.world.Bunkers)),
		Graveyards: make([]GraveyardSnapshot, 0, len(b.world.Graveyards)),
	}
	if b.gameOver {
		snap.Winner = b.winner.String()
	}

	for fi := range snap.Factions {
		f := Faction(fi)
		fs := FactionSnapshot{
			Faction:        f.String(),
			Gold:           b.gold[f],
			Kills:          b.kills[f],
			StandingTowers: b.world.StandingTowers(f),
			RecallActive:   b.recall[f].active,
			RecallCooldown: b.RecallCooldown(f),
		}
		if boss := b.Boss(f); boss != nil {
			fs.BossHP, fs.BossMaxHP = boss.HP, boss.MaxHP
		}
		snap.Factions[fi] = fs
	}

	for _, u := range b.units {
		if u.Alive() {
			snap.Factions[u.Faction].Alive++
		}
		snap.Units = append(snap.Units, UnitSnapshot{
			ID:         u.ID,
			Faction:    u.Faction.String(),
			Type:       u.Type.String(),
			State:      u.State.String(),
			Recall:     u.Recall.String(),
			Lane:       u.Lane.String(),
			X:          u.Pos.X,
			Y:          u.Pos.Y,
			HP:         u.HP,
			MaxHP:      u.MaxHP,
			TargetID:   u.TargetID,
			HealVisual: u.HealVisual,
			Respawns:   u.RemainingRespawns,
			Kills:      u.Kills,
		})
	}

	for _, t := range b.world.Towers {
		snap.Towers = append(snap.Towers, TowerSnapshot{
			ID:        t.ID,
			Owner:     t.Owner.String(),
			X:         t.Pos.X,
			Y:         t.Pos.Y,
			State:     t.State.String(),
			Defenders: t.Defenders,
			OccupyS:   t.OccupyS,
			Contested: t.Contested,
		})
	}

	for _, bk := range b.world.Bunkers {
		snap.Bunkers = append(snap.Bunkers, BunkerSnapshot{
			ID:           bk.ID,
			Owner:        bk.Owner.String(),
			Rect:         bk.Rect,
			Walls:        append([]Rect(nil), bk.Walls...),
			State:        bk.State.String(),
			CaptainAlive: bk.CaptainAlive,
		})
	}

	for _, g := range b.world.Graveyards {
		snap.Graveyards = append(snap.Graveyards, GraveyardSnapshot{
			ID:           g.ID,
			Owner:        g.Owner.String(),
			X:            g.Pos.X,
			Y:            g.Pos.Y,
			Capturer:     g.Capturer.String(),
			Progress:     g.Progress,
			CaptureTimeS: g.CaptureTimeS,
			QueueLen:     len(g.Queue),
			RespawnTimer: g.RespawnTimer,
		})
	}
	return snap
}

// SnapshotBuffer publishes immutable snapshots from the tick goroutine to
// any number of readers without locks. Each published snapshot is a fresh
// allocation, so readers may hold it as long as they like.
type SnapshotBuffer struct {
	latest   atomic.Pointer[BattleSnapshot]
	sequence atomic.Uint64
}

// Publish stamps and stores snap as the latest snapshot.
func (sb *SnapshotBuffer) Publish(snap *BattleSnapshot) {
	snap.Sequence = sb.sequence.Add(1)
	snap.Timestamp = time.Now()
	sb.latest.Store(snap)
}

// Latest returns the most recent snapshot, or nil before the first publish.
func (sb *SnapshotBuffer) Latest() *BattleSnapshot {
	return sb.latest.Load()
}
