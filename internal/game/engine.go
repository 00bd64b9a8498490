package game

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"valley-of-ashes/internal/config"
	"valley-of-ashes/internal/game/spatial"
)

// Controller is driven once per tick after the battle update, under the
// engine lock. The economy AI is a Controller.
type Controller interface {
	Update(dt float64)
}

// EngineConfig configures NewEngine.
type EngineConfig struct {
	TickRate int
	Sim      *config.Sim
	Units    []config.UnitTemplate

	// LosslessEvents disables event log rate limiting and dropping. For
	// headless runs, which outpace the wall-clock limits.
	LosslessEvents bool
}

// Engine runs a Battle on a fixed-rate ticker and publishes snapshots.
type Engine struct {
	mu          sync.RWMutex
	battle      *Battle
	controllers []Controller

	tickRate int
	running  bool
	ticker   *time.Ticker
	stopChan chan struct{}

	matchID   string
	snapshots SnapshotBuffer
	eventLog  *EventLog

	// Callbacks run on the tick goroutine after the lock is released.
	OnTick   func(elapsed time.Duration, snap *BattleSnapshot)
	OnEvents func(events []Event)
}

// NewEngine builds and seeds a battle.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.TickRate <= 0 {
		cfg.TickRate = 20
	}
	battle, err := NewBattle(cfg.Sim, cfg.Units)
	if err != nil {
		return nil, err
	}

	matchID := uuid.NewString()
	eventLog := NewEventLog(matchID)
	if cfg.LosslessEvents {
		eventLog = NewLosslessEventLog(matchID)
	}
	e := &Engine{
		battle:   battle,
		tickRate: cfg.TickRate,
		stopChan: make(chan struct{}),
		matchID:  matchID,
		eventLog: eventLog,
	}
	battle.DrainEvents() // seeding is not interesting
	e.publish()
	return e, nil
}

// AddController registers c. Call before Start.
func (e *Engine) AddController(c Controller) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.controllers = append(e.controllers, c)
}

// Battle exposes the simulation for wiring controllers before Start.
// Never touch it from other goroutines while the engine runs.
func (e *Engine) Battle() *Battle {
	return e.battle
}

// Start begins the game loop
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	e.ticker = time.NewTicker(time.Second / time.Duration(e.tickRate))

	go func() {
		for {
			select {
			case <-e.ticker.C:
				e.tick()
			case <-e.stopChan:
				return
			}
		}
	}()

	log.Printf("🎮 Battle %s started at %d TPS", e.matchID, e.tickRate)
}

// Stop stops the game loop
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}

	e.running = false
	if e.ticker != nil {
		e.ticker.Stop()
	}
	close(e.stopChan)
	log.Println("🛑 Battle engine stopped")
}

// StartEventLog begins writing battle events to path.
func (e *Engine) StartEventLog(path string) error {
	return e.eventLog.Start(path)
}

// StopEventLog flushes and closes the event log.
func (e *Engine) StopEventLog() {
	e.eventLog.Stop()
}

// tick is called at tickRate times per second
func (e *Engine) tick() {
	e.Advance(1.0 / float64(e.tickRate))
}

// Advance runs one fixed step of dt seconds. Used by the ticker and by
// headless callers.
func (e *Engine) Advance(dt float64) {
	start := time.Now()

	e.mu.Lock()
	e.battle.Update(dt)
	for _, c := range e.controllers {
		c.Update(dt)
	}
	events := e.battle.DrainEvents()
	snap := e.publish()
	e.mu.Unlock()

	e.eventLog.EmitAll(events)
	logEvents(events)

	if e.OnEvents != nil && len(events) > 0 {
		e.OnEvents(events)
	}
	if e.OnTick != nil {
		e.OnTick(time.Since(start), snap)
	}
}

// publish must be called with e.mu held.
func (e *Engine) publish() *BattleSnapshot {
	snap := e.battle.Snapshot()
	snap.MatchID = e.matchID
	e.snapshots.Publish(snap)
	return snap
}

func logEvents(events []Event) {
	for _, ev := range events {
		switch ev.Type {
		case EventTypeTowerDestroyed:
			log.Printf("🏚️ Tower %s (%s) destroyed", ev.Structure, ev.Faction)
		case EventTypeBunkerDestroyed:
			log.Printf("🧱 Bunker %s (%s) has fallen", ev.Structure, ev.Faction)
		case EventTypeGraveyardCaptured:
			log.Printf("🪦 Graveyard %s captured by %s", ev.Structure, ev.Faction)
		case EventTypeRecallStarted:
			log.Printf("🌀 %s recalling %d units", ev.Faction, ev.Amount)
		case EventTypeGameOver:
			log.Printf("🏆 Game over, %s wins at t=%.1fs", ev.Faction, ev.SimTime)
		}
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

// PurchaseUnit buys a unit for f. See Battle.PurchaseUnit.
func (e *Engine) PurchaseUnit(f Faction, t UnitType, lane Lane) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.battle.PurchaseUnit(f, t, lane)
}

// TriggerRecall starts a mass recall for f. See Battle.TriggerRecall.
func (e *Engine) TriggerRecall(f Faction) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.battle.TriggerRecall(f)
}

// SpawnUnit places a unit directly (debug seeding). Returns NoUnit when the
// spawn is rejected.
func (e *Engine) SpawnUnit(f Faction, t UnitType, lane Lane, pos *Vec2) UnitID {
	e.mu.Lock()
	defer e.mu.Unlock()
	u := e.battle.SpawnUnit(f, t, lane, pos)
	if u == nil {
		return NoUnit
	}
	return u.ID
}

// =============================================================================
// STATE
// =============================================================================

// GetSnapshot returns the latest published snapshot.
func (e *Engine) GetSnapshot() *BattleSnapshot {
	return e.snapshots.Latest()
}

// Layout returns the static map layout.
func (e *Engine) Layout() MapLayout {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.battle.Map().Layout()
}

// MatchID returns the battle's unique id.
func (e *Engine) MatchID() string {
	return e.matchID
}

// TickRate returns the configured ticks per second.
func (e *Engine) TickRate() int {
	return e.tickRate
}

// GetEventLogStats returns event log counters.
func (e *Engine) GetEventLogStats() map[string]interface{} {
	return e.eventLog.GetStats()
}

// EventLogCounts returns accepted and dropped event totals.
func (e *Engine) EventLogCounts() (total, dropped uint64) {
	return e.eventLog.GetTotalCount(), e.eventLog.GetDroppedCount()
}

// SpatialStats returns spatial index occupancy.
func (e *Engine) SpatialStats() spatial.GridStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.battle.SpatialStats()
}
