package game

// enqueueRespawn parks u at its faction's nearest owned graveyard (home as
// fallback). Starting a new queue resets that graveyard's timer.
func (b *Battle) enqueueRespawn(u *Unit) {
	gi, ok := b.world.NearestOwnedGraveyard(u.Faction, u.Pos)
	if !ok {
		gi = b.world.HomeGraveyard(u.Faction)
	}
	g := b.world.Graveyards[gi]
	if len(g.Queue) == 0 {
		g.RespawnTimer = 0
	}
	g.Queue = append(g.Queue, u.ID)

	u.State = StateRespawning
	u.QueuedAt = gi
	b.emit(Event{Type: EventTypeRespawnQueued, Faction: u.Faction.String(), UnitID: u.ID, Structure: g.ID})
}

// processRespawns releases every queue whose timer reached the interval.
func (b *Battle) processRespawns(dt float64) {
	interval := b.cfg.Graveyard.RespawnIntervalS
	for gi, g := range b.world.Graveyards {
		if len(g.Queue) == 0 {
			continue
		}
		g.RespawnTimer += dt
		if g.RespawnTimer+timeEpsilon < interval {
			continue
		}

		batch := g.Queue
		g.Queue = nil
		g.RespawnTimer = 0
		for slot, id := range batch {
			b.release(b.Unit(id), gi, slot)
		}
	}
}

// release returns a queued unit to play, or retires it when out of respawns.
func (b *Battle) release(u *Unit, from, slot int) {
	u.QueuedAt = -1
	if u.RemainingRespawns <= 0 {
		u.State = StateDead
		b.emit(Event{Type: EventTypeExhausted, Faction: u.Faction.String(), UnitID: u.ID})
		return
	}
	u.RemainingRespawns--

	gi, ok := b.world.NearestOwnedGraveyard(u.Faction, b.world.Graveyards[from].Pos)
	if !ok {
		gi = b.world.HomeGraveyard(u.Faction)
	}

	u.Pos = b.graveyardSpawnPoint(gi, slot)
	u.HP = u.MaxHP
	u.resetCombat()
	u.LastHitBy = FactionNeutral
	u.Recall = RecallIdle
	u.State = StateMarching
	u.WaypointIndex = b.world.NearestWaypoint(u.Faction, u.Lane, u.Pos)
	u.HealTimer = b.cfg.Support.HealCooldownS
	u.HealVisual = 0
	u.TauntTimer = b.cfg.Support.TauntCooldownS

	b.emit(Event{
		Type:      EventTypeRespawned,
		Faction:   u.Faction.String(),
		UnitID:    u.ID,
		Structure: b.world.Graveyards[gi].ID,
		Amount:    u.RemainingRespawns,
	})
}
