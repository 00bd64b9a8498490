package game

import "math"

// updateTarget keeps a still-valid target or acquires a new one.
func (b *Battle) updateTarget(u *Unit) {
	if u.TargetID != NoUnit {
		if b.targetValid(u, b.Unit(u.TargetID)) {
			return
		}
		u.TargetID = NoUnit
	}

	if u.IsElite() {
		u.TargetID = b.acquireZoneTarget(u)
	} else {
		u.TargetID = b.acquireAggroTarget(u)
	}
	if u.TargetID != NoUnit && u.Recall == RecallReturning {
		u.Recall = RecallIdle
	}
}

func (b *Battle) targetValid(u, t *Unit) bool {
	if t == nil || !t.Alive() || t.Faction == u.Faction {
		return false
	}
	if u.IsElite() {
		return u.Zone.Contains(t.Pos)
	}
	return u.Pos.Dist2(t.Pos) <= u.AggroRange*u.AggroRange
}

// acquireZoneTarget picks the nearest enemy inside the elite's defended
// rectangle, ties by lower id.
func (b *Battle) acquireZoneTarget(u *Unit) UnitID {
	z := u.Zone
	c := z.Center()
	reach := math.Hypot(z.W/2, z.H/2)

	best := NoUnit
	bestD := math.Inf(1)
	for _, raw := range b.grid.QueryRadius(c.X, c.Y, reach) {
		cand := b.units[raw-1]
		if cand.Faction == u.Faction || !cand.Alive() || !z.Contains(cand.Pos) {
			continue
		}
		d := u.Pos.Dist2(cand.Pos)
		if d < bestD || (d == bestD && cand.ID < best) {
			best, bestD = cand.ID, d
		}
	}
	return best
}

// acquireAggroTarget picks the nearest enemy within aggro range; ties by
// lower current hp, then lower id.
func (b *Battle) acquireAggroTarget(u *Unit) UnitID {
	r2 := u.AggroRange * u.AggroRange
	var best *Unit
	bestD := math.Inf(1)
	for _, raw := range b.grid.QueryRadius(u.Pos.X, u.Pos.Y, u.AggroRange) {
		cand := b.units[raw-1]
		if cand.Faction == u.Faction || !cand.Alive() {
			continue
		}
		d := u.Pos.Dist2(cand.Pos)
		if d > r2 {
			continue
		}
		if best == nil || d < bestD ||
			(d == bestD && (cand.HP < best.HP || (cand.HP == best.HP && cand.ID < best.ID))) {
			best, bestD = cand, d
		}
	}
	if best == nil {
		return NoUnit
	}
	return best.ID
}

// engage closes distance or attacks when in range.
func (b *Battle) engage(u, t *Unit, dt float64) {
	d := u.Pos.Dist(t.Pos)
	if d > u.AttackRange {
		b.stepToward(u, t.Pos, math.Min(u.MoveSpeed*dt, d-u.AttackRange))
		return
	}

	u.AttackTimer -= dt
	if u.AttackTimer > timeEpsilon {
		return
	}

	b.applyDamage(u, t)

	cd := u.AttackCooldownS
	if b.world.InFriendlyBunker(u.Faction, u.Pos) {
		cd *= b.cfg.Bunker.AttackCooldownMult
	}
	u.AttackTimer = cd
}

func (b *Battle) applyDamage(attacker, victim *Unit) {
	victim.HP -= attacker.Damage
	victim.LastHitBy = attacker.Faction
	if victim.HP <= 0 {
		victim.HP = 0
		b.handleDeath(victim, attacker)
	}
}

// handleDeath routes a dying unit to respawn or permanent death, updates
// structure bookkeeping and attributes the kill. killer may be nil for
// structural deaths. A unit is only ever handled once per life.
func (b *Battle) handleDeath(u *Unit, killer *Unit) {
	if !u.Alive() {
		return
	}
	u.HP = 0
	u.TargetID = NoUnit
	u.Recall = RecallIdle

	ev := Event{Type: EventTypeDeath, Faction: u.Faction.String(), UnitID: u.ID, UnitType: u.Type.String()}
	if killer != nil && killer.Faction.Playable() && killer.Faction != u.Faction {
		reward := b.stats.Get(u.Type).Reward
		b.gold[killer.Faction] += reward
		b.kills[killer.Faction]++
		killer.Kills++
		ev.Type = EventTypeKill
		ev.OtherID = killer.ID
		ev.Amount = reward
	}
	b.emit(ev)

	if u.Roles.Has(RoleDefender) && u.TowerIndex >= 0 {
		tw := b.world.Towers[u.TowerIndex]
		if tw.Defenders > 0 {
			tw.Defenders--
		}
		if tw.Defenders == 0 && tw.State == TowerStanding {
			tw.State = TowerVulnerable
			tw.OccupyS = 0
			b.emit(Event{Type: EventTypeTowerVulnerable, Faction: tw.Owner.String(), Structure: tw.ID})
		}
	}

	if u.Roles.Has(RoleCaptain) && u.BunkerIndex >= 0 {
		bk := b.world.Bunkers[u.BunkerIndex]
		bk.CaptainAlive = false
		if bk.State != BunkerDestroyed {
			bk.State = BunkerDestroyed
			bk.Walls = nil
			b.emit(Event{Type: EventTypeBunkerDestroyed, Faction: bk.Owner.String(), Structure: bk.ID})
		}
	}

	if u.Roles.Has(RoleRespawn) && u.RemainingRespawns > 0 {
		b.enqueueRespawn(u)
	} else {
		u.State = StateDead
		if u.Roles.Has(RoleRespawn) {
			b.emit(Event{Type: EventTypeExhausted, Faction: u.Faction.String(), UnitID: u.ID})
		}
	}

	if u.IsBoss() && !b.gameOver {
		b.gameOver = true
		b.winner = u.Faction.Opponent()
		b.emit(Event{Type: EventTypeGameOver, Faction: b.winner.String(), UnitID: u.ID})
	}
}
