package game

import "math"

// presence reports which playable factions have a living unit within r of p.
func (b *Battle) presence(p Vec2, r float64) (has [NumFactions]bool) {
	r2 := r * r
	for _, u := range b.units {
		if !u.Alive() || !u.Faction.Playable() || has[u.Faction] {
			continue
		}
		if u.Pos.Dist2(p) <= r2 {
			has[u.Faction] = true
			if has[FactionPlayer] && has[FactionEnemy] {
				return has
			}
		}
	}
	return has
}

// updateTowers advances STANDING→VULNERABLE→DESTROYED.
func (b *Battle) updateTowers(dt float64) {
	duration := b.cfg.Tower.CaptureDurationS
	for ti, t := range b.world.Towers {
		if t.State == TowerDestroyed {
			continue
		}
		near := b.presence(t.Pos, t.ContestRadius)
		t.Contested = near[FactionPlayer] && near[FactionEnemy]

		switch t.State {
		case TowerStanding:
			if t.Defenders == 0 {
				t.State = TowerVulnerable
				t.OccupyS = 0
				b.emit(Event{Type: EventTypeTowerVulnerable, Faction: t.Owner.String(), Structure: t.ID})
			}
		case TowerVulnerable:
			t.OccupyS += dt
			if t.OccupyS+timeEpsilon >= duration {
				b.destroyTower(ti)
			}
		}
	}
}

// destroyTower retires the tower, kills its commanders and rescales the owner's elites.
func (b *Battle) destroyTower(ti int) {
	t := b.world.Towers[ti]
	t.State = TowerDestroyed
	t.OccupyS = b.cfg.Tower.CaptureDurationS
	t.Contested = false
	b.emit(Event{Type: EventTypeTowerDestroyed, Faction: t.Owner.String(), Structure: t.ID})

	for _, u := range b.units {
		if u.IsCommander() && u.TowerIndex == ti && u.Alive() {
			b.handleDeath(u, nil)
		}
	}
	b.rescaleElites(t.Owner)
}

// eliteMultiplier is the boss/commander stat scale for f.
func (b *Battle) eliteMultiplier(f Faction) float64 {
	return 1 + b.cfg.Boss.HPPerTowerMult*float64(b.world.StandingTowers(f))
}

// rescaleElites applies the current multiplier to f's living boss and
// commanders, preserving each one's hp ratio.
func (b *Battle) rescaleElites(f Faction) {
	mult := b.eliteMultiplier(f)
	for _, u := range b.units {
		if u.Faction != f || !u.Alive() || !(u.IsBoss() || u.IsCommander()) {
			continue
		}
		ratio := u.HPRatio()
		u.MaxHP = u.BaseMaxHP * mult
		u.HP = math.Min(u.MaxHP, ratio*u.MaxHP)
		u.Damage = u.BaseDamage * mult
	}
}

// updateGraveyards advances exclusive-occupancy capture with decay.
func (b *Battle) updateGraveyards(dt float64) {
	decay := b.cfg.Graveyard.DecayPerS
	for _, g := range b.world.Graveyards {
		near := b.presence(g.Pos, g.CaptureRadius)

		occupant := FactionNeutral
		switch {
		case near[FactionPlayer] && near[FactionEnemy]:
			continue // contested: frozen
		case near[FactionPlayer]:
			occupant = FactionPlayer
		case near[FactionEnemy]:
			occupant = FactionEnemy
		}

		if occupant.Playable() && occupant != g.Owner {
			if g.Capturer != occupant {
				g.Capturer = occupant
				g.Progress = 0
			}
			g.Progress += dt
			if g.Progress+timeEpsilon >= g.CaptureTimeS {
				g.Owner = occupant
				g.Progress = 0
				g.Capturer = FactionNeutral
				b.emit(Event{Type: EventTypeGraveyardCaptured, Faction: occupant.String(), Structure: g.ID})
			}
			continue
		}

		g.Progress = math.Max(0, g.Progress-decay*dt)
		if g.Progress == 0 {
			g.Capturer = FactionNeutral
		}
	}
}
