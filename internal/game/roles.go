package game

import (
	"math"
	"sort"
)

// updateHealer heals the lowest nearby non-elite allies once its cooldown is up.
func (b *Battle) updateHealer(u *Unit, dt float64) {
	s := b.cfg.Support
	u.HealVisual = math.Max(0, u.HealVisual-dt)
	u.HealTimer -= dt
	if u.HealTimer > timeEpsilon {
		return
	}
	u.HealTimer = 0

	r2 := s.HealRadius * s.HealRadius
	b.picks = b.picks[:0]
	for _, raw := range b.grid.QueryRadius(u.Pos.X, u.Pos.Y, s.HealRadius) {
		a := b.units[raw-1]
		if a == u || a.Faction != u.Faction || !a.Alive() || a.IsElite() {
			continue
		}
		if u.Pos.Dist2(a.Pos) > r2 || a.HPRatio() >= s.HealThreshold {
			continue
		}
		b.picks = append(b.picks, a)
	}
	if len(b.picks) == 0 {
		return
	}

	sort.Slice(b.picks, func(i, j int) bool {
		ri, rj := b.picks[i].HPRatio(), b.picks[j].HPRatio()
		if ri != rj {
			return ri < rj
		}
		return b.picks[i].ID < b.picks[j].ID
	})
	if len(b.picks) > s.HealMaxTargets {
		b.picks = b.picks[:s.HealMaxTargets]
	}
	for _, a := range b.picks {
		a.heal(a.MaxHP * s.HealPercent)
	}

	u.HealTimer = s.HealCooldownS
	u.HealVisual = s.HealVisualS
}

// updateTaunter forces the nearest non-elite enemies within aggro range to
// target u. A victim must also have u inside its own aggro range or it would
// drop the target on its next retention check.
func (b *Battle) updateTaunter(u *Unit, dt float64) {
	s := b.cfg.Support
	u.TauntTimer -= dt
	if u.TauntTimer > timeEpsilon {
		return
	}
	u.TauntTimer = 0

	r2 := u.AggroRange * u.AggroRange
	b.picks = b.picks[:0]
	for _, raw := range b.grid.QueryRadius(u.Pos.X, u.Pos.Y, u.AggroRange) {
		e := b.units[raw-1]
		if e.Faction == u.Faction || !e.Alive() || e.IsElite() || e.Channeling() {
			continue
		}
		reach := math.Min(u.AggroRange, e.AggroRange)
		if d := u.Pos.Dist2(e.Pos); d > r2 || d > reach*reach {
			continue
		}
		b.picks = append(b.picks, e)
	}
	if len(b.picks) == 0 {
		return
	}

	sort.Slice(b.picks, func(i, j int) bool {
		di, dj := u.Pos.Dist2(b.picks[i].Pos), u.Pos.Dist2(b.picks[j].Pos)
		if di != dj {
			return di < dj
		}
		return b.picks[i].ID < b.picks[j].ID
	})
	if len(b.picks) > s.TauntMaxTargets {
		b.picks = b.picks[:s.TauntMaxTargets]
	}
	for _, e := range b.picks {
		e.TargetID = u.ID
	}
	u.TauntTimer = s.TauntCooldownS
}

// coordinateCommanders assigns each commander of a standing tower the
// nearest unclaimed enemy currently attacking its boss. Greedy in id order.
func (b *Battle) coordinateCommanders() {
	for id := range b.claimed {
		delete(b.claimed, id)
	}

	for _, c := range b.units {
		if !c.Alive() || !c.IsCommander() || c.TowerIndex < 0 {
			continue
		}
		if b.world.Towers[c.TowerIndex].State == TowerDestroyed {
			continue
		}
		boss := b.bosses[c.Faction]
		if boss == NoUnit {
			continue
		}

		r2 := c.AggroRange * c.AggroRange
		var best *Unit
		bestD := math.Inf(1)
		for _, raw := range b.grid.QueryRadius(c.Pos.X, c.Pos.Y, c.AggroRange) {
			e := b.units[raw-1]
			if e.Faction == c.Faction || !e.Alive() || e.TargetID != boss || b.claimed[e.ID] {
				continue
			}
			d := c.Pos.Dist2(e.Pos)
			if d > r2 {
				continue
			}
			if best == nil || d < bestD || (d == bestD && e.ID < best.ID) {
				best, bestD = e, d
			}
		}
		if best != nil {
			c.TargetID = best.ID
			b.claimed[best.ID] = true
		}
	}
}
