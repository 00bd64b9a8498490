package game

import "math"

// resolveRecalls completes expired channels: channeled units are placed on
// a ring around their boss with combat and navigation state reset.
func (b *Battle) resolveRecalls() {
	for fi := range b.recall {
		rc := &b.recall[fi]
		if !rc.active || b.time+timeEpsilon < rc.endsAt {
			continue
		}
		rc.active = false
		f := Faction(fi)

		center := b.world.Keeps[f].BossSpawn
		if boss := b.Boss(f); boss != nil && boss.Alive() {
			center = boss.Pos
		}

		b.picks = b.picks[:0]
		for _, u := range b.units {
			if u.Faction == f && u.Alive() && u.Channeling() {
				b.picks = append(b.picks, u)
			}
		}

		n := len(b.picks)
		for i, u := range b.picks {
			a := 2 * math.Pi * float64(i) / float64(n)
			p := center.Add(Vec2{math.Cos(a), math.Sin(a)}.Scale(b.cfg.Recall.RingRadius))
			if !b.world.Passable(p) {
				p = center
			}
			u.Pos = p
			u.resetCombat()
			u.Recall = RecallReturning
			u.WaypointIndex = b.world.NearestWaypoint(f, u.Lane, p)
		}
		b.emit(Event{Type: EventTypeRecallCompleted, Faction: f.String(), Amount: n})
	}
}
