package game

import "math"

// march advances a lane unit along its waypoints.
func (b *Battle) march(u *Unit, dt float64) {
	path := b.world.LanePath(u.Faction, u.Lane)
	if u.WaypointIndex >= len(path) {
		return
	}

	wp := path[u.WaypointIndex]
	if u.Pos.Dist(wp) <= b.world.arrivalRadius {
		u.WaypointIndex++
		if u.Recall == RecallReturning {
			u.Recall = RecallIdle
		}
		if u.WaypointIndex >= len(path) {
			return
		}
		wp = path[u.WaypointIndex]
	}

	b.stepToward(u, wp, math.Min(u.MoveSpeed*dt, u.Pos.Dist(wp)))
}

// stepToward moves u up to step units toward dest. A blocked full step falls
// back to a half step; a blocked half step holds position.
func (b *Battle) stepToward(u *Unit, dest Vec2, step float64) {
	if step <= 0 {
		return
	}
	d := u.Pos.Dist(dest)
	if d == 0 {
		return
	}
	dir := dest.Sub(u.Pos).Scale(1 / d)

	next := u.Pos.Add(dir.Scale(step))
	if b.world.Passable(next) {
		u.Pos = next
		return
	}
	half := u.Pos.Add(dir.Scale(step / 2))
	if b.world.Passable(half) {
		u.Pos = half
	}
}

// recoverStuck snaps a lane unit back to its lane after it has spent too
// long away from every lane centerline.
func (b *Battle) recoverStuck(u *Unit, dt float64) {
	if !u.IsLaneUnit() || u.IsStatic() {
		return
	}
	if b.world.DistanceToLanes(u.Faction, u.Pos) <= b.cfg.Combat.LaneProximity {
		u.OffLaneS = 0
		return
	}

	u.OffLaneS += dt
	if u.OffLaneS+timeEpsilon < b.cfg.Combat.StuckTimeoutS {
		return
	}

	idx := b.world.NearestWaypoint(u.Faction, u.Lane, u.Pos)
	u.Pos = b.world.LanePath(u.Faction, u.Lane)[idx]
	u.WaypointIndex = idx
	u.TargetID = NoUnit
	u.OffLaneS = 0
}

// regenerate heals units that have been out of combat long enough.
func (b *Battle) regenerate(u *Unit, dt float64) {
	if u.TargetID != NoUnit {
		u.OutOfCombatS = 0
		u.RegenTimer = 0
		return
	}

	c := b.cfg.Combat
	u.OutOfCombatS += dt
	over := u.OutOfCombatS - c.RegenDelayS
	if over+timeEpsilon < 0 {
		return
	}
	if u.HP >= u.MaxHP {
		u.RegenTimer = 0
		return
	}

	// Only time past the delay counts toward the first pulse.
	u.RegenTimer += math.Min(dt, math.Max(over, 0))
	for u.RegenTimer+timeEpsilon >= c.RegenIntervalS {
		u.RegenTimer -= c.RegenIntervalS
		u.heal(u.MaxHP * c.RegenPercent)
	}
}

// separate pushes same-faction mobile units apart. Units are processed in
// id order and see the positions already adjusted this pass.
func (b *Battle) separate(dt float64) {
	c := b.cfg.Combat
	radius := c.SeparationRadius

	for _, u := range b.units {
		if !u.Alive() || u.IsStatic() || u.Channeling() {
			continue
		}

		var push Vec2
		for _, raw := range b.grid.QueryRadius(u.Pos.X, u.Pos.Y, radius) {
			n := b.units[raw-1]
			if n == u || n.Faction != u.Faction || !n.Alive() {
				continue
			}
			d := u.Pos.Dist(n.Pos)
			if d >= radius {
				continue
			}

			var dir Vec2
			if d < 1e-6 {
				// Coincident: split along x by id order.
				dir = Vec2{X: 1}
				if u.ID > n.ID {
					dir.X = -1
				}
			} else {
				dir = u.Pos.Sub(n.Pos).Scale(1 / d)
			}
			push = push.Add(dir)
		}

		// The summed unit vectors only give the direction; the step is
		// always the full push limit.
		mag := push.Len()
		if mag < 1e-9 {
			continue
		}
		limit := c.PushLimit * u.MoveSpeed * dt
		disp := push.Scale(limit / mag)
		if next := u.Pos.Add(disp); b.world.Passable(next) {
			u.Pos = next
		}
	}
}
