package traffic

import (
	"math"

	"citytraffic.ai/internal/sim/geom"
)

// Resolution is the outcome of one pairwise collision check.
type Resolution uint8

const (
	ResolveNone Resolution = iota
	// ResolveTBone: cross traffic, the car whose front hit the other was put
	// back to its previous pose.
	ResolveTBone
	// ResolveSeparated: the rear car was pushed back to the required gap.
	ResolveSeparated
	// ResolveReverted: pushing back would leave the segment, so the rear car
	// was put back to its previous pose instead.
	ResolveReverted
	// ResolveClamped: the rear car had no usable previous pose and was pushed
	// back only as far as its segment allows.
	ResolveClamped
)

func (r Resolution) String() string {
	switch r {
	case ResolveTBone:
		return "tbone"
	case ResolveSeparated:
		return "separated"
	case ResolveReverted:
		return "reverted"
	case ResolveClamped:
		return "clamped"
	default:
		return "none"
	}
}

// ResolveCollision checks a and b against each other and corrects at most one
// of them, which is returned along with the outcome. Which car moves depends
// only on geometry unless the two boxes coincide. bounds returns the segment
// volume a car must stay inside.
func ResolveCollision(a, b *Car, bounds func(*Car) geom.Cube, env *Env) (Resolution, *Car) {
	if a.Dim != b.Dim {
		var toStop *Car
		if b.FrontIntersects(a) {
			toStop = b
		} else if a.FrontIntersects(b) {
			toStop = a
		}
		if toStop == nil {
			return ResolveNone, nil
		}
		toStop.DecelerateFast(env)
		toStop.BCube = toStop.PrevBCube
		return ResolveTBone, toStop
	}
	if a.Dir != b.Dir {
		// opposite sides of the road
		return ResolveNone, nil
	}
	dim, d := a.Dim, b2i(a.Dir)
	cmove, cstay := rearOf(a, b)
	sep := MinSeparation(cmove, cstay, false, env.Cfg)
	test := 0.999 * sep
	ext := cmove.BCube
	ext[dim][0] -= test
	ext[dim][1] += test
	if !ext.IntersectsXY(cstay.BCube) {
		return ResolveNone, nil
	}
	if cstay.IsStopped() {
		cmove.DecelerateFast(env)
	} else {
		cmove.Decelerate(env)
	}
	gap := cstay.BCube[dim][1-d] - cmove.BCube[dim][d]
	delta := gap - dirSign(cmove.Dir)*sep
	seg := bounds(cmove)
	if cstay.MaxSpeed < cmove.MaxSpeed {
		cmove.FrontCarTurnDir = cstay.TurnDir
	}

	moved := cmove.BCube
	moved[dim][0] += delta
	moved[dim][1] += delta
	if seg.ContainsCubeXY(moved) {
		cmove.MoveBy(delta)
		return ResolveSeparated, cmove
	}
	if cmove.BCube != cmove.PrevBCube {
		cmove.BCube = cmove.PrevBCube
		return ResolveReverted, cmove
	}
	// no previous pose to fall back to (initial placement): stop at the segment edge
	if cmove.Dir {
		delta = math.Max(delta, math.Min(0, 0.999*(seg[dim][0]-cmove.BCube[dim][0])))
	} else {
		delta = math.Min(delta, math.Max(0, 0.999*(seg[dim][1]-cmove.BCube[dim][1])))
	}
	cmove.MoveBy(delta)
	return ResolveClamped, cmove
}

// rearOf orders two cars travelling the same way into (behind, ahead). Equal
// fronts fall back to the back edge, then to the lateral coordinate.
func rearOf(a, b *Car) (*Car, *Car) {
	s := dirSign(a.Dir)
	if d := s * (a.FrontPos() - b.FrontPos()); d != 0 {
		if d < 0 {
			return a, b
		}
		return b, a
	}
	if d := s * (a.BackPos() - b.BackPos()); d != 0 {
		if d < 0 {
			return a, b
		}
		return b, a
	}
	lat := 1 - a.Dim
	if b.BCube[lat][0] < a.BCube[lat][0] {
		return b, a
	}
	return a, b
}

// PedProbe is the area in front of a car that must be clear of pedestrians:
// 1.25 car lengths ahead of the front, half a car width wider on each side.
func PedProbe(c *Car) geom.Cube {
	area := c.BCube
	d := b2i(c.Dir)
	area[c.Dim][1-d] = area[c.Dim][d]
	area[c.Dim][d] += dirSign(c.Dir) * 1.25 * c.Length()
	area[1-c.Dim][0] -= 0.5 * c.Width()
	area[1-c.Dim][1] += 0.5 * c.Width()
	return area
}

// checkCarForPedColls stops car i hard when a crossing pedestrian is in front of it.
func (m *Manager) checkCarForPedColls(i int) bool {
	c := &m.cars[i]
	if c.TurnVal != 0 || c.TurnDir != TurnNone {
		// turning cars would block their intersection
		return false
	}
	if int64(c.CurCity) >= int64(len(m.pedSnap)) {
		return false
	}
	byRoad := m.pedSnap[c.CurCity]
	if int64(c.CurRoad) >= int64(len(byRoad)) {
		return false
	}
	peds := byRoad[c.CurRoad]
	if len(peds) == 0 {
		return false
	}
	area := PedProbe(c)
	for _, p := range peds {
		if area.ContainsPtXYExp(p.Pos, p.Radius) {
			c.DecelerateFast(&m.env)
			if m.rng.IntN(4) == 0 {
				m.honkIfCloseAndFast(c)
			}
			return true
		}
	}
	return false
}

func (m *Manager) honkIfClose(c *Car) {
	pos := c.Center()
	if geom.DistLessThan(pos, m.camera, m.cfg.Traffic.HornRadius) {
		m.fx.Horn(pos)
	}
}

func (m *Manager) honkIfCloseAndFast(c *Car) {
	if c.CurSpeed > 0.25*c.MaxSpeed {
		m.honkIfClose(c)
	}
}

// checkCollision resolves cars i and j and folds the outcome into st.
func (m *Manager) checkCollision(i, j int, st *FrameStats) {
	res, moved := ResolveCollision(&m.cars[i], &m.cars[j], m.roads.SegmentBounds, &m.env)
	switch res {
	case ResolveTBone:
		st.TBones++
		m.honkIfCloseAndFast(moved)
	case ResolveSeparated:
		st.Separated++
	case ResolveReverted:
		st.Reverted++
	case ResolveClamped:
		st.Clamped++
	}
}
