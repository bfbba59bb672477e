package traffic

import (
	"fmt"
	"math"

	"citytraffic.ai/internal/sim/geom"
	"citytraffic.ai/internal/sim/tuning"
)

type HeliState uint8

const (
	HeliWaiting HeliState = iota
	HeliTakeoff
	HeliFlying
	HeliLanding
)

func (s HeliState) String() string {
	switch s {
	case HeliWaiting:
		return "waiting"
	case HeliTakeoff:
		return "takeoff"
	case HeliFlying:
		return "flying"
	case HeliLanding:
		return "landing"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Helicopter flies between helipads. WaitTime only means something while
// waiting; zero there means idle for good.
type Helicopter struct {
	BCube    geom.Cube
	Dir      geom.Vec3
	Velocity geom.Vec3
	State    HeliState
	DestPad  int
	WaitTime float64
	FlyZ     float64
	BladeRot float64
	ModelID  uint8

	Dynamic       bool
	DynamicShadow bool
}

// LandingPoint is the bottom center of the helicopter.
func (h *Helicopter) LandingPoint() geom.Vec3 {
	p := h.BCube.Center()
	p[2] = h.BCube.Z1()
	return p
}

// Helipad is a landing spot. InUse and Reserved are never set together by the
// scheduler: InUse means a helicopter sits on it (or is about to leave it),
// Reserved means one is on its way.
type Helipad struct {
	BCube    geom.Cube
	InUse    bool
	Reserved bool
}

func (p *Helipad) Available() bool { return !p.InUse && !p.Reserved }

// HelicopterSize is the footprint and height of a helicopter model.
func (m *Manager) HelicopterSize(modelID uint8) geom.Vec3 {
	tr, s := &m.cfg.Traffic, m.cfg.Aerial.ModelScale
	return geom.V(tr.CarLength*s, tr.CarWidth*s, tr.CarHeight*s)
}

func (m *Manager) uniform(a, b float64) float64 { return a + (b-a)*m.rng.Float64() }

func (m *Manager) invalidateHeliShadow(h *Helicopter, offset geom.Vec3, repeatNextFrame bool) {
	m.shadows.InvalidateShadowAt(h.BCube.Center().Add(offset), 0.5*math.Max(h.BCube.Dx(), h.BCube.Dy()), repeatNextFrame)
}

// helicoptersNextFrame advances every helicopter's state machine by fticks.
func (m *Manager) helicoptersNextFrame(carSpeed, fticks float64, st *FrameStats) {
	if len(m.helicopters) == 0 {
		return
	}
	a := &m.cfg.Aerial
	elapsed := fticks / tuning.TicksPerSecond
	speed := a.SpeedMult * m.cfg.Traffic.SpeedScale * carSpeed
	takeoffSpeed, landSpeed := a.TakeoffSpeedFrac*speed, a.LandSpeedFrac*speed
	rotateRate := math.Min(a.RotateRate*fticks, 1)
	shadowDir := m.lightDir.Scale(-1).Norm()

	for hi := range m.helicopters {
		h := &m.helicopters[hi]
		if h.State == HeliWaiting {
			if h.WaitTime == 0 {
				continue
			}
			h.WaitTime -= elapsed
			if h.WaitTime > 0 {
				continue
			}
			m.startFlight(h, takeoffSpeed)
			continue
		}
		st.HelicoptersFlying++
		if h.DestPad < 0 || h.DestPad >= len(m.helipads) {
			panic(fmt.Sprintf("traffic: helicopter %d has invalid dest pad %d", hi, h.DestPad))
		}
		pad := &m.helipads[h.DestPad]
		if !pad.Reserved {
			panic(fmt.Sprintf("traffic: helicopter %d flying to unreserved pad %d", hi, h.DestPad))
		}

		switch h.State {
		case HeliTakeoff:
			dir := pad.BCube.Center().Sub(h.LandingPoint())
			dir[2] = 0
			dir = dir.Norm()
			dz := h.FlyZ - h.BCube.Z1()
			rise := math.Min(dz, takeoffSpeed*fticks)
			h.BCube = h.BCube.Translate(geom.V(0, 0, rise))
			if rise >= dz {
				h.Dir = dir
				h.Velocity = h.Dir.Scale(speed * m.uniform(0.9, 1.1))
				h.State = HeliFlying
			} else {
				// turn gradually towards the destination while climbing
				h.Dir = dir.Scale(rotateRate).Add(h.Dir.Scale(1 - rotateRate)).Norm()
			}
		case HeliLanding:
			dz := h.BCube.Z1() - pad.BCube.Z2()
			fall := math.Min(dz, landSpeed*fticks)
			h.BCube = h.BCube.Translate(geom.V(0, 0, -fall))
			if fall >= dz {
				h.Velocity = geom.Vec3{}
				h.WaitTime = m.uniform(a.WaitMinSecs, a.WaitMaxSecs)
				h.State = HeliWaiting
				pad.InUse = true
				pad.Reserved = false
				m.invalidateHeliShadow(h, geom.Vec3{}, false)
			}
		case HeliFlying:
			cur, dest := h.LandingPoint(), pad.BCube.Center()
			delta := h.Velocity.Scale(fticks)
			arrive := geom.CubeFromPoint(dest).ExpandByXY(delta.Len())
			if arrive.ContainsPtXY(cur) {
				h.BCube = h.BCube.Translate(geom.V(dest[0]-cur[0], dest[1]-cur[1], 0))
				h.Velocity = geom.V(0, 0, -landSpeed)
				h.State = HeliLanding
			} else {
				h.BCube = h.BCube.Translate(delta)
			}
		}
		if !h.Velocity.IsZero() {
			h.BladeRot += a.BladeRate * fticks
			if h.BladeRot > 2*math.Pi {
				h.BladeRot -= 2 * math.Pi
			}
		}
		h.DynamicShadow = false
		if a.DynamicShadows && !shadowDir.IsZero() {
			m.updateHeliShadow(h, shadowDir)
		}
	}
}

// startFlight picks a free pad other than the current one and starts the
// climb. With no free pad found the helicopter retries after a short wait.
func (m *Manager) startFlight(h *Helicopter, takeoffSpeed float64) {
	a := &m.cfg.Aerial
	dest := -1
	for n := 0; n < a.DestAttempts && len(m.helipads) > 0; n++ {
		ix := m.rng.IntN(len(m.helipads))
		if ix != h.DestPad && m.helipads[ix].Available() {
			dest = ix
			break
		}
	}
	if dest < 0 {
		h.WaitTime = a.RetryWaitSecs
		return
	}
	size := m.HelicopterSize(h.ModelID)
	height := size[2]
	minVertClearance := 2 * height
	minClimb := math.Max(minVertClearance, 5*height)
	avoidDist := 2 * math.Sqrt2 * math.Max(size[0], size[1])

	pad := &m.helipads[dest]
	p1, p2 := h.BCube.Center(), pad.BCube.Center()
	if h.DestPad >= 0 && h.DestPad < len(m.helipads) {
		m.helipads[h.DestPad].InUse = false
	}
	pad.Reserved = true
	h.WaitTime = 0
	h.DestPad = dest
	h.Velocity = geom.V(0, 0, takeoffSpeed)
	z := math.Max(p1[2], p2[2]) + minClimb
	p1[2], p2[2] = z, z
	h.FlyZ = math.Max(z, m.heights.MaxHeightAlong(p1, p2, avoidDist)+minVertClearance)
	h.State = HeliTakeoff
	m.invalidateHeliShadow(h, geom.Vec3{}, false)
}

// updateHeliShadow finds where a nearby helicopter's shadow lands and, when
// that spot is visible, invalidates its shadow tile for this frame and the next.
func (m *Manager) updateHeliShadow(h *Helicopter, shadowDir geom.Vec3) {
	thresh := m.cfg.Aerial.ShadowThresh
	start := h.BCube.Center()
	if !geom.DistLessThan(start, m.camera, thresh) {
		return
	}
	dmax := 4 * thresh
	dmin := dmax
	end := start.Add(shadowDir.Scale(dmax))
	if p, ok := m.rays.RayTerrain(start, end); ok {
		dmin = math.Min(dmin, geom.Dist(start, p))
		end = p
	}
	if p, ok := m.rays.RayStructures(start, end); ok {
		dmin = math.Min(dmin, geom.Dist(start, p))
	}
	if dmin >= dmax {
		// lands too far away to matter
		return
	}
	offset := shadowDir.Scale(dmin)
	h.DynamicShadow = m.vis.CubeVisible(h.BCube.Translate(offset))
	if h.DynamicShadow {
		m.invalidateHeliShadow(h, offset, true)
	}
}

// CheckHelicopterCollision reports whether any helicopter box intersects bc.
func (m *Manager) CheckHelicopterCollision(bc geom.Cube) bool {
	for i := range m.helicopters {
		if m.helicopters[i].BCube.Intersects(bc) {
			return true
		}
	}
	return false
}

func (m *Manager) Helicopters() []Helicopter { return m.helicopters }
func (m *Manager) Helipads() []Helipad { return m.helipads }
