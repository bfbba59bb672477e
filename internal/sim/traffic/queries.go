package traffic

import (
	"citytraffic.ai/internal/sim/geom"
)

// ProcSphereCollision pushes a sphere moving from pLast to *pos out of the
// first car it overlaps and returns the contact normal.
func (m *Manager) ProcSphereCollision(pos *geom.Vec3, pLast geom.Vec3, radius float64) (geom.Vec3, bool) {
	dist := geom.Dist(*pos, pLast)
	for b := range m.blockBounds {
		bc := m.blockBounds[b]
		if pos[2]-radius > bc.Z2() {
			continue
		}
		if !bc.SphereIntersectsXY(*pos, radius+dist) {
			continue
		}
		for i := m.blocks[b].Start; i < m.blocks[b+1].Start; i++ {
			if n, ok := m.cars[i].BCube.SpherePushOut(pos, pLast, radius); ok {
				return n, true
			}
		}
	}
	return geom.Vec3{}, false
}

// DestroyCarsInRadius destroys every car whose center is within radius of
// pos, or whose box contains pos when radius is zero. Destroyed cars are
// removed at the start of the next frame.
func (m *Manager) DestroyCarsInRadius(pos geom.Vec3, radius float64) int {
	isPt := radius == 0
	num := 0
	for b := range m.blockBounds {
		bc := m.blockBounds[b]
		if pos[2]-radius > bc.Z2() {
			continue
		}
		if isPt && !bc.ContainsPtXY(pos) || !isPt && !bc.SphereIntersectsXY(pos, radius) {
			continue
		}
		for i := m.blocks[b].Start; i < m.blocks[b+1].Start; i++ {
			c := &m.cars[i]
			if c.Destroyed {
				continue
			}
			hit := c.BCube.ContainsPt(pos)
			if !isPt {
				hit = geom.DistLessThan(c.Center(), pos, radius)
			}
			if !hit {
				continue
			}
			wasParked := c.IsParked()
			c.Destroy()
			m.carDestroyed = true
			num++
			m.fx.CarDestroyed(c)
			if m.cfg.Traffic.CarShadows && wasParked {
				// parked cars are baked into the static tile shadows
				m.shadows.InvalidateShadowAt(c.Center(), 0.5*c.Length(), false)
			}
		}
	}
	if num > 0 {
		m.log.WithField("destroyed", num).Info("destroyed cars")
	}
	return num
}

// CarAtPoint returns the first moving (or parked) car whose footprint contains pos.
func (m *Manager) CarAtPoint(pos geom.Vec3, parked bool) (int, bool) {
	for b := range m.blockBounds {
		if !m.blockBounds[b].ContainsPtXY(pos) {
			continue
		}
		start, end := m.BlockRange(b, parked)
		for i := start; i < end; i++ {
			if m.cars[i].BCube.ContainsPtXY(pos) {
				return i, true
			}
		}
	}
	return -1, false
}

// CarOnLine returns the first car, moving or parked, whose box the segment p1-p2 crosses.
func (m *Manager) CarOnLine(p1, p2 geom.Vec3) (int, bool) {
	for b := range m.blockBounds {
		if !m.blockBounds[b].LineIntersects(p1, p2) {
			continue
		}
		for i := m.blocks[b].Start; i < m.blocks[b+1].Start; i++ {
			if m.cars[i].BCube.LineIntersects(p1, p2) {
				return i, true
			}
		}
	}
	return -1, false
}

// CarAtCamera picks the car the camera looks at within maxDist.
func (m *Manager) CarAtCamera(maxDist float64) (int, bool) {
	return m.CarOnLine(m.camera, m.camera.Add(m.cameraDir.Scale(maxDist)))
}

// LineIntersectCars lowers *t to the first hit of p1-p2 against any car.
func (m *Manager) LineIntersectCars(p1, p2 geom.Vec3, t *float64) bool {
	hit := false
	for b := range m.blockBounds {
		if !m.blockBounds[b].LineIntersects(p1, p2) {
			continue
		}
		for i := m.blocks[b].Start; i < m.blocks[b+1].Start; i++ {
			if m.cars[i].BCube.ClipLineUpdateT(p1, p2, t) {
				hit = true
			}
		}
	}
	return hit
}

// CarAtXY is the map-view point query. It needs the road index, which is
// only maintained while the detail map is on.
func (m *Manager) CarAtXY(pos geom.Vec3, surface Surface) (int, bool) {
	if len(m.cars) == 0 || !m.detailMap || len(m.byRoad.Blocks) == 0 {
		return -1, false
	}
	return m.byRoad.find(m.cars, pos, surface)
}

func (m *Manager) RoadIndex() *RoadIndex { return &m.byRoad }

// ParkedBCube is a parked car footprint tagged with its parking lot.
type ParkedBCube struct {
	BCube geom.Cube
	Lot   uint32
}

// CityCars groups the cars of one city for pedestrian navigation. Moving is
// indexed by travel dim and dir.
type CityCars struct {
	Moving       [2][2][]Car
	ParkedBCubes []ParkedBCube
}

// ExtractCarData refreshes moving cars per city. Parked footprints are only
// filled in on the first call (empty dst); they are not updated when parked
// cars are destroyed later.
func (m *Manager) ExtractCarData(dst []CityCars) []CityCars {
	if len(m.cars) == 0 {
		return dst
	}
	addParked := len(dst) == 0
	for i := range dst {
		for d := 0; d < 2; d++ {
			dst[i].Moving[d][0] = dst[i].Moving[d][0][:0]
			dst[i].Moving[d][1] = dst[i].Moving[d][1][:0]
		}
	}
	for i := range m.cars {
		c := &m.cars[i]
		if c.CurCity == ConnectorCity || c.CurCity == NoCity {
			continue
		}
		for int(c.CurCity) >= len(dst) {
			dst = append(dst, CityCars{})
		}
		cc := &dst[c.CurCity]
		if !c.IsParked() {
			cc.Moving[c.Dim][b2i(c.Dir)] = append(cc.Moving[c.Dim][b2i(c.Dir)], *c)
		} else if addParked {
			cc.ParkedBCubes = append(cc.ParkedBCubes, ParkedBCube{BCube: c.BCube, Lot: c.CurRoad})
		}
	}
	return dst
}

// CarPose is what a renderer needs to draw one car.
type CarPose struct {
	Index      int
	BCube      geom.Cube
	Dim        int
	Dir        bool
	DZ         float64
	RotZ       float64
	ColorID    uint8
	ModelID    uint8
	Parked     bool
	InGarage   bool
	Headlights bool
	Braking    bool
	TurnSignal bool
	TurnDir    TurnDir
}

// RenderSnapshot appends the pose of every live car to dst.
func (m *Manager) RenderSnapshot(dst []CarPose) []CarPose {
	for i := range m.cars {
		c := &m.cars[i]
		if c.Destroyed {
			continue
		}
		dst = append(dst, CarPose{
			Index:      i,
			BCube:      c.BCube,
			Dim:        c.Dim,
			Dir:        c.Dir,
			DZ:         c.DZ,
			RotZ:       c.RotZ,
			ColorID:    c.ColorID,
			ModelID:    c.ModelID,
			Parked:     c.IsParked(),
			InGarage:   c.InGarage(),
			Headlights: c.HeadlightsOn(m.lightFactor),
			Braking:    c.BrakeLightsOn(),
			TurnSignal: c.TurnSignalOn(),
			TurnDir:    c.TurnDir,
		})
	}
	return dst
}

// CarLabel is the debug text for car i.
func (m *Manager) CarLabel(i int) string {
	c := m.Car(i)
	if c == nil {
		return ""
	}
	return c.Label(m.elapsed, m.CountCarsInFront(i, geom.Cube{}))
}
