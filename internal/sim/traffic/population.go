package traffic

import (
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"citytraffic.ai/internal/sim/geom"
)

// CarModel describes one car model variant. FixedColor < 0 means any color.
type CarModel struct {
	Scale      float64
	FixedColor int
}

// DefaultCarModels returns n regular models, the last of which is a larger
// truck with a fixed color when n > 1.
func DefaultCarModels(n int) []CarModel {
	models := make([]CarModel, n)
	for i := range models {
		models[i] = CarModel{Scale: 1, FixedColor: -1}
	}
	if n > 1 {
		models[n-1] = CarModel{Scale: 1.3, FixedColor: 0}
	}
	return models
}

// InitCars asks the spawner for up to n moving cars.
func (m *Manager) InitCars(n int) int {
	added := 0
	for k := 0; k < n; k++ {
		c, ok := m.spawner.AddCar(m.rng)
		if !ok {
			continue
		}
		c.PrevBCube = c.BCube
		c.WaitingPos = c.FrontPos()
		m.cars = append(m.cars, c)
		added++
	}
	m.log.WithFields(logrus.Fields{"requested": n, "added": added}).Info("dynamic cars")
	return added
}

// AddParkedCars adds cars parked in lots, and one car in three garages out of
// four. Garage cars take the long axis of the garage with a random facing.
func (m *Manager) AddParkedCars(parked []Car, garages []geom.Cube) {
	for _, c := range parked {
		c.Park()
		c.PrevBCube = c.BCube
		m.cars = append(m.cars, c)
	}
	tr := &m.cfg.Traffic
	inGarages := 0
	for _, g := range garages {
		if m.rng.IntN(4) == 0 {
			continue
		}
		var c Car
		c.Park()
		c.CurCity = NoCity
		c.RoadType = RoadBuilding
		c.Dim = b2i(g.Dx() < g.Dy())
		c.Dir = m.rng.IntN(2) == 0
		c.Height = tr.CarHeight
		size := geom.V(tr.CarLength, tr.CarWidth, tr.CarHeight)
		if c.Dim == 1 {
			size[0], size[1] = size[1], size[0]
		}
		c.BCube = geom.CubeFromPoint(g.Center()).ExpandByVec(size.Scale(0.5))
		c.BCube[2][0] = g.Z1()
		c.BCube[2][1] = g.Z1() + c.Height
		if !g.ContainsCubeXY(c.BCube) {
			continue
		}
		c.PrevBCube = c.BCube
		m.cars = append(m.cars, c)
		inGarages++
	}
	m.log.WithFields(logrus.Fields{
		"parked":  len(parked),
		"garages": len(garages),
		"garaged": inGarages,
	}).Info("parked cars")
}

// FinalizeCars picks models and colors and then sorts and indexes the cars.
// Garage cars avoid scaled-up models when another model is available.
func (m *Manager) FinalizeCars(models []CarModel) {
	numColors := max(m.cfg.Traffic.NumColors, 1)
	const attempts = 20
	for i := range m.cars {
		c := &m.cars[i]
		fixedColor := -1
		if len(models) > 0 {
			for n := 0; n < attempts; n++ {
				id := 0
				if len(models) > 1 {
					id = m.rng.IntN(len(models))
				}
				model := models[id]
				if len(models) > 1 && c.InGarage() && n+1 < attempts && model.Scale > 1 {
					continue
				}
				c.ModelID = uint8(id)
				fixedColor = model.FixedColor
				c.ApplyScale(model.Scale)
				c.PrevBCube = c.BCube
				break
			}
		}
		if fixedColor >= 0 {
			c.ColorID = uint8(fixedColor)
		} else {
			c.ColorID = uint8(m.rng.IntN(numColors))
		}
	}
	m.rebuildBlocks()
	moving := lo.CountBy(m.cars, func(c Car) bool { return !c.IsParked() })
	m.log.WithFields(logrus.Fields{
		"total":  len(m.cars),
		"moving": moving,
		"parked": len(m.cars) - moving,
	}).Info("total cars")
}

// AddHelicopters creates one pad per location and puts a helicopter on about
// half of them. Helicopters wait 5-30s before their first flight so they do
// not all lift off at once.
func (m *Manager) AddHelicopters(pads []geom.Cube, numModels int) {
	if numModels <= 0 {
		return
	}
	a := &m.cfg.Aerial
	m.helipads = make([]Helipad, len(pads))
	for ix, pc := range pads {
		m.helipads[ix].BCube = pc
		if m.rng.Float64() >= a.Occupancy {
			continue
		}
		modelID := uint8(m.rng.IntN(numModels))
		size := m.HelicopterSize(modelID)
		center := pc.Center()
		// rotated models do not fit an axis-aligned box, so use the larger side both ways
		var bc geom.Cube
		bc[2][1] = size[2]
		bc = bc.ExpandByXY(0.5 * max(size[0], size[1]))
		h := Helicopter{
			BCube:   bc.Translate(center),
			Dir:     geom.V(m.rng.Float64()*2-1, m.rng.Float64()*2-1, 0).Norm(),
			ModelID: modelID,
			DestPad: ix,
			Dynamic: true,
		}
		if h.Dir.IsZero() {
			h.Dir = geom.V(1, 0, 0)
		}
		h.WaitTime = m.uniform(a.InitialWaitMin, a.InitialWaitMax)
		m.helicopters = append(m.helicopters, h)
		m.helipads[ix].InUse = true
	}
	m.log.WithFields(logrus.Fields{"helipads": len(m.helipads), "helicopters": len(m.helicopters)}).Info("helicopters")
}
