package traffic

import (
	"math"
	"math/rand/v2"

	"github.com/sirupsen/logrus"

	"citytraffic.ai/internal/sim/geom"
	"citytraffic.ai/internal/sim/tuning"
)

// Manager owns every car and helicopter and advances them one frame at a
// time. It is not safe for concurrent use: NextFrame needs exclusive access,
// and readers may only look at cars, blocks and the road index between frames.
type Manager struct {
	cfg tuning.Tuning
	log logrus.FieldLogger
	rng *rand.Rand
	env Env

	roads   RoadGraph
	updater RoadUpdater
	spawner Spawner
	peds    PedestrianSource
	heights HeightQuery
	rays    RayProbe
	vis     Visibility
	shadows ShadowInvalidator
	fx      Effects

	cars         []Car
	ahead        aheadTable
	blocks       []CarBlock
	blockBounds  []geom.Cube
	bb           blockBuilder
	entering     []int
	carDestroyed bool
	byRoad       RoadIndex
	pedSnap      PedsByRoad

	helicopters []Helicopter
	helipads    []Helipad

	camera      geom.Vec3
	cameraDir   geom.Vec3
	lightDir    geom.Vec3
	lightFactor float64
	animating   bool
	detailMap   bool

	frame   uint64
	elapsed float64
}

type FrameInput struct {
	// CarSpeed scales every car's speed; 1 is normal traffic.
	CarSpeed float64
	// Fticks is the number of ticks this frame covers.
	Fticks float64
}

type FrameStats struct {
	Frame   uint64
	Moving  int
	Parked  int
	Removed int

	Separated int
	Reverted  int
	Clamped   int
	TBones    int

	NavigatorHits     int
	PedStops          int
	BlockedIsecs      int
	HelicoptersFlying int
}

func NewManager(cfg tuning.Tuning, collab Collaborators, logger logrus.FieldLogger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	collab = collab.withDefaults()
	m := &Manager{
		cfg:       cfg,
		log:       logger.WithField("component", "traffic"),
		rng:       rand.New(rand.NewPCG(uint64(cfg.Seed), 0x9e3779b97f4a7c15)),
		roads:     collab.Roads,
		updater:   collab.Updater,
		spawner:   collab.Spawner,
		peds:      collab.Peds,
		heights:   collab.Heights,
		rays:      collab.Rays,
		vis:       collab.Visibility,
		shadows:   collab.Shadows,
		fx:        collab.Effects,
		lightDir:  geom.V(0.3, 0.2, 1).Norm(),
		animating: true,
		detailMap: cfg.Traffic.DetailMap,
	}
	m.env.Cfg = &m.cfg.Traffic
	return m
}

func (m *Manager) SetCamera(pos, dir geom.Vec3) {
	m.camera = pos
	m.cameraDir = dir.Norm()
}

// SetLight sets the direction towards the sun or moon and the ambient light
// level used for headlights.
func (m *Manager) SetLight(dir geom.Vec3, factor float64) {
	m.lightDir = dir.Norm()
	m.lightFactor = factor
}

func (m *Manager) SetAnimating(on bool) { m.animating = on }
func (m *Manager) SetDetailMap(on bool) { m.detailMap = on }

func (m *Manager) Camera() geom.Vec3 { return m.camera }
func (m *Manager) Frame() uint64 { return m.frame }
func (m *Manager) Elapsed() float64 { return m.elapsed }
func (m *Manager) NumCars() int { return len(m.cars) }
func (m *Manager) Tuning() tuning.Tuning { return m.cfg }

// Cars returns the car array of the current frame. Indices are invalidated by
// the next NextFrame.
func (m *Manager) Cars() []Car { return m.cars }

func (m *Manager) Car(i int) *Car {
	if i < 0 || i >= len(m.cars) {
		return nil
	}
	return &m.cars[i]
}

// CarAhead is the car found ahead of car i during the last frame.
func (m *Manager) CarAhead(i int) (int, bool) { return m.ahead.get(i) }

// NextFrame runs one simulation frame: helicopters, compaction of destroyed
// cars, sort, block rebuild and motion, collisions, then per-car road logic.
// It never fails; cars that cannot be resolved keep their previous pose.
func (m *Manager) NextFrame(in FrameInput) FrameStats {
	var st FrameStats
	if !m.animating {
		return st
	}
	m.frame++
	st.Frame = m.frame
	m.elapsed += in.Fticks / tuning.TicksPerSecond
	m.env.Fticks = in.Fticks
	m.env.Now = m.elapsed

	m.helicoptersNextFrame(in.CarSpeed, in.Fticks, &st)
	if len(m.cars) == 0 {
		return st
	}
	m.peds.PedsCrossingRoads(&m.pedSnap)
	if m.carDestroyed {
		st.Removed = m.removeDestroyed()
		m.log.WithField("removed", st.Removed).Debug("compacted destroyed cars")
	}
	m.sortCars()

	m.entering = m.entering[:0]
	m.ahead = m.ahead.reset(len(m.cars))
	speed := m.cfg.Traffic.SpeedScale * in.CarSpeed * in.Fticks
	m.bb.reset(m.blocks)

	for i := range m.cars {
		c := &m.cars[i]
		m.bb.add(i, c)
		if c.IsParked() {
			st.Parked++
			continue
		}
		st.Moving++
		c.Move(speed, &m.env)
		if c.EnteringCity {
			m.entering = append(m.entering, i)
		}
		if !c.StoppedAtLight && c.IsAlmostStopped() && c.InIsect() {
			m.roads.MarkIsecBlocked(c)
			st.BlockedIsecs++
		}
		m.updater.RegisterCar(c)
	}
	m.blocks = m.bb.finish(len(m.cars))

	m.collisionPass(&st)

	f := Frame{m: m}
	for i := range m.cars {
		if !m.cars[i].IsParked() {
			m.updater.UpdateCar(&f, i)
		}
	}
	m.computeBlockBounds()
	if m.detailMap {
		m.byRoad.Rebuild(m.cars)
	}
	return st
}

func (m *Manager) collisionPass(st *FrameStats) {
	rw := m.cfg.Traffic.RoadWidth
	for i := range m.cars {
		c := &m.cars[i]
		if c.IsParked() {
			continue
		}
		onConn := c.OnConnector()
		length := c.Length()
		maxCheck := math.Max(3*length, length+c.LookaheadDist(rw))

		// neighbors on the same road; they can be on adjacent segments and still collide
		for j := i + 1; j < len(m.cars); j++ {
			o := &m.cars[j]
			if o.CurCity != c.CurCity || o.CurRoad != c.CurRoad || o.IsParked() {
				break
			}
			if !onConn && c.RoadType == o.RoadType && c.CurSeg != o.CurSeg {
				break
			}
			m.checkCollision(i, j, st)
			m.registerAdjacent(i, j)
			m.registerAdjacent(j, i)
			if !geom.DistXYLessThan(c.Center(), o.Center(), maxCheck) {
				break
			}
		}
		if onConn {
			// cars that just left the connector are indexed under their new city
			for _, k := range m.entering {
				if k != i {
					m.checkCollision(i, k, st)
				}
			}
		}
		if c.InIsect() {
			if k := m.findNextCarAfterTurn(i); k >= 0 {
				st.NavigatorHits++
				m.checkCollision(i, k, st)
			}
		}
		if len(m.pedSnap) > 0 && m.checkCarForPedColls(i) {
			st.PedStops++
		}
	}
}

// State is the persistent part of the manager. Per-frame structures (blocks,
// car-ahead table, road index) are rebuilt from it.
type State struct {
	Frame       uint64
	Elapsed     float64
	Cars        []Car
	Helicopters []Helicopter
	Helipads    []Helipad
}

func (m *Manager) Export() State {
	return State{
		Frame:       m.frame,
		Elapsed:     m.elapsed,
		Cars:        append([]Car(nil), m.cars...),
		Helicopters: append([]Helicopter(nil), m.helicopters...),
		Helipads:    append([]Helipad(nil), m.helipads...),
	}
}

func (m *Manager) Restore(s State) {
	m.frame = s.Frame
	m.elapsed = s.Elapsed
	m.env.Now = s.Elapsed
	m.cars = append(m.cars[:0], s.Cars...)
	m.helicopters = append(m.helicopters[:0], s.Helicopters...)
	m.helipads = append(m.helipads[:0], s.Helipads...)
	m.carDestroyed = false
	for i := range m.cars {
		if m.cars[i].Destroyed {
			m.carDestroyed = true
			break
		}
	}
	m.ahead = m.ahead.reset(0)
	m.rebuildBlocks()
	m.log.WithFields(logrus.Fields{
		"frame":       s.Frame,
		"cars":        len(s.Cars),
		"helicopters": len(s.Helicopters),
	}).Info("restored traffic state")
}
