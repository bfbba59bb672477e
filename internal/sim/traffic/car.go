package traffic

import (
	"fmt"
	"math"
	"strings"

	"github.com/samber/lo"

	"citytraffic.ai/internal/sim/geom"
	"citytraffic.ai/internal/sim/tuning"
)

const (
	// ConnectorCity is the pseudo-city that holds every inter-city connector road.
	ConnectorCity uint32 = math.MaxUint32 - 1
	// NoCity marks cars that belong to no road network (garage cars).
	NoCity uint32 = math.MaxUint32
)

type RoadType uint8

const (
	RoadSegment RoadType = iota
	RoadIntersection
	RoadConnector
	RoadParking
	RoadBuilding
)

func (t RoadType) String() string {
	switch t {
	case RoadSegment:
		return "segment"
	case RoadIntersection:
		return "isec"
	case RoadConnector:
		return "connector"
	case RoadParking:
		return "parking"
	case RoadBuilding:
		return "building"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

type TurnDir uint8

const (
	TurnNone TurnDir = iota
	TurnLeft
	TurnRight
)

func (t TurnDir) String() string {
	switch t {
	case TurnLeft:
		return "left"
	case TurnRight:
		return "right"
	default:
		return "none"
	}
}

// Env is what car helpers need from the current frame: the traffic constants,
// the number of ticks advanced this frame and the simulated clock in seconds.
type Env struct {
	Cfg    *tuning.TrafficTuning
	Fticks float64
	Now    float64
}

// Car is one ground vehicle. Dim is the travel axis (0 = x, 1 = y) and Dir is
// true when travelling towards +Dim. BCube[Dim] always spans exactly the car
// length; moving a car only translates it.
//
// Cars are referenced by index into the manager's array, and indices are only
// valid until the next sort.
type Car struct {
	CurCity  uint32
	CurRoad  uint32
	CurSeg   uint32
	RoadType RoadType

	BCube     geom.Cube
	PrevBCube geom.Cube
	Dim       int
	Dir       bool
	DZ        float64
	RotZ      float64
	TurnVal   float64

	CurSpeed float64
	MaxSpeed float64

	Destroyed       bool
	StoppedAtLight  bool
	DestValid       bool
	EnteringCity    bool
	InTunnel        bool
	TurnDir         TurnDir
	TurnDone        bool
	FrontCarTurnDir TurnDir

	WaitingPos   float64
	WaitingStart float64

	ColorID uint8
	ModelID uint8
	Height  float64
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func dirSign(dir bool) float64 {
	if dir {
		return 1
	}
	return -1
}

func (c *Car) Length() float64 { return c.BCube.Size(c.Dim) }
func (c *Car) Width() float64 { return c.BCube.Size(1 - c.Dim) }
func (c *Car) Center() geom.Vec3 { return c.BCube.Center() }
func (c *Car) Orient() int { return 2*c.Dim + b2i(c.Dir) }
func (c *Car) FrontPos() float64 { return c.BCube[c.Dim][b2i(c.Dir)] }
func (c *Car) BackPos() float64 { return c.BCube[c.Dim][b2i(!c.Dir)] }
func (c *Car) IsParked() bool { return c.MaxSpeed == 0 }
func (c *Car) IsStopped() bool { return c.CurSpeed == 0 }
func (c *Car) InIsect() bool { return c.RoadType == RoadIntersection }
func (c *Car) InGarage() bool { return c.RoadType == RoadBuilding }
func (c *Car) OnConnector() bool { return c.CurCity == ConnectorCity }
func (c *Car) OnRoadSegment() bool { return c.RoadType == RoadSegment }

func (c *Car) IsAlmostStopped() bool { return c.CurSpeed < 0.1*c.MaxSpeed }

// Front returns the point dval car lengths ahead of the center along the travel axis.
func (c *Car) Front(dval float64) geom.Vec3 {
	p := c.Center()
	p[c.Dim] += dirSign(c.Dir) * dval * c.Length()
	return p
}

// FrontIntersects reports whether the front-middle or the very front of c is inside o.
func (c *Car) FrontIntersects(o *Car) bool {
	return o.BCube.ContainsPt(c.Front(0.25)) || o.BCube.ContainsPt(c.Front(0.5))
}

// LookaheadDist is one car length plus one road width.
func (c *Car) LookaheadDist(roadWidth float64) float64 { return c.Length() + roadWidth }

// TurnRotZ maps the distance left to the turn point onto a yaw progress in [0, 1].
func (c *Car) TurnRotZ(distToTurn, roadWidth float64) float64 {
	return 1 - geom.Clamp01(4*math.Abs(distToTurn)/roadWidth)
}

func (c *Car) MaxAllowedSpeed(env *Env) float64 {
	if c.OnConnector() {
		return env.Cfg.ConnectorSpeedMult * c.MaxSpeed
	}
	return c.MaxSpeed
}

func (c *Car) AccelerateBy(mult float64, env *Env) {
	c.CurSpeed = math.Min(c.MaxAllowedSpeed(env), c.CurSpeed+mult*env.Fticks*c.MaxSpeed)
}

func (c *Car) DecelerateBy(mult float64, env *Env) {
	c.CurSpeed = math.Max(0, c.CurSpeed-mult*env.Fticks*c.MaxSpeed)
}

func (c *Car) Accelerate(env *Env) { c.AccelerateBy(env.Cfg.AccelRate, env) }
func (c *Car) Decelerate(env *Env) { c.DecelerateBy(env.Cfg.DecelRate, env) }
func (c *Car) DecelerateFast(env *Env) { c.DecelerateBy(env.Cfg.FastDecelMult*env.Cfg.DecelRate, env) }

// Move advances the car along its travel axis. Parked, destroyed, stopped and
// light-stopped cars only get their previous pose recorded.
func (c *Car) Move(speedMult float64, env *Env) {
	c.PrevBCube = c.BCube
	if c.Destroyed || c.StoppedAtLight || c.IsStopped() {
		return
	}
	if !(speedMult >= 0 && c.CurSpeed > 0 && c.CurSpeed <= env.Cfg.ConnectorSpeedMult*c.MaxSpeed) {
		panic(fmt.Sprintf("traffic: invalid move speed_mult=%v on %s", speedMult, c))
	}
	dist := c.CurSpeed * speedMult
	if c.DZ != 0 {
		// faster downhill, slower uphill
		dist *= lo.Clamp(1-0.5*c.DZ/c.Length(), 0.75, 1.25)
	}
	dist = math.Min(dist, 0.25*env.Cfg.RoadWidth)
	c.MoveBy(dirSign(c.Dir) * dist)

	cur := c.FrontPos()
	if math.Abs(cur-c.WaitingPos) > c.Length() {
		c.WaitingPos = cur
		c.WaitingStart = env.Now
	}
}

// MoveBy shifts the car along its travel axis by a signed distance.
func (c *Car) MoveBy(d float64) {
	c.BCube[c.Dim][0] += d
	c.BCube[c.Dim][1] += d
}

func (c *Car) WaitSecs(now float64) float64 { return now - c.WaitingStart }

// Park zeroes both speeds; a car with no max speed is parked for good.
func (c *Car) Park() {
	c.CurSpeed = 0
	c.MaxSpeed = 0
	c.StoppedAtLight = false
	c.TurnDir = TurnNone
}

// Destroy parks the car and flags it for removal at the start of the next frame.
func (c *Car) Destroy() {
	c.Park()
	c.Destroyed = true
}

// ApplyScale grows the footprint about its center and the height from the ground up.
func (c *Car) ApplyScale(scale float64) {
	if scale == 1 {
		return
	}
	prev := c.Height
	c.Height *= scale
	pos := c.Center()
	c.BCube[2][1] += c.Height - prev
	for d := 0; d < 2; d++ {
		half := c.BCube[d][1] - pos[d]
		c.BCube[d][0] = pos[d] - scale*half
		c.BCube[d][1] = pos[d] + scale*half
	}
}

const headlightOnRand = 0.05

// HeadlightsOn is jittered per car so that not every car switches at the same light level.
func (c *Car) HeadlightsOn(lightFactor float64) bool {
	if c.IsParked() {
		return false
	}
	return c.InTunnel || lightFactor < 0.5+headlightOnRand*signedRandHash(c.Height+c.MaxSpeed)
}

func (c *Car) BrakeLightsOn() bool { return c.IsAlmostStopped() || c.StoppedAtLight }

// TurnSignalOn is false on connector roads, whose bends are not real turns.
func (c *Car) TurnSignalOn() bool { return c.TurnDir != TurnNone && c.CurCity != ConnectorCity }

func signedRandHash(v float64) float64 {
	s := math.Sin(v*12.9898) * 43758.5453
	return 2*(s-math.Floor(s)) - 1
}

func (c *Car) String() string {
	return fmt.Sprintf("Car dim=%d dir=%t city=%d road=%d seg=%d dz=%.3f max_speed=%.3f cur_speed=%.3f type=%s color=%d bcube=%v",
		c.Dim, c.Dir, c.CurCity, c.CurRoad, c.CurSeg, c.DZ, c.MaxSpeed, c.CurSpeed, c.RoadType, c.ColorID, c.BCube)
}

// Label is the multi-line debug text shown when picking a car.
func (c *Car) Label(now float64, carsInFront int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "dim=%d dir=%t\n", c.Dim, c.Dir)
	fmt.Fprintf(&b, "city=%d road=%d seg=%d\n", c.CurCity, c.CurRoad, c.CurSeg)
	fmt.Fprintf(&b, "dz=%.3f turn_val=%.3f\n", c.DZ, c.TurnVal)
	fmt.Fprintf(&b, "max_speed=%.3f cur_speed=%.3f\n", c.MaxSpeed, c.CurSpeed)
	fmt.Fprintf(&b, "wait_time=%.1f\n", c.WaitSecs(now))
	fmt.Fprintf(&b, "road_type=%s\n", c.RoadType)
	fmt.Fprintf(&b, "stopped_at_light=%t in_isect=%t cars_in_front=%d\n", c.StoppedAtLight, c.InIsect(), carsInFront)
	fmt.Fprintf(&b, "turn_dir=%s dest_valid=%t\n", c.TurnDir, c.DestValid)
	return b.String()
}
