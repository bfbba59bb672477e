package roadnet

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/samber/lo"

	"citytraffic.ai/internal/sim/traffic"
)

// UpdateCar runs the road logic for moving car i once collisions have been
// resolved: turn choice, stoplights, entering and leaving intersections.
func (n *Network) UpdateCar(f *traffic.Frame, i int) {
	c := f.Car(i)
	switch c.RoadType {
	case traffic.RoadSegment, traffic.RoadConnector:
		n.updateApproach(f, i, c)
	case traffic.RoadIntersection:
		n.updateInIsec(f, i, c)
	default:
		f.MaybeAccelerate(i)
	}
}

func (n *Network) updateApproach(f *traffic.Frame, i int, c *traffic.Car) {
	x := n.nextIsec(c)
	if x == nil {
		f.MaybeAccelerate(i)
		return
	}
	if !c.DestValid {
		n.chooseTurn(f.Rand(), c, x)
	}
	n.avoidFrontCarTurn(f, i, c, x)

	sign := dirSign(c.Dir)
	d := b2i(c.Dir)
	edge := x.BCube[c.Dim][1-d]
	stop := edge - sign*n.crosswalkWidth()
	distStop := (stop - c.FrontPos()) * sign

	if c.StoppedAtLight {
		if n.mayGo(f, i, c, x) {
			c.StoppedAtLight = false
			f.MaybeAccelerate(i)
		}
		return
	}
	if (edge-c.FrontPos())*sign <= 0 {
		n.enterIsec(c, x)
		f.MaybeAccelerate(i)
		return
	}
	if distStop < 2*c.Length() && !n.mayGo(f, i, c, x) {
		prevDist := (stop - c.PrevBCube[c.Dim][d]) * sign
		switch {
		case distStop <= 0 && prevDist >= 0:
			// crossed the line this frame: put the front back on it
			c.MoveBy(sign * distStop)
			c.CurSpeed = 0
			c.StoppedAtLight = true
			return
		case distStop > 0:
			if c.IsAlmostStopped() {
				// creep up to the line
				f.MaybeAccelerate(i)
			} else {
				c.Decelerate(f.Env())
			}
			return
		}
		// already past the line when the light changed: clear the intersection
	}
	f.MaybeAccelerate(i)
}

// mayGo reports whether the light is green, the intersection is clear of
// stuck cross traffic, and the queue ahead fits past the intersection.
func (n *Network) mayGo(f *traffic.Frame, i int, c *traffic.Car, x *Intersection) bool {
	if !n.canEnter(x, c.Dim) {
		return false
	}
	dim, dir := turnTo(c.Dim, c.Dir, c.TurnDir)
	e, ok := n.exitFor(x, dim, dir)
	if !ok {
		return false
	}
	exit := n.exitBounds(e)
	need := f.SumLenSpaceInFront(i, x.BCube.Union(exit))
	return need <= exit.Size(dim)+x.BCube.Size(c.Dim)
}

func (n *Network) enterIsec(c *traffic.Car, x *Intersection) {
	if c.RoadType == traffic.RoadConnector {
		c.CurCity = x.City
		c.CurRoad = n.roadOf(0, x.I, x.J)
		c.EnteringCity = true
	}
	c.RoadType = traffic.RoadIntersection
	c.CurSeg = uint32(along(c.Dim, x.I, x.J))
	c.TurnDone = false
	c.TurnVal = 0
}

func (n *Network) updateInIsec(f *traffic.Frame, i int, c *traffic.Car) {
	x := n.carIsec(c)
	if x == nil {
		f.MaybeAccelerate(i)
		return
	}
	turning := c.TurnDir != traffic.TurnNone && !c.TurnDone
	if turning {
		nd, ns := turnTo(c.Dim, c.Dir, c.TurnDir)
		target := n.laneCoord(x, nd, ns)
		dist := (target - c.Center()[c.Dim]) * dirSign(c.Dir)
		c.TurnVal = c.TurnRotZ(dist, n.rw())
		yaw := 0.25 * math.Pi * c.TurnVal
		if c.TurnDir == traffic.TurnRight {
			yaw = -yaw
		}
		c.RotZ = yaw
		if dist <= 0 {
			n.snapTurn(c, x, nd, ns, target)
			turning = false
		}
	}
	if !turning && (c.FrontPos()-x.BCube[c.Dim][b2i(c.Dir)])*dirSign(c.Dir) > 0 {
		n.exitIsec(f, i, c, x)
		return
	}
	if c.TurnDir != traffic.TurnNone && c.CurSpeed > 0.5*c.MaxSpeed {
		c.Decelerate(f.Env())
		return
	}
	f.MaybeAccelerate(i)
}

// snapTurn rotates a car onto its new lane once its center reaches it.
func (n *Network) snapTurn(c *traffic.Car, x *Intersection, dim int, dir bool, target float64) {
	p := c.Center()
	p[c.Dim] = target
	p[2] = c.BCube.Z1()
	length, width := c.Length(), c.Width()
	bc := c.BCube
	bc[dim] = [2]float64{p[dim] - 0.5*length, p[dim] + 0.5*length}
	bc[1-dim] = [2]float64{p[1-dim] - 0.5*width, p[1-dim] + 0.5*width}
	c.BCube = bc
	c.Dim, c.Dir = dim, dir
	c.CurRoad = n.roadOf(dim, x.I, x.J)
	c.CurSeg = uint32(along(dim, x.I, x.J))
	c.TurnDone = true
	c.TurnVal = 0
	c.RotZ = 0
}

func (n *Network) exitIsec(f *traffic.Frame, i int, c *traffic.Car, x *Intersection) {
	e, ok := n.exitFor(x, c.Dim, c.Dir)
	if !ok {
		panic(fmt.Sprintf("roadnet: no exit from intersection (%d,%d) of city %d for %s", x.I, x.J, x.City, c))
	}
	c.CurCity, c.CurRoad, c.CurSeg = e.City, e.Road, e.Seg
	if e.City == traffic.ConnectorCity {
		c.RoadType = traffic.RoadConnector
	} else {
		c.RoadType = traffic.RoadSegment
	}
	c.EnteringCity = false
	c.TurnDir = traffic.TurnNone
	c.TurnDone = false
	c.TurnVal = 0
	c.RotZ = 0
	n.chooseTurn(f.Rand(), c, n.nextIsec(c))
	f.MaybeAccelerate(i)
}

// chooseTurn commits the car to a random turn with an exit at x.
func (n *Network) chooseTurn(rng *rand.Rand, c *traffic.Car, x *Intersection) {
	opts := n.validTurns(x, c.Dim, c.Dir)
	c.TurnDir = opts[rng.IntN(len(opts))]
	c.TurnDone = false
	c.DestValid = true
	c.FrontCarTurnDir = traffic.TurnNone
}

// avoidFrontCarTurn switches to another turn when the slower car in front
// turns the same way.
func (n *Network) avoidFrontCarTurn(f *traffic.Frame, i int, c *traffic.Car, x *Intersection) {
	front := c.FrontCarTurnDir
	c.FrontCarTurnDir = traffic.TurnNone
	if front == traffic.TurnNone || front != c.TurnDir {
		return
	}
	opts := lo.Reject(n.validTurns(x, c.Dim, c.Dir), func(t traffic.TurnDir, _ int) bool { return t == c.TurnDir })
	if len(opts) == 0 {
		return
	}
	c.TurnDir = opts[f.Rand().IntN(len(opts))]
	f.OnAlternateTurnDir(i)
}
