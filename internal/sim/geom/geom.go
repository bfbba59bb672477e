package geom

import "math"

// Vec3 is a point or direction in simulation space. Index 0/1 are the ground
// plane axes (x, y), index 2 is up.
type Vec3 [3]float64

func V(x, y, z float64) Vec3 { return Vec3{x, y, z} }

func (v Vec3) X() float64 { return v[0] }
func (v Vec3) Y() float64 { return v[1] }
func (v Vec3) Z() float64 { return v[2] }

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]} }
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v[0] * s, v[1] * s, v[2] * s} }
func (v Vec3) Dot(o Vec3) float64 { return v[0]*o[0] + v[1]*o[1] + v[2]*o[2] }
func (v Vec3) LenSq() float64 { return v.Dot(v) }
func (v Vec3) Len() float64 { return math.Sqrt(v.LenSq()) }
func (v Vec3) IsZero() bool { return v[0] == 0 && v[1] == 0 && v[2] == 0 }
func (v Vec3) XY() Vec3 { return Vec3{v[0], v[1], 0} }
func (v Vec3) Lerp(o Vec3, t float64) Vec3 { return v.Scale(1 - t).Add(o.Scale(t)) }

// Norm returns the unit vector, or the zero vector for zero input.
func (v Vec3) Norm() Vec3 {
	l := v.Len()
	if l == 0 {
		return Vec3{}
	}
	return v.Scale(1 / l)
}

func Dist(a, b Vec3) float64 { return a.Sub(b).Len() }
func DistSq(a, b Vec3) float64 { return a.Sub(b).LenSq() }
func DistXYSq(a, b Vec3) float64 { dx, dy := a[0]-b[0], a[1]-b[1]; return dx*dx + dy*dy }

func DistLessThan(a, b Vec3, d float64) bool { return DistSq(a, b) < d*d }
func DistXYLessThan(a, b Vec3, d float64) bool { return DistXYSq(a, b) < d*d }

// Clamp01 clips x to [0, 1].
func Clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// Cube is an axis-aligned box indexed as c[dim][0] (low edge) and c[dim][1] (high edge).
type Cube [3][2]float64

func CubeFromPoint(p Vec3) Cube {
	return Cube{{p[0], p[0]}, {p[1], p[1]}, {p[2], p[2]}}
}

func NewCube(x1, x2, y1, y2, z1, z2 float64) Cube {
	return Cube{{x1, x2}, {y1, y2}, {z1, z2}}
}

func (c Cube) X1() float64 { return c[0][0] }
func (c Cube) X2() float64 { return c[0][1] }
func (c Cube) Y1() float64 { return c[1][0] }
func (c Cube) Y2() float64 { return c[1][1] }
func (c Cube) Z1() float64 { return c[2][0] }
func (c Cube) Z2() float64 { return c[2][1] }

func (c Cube) Size(d int) float64 { return c[d][1] - c[d][0] }
func (c Cube) Dx() float64 { return c.Size(0) }
func (c Cube) Dy() float64 { return c.Size(1) }
func (c Cube) Dz() float64 { return c.Size(2) }

func (c Cube) Center() Vec3 {
	return Vec3{0.5 * (c[0][0] + c[0][1]), 0.5 * (c[1][0] + c[1][1]), 0.5 * (c[2][0] + c[2][1])}
}

func (c Cube) IsAllZeros() bool { return c == Cube{} }

func (c Cube) Translate(v Vec3) Cube {
	for d := 0; d < 3; d++ {
		c[d][0] += v[d]
		c[d][1] += v[d]
	}
	return c
}

func (c Cube) ExpandBy(s float64) Cube {
	for d := 0; d < 3; d++ {
		c[d][0] -= s
		c[d][1] += s
	}
	return c
}

func (c Cube) ExpandByVec(v Vec3) Cube {
	for d := 0; d < 3; d++ {
		c[d][0] -= v[d]
		c[d][1] += v[d]
	}
	return c
}

func (c Cube) ExpandByXY(s float64) Cube {
	for d := 0; d < 2; d++ {
		c[d][0] -= s
		c[d][1] += s
	}
	return c
}

func (c Cube) Union(o Cube) Cube {
	for d := 0; d < 3; d++ {
		c[d][0] = math.Min(c[d][0], o[d][0])
		c[d][1] = math.Max(c[d][1], o[d][1])
	}
	return c
}

// UnionOrAssign unions o into c, or assigns it when c is still the zero cube.
func (c Cube) UnionOrAssign(o Cube) Cube {
	if c.IsAllZeros() {
		return o
	}
	return c.Union(o)
}

func (c Cube) Intersects(o Cube) bool {
	return c.IntersectsXY(o) && c[2][0] <= o[2][1] && c[2][1] >= o[2][0]
}

// IntersectsXY includes touching edges.
func (c Cube) IntersectsXY(o Cube) bool {
	return c[0][0] <= o[0][1] && c[0][1] >= o[0][0] && c[1][0] <= o[1][1] && c[1][1] >= o[1][0]
}

// IntersectsXYNoAdj excludes boxes that only share an edge.
func (c Cube) IntersectsXYNoAdj(o Cube) bool {
	return c[0][0] < o[0][1] && c[0][1] > o[0][0] && c[1][0] < o[1][1] && c[1][1] > o[1][0]
}

func (c Cube) ContainsPt(p Vec3) bool {
	return c.ContainsPtXY(p) && p[2] >= c[2][0] && p[2] <= c[2][1]
}

func (c Cube) ContainsPtXY(p Vec3) bool {
	return p[0] >= c[0][0] && p[0] <= c[0][1] && p[1] >= c[1][0] && p[1] <= c[1][1]
}

// ContainsPtXYExp tests p against c grown by r in x and y.
func (c Cube) ContainsPtXYExp(p Vec3, r float64) bool {
	return p[0] >= c[0][0]-r && p[0] <= c[0][1]+r && p[1] >= c[1][0]-r && p[1] <= c[1][1]+r
}

func (c Cube) ContainsCube(o Cube) bool {
	return c.ContainsCubeXY(o) && o[2][0] >= c[2][0] && o[2][1] <= c[2][1]
}

func (c Cube) ContainsCubeXY(o Cube) bool {
	return o[0][0] >= c[0][0] && o[0][1] <= c[0][1] && o[1][0] >= c[1][0] && o[1][1] <= c[1][1]
}

func (c Cube) XYBSphereRadius() float64 {
	return 0.5 * math.Hypot(c.Dx(), c.Dy())
}

// SphereIntersectsXY tests a circle in the ground plane against the box footprint.
func (c Cube) SphereIntersectsXY(center Vec3, r float64) bool {
	dsq := 0.0
	for d := 0; d < 2; d++ {
		if center[d] < c[d][0] {
			v := c[d][0] - center[d]
			dsq += v * v
		} else if center[d] > c[d][1] {
			v := center[d] - c[d][1]
			dsq += v * v
		}
	}
	return dsq <= r*r
}

// ClipLine clips segment p1->p2 against the box (slab test) and returns the
// entry and exit parameters in [0, 1].
func (c Cube) ClipLine(p1, p2 Vec3) (tmin, tmax float64, ok bool) {
	tmin, tmax = 0, 1
	dir := p2.Sub(p1)
	for d := 0; d < 3; d++ {
		if dir[d] == 0 {
			if p1[d] < c[d][0] || p1[d] > c[d][1] {
				return 0, 0, false
			}
			continue
		}
		inv := 1 / dir[d]
		t1 := (c[d][0] - p1[d]) * inv
		t2 := (c[d][1] - p1[d]) * inv
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tmin = math.Max(tmin, t1)
		tmax = math.Min(tmax, t2)
		if tmin > tmax {
			return 0, 0, false
		}
	}
	return tmin, tmax, true
}

func (c Cube) LineIntersects(p1, p2 Vec3) bool {
	_, _, ok := c.ClipLine(p1, p2)
	return ok
}

// ClipLineUpdateT lowers *t to the entry parameter of p1->p2 into c when that
// entry comes before the current *t.
func (c Cube) ClipLineUpdateT(p1, p2 Vec3, t *float64) bool {
	tmin, _, ok := c.ClipLine(p1, p2)
	if !ok || tmin >= *t {
		return false
	}
	*t = tmin
	return true
}

// SpherePushOut resolves a sphere at pos with radius r against c. When they
// overlap, pos is moved to the nearest face along the axis of least
// penetration (preferring the side the sphere came from, pLast), and the
// face normal is returned.
func (c Cube) SpherePushOut(pos *Vec3, pLast Vec3, r float64) (Vec3, bool) {
	ext := c.ExpandBy(r)
	if !ext.ContainsPt(*pos) {
		return Vec3{}, false
	}
	bestD, bestDir, bestDist := -1, 0, math.MaxFloat64
	for d := 0; d < 3; d++ {
		for dir := 0; dir < 2; dir++ {
			dist := math.Abs(pos[d] - ext[d][dir])
			if (dir == 0 && pLast[d] <= ext[d][0]) || (dir == 1 && pLast[d] >= ext[d][1]) {
				dist *= 0.5 // favor the face we entered through
			}
			if dist < bestDist {
				bestD, bestDir, bestDist = d, dir, dist
			}
		}
	}
	pos[bestD] = ext[bestD][bestDir]
	var n Vec3
	if bestDir == 1 {
		n[bestD] = 1
	} else {
		n[bestD] = -1
	}
	return n, true
}
