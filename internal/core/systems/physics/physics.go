package physics

import "math"

// Epsilon is the length under which a vector is treated as zero.
const Epsilon = 1e-9

// Vec3 is the concrete 3D vector used across the rail packages.
type Vec3 struct {
	Xv float64 `json:"x" yaml:"x"`
	Yv float64 `json:"y" yaml:"y"`
	Zv float64 `json:"z" yaml:"z"`
}

var Zero = Vec3{}

func V3(x, y, z float64) Vec3 { return Vec3{Xv: x, Yv: y, Zv: z} }

// FromVector copies any Vector3 into a Vec3.
func FromVector(v Vector3) Vec3 {
	if vv, ok := v.(Vec3); ok {
		return vv
	}
	return Vec3{Xv: v.X(), Yv: v.Y(), Zv: v.Z()}
}

func (v Vec3) X() float64 { return v.Xv }
func (v Vec3) Y() float64 { return v.Yv }
func (v Vec3) Z() float64 { return v.Zv }

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.Xv + o.Xv, v.Yv + o.Yv, v.Zv + o.Zv} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.Xv - o.Xv, v.Yv - o.Yv, v.Zv - o.Zv} }
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v.Xv * s, v.Yv * s, v.Zv * s}
}
func (v Vec3) Dot(o Vec3) float64 { return v.Xv*o.Xv + v.Yv*o.Yv + v.Zv*o.Zv }
func (v Vec3) Length() float64    { return math.Sqrt(v.Dot(v)) }

// Unit returns v scaled to length 1, or Zero when v has no length.
func (v Vec3) Unit() Vec3 {
	l := v.Length()
	if l < Epsilon {
		return Zero
	}
	return v.Scale(1 / l)
}

// Lerp interpolates between v (t=0) and o (t=1). t is not clamped.
func (v Vec3) Lerp(o Vec3, t float64) Vec3 {
	return v.Add(o.Sub(v).Scale(t))
}

// ApproxEqual reports whether every component differs by at most tol.
func (v Vec3) ApproxEqual(o Vec3, tol float64) bool {
	return math.Abs(v.Xv-o.Xv) <= tol && math.Abs(v.Yv-o.Yv) <= tol && math.Abs(v.Zv-o.Zv) <= tol
}

// Distance3 computes Euclidean distance between two 3D points.
func Distance3(a, b Vector3) float64 {
	return math.Sqrt(sq(b.X()-a.X()) + sq(b.Y()-a.Y()) + sq(b.Z()-a.Z()))
}

// Kinematic is a Body built from a position and a velocity.
type Kinematic struct {
	Pos Vec3 `json:"position" yaml:"position"`
	Vel Vec3 `json:"velocity" yaml:"velocity"`
}

var _ Body = Kinematic{}

func (k Kinematic) X() float64     { return k.Pos.Xv }
func (k Kinematic) Y() float64     { return k.Pos.Yv }
func (k Kinematic) Z() float64     { return k.Pos.Zv }
func (k Kinematic) Velocity() Vec3 { return k.Vel }

// IsFinite reports whether every component is neither NaN nor infinite.
func (v Vec3) IsFinite() bool {
	return Finite(v.Xv) && Finite(v.Yv) && Finite(v.Zv)
}

// Finite reports whether f is neither NaN nor infinite.
func Finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// Clamp01 limits t to [0, 1].
func Clamp01(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

func sq(f float64) float64 { return f * f }
