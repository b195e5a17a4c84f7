package physics

// Lightweight physics abstractions for 3D vectors and moving bodies.
// Rails and grinders share these shapes so callers can pass their own
// vector types without conversion.

// Vector3 represents a 3D vector.
type Vector3 interface {
	X() float64
	Y() float64
	Z() float64
}

// Body is a point that also reports how fast it is moving.
type Body interface {
	Vector3
	Velocity() Vec3
}
