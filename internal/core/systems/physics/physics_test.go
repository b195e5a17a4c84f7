package physics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVec3Arithmetic(t *testing.T) {
	a := V3(1, 2, 3)
	b := V3(4, 6, 3)

	assert.Equal(t, V3(5, 8, 6), a.Add(b))
	assert.Equal(t, V3(3, 4, 0), b.Sub(a))
	assert.Equal(t, V3(2, 4, 6), a.Scale(2))
	assert.InDelta(t, 5.0, b.Sub(a).Length(), 1e-12)
	assert.InDelta(t, 5.0, Distance3(a, b), 1e-12)
}

func TestLerpEndpoints(t *testing.T) {
	a := V3(-1, 0, 2)
	b := V3(3, 8, -2)

	assert.Equal(t, a, a.Lerp(b, 0))
	assert.Equal(t, b, a.Lerp(b, 1))
	assert.True(t, V3(1, 4, 0).ApproxEqual(a.Lerp(b, 0.5), 1e-12))
}

func TestUnitOfZeroIsZero(t *testing.T) {
	assert.Equal(t, Zero, Zero.Unit())
	assert.InDelta(t, 1.0, V3(0, 3, 4).Unit().Length(), 1e-12)
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-0.5))
	assert.Equal(t, 0.25, Clamp01(0.25))
	assert.Equal(t, 1.0, Clamp01(7))
}

func TestKinematicIsBody(t *testing.T) {
	var b Body = Kinematic{Pos: V3(1, 2, 3), Vel: V3(0, 0, -4)}
	assert.Equal(t, V3(1, 2, 3), FromVector(b))
	assert.Equal(t, V3(0, 0, -4), b.Velocity())
	assert.InDelta(t, 13.0, Distance3(V3(0, 0, 0), V3(3, 4, 12)), 1e-12)
}

func TestIsFinite(t *testing.T) {
	assert.True(t, V3(1, -2, 3).IsFinite())
	assert.False(t, V3(math.NaN(), 0, 0).IsFinite())
	assert.False(t, V3(0, math.Inf(-1), 0).IsFinite())
}
