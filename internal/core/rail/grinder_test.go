package rail

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/railgrind/internal/core/events/bus"
	"github.com/zeusync/railgrind/internal/core/heartbeat"
	"github.com/zeusync/railgrind/internal/core/observability/log"
	"github.com/zeusync/railgrind/internal/core/systems/physics"
)

type recorder struct {
	kinds     []string
	positions []physics.Vec3
	segments  []string
	completed int
}

func record(t *testing.T, g *Grinder) *recorder {
	t.Helper()
	r := &recorder{}
	for _, kind := range []string{EventSegmentChanged, EventPositionChanged, EventCompleted} {
		_, err := g.Events().SubscribeTopic(g.Topic(), kind, func(e bus.Event) error {
			ge := e.(*GrinderEvent)
			r.kinds = append(r.kinds, ge.Kind)
			switch ge.Kind {
			case EventPositionChanged:
				r.positions = append(r.positions, ge.State.Position)
			case EventSegmentChanged:
				r.segments = append(r.segments, ge.Segment.ID)
			case EventCompleted:
				r.completed++
			}
			return nil
		})
		require.NoError(t, err)
	}
	return r
}

func newTestGrinder(opts ...Option) *Grinder {
	return NewGrinder(append([]Option{WithID("g1"), WithLogger(log.NewNop())}, opts...)...)
}

func TestAlphaAdvancesBySpeedOverLength(t *testing.T) {
	a := seg("a", 0, 0, 0, 10, 0, 0)
	g := newTestGrinder(WithSpeed(2))
	require.NoError(t, g.Enable(a, nil))

	g.Update(1.5)

	assert.InDelta(t, 2*1.5/10, g.Alpha(), 1e-12)
	assert.True(t, physics.V3(3, 0, 0).ApproxEqual(g.Position(), 1e-9))
	assert.True(t, g.Enabled())

	g.Update(0.5)
	assert.InDelta(t, 0.4, g.Alpha(), 1e-12)
}

func TestPositionAtBoundaries(t *testing.T) {
	a := seg("a", 1, 2, 3, 4, 6, 3)
	g := newTestGrinder(WithSpeed(5))
	require.NoError(t, g.Enable(a, nil))
	assert.Equal(t, a.Start, g.Position())
	assert.Equal(t, 0.0, g.Alpha())

	// exactly reaching End stays on the segment
	g.Update(1)
	assert.InDelta(t, 1.0, g.Alpha(), 1e-12)
	assert.True(t, a.End.ApproxEqual(g.Position(), 1e-9))
	assert.True(t, g.Enabled())
}

func TestEnableEmitsSegmentThenPosition(t *testing.T) {
	a := seg("a", 0, 0, 0, 10, 0, 0)
	g := newTestGrinder(WithSpeed(1))
	r := record(t, g)

	require.NoError(t, g.Enable(a, nil))
	assert.Equal(t, []string{EventSegmentChanged, EventPositionChanged}, r.kinds)
	assert.Equal(t, []string{"a"}, r.segments)
}

func TestEnableIsIdempotent(t *testing.T) {
	a := seg("a", 0, 0, 0, 10, 0, 0)
	b := seg("b", 5, 5, 5, 6, 5, 5)
	g := newTestGrinder(WithSpeed(1))
	require.NoError(t, g.Enable(a, nil))
	r := record(t, g)

	require.NoError(t, g.Enable(b, physics.V3(6, 5, 5)))
	assert.Equal(t, "a", g.CurrentSegment().ID)
	assert.Empty(t, r.kinds)
}

func TestEnableRejectsNilSegment(t *testing.T) {
	g := newTestGrinder()
	assert.ErrorIs(t, g.Enable(nil, nil), ErrNilSegment)
	assert.False(t, g.Enabled())
}

func TestEnableProjectsVessel(t *testing.T) {
	a := seg("a", 0, 0, 0, 10, 0, 0)
	g := newTestGrinder()
	require.NoError(t, g.Enable(a, physics.V3(7.5, 3, -2)))

	assert.InDelta(t, 0.75, g.Alpha(), 1e-12)
	assert.True(t, physics.V3(7.5, 0, 0).ApproxEqual(g.Position(), 1e-9))
	assert.InDelta(t, 10.0, g.SegmentLength(), 1e-12)
}

func TestVelocityFollowsSegmentAndSpeed(t *testing.T) {
	a := seg("a", 0, 0, 0, 0, 0, 4)
	g := newTestGrinder(WithSpeed(3))
	require.NoError(t, g.Enable(a, nil))
	assert.True(t, physics.V3(0, 0, 3).ApproxEqual(g.Velocity(), 1e-12))

	g.SetSpeed(-2)
	assert.Equal(t, -2.0, g.Speed())
	assert.True(t, physics.V3(0, 0, -2).ApproxEqual(g.Velocity(), 1e-12))

	g.SetSpeed(0)
	g.Update(10)
	assert.Equal(t, 0.0, g.Alpha())
}

func TestOverflowCarriesIntoNextSegment(t *testing.T) {
	a := seg("a", 0, 0, 0, 10, 0, 0)
	b := seg("b", 10, 0, 0, 10, 0, 20)
	var directions []int
	g := newTestGrinder(WithSpeed(4), WithResolver(func(dir int, cur *Segment) *Segment {
		directions = append(directions, dir)
		if cur == a && dir > 0 {
			return b
		}
		return nil
	}))
	require.NoError(t, g.Enable(a, physics.V3(9, 0, 0)))
	r := record(t, g)

	g.Update(1)

	assert.Equal(t, []int{1}, directions)
	assert.Equal(t, "b", g.CurrentSegment().ID)
	assert.InDelta(t, 0.15, g.Alpha(), 1e-12)
	assert.True(t, physics.V3(10, 0, 3).ApproxEqual(g.Position(), 1e-9))
	assert.True(t, physics.V3(0, 0, 4).ApproxEqual(g.Velocity(), 1e-12))
	assert.InDelta(t, 20.0, g.SegmentLength(), 1e-12)
	assert.Equal(t, []string{EventSegmentChanged, EventPositionChanged}, r.kinds)
	assert.Equal(t, []string{"b"}, r.segments)
}

func TestUnderflowEntersPreviousAtEnd(t *testing.T) {
	a := seg("a", 0, 0, 0, 10, 0, 0)
	b := seg("b", 10, 0, 0, 10, 0, 20)
	g := newTestGrinder(WithSpeed(-4), WithResolver(func(dir int, cur *Segment) *Segment {
		if cur == b && dir < 0 {
			return a
		}
		return nil
	}))
	require.NoError(t, g.Enable(b, physics.V3(10, 0, 1)))

	g.Update(1)

	assert.Equal(t, "a", g.CurrentSegment().ID)
	assert.InDelta(t, 0.7, g.Alpha(), 1e-12)
	assert.True(t, physics.V3(7, 0, 0).ApproxEqual(g.Position(), 1e-9))
	assert.True(t, physics.V3(-4, 0, 0).ApproxEqual(g.Velocity(), 1e-12))
}

func TestLargeStepCrossesSeveralSegments(t *testing.T) {
	tr := NewTrack("line")
	require.NoError(t, tr.Add(
		seg("a", 0, 0, 0, 1, 0, 0),
		seg("b", 1, 0, 0, 2, 0, 0),
		seg("c", 2, 0, 0, 3, 0, 0),
	))
	tr.AutoLink(DefaultTolerance)

	g := newTestGrinder(WithSpeed(2.5), WithResolver(tr.Resolver(false)))
	require.NoError(t, g.Enable(tr.First(), nil))
	r := record(t, g)

	g.Update(1)

	assert.Equal(t, "c", g.CurrentSegment().ID)
	assert.InDelta(t, 0.5, g.Alpha(), 1e-9)
	assert.Equal(t, []string{"b", "c"}, r.segments)
	assert.Len(t, r.positions, 1)
}

func TestResolverReturningNilDisables(t *testing.T) {
	a := seg("a", 0, 0, 0, 10, 0, 0)
	g := newTestGrinder(WithSpeed(6))
	require.NoError(t, g.Enable(a, nil))
	r := record(t, g)

	g.Update(1)
	assert.True(t, g.Enabled())
	g.Update(1)

	assert.False(t, g.Enabled())
	assert.Equal(t, 1.0, g.Alpha())
	assert.Equal(t, a.End, g.Position())
	assert.Equal(t, 1, r.completed)
	assert.Equal(t, []string{EventPositionChanged, EventPositionChanged, EventCompleted}, r.kinds)
}

func TestResolverNilBackwardSnapsToStart(t *testing.T) {
	a := seg("a", 0, 0, 0, 10, 0, 0)
	g := newTestGrinder(WithSpeed(-6), WithResolver(func(int, *Segment) *Segment { return nil }))
	require.NoError(t, g.Enable(a, physics.V3(3, 0, 0)))

	g.Update(1)

	assert.False(t, g.Enabled())
	assert.Equal(t, 0.0, g.Alpha())
	assert.Equal(t, a.Start, g.Position())
}

func TestDisableFiresCompletedOnceAndHalts(t *testing.T) {
	a := seg("a", 0, 0, 0, 10, 0, 0)
	g := newTestGrinder(WithSpeed(1))
	require.NoError(t, g.Enable(a, nil))
	r := record(t, g)

	g.Disable()
	g.Disable()
	pos := g.Position()
	g.Update(3)

	assert.Equal(t, 1, r.completed)
	assert.Equal(t, []string{EventCompleted}, r.kinds)
	assert.Equal(t, pos, g.Position())
	assert.False(t, g.Enabled())
}

func TestDisableFromPositionHandler(t *testing.T) {
	a := seg("a", 0, 0, 0, 10, 0, 0)
	g := newTestGrinder(WithSpeed(1))
	require.NoError(t, g.Enable(a, nil))
	completed := 0
	_, err := g.OnCompleted(func() { completed++ })
	require.NoError(t, err)
	_, err = g.OnPositionChanged(func(p physics.Vec3) {
		if p.Xv >= 2 {
			g.Disable()
		}
	})
	require.NoError(t, err)

	g.Update(1)
	g.Update(1)
	g.Update(1)

	assert.Equal(t, 1, completed)
	assert.InDelta(t, 0.2, g.Alpha(), 1e-12)
}

func TestReenableAfterCompletion(t *testing.T) {
	a := seg("a", 0, 0, 0, 1, 0, 0)
	g := newTestGrinder(WithSpeed(5))
	require.NoError(t, g.Enable(a, nil))
	g.Update(1)
	require.False(t, g.Enabled())

	require.NoError(t, g.Enable(a, nil))
	assert.True(t, g.Enabled())
	assert.Equal(t, 0.0, g.Alpha())
}

func TestHopLimitStopsRunawayResolvers(t *testing.T) {
	point := seg("p", 1, 1, 1, 1, 1, 1)
	calls := 0
	g := newTestGrinder(WithSpeed(1), WithMaxHops(8), WithResolver(func(int, *Segment) *Segment {
		calls++
		return point
	}))
	require.NoError(t, g.Enable(point, nil))

	g.Update(1)

	assert.Equal(t, 8, calls)
	assert.True(t, g.Enabled())
	assert.Equal(t, point.Start, g.Position())
}

func TestHeartbeatDrivesGrinder(t *testing.T) {
	tr := square(t, true)
	hb := heartbeat.New()
	g := newTestGrinder(WithSpeed(10), WithHeartbeat(hb), WithResolver(tr.Resolver(false)))
	var segments []string
	_, err := g.OnSegmentChanged(func(s *Segment) { segments = append(segments, s.ID) })
	require.NoError(t, err)

	require.NoError(t, g.Enable(tr.First(), nil))
	assert.Equal(t, 1, hb.Connections())

	for i := 0; i < 9; i++ {
		hb.Step(0.5)
	}
	// 45 units around a 40 unit loop
	assert.Equal(t, "a", g.CurrentSegment().ID)
	assert.InDelta(t, 0.5, g.Alpha(), 1e-9)
	assert.Equal(t, []string{"a", "b", "c", "d", "a"}, segments)

	g.Disable()
	assert.Equal(t, 0, hb.Connections())
	hb.Step(0.5)
	assert.InDelta(t, 0.5, g.Alpha(), 1e-9)
}

func TestEventsReachDefaultTopic(t *testing.T) {
	b := bus.New()
	g := newTestGrinder(WithEventBus(b), WithSpeed(1))
	var got []State
	_, err := b.Subscribe(EventPositionChanged, func(e bus.Event) error {
		assert.Equal(t, "g1", e.Source())
		got = append(got, e.Data().(State))
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, g.Enable(seg("a", 0, 0, 0, 4, 0, 0), nil))
	g.Update(1)

	require.Len(t, got, 2)
	assert.Equal(t, "a", got[1].SegmentID)
	assert.InDelta(t, 0.25, got[1].Alpha, 1e-12)
	assert.True(t, got[1].Enabled)
	assert.Equal(t, g.State(), got[1])
}

func TestEnableTakesSpeedFromMovingVessel(t *testing.T) {
	a := seg("a", 0, 0, 0, 10, 0, 0)
	g := newTestGrinder(WithSpeed(1))
	vessel := physics.Kinematic{Pos: physics.V3(2, 1, 0), Vel: physics.V3(-3, 4, 0)}

	require.NoError(t, g.Enable(a, vessel))

	assert.InDelta(t, 0.2, g.Alpha(), 1e-12)
	assert.InDelta(t, -3.0, g.Speed(), 1e-12)
	assert.True(t, physics.V3(-3, 0, 0).ApproxEqual(g.Velocity(), 1e-12))
}

func TestEnableKeepsSpeedForStaticVessel(t *testing.T) {
	a := seg("a", 0, 0, 0, 10, 0, 0)
	g := newTestGrinder(WithSpeed(7))
	require.NoError(t, g.Enable(a, physics.V3(5, 0, 0)))
	assert.Equal(t, 7.0, g.Speed())
}

func TestRestartFromSegmentHandlerDropsOldResidual(t *testing.T) {
	a := seg("a", 0, 0, 0, 10, 0, 0)
	b := seg("b", 10, 0, 0, 20, 0, 0)
	c := seg("c", 100, 0, 0, 101, 0, 0)
	g := newTestGrinder(WithSpeed(15), WithResolver(func(dir int, cur *Segment) *Segment {
		if cur == a && dir > 0 {
			return b
		}
		return nil
	}))
	require.NoError(t, g.Enable(a, nil))

	restarted := false
	_, err := g.OnSegmentChanged(func(s *Segment) {
		if s == b && !restarted {
			restarted = true
			g.Disable()
			require.NoError(t, g.Enable(c, nil))
		}
	})
	require.NoError(t, err)

	g.Update(1)

	assert.True(t, g.Enabled())
	assert.Equal(t, "c", g.CurrentSegment().ID)
	assert.Equal(t, 0.0, g.Alpha())
	assert.Equal(t, c.Start, g.Position())
}

func TestRestartFromCompletedPositionKeepsNewRide(t *testing.T) {
	a := seg("a", 0, 0, 0, 10, 0, 0)
	c := seg("c", 100, 0, 0, 101, 0, 0)
	g := newTestGrinder(WithSpeed(15))
	require.NoError(t, g.Enable(a, nil))

	completed := 0
	_, err := g.OnCompleted(func() { completed++ })
	require.NoError(t, err)
	_, err = g.OnPositionChanged(func(p physics.Vec3) {
		if p == a.End {
			g.Disable()
			require.NoError(t, g.Enable(c, nil))
		}
	})
	require.NoError(t, err)

	g.Update(1)

	assert.Equal(t, 1, completed)
	assert.True(t, g.Enabled())
	assert.Equal(t, "c", g.CurrentSegment().ID)
}

func TestZeroLengthStartSegment(t *testing.T) {
	p := seg("p", 0, 0, 0, 0, 0, 0)
	b := seg("b", 0, 0, 0, 10, 0, 0)
	g := newTestGrinder(WithSpeed(2), WithResolver(func(dir int, cur *Segment) *Segment {
		if cur == p && dir > 0 {
			return b
		}
		return nil
	}))
	require.NoError(t, g.Enable(p, physics.V3(3, 3, 3)))
	assert.Equal(t, 0.0, g.Alpha())
	assert.Equal(t, physics.Zero, g.Velocity())
	assert.Equal(t, 0.0, g.SegmentLength())

	g.Update(1)

	assert.Equal(t, "b", g.CurrentSegment().ID)
	assert.InDelta(t, 0.2, g.Alpha(), 1e-12)
	assert.True(t, physics.V3(2, 0, 0).ApproxEqual(g.Position(), 1e-12))
}

func TestNonFiniteInputIsIgnored(t *testing.T) {
	a := seg("a", 0, 0, 0, 10, 0, 0)
	g := newTestGrinder(WithSpeed(2))
	require.NoError(t, g.Enable(a, physics.V3(math.NaN(), 0, 0)))
	assert.Equal(t, 0.0, g.Alpha())
	r := record(t, g)

	for _, dt := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		g.Update(dt)
	}
	g.SetSpeed(math.NaN())
	g.SetSpeed(math.Inf(-1))

	assert.Empty(t, r.kinds)
	assert.Equal(t, 2.0, g.Speed())
	assert.Equal(t, a.Start, g.Position())

	g.Update(1)
	assert.InDelta(t, 0.2, g.Alpha(), 1e-12)
}
