package rail

import (
	"time"

	"github.com/google/uuid"

	"github.com/zeusync/railgrind/internal/core/events/bus"
	"github.com/zeusync/railgrind/internal/core/heartbeat"
	"github.com/zeusync/railgrind/internal/core/observability/log"
	"github.com/zeusync/railgrind/internal/core/systems/physics"
)

// Resolver picks the segment that follows current. direction is +1 when the
// grinder ran off End and -1 when it ran off Start. Returning nil ends the ride.
type Resolver func(direction int, current *Segment) *Segment

const defaultMaxHops = 256

// Grinder moves one vessel along a chain of segments, one Update per frame.
// It is not safe for concurrent use; drive it from a single goroutine (the heartbeat).
type Grinder struct {
	id        string
	logger    log.Log
	events    bus.EventBus
	heartbeat *heartbeat.Heartbeat
	conn      *heartbeat.Connection
	resolver  Resolver
	maxHops   int
	clock     func() time.Time

	current  *Segment
	alpha    float64
	speed    float64
	length   float64
	position physics.Vec3
	velocity physics.Vec3
	enabled  bool
	// bumped by Enable and Disable
	epoch    uint64
}

type Option func(*Grinder)

func WithID(id string) Option { return func(g *Grinder) { g.id = id } }

func WithLogger(l log.Log) Option { return func(g *Grinder) { g.logger = l } }

func WithEventBus(b bus.EventBus) Option { return func(g *Grinder) { g.events = b } }

// WithHeartbeat makes Enable connect Update to hb and Disable disconnect it.
func WithHeartbeat(hb *heartbeat.Heartbeat) Option { return func(g *Grinder) { g.heartbeat = hb } }

func WithResolver(r Resolver) Option { return func(g *Grinder) { g.resolver = r } }

func WithSpeed(speed float64) Option { return func(g *Grinder) { g.speed = speed } }

// WithMaxHops bounds how many segment changes one Update may make.
func WithMaxHops(n int) Option { return func(g *Grinder) { g.maxHops = n } }

func NewGrinder(opts ...Option) *Grinder {
	g := &Grinder{maxHops: defaultMaxHops, clock: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	if g.id == "" {
		g.id = uuid.NewString()
	}
	if g.events == nil {
		g.events = bus.New()
	}
	if g.logger == nil {
		g.logger = log.Provide()
	}
	g.logger = g.logger.With(log.String("grinder_id", g.id))
	if g.maxHops <= 0 {
		g.maxHops = defaultMaxHops
	}
	return g
}

func (g *Grinder) ID() string               { return g.id }
func (g *Grinder) Enabled() bool            { return g.enabled }
func (g *Grinder) CurrentSegment() *Segment { return g.current }
func (g *Grinder) Speed() float64           { return g.speed }
func (g *Grinder) Position() physics.Vec3   { return g.position }
func (g *Grinder) Velocity() physics.Vec3   { return g.velocity }
func (g *Grinder) Alpha() float64           { return g.alpha }
func (g *Grinder) SegmentLength() float64   { return g.length }
func (g *Grinder) Events() bus.EventBus     { return g.events }
func (g *Grinder) SetResolver(r Resolver)   { g.resolver = r }
func (g *Grinder) Topic() string            { return TopicFor(g.id) }

func (g *Grinder) State() State {
	s := State{
		GrinderID:     g.id,
		Enabled:       g.enabled,
		Alpha:         g.alpha,
		Speed:         g.speed,
		SegmentLength: g.length,
		Position:      g.position,
		Velocity:      g.velocity,
	}
	if g.current != nil {
		s.SegmentID = g.current.ID
	}
	return s
}

// Enable starts grinding current. When vessel is non-nil the starting alpha
// is the vessel's projection onto the segment, otherwise the ride starts at
// Start. A vessel that is a physics.Body also sets the speed to its velocity
// along the segment. Enabling an enabled grinder does nothing.
func (g *Grinder) Enable(current *Segment, vessel physics.Vector3) error {
	if g.enabled {
		return nil
	}
	if current == nil {
		return ErrNilSegment
	}

	g.alpha = 0
	if vessel != nil {
		if p := physics.FromVector(vessel); p.IsFinite() {
			g.alpha = current.Project(p)
		}
		if body, ok := vessel.(physics.Body); ok {
			if v := body.Velocity(); v.IsFinite() {
				g.speed = v.Dot(current.Direction())
			}
		}
	}
	g.adopt(current)
	g.position = current.PointAt(g.alpha)
	g.enabled = true
	g.epoch++
	epoch := g.epoch
	if g.heartbeat != nil {
		g.conn = g.heartbeat.Connect(g.Update)
	}

	g.logger.Debug("grinder enabled",
		log.String("segment_id", current.ID),
		log.Float64("alpha", g.alpha),
		log.Float64("speed", g.speed),
	)
	g.publish(EventSegmentChanged)
	if g.epoch == epoch {
		g.publish(EventPositionChanged)
	}
	return nil
}

// Disable stops updates and fires completed. It does nothing when already disabled.
func (g *Grinder) Disable() {
	if !g.enabled {
		return
	}
	g.enabled = false
	g.epoch++
	g.conn.Disconnect()
	g.conn = nil

	g.logger.Debug("grinder disabled", log.String("segment_id", g.current.ID), log.Float64("alpha", g.alpha))
	g.publish(EventCompleted)
}

// SetSpeed changes the speed in units per second. Negative speeds travel
// toward Start. NaN and infinite speeds are ignored.
func (g *Grinder) SetSpeed(speed float64) {
	if !physics.Finite(speed) {
		g.logger.Warn("ignoring non-finite speed", log.Float64("speed", speed))
		return
	}
	g.speed = speed
	g.updateVelocity()
}

// Update advances the grinder by deltaTime seconds. It is the heartbeat callback.
// Frames with a NaN or infinite deltaTime are skipped.
func (g *Grinder) Update(deltaTime float64) {
	if !g.enabled {
		return
	}
	if !physics.Finite(deltaTime) || !physics.Finite(g.speed) {
		g.logger.Warn("skipping frame with non-finite motion",
			log.Float64("delta_time", deltaTime),
			log.Float64("speed", g.speed),
		)
		return
	}
	epoch := g.epoch

	// distance along the current segment, measured from Start
	dist := g.alpha*g.length + g.speed*deltaTime

	for hops := 0; dist > g.length || dist < 0; hops++ {
		if hops >= g.maxHops {
			g.logger.Warn("segment hop limit reached", log.Int("max_hops", g.maxHops))
			dist = clamp(dist, 0, g.length)
			break
		}

		direction, overflow := 1, dist-g.length
		if dist < 0 {
			direction, overflow = -1, -dist
		}

		next := g.resolve(direction)
		if next == nil {
			if direction > 0 {
				g.alpha = 1
			} else {
				g.alpha = 0
			}
			g.position = g.current.PointAt(g.alpha)
			g.publish(EventPositionChanged)
			if g.epoch == epoch {
				g.Disable()
			}
			return
		}

		g.adopt(next)
		if direction > 0 {
			dist = overflow
		} else {
			dist = g.length - overflow
		}
		g.logger.Debug("grinder changed segment", log.String("segment_id", next.ID), log.Int("direction", direction))
		g.publish(EventSegmentChanged)
		// a handler disabled or restarted the ride, the residual belongs to the old one
		if g.epoch != epoch {
			return
		}
	}

	if g.length > physics.Epsilon {
		g.alpha = dist / g.length
	} else {
		g.alpha = 0
	}
	g.position = g.current.PointAt(g.alpha)
	g.publish(EventPositionChanged)
}

// OnCompleted subscribes fn to this grinder's completed notification.
func (g *Grinder) OnCompleted(fn func()) (bus.Subscription, error) {
	return g.events.SubscribeTopic(g.Topic(), EventCompleted, func(bus.Event) error {
		fn()
		return nil
	})
}

// OnPositionChanged subscribes fn to this grinder's position updates.
func (g *Grinder) OnPositionChanged(fn func(physics.Vec3)) (bus.Subscription, error) {
	return g.events.SubscribeTopic(g.Topic(), EventPositionChanged, func(e bus.Event) error {
		fn(e.(*GrinderEvent).State.Position)
		return nil
	})
}

// OnSegmentChanged subscribes fn to this grinder's segment changes.
func (g *Grinder) OnSegmentChanged(fn func(*Segment)) (bus.Subscription, error) {
	return g.events.SubscribeTopic(g.Topic(), EventSegmentChanged, func(e bus.Event) error {
		fn(e.(*GrinderEvent).Segment)
		return nil
	})
}

func (g *Grinder) resolve(direction int) *Segment {
	if g.resolver == nil {
		return nil
	}
	return g.resolver(direction, g.current)
}

func (g *Grinder) adopt(s *Segment) {
	g.current = s
	g.length = s.Length()
	g.updateVelocity()
}

func (g *Grinder) updateVelocity() {
	if g.current == nil {
		g.velocity = physics.Zero
		return
	}
	g.velocity = g.current.Direction().Scale(g.speed)
}

func (g *Grinder) publish(kind string) {
	e := &GrinderEvent{Kind: kind, State: g.State(), Segment: g.current, At: g.clock()}
	if err := g.events.PublishToTopic(g.Topic(), e); err != nil {
		g.logger.Warn("grinder handler failed", log.String("event", kind), log.Error(err))
	}
	if err := g.events.Publish(e); err != nil {
		g.logger.Warn("grinder handler failed", log.String("event", kind), log.Error(err))
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
