package rail

import (
	"time"

	"github.com/zeusync/railgrind/internal/core/events/bus"
	"github.com/zeusync/railgrind/internal/core/systems/physics"
)

// Grinder notifications published on the event bus.
const (
	EventCompleted       = "grinder.completed"
	EventPositionChanged = "grinder.position_changed"
	EventSegmentChanged  = "grinder.segment_changed"
)

var _ bus.Event = (*GrinderEvent)(nil)

// GrinderEvent carries a snapshot of the grinder taken when the event fired.
type GrinderEvent struct {
	Kind    string
	State   State
	Segment *Segment
	At      time.Time
}

func (e *GrinderEvent) Type() string         { return e.Kind }
func (e *GrinderEvent) Source() string       { return e.State.GrinderID }
func (e *GrinderEvent) Timestamp() time.Time { return e.At }
func (e *GrinderEvent) Data() any            { return e.State }

// State is a read-only snapshot of a grinder.
type State struct {
	GrinderID     string       `json:"grinder_id"`
	SegmentID     string       `json:"segment_id,omitempty"`
	Enabled       bool         `json:"enabled"`
	Alpha         float64      `json:"alpha"`
	Speed         float64      `json:"speed"`
	SegmentLength float64      `json:"segment_length"`
	Position      physics.Vec3 `json:"position"`
	Velocity      physics.Vec3 `json:"velocity"`
}

// TopicFor is the bus topic a grinder publishes its own events to, next to the default topic.
func TopicFor(grinderID string) string { return "grinder/" + grinderID }
