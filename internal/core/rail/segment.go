package rail

import (
	"github.com/google/uuid"

	"github.com/zeusync/railgrind/internal/core/systems/physics"
)

// Segment is one straight piece of rail between two anchors. Grinders travel
// from Start toward End when moving forward. The Start of a segment usually
// sits on the End of the one before it.
type Segment struct {
	ID    string       `json:"id" yaml:"id"`
	Name  string       `json:"name,omitempty" yaml:"name,omitempty"`
	Start physics.Vec3 `json:"start" yaml:"start"`
	End   physics.Vec3 `json:"end" yaml:"end"`
}

// NewSegment creates a segment with a random ID.
func NewSegment(start, end physics.Vec3) *Segment {
	return &Segment{ID: uuid.NewString(), Start: start, End: end}
}

func (s *Segment) Length() float64 {
	return physics.Distance3(s.Start, s.End)
}

// Direction is the unit vector from Start to End, or zero for a degenerate segment.
func (s *Segment) Direction() physics.Vec3 {
	return s.End.Sub(s.Start).Unit()
}

// PointAt returns the position at alpha, clamped to the segment.
func (s *Segment) PointAt(alpha float64) physics.Vec3 {
	return s.Start.Lerp(s.End, physics.Clamp01(alpha))
}

// Project returns the clamped alpha of the point on the segment closest to p.
func (s *Segment) Project(p physics.Vec3) float64 {
	d := s.End.Sub(s.Start)
	ll := d.Dot(d)
	if ll < physics.Epsilon {
		return 0
	}
	return physics.Clamp01(p.Sub(s.Start).Dot(d) / ll)
}

func (s *Segment) String() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}
