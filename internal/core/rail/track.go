package rail

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// DefaultTolerance is the anchor distance under which AutoLink joins two segments.
const DefaultTolerance = 1e-3

// Track is an ordered set of segments plus the links a grinder follows between them.
// A link from A to B means A.End continues into B.Start.
type Track struct {
	Name string

	segments []*Segment
	byID     map[string]*Segment
	next     map[string]string
	prev     map[string]string
}

func NewTrack(name string) *Track {
	return &Track{
		Name: name,
		byID: make(map[string]*Segment),
		next: make(map[string]string),
		prev: make(map[string]string),
	}
}

// Add appends segments in order.
func (t *Track) Add(segs ...*Segment) error {
	for _, s := range segs {
		if s == nil {
			return ErrNilSegment
		}
		if _, exists := t.byID[s.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateSegment, s.ID)
		}
		t.byID[s.ID] = s
		t.segments = append(t.segments, s)
	}
	return nil
}

// Link makes to the successor of from.
func (t *Track) Link(from, to string) error {
	if _, ok := t.byID[from]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSegment, from)
	}
	if _, ok := t.byID[to]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSegment, to)
	}
	if n, ok := t.next[from]; ok && n != to {
		return fmt.Errorf("%w: %s already continues into %s", ErrAlreadyLinked, from, n)
	}
	if p, ok := t.prev[to]; ok && p != from {
		return fmt.Errorf("%w: %s already follows %s", ErrAlreadyLinked, to, p)
	}
	t.next[from] = to
	t.prev[to] = from
	return nil
}

// AutoLink joins every unlinked End to an unlinked Start lying within tol.
// Segments are scanned in insertion order, so the first candidate wins.
func (t *Track) AutoLink(tol float64) int {
	linked := 0
	for _, a := range t.segments {
		if _, ok := t.next[a.ID]; ok {
			continue
		}
		for _, b := range t.segments {
			if a == b {
				continue
			}
			if _, ok := t.prev[b.ID]; ok {
				continue
			}
			if a.End.ApproxEqual(b.Start, tol) {
				t.next[a.ID] = b.ID
				t.prev[b.ID] = a.ID
				linked++
				break
			}
		}
	}
	return linked
}

func (t *Track) Segment(id string) (*Segment, bool) {
	s, ok := t.byID[id]
	return s, ok
}

// Segments returns the segments in insertion order.
func (t *Track) Segments() []*Segment {
	out := make([]*Segment, len(t.segments))
	copy(out, t.segments)
	return out
}

func (t *Track) Len() int { return len(t.segments) }

// First returns the first segment added, or nil for an empty track.
func (t *Track) First() *Segment {
	if len(t.segments) == 0 {
		return nil
	}
	return t.segments[0]
}

func (t *Track) Next(id string) *Segment {
	return t.byID[t.next[id]]
}

func (t *Track) Prev(id string) *Segment {
	return t.byID[t.prev[id]]
}

// NextID returns the id linked after id, or "".
func (t *Track) NextID(id string) string { return t.next[id] }

// Head walks prev links from id to the start of its chain. On a closed
// loop it stops when it comes back around.
func (t *Track) Head(id string) *Segment {
	cur := id
	for i := 0; i < len(t.segments); i++ {
		p, ok := t.prev[cur]
		if !ok || p == id {
			break
		}
		cur = p
	}
	return t.byID[cur]
}

// Tail walks next links from id to the end of its chain.
func (t *Track) Tail(id string) *Segment {
	cur := id
	for i := 0; i < len(t.segments); i++ {
		n, ok := t.next[cur]
		if !ok || n == id {
			break
		}
		cur = n
	}
	return t.byID[cur]
}

// TotalLength sums the length of every segment.
func (t *Track) TotalLength() float64 {
	total := 0.0
	for _, s := range t.segments {
		total += s.Length()
	}
	return total
}

// Validate reports every problem found rather than stopping at the first.
func (t *Track) Validate() error {
	if len(t.segments) == 0 {
		return ErrEmptyTrack
	}
	var errs []error
	for _, s := range t.segments {
		if s.Length() < 1e-9 {
			errs = append(errs, fmt.Errorf("%w: %s", ErrZeroLength, s.ID))
		}
	}
	return errors.Join(errs...)
}

// Fingerprint digests ids, anchors and links. Two tracks with equal
// fingerprints drive grinders identically.
func (t *Track) Fingerprint() uint64 {
	d := xxhash.New()
	var buf [8]byte
	writeFloat := func(f float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
		_, _ = d.Write(buf[:])
	}
	for _, s := range t.segments {
		_, _ = d.WriteString(s.ID)
		_, _ = d.WriteString("\x00")
		for _, v := range [...]float64{s.Start.Xv, s.Start.Yv, s.Start.Zv, s.End.Xv, s.End.Yv, s.End.Zv} {
			writeFloat(v)
		}
		_, _ = d.WriteString(t.next[s.ID])
		_, _ = d.WriteString("\x00")
	}
	return d.Sum64()
}

// Resolver returns a resolver that follows this track's links. With loop set,
// running off either end of a chain wraps to its other end.
func (t *Track) Resolver(loop bool) Resolver {
	return ResolverFor(func() *Track { return t }, loop)
}

// ResolverFor resolves against whatever track load returns at call time, so a
// reloaded track takes effect at the grinder's next segment boundary.
func ResolverFor(load func() *Track, loop bool) Resolver {
	return func(direction int, current *Segment) *Segment {
		t := load()
		if t == nil || current == nil {
			return nil
		}
		if _, ok := t.byID[current.ID]; !ok {
			return nil
		}
		if direction >= 0 {
			if n := t.Next(current.ID); n != nil {
				return n
			}
			if loop {
				return t.Head(current.ID)
			}
			return nil
		}
		if p := t.Prev(current.ID); p != nil {
			return p
		}
		if loop {
			return t.Tail(current.ID)
		}
		return nil
	}
}
