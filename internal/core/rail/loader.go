package rail

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/railgrind/internal/core/systems/physics"
)

// TrackConfig describes a track in JSON or YAML.
type TrackConfig struct {
	Name      string          `json:"name" yaml:"name"`
	AutoLink  *bool           `json:"auto_link,omitempty" yaml:"auto_link,omitempty"`
	Tolerance float64         `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	Segments  []SegmentConfig `json:"segments" yaml:"segments"`
}

type SegmentConfig struct {
	ID    string       `json:"id,omitempty" yaml:"id,omitempty"`
	Name  string       `json:"name,omitempty" yaml:"name,omitempty"`
	Start physics.Vec3 `json:"start" yaml:"start"`
	End   physics.Vec3 `json:"end" yaml:"end"`
	Next  string       `json:"next,omitempty" yaml:"next,omitempty"`
}

// LoadTrackJSON loads a track config from a JSON reader.
func LoadTrackJSON(r io.Reader) (*TrackConfig, error) {
	var c TrackConfig
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadTrackYAML loads a track config from a YAML reader.
func LoadTrackYAML(r io.Reader) (*TrackConfig, error) {
	var c TrackConfig
	if err := yaml.NewDecoder(r).Decode(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadTrackFile reads, builds and validates the track at path. The format is
// picked from the extension.
func LoadTrackFile(path string) (*Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var c *TrackConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		c, err = LoadTrackYAML(f)
	case ".json":
		c, err = LoadTrackJSON(f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTrack, path)
	}
	if err != nil {
		return nil, fmt.Errorf("decode track %s: %w", path, err)
	}
	if c.Name == "" {
		c.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	t, err := c.Build()
	if err != nil {
		return nil, fmt.Errorf("build track %s: %w", path, err)
	}
	if err = t.Validate(); err != nil {
		return nil, fmt.Errorf("validate track %s: %w", path, err)
	}
	return t, nil
}

// Build turns the config into a Track. Segments without an id get
// "segment-<index>" so that ids survive reloads of the same file.
// Explicit next links are applied first, auto-linking (on by default) fills the rest.
func (c *TrackConfig) Build() (*Track, error) {
	t := NewTrack(c.Name)
	for i, sc := range c.Segments {
		id := sc.ID
		if id == "" {
			id = fmt.Sprintf("segment-%d", i)
		}
		if err := t.Add(&Segment{ID: id, Name: sc.Name, Start: sc.Start, End: sc.End}); err != nil {
			return nil, err
		}
	}
	for i, sc := range c.Segments {
		if sc.Next == "" {
			continue
		}
		if err := t.Link(t.segments[i].ID, sc.Next); err != nil {
			return nil, err
		}
	}
	if c.AutoLink == nil || *c.AutoLink {
		tol := c.Tolerance
		if tol <= 0 {
			tol = DefaultTolerance
		}
		t.AutoLink(tol)
	}
	return t, nil
}

// Config converts the track back into its file form with explicit links.
func (t *Track) Config() *TrackConfig {
	off := false
	c := &TrackConfig{Name: t.Name, AutoLink: &off, Segments: make([]SegmentConfig, 0, len(t.segments))}
	for _, s := range t.segments {
		c.Segments = append(c.Segments, SegmentConfig{
			ID:    s.ID,
			Name:  s.Name,
			Start: s.Start,
			End:   s.End,
			Next:  t.next[s.ID],
		})
	}
	return c
}
