package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/railgrind/internal/core/observability/log"
	"github.com/zeusync/railgrind/internal/core/systems/physics"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds server configuration
type Config struct {
	// Network settings
	ListenAddr      string        `json:"listen_addr" yaml:"listen_addr"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	// AuthToken, when set, is required by /ws and /command as ?token= or a Bearer header.
	AuthToken       string        `json:"auth_token,omitempty" yaml:"auth_token,omitempty"`

	// Simulation
	TickRate   int    `json:"tick_rate" yaml:"tick_rate"`
	TrackFile  string `json:"track_file" yaml:"track_file"`
	WatchTrack bool   `json:"watch_track" yaml:"watch_track"`

	// Logging
	LogLevel string `json:"log_level" yaml:"log_level"`

	Grinders []GrinderConfig `json:"grinders" yaml:"grinders"`
}

// GrinderConfig describes one grinder started by the server.
type GrinderConfig struct {
	ID             string        `json:"id" yaml:"id"`
	Segment        string        `json:"segment,omitempty" yaml:"segment,omitempty"`
	Speed          float64       `json:"speed" yaml:"speed"`
	Loop           bool          `json:"loop" yaml:"loop"`
	Vessel         *physics.Vec3 `json:"vessel,omitempty" yaml:"vessel,omitempty"`
	// VesselVelocity, with Vessel, replaces Speed by the velocity along the start segment.
	VesselVelocity *physics.Vec3 `json:"vessel_velocity,omitempty" yaml:"vessel_velocity,omitempty"`
	// Restart re-enables the grinder on its start segment after it completes.
	Restart        bool          `json:"restart" yaml:"restart"`
}

// VesselBody returns the configured vessel, nil when there is none. A vessel
// with a velocity is returned as a physics.Body.
func (g GrinderConfig) VesselBody() physics.Vector3 {
	if g.Vessel == nil {
		return nil
	}
	if g.VesselVelocity == nil {
		return *g.Vessel
	}
	return physics.Kinematic{Pos: *g.Vessel, Vel: *g.VesselVelocity}
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		ListenAddr:      "127.0.0.1:8080",
		ShutdownTimeout: 5 * time.Second,
		TickRate:        60,
		TrackFile:       "track.yaml",
		LogLevel:        "info",
	}
}

// Load reads path over DefaultConfig and validates the result.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = decodeYAML(f, &cfg)
	case ".json":
		err = json.NewDecoder(f).Decode(&cfg)
	default:
		return Config{}, fmt.Errorf("%w: unsupported extension %q", ErrInvalidConfig, filepath.Ext(path))
	}
	if err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}

	// a relative track path is relative to the config file
	if cfg.TrackFile != "" && !filepath.IsAbs(cfg.TrackFile) {
		cfg.TrackFile = filepath.Join(filepath.Dir(path), cfg.TrackFile)
	}
	return cfg, cfg.Validate()
}

// UnmarshalJSON accepts shutdown_timeout as a duration string ("5s"), like
// the YAML form, or as integer nanoseconds.
func (c *Config) UnmarshalJSON(b []byte) error {
	type plain Config
	aux := struct {
		*plain
		ShutdownTimeout json.RawMessage `json:"shutdown_timeout"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if len(aux.ShutdownTimeout) == 0 || string(aux.ShutdownTimeout) == "null" {
		return nil
	}
	d, err := parseJSONDuration(aux.ShutdownTimeout)
	if err != nil {
		return fmt.Errorf("shutdown_timeout: %w", err)
	}
	c.ShutdownTimeout = d
	return nil
}

func parseJSONDuration(raw json.RawMessage) (time.Duration, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return time.ParseDuration(s)
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	return time.Duration(n), nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	err := yaml.NewDecoder(r).Decode(cfg)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if c.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("tick_rate must be positive, got %d", c.TickRate))
	}
	if c.TrackFile == "" {
		errs = append(errs, errors.New("track_file is required"))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	seen := make(map[string]bool, len(c.Grinders))
	for i, g := range c.Grinders {
		if g.ID == "" {
			errs = append(errs, fmt.Errorf("grinders[%d]: id is required", i))
			continue
		}
		if seen[g.ID] {
			errs = append(errs, fmt.Errorf("grinders[%d]: duplicate id %q", i, g.ID))
		}
		seen[g.ID] = true
		if g.VesselVelocity != nil && g.Vessel == nil {
			errs = append(errs, fmt.Errorf("grinders[%d]: vessel_velocity needs vessel", i))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// Level returns the parsed log level, falling back to info.
func (c Config) Level() log.Level {
	l, _ := log.ParseLevel(c.LogLevel)
	return l
}
