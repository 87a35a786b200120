package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/encounters.report/internal/units"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// ErrInvalidTuning is wrapped by every validation failure.
var ErrInvalidTuning = errors.New("invalid tuning")

// Defaults used when a field is absent from the tuning file.
const (
	DefaultMinDistanceToShore = 20 * units.Kilometer
	DefaultMaxDistance        = 1 * units.Kilometer
	DefaultMaxEncounterRadius = 500 * units.Meter
	DefaultMaxNeighbours      = 10
	DefaultMinDuration        = 3 * time.Hour
	DefaultGridLevel          = 13
	DefaultResampleInterval   = 10 * time.Minute
	DefaultMaxGap             = time.Hour

	maxGridLevel = 30
)

// TuningConfig holds the encounter detection parameters. Lengths are strings
// such as "20km" or "0.5nm"; durations use time.ParseDuration syntax.
// Pointer fields let a file override only some values.
type TuningConfig struct {
	MinDistanceToShore *string `json:"min_distance_to_shore_for_encounter,omitempty"`
	MaxDistance        *string `json:"max_distance_for_encounter,omitempty"`
	MaxEncounterRadius *string `json:"max_encounter_radius,omitempty"`
	MaxNeighbours      *int    `json:"max_closest_neighbours,omitempty"`
	MinDuration        *string `json:"min_duration_for_encounter,omitempty"`

	GridLevel           *int    `json:"grid_level,omitempty"`
	ResampleInterval    *string `json:"resample_interval,omitempty"`
	MaxInterpolationGap *string `json:"max_interpolation_gap,omitempty"`
	Workers             *int    `json:"workers,omitempty"`
}

func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field set to its
// default.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		MinDistanceToShore:  ptrString(DefaultMinDistanceToShore.String()),
		MaxDistance:         ptrString(DefaultMaxDistance.String()),
		MaxEncounterRadius:  ptrString(DefaultMaxEncounterRadius.String()),
		MaxNeighbours:       ptrInt(DefaultMaxNeighbours),
		MinDuration:         ptrString(DefaultMinDuration.String()),
		GridLevel:           ptrInt(DefaultGridLevel),
		ResampleInterval:    ptrString(DefaultResampleInterval.String()),
		MaxInterpolationGap: ptrString(DefaultMaxGap.String()),
		Workers:             ptrInt(0),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be at most 1MB. Fields omitted
// from the file fall back to their defaults through the Get* methods.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseTuningConfig(data)
}

// ParseTuningConfig decodes and validates a JSON tuning document. Unknown
// keys are rejected so that typos do not silently fall back to defaults.
func ParseTuningConfig(data []byte) (*TuningConfig, error) {
	cfg := EmptyTuningConfig()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, looking in the current
// directory and its parents. It panics if the file cannot be loaded and is
// intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that every set field parses and is in range.
func (c *TuningConfig) Validate() error {
	lengths := []struct {
		key string
		v   *string
	}{
		{"min_distance_to_shore_for_encounter", c.MinDistanceToShore},
		{"max_distance_for_encounter", c.MaxDistance},
		{"max_encounter_radius", c.MaxEncounterRadius},
	}
	for _, l := range lengths {
		if l.v == nil {
			continue
		}
		if _, err := units.ParseLength(*l.v); err != nil {
			return fmt.Errorf("%w: %s %q: %v", ErrInvalidTuning, l.key, *l.v, err)
		}
	}

	durations := []struct {
		key string
		v   *string
	}{
		{"min_duration_for_encounter", c.MinDuration},
		{"resample_interval", c.ResampleInterval},
		{"max_interpolation_gap", c.MaxInterpolationGap},
	}
	for _, d := range durations {
		if d.v == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("%w: %s %q: %v", ErrInvalidTuning, d.key, *d.v, err)
		}
		if parsed < 0 {
			return fmt.Errorf("%w: %s must be non-negative, got %s", ErrInvalidTuning, d.key, *d.v)
		}
	}

	if c.MaxDistance != nil && c.GetMaxDistance() <= 0 {
		return fmt.Errorf("%w: max_distance_for_encounter must be positive", ErrInvalidTuning)
	}
	if c.MaxNeighbours != nil && *c.MaxNeighbours < 1 {
		return fmt.Errorf("%w: max_closest_neighbours must be at least 1, got %d", ErrInvalidTuning, *c.MaxNeighbours)
	}
	if c.GridLevel != nil && (*c.GridLevel < 0 || *c.GridLevel > maxGridLevel) {
		return fmt.Errorf("%w: grid_level must be between 0 and %d, got %d", ErrInvalidTuning, maxGridLevel, *c.GridLevel)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("%w: workers must be non-negative, got %d", ErrInvalidTuning, *c.Workers)
	}
	return nil
}

// GetMinDistanceToShore returns min_distance_to_shore_for_encounter or the default.
func (c *TuningConfig) GetMinDistanceToShore() units.Length {
	return lengthOr(c.MinDistanceToShore, DefaultMinDistanceToShore)
}

// GetMaxDistance returns max_distance_for_encounter, the candidate search
// radius, or the default.
func (c *TuningConfig) GetMaxDistance() units.Length {
	return lengthOr(c.MaxDistance, DefaultMaxDistance)
}

// GetMaxEncounterRadius returns max_encounter_radius or the default.
func (c *TuningConfig) GetMaxEncounterRadius() units.Length {
	return lengthOr(c.MaxEncounterRadius, DefaultMaxEncounterRadius)
}

// GetMaxNeighbours returns max_closest_neighbours or the default.
func (c *TuningConfig) GetMaxNeighbours() int {
	if c.MaxNeighbours == nil {
		return DefaultMaxNeighbours
	}
	return *c.MaxNeighbours
}

// GetMinDuration returns min_duration_for_encounter or the default.
func (c *TuningConfig) GetMinDuration() time.Duration {
	return durationOr(c.MinDuration, DefaultMinDuration)
}

// GetGridLevel returns grid_level or the default.
func (c *TuningConfig) GetGridLevel() int {
	if c.GridLevel == nil {
		return DefaultGridLevel
	}
	return *c.GridLevel
}

// GetResampleInterval returns resample_interval or the default.
func (c *TuningConfig) GetResampleInterval() time.Duration {
	return durationOr(c.ResampleInterval, DefaultResampleInterval)
}

// GetMaxInterpolationGap returns max_interpolation_gap or the default.
func (c *TuningConfig) GetMaxInterpolationGap() time.Duration {
	return durationOr(c.MaxInterpolationGap, DefaultMaxGap)
}

// GetWorkers returns workers; zero means one per CPU.
func (c *TuningConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// JSON returns the fully resolved configuration, with defaults applied, as
// compact JSON. It is stored alongside each run.
func (c *TuningConfig) JSON() string {
	resolved := TuningConfig{
		MinDistanceToShore:  ptrString(c.GetMinDistanceToShore().String()),
		MaxDistance:         ptrString(c.GetMaxDistance().String()),
		MaxEncounterRadius:  ptrString(c.GetMaxEncounterRadius().String()),
		MaxNeighbours:       ptrInt(c.GetMaxNeighbours()),
		MinDuration:         ptrString(c.GetMinDuration().String()),
		GridLevel:           ptrInt(c.GetGridLevel()),
		ResampleInterval:    ptrString(c.GetResampleInterval().String()),
		MaxInterpolationGap: ptrString(c.GetMaxInterpolationGap().String()),
		Workers:             ptrInt(c.GetWorkers()),
	}
	b, err := json.Marshal(resolved)
	if err != nil {
		// Only strings and ints; marshalling cannot fail.
		panic(err)
	}
	return string(b)
}

func lengthOr(s *string, def units.Length) units.Length {
	if s == nil || *s == "" {
		return def
	}
	l, err := units.ParseLength(*s)
	if err != nil {
		return def
	}
	return l
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}
