package dream

import (
	"errors"
	"fmt"
	"math"

	"github.com/openfluke/reverie/extractor"
	"github.com/openfluke/reverie/filter"
)

// ErrInvalidConfig matches every *ConfigError via errors.Is.
var ErrInvalidConfig = errors.New("invalid config")

// ConfigError names the offending configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }

// TargetSpec selects channels of one extractor layer to amplify.
// Channel indices beyond the layer's channel count are clamped to the last
// channel rather than rejected.
type TargetSpec struct {
	Extractor string             `json:"extractor"`
	Layer     extractor.Selector `json:"layer"`
	Channels  []int              `json:"channels"`
	Weight    float64            `json:"weight"`
}

// Config holds the run parameters. It is read once and never mutated by the
// engine.
type Config struct {
	Targets     []TargetSpec `json:"targets"`
	StepSize    float64      `json:"step_size"`
	NumSteps    int          `json:"num_steps"`
	NumOctaves  int          `json:"num_octaves"`
	OctaveScale float64      `json:"octave_scale"`
	Sigma       float64      `json:"sigma"`
	Epsilon     float64      `json:"epsilon"`
}

// DefaultConfig returns the stock ascent parameters with no targets.
func DefaultConfig() Config {
	return Config{
		StepSize:    0.03,
		NumSteps:    25,
		NumOctaves:  3,
		OctaveScale: 1.4,
		Sigma:       filter.DefaultSigma,
		Epsilon:     1e-8,
	}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Validate checks every field against the registered extractors and returns
// all problems joined. Each problem is a *ConfigError.
func (c *Config) Validate(extractors map[string]extractor.Extractor) error {
	var errs []error
	fail := func(field, format string, args ...any) {
		errs = append(errs, &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if c.NumOctaves < 1 {
		fail("num_octaves", "must be >= 1, got %d", c.NumOctaves)
	}
	if !finite(c.OctaveScale) || c.OctaveScale <= 1 {
		fail("octave_scale", "must be > 1, got %v", c.OctaveScale)
	}
	if c.NumSteps < 1 {
		fail("num_steps", "must be >= 1, got %d", c.NumSteps)
	}
	if !finite(c.StepSize) {
		fail("step_size", "must be finite, got %v", c.StepSize)
	}
	if !finite(c.Sigma) || c.Sigma <= 0 {
		fail("sigma", "must be > 0, got %v", c.Sigma)
	}
	if !finite(c.Epsilon) || c.Epsilon <= 0 {
		fail("epsilon", "must be > 0, got %v", c.Epsilon)
	}

	if len(c.Targets) == 0 {
		fail("targets", "at least one target is required")
	}
	for i, t := range c.Targets {
		prefix := fmt.Sprintf("targets[%d]", i)
		ex, ok := extractors[t.Extractor]
		if !ok {
			fail(prefix+".extractor", "unknown extractor %q", t.Extractor)
		} else if err := ex.Resolve(t.Layer); err != nil {
			fail(prefix+".layer", "%v", err)
		}
		if len(t.Channels) == 0 {
			fail(prefix+".channels", "at least one channel is required")
		}
		if !finite(t.Weight) {
			fail(prefix+".weight", "must be finite, got %v", t.Weight)
		}
	}

	return errors.Join(errs...)
}
