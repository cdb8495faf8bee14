package dream

import (
	"errors"
	"math"
	"testing"

	"github.com/openfluke/reverie/extractor"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.StepSize != 0.03 || cfg.NumSteps != 25 || cfg.NumOctaves != 3 ||
		cfg.OctaveScale != 1.4 || cfg.Sigma != 1.5 || cfg.Epsilon != 1e-8 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	exs := map[string]extractor.Extractor{"net": linearNet(1)}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero octaves", func(c *Config) { c.NumOctaves = 0 }, "num_octaves"},
		{"scale of one", func(c *Config) { c.OctaveScale = 1 }, "octave_scale"},
		{"scale below one", func(c *Config) { c.OctaveScale = 0.7 }, "octave_scale"},
		{"zero steps", func(c *Config) { c.NumSteps = 0 }, "num_steps"},
		{"nan step size", func(c *Config) { c.StepSize = math.NaN() }, "step_size"},
		{"zero sigma", func(c *Config) { c.Sigma = 0 }, "sigma"},
		{"negative epsilon", func(c *Config) { c.Epsilon = -1 }, "epsilon"},
		{"zero epsilon", func(c *Config) { c.Epsilon = 0 }, "epsilon"},
		{"no targets", func(c *Config) { c.Targets = nil }, "targets"},
		{"unknown extractor", func(c *Config) { c.Targets[0].Extractor = "vgg" }, "targets[0].extractor"},
		{"layer out of range", func(c *Config) { c.Targets[0].Layer = extractor.Index(5) }, "targets[0].layer"},
		{"named layer on sequential", func(c *Config) { c.Targets[0].Layer = extractor.Named("inception4c") }, "targets[0].layer"},
		{"no channels", func(c *Config) { c.Targets[0].Channels = nil }, "targets[0].channels"},
		{"infinite weight", func(c *Config) { c.Targets[0].Weight = math.Inf(1) }, "targets[0].weight"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(target("net", 0, 1, 2))
			tt.mutate(&cfg)

			err := cfg.Validate(exs)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *ConfigError, got %T", err)
			}
			if ce.Field != tt.field {
				t.Errorf("field = %q, want %q (%v)", ce.Field, tt.field, err)
			}
		})
	}
}

func TestValidateAcceptsGoodConfig(t *testing.T) {
	exs := map[string]extractor.Extractor{"net": linearNet(1)}
	cfg := testConfig(target("net", 0, 1, 0, 3, 100))
	if err := cfg.Validate(exs); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := testConfig()
	cfg.NumOctaves = 0
	cfg.OctaveScale = 1

	err := cfg.Validate(nil)
	for _, field := range []string{"num_octaves", "octave_scale", "targets"} {
		found := false
		for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
			var ce *ConfigError
			if errors.As(e, &ce) && ce.Field == field {
				found = true
			}
		}
		if !found {
			t.Errorf("missing error for %s in %v", field, err)
		}
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(target("missing", 0, 1, 0))
	if _, err := New(cfg, map[string]extractor.Extractor{"net": linearNet(1)}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}
