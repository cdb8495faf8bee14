package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/openfluke/reverie/dream"
	"github.com/openfluke/reverie/extractor"
	"github.com/openfluke/reverie/imageio"
)

// ExtractorConfig names one feature extractor of a run.
type ExtractorConfig struct {
	ID      string `json:"id"`
	Spec    string `json:"spec"`
	Weights string `json:"weights,omitempty"`
	// Seed overrides the architecture's initialization seed when set.
	Seed *int64 `json:"seed,omitempty"`
}

// RunConfig is the JSON file given with -config. The dream parameters sit at
// the top level next to the host settings.
type RunConfig struct {
	Extractors []ExtractorConfig `json:"extractors"`
	dream.Config

	Width         int                    `json:"width,omitempty"`
	Height        int                    `json:"height,omitempty"`
	Normalization *imageio.Normalization `json:"normalization,omitempty"`
	GPU           bool                   `json:"gpu,omitempty"`
	ProgressEvery int                    `json:"progress_every,omitempty"`
	ObserverURL   string                 `json:"observer_url,omitempty"`
}

func defaultRunConfig() RunConfig {
	return RunConfig{Config: dream.DefaultConfig(), ProgressEvery: 10}
}

// loadRunConfig reads path over the defaults, so omitted fields keep them.
// Relative extractor spec and weights paths are taken from the config's
// directory.
func loadRunConfig(path string) (RunConfig, error) {
	rc := defaultRunConfig()
	if path == "" {
		return rc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return rc, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, &rc); err != nil {
		return rc, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	for i := range rc.Extractors {
		ec := &rc.Extractors[i]
		if ec.Spec != "" && !filepath.IsAbs(ec.Spec) {
			ec.Spec = filepath.Join(dir, ec.Spec)
		}
		if ec.Weights != "" && !filepath.IsAbs(ec.Weights) {
			ec.Weights = filepath.Join(dir, ec.Weights)
		}
	}
	return rc, nil
}

func (rc *RunConfig) norm() imageio.Normalization {
	if rc.Normalization != nil {
		return *rc.Normalization
	}
	return imageio.ImageNet
}

// loadExtractors builds every configured extractor keyed by id.
func (rc *RunConfig) loadExtractors() (map[string]extractor.Extractor, error) {
	if len(rc.Extractors) == 0 {
		return nil, fmt.Errorf("no extractors configured")
	}
	out := make(map[string]extractor.Extractor, len(rc.Extractors))
	for i, ec := range rc.Extractors {
		if ec.ID == "" {
			return nil, fmt.Errorf("extractors[%d]: missing id", i)
		}
		if _, dup := out[ec.ID]; dup {
			return nil, fmt.Errorf("extractors[%d]: duplicate id %q", i, ec.ID)
		}
		spec, err := extractor.LoadSpec(ec.Spec)
		if err != nil {
			return nil, fmt.Errorf("extractor %q: %w", ec.ID, err)
		}
		if ec.Seed != nil {
			spec.Seed = *ec.Seed
		}
		var weights map[string][]float32
		if ec.Weights != "" {
			if weights, err = extractor.LoadSafetensors(ec.Weights); err != nil {
				return nil, fmt.Errorf("extractor %q: %w", ec.ID, err)
			}
		}
		ex, err := extractor.Build(spec, weights)
		if err != nil {
			return nil, fmt.Errorf("extractor %q: %w", ec.ID, err)
		}
		out[ec.ID] = ex
	}
	return out, nil
}

// overrides holds flag values; set records which flags were given.
type overrides struct {
	steps, octaves  int
	stepSize, scale float64
	sigma           float64
	width, height   int
	gpu             bool
	every           int
	observerURL     string
	set             map[string]bool
}

func (o *overrides) apply(rc *RunConfig) {
	if o.set["steps"] {
		rc.NumSteps = o.steps
	}
	if o.set["octaves"] {
		rc.NumOctaves = o.octaves
	}
	if o.set["step-size"] {
		rc.StepSize = o.stepSize
	}
	if o.set["scale"] {
		rc.OctaveScale = o.scale
	}
	if o.set["sigma"] {
		rc.Sigma = o.sigma
	}
	if o.set["width"] {
		rc.Width = o.width
	}
	if o.set["height"] {
		rc.Height = o.height
	}
	if o.set["gpu"] {
		rc.GPU = o.gpu
	}
	if o.set["every"] {
		rc.ProgressEvery = o.every
	}
	if o.set["observer-url"] {
		rc.ObserverURL = o.observerURL
	}
}

// parseLayerRef splits "id:layer" where layer is an index or a module path.
func parseLayerRef(s string) (string, extractor.Selector, error) {
	id, layer, ok := strings.Cut(s, ":")
	if !ok || id == "" || layer == "" {
		return "", extractor.Selector{}, fmt.Errorf("layer reference %q: want <extractor>:<layer>", s)
	}
	if i, err := strconv.Atoi(layer); err == nil {
		return id, extractor.Index(i), nil
	}
	return id, extractor.Named(layer), nil
}
