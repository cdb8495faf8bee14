package dream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/openfluke/reverie/extractor"
	"github.com/openfluke/reverie/filter"
	"github.com/openfluke/reverie/tensor"
)

// Logger receives warnings emitted during a run.
type Logger func(format string, args ...any)

// OctaveDescriptor is one level of the resolution pyramid.
type OctaveDescriptor struct {
	Index  int
	Scale  float64
	Height int
	Width  int
}

// BuildOctaves lists the pyramid levels for an h×w image, finest first.
// Octave i is scaled by octaveScale^-i with dimensions truncated to integers.
func BuildOctaves(h, w, numOctaves int, octaveScale float64) ([]OctaveDescriptor, error) {
	if numOctaves < 1 {
		return nil, &ConfigError{Field: "num_octaves", Reason: fmt.Sprintf("must be >= 1, got %d", numOctaves)}
	}
	if !finite(octaveScale) || octaveScale <= 1 {
		return nil, &ConfigError{Field: "octave_scale", Reason: fmt.Sprintf("must be > 1, got %v", octaveScale)}
	}

	octaves := make([]OctaveDescriptor, numOctaves)
	for i := range octaves {
		scale := math.Pow(octaveScale, -float64(i))
		// 1e-9 keeps exact products such as 130/1.3 from truncating to 99
		oh := int(float64(h)*scale + 1e-9)
		ow := int(float64(w)*scale + 1e-9)
		if oh < 1 || ow < 1 {
			return nil, &ConfigError{
				Field:  "num_octaves",
				Reason: fmt.Sprintf("octave %d of a %dx%d image would be %dx%d", i, w, h, ow, oh),
			}
		}
		octaves[i] = OctaveDescriptor{Index: i, Scale: scale, Height: oh, Width: ow}
	}
	return octaves, nil
}

// Option customizes a Dreamer.
type Option func(*Dreamer)

// WithSmoother replaces the CPU Gaussian blur, e.g. with the WebGPU one.
func WithSmoother(s filter.Smoother) Option {
	return func(d *Dreamer) { d.smoother = s }
}

// WithObserver adds a progress observer. May be given more than once.
func WithObserver(o Observer) Option {
	return func(d *Dreamer) {
		if o != nil {
			d.observers = append(d.observers, o)
		}
	}
}

// WithLogger sets the warning sink. nil silences warnings.
func WithLogger(l Logger) Option {
	return func(d *Dreamer) { d.logf = l }
}

// Dreamer runs octave gradient ascent with a fixed configuration.
type Dreamer struct {
	cfg        Config
	extractors map[string]extractor.Extractor
	smoother   filter.Smoother
	observers  multiObserver
	logf       Logger
}

// New validates cfg against extractors and returns a ready Dreamer.
// Every configuration problem is reported as a *ConfigError.
func New(cfg Config, extractors map[string]extractor.Extractor, opts ...Option) (*Dreamer, error) {
	if err := cfg.Validate(extractors); err != nil {
		return nil, err
	}
	d := &Dreamer{
		cfg:        cfg,
		extractors: extractors,
		smoother:   filter.CPU{},
		logf:       log.Printf,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Config returns the configuration the Dreamer was built with.
func (d *Dreamer) Config() Config { return d.cfg }

func (d *Dreamer) stepper() *Stepper {
	agg := NewAggregator(d.cfg.Targets, d.logf)
	return NewStepper(d.extractors, agg, d.smoother, d.cfg.Sigma, d.cfg.Epsilon)
}

// Run synthesizes a new image from img, which must be a normalized (1, C, H, W)
// tensor. img is not modified. Cancellation is checked between steps; a
// cancelled run returns the context error and no image.
func (d *Dreamer) Run(ctx context.Context, img *tensor.Image) (*tensor.Image, error) {
	if img == nil || img.Len() == 0 {
		return nil, errors.New("dream: empty input image")
	}
	if !img.IsFinite() {
		return nil, errors.New("dream: input image has non-finite values")
	}

	octaves, err := BuildOctaves(img.H, img.W, d.cfg.NumOctaves, d.cfg.OctaveScale)
	if err != nil {
		return nil, err
	}

	bases := make([]*tensor.Image, len(octaves))
	for i, o := range octaves {
		if bases[i], err = tensor.ResizeBilinear(img, o.Height, o.Width); err != nil {
			return nil, fmt.Errorf("building octave %d: %w", i, err)
		}
	}

	st := d.stepper()
	coarsest := len(octaves) - 1
	if err := st.probe(bases[coarsest]); err != nil {
		return nil, &ConfigError{
			Field:  "targets",
			Reason: fmt.Sprintf("probe at %dx%d failed: %v", octaves[coarsest].Width, octaves[coarsest].Height, err),
		}
	}

	detail := bases[coarsest].ZerosLike()
	var result *tensor.Image

	for i := coarsest; i >= 0; i-- {
		o := octaves[i]
		start := time.Now()

		if detail, err = tensor.ResizeBilinear(detail, o.Height, o.Width); err != nil {
			return nil, fmt.Errorf("octave %d: resizing detail: %w", i, err)
		}
		cur, err := tensor.Add(bases[i], detail)
		if err != nil {
			return nil, fmt.Errorf("octave %d: %w", i, err)
		}

		loss := 0.0
		for s := 0; s < d.cfg.NumSteps; s++ {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("octave %d step %d: %w", i, s, err)
			}
			if cur, loss, err = st.Step(cur, d.cfg.StepSize); err != nil {
				return nil, fmt.Errorf("octave %d step %d: %w", i, s, err)
			}
			d.observers.OnStep(Event{
				Type:       "step",
				Octave:     coarsest - i,
				Level:      i,
				NumOctaves: len(octaves),
				Step:       s + 1,
				NumSteps:   d.cfg.NumSteps,
				Height:     o.Height,
				Width:      o.Width,
				Loss:       loss,
				Elapsed:    time.Since(start),
			})
		}
		d.observers.OnOctave(Event{
			Type:       "octave",
			Octave:     coarsest - i,
			Level:      i,
			NumOctaves: len(octaves),
			Step:       d.cfg.NumSteps,
			NumSteps:   d.cfg.NumSteps,
			Height:     o.Height,
			Width:      o.Width,
			Loss:       loss,
			Elapsed:    time.Since(start),
		})

		if i == 0 {
			result = cur
			break
		}
		if detail, err = propagateDetail(cur, bases[i], octaves[i-1]); err != nil {
			return nil, fmt.Errorf("octave %d: %w", i, err)
		}
	}
	return result, nil
}

// propagateDetail returns resize(result) - resize(base) at the next finer
// octave's size.
func propagateDetail(result, base *tensor.Image, next OctaveDescriptor) (*tensor.Image, error) {
	up, err := tensor.ResizeBilinear(result, next.Height, next.Width)
	if err != nil {
		return nil, fmt.Errorf("upsampling result: %w", err)
	}
	upBase, err := tensor.ResizeBilinear(base, next.Height, next.Width)
	if err != nil {
		return nil, fmt.Errorf("upsampling base: %w", err)
	}
	if err := up.SubInPlace(upBase); err != nil {
		return nil, fmt.Errorf("detail residual: %w", err)
	}
	return up, nil
}
