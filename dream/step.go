package dream

import (
	"fmt"
	"sort"

	"github.com/openfluke/reverie/extractor"
	"github.com/openfluke/reverie/filter"
	"github.com/openfluke/reverie/tensor"
)

// Stepper performs one gradient ascent update.
type Stepper struct {
	extractors map[string]extractor.Extractor
	agg        *Aggregator
	plan       map[string][]extractor.Selector
	order      []string // extractor ids in a fixed order so gradient sums are reproducible
	smoother   filter.Smoother
	sigma      float64
	epsilon    float64
}

// NewStepper wires the aggregator to the extractors it references.
func NewStepper(extractors map[string]extractor.Extractor, agg *Aggregator, smoother filter.Smoother, sigma, epsilon float64) *Stepper {
	if smoother == nil {
		smoother = filter.CPU{}
	}
	plan := agg.Plan()
	order := make([]string, 0, len(plan))
	for id := range plan {
		order = append(order, id)
	}
	sort.Strings(order)

	return &Stepper{
		extractors: extractors,
		agg:        agg,
		plan:       plan,
		order:      order,
		smoother:   smoother,
		sigma:      sigma,
		epsilon:    epsilon,
	}
}

// forward evaluates every referenced extractor on img, each truncated to its
// deepest target, with a fresh capture context per extractor.
func (s *Stepper) forward(img *tensor.Image) (map[string]*extractor.ActivationContext, map[string]extractor.Pass, error) {
	acts := make(map[string]*extractor.ActivationContext, len(s.order))
	passes := make(map[string]extractor.Pass, len(s.order))
	for _, id := range s.order {
		ex, ok := s.extractors[id]
		if !ok {
			return nil, nil, fmt.Errorf("unknown extractor %q", id)
		}
		actx := extractor.NewActivationContext()
		pass, err := ex.Forward(img, s.plan[id], actx)
		if err != nil {
			return nil, nil, fmt.Errorf("extractor %q: %w", id, err)
		}
		acts[id] = actx
		passes[id] = pass
	}
	return acts, passes, nil
}

// Gradient returns the aggregated loss and dLoss/dImage, before smoothing.
func (s *Stepper) Gradient(img *tensor.Image) (float64, *tensor.Image, error) {
	acts, passes, err := s.forward(img)
	if err != nil {
		return 0, nil, err
	}
	loss, seeds, err := s.agg.Compute(acts)
	if err != nil {
		return 0, nil, err
	}

	grad := img.ZerosLike()
	for _, id := range s.order {
		g, err := passes[id].Backward(seeds[id])
		if err != nil {
			return 0, nil, fmt.Errorf("extractor %q: %w", id, err)
		}
		if err := grad.AddInPlace(g); err != nil {
			return 0, nil, fmt.Errorf("extractor %q gradient: %w", id, err)
		}
	}
	return loss, grad, nil
}

// Step returns img + stepSize * smooth(grad) / (std(smooth(grad)) + eps) and
// the loss measured before the update. img is not modified; the result is a
// new tensor with no ties to the extractor tapes.
func (s *Stepper) Step(img *tensor.Image, stepSize float64) (*tensor.Image, float64, error) {
	loss, grad, err := s.Gradient(img)
	if err != nil {
		return nil, 0, err
	}

	smoothed, err := s.smoother.Smooth(grad, s.sigma)
	if err != nil {
		return nil, 0, fmt.Errorf("smoothing gradient: %w", err)
	}

	out := img.Clone()
	// a flat gradient leaves the image as it is
	var scale float64
	if denom := smoothed.Std() + s.epsilon; denom > 0 {
		scale = stepSize / denom
	}
	if err := out.AddScaledInPlace(scale, smoothed); err != nil {
		return nil, 0, fmt.Errorf("applying update: %w", err)
	}
	return out, loss, nil
}

// probe runs one forward pass and the loss, without backward, to surface
// size or selector problems before a run starts.
func (s *Stepper) probe(img *tensor.Image) error {
	acts, _, err := s.forward(img)
	if err != nil {
		return err
	}
	_, _, err = s.agg.Compute(acts)
	return err
}
