package dream

import (
	"fmt"

	"github.com/openfluke/reverie/extractor"
	"github.com/openfluke/reverie/tensor"
)

// Seeds holds dLoss/dActivation per extractor id and selector.
type Seeds map[string]map[extractor.Selector]*tensor.Image

// Aggregator blends every target into one scalar:
//
//	loss = sum over targets, channels of weight * ||act[:, ch:ch+1]||
//
// and produces the matching activation gradients so a single backward pass
// per extractor carries every target's contribution. Not safe for
// concurrent use.
type Aggregator struct {
	targets []TargetSpec
	logf    func(format string, args ...any)
	warned  map[string]bool
}

// NewAggregator returns an aggregator over targets. logf receives one
// warning per clamped (target, channel) pair; nil disables warnings.
func NewAggregator(targets []TargetSpec, logf func(format string, args ...any)) *Aggregator {
	return &Aggregator{targets: targets, logf: logf, warned: make(map[string]bool)}
}

// Plan lists, per extractor, the distinct selectors to capture, in target order.
func (a *Aggregator) Plan() map[string][]extractor.Selector {
	plan := make(map[string][]extractor.Selector)
	seen := make(map[string]map[extractor.Selector]bool)
	for _, t := range a.targets {
		if seen[t.Extractor] == nil {
			seen[t.Extractor] = make(map[extractor.Selector]bool)
		}
		if seen[t.Extractor][t.Layer] {
			continue
		}
		seen[t.Extractor][t.Layer] = true
		plan[t.Extractor] = append(plan[t.Extractor], t.Layer)
	}
	return plan
}

// clampChannel maps ch into [0, c-1].
func clampChannel(ch, c int) int {
	if ch > c-1 {
		ch = c - 1
	}
	if ch < 0 {
		ch = 0
	}
	return ch
}

// Compute evaluates the loss from captured activations. The primary output
// is always used for auxiliary results.
func (a *Aggregator) Compute(acts map[string]*extractor.ActivationContext) (float64, Seeds, error) {
	total := 0.0
	seeds := make(Seeds)

	for ti, t := range a.targets {
		actx, ok := acts[t.Extractor]
		if !ok {
			return 0, nil, fmt.Errorf("target %d: no activations for extractor %q", ti, t.Extractor)
		}
		res, ok := actx.Get(t.Layer)
		if !ok {
			return 0, nil, fmt.Errorf("target %d: layer %s of %q was not captured", ti, t.Layer, t.Extractor)
		}
		feat := res.Primary
		if feat.C < 1 {
			return 0, nil, fmt.Errorf("target %d: layer %s of %q has no channels", ti, t.Layer, t.Extractor)
		}

		if seeds[t.Extractor] == nil {
			seeds[t.Extractor] = make(map[extractor.Selector]*tensor.Image)
		}
		seed := seeds[t.Extractor][t.Layer]
		if seed == nil {
			seed = feat.ZerosLike()
			seeds[t.Extractor][t.Layer] = seed
		}

		for _, requested := range t.Channels {
			ch := clampChannel(requested, feat.C)
			if ch != requested {
				a.warnClamp(ti, t, requested, ch)
			}

			norm := feat.Channel(ch).Norm()
			total += t.Weight * norm
			if norm == 0 {
				// subgradient 0 at the origin
				continue
			}
			scale := t.Weight / norm
			for n := 0; n < feat.N; n++ {
				src := feat.Plane(n, ch)
				dst := seed.Plane(n, ch)
				for i, v := range src {
					dst[i] += scale * v
				}
			}
		}
	}
	return total, seeds, nil
}

func (a *Aggregator) warnClamp(ti int, t TargetSpec, requested, used int) {
	if a.logf == nil {
		return
	}
	key := fmt.Sprintf("%d/%d", ti, requested)
	if a.warned[key] {
		return
	}
	a.warned[key] = true
	a.logf("⚠️  target %d (%s layer %s): channel %d out of range, using %d", ti, t.Extractor, t.Layer, requested, used)
}
