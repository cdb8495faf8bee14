package extractor

import (
	"math"
	"math/rand"
	"testing"
)

func TestBatchNormGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	bn := NewBatchNorm2D(4, 0)
	for c := 0; c < 4; c++ {
		bn.Weight[c] = rng.NormFloat64()
		bn.Bias[c] = rng.NormFloat64()
		bn.RunningMean[c] = rng.NormFloat64()
		bn.RunningVar[c] = 0.5 + rng.Float64()
	}
	net := NewSequential(
		NewConv2D(3, 4, 3, 1, 1, ActivationLinear, rng),
		bn,
		&Activation{Type: ActivationTanh},
	)
	checkGradient(t, net, randomImage(rng, 3, 6, 6), Index(2))
}

func TestBatchNormIdentityDefaults(t *testing.T) {
	bn := NewBatchNorm2D(2, 0)
	if bn.Eps != DefaultBatchNormEps {
		t.Errorf("eps = %g, want %g", bn.Eps, DefaultBatchNormEps)
	}
	scale, shift := bn.affine()
	for c := range scale {
		if math.Abs(scale[c]-1/math.Sqrt(1+DefaultBatchNormEps)) > 1e-15 || shift[c] != 0 {
			t.Errorf("channel %d: scale %g shift %g", c, scale[c], shift[c])
		}
	}

	rng := rand.New(rand.NewSource(1))
	if _, err := NewSequential(bn).Forward(randomImage(rng, 3, 2, 2), []Selector{Index(0)}, NewActivationContext()); err == nil {
		t.Error("expected channel mismatch error")
	}
}
