package extractor

import (
	"fmt"
	"math"

	"github.com/openfluke/reverie/tensor"
)

// DefaultBatchNormEps is the PyTorch BatchNorm2d default.
const DefaultBatchNormEps = 1e-5

// BatchNorm2D is an inference-mode batch normalization: every channel is
// normalized with its running statistics and then scaled and shifted.
type BatchNorm2D struct {
	Channels    int
	Eps         float64
	Weight      []float64 // gamma
	Bias        []float64 // beta
	RunningMean []float64
	RunningVar  []float64
}

// NewBatchNorm2D returns the identity normalization (gamma 1, beta 0,
// mean 0, var 1) for channels.
func NewBatchNorm2D(channels int, eps float64) *BatchNorm2D {
	if eps <= 0 {
		eps = DefaultBatchNormEps
	}
	bn := &BatchNorm2D{
		Channels:    channels,
		Eps:         eps,
		Weight:      make([]float64, channels),
		Bias:        make([]float64, channels),
		RunningMean: make([]float64, channels),
		RunningVar:  make([]float64, channels),
	}
	for c := 0; c < channels; c++ {
		bn.Weight[c] = 1
		bn.RunningVar[c] = 1
	}
	return bn
}

func (l *BatchNorm2D) Kind() string { return "batchnorm2d" }

// affine folds the statistics into y = scale*x + shift per channel.
func (l *BatchNorm2D) affine() (scale, shift []float64) {
	scale = make([]float64, l.Channels)
	shift = make([]float64, l.Channels)
	for c := range scale {
		scale[c] = l.Weight[c] / math.Sqrt(l.RunningVar[c]+l.Eps)
		shift[c] = l.Bias[c] - l.RunningMean[c]*scale[c]
	}
	return scale, shift
}

func (l *BatchNorm2D) apply(tp *Tape, x *Var) (*Var, error) {
	in := x.Value
	if in.C != l.Channels {
		return nil, fmt.Errorf("batchnorm2d: expected %d channels, got %d", l.Channels, in.C)
	}
	scale, shift := l.affine()

	out := in.ZerosLike()
	for b := 0; b < in.N; b++ {
		for c := 0; c < in.C; c++ {
			src, dst := in.Plane(b, c), out.Plane(b, c)
			for i, v := range src {
				dst[i] = scale[c]*v + shift[c]
			}
		}
	}

	return tp.push(out, func(g *tensor.Image) {
		gin := g.ZerosLike()
		for b := 0; b < g.N; b++ {
			for c := 0; c < g.C; c++ {
				src, dst := g.Plane(b, c), gin.Plane(b, c)
				for i, v := range src {
					dst[i] = scale[c] * v
				}
			}
		}
		mustAccumulate(x, gin)
	}), nil
}

// setWeights copies checkpoint statistics into the layer. nil slices keep
// the current values.
func (l *BatchNorm2D) setWeights(weight, bias, mean, variance []float32) error {
	for _, p := range []struct {
		name string
		src  []float32
		dst  []float64
	}{
		{"weight", weight, l.Weight},
		{"bias", bias, l.Bias},
		{"running_mean", mean, l.RunningMean},
		{"running_var", variance, l.RunningVar},
	} {
		if p.src == nil {
			continue
		}
		if len(p.src) != len(p.dst) {
			return fmt.Errorf("%s has %d values, layer expects %d", p.name, len(p.src), len(p.dst))
		}
		for i, v := range p.src {
			p.dst[i] = float64(v)
		}
	}
	return nil
}
