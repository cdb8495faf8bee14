package extractor

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/openfluke/reverie/tensor"
)

// Conv2D is a square-kernel 2-D convolution with an optional fused
// activation. Spatial size is taken from the input at call time, so the same
// layer serves every octave resolution.
type Conv2D struct {
	InChannels int
	Filters    int
	KernelSize int
	Stride     int
	Padding    int
	Activation ActivationType

	Kernel []float64 // [filters][inChannels][kernelSize][kernelSize]
	Bias   []float64 // [filters]
}

// NewConv2D initializes a Conv2D layer with He-initialized weights and zero bias
func NewConv2D(inChannels, filters, kernelSize, stride, padding int, activation ActivationType, rng *rand.Rand) *Conv2D {
	if stride < 1 {
		stride = 1
	}
	kernel := make([]float64, filters*inChannels*kernelSize*kernelSize)
	stddev := math.Sqrt(2.0 / float64(inChannels*kernelSize*kernelSize))
	for i := range kernel {
		kernel[i] = rng.NormFloat64() * stddev
	}

	return &Conv2D{
		InChannels: inChannels,
		Filters:    filters,
		KernelSize: kernelSize,
		Stride:     stride,
		Padding:    padding,
		Activation: activation,
		Kernel:     kernel,
		Bias:       make([]float64, filters),
	}
}

func (l *Conv2D) Kind() string { return "conv2d" }

// OutputSize returns the spatial output for an inH x inW input.
func (l *Conv2D) OutputSize(inH, inW int) (int, int) {
	outH := (inH+2*l.Padding-l.KernelSize)/l.Stride + 1
	outW := (inW+2*l.Padding-l.KernelSize)/l.Stride + 1
	return outH, outW
}

func (l *Conv2D) apply(tp *Tape, x *Var) (*Var, error) {
	in := x.Value
	if in.C != l.InChannels {
		return nil, fmt.Errorf("conv2d: expected %d input channels, got %d", l.InChannels, in.C)
	}
	outH, outW := l.OutputSize(in.H, in.W)
	if in.H+2*l.Padding < l.KernelSize || in.W+2*l.Padding < l.KernelSize || outH < 1 || outW < 1 {
		return nil, fmt.Errorf("conv2d: input %dx%d too small for kernel %d (padding %d)", in.H, in.W, l.KernelSize, l.Padding)
	}

	pre := l.forward(in, outH, outW)
	y := tp.push(pre, func(g *tensor.Image) {
		mustAccumulate(x, l.backwardInput(g, in))
	})
	return applyActivation(tp, y, l.Activation), nil
}

// forward computes the pre-activation output
// input shape: [batch][inChannels][height][width]
// output shape: [batch][filters][outHeight][outWidth]
func (l *Conv2D) forward(in *tensor.Image, outH, outW int) *tensor.Image {
	inH, inW, inC := in.H, in.W, in.C
	k, stride, padding := l.KernelSize, l.Stride, l.Padding
	out := tensor.New(in.N, l.Filters, outH, outW)

	tensor.ParallelFor(in.N*l.Filters, func(p int) {
		b, f := p/l.Filters, p%l.Filters
		dst := out.Plane(b, f)
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				sum := l.Bias[f]

				// Convolve over input channels
				for ic := 0; ic < inC; ic++ {
					src := in.Plane(b, ic)
					kBase := (f*inC + ic) * k * k
					for kh := 0; kh < k; kh++ {
						ih := oh*stride + kh - padding
						if ih < 0 || ih >= inH {
							continue
						}
						for kw := 0; kw < k; kw++ {
							iw := ow*stride + kw - padding
							if iw >= 0 && iw < inW {
								sum += src[ih*inW+iw] * l.Kernel[kBase+kh*k+kw]
							}
						}
					}
				}
				dst[oh*outW+ow] = sum
			}
		}
	})
	return out
}

// backwardInput computes the gradient w.r.t. the input. Work is split by
// input channel so concurrent workers never write the same plane.
func (l *Conv2D) backwardInput(gradOut, in *tensor.Image) *tensor.Image {
	inH, inW, inC := in.H, in.W, in.C
	outH, outW := gradOut.H, gradOut.W
	k, stride, padding := l.KernelSize, l.Stride, l.Padding
	gradIn := in.ZerosLike()

	tensor.ParallelFor(in.N*inC, func(p int) {
		b, ic := p/inC, p%inC
		dst := gradIn.Plane(b, ic)
		for f := 0; f < l.Filters; f++ {
			g := gradOut.Plane(b, f)
			kBase := (f*inC + ic) * k * k
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					gv := g[oh*outW+ow]
					if gv == 0 {
						continue
					}
					for kh := 0; kh < k; kh++ {
						ih := oh*stride + kh - padding
						if ih < 0 || ih >= inH {
							continue
						}
						for kw := 0; kw < k; kw++ {
							iw := ow*stride + kw - padding
							if iw >= 0 && iw < inW {
								dst[ih*inW+iw] += gv * l.Kernel[kBase+kh*k+kw]
							}
						}
					}
				}
			}
		}
	})
	return gradIn
}

// setWeights copies float32 weights from a checkpoint into the layer.
func (l *Conv2D) setWeights(kernel, bias []float32) error {
	if kernel != nil {
		if len(kernel) != len(l.Kernel) {
			return fmt.Errorf("kernel has %d values, layer expects %d", len(kernel), len(l.Kernel))
		}
		for i, v := range kernel {
			l.Kernel[i] = float64(v)
		}
	}
	if bias != nil {
		if len(bias) != len(l.Bias) {
			return fmt.Errorf("bias has %d values, layer expects %d", len(bias), len(l.Bias))
		}
		for i, v := range bias {
			l.Bias[i] = float64(v)
		}
	}
	return nil
}
