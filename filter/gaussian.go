// Package filter implements the separable Gaussian smoothing applied to
// gradients before each ascent update.
package filter

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/openfluke/reverie/tensor"
)

// DefaultSigma is the gradient smoothing width used when none is configured.
const DefaultSigma = 1.5

// Smoother smooths a tensor spatially, channel by channel.
type Smoother interface {
	Smooth(t *tensor.Image, sigma float64) (*tensor.Image, error)
}

// KernelSize returns the smallest odd integer >= 6*sigma + 1.
// Non-positive sigma yields a single-tap (identity) kernel.
func KernelSize(sigma float64) int {
	if sigma <= 0 {
		return 1
	}
	n := int(math.Ceil(6*sigma + 1))
	if n%2 == 0 {
		n++
	}
	return n
}

var kernelCache sync.Map // float64 -> []float64

// GaussianKernel returns the normalized 1-D Gaussian for sigma.
// The returned slice is shared; callers must not modify it.
func GaussianKernel(sigma float64) []float64 {
	if k, ok := kernelCache.Load(sigma); ok {
		return k.([]float64)
	}

	size := KernelSize(sigma)
	k := make([]float64, size)
	if size == 1 {
		k[0] = 1
	} else {
		radius := size / 2
		denom := 2 * sigma * sigma
		for i := range k {
			x := float64(i - radius)
			k[i] = math.Exp(-x * x / denom)
		}
		floats.Scale(1/floats.Sum(k), k)
	}

	actual, _ := kernelCache.LoadOrStore(sigma, k)
	return actual.([]float64)
}

// CPU is the reference Smoother. Channels are independent, so planes are
// convolved concurrently.
type CPU struct{}

// Smooth implements Smoother.
func (CPU) Smooth(t *tensor.Image, sigma float64) (*tensor.Image, error) {
	return Blur(t, sigma)
}

// Blur convolves every (batch, channel) plane with the 1-D Gaussian along
// width and then along height. Borders are zero-padded and the output keeps
// the input shape.
func Blur(t *tensor.Image, sigma float64) (*tensor.Image, error) {
	if math.IsNaN(sigma) || math.IsInf(sigma, 0) {
		return nil, fmt.Errorf("blur: sigma must be finite, got %v", sigma)
	}
	k := GaussianKernel(sigma)
	out := t.ZerosLike()
	if len(k) == 1 {
		copy(out.Data, t.Data)
		return out, nil
	}

	h, w := t.H, t.W
	tensor.ParallelFor(t.N*t.C, func(p int) {
		n, c := p/t.C, p%t.C
		src := t.Plane(n, c)
		dst := out.Plane(n, c)
		tmp := make([]float64, h*w)
		convolveRows(tmp, src, h, w, k)
		convolveCols(dst, tmp, h, w, k)
	})
	return out, nil
}

// convolveRows runs the kernel horizontally across each row.
func convolveRows(dst, src []float64, h, w int, k []float64) {
	r := len(k) / 2
	for y := 0; y < h; y++ {
		row := src[y*w : (y+1)*w]
		out := dst[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			sum := 0.0
			lo, hi := -r, r
			if x+lo < 0 {
				lo = -x
			}
			if x+hi > w-1 {
				hi = w - 1 - x
			}
			for d := lo; d <= hi; d++ {
				sum += k[d+r] * row[x+d]
			}
			out[x] = sum
		}
	}
}

// convolveCols runs the kernel vertically down each column.
func convolveCols(dst, src []float64, h, w int, k []float64) {
	r := len(k) / 2
	for y := 0; y < h; y++ {
		lo, hi := -r, r
		if y+lo < 0 {
			lo = -y
		}
		if y+hi > h-1 {
			hi = h - 1 - y
		}
		out := dst[y*w : (y+1)*w]
		for d := lo; d <= hi; d++ {
			kv := k[d+r]
			floats.AddScaled(out, kv, src[(y+d)*w:(y+d+1)*w])
		}
	}
}
