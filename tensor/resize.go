package tensor

import (
	"fmt"
	"math"
)

// ResizeBilinear resamples src to (h, w) with bilinear interpolation and
// half-pixel centres (no corner alignment). Sampling never antialiases, so
// downscaling by more than 2x skips source pixels, matching the usual
// framework behaviour for this mode.
func ResizeBilinear(src *Image, h, w int) (*Image, error) {
	if h < 1 || w < 1 {
		return nil, fmt.Errorf("resize %s to (%d, %d): target size must be positive", src, h, w)
	}
	if src.H < 1 || src.W < 1 {
		return nil, fmt.Errorf("resize %s: source is empty", src)
	}
	if src.H == h && src.W == w {
		return src.Clone(), nil
	}

	ys := axisWeights(src.H, h)
	xs := axisWeights(src.W, w)

	out := New(src.N, src.C, h, w)
	planes := src.N * src.C
	ParallelFor(planes, func(p int) {
		n, c := p/src.C, p%src.C
		in := src.Plane(n, c)
		dst := out.Plane(n, c)
		for oy, ay := range ys {
			row0 := in[ay.i0*src.W : (ay.i0+1)*src.W]
			row1 := in[ay.i1*src.W : (ay.i1+1)*src.W]
			for ox, ax := range xs {
				top := row0[ax.i0]*(1-ax.frac) + row0[ax.i1]*ax.frac
				bot := row1[ax.i0]*(1-ax.frac) + row1[ax.i1]*ax.frac
				dst[oy*w+ox] = top*(1-ay.frac) + bot*ay.frac
			}
		}
	})
	return out, nil
}

type tap struct {
	i0, i1 int
	frac   float64
}

// axisWeights precomputes the two source taps and blend factor for every
// output coordinate along one axis.
func axisWeights(in, out int) []tap {
	scale := float64(in) / float64(out)
	taps := make([]tap, out)
	for o := range taps {
		s := (float64(o)+0.5)*scale - 0.5
		if s < 0 {
			s = 0
		}
		i0 := int(math.Floor(s))
		if i0 > in-1 {
			i0 = in - 1
		}
		i1 := i0 + 1
		if i1 > in-1 {
			i1 = in - 1
		}
		taps[o] = tap{i0: i0, i1: i1, frac: s - float64(i0)}
	}
	return taps
}
