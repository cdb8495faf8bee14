package extractor

import (
	"fmt"
	"math"

	"github.com/openfluke/reverie/tensor"
)

// MaxPool2D takes the maximum over square windows. Padded positions never win.
type MaxPool2D struct {
	KernelSize int
	Stride     int
	Padding    int
	CeilMode   bool
}

func (l *MaxPool2D) Kind() string { return "maxpool2d" }

// OutputSize returns the spatial output for an inH x inW input.
func (l *MaxPool2D) OutputSize(inH, inW int) (int, int) {
	return l.outDim(inH), l.outDim(inW)
}

func (l *MaxPool2D) stride() int {
	if l.Stride < 1 {
		return l.KernelSize
	}
	return l.Stride
}

func (l *MaxPool2D) outDim(in int) int {
	s := l.stride()
	span := in + 2*l.Padding - l.KernelSize
	if span < 0 {
		return 0
	}
	if !l.CeilMode {
		return span/s + 1
	}
	out := (span+s-1)/s + 1
	// the last window must start inside the input or left padding
	if (out-1)*s >= in+l.Padding {
		out--
	}
	return out
}

func (l *MaxPool2D) apply(tp *Tape, x *Var) (*Var, error) {
	in := x.Value
	outH, outW := l.OutputSize(in.H, in.W)
	if outH < 1 || outW < 1 {
		return nil, fmt.Errorf("maxpool2d: input %dx%d too small for window %d", in.H, in.W, l.KernelSize)
	}
	s, k, pad := l.stride(), l.KernelSize, l.Padding

	out := tensor.New(in.N, in.C, outH, outW)
	argmax := make([]int32, out.Len())

	tensor.ParallelFor(in.N*in.C, func(p int) {
		b, c := p/in.C, p%in.C
		src := in.Plane(b, c)
		dst := out.Plane(b, c)
		base := (b*in.C + c) * outH * outW
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				best := math.Inf(-1)
				bestIdx := int32(-1)
				for kh := 0; kh < k; kh++ {
					ih := oh*s + kh - pad
					if ih < 0 || ih >= in.H {
						continue
					}
					for kw := 0; kw < k; kw++ {
						iw := ow*s + kw - pad
						if iw < 0 || iw >= in.W {
							continue
						}
						if v := src[ih*in.W+iw]; v > best || bestIdx < 0 {
							best = v
							bestIdx = int32(ih*in.W + iw)
						}
					}
				}
				dst[oh*outW+ow] = best
				argmax[base+oh*outW+ow] = bestIdx
			}
		}
	})

	return tp.push(out, func(g *tensor.Image) {
		gin := in.ZerosLike()
		for p := 0; p < in.N*in.C; p++ {
			b, c := p/in.C, p%in.C
			gp := g.Plane(b, c)
			dst := gin.Plane(b, c)
			base := p * outH * outW
			for i, gv := range gp {
				if idx := argmax[base+i]; idx >= 0 {
					dst[idx] += gv
				}
			}
		}
		mustAccumulate(x, gin)
	}), nil
}
