package extractor

import (
	"fmt"

	"github.com/openfluke/reverie/tensor"
)

// concatChannels joins inputs along the channel axis.
func concatChannels(tp *Tape, xs []*Var) (*Var, error) {
	if len(xs) == 0 {
		return nil, fmt.Errorf("concat: no inputs")
	}
	first := xs[0].Value
	totalC := 0
	for i, x := range xs {
		v := x.Value
		if v.N != first.N || v.H != first.H || v.W != first.W {
			return nil, fmt.Errorf("%w: concat input %d is %s, expected spatial %dx%d", tensor.ErrShapeMismatch, i, v, first.H, first.W)
		}
		totalC += v.C
	}

	out := tensor.New(first.N, totalC, first.H, first.W)
	for b := 0; b < first.N; b++ {
		offset := 0
		for _, x := range xs {
			for c := 0; c < x.Value.C; c++ {
				copy(out.Plane(b, offset+c), x.Value.Plane(b, c))
			}
			offset += x.Value.C
		}
	}

	return tp.push(out, func(g *tensor.Image) {
		offset := 0
		for _, x := range xs {
			part := x.Value.ZerosLike()
			for b := 0; b < part.N; b++ {
				for c := 0; c < part.C; c++ {
					copy(part.Plane(b, c), g.Plane(b, offset+c))
				}
			}
			offset += part.C
			mustAccumulate(x, part)
		}
	}), nil
}

// addVars is the residual sum a + b.
func addVars(tp *Tape, a, b *Var) (*Var, error) {
	out, err := tensor.Add(a.Value, b.Value)
	if err != nil {
		return nil, fmt.Errorf("residual: %w", err)
	}
	return tp.push(out, func(g *tensor.Image) {
		mustAccumulate(a, g)
		mustAccumulate(b, g)
	}), nil
}
