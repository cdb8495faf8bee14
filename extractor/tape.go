package extractor

import (
	"fmt"

	"github.com/openfluke/reverie/tensor"
)

// Var is a value recorded on a tape together with its accumulated gradient.
type Var struct {
	Value *tensor.Image
	Grad  *tensor.Image
}

func (v *Var) accumulate(g *tensor.Image) error {
	if !g.SameShape(v.Value) {
		return fmt.Errorf("%w: gradient %s for value %s", tensor.ErrShapeMismatch, g, v.Value)
	}
	if v.Grad == nil {
		v.Grad = g.Clone()
		return nil
	}
	return v.Grad.AddInPlace(g)
}

type record struct {
	out      *Var
	backward func(gradOut *tensor.Image)
}

// Tape records operations in execution order for one reverse pass.
type Tape struct {
	records []record
}

// Leaf registers an input value.
func (tp *Tape) Leaf(x *tensor.Image) *Var {
	return &Var{Value: x}
}

// push registers out with the closure that distributes its gradient to the
// operation's inputs.
func (tp *Tape) push(out *tensor.Image, backward func(gradOut *tensor.Image)) *Var {
	v := &Var{Value: out}
	tp.records = append(tp.records, record{out: v, backward: backward})
	return v
}

// Backward walks the tape in reverse. Records whose output never received a
// gradient are skipped.
func (tp *Tape) Backward() {
	for i := len(tp.records) - 1; i >= 0; i-- {
		r := tp.records[i]
		if r.out.Grad == nil {
			continue
		}
		r.backward(r.out.Grad)
	}
}

// Len returns the number of recorded operations.
func (tp *Tape) Len() int { return len(tp.records) }

// mustAccumulate is used inside backward closures, where shapes are fixed by
// the forward pass and a mismatch is a programming error.
func mustAccumulate(v *Var, g *tensor.Image) {
	if err := v.accumulate(g); err != nil {
		panic(err)
	}
}
