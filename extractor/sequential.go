package extractor

import (
	"fmt"

	"github.com/openfluke/reverie/tensor"
)

// Layer is one step of a Sequential stack or a leaf of a Graph.
type Layer interface {
	Kind() string
	apply(tp *Tape, x *Var) (*Var, error)
}

// Sequential is an indexable layer list. Index i selects the output of
// Layers[i].
type Sequential struct {
	Layers []Layer
}

// NewSequential wraps layers into an extractor.
func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{Layers: layers}
}

// Resolve implements Extractor.
func (s *Sequential) Resolve(sel Selector) error {
	if sel.IsNamed() {
		return fmt.Errorf("sequential extractor selects layers by index, got path %s", sel)
	}
	if sel.Index < 0 || sel.Index >= len(s.Layers) {
		return fmt.Errorf("layer index %d out of range [0, %d)", sel.Index, len(s.Layers))
	}
	return nil
}

// Forward implements Extractor. Layers past the deepest selector are not run.
func (s *Sequential) Forward(x *tensor.Image, sels []Selector, actx *ActivationContext) (Pass, error) {
	deepest := -1
	wanted := make(map[int]bool, len(sels))
	for _, sel := range sels {
		if err := s.Resolve(sel); err != nil {
			return nil, err
		}
		wanted[sel.Index] = true
		if sel.Index > deepest {
			deepest = sel.Index
		}
	}

	tp := &Tape{}
	input := tp.Leaf(x)
	pass := &tapePass{tape: tp, input: input, captured: make(map[Selector]*Var, len(wanted))}

	cur := input
	for i := 0; i <= deepest; i++ {
		next, err := s.Layers[i].apply(tp, cur)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%s): %w", i, s.Layers[i].Kind(), err)
		}
		cur = next
		if wanted[i] {
			sel := Index(i)
			pass.captured[sel] = cur
			actx.capture(sel, ActivationResult{Kind: Single, Primary: cur.Value})
		}
	}
	return pass, nil
}
