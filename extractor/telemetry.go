package extractor

import (
	"fmt"
	"sort"

	"github.com/openfluke/reverie/tensor"
)

// Blueprint is the structure of an extractor as seen by one input size.
type Blueprint struct {
	ID          string           `json:"id"`
	InputShape  []int            `json:"input_shape"`
	TotalLayers int              `json:"total_layers"`
	TotalParams int              `json:"total_parameters"`
	Layers      []LayerTelemetry `json:"layers"`
}

// LayerTelemetry describes one selectable layer or module.
type LayerTelemetry struct {
	Selector    Selector `json:"selector"`
	Type        string   `json:"type"`
	Parameters  int      `json:"parameters"`
	OutputShape []int    `json:"output_shape"`
	Auxiliary   bool     `json:"auxiliary,omitempty"`
}

func (k ModuleKind) String() string {
	switch k {
	case ModuleLayer:
		return "layer"
	case ModuleSequence:
		return "sequence"
	case ModuleConcat:
		return "concat"
	case ModuleResidual:
		return "residual"
	case ModuleAuxiliary:
		return "aux"
	default:
		return fmt.Sprintf("ModuleKind(%d)", int(k))
	}
}

func layerParams(l Layer) int {
	switch l := l.(type) {
	case *Conv2D:
		return len(l.Kernel) + len(l.Bias)
	case *BatchNorm2D:
		// running statistics are buffers, not parameters
		return len(l.Weight) + len(l.Bias)
	}
	return 0
}

func moduleParams(m *Module) int {
	if m.Kind == ModuleLayer {
		return layerParams(m.Layer)
	}
	n := 0
	for _, c := range m.Children {
		n += moduleParams(c)
	}
	return n
}

func (g *Graph) walk(fn func(path string, m *Module)) {
	var visit func(m *Module, prefix string, pos int)
	visit = func(m *Module, prefix string, pos int) {
		path := joinPath(prefix, childName(m, pos))
		fn(path, m)
		for i, c := range m.Children {
			visit(c, path, i)
		}
	}
	for i, m := range g.Modules {
		visit(m, "", i)
	}
}

// Describe runs ex once on a zero (1, c, h, w) input and reports every
// selectable layer with its parameter count and output shape.
func Describe(id string, ex Extractor, c, h, w int) (*Blueprint, error) {
	type entry struct {
		sel    Selector
		kind   string
		params int
	}
	var entries []entry
	total := 0

	switch e := ex.(type) {
	case *Sequential:
		for i, l := range e.Layers {
			p := layerParams(l)
			total += p
			entries = append(entries, entry{Index(i), l.Kind(), p})
		}
	case *Graph:
		for _, m := range e.Modules {
			total += moduleParams(m)
		}
		e.walk(func(path string, m *Module) {
			kind := m.Kind.String()
			if m.Kind == ModuleLayer {
				kind = m.Layer.Kind()
			}
			entries = append(entries, entry{Named(path), kind, moduleParams(m)})
		})
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].sel.Name < entries[j].sel.Name })
	default:
		return nil, fmt.Errorf("cannot describe extractor of type %T", ex)
	}

	sels := make([]Selector, len(entries))
	for i, en := range entries {
		sels[i] = en.sel
	}
	actx := NewActivationContext()
	if _, err := ex.Forward(tensor.New(1, c, h, w), sels, actx); err != nil {
		return nil, fmt.Errorf("describe %s: %w", id, err)
	}

	bp := &Blueprint{ID: id, InputShape: []int{1, c, h, w}, TotalLayers: len(entries), TotalParams: total}
	for _, en := range entries {
		res, _ := actx.Get(en.sel)
		shape := res.Primary.Shape()
		bp.Layers = append(bp.Layers, LayerTelemetry{
			Selector:    en.sel,
			Type:        en.kind,
			Parameters:  en.params,
			OutputShape: shape[:],
			Auxiliary:   res.Kind == Auxiliary,
		})
	}
	return bp, nil
}
