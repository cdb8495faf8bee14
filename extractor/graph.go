package extractor

import (
	"fmt"
	"strconv"

	"github.com/openfluke/reverie/tensor"
)

// ModuleKind tells a Graph module how to combine its children.
type ModuleKind int

const (
	ModuleLayer     ModuleKind = 0 // leaf wrapping a Layer
	ModuleSequence  ModuleKind = 1 // children run one after another
	ModuleConcat    ModuleKind = 2 // children run on the same input, outputs joined on channels
	ModuleResidual  ModuleKind = 3 // children run in sequence, output added to the input
	ModuleAuxiliary ModuleKind = 4 // Children[0] is the main path, Children[1] an auxiliary head
)

// Module is a node of a Graph extractor. Unnamed children are addressed by
// their position, so "inception4c.branch4.0" is the first child of branch4.
type Module struct {
	Name     string
	Kind     ModuleKind
	Layer    Layer
	Children []*Module
}

// Graph is a named-module extractor. Activations are captured by dotted path
// through per-call hooks.
type Graph struct {
	Modules []*Module

	paths map[string]int // dotted path -> index of the top-level module containing it
}

// NewGraph indexes every module path. Duplicate paths are rejected.
func NewGraph(modules ...*Module) (*Graph, error) {
	g := &Graph{Modules: modules, paths: make(map[string]int)}
	for i, m := range modules {
		if err := g.index(m, "", i, i); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func childName(m *Module, pos int) string {
	if m.Name != "" {
		return m.Name
	}
	return strconv.Itoa(pos)
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func (g *Graph) index(m *Module, prefix string, pos, top int) error {
	path := joinPath(prefix, childName(m, pos))
	if _, dup := g.paths[path]; dup {
		return fmt.Errorf("duplicate module path %q", path)
	}
	switch m.Kind {
	case ModuleLayer:
		if m.Layer == nil {
			return fmt.Errorf("module %q has no layer", path)
		}
	case ModuleAuxiliary:
		if len(m.Children) != 2 {
			return fmt.Errorf("auxiliary module %q needs exactly 2 children (main, aux), has %d", path, len(m.Children))
		}
	case ModuleSequence, ModuleConcat, ModuleResidual:
		if len(m.Children) == 0 {
			return fmt.Errorf("module %q has no children", path)
		}
	default:
		return fmt.Errorf("module %q has unknown kind %d", path, m.Kind)
	}
	g.paths[path] = top
	for i, c := range m.Children {
		if err := g.index(c, path, i, top); err != nil {
			return err
		}
	}
	return nil
}

// Paths returns every addressable module path.
func (g *Graph) Paths() []string {
	out := make([]string, 0, len(g.paths))
	for p := range g.paths {
		out = append(out, p)
	}
	return out
}

// Resolve implements Extractor.
func (g *Graph) Resolve(sel Selector) error {
	if !sel.IsNamed() {
		return fmt.Errorf("graph extractor selects modules by path, got index %s", sel)
	}
	if _, ok := g.paths[sel.Name]; !ok {
		return fmt.Errorf("unknown module path %s", sel)
	}
	return nil
}

type graphRun struct {
	tape  *Tape
	hooks map[string]bool
	pass  *tapePass
	actx  *ActivationContext
}

// Forward implements Extractor. Top-level modules after the last one that
// contains a hooked path are not run.
func (g *Graph) Forward(x *tensor.Image, sels []Selector, actx *ActivationContext) (Pass, error) {
	deepest := -1
	hooks := make(map[string]bool, len(sels))
	for _, sel := range sels {
		if err := g.Resolve(sel); err != nil {
			return nil, err
		}
		hooks[sel.Name] = true
		if top := g.paths[sel.Name]; top > deepest {
			deepest = top
		}
	}

	tp := &Tape{}
	input := tp.Leaf(x)
	run := &graphRun{
		tape:  tp,
		hooks: hooks,
		pass:  &tapePass{tape: tp, input: input, captured: make(map[Selector]*Var, len(hooks))},
		actx:  actx,
	}

	cur := input
	for i := 0; i <= deepest; i++ {
		next, err := run.eval(g.Modules[i], "", i, cur)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return run.pass, nil
}

func (r *graphRun) eval(m *Module, prefix string, pos int, x *Var) (*Var, error) {
	path := joinPath(prefix, childName(m, pos))
	var (
		out *Var
		aux *Var
		err error
	)

	switch m.Kind {
	case ModuleLayer:
		out, err = m.Layer.apply(r.tape, x)
	case ModuleSequence:
		out, err = r.evalChain(m, path, x)
	case ModuleConcat:
		branches := make([]*Var, len(m.Children))
		for i, c := range m.Children {
			if branches[i], err = r.eval(c, path, i, x); err != nil {
				return nil, err
			}
		}
		out, err = concatChannels(r.tape, branches)
	case ModuleResidual:
		var y *Var
		if y, err = r.evalChain(m, path, x); err == nil {
			out, err = addVars(r.tape, x, y)
		}
	case ModuleAuxiliary:
		if out, err = r.eval(m.Children[0], path, 0, x); err == nil {
			aux, err = r.eval(m.Children[1], path, 1, x)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("module %q: %w", path, err)
	}

	if r.hooks[path] {
		sel := Named(path)
		res := ActivationResult{Kind: Single, Primary: out.Value}
		if aux != nil {
			res.Kind = Auxiliary
			res.Secondary = aux.Value
		}
		r.pass.captured[sel] = out
		r.actx.capture(sel, res)
	}
	return out, nil
}

func (r *graphRun) evalChain(m *Module, path string, x *Var) (*Var, error) {
	cur := x
	for i, c := range m.Children {
		next, err := r.eval(c, path, i, cur)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}
