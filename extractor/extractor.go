// Package extractor provides the feature-extractor capability consumed by the
// dream engine: a forward pass that captures selected activations and a
// reverse pass that returns the gradient of a scalar loss with respect to the
// input image.
//
// Two extractor shapes are supported:
//   - Sequential: a flat, indexable layer list (VGG "features" style). Layers
//     are selected by integer index and evaluation stops at the deepest index
//     requested.
//   - Graph: a tree of named modules (Inception style) with parallel branches
//     and auxiliary heads. Layers are selected by dotted path and captured
//     through per-call hooks.
//
// Every Forward call records onto its own tape and writes captures into a
// caller-owned ActivationContext, so extractors hold no mutable state between
// calls and may be evaluated repeatedly or concurrently.
//
// Example usage:
//
//	actx := extractor.NewActivationContext()
//	pass, err := ex.Forward(img, []extractor.Selector{extractor.Index(24)}, actx)
//	res, _ := actx.Get(extractor.Index(24))
//	grad, err := pass.Backward(map[extractor.Selector]*tensor.Image{extractor.Index(24): seed})
package extractor

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/openfluke/reverie/tensor"
)

// Selector picks a layer inside an extractor, either by index or by dotted
// module path. A non-empty Name takes precedence.
type Selector struct {
	Index int
	Name  string
}

// Index selects layer i of a Sequential extractor.
func Index(i int) Selector { return Selector{Index: i} }

// Named selects a module path of a Graph extractor.
func Named(path string) Selector { return Selector{Name: path} }

// IsNamed reports whether the selector refers to a module path.
func (s Selector) IsNamed() bool { return s.Name != "" }

func (s Selector) String() string {
	if s.IsNamed() {
		return strconv.Quote(s.Name)
	}
	return strconv.Itoa(s.Index)
}

// MarshalJSON writes an index as a number and a path as a string.
func (s Selector) MarshalJSON() ([]byte, error) {
	if s.IsNamed() {
		return json.Marshal(s.Name)
	}
	return json.Marshal(s.Index)
}

// UnmarshalJSON accepts either 24 or "inception4c.branch4.0".
func (s *Selector) UnmarshalJSON(data []byte) error {
	var idx int
	if err := json.Unmarshal(data, &idx); err == nil {
		*s = Index(idx)
		return nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("layer selector must be an integer index or a module path, got %s", data)
	}
	if name == "" {
		return fmt.Errorf("layer selector path is empty")
	}
	*s = Named(name)
	return nil
}

// ResultKind tags an ActivationResult.
type ResultKind int

const (
	Single    ResultKind = 0 // one activation map
	Auxiliary ResultKind = 1 // main output plus an auxiliary head output
)

// ActivationResult is the captured output of one selected layer.
// Consumers that need a single map always read Primary.
type ActivationResult struct {
	Kind      ResultKind
	Primary   *tensor.Image
	Secondary *tensor.Image // nil unless Kind == Auxiliary
}

// ActivationContext collects the captures of one Forward call.
// It is created by the caller, filled during Forward and discarded after the
// gradient has been computed.
type ActivationContext struct {
	results map[Selector]ActivationResult
}

// NewActivationContext returns an empty capture context.
func NewActivationContext() *ActivationContext {
	return &ActivationContext{results: make(map[Selector]ActivationResult)}
}

// Get returns the activation captured for sel.
func (c *ActivationContext) Get(sel Selector) (ActivationResult, bool) {
	r, ok := c.results[sel]
	return r, ok
}

// Len returns the number of captured activations.
func (c *ActivationContext) Len() int { return len(c.results) }

// Reset drops every capture so the context can be reused.
func (c *ActivationContext) Reset() {
	for k := range c.results {
		delete(c.results, k)
	}
}

func (c *ActivationContext) capture(sel Selector, r ActivationResult) {
	c.results[sel] = r
}

// Extractor is the capability the dream engine drives.
type Extractor interface {
	// Resolve reports whether sel names a layer this extractor can capture.
	Resolve(sel Selector) error

	// Forward evaluates x only as deep as the deepest selector and stores each
	// selector's activation in actx. The returned Pass backpropagates to x.
	Forward(x *tensor.Image, sels []Selector, actx *ActivationContext) (Pass, error)
}

// Pass is the reverse half of one Forward call.
type Pass interface {
	// Backward injects dLoss/dActivation for each seeded selector (seeds must
	// match the Primary shape) and returns dLoss/dInput.
	Backward(seeds map[Selector]*tensor.Image) (*tensor.Image, error)
}

// tapePass adapts a recorded tape to the Pass interface.
type tapePass struct {
	tape     *Tape
	input    *Var
	captured map[Selector]*Var
}

func (p *tapePass) Backward(seeds map[Selector]*tensor.Image) (*tensor.Image, error) {
	for sel, seed := range seeds {
		v, ok := p.captured[sel]
		if !ok {
			return nil, fmt.Errorf("backward: selector %s was not captured in this pass", sel)
		}
		if err := v.accumulate(seed); err != nil {
			return nil, fmt.Errorf("backward: seed for %s: %w", sel, err)
		}
	}
	p.tape.Backward()
	if p.input.Grad == nil {
		return p.input.Value.ZerosLike(), nil
	}
	return p.input.Grad, nil
}
