// Package tensor provides the dense (N, C, H, W) float64 image tensor used by
// the dream engine and the feature extractors.
//
// Data is stored row-major: index = ((n*C + c)*H + h)*W + w. Arithmetic goes
// through gonum's floats and stat packages so every reduction (norm, mean,
// standard deviation) is computed the same way across packages.
package tensor

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrShapeMismatch is returned when two tensors must share a shape and don't.
var ErrShapeMismatch = errors.New("tensor: shape mismatch")

// Image is a 4-D tensor with shape (N, C, H, W).
type Image struct {
	N, C, H, W int
	Data       []float64
}

// New allocates a zero-valued tensor.
func New(n, c, h, w int) *Image {
	return &Image{N: n, C: c, H: h, W: w, Data: make([]float64, n*c*h*w)}
}

// FromSlice wraps data (not copied) with the given shape.
func FromSlice(data []float64, n, c, h, w int) (*Image, error) {
	if len(data) != n*c*h*w {
		return nil, fmt.Errorf("%w: %d values for shape (%d, %d, %d, %d)", ErrShapeMismatch, len(data), n, c, h, w)
	}
	return &Image{N: n, C: c, H: h, W: w, Data: data}, nil
}

// Shape returns (N, C, H, W).
func (t *Image) Shape() [4]int { return [4]int{t.N, t.C, t.H, t.W} }

// Len returns the number of elements.
func (t *Image) Len() int { return len(t.Data) }

// String formats the shape for error messages and logs.
func (t *Image) String() string {
	return fmt.Sprintf("(%d, %d, %d, %d)", t.N, t.C, t.H, t.W)
}

// SameShape reports whether t and o have identical shapes.
func (t *Image) SameShape(o *Image) bool {
	return t.N == o.N && t.C == o.C && t.H == o.H && t.W == o.W
}

// Index returns the flat offset of element (n, c, h, w).
func (t *Image) Index(n, c, h, w int) int {
	return ((n*t.C+c)*t.H+h)*t.W + w
}

// At returns element (n, c, h, w).
func (t *Image) At(n, c, h, w int) float64 { return t.Data[t.Index(n, c, h, w)] }

// Set writes element (n, c, h, w).
func (t *Image) Set(n, c, h, w int, v float64) { t.Data[t.Index(n, c, h, w)] = v }

// Plane returns the H*W slice for batch n, channel c. It aliases t.Data.
func (t *Image) Plane(n, c int) []float64 {
	off := (n*t.C + c) * t.H * t.W
	return t.Data[off : off+t.H*t.W]
}

// Clone returns a deep copy.
func (t *Image) Clone() *Image {
	out := &Image{N: t.N, C: t.C, H: t.H, W: t.W, Data: make([]float64, len(t.Data))}
	copy(out.Data, t.Data)
	return out
}

// ZerosLike returns a zero tensor with t's shape.
func (t *Image) ZerosLike() *Image { return New(t.N, t.C, t.H, t.W) }

// Fill sets every element to v.
func (t *Image) Fill(v float64) {
	for i := range t.Data {
		t.Data[i] = v
	}
}

// Channel copies channel c of every batch entry into a (N, 1, H, W) tensor.
// This is the t[:, c:c+1, :, :] slice.
func (t *Image) Channel(c int) *Image {
	out := New(t.N, 1, t.H, t.W)
	for n := 0; n < t.N; n++ {
		copy(out.Plane(n, 0), t.Plane(n, c))
	}
	return out
}

// AddInPlace performs t += o.
func (t *Image) AddInPlace(o *Image) error {
	if !t.SameShape(o) {
		return fmt.Errorf("%w: add %s and %s", ErrShapeMismatch, t, o)
	}
	floats.Add(t.Data, o.Data)
	return nil
}

// SubInPlace performs t -= o.
func (t *Image) SubInPlace(o *Image) error {
	if !t.SameShape(o) {
		return fmt.Errorf("%w: sub %s and %s", ErrShapeMismatch, t, o)
	}
	floats.Sub(t.Data, o.Data)
	return nil
}

// AddScaledInPlace performs t += alpha * o.
func (t *Image) AddScaledInPlace(alpha float64, o *Image) error {
	if !t.SameShape(o) {
		return fmt.Errorf("%w: axpy %s and %s", ErrShapeMismatch, t, o)
	}
	floats.AddScaled(t.Data, alpha, o.Data)
	return nil
}

// Scale multiplies every element by s in place.
func (t *Image) Scale(s float64) { floats.Scale(s, t.Data) }

// Add returns a + b as a new tensor.
func Add(a, b *Image) (*Image, error) {
	out := a.Clone()
	if err := out.AddInPlace(b); err != nil {
		return nil, err
	}
	return out, nil
}

// Sub returns a - b as a new tensor.
func Sub(a, b *Image) (*Image, error) {
	out := a.Clone()
	if err := out.SubInPlace(b); err != nil {
		return nil, err
	}
	return out, nil
}

// Sum returns the sum of all elements.
func (t *Image) Sum() float64 { return floats.Sum(t.Data) }

// Mean returns the arithmetic mean, or 0 for an empty tensor.
func (t *Image) Mean() float64 {
	if len(t.Data) == 0 {
		return 0
	}
	return stat.Mean(t.Data, nil)
}

// Norm returns the Frobenius (L2) norm over all elements.
func (t *Image) Norm() float64 {
	if len(t.Data) == 0 {
		return 0
	}
	return floats.Norm(t.Data, 2)
}

// Std returns the unbiased (n-1) standard deviation over all elements.
// Tensors with fewer than two elements have zero spread.
func (t *Image) Std() float64 {
	if len(t.Data) < 2 {
		return 0
	}
	return stat.StdDev(t.Data, nil)
}

// MaxAbsDiff returns max |t[i] - o[i]|, or +Inf when shapes differ.
func (t *Image) MaxAbsDiff(o *Image) float64 {
	if !t.SameShape(o) {
		return math.Inf(1)
	}
	m := 0.0
	for i, v := range t.Data {
		if d := math.Abs(v - o.Data[i]); d > m {
			m = d
		}
	}
	return m
}

// IsFinite reports whether no element is NaN or Inf.
func (t *Image) IsFinite() bool {
	for _, v := range t.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
