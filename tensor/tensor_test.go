package tensor

import (
	"errors"
	"math"
	"testing"
)

// TestImageIndexing verifies flat layout and plane views
func TestImageIndexing(t *testing.T) {
	img := New(1, 3, 2, 4)
	if img.Len() != 24 {
		t.Fatalf("Expected 24 elements, got %d", img.Len())
	}

	img.Set(0, 2, 1, 3, 7)
	if img.Data[23] != 7 {
		t.Errorf("Expected last element to be 7, got %f", img.Data[23])
	}

	plane := img.Plane(0, 2)
	if len(plane) != 8 || plane[7] != 7 {
		t.Errorf("Plane view wrong: %v", plane)
	}
	plane[0] = 5
	if img.At(0, 2, 0, 0) != 5 {
		t.Error("Plane should alias the tensor data")
	}
}

// TestImageClone verifies deep copy semantics
func TestImageClone(t *testing.T) {
	a := New(1, 1, 2, 2)
	a.Fill(1)
	b := a.Clone()
	a.Data[0] = 100
	if b.Data[0] != 1 {
		t.Errorf("Clone was modified when original changed")
	}
}

// TestChannelSlice verifies t[:, c:c+1]
func TestChannelSlice(t *testing.T) {
	img := New(1, 3, 2, 2)
	for c := 0; c < 3; c++ {
		for i := range img.Plane(0, c) {
			img.Plane(0, c)[i] = float64(c*10 + i)
		}
	}
	ch := img.Channel(1)
	if ch.C != 1 || ch.H != 2 || ch.W != 2 {
		t.Fatalf("Expected shape (1,1,2,2), got %s", ch)
	}
	for i, v := range ch.Data {
		if v != float64(10+i) {
			t.Errorf("ch[%d]: expected %d, got %f", i, 10+i, v)
		}
	}
}

// TestArithmeticShapeMismatch verifies ErrShapeMismatch is surfaced
func TestArithmeticShapeMismatch(t *testing.T) {
	a := New(1, 3, 4, 4)
	b := New(1, 3, 4, 5)

	if err := a.AddInPlace(b); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("AddInPlace: expected ErrShapeMismatch, got %v", err)
	}
	if _, err := Sub(a, b); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Sub: expected ErrShapeMismatch, got %v", err)
	}
	if err := a.AddScaledInPlace(2, b); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("AddScaledInPlace: expected ErrShapeMismatch, got %v", err)
	}
	if _, err := FromSlice(make([]float64, 5), 1, 1, 2, 2); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("FromSlice: expected ErrShapeMismatch, got %v", err)
	}
}

// TestAddScaled verifies t += alpha * o
func TestAddScaled(t *testing.T) {
	a, _ := FromSlice([]float64{1, 2, 3, 4}, 1, 1, 2, 2)
	b, _ := FromSlice([]float64{1, 1, 1, 1}, 1, 1, 2, 2)
	if err := a.AddScaledInPlace(0.5, b); err != nil {
		t.Fatal(err)
	}
	want := []float64{1.5, 2.5, 3.5, 4.5}
	for i, v := range a.Data {
		if v != want[i] {
			t.Errorf("a[%d]: expected %f, got %f", i, want[i], v)
		}
	}
}

// TestReductions verifies norm, mean and unbiased standard deviation
func TestReductions(t *testing.T) {
	a, _ := FromSlice([]float64{2, 4, 4, 4, 5, 5, 7, 9}, 1, 2, 2, 2)

	if math.Abs(a.Mean()-5) > 1e-12 {
		t.Errorf("Mean: expected 5, got %f", a.Mean())
	}
	// population std is 2, unbiased is sqrt(32/7)
	wantStd := math.Sqrt(32.0 / 7.0)
	if math.Abs(a.Std()-wantStd) > 1e-12 {
		t.Errorf("Std: expected %f, got %f", wantStd, a.Std())
	}
	wantNorm := math.Sqrt(4 + 16 + 16 + 16 + 25 + 25 + 49 + 81)
	if math.Abs(a.Norm()-wantNorm) > 1e-12 {
		t.Errorf("Norm: expected %f, got %f", wantNorm, a.Norm())
	}

	single := New(1, 1, 1, 1)
	if single.Std() != 0 {
		t.Errorf("Std of one element should be 0, got %f", single.Std())
	}
	if New(0, 0, 0, 0).Norm() != 0 {
		t.Error("Norm of empty tensor should be 0")
	}
}

func TestIsFinite(t *testing.T) {
	a := New(1, 1, 1, 2)
	if !a.IsFinite() {
		t.Error("zeros should be finite")
	}
	a.Data[1] = math.NaN()
	if a.IsFinite() {
		t.Error("NaN should not be finite")
	}
}

func TestParallelForVisitsEveryIndex(t *testing.T) {
	seen := make([]int, 97)
	ParallelFor(len(seen), func(i int) { seen[i]++ })
	for i, n := range seen {
		if n != 1 {
			t.Fatalf("index %d visited %d times", i, n)
		}
	}
}
