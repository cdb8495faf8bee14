package filter

import (
	"math"
	"testing"

	"github.com/openfluke/reverie/tensor"
)

func TestKernelSize(t *testing.T) {
	cases := []struct {
		sigma float64
		want  int
	}{
		{0, 1},
		{-1, 1},
		{0.1, 3},  // 1.6 -> 2 -> 3
		{0.5, 5},  // 4
		{1, 7},    // 7
		{1.4, 11}, // 9.4 -> 10 -> 11
		{1.5, 11}, // 10 -> 11
		{2, 13},
	}
	for _, c := range cases {
		if got := KernelSize(c.sigma); got != c.want {
			t.Errorf("KernelSize(%v): expected %d, got %d", c.sigma, c.want, got)
		}
	}
}

// TestKernelNormalized checks sum == 1, odd length and symmetry over a sweep
func TestKernelNormalized(t *testing.T) {
	for sigma := 0.05; sigma < 6; sigma += 0.173 {
		k := GaussianKernel(sigma)
		if len(k)%2 != 1 {
			t.Fatalf("sigma %v: kernel length %d is even", sigma, len(k))
		}
		sum := 0.0
		for i, v := range k {
			sum += v
			if math.Abs(v-k[len(k)-1-i]) > 1e-15 {
				t.Fatalf("sigma %v: kernel not symmetric at %d", sigma, i)
			}
		}
		if math.Abs(sum-1) > 1e-5 {
			t.Errorf("sigma %v: kernel sum %v", sigma, sum)
		}
		if mid := k[len(k)/2]; mid < k[0] {
			t.Errorf("sigma %v: centre tap should dominate", sigma)
		}
	}
}

func TestBlurPreservesShape(t *testing.T) {
	img := tensor.New(1, 3, 9, 14)
	out, err := Blur(img, 1.5)
	if err != nil {
		t.Fatal(err)
	}
	if !out.SameShape(img) {
		t.Errorf("Expected shape %s, got %s", img, out)
	}
}

// TestBlurVanishingSigmaIsIdentity covers blur(x, 0) ~ x
func TestBlurVanishingSigmaIsIdentity(t *testing.T) {
	img := tensor.New(1, 3, 8, 8)
	for i := range img.Data {
		img.Data[i] = math.Sin(float64(i))
	}
	for _, sigma := range []float64{0, 1e-3, 0.1} {
		out, err := Blur(img, sigma)
		if err != nil {
			t.Fatal(err)
		}
		if d := out.MaxAbsDiff(img); d > 1e-6 {
			t.Errorf("sigma %v: max diff %v from identity", sigma, d)
		}
	}

	// blur(blur(x, s), 0) == blur(x, s)
	once, _ := Blur(img, 1.5)
	twice, _ := Blur(once, 0)
	if once.MaxAbsDiff(twice) != 0 {
		t.Error("sigma 0 after a blur should be a no-op")
	}
}

// TestBlurImpulseResponse checks the separable output equals the outer
// product of the kernel with itself, and no energy leaks across channels.
func TestBlurImpulseResponse(t *testing.T) {
	img := tensor.New(1, 3, 15, 15)
	img.Set(0, 1, 7, 7, 1)

	out, err := Blur(img, 1.5)
	if err != nil {
		t.Fatal(err)
	}
	k := GaussianKernel(1.5)
	r := len(k) / 2
	for y := 0; y < 15; y++ {
		for x := 0; x < 15; x++ {
			want := 0.0
			dy, dx := y-7, x-7
			if dy >= -r && dy <= r && dx >= -r && dx <= r {
				want = k[dy+r] * k[dx+r]
			}
			if got := out.At(0, 1, y, x); math.Abs(got-want) > 1e-12 {
				t.Fatalf("(%d,%d): expected %g, got %g", y, x, want, got)
			}
		}
	}
	for _, c := range []int{0, 2} {
		for _, v := range out.Plane(0, c) {
			if v != 0 {
				t.Fatalf("channel %d picked up energy from channel 1", c)
			}
		}
	}
}

// TestBlurZeroPadding checks that a constant image loses mass at the border
func TestBlurZeroPadding(t *testing.T) {
	img := tensor.New(1, 1, 12, 12)
	img.Fill(1)
	out, _ := Blur(img, 1)
	if c := out.At(0, 0, 6, 6); math.Abs(c-1) > 1e-9 {
		t.Errorf("interior should stay 1, got %f", c)
	}
	if corner := out.At(0, 0, 0, 0); corner >= 0.5 {
		t.Errorf("corner should be attenuated by zero padding, got %f", corner)
	}
}

func TestBlurRejectsNaNSigma(t *testing.T) {
	if _, err := Blur(tensor.New(1, 1, 2, 2), math.NaN()); err == nil {
		t.Error("expected error for NaN sigma")
	}
}

func TestCPUSmootherMatchesBlur(t *testing.T) {
	img := tensor.New(1, 2, 6, 5)
	for i := range img.Data {
		img.Data[i] = float64(i % 7)
	}
	a, _ := Blur(img, 0.8)
	b, err := CPU{}.Smooth(img, 0.8)
	if err != nil {
		t.Fatal(err)
	}
	if a.MaxAbsDiff(b) != 0 {
		t.Error("CPU smoother should match Blur")
	}
}
