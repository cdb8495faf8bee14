package imageio

import (
	"image"
	"image/color"
	"math"
	"path/filepath"
	"testing"

	"github.com/openfluke/reverie/tensor"
)

func checker(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{R: uint8(x * 255 / max(1, w-1)), G: uint8(y * 255 / max(1, h-1)), B: 60, A: 255}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestPreprocessNormalizes(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 255, 0, 128, 255
	}
	x, err := Preprocess(img, 0, 0, ImageNet)
	if err != nil {
		t.Fatal(err)
	}
	if x.N != 1 || x.C != 3 || x.H != 3 || x.W != 4 {
		t.Fatalf("shape %s", x)
	}
	want := [3]float64{
		(1 - 0.485) / 0.229,
		(0 - 0.456) / 0.224,
		(128.0/255 - 0.406) / 0.225,
	}
	for c := 0; c < 3; c++ {
		if got := x.At(0, c, 1, 2); math.Abs(got-want[c]) > 1e-9 {
			t.Errorf("channel %d = %g, want %g", c, got, want[c])
		}
	}
}

func TestPreprocessResizes(t *testing.T) {
	x, err := Preprocess(checker(40, 30), 20, 10, ImageNet)
	if err != nil {
		t.Fatal(err)
	}
	if x.H != 10 || x.W != 20 {
		t.Errorf("shape %s, want 10x20", x)
	}
}

func TestDeprocessInvertsPreprocess(t *testing.T) {
	src := checker(9, 7)
	x, err := Preprocess(src, 0, 0, ImageNet)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Deprocess(x, ImageNet)
	if err != nil {
		t.Fatal(err)
	}
	for i := range src.Pix {
		if d := int(src.Pix[i]) - int(out.Pix[i]); d < -1 || d > 1 {
			t.Fatalf("pixel byte %d: %d vs %d", i, src.Pix[i], out.Pix[i])
		}
	}
}

func TestDeprocessClamps(t *testing.T) {
	x := tensor.New(1, 3, 1, 2)
	x.Set(0, 0, 0, 0, 100)
	x.Set(0, 0, 0, 1, -100)
	x.Set(0, 1, 0, 0, math.NaN())
	out, err := Deprocess(x, ImageNet)
	if err != nil {
		t.Fatal(err)
	}
	if r := out.NRGBAAt(0, 0).R; r != 255 {
		t.Errorf("bright pixel R = %d", r)
	}
	if r := out.NRGBAAt(1, 0).R; r != 0 {
		t.Errorf("dark pixel R = %d", r)
	}
	if g := out.NRGBAAt(0, 0).G; g != 0 {
		t.Errorf("NaN should map to 0, got %d", g)
	}
}

func TestDeprocessRejectsShape(t *testing.T) {
	if _, err := Deprocess(tensor.New(1, 1, 2, 2), ImageNet); err == nil {
		t.Error("single-channel tensor accepted")
	}
	bad := ImageNet
	bad.Std[1] = 0
	if _, err := Deprocess(tensor.New(1, 3, 2, 2), bad); err == nil {
		t.Error("zero std accepted")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := checker(16, 12)

	for _, name := range []string{"a.png", "b.bmp"} {
		path := filepath.Join(dir, name)
		if err := Save(path, src); err != nil {
			t.Fatalf("Save %s: %v", name, err)
		}
		img, err := Load(path)
		if err != nil {
			t.Fatalf("Load %s: %v", name, err)
		}
		if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 12 {
			t.Errorf("%s bounds %v", name, img.Bounds())
		}
		r, _, _, _ := img.At(15, 0).RGBA()
		if r>>8 != 255 {
			t.Errorf("%s: pixel (15,0) red = %d", name, r>>8)
		}
	}

	if err := Save(filepath.Join(dir, "c.gifx"), src); err == nil {
		t.Error("unknown extension accepted")
	}
	if _, err := Load(filepath.Join(dir, "missing.png")); err == nil {
		t.Error("missing file loaded")
	}
}

func TestLoadTensor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.png")
	if err := Save(path, checker(10, 10)); err != nil {
		t.Fatal(err)
	}
	x, err := LoadTensor(path, 8, 6, ImageNet)
	if err != nil {
		t.Fatal(err)
	}
	if x.W != 8 || x.H != 6 || !x.IsFinite() {
		t.Errorf("bad tensor %s", x)
	}
}
