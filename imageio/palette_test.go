package imageio

import (
	"image"
	"image/color"
	"testing"

	"github.com/lucasb-eyer/go-colorful"
)

func twoTone() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 40, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 40; x++ {
			c := color.NRGBA{R: 240, G: 230, B: 30, A: 255}
			if x < 20 {
				c = color.NRGBA{R: 20, G: 20, B: 120, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func luminance(c colorful.Color) float64 {
	r, g, b := c.LinearRgb()
	return 0.2126*r + 0.7152*g + 0.0722*b
}

func TestPaletteDarkestFirst(t *testing.T) {
	for _, m := range []PaletteMethod{PaletteDominant, PaletteKMeans} {
		p := Palette(twoTone(), 2, m)
		if len(p) == 0 {
			t.Fatalf("%s: empty palette", m)
		}
		for i := 1; i < len(p); i++ {
			if luminance(p[i-1]) > luminance(p[i]) {
				t.Errorf("%s: palette not sorted by luminance: %v", m, p)
			}
		}
		if r, g, _ := p[0].RGB255(); r > 128 || g > 128 {
			t.Errorf("%s: darkest colour is %s", m, p[0].Hex())
		}
	}
}

func TestPaletteZeroK(t *testing.T) {
	if p := Palette(twoTone(), 0, PaletteKMeans); len(p) != 0 {
		t.Errorf("k=0 gave %d colours", len(p))
	}
}

func TestParsePaletteMethod(t *testing.T) {
	for in, want := range map[string]PaletteMethod{"": PaletteDominant, "dominant": PaletteDominant, "kmeans": PaletteKMeans} {
		got, err := ParsePaletteMethod(in)
		if err != nil || got != want {
			t.Errorf("ParsePaletteMethod(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParsePaletteMethod("median"); err == nil {
		t.Error("unknown method accepted")
	}
}

func TestPaletteImage(t *testing.T) {
	p := Palette(twoTone(), 2, PaletteDominant)
	img, err := PaletteImage(p, 8)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 8*len(p) || img.Bounds().Dy() != 8 {
		t.Errorf("bounds %v", img.Bounds())
	}
	if _, err := PaletteImage(nil, 8); err == nil {
		t.Error("empty palette accepted")
	}
}
