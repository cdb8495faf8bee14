package imageio

import (
	"math"
	"testing"
)

func TestHeatColorEnds(t *testing.T) {
	if HeatColor(-3) != heatStops[0] || HeatColor(math.NaN()) != heatStops[0] {
		t.Error("low values should map to the coldest stop")
	}
	if HeatColor(7) != heatStops[len(heatStops)-1] {
		t.Error("high values should map to the hottest stop")
	}
	mid := HeatColor(0.5)
	if !mid.IsValid() {
		t.Errorf("mid colour out of gamut: %v", mid)
	}
}

func TestHeatmap(t *testing.T) {
	plane := []float64{0, 1, 2, 3, 4, 5}
	img, err := Heatmap(plane, 2, 3, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 3 || img.Bounds().Dy() != 2 {
		t.Fatalf("bounds %v", img.Bounds())
	}
	r, g, b := heatStops[0].RGB255()
	if c := img.NRGBAAt(0, 0); c.R != r || c.G != g || c.B != b {
		t.Errorf("minimum pixel %v, want coldest stop", c)
	}
	r, g, b = heatStops[len(heatStops)-1].RGB255()
	if c := img.NRGBAAt(2, 1); c.R != r || c.G != g || c.B != b {
		t.Errorf("maximum pixel %v, want hottest stop", c)
	}

	big, err := Heatmap(plane, 2, 3, 30, 20)
	if err != nil {
		t.Fatal(err)
	}
	if big.Bounds().Dx() != 30 || big.Bounds().Dy() != 20 {
		t.Errorf("upscaled bounds %v", big.Bounds())
	}
	if big.NRGBAAt(10, 10).A != 255 {
		t.Error("upscaled heatmap should stay opaque")
	}
}

func TestHeatmapFlatPlane(t *testing.T) {
	img, err := Heatmap([]float64{2, 2, 2, 2}, 2, 2, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	r, _, _ := heatStops[0].RGB255()
	if img.NRGBAAt(1, 1).R != r {
		t.Error("flat plane should render cold")
	}
}

func TestHeatmapRejectsBadPlane(t *testing.T) {
	if _, err := Heatmap([]float64{1, 2, 3}, 2, 2, 0, 0); err == nil {
		t.Error("short plane accepted")
	}
}
