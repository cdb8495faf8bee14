package imageio

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"
)

// heatStops run from cold to hot; values in between blend in HCL.
var heatStops = []colorful.Color{
	{R: 0.05, G: 0.03, B: 0.25},
	{R: 0.30, G: 0.10, B: 0.60},
	{R: 0.90, G: 0.30, B: 0.20},
	{R: 1.00, G: 0.85, B: 0.30},
}

// HeatColor maps v in [0, 1] onto the ramp. Out-of-range values clamp.
func HeatColor(v float64) colorful.Color {
	if math.IsNaN(v) || v <= 0 {
		return heatStops[0]
	}
	if v >= 1 {
		return heatStops[len(heatStops)-1]
	}
	pos := v * float64(len(heatStops)-1)
	i := int(pos)
	return heatStops[i].BlendHcl(heatStops[i+1], pos-float64(i)).Clamped()
}

// Heatmap renders an h×w activation plane min-max scaled onto the heat ramp,
// upscaled bilinearly to outW×outH (0 keeps the plane size).
func Heatmap(plane []float64, h, w, outW, outH int) (*image.NRGBA, error) {
	if h <= 0 || w <= 0 || len(plane) != h*w {
		return nil, fmt.Errorf("heatmap: %d values for a %dx%d plane", len(plane), w, h)
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range plane {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo

	small := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := 0.0
			if span > 0 {
				v = (plane[y*w+x] - lo) / span
			}
			r, g, b := HeatColor(v).RGB255()
			small.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: 255})
		}
	}

	if outW <= 0 {
		outW = w
	}
	if outH <= 0 {
		outH = h
	}
	if outW == w && outH == h {
		return small, nil
	}
	big := image.NewNRGBA(image.Rect(0, 0, outW, outH))
	draw.BiLinear.Scale(big, big.Bounds(), small, small.Bounds(), draw.Src, nil)
	return big, nil
}
