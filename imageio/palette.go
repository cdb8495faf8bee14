package imageio

import (
	"fmt"
	"image"
	"image/color"
	"log"
	"math"
	"slices"

	"github.com/cenkalti/dominantcolor"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
)

type PaletteMethod int

const (
	PaletteDominant PaletteMethod = iota
	PaletteKMeans
)

func (m PaletteMethod) String() string {
	if m == PaletteKMeans {
		return "kmeans"
	}
	return "dominant"
}

// ParsePaletteMethod accepts "dominant" (or "") and "kmeans".
func ParsePaletteMethod(s string) (PaletteMethod, error) {
	switch s {
	case "", "dominant":
		return PaletteDominant, nil
	case "kmeans":
		return PaletteKMeans, nil
	}
	return 0, fmt.Errorf("unknown palette method %q", s)
}

type weighted struct {
	col colorful.Color
	w   float64
}

// Palette returns up to k representative colours of img, darkest first.
// A failed k-means partition falls back to dominant colours.
func Palette(img image.Image, k int, method PaletteMethod) []colorful.Color {
	var p []colorful.Color
	if method == PaletteKMeans {
		if p = kmeansPalette(img, k); len(p) == 0 {
			log.Println("⚠️  palette: kmeans returned nothing, falling back to dominant colours")
		}
	}
	if len(p) == 0 {
		p = dominantPalette(img, k)
	}
	sortByLuminance(p)
	return p
}

func sortByLuminance(p []colorful.Color) {
	slices.SortFunc(p, func(a, b colorful.Color) int {
		ra, ga, ba := a.LinearRgb()
		rb, gb, bb := b.LinearRgb()
		ya := 0.2126*ra + 0.7152*ga + 0.0722*ba
		yb := 0.2126*rb + 0.7152*gb + 0.0722*bb
		switch {
		case ya < yb:
			return -1
		case ya > yb:
			return 1
		}
		return 0
	})
}

func dominantPalette(img image.Image, k int) []colorful.Color {
	if k <= 0 {
		return nil
	}
	found := dominantcolor.FindWeight(img, max(24, k*8))
	if len(found) == 0 {
		found = []dominantcolor.Color{{RGBA: color.RGBA{R: 128, G: 128, B: 128, A: 255}, Weight: 1}}
	}
	cands := make([]weighted, 0, len(found))
	for _, c := range found {
		col, _ := colorful.MakeColor(c.RGBA)
		cands = append(cands, weighted{col: col.Clamped(), w: c.Weight})
	}
	return diverse(cands, k)
}

// kmeansPalette clusters a subsample of the opaque pixels in RGB.
func kmeansPalette(img image.Image, k int) []colorful.Color {
	b := img.Bounds()
	if k <= 0 || b.Dx() == 0 || b.Dy() == 0 {
		return nil
	}

	const maxSamples = 12000
	step := 1
	if n := b.Dx() * b.Dy(); n > maxSamples {
		step = int(math.Sqrt(float64(n)/maxSamples)) + 1
	}

	var obs clusters.Observations
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			r, g, bl, a := img.At(x, y).RGBA()
			if a == 0 {
				continue
			}
			obs = append(obs, clusters.Coordinates{float64(r) / 65535, float64(g) / 65535, float64(bl) / 65535})
		}
	}
	if len(obs) == 0 {
		return nil
	}

	cc, err := kmeans.New().Partition(obs, min(max(k*4, k+2), len(obs)))
	if err != nil {
		return nil
	}
	cands := make([]weighted, 0, len(cc))
	for _, c := range cc {
		if len(c.Center) < 3 || len(c.Observations) == 0 {
			continue
		}
		col := colorful.Color{R: c.Center[0], G: c.Center[1], B: c.Center[2]}.Clamped()
		cands = append(cands, weighted{col: col, w: float64(len(c.Observations))})
	}
	return diverse(cands, k)
}

// diverse greedily picks k colours far apart in Lab, seeded with the
// heaviest one and biased toward heavier candidates.
func diverse(cands []weighted, k int) []colorful.Color {
	if k <= 0 || len(cands) == 0 {
		return nil
	}
	k = min(k, len(cands))

	maxW := 0.0
	for i := range cands {
		if cands[i].w <= 0 {
			cands[i].w = 1e-6
		}
		maxW = max(maxW, cands[i].w)
	}

	picked := []int{0}
	for i := range cands {
		if cands[i].w > cands[picked[0]].w {
			picked[0] = i
		}
	}
	used := make([]bool, len(cands))
	used[picked[0]] = true

	for len(picked) < k {
		best, bestScore := -1, -1.0
		for i, c := range cands {
			if used[i] {
				continue
			}
			nearest := math.MaxFloat64
			for _, p := range picked {
				nearest = min(nearest, c.col.DistanceLab(cands[p].col))
			}
			score := nearest * (0.55 + 0.45*math.Sqrt(c.w/maxW))
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			break
		}
		used[best] = true
		picked = append(picked, best)
	}

	out := make([]colorful.Color, len(picked))
	for i, p := range picked {
		out[i] = cands[p].col
	}
	return out
}

// PaletteImage renders the palette as a strip of square tiles.
func PaletteImage(p []colorful.Color, tile int) (*image.NRGBA, error) {
	if len(p) == 0 {
		return nil, fmt.Errorf("empty palette")
	}
	if tile <= 0 {
		tile = 64
	}
	img := image.NewNRGBA(image.Rect(0, 0, tile*len(p), tile))
	for i, c := range p {
		r, g, b := c.Clamped().RGB255()
		px := color.NRGBA{R: r, G: g, B: b, A: 255}
		for y := 0; y < tile; y++ {
			for x := i * tile; x < (i+1)*tile; x++ {
				img.SetNRGBA(x, y, px)
			}
		}
	}
	return img, nil
}

// SavePalette writes the palette strip to path.
func SavePalette(p []colorful.Color, tile int, path string) error {
	img, err := PaletteImage(p, tile)
	if err != nil {
		return err
	}
	return Save(path, img)
}
