// Package imageio converts between encoded images on disk and the normalized
// (1, 3, H, W) tensors the dream engine works on.
package imageio

import (
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"strings"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	"github.com/openfluke/reverie/tensor"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Normalization is the per-channel input statistics an extractor expects.
// Tensor values are (pixel/255 - Mean) / Std.
type Normalization struct {
	Mean [3]float64 `json:"mean"`
	Std  [3]float64 `json:"std"`
}

// ImageNet is the normalization used by torchvision classifiers.
var ImageNet = Normalization{
	Mean: [3]float64{0.485, 0.456, 0.406},
	Std:  [3]float64{0.229, 0.224, 0.225},
}

// Validate rejects zero or non-positive deviations.
func (n Normalization) Validate() error {
	for c, s := range n.Std {
		if !(s > 0) {
			return fmt.Errorf("normalization std[%d] must be > 0, got %v", c, s)
		}
	}
	return nil
}

// Load decodes png, jpeg, gif, bmp, tiff or webp.
func Load(path string) (image.Image, error) {
	img, err := imgio.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return img, nil
}

// Preprocess resizes img to w×h (bilinear; w or h of 0 keeps the source
// size) and normalizes it into a (1, 3, h, w) tensor. Alpha is ignored.
func Preprocess(img image.Image, w, h int, norm Normalization) (*tensor.Image, error) {
	if err := norm.Validate(); err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("empty image")
	}
	if w <= 0 {
		w = b.Dx()
	}
	if h <= 0 {
		h = b.Dy()
	}

	rgba := transform.Resize(img, w, h, transform.Linear)
	out := tensor.New(1, 3, h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := rgba.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				v := float64(rgba.Pix[i+c]) / 255
				out.Set(0, c, y, x, (v-norm.Mean[c])/norm.Std[c])
			}
		}
	}
	return out, nil
}

// Deprocess undoes the normalization of a (1, 3, H, W) tensor, clamps to the
// displayable range and returns an opaque image.
func Deprocess(t *tensor.Image, norm Normalization) (*image.NRGBA, error) {
	if t.N != 1 || t.C != 3 {
		return nil, fmt.Errorf("deprocess: want shape (1, 3, h, w), got %s", t)
	}
	if err := norm.Validate(); err != nil {
		return nil, err
	}
	img := image.NewNRGBA(image.Rect(0, 0, t.W, t.H))
	for y := 0; y < t.H; y++ {
		for x := 0; x < t.W; x++ {
			var px [3]uint8
			for c := 0; c < 3; c++ {
				v := t.At(0, c, y, x)*norm.Std[c] + norm.Mean[c]
				px[c] = toByte(v)
			}
			img.SetNRGBA(x, y, color.NRGBA{R: px[0], G: px[1], B: px[2], A: 255})
		}
	}
	return img, nil
}

func toByte(v float64) uint8 {
	v = v*255 + 0.5
	if !(v > 0) {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}

// Save encodes img by the extension of path: .png, .jpg/.jpeg or .bmp.
func Save(path string, img image.Image) error {
	var enc imgio.Encoder
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		enc = imgio.PNGEncoder()
	case ".jpg", ".jpeg":
		enc = imgio.JPEGEncoder(95)
	case ".bmp":
		enc = imgio.BMPEncoder()
	default:
		return fmt.Errorf("save %s: unsupported extension", path)
	}
	if err := imgio.Save(path, img, enc); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// LoadTensor loads and preprocesses path in one call.
func LoadTensor(path string, w, h int, norm Normalization) (*tensor.Image, error) {
	img, err := Load(path)
	if err != nil {
		return nil, err
	}
	return Preprocess(img, w, h, norm)
}
