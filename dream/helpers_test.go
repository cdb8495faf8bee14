package dream

import (
	"fmt"
	"math/rand"

	"github.com/openfluke/reverie/extractor"
	"github.com/openfluke/reverie/tensor"
)

// linearNet is a single 3x3 convolution with no nonlinearity, so the target
// norm is convex in the image.
func linearNet(seed int64) *extractor.Sequential {
	rng := rand.New(rand.NewSource(seed))
	return extractor.NewSequential(
		extractor.NewConv2D(3, 4, 3, 1, 1, extractor.ActivationLinear, rng),
	)
}

// deepNet has two captured depths for multi-target tests.
func deepNet(seed int64) *extractor.Sequential {
	rng := rand.New(rand.NewSource(seed))
	return extractor.NewSequential(
		extractor.NewConv2D(3, 6, 3, 1, 1, extractor.ActivationTanh, rng),
		&extractor.MaxPool2D{KernelSize: 2},
		extractor.NewConv2D(6, 8, 3, 1, 1, extractor.ActivationSoftplus, rng),
	)
}

// auxNet is a graph whose "head" module yields a 3-channel main output and a
// 2-channel auxiliary one.
func auxNet(seed int64) *extractor.Graph {
	rng := rand.New(rand.NewSource(seed))
	g, err := extractor.NewGraph(
		&extractor.Module{Name: "stem", Kind: extractor.ModuleLayer,
			Layer: extractor.NewConv2D(3, 4, 3, 1, 1, extractor.ActivationTanh, rng)},
		&extractor.Module{Name: "head", Kind: extractor.ModuleAuxiliary, Children: []*extractor.Module{
			{Name: "main", Kind: extractor.ModuleLayer, Layer: extractor.NewConv2D(4, 3, 3, 1, 1, extractor.ActivationLinear, rng)},
			{Name: "aux", Kind: extractor.ModuleLayer, Layer: extractor.NewConv2D(4, 2, 1, 1, 0, extractor.ActivationLinear, rng)},
		}},
	)
	if err != nil {
		panic(err)
	}
	return g
}

func gray(h, w int, v float64) *tensor.Image {
	img := tensor.New(1, 3, h, w)
	img.Fill(v)
	return img
}

func noise(seed int64, h, w int) *tensor.Image {
	rng := rand.New(rand.NewSource(seed))
	img := tensor.New(1, 3, h, w)
	for i := range img.Data {
		img.Data[i] = rng.NormFloat64()
	}
	return img
}

func testConfig(targets ...TargetSpec) Config {
	cfg := DefaultConfig()
	cfg.Targets = targets
	cfg.NumSteps = 3
	return cfg
}

func target(ex string, layer int, weight float64, channels ...int) TargetSpec {
	return TargetSpec{Extractor: ex, Layer: extractor.Index(layer), Channels: channels, Weight: weight}
}

func namedTarget(ex, path string, weight float64, channels ...int) TargetSpec {
	return TargetSpec{Extractor: ex, Layer: extractor.Named(path), Channels: channels, Weight: weight}
}

type capturedLog struct {
	lines []string
}

func (c *capturedLog) logf(format string, args ...any) {
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
}
