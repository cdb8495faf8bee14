package extractor

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func loadModel(t *testing.T, name string) (*Spec, Extractor) {
	t.Helper()
	spec, err := LoadSpec(filepath.Join("..", "models", name))
	if err != nil {
		t.Fatal(err)
	}
	ex, err := Build(spec, nil)
	if err != nil {
		t.Fatal(err)
	}
	return spec, ex
}

func TestVGG16Features(t *testing.T) {
	_, ex := loadModel(t, "vgg16_features.json")
	seq := ex.(*Sequential)
	if len(seq.Layers) != 25 {
		t.Fatalf("got %d layers, want features[0..24]", len(seq.Layers))
	}
	if err := ex.Resolve(Index(25)); err == nil {
		t.Error("index 25 should be out of range")
	}

	bp, err := Describe("vgg", ex, 3, 32, 32)
	if err != nil {
		t.Fatal(err)
	}
	if bp.TotalParams != 9995072 {
		t.Errorf("params = %d, want 9995072", bp.TotalParams)
	}
	if got := bp.Layers[24].OutputShape; !reflect.DeepEqual(got, []int{1, 512, 2, 2}) {
		t.Errorf("features[24] shape = %v", got)
	}
}

func TestGoogLeNetToInception4c(t *testing.T) {
	spec, ex := loadModel(t, "googlenet_inception4c.json")

	bp, err := Describe("goog", ex, 3, 32, 32)
	if err != nil {
		t.Fatal(err)
	}
	if bp.TotalParams != 1896768 {
		t.Errorf("params = %d, want 1896768", bp.TotalParams)
	}
	shapes := map[string][]int{
		"conv1":                 {1, 64, 16, 16},
		"maxpool3":              {1, 480, 2, 2},
		"inception4c":           {1, 512, 2, 2},
		"inception4c.branch4.0": {1, 512, 2, 2},
		"inception4c.branch4.1": {1, 64, 2, 2},
	}
	for _, l := range bp.Layers {
		if want, ok := shapes[l.Selector.Name]; ok {
			if !reflect.DeepEqual(l.OutputShape, want) {
				t.Errorf("%s shape = %v, want %v", l.Selector.Name, l.OutputShape, want)
			}
			delete(shapes, l.Selector.Name)
		}
	}
	if len(shapes) != 0 {
		t.Errorf("paths not described: %v", shapes)
	}

	// torchvision BasicConv2d layout: conv without bias, then bn
	_, err = Build(spec, map[string][]float32{})
	if err == nil || !strings.Contains(err.Error(), "conv1.conv.weight") {
		t.Errorf("expected the first missing tensor to be conv1.conv.weight, got %v", err)
	}
}
