package extractor

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
)

// LayerSpec describes one layer or module in an architecture file.
//
// Leaf types: "conv2d", "batchnorm2d", "activation" (or an activation name
// such as "relu"), "maxpool2d". Container types (graph extractors only):
// "sequence", "concat", "residual", "aux".
type LayerSpec struct {
	Name        string `json:"name,omitempty"`
	Type        string `json:"type"`
	InChannels  int    `json:"in_channels,omitempty"`
	OutChannels int    `json:"out_channels,omitempty"`
	Kernel      int    `json:"kernel,omitempty"`
	Stride      int    `json:"stride,omitempty"`
	Padding     int    `json:"padding,omitempty"`
	CeilMode    bool   `json:"ceil_mode,omitempty"`
	Activation  string `json:"activation,omitempty"`
	// NoBias marks a conv2d whose checkpoint carries no bias tensor.
	NoBias bool `json:"no_bias,omitempty"`
	// Eps is the batchnorm2d variance epsilon (default 1e-5).
	Eps      float64     `json:"eps,omitempty"`
	Children []LayerSpec `json:"children,omitempty"`
}

// Spec is a serialized extractor architecture.
type Spec struct {
	Name string `json:"name"`
	// Kind is "sequential" (index selectors) or "graph" (path selectors).
	Kind string `json:"kind"`
	// Seed drives He initialization of layers the weights file doesn't cover.
	Seed int64 `json:"seed"`
	// WeightPrefix is prepended to layer keys when looking up weights,
	// e.g. "features." for a VGG state dict.
	WeightPrefix string      `json:"weight_prefix,omitempty"`
	Layers       []LayerSpec `json:"layers"`
}

// LoadSpec reads an architecture file.
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read architecture: %w", err)
	}
	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse architecture %s: %w", path, err)
	}
	return &spec, nil
}

// Build instantiates the extractor described by spec.
//
// With nil weights every conv is He-initialized from the spec seed. Otherwise
// each conv2d reads "<prefix><path>.weight" and "<prefix><path>.bias" (the
// bias is skipped for no_bias layers) and each batchnorm2d reads weight, bias,
// running_mean and running_var; a missing tensor is an error. Tensors under
// the prefix that no layer consumed are logged, since a truncated spec
// legitimately leaves deeper layers unread.
func Build(spec *Spec, weights map[string][]float32) (Extractor, error) {
	b := &builder{
		rng:     rand.New(rand.NewSource(spec.Seed)),
		weights: weights,
		prefix:  spec.WeightPrefix,
		used:    make(map[string]bool),
	}
	ex, err := b.build(spec)
	if err != nil {
		return nil, err
	}
	if unused := b.unused(); len(unused) > 0 {
		shown := unused
		if len(shown) > 5 {
			shown = shown[:5]
		}
		log.Printf("ℹ️  %s: %d checkpoint tensors under %q not used: %s", spec.Name, len(unused), b.prefix, strings.Join(shown, ", "))
	}
	return ex, nil
}

func (b *builder) build(spec *Spec) (Extractor, error) {
	switch strings.ToLower(spec.Kind) {
	case "sequential", "":
		layers := make([]Layer, len(spec.Layers))
		for i, ls := range spec.Layers {
			l, err := b.leaf(ls, strconv.Itoa(i))
			if err != nil {
				return nil, fmt.Errorf("%s layer %d: %w", spec.Name, i, err)
			}
			layers[i] = l
		}
		return NewSequential(layers...), nil

	case "graph":
		modules := make([]*Module, len(spec.Layers))
		for i, ls := range spec.Layers {
			m, err := b.module(ls, "", i)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", spec.Name, err)
			}
			modules[i] = m
		}
		g, err := NewGraph(modules...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", spec.Name, err)
		}
		return g, nil

	default:
		return nil, fmt.Errorf("%s: unknown extractor kind %q", spec.Name, spec.Kind)
	}
}

// Load reads an architecture file and optional safetensors weights and
// builds the extractor.
func Load(specPath, weightsPath string) (Extractor, error) {
	spec, err := LoadSpec(specPath)
	if err != nil {
		return nil, err
	}
	var weights map[string][]float32
	if weightsPath != "" {
		if weights, err = LoadSafetensors(weightsPath); err != nil {
			return nil, err
		}
	}
	return Build(spec, weights)
}

type builder struct {
	rng     *rand.Rand
	weights map[string][]float32
	prefix  string
	used    map[string]bool
}

// tensor returns the checkpoint entry for key. It is an error for a
// checkpoint to lack a required entry; without a checkpoint it returns nil.
func (b *builder) tensor(key string, required bool) ([]float32, error) {
	if b.weights == nil {
		return nil, nil
	}
	v, ok := b.weights[key]
	if !ok {
		if required {
			return nil, fmt.Errorf("checkpoint has no tensor %q", key)
		}
		return nil, nil
	}
	b.used[key] = true
	return v, nil
}

// unused lists checkpoint keys under the prefix that no layer read, ignoring
// batch counters.
func (b *builder) unused() []string {
	var out []string
	for k := range b.weights {
		if b.used[k] || !strings.HasPrefix(k, b.prefix) || strings.HasSuffix(k, ".num_batches_tracked") {
			continue
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (b *builder) leaf(ls LayerSpec, path string) (Layer, error) {
	switch strings.ToLower(ls.Type) {
	case "conv2d", "conv":
		if ls.InChannels < 1 || ls.OutChannels < 1 || ls.Kernel < 1 {
			return nil, fmt.Errorf("conv2d %q needs positive in_channels, out_channels and kernel", path)
		}
		act, err := ParseActivation(ls.Activation)
		if err != nil {
			return nil, err
		}
		conv := NewConv2D(ls.InChannels, ls.OutChannels, ls.Kernel, ls.Stride, ls.Padding, act, b.rng)
		key := b.prefix + path
		kernel, err := b.tensor(key+".weight", true)
		if err != nil {
			return nil, fmt.Errorf("conv2d %q: %w", path, err)
		}
		var bias []float32
		if !ls.NoBias {
			if bias, err = b.tensor(key+".bias", true); err != nil {
				return nil, fmt.Errorf("conv2d %q: %w", path, err)
			}
		}
		if err := conv.setWeights(kernel, bias); err != nil {
			return nil, fmt.Errorf("conv2d %q: %w", key, err)
		}
		return conv, nil

	case "batchnorm2d", "batchnorm", "bn":
		if ls.InChannels < 1 {
			return nil, fmt.Errorf("batchnorm2d %q needs positive in_channels", path)
		}
		bn := NewBatchNorm2D(ls.InChannels, ls.Eps)
		key := b.prefix + path
		var stats [4][]float32
		for i, suffix := range []string{".weight", ".bias", ".running_mean", ".running_var"} {
			v, err := b.tensor(key+suffix, true)
			if err != nil {
				return nil, fmt.Errorf("batchnorm2d %q: %w", path, err)
			}
			stats[i] = v
		}
		if err := bn.setWeights(stats[0], stats[1], stats[2], stats[3]); err != nil {
			return nil, fmt.Errorf("batchnorm2d %q: %w", key, err)
		}
		return bn, nil

	case "maxpool2d", "maxpool":
		if ls.Kernel < 1 {
			return nil, fmt.Errorf("maxpool2d %q needs a positive kernel", path)
		}
		return &MaxPool2D{KernelSize: ls.Kernel, Stride: ls.Stride, Padding: ls.Padding, CeilMode: ls.CeilMode}, nil

	case "activation":
		act, err := ParseActivation(ls.Activation)
		if err != nil {
			return nil, err
		}
		return &Activation{Type: act}, nil

	default:
		// bare activation names: {"type": "relu"}
		if act, err := ParseActivation(ls.Type); err == nil && ls.Type != "" {
			return &Activation{Type: act}, nil
		}
		return nil, fmt.Errorf("unknown layer type %q at %q", ls.Type, path)
	}
}

func (b *builder) module(ls LayerSpec, prefix string, pos int) (*Module, error) {
	name := ls.Name
	path := joinPath(prefix, name)
	if name == "" {
		path = joinPath(prefix, strconv.Itoa(pos))
	}

	var kind ModuleKind
	switch strings.ToLower(ls.Type) {
	case "sequence", "sequential":
		kind = ModuleSequence
	case "concat":
		kind = ModuleConcat
	case "residual":
		kind = ModuleResidual
	case "aux", "auxiliary":
		kind = ModuleAuxiliary
	default:
		l, err := b.leaf(ls, path)
		if err != nil {
			return nil, err
		}
		return &Module{Name: name, Kind: ModuleLayer, Layer: l}, nil
	}

	m := &Module{Name: name, Kind: kind, Children: make([]*Module, len(ls.Children))}
	for i, cs := range ls.Children {
		c, err := b.module(cs, path, i)
		if err != nil {
			return nil, err
		}
		m.Children[i] = c
	}
	return m, nil
}
