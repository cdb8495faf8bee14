package extractor

import (
	"fmt"
	"math"
	"strings"

	"github.com/openfluke/reverie/tensor"
)

// ActivationType defines the element-wise nonlinearity applied after a layer
type ActivationType int

const (
	ActivationScaledReLU ActivationType = 0 // v * 1.1, then ReLU
	ActivationSigmoid    ActivationType = 1 // 1 / (1 + exp(-v))
	ActivationTanh       ActivationType = 2 // tanh(v)
	ActivationSoftplus   ActivationType = 3 // log(1 + exp(v))
	ActivationLeakyReLU  ActivationType = 4 // v if v >= 0, else v * 0.1
	ActivationReLU       ActivationType = 5 // max(0, v)
	ActivationLinear     ActivationType = 6 // v
)

var activationNames = map[string]ActivationType{
	"scaled_relu": ActivationScaledReLU,
	"sigmoid":     ActivationSigmoid,
	"tanh":        ActivationTanh,
	"softplus":    ActivationSoftplus,
	"leaky_relu":  ActivationLeakyReLU,
	"relu":        ActivationReLU,
	"linear":      ActivationLinear,
	"":            ActivationLinear,
}

// ParseActivation maps a spec name ("relu", "tanh", ...) to its type.
func ParseActivation(name string) (ActivationType, error) {
	a, ok := activationNames[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("unknown activation %q", name)
	}
	return a, nil
}

func (a ActivationType) String() string {
	for name, v := range activationNames {
		if v == a && name != "" {
			return name
		}
	}
	return "unknown"
}

// activate applies the activation function to one value
func activate(v float64, activation ActivationType) float64 {
	switch activation {
	case ActivationScaledReLU:
		v = v * 1.1
		if v < 0 {
			v = 0
		}
		return v
	case ActivationSigmoid:
		return 1.0 / (1.0 + math.Exp(-v))
	case ActivationTanh:
		return math.Tanh(v)
	case ActivationSoftplus:
		if v > 0 {
			return v + math.Log1p(math.Exp(-v))
		}
		return math.Log1p(math.Exp(v))
	case ActivationLeakyReLU:
		if v < 0 {
			v = v * 0.1
		}
		return v
	case ActivationReLU:
		if v < 0 {
			return 0
		}
		return v
	default:
		return v
	}
}

// activateDerivative computes the derivative with respect to the PRE-activation value
func activateDerivative(preActivation float64, activation ActivationType) float64 {
	switch activation {
	case ActivationScaledReLU:
		// d/dv (max(0, 1.1*v)) = 1.1 if v > 0, else 0
		if preActivation > 0 {
			return 1.1
		}
		return 0
	case ActivationSigmoid:
		sig := 1.0 / (1.0 + math.Exp(-preActivation))
		return sig * (1.0 - sig)
	case ActivationTanh:
		t := math.Tanh(preActivation)
		return 1.0 - t*t
	case ActivationSoftplus:
		// d/dv log(1 + e^v) = sigmoid(v)
		return 1.0 / (1.0 + math.Exp(-preActivation))
	case ActivationLeakyReLU:
		if preActivation >= 0 {
			return 1.0
		}
		return 0.1
	case ActivationReLU:
		if preActivation > 0 {
			return 1
		}
		return 0
	default:
		return 1.0
	}
}

// Activation is a standalone nonlinearity layer (e.g. the ReLU entries of a
// VGG feature stack).
type Activation struct {
	Type ActivationType
}

func (l *Activation) Kind() string { return "activation:" + l.Type.String() }

func (l *Activation) apply(tp *Tape, x *Var) (*Var, error) {
	return applyActivation(tp, x, l.Type), nil
}

func applyActivation(tp *Tape, x *Var, act ActivationType) *Var {
	if act == ActivationLinear {
		return x
	}
	pre := x.Value
	out := pre.ZerosLike()
	for i, v := range pre.Data {
		out.Data[i] = activate(v, act)
	}
	return tp.push(out, func(g *tensor.Image) {
		gin := pre.ZerosLike()
		for i, v := range pre.Data {
			gin.Data[i] = g.Data[i] * activateDerivative(v, act)
		}
		mustAccumulate(x, gin)
	})
}
