package domain

import (
	"errors"
	"fmt"
)

// Activation names a layer activation using Keras spelling.
type Activation string

const (
	ActivationReLU    Activation = "relu"
	ActivationSigmoid Activation = "sigmoid"
)

// Layer is a dense layer with a row-major kernel of shape [inputs, units].
type Layer struct {
	Name       string
	Units      int
	Activation Activation
	Kernel     []float64
	Bias       []float64
}

// LayerSpec describes a layer without weights.
type LayerSpec struct {
	Name       string
	Units      int
	Activation Activation
}

// Architecture is the weightless descriptor of a FittedModel.
type Architecture struct {
	InputDim int
	Layers   []LayerSpec
}

// Equal reports whether two architectures match exactly.
func (a Architecture) Equal(b Architecture) bool {
	if a.InputDim != b.InputDim || len(a.Layers) != len(b.Layers) {
		return false
	}
	for i := range a.Layers {
		if a.Layers[i] != b.Layers[i] {
			return false
		}
	}
	return true
}

// String renders the architecture as "5 -> 32 relu -> 16 relu -> 1 sigmoid".
func (a Architecture) String() string {
	s := fmt.Sprintf("%d", a.InputDim)
	for _, l := range a.Layers {
		s += fmt.Sprintf(" -> %d %s", l.Units, l.Activation)
	}
	return s
}

// DomainClassifierArchitecture is the one architecture this project trains
// and exports: 5 inputs, dense 32 relu, dense 16 relu, dense 1 sigmoid.
func DomainClassifierArchitecture() Architecture {
	return Architecture{
		InputDim: FeatureCount,
		Layers: []LayerSpec{
			{Name: "dense", Units: 32, Activation: ActivationReLU},
			{Name: "dense_1", Units: 16, Activation: ActivationReLU},
			{Name: "dense_2", Units: 1, Activation: ActivationSigmoid},
		},
	}
}

// FittedModel is a trained feed-forward network. It is immutable once exported.
type FittedModel struct {
	InputDim int
	Layers   []Layer
}

// Architecture returns the weightless descriptor of the model.
func (m FittedModel) Architecture() Architecture {
	a := Architecture{InputDim: m.InputDim, Layers: make([]LayerSpec, len(m.Layers))}
	for i, l := range m.Layers {
		a.Layers[i] = LayerSpec{Name: l.Name, Units: l.Units, Activation: l.Activation}
	}
	return a
}

// Validate checks kernel and bias sizes against the declared shapes.
func (m FittedModel) Validate() error {
	if m.InputDim <= 0 {
		return errors.New("model input dimension must be positive")
	}
	if len(m.Layers) == 0 {
		return errors.New("model has no layers")
	}
	in := m.InputDim
	for i, l := range m.Layers {
		if l.Units <= 0 {
			return fmt.Errorf("layer %d (%s): units must be positive", i, l.Name)
		}
		switch l.Activation {
		case ActivationReLU, ActivationSigmoid:
		default:
			return fmt.Errorf("layer %d (%s): unsupported activation %q", i, l.Name, l.Activation)
		}
		if len(l.Kernel) != in*l.Units {
			return fmt.Errorf("layer %d (%s): kernel has %d values, want %d", i, l.Name, len(l.Kernel), in*l.Units)
		}
		if len(l.Bias) != l.Units {
			return fmt.Errorf("layer %d (%s): bias has %d values, want %d", i, l.Name, len(l.Bias), l.Units)
		}
		in = l.Units
	}
	return nil
}

// ParamCount returns the total number of weights and biases.
func (m FittedModel) ParamCount() int {
	n := 0
	for _, l := range m.Layers {
		n += len(l.Kernel) + len(l.Bias)
	}
	return n
}
