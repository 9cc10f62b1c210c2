package trainer

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/haukened/rr-dnsml/internal/ml/domain"
)

// dense is a fully connected layer. w has shape [inputs, units] so it maps
// one-to-one onto the exported kernel layout.
type dense struct {
	name string
	act  domain.Activation
	w    *mat.Dense
	b    []float64
}

// Network is a feed-forward stack of dense layers. It is safe for
// concurrent Predict calls once constructed.
type Network struct {
	inputDim int
	layers   []*dense
}

// newNetwork builds a Glorot-uniform initialized network for arch.
func newNetwork(arch domain.Architecture, rng *rand.Rand) *Network {
	n := &Network{inputDim: arch.InputDim}
	in := arch.InputDim
	for _, def := range arch.Layers {
		limit := math.Sqrt(6 / float64(in+def.Units))
		data := make([]float64, in*def.Units)
		for i := range data {
			data[i] = (rng.Float64()*2 - 1) * limit
		}
		n.layers = append(n.layers, &dense{
			name: def.Name,
			act:  def.Activation,
			w:    mat.NewDense(in, def.Units, data),
			b:    make([]float64, def.Units),
		})
		in = def.Units
	}
	return n
}

// NewNetwork wraps a fitted model for inference. Weights are copied.
func NewNetwork(m domain.FittedModel) (*Network, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model: %w", err)
	}
	n := &Network{inputDim: m.InputDim}
	in := m.InputDim
	for _, l := range m.Layers {
		kernel := make([]float64, len(l.Kernel))
		copy(kernel, l.Kernel)
		bias := make([]float64, len(l.Bias))
		copy(bias, l.Bias)
		n.layers = append(n.layers, &dense{
			name: l.Name,
			act:  l.Activation,
			w:    mat.NewDense(in, l.Units, kernel),
			b:    bias,
		})
		in = l.Units
	}
	return n, nil
}

// Model snapshots the network into a domain.FittedModel. Weights are
// rounded to float32 precision, the precision of the exported artifact.
func (n *Network) Model() domain.FittedModel {
	m := domain.FittedModel{InputDim: n.inputDim}
	for _, l := range n.layers {
		r, c := l.w.Dims()
		kernel := make([]float64, 0, r*c)
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				kernel = append(kernel, float64(float32(l.w.At(i, j))))
			}
		}
		bias := make([]float64, len(l.b))
		for i, v := range l.b {
			bias[i] = float64(float32(v))
		}
		m.Layers = append(m.Layers, domain.Layer{
			Name:       l.name,
			Units:      c,
			Activation: l.act,
			Kernel:     kernel,
			Bias:       bias,
		})
	}
	return m
}

// Predict returns the output unit for every (already normalized) vector.
func (n *Network) Predict(batch []domain.FeatureVector) []float64 {
	if len(batch) == 0 {
		return nil
	}
	acts, _ := n.forward(toMatrix(batch))
	return column(acts[len(acts)-1])
}

// forward returns the activations of every layer (acts[0] is the input)
// and the pre-activations (zs[i] feeds acts[i+1]).
func (n *Network) forward(x *mat.Dense) (acts, zs []*mat.Dense) {
	acts = append(acts, x)
	cur := x
	for _, l := range n.layers {
		z := new(mat.Dense)
		z.Mul(cur, l.w)
		rows, cols := z.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				z.Set(i, j, z.At(i, j)+l.b[j])
			}
		}
		a := new(mat.Dense)
		switch l.act {
		case domain.ActivationSigmoid:
			a.Apply(func(_, _ int, v float64) float64 { return sigmoid(v) }, z)
		default:
			a.Apply(func(_, _ int, v float64) float64 { return relu(v) }, z)
		}
		zs = append(zs, z)
		acts = append(acts, a)
		cur = a
	}
	return acts, zs
}

// gradients holds dLoss/dW and dLoss/dB per layer.
type gradients struct {
	w []*mat.Dense
	b [][]float64
}

// backward computes mean binary cross-entropy gradients for a sigmoid
// output. With BCE the output delta reduces to (p - y) / m.
func (n *Network) backward(acts, zs []*mat.Dense, y []float64) gradients {
	m := len(y)
	L := len(n.layers)
	g := gradients{w: make([]*mat.Dense, L), b: make([][]float64, L)}

	out := acts[L]
	delta := mat.NewDense(m, 1, nil)
	for i := 0; i < m; i++ {
		delta.Set(i, 0, (out.At(i, 0)-y[i])/float64(m))
	}

	for l := L - 1; l >= 0; l-- {
		gw := new(mat.Dense)
		gw.Mul(acts[l].T(), delta)
		g.w[l] = gw

		_, cols := delta.Dims()
		gb := make([]float64, cols)
		for i := 0; i < m; i++ {
			for j := 0; j < cols; j++ {
				gb[j] += delta.At(i, j)
			}
		}
		g.b[l] = gb

		if l == 0 {
			break
		}
		prev := new(mat.Dense)
		prev.Mul(delta, n.layers[l].w.T())
		z := zs[l-1]
		prev.Apply(func(i, j int, v float64) float64 {
			if z.At(i, j) > 0 {
				return v
			}
			return 0
		}, prev)
		delta = prev
	}
	return g
}

func toMatrix(batch []domain.FeatureVector) *mat.Dense {
	data := make([]float64, 0, len(batch)*domain.FeatureCount)
	for _, v := range batch {
		data = append(data, v[:]...)
	}
	return mat.NewDense(len(batch), domain.FeatureCount, data)
}

func column(m *mat.Dense) []float64 {
	r, _ := m.Dims()
	return mat.Col(make([]float64, r), 0, m)
}

func relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
