package trainer

import "math"

// adam implements adaptive moment estimation with Keras defaults.
type adam struct {
	lr, beta1, beta2, eps float64
	t                     int
	mw, vw                [][]float64
	mb, vb                [][]float64
}

func newAdam(n *Network, lr float64) *adam {
	a := &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-7}
	for _, l := range n.layers {
		r, c := l.w.Dims()
		a.mw = append(a.mw, make([]float64, r*c))
		a.vw = append(a.vw, make([]float64, r*c))
		a.mb = append(a.mb, make([]float64, len(l.b)))
		a.vb = append(a.vb, make([]float64, len(l.b)))
	}
	return a
}

// step applies one update to every parameter of n.
func (a *adam) step(n *Network, g gradients) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	for l, layer := range n.layers {
		raw := layer.w.RawMatrix()
		grad := g.w[l].RawMatrix()
		for i := 0; i < raw.Rows; i++ {
			for j := 0; j < raw.Cols; j++ {
				k := i*raw.Cols + j
				gv := grad.Data[i*grad.Stride+j]
				raw.Data[i*raw.Stride+j] -= a.update(&a.mw[l][k], &a.vw[l][k], gv, c1, c2)
			}
		}
		for j := range layer.b {
			layer.b[j] -= a.update(&a.mb[l][j], &a.vb[l][j], g.b[l][j], c1, c2)
		}
	}
}

func (a *adam) update(m, v *float64, g, c1, c2 float64) float64 {
	*m = a.beta1*(*m) + (1-a.beta1)*g
	*v = a.beta2*(*v) + (1-a.beta2)*g*g
	mhat := *m / c1
	vhat := *v / c2
	return a.lr * mhat / (math.Sqrt(vhat) + a.eps)
}
