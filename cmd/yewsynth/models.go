package main

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// model is one substitution model: the eigen triple handed to the engine,
// the stationary frequencies, and the raw generator for driver-side work
// (--setmatrix exponentiation, differential matrices).
type model struct {
	evec, ivec, eval []float64
	freqs            []float64
	q                *mat.Dense
	complexEigen     bool
}

// jcHadamard builds the general-state JC69 eigensystem for a power-of-two
// state count: the Sylvester matrix H_n diagonalizes the generator, and
// since H_n is Hadamard its inverse is its transpose over the state count.
func jcHadamard(states int) model {
	h := make([]float64, states*states)
	h[0*states+0] = 1
	h[0*states+1] = 1
	h[1*states+0] = 1
	h[1*states+1] = -1
	for k := 2; k < states; k <<= 1 {
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				v := h[i*states+j]
				h[i*states+j+k] = v
				h[(i+k)*states+j] = v
				h[(i+k)*states+j+k] = -v
			}
		}
	}
	ivec := make([]float64, states*states)
	for i := 0; i < states; i++ {
		for j := 0; j < states; j++ {
			ivec[i*states+j] = h[j*states+i] / float64(states)
		}
	}
	eval := make([]float64, states)
	for i := 1; i < states; i++ {
		eval[i] = -float64(states) / float64(states-1)
	}
	freqs := make([]float64, states)
	for i := range freqs {
		freqs[i] = 1 / float64(states)
	}
	return model{evec: h, ivec: ivec, eval: eval, freqs: freqs, q: jcGenerator(states)}
}

func jcGenerator(states int) *mat.Dense {
	q := mat.NewDense(states, states, nil)
	for i := 0; i < states; i++ {
		for j := 0; j < states; j++ {
			if i != j {
				q.Set(i, j, 1/float64(states-1))
			}
		}
		q.Set(i, i, -1)
	}
	return q
}

// randomReversible builds a GTR-style generator with random exchange rates
// and frequencies, then decomposes it with gonum.
func randomReversible(states int, rng *rand.Rand, transposedInverse bool) (model, error) {
	freqs := make([]float64, states)
	var fSum float64
	for i := range freqs {
		freqs[i] = 0.05 + rng.Float64()
		fSum += freqs[i]
	}
	for i := range freqs {
		freqs[i] /= fSum
	}
	q := mat.NewDense(states, states, nil)
	for i := 0; i < states; i++ {
		for j := i + 1; j < states; j++ {
			rel := 0.05 + rng.Float64()
			q.Set(i, j, rel*freqs[j])
			q.Set(j, i, rel*freqs[i])
		}
	}
	for i := 0; i < states; i++ {
		var sum float64
		for j := 0; j < states; j++ {
			if j != i {
				sum += q.At(i, j)
			}
		}
		q.Set(i, i, -sum)
	}
	// Normalize to one expected substitution per unit time.
	var rate float64
	for i := 0; i < states; i++ {
		rate -= freqs[i] * q.At(i, i)
	}
	q.Scale(1/rate, q)

	var eig mat.Eigen
	if !eig.Factorize(q, mat.EigenRight) {
		return model{}, fmt.Errorf("eigendecomposition of random generator failed")
	}
	vals := eig.Values(nil)
	var vecs mat.CDense
	eig.VectorsTo(&vecs)

	eval := make([]float64, states)
	evec := make([]float64, states*states)
	for k, v := range vals {
		eval[k] = real(v)
		for i := 0; i < states; i++ {
			evec[i*states+k] = real(vecs.At(i, k))
		}
	}
	u := mat.NewDense(states, states, evec)
	var inv mat.Dense
	if err := inv.Inverse(u); err != nil {
		return model{}, fmt.Errorf("inverting eigenvectors: %w", err)
	}
	ivec := make([]float64, states*states)
	for i := 0; i < states; i++ {
		for j := 0; j < states; j++ {
			if transposedInverse {
				ivec[i*states+j] = inv.At(j, i)
			} else {
				ivec[i*states+j] = inv.At(i, j)
			}
		}
	}
	return model{evec: evec, ivec: ivec, eval: eval, freqs: freqs, q: q}, nil
}

// circulantComplex is the 4-state 1-step circulant generator, the standard
// complex-eigenvalue exercise: eigenvalues -1 ± i.
func circulantComplex(transposedInverse bool) model {
	evec := []float64{
		-0.5, 0.6906786606674509, 0.15153543380548623, 0.5,
		0.5, -0.15153543380548576, 0.6906786606674498, 0.5,
		-0.5, -0.6906786606674498, -0.15153543380548617, 0.5,
		0.5, 0.15153543380548554, -0.6906786606674503, 0.5,
	}
	ivecStd := []float64{
		-0.5, 0.5, -0.5, 0.5,
		0.6906786606674505, -0.15153543380548617, -0.6906786606674507, 0.15153543380548645,
		0.15153543380548568, 0.6906786606674509, -0.15153543380548584, -0.6906786606674509,
		0.5, 0.5, 0.5, 0.5,
	}
	ivec := ivecStd
	if transposedInverse {
		ivec = make([]float64, 16)
		for i := 0; i < 4; i++ {
			for j := 0; j < 4; j++ {
				ivec[i*4+j] = ivecStd[j*4+i]
			}
		}
	}
	eval := []float64{-2.0, -1.0, -1.0, 0, 0, 1, -1, 0}
	freqs := []float64{0.25, 0.25, 0.25, 0.25}
	q := mat.NewDense(4, 4, []float64{
		-1, 1, 0, 0,
		0, -1, 1, 0,
		0, 0, -1, 1,
		1, 0, 0, -1,
	})
	return model{evec: evec, ivec: ivec, eval: eval, freqs: freqs, q: q, complexEigen: true}
}

// transitionBlocks exponentiates the generator driver-side (used with
// --setmatrix to exercise SetTransitionMatrix).
func (m *model) transitionBlocks(edge float64, rates []float64) []float64 {
	states := m.q.RawMatrix().Rows
	out := make([]float64, len(rates)*states*states)
	var scaled, p mat.Dense
	for c, r := range rates {
		scaled.Scale(edge*r, m.q)
		p.Exp(&scaled)
		for i := 0; i < states; i++ {
			for j := 0; j < states; j++ {
				out[c*states*states+i*states+j] = p.At(i, j)
			}
		}
	}
	return out
}

// differentialBlocks builds per-category scaled Q (order 1) or Q² (order
// 2) blocks for the derivative APIs.
func (m *model) differentialBlocks(order int, rates []float64) []float64 {
	states := m.q.RawMatrix().Rows
	out := make([]float64, len(rates)*states*states)
	var qq mat.Dense
	qq.Mul(m.q, m.q)
	for c, r := range rates {
		for i := 0; i < states; i++ {
			for j := 0; j < states; j++ {
				var v float64
				if order == 1 {
					v = m.q.At(i, j) * r
				} else {
					v = qq.At(i, j) * r * r
				}
				out[c*states*states+i*states+j] = v
			}
		}
	}
	return out
}
