package eigen

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// TestCodonSizedModel exercises the builder at a codon-like state count
// with a random reversible generator decomposed by gonum.
func TestCodonSizedModel(t *testing.T) {
	const states = 60
	rng := rand.New(rand.NewSource(11))

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

	var eig mat.Eigen
	require.True(t, eig.Factorize(q, mat.EigenRight))
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
	require.NoError(t, inv.Inverse(u))
	ivec := make([]float64, states*states)
	for i := 0; i < states; i++ {
		for j := 0; j < states; j++ {
			ivec[i*states+j] = inv.At(i, j)
		}
	}

	s := NewStore[float64](states, 1)
	require.NoError(t, s.Set(0, evec, ivec, eval, false))
	d, err := s.Get(0)
	require.NoError(t, err)

	p := make([]float64, states*states)
	d.TransitionMatrix(p, 0.25, []float64{1})
	for i := 0; i < states; i++ {
		var sum float64
		for j := 0; j < states; j++ {
			require.False(t, p[i*states+j] < -1e-9, "negative probability at (%d,%d)", i, j)
			sum += p[i*states+j]
		}
		require.InDelta(t, 1.0, sum, 1e-8, "row %d", i)
	}
}

// TestTwoStateModel covers the smallest allowed state count.
func TestTwoStateModel(t *testing.T) {
	// Symmetric two-state generator: eigenvalues 0 and -2.
	evec := []float64{1, 1, 1, -1}
	ivec := []float64{0.5, 0.5, 0.5, -0.5}
	eval := []float64{0, -2}

	s := NewStore[float64](2, 1)
	require.NoError(t, s.Set(0, evec, ivec, eval, false))
	d, err := s.Get(0)
	require.NoError(t, err)

	p := make([]float64, 4)
	d.TransitionMatrix(p, 0.3, []float64{1})
	// Closed form: P00 = (1 + e^{-2b})/2, P01 = (1 - e^{-2b})/2.
	e2b := math.Exp(-0.6)
	require.InDelta(t, (1+e2b)/2, p[0], 1e-12)
	require.InDelta(t, (1-e2b)/2, p[1], 1e-12)
	require.InDelta(t, (1-e2b)/2, p[2], 1e-12)
	require.InDelta(t, (1+e2b)/2, p[3], 1e-12)
}
