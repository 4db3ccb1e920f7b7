package main

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJCHadamardInverse(t *testing.T) {
	for _, states := range []int{2, 4, 8, 16} {
		m := jcHadamard(states)
		// evec · ivec must be the identity.
		for i := 0; i < states; i++ {
			for j := 0; j < states; j++ {
				var sum float64
				for k := 0; k < states; k++ {
					sum += m.evec[i*states+k] * m.ivec[k*states+j]
				}
				want := 0.0
				if i == j {
					want = 1.0
				}
				require.InDelta(t, want, sum, 1e-12, "states=%d (%d,%d)", states, i, j)
			}
		}
	}
}

func TestRandomReversibleGenerator(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	m, err := randomReversible(5, rng, false)
	require.NoError(t, err)

	var fSum float64
	for _, f := range m.freqs {
		fSum += f
	}
	require.InDelta(t, 1.0, fSum, 1e-12)

	// Rows of the generator sum to zero.
	for i := 0; i < 5; i++ {
		var sum float64
		for j := 0; j < 5; j++ {
			sum += m.q.At(i, j)
		}
		require.InDelta(t, 0.0, sum, 1e-10)
	}

	// Probability blocks built from the decomposition are stochastic.
	blocks := m.transitionBlocks(0.3, []float64{0.5, 1.5})
	for c := 0; c < 2; c++ {
		for i := 0; i < 5; i++ {
			var sum float64
			for j := 0; j < 5; j++ {
				sum += blocks[c*25+i*5+j]
			}
			require.InDelta(t, 1.0, sum, 1e-8)
		}
	}
}

func TestBuildTreePostOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, shape := range []string{"balanced", "random", "pectinate"} {
		const ntaxa = 9
		joins := buildTree(ntaxa, shape, rng)
		require.Len(t, joins, ntaxa-1, shape)

		ready := make(map[int]bool, 2*ntaxa-1)
		for i := 0; i < ntaxa; i++ {
			ready[i] = true
		}
		for _, j := range joins {
			require.True(t, ready[j.left], "%s: child %d used before built", shape, j.left)
			require.True(t, ready[j.right], "%s: child %d used before built", shape, j.right)
			ready[j.parent] = true
		}
		require.Equal(t, 2*ntaxa-2, joins[len(joins)-1].parent, shape)
	}
}

func TestStatesToPartials(t *testing.T) {
	p := statesToPartials([]int{0, 2, 4}, 4, 2)
	require.Len(t, p, 2*3*4)
	// state 0 -> indicator, state 4 (>= S) -> all ones.
	require.Equal(t, []float64{1, 0, 0, 0}, p[0:4])
	require.Equal(t, []float64{0, 0, 1, 0}, p[4:8])
	require.Equal(t, []float64{1, 1, 1, 1}, p[8:12])
	// Category copies are identical.
	require.Equal(t, p[:12], p[12:])
}
