package cpu

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-yew/flags"
	"github.com/23skdu/longbow-yew/internal/codes"
)

// denseTriplets flattens a dense generator into the triplet encoding the
// action engine reads through the eigen API.
func denseTriplets(q []float64, n int) (evec, ivec, eval []float64) {
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := q[i*n+j]
			if v == 0 {
				continue
			}
			evec = append(evec, float64(i), float64(j))
			eval = append(eval, v)
		}
	}
	ivec = []float64{float64(len(eval))}
	return
}

func TestActionMatchesExponentiation(t *testing.T) {
	cfg := Config{
		Tips: 3, Partials: 10, Compact: 0, States: 5, Patterns: 4,
		Eigens: 1, Matrices: 12, Categories: 2,
		Flags: flags.PrecisionDouble | flags.ComputationAction,
	}
	act, err := NewAction[float64](cfg)
	require.NoError(t, err)

	exp := newHKYEngine(t, false)

	require.NoError(t, act.SetTipPartials(0, statesAsPartials(humanStates, 5, 2)))
	require.NoError(t, act.SetTipPartials(1, statesAsPartials(chimpStates, 5, 2)))
	require.NoError(t, act.SetTipPartials(2, statesAsPartials(gorillaStates, 5, 2)))
	require.NoError(t, act.SetCategoryRates(hkyRates))
	require.NoError(t, act.SetCategoryWeights(0, []float64{0.5, 0.5}))
	require.NoError(t, act.SetStateFrequencies(0, hkyFreqs))

	evec, ivec, eval := denseTriplets(hkyQ, 5)
	require.NoError(t, act.SetEigenDecomposition(0, evec, ivec, eval))
	require.NoError(t, act.UpdateTransitionMatrices(0, []int{0, 1, 2, 3}, nil, nil, hkyEdges))

	require.NoError(t, act.UpdatePartials(hkyOps, None))
	require.NoError(t, exp.UpdatePartials(hkyOps, None))

	actRoot := make([]float64, 2*4*5)
	expRoot := make([]float64, 2*4*5)
	require.NoError(t, act.GetPartials(4, None, actRoot))
	require.NoError(t, exp.GetPartials(4, None, expRoot))
	// The triplet generator carries seven significant digits, so the two
	// paths agree to roughly that precision, not machine epsilon.
	for i := range actRoot {
		require.InDelta(t, expRoot[i], actRoot[i], 1e-5, "partial %d", i)
	}

	aLogL, err := act.CalculateRootLogLikelihoods([]int{4}, []int{0}, []int{0}, []int{None})
	require.NoError(t, err)
	eLogL, err := exp.CalculateRootLogLikelihoods([]int{4}, []int{0}, []int{0}, []int{None})
	require.NoError(t, err)
	require.InDelta(t, eLogL, aLogL, 1e-5)
	require.InDelta(t, hkyExpectedLogL, aLogL, 1e-4)
}

func TestActionZeroEdgeIsIdentity(t *testing.T) {
	cfg := Config{
		Tips: 2, Partials: 2, Compact: 0, States: 5, Patterns: 4,
		Eigens: 1, Matrices: 4, Categories: 1,
		Flags: flags.ComputationAction,
	}
	act, err := NewAction[float64](cfg)
	require.NoError(t, err)
	require.NoError(t, act.SetCategoryRates([]float64{1}))
	in := statesAsPartials(humanStates, 5, 1)
	require.NoError(t, act.SetTipPartials(0, in))
	require.NoError(t, act.SetTipPartials(1, in))

	evec, ivec, eval := denseTriplets(hkyQ, 5)
	require.NoError(t, act.SetEigenDecomposition(0, evec, ivec, eval))
	require.NoError(t, act.UpdateTransitionMatrices(0, []int{0, 1}, nil, nil, []float64{0, 0}))
	require.NoError(t, act.UpdatePartials([]Op{
		{Destination: 2, WriteScale: None, ReadScale: None, Child1: 0, Child1Matrix: 0, Child2: 1, Child2Matrix: 1},
	}, None))

	out := make([]float64, 1*4*5)
	require.NoError(t, act.GetPartials(2, None, out))
	// exp(0)·v ⊙ exp(0)·v = v ⊙ v; for indicator partials that is v.
	for i := range out {
		require.InDelta(t, in[i]*in[i], out[i], 1e-12)
	}
}

func TestActionUnsupportedOperations(t *testing.T) {
	cfg := Config{
		Tips: 2, Partials: 2, Compact: 1, States: 4, Patterns: 2,
		Eigens: 1, Matrices: 4, Categories: 1,
		Flags: flags.ComputationAction,
	}
	act, err := NewAction[float64](cfg)
	require.NoError(t, err)

	err = act.GetTransitionMatrix(0, make([]float64, 16))
	require.ErrorIs(t, err, codes.ErrUnsupported)
	err = act.TransposeTransitionMatrices([]int{0}, []int{1})
	require.ErrorIs(t, err, codes.ErrUnsupported)
	err = act.UpdatePrePartials(nil, None)
	require.ErrorIs(t, err, codes.ErrUnsupported)
	_, _, _, err = act.CalculateEdgeLogLikelihoods(2, 3, 0, None, None, 0, 0, None)
	require.ErrorIs(t, err, codes.ErrUnsupported)

	// Installing an explicit matrix is accepted and ignored.
	require.NoError(t, act.SetTransitionMatrix(0, nil, 0))

	// Compact tips are not served by this backend.
	require.NoError(t, act.SetCategoryRates([]float64{1}))
	require.NoError(t, act.SetTipStates(0, []int{0, 1}))
	evec, ivec, eval := denseTriplets([]float64{
		-1, 1.0 / 3, 1.0 / 3, 1.0 / 3,
		1.0 / 3, -1, 1.0 / 3, 1.0 / 3,
		1.0 / 3, 1.0 / 3, -1, 1.0 / 3,
		1.0 / 3, 1.0 / 3, 1.0 / 3, -1,
	}, 4)
	require.NoError(t, act.SetEigenDecomposition(0, evec, ivec, eval))
	require.NoError(t, act.UpdateTransitionMatrices(0, []int{0, 1}, nil, nil, []float64{0.1, 0.1}))
	err = act.UpdatePartials([]Op{
		{Destination: 2, WriteScale: None, ReadScale: None, Child1: 0, Child1Matrix: 0, Child2: 1, Child2Matrix: 1},
	}, None)
	require.ErrorIs(t, err, codes.ErrUnsupported)
}
