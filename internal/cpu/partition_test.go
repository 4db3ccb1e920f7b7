package cpu

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-yew/internal/codes"
)

func TestPartitionedEvaluationMatchesUnpartitioned(t *testing.T) {
	whole := newHKYEngine(t, true)
	require.NoError(t, whole.UpdatePartials(hkyOps, None))
	want, err := whole.CalculateRootLogLikelihoods([]int{4}, []int{0}, []int{0}, []int{None})
	require.NoError(t, err)
	wantSite := make([]float64, 4)
	require.NoError(t, whole.GetSiteLogLikelihoods(wantSite))

	split := newHKYEngine(t, true)
	require.NoError(t, split.SetPatternPartitions(2, []int{0, 1, 0, 1}))
	var ops []Op
	for p := 0; p < 2; p++ {
		for _, op := range hkyOps {
			op.Partition = p
			op.CumulativeScale = None
			ops = append(ops, op)
		}
	}
	require.NoError(t, split.UpdatePartialsByPartition(ops))

	out := make([]float64, 2)
	total, err := split.CalculateRootLogLikelihoodsByPartition(
		[]int{4, 4}, []int{0, 0}, []int{0, 0}, []int{None, None}, []int{0, 1}, out)
	require.NoError(t, err)
	require.InDelta(t, want, total, 1e-10)
	require.InDelta(t, want, out[0]+out[1], 1e-10)

	// Per-partition sums decompose the unpartitioned site log-likelihoods.
	require.InDelta(t, wantSite[0]+wantSite[2], out[0], 1e-10)
	require.InDelta(t, wantSite[1]+wantSite[3], out[1], 1e-10)
}

func TestEveryPatternItsOwnPartition(t *testing.T) {
	e := newHKYEngine(t, true)
	require.NoError(t, e.SetPatternPartitions(4, []int{0, 1, 2, 3}))
	var ops []Op
	for p := 0; p < 4; p++ {
		for _, op := range hkyOps {
			op.Partition = p
			op.CumulativeScale = None
			ops = append(ops, op)
		}
	}
	require.NoError(t, e.UpdatePartialsByPartition(ops))
	out := make([]float64, 4)
	total, err := e.CalculateRootLogLikelihoodsByPartition(
		[]int{4, 4, 4, 4}, []int{0, 0, 0, 0}, []int{0, 0, 0, 0},
		[]int{None, None, None, None}, []int{0, 1, 2, 3}, out)
	require.NoError(t, err)
	require.InDelta(t, hkyExpectedLogL, total, 1e-4)
}

func TestPartitionErrors(t *testing.T) {
	e := newHKYEngine(t, true)
	err := e.UpdatePartialsByPartition([]Op{{Destination: 3}})
	require.ErrorIs(t, err, codes.ErrUninitialized)

	err = e.SetPatternPartitions(2, []int{0, 1, 2, 0})
	require.ErrorIs(t, err, codes.ErrInvalidIndex)

	err = e.SetPatternPartitions(2, []int{0, 1})
	require.ErrorIs(t, err, codes.ErrSizeMismatch)
}
