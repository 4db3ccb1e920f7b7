package cpu

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-yew/flags"
)

// buildBalancedJC evaluates a balanced JC69 tree over ntaxa tips with the
// given scaling discipline and returns the root log-likelihood.
func buildBalancedJC(t *testing.T, ntaxa int, f flags.Flags, rescaleFrequency int, branch float64) float64 {
	t.Helper()
	const patterns = 24
	const categories = 2
	internals := ntaxa - 1
	scaleBuffers := 0
	manualLike := f.Scaling() == flags.ScalingManual || f.Scaling() == flags.ScalingDynamic
	if manualLike {
		scaleBuffers = internals + 1
	}
	e, err := New[float64](Config{
		Tips: ntaxa, Partials: internals, Compact: ntaxa, States: 4,
		Patterns: patterns, Eigens: 1, Matrices: 2*ntaxa - 2,
		Categories: categories, ScaleBuffers: scaleBuffers,
		Flags:            f,
		RescaleFrequency: rescaleFrequency,
	})
	require.NoError(t, err)
	return evalBalancedJCOn(t, e, ntaxa, branch, manualLike)
}

// evalBalancedJCOn loads a deterministic data set into a prepared engine
// and evaluates one balanced JC69 pass.
func evalBalancedJCOn(t *testing.T, e *Engine[float64], ntaxa int, branch float64, manualLike bool) float64 {
	t.Helper()
	const patterns = 24

	rng := rand.New(rand.NewSource(7))
	for tip := 0; tip < ntaxa; tip++ {
		st := make([]int, patterns)
		for k := range st {
			st[k] = rng.Intn(4)
		}
		require.NoError(t, e.SetTipStates(tip, st))
	}
	require.NoError(t, e.SetCategoryRates([]float64{0.5, 1.5}))
	require.NoError(t, e.SetCategoryWeights(0, []float64{0.5, 0.5}))
	require.NoError(t, e.SetStateFrequencies(0, []float64{0.25, 0.25, 0.25, 0.25}))
	evec := []float64{
		1, 1, 1, 1,
		1, -1, 1, -1,
		1, 1, -1, -1,
		1, -1, -1, 1,
	}
	ivec := make([]float64, 16)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			ivec[i*4+j] = evec[j*4+i] / 4
		}
	}
	eval := []float64{0, -4.0 / 3, -4.0 / 3, -4.0 / 3}
	require.NoError(t, e.SetEigenDecomposition(0, evec, ivec, eval))

	edgeCount := 2*ntaxa - 2
	probIdx := make([]int, edgeCount)
	edges := make([]float64, edgeCount)
	for i := range probIdx {
		probIdx[i] = i
		edges[i] = branch
	}
	require.NoError(t, e.UpdateTransitionMatrices(0, probIdx, nil, nil, edges))

	// Balanced post-order pairing.
	var ops []Op
	level := make([]int, ntaxa)
	for i := range level {
		level[i] = i
	}
	next := ntaxa
	scale := 0
	for len(level) > 1 {
		var parents []int
		for i := 0; i+1 < len(level); i += 2 {
			ws := None
			if manualLike {
				ws = scale
				scale++
			}
			ops = append(ops, Op{
				Destination: next, WriteScale: ws, ReadScale: None,
				Child1: level[i], Child1Matrix: level[i] % edgeCount,
				Child2: level[i+1], Child2Matrix: level[i+1] % edgeCount,
			})
			parents = append(parents, next)
			next++
		}
		if len(level)%2 == 1 {
			parents = append(parents, level[len(level)-1])
		}
		level = parents
	}
	require.NoError(t, e.UpdatePartials(ops, None))

	rootScale := None
	if manualLike {
		cum := ntaxa - 1 // the last of the internals+1 scale buffers
		require.NoError(t, e.ResetScaleFactors(cum))
		used := make([]int, scale)
		for i := range used {
			used[i] = i
		}
		require.NoError(t, e.AccumulateScaleFactors(used, cum))
		rootScale = cum
	}
	logL, err := e.CalculateRootLogLikelihoods([]int{level[0]}, []int{0}, []int{0}, []int{rootScale})
	require.NoError(t, err)
	return logL
}

func TestScalingPoliciesAgree(t *testing.T) {
	const ntaxa = 16
	base := buildBalancedJC(t, ntaxa, flags.PrecisionDouble, 1, 0.4)
	cases := map[string]flags.Flags{
		"manual":      flags.PrecisionDouble | flags.ScalingManual | flags.ScalersRaw,
		"manual-log":  flags.PrecisionDouble | flags.ScalingManual | flags.ScalersLog,
		"always":      flags.PrecisionDouble | flags.ScalingAlways | flags.ScalersRaw,
		"always-log":  flags.PrecisionDouble | flags.ScalingAlways | flags.ScalersLog,
		"auto":        flags.PrecisionDouble | flags.ScalingAuto | flags.ScalersRaw,
		"auto-log":    flags.PrecisionDouble | flags.ScalingAuto | flags.ScalersLog,
		"dynamic":     flags.PrecisionDouble | flags.ScalingDynamic | flags.ScalersRaw,
		"dynamic-log": flags.PrecisionDouble | flags.ScalingDynamic | flags.ScalersLog,
	}
	for name, f := range cases {
		got := buildBalancedJC(t, ntaxa, f, 1, 0.4)
		require.InDelta(t, base, got, 1e-9, "policy %s", name)
	}
}

func TestAutoScalingTriggersOnDeepTrees(t *testing.T) {
	// A 64-tip balanced tree with long branches pushes partials below the
	// auto threshold; the rescaled result must still match the raw one.
	base := buildBalancedJC(t, 64, flags.PrecisionDouble, 1, 10)
	auto := buildBalancedJC(t, 64, flags.PrecisionDouble|flags.ScalingAuto|flags.ScalersRaw, 1, 10)
	autoLog := buildBalancedJC(t, 64, flags.PrecisionDouble|flags.ScalingAuto|flags.ScalersLog, 1, 10)
	require.InDelta(t, base, auto, 1e-7*mathAbs(base))
	require.InDelta(t, auto, autoLog, 1e-9*mathAbs(base))
}

func mathAbs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func TestAccumulateAndRemoveScaleFactors(t *testing.T) {
	e, err := New[float64](Config{
		Tips: 3, Partials: 10, Compact: 3, States: 5, Patterns: 4,
		Eigens: 1, Matrices: 12, Categories: 2, ScaleBuffers: 3,
		Flags: flags.ScalingManual | flags.ScalersRaw,
	})
	require.NoError(t, err)
	require.NoError(t, e.SetTipStates(0, humanStates))
	require.NoError(t, e.SetTipStates(1, chimpStates))
	require.NoError(t, e.SetTipStates(2, gorillaStates))
	require.NoError(t, e.SetCategoryRates(hkyRates))
	require.NoError(t, e.SetCategoryWeights(0, []float64{0.5, 0.5}))
	require.NoError(t, e.SetStateFrequencies(0, hkyFreqs))
	require.NoError(t, e.SetEigenDecomposition(0, hkyEvec, hkyIvec, hkyEval))
	require.NoError(t, e.UpdateTransitionMatrices(0, []int{0, 1, 2, 3}, nil, nil, hkyEdges))

	ops := []Op{
		{Destination: 3, WriteScale: 0, ReadScale: None, Child1: 0, Child1Matrix: 0, Child2: 1, Child2Matrix: 1},
		{Destination: 4, WriteScale: 1, ReadScale: None, Child1: 2, Child1Matrix: 2, Child2: 3, Child2Matrix: 3},
	}
	require.NoError(t, e.UpdatePartials(ops, None))
	const cum = 2
	require.NoError(t, e.ResetScaleFactors(cum))
	require.NoError(t, e.AccumulateScaleFactors([]int{0, 1}, cum))

	logL, err := e.CalculateRootLogLikelihoods([]int{4}, []int{0}, []int{0}, []int{cum})
	require.NoError(t, err)
	require.InDelta(t, hkyExpectedLogL, logL, 1e-4)

	// Removing what was accumulated returns the cumulative buffer to zero:
	// the reduction then reports the scaled (wrong) likelihood, strictly
	// larger than the true one since every factor is <= 1 here.
	require.NoError(t, e.RemoveScaleFactors([]int{0, 1}, cum))
	scaledLogL, err := e.CalculateRootLogLikelihoods([]int{4}, []int{0}, []int{0}, []int{cum})
	require.NoError(t, err)
	require.Greater(t, scaledLogL, logL)

	// CopyScaleFactors duplicates buffers verbatim.
	require.NoError(t, e.AccumulateScaleFactors([]int{0, 1}, cum))
	require.NoError(t, e.CopyScaleFactors(1, cum))
	logLCopy, err := e.CalculateRootLogLikelihoods([]int{4}, []int{0}, []int{0}, []int{1})
	require.NoError(t, err)
	require.InDelta(t, logL, logLCopy, 1e-10)
}

func TestDynamicScalingCarriesPreviousScalers(t *testing.T) {
	// With rescale frequency 2, evaluation 1 carries (no factors written
	// yet), evaluation 2 rescales, and evaluation 3 carries the factors
	// written by evaluation 2; results must agree throughout.
	f := flags.PrecisionDouble | flags.ScalingDynamic | flags.ScalersRaw
	first := buildBalancedJC(t, 8, f, 2, 0.4)

	// Same tree evaluated three times on one engine.
	const ntaxa = 8
	e, err := New[float64](Config{
		Tips: ntaxa, Partials: ntaxa - 1, Compact: ntaxa, States: 4,
		Patterns: 24, Eigens: 1, Matrices: 2*ntaxa - 2, Categories: 2,
		ScaleBuffers:     ntaxa,
		Flags:            f,
		RescaleFrequency: 2,
	})
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(7))
	for tip := 0; tip < ntaxa; tip++ {
		st := make([]int, 24)
		for k := range st {
			st[k] = rng.Intn(4)
		}
		require.NoError(t, e.SetTipStates(tip, st))
	}
	require.NoError(t, e.SetCategoryRates([]float64{0.5, 1.5}))
	require.NoError(t, e.SetCategoryWeights(0, []float64{0.5, 0.5}))
	require.NoError(t, e.SetStateFrequencies(0, []float64{0.25, 0.25, 0.25, 0.25}))
	evec := []float64{1, 1, 1, 1, 1, -1, 1, -1, 1, 1, -1, -1, 1, -1, -1, 1}
	ivec := make([]float64, 16)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			ivec[i*4+j] = evec[j*4+i] / 4
		}
	}
	require.NoError(t, e.SetEigenDecomposition(0, evec, ivec, []float64{0, -4.0 / 3, -4.0 / 3, -4.0 / 3}))
	edgeCount := 2*ntaxa - 2
	probIdx := make([]int, edgeCount)
	edges := make([]float64, edgeCount)
	for i := range probIdx {
		probIdx[i] = i
		edges[i] = 0.4
	}
	require.NoError(t, e.UpdateTransitionMatrices(0, probIdx, nil, nil, edges))
	var ops []Op
	level := []int{0, 1, 2, 3, 4, 5, 6, 7}
	next := ntaxa
	scale := 0
	for len(level) > 1 {
		var parents []int
		for i := 0; i+1 < len(level); i += 2 {
			ops = append(ops, Op{
				Destination: next, WriteScale: scale, ReadScale: None,
				Child1: level[i], Child1Matrix: level[i] % edgeCount,
				Child2: level[i+1], Child2Matrix: level[i+1] % edgeCount,
			})
			scale++
			parents = append(parents, next)
			next++
		}
		level = parents
	}
	root := level[0]
	evalOnce := func() float64 {
		cum := ntaxa - 1
		require.NoError(t, e.ResetScaleFactors(cum))
		require.NoError(t, e.UpdatePartials(ops, None))
		used := make([]int, scale)
		for i := range used {
			used[i] = i
		}
		require.NoError(t, e.AccumulateScaleFactors(used, cum))
		logL, err := e.CalculateRootLogLikelihoods([]int{root}, []int{0}, []int{0}, []int{cum})
		require.NoError(t, err)
		return logL
	}
	a := evalOnce() // evaluation 1: carries (1 % 2 != 0)
	b := evalOnce() // evaluation 2: rescales
	c := evalOnce() // evaluation 3: carries the factors from evaluation 2
	require.InDelta(t, first, a, 1e-9)
	require.InDelta(t, a, b, 1e-9)
	require.InDelta(t, b, c, 1e-9)
}
