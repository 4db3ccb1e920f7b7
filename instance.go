package yew

import (
	"github.com/23skdu/longbow-yew/flags"
	"github.com/23skdu/longbow-yew/internal/cpu"
)

// engine is the capability set every backend provides. All data crosses
// this boundary as float64 regardless of the backend's internal precision.
type engine interface {
	SetTipStates(tip int, states []int) error
	SetTipPartials(tip int, partials []float64) error
	SetPartials(buffer int, partials []float64) error
	GetPartials(buffer, scaleIndex int, out []float64) error
	SetTransitionMatrix(matrix int, values []float64, padValue float64) error
	SetDifferentialMatrix(matrix int, values []float64) error
	GetTransitionMatrix(matrix int, out []float64) error
	TransposeTransitionMatrices(src, dst []int) error
	SetEigenDecomposition(index int, evec, ivec, eval []float64) error
	SetCategoryRates(rates []float64) error
	SetCategoryRatesWithIndex(index int, rates []float64) error
	SetCategoryWeights(index int, weights []float64) error
	SetStateFrequencies(index int, freqs []float64) error
	SetPatternWeights(weights []float64) error
	SetPatternPartitions(count int, assignments []int) error
	UpdateTransitionMatrices(eigenIndex int, probIdx, d1Idx, d2Idx []int, edgeLengths []float64) error
	UpdatePartials(ops []cpu.Op, cumulativeScale int) error
	UpdatePartialsByPartition(ops []cpu.Op) error
	UpdatePrePartials(ops []cpu.Op, cumulativeScale int) error
	ResetScaleFactors(index int) error
	AccumulateScaleFactors(indices []int, cumulative int) error
	RemoveScaleFactors(indices []int, cumulative int) error
	CopyScaleFactors(dst, src int) error
	CalculateRootLogLikelihoods(buffers, weights, freqs, scales []int) (float64, error)
	CalculateRootLogLikelihoodsByPartition(buffers, weights, freqs, scales, partitions []int, outPartition []float64) (float64, error)
	GetSiteLogLikelihoods(out []float64) error
	CalculateEdgeLogLikelihoods(parent, child, prob, d1, d2, weights, freqs, scale int) (logL, d1Out, d2Out float64, err error)
	CalculateEdgeDerivatives(post, pre, derivMat []int, weights int, outFirst, outSum []float64) error
	CalculateCrossProductDerivatives(post, pre []int, weights, rates int, edgeLengths []float64, out []float64) error
	SetThreadCount(n int)
	Flags() flags.Flags
	Close()
}

// Instance owns the buffers of one likelihood evaluation context. All
// methods must be called from one goroutine at a time; distinct instances
// are fully independent.
type Instance struct {
	eng     engine
	details InstanceDetails
}

// Details reports the backend and capability set chosen at creation.
func (in *Instance) Details() InstanceDetails { return in.details }

// Close releases every buffer the instance owns.
func (in *Instance) Close() { in.eng.Close() }

// SetThreadCount resizes the intra-instance worker pool.
func (in *Instance) SetThreadCount(n int) { in.eng.SetThreadCount(n) }

// SetTipStates writes a compact tip buffer: one state index per pattern,
// with the value StateCount meaning ambiguous.
func (in *Instance) SetTipStates(tip int, states []int) error {
	return in.eng.SetTipStates(tip, states)
}

// SetTipPartials writes a tip's partial likelihoods (categories × patterns
// × states, row-major).
func (in *Instance) SetTipPartials(tip int, partials []float64) error {
	return in.eng.SetTipPartials(tip, partials)
}

// SetPartials bulk-writes any partials buffer.
func (in *Instance) SetPartials(buffer int, partials []float64) error {
	return in.eng.SetPartials(buffer, partials)
}

// GetPartials bulk-reads a partials buffer. A scale index of None copies
// the stored values; otherwise each pattern column is divided by the
// buffer's scale factor first.
func (in *Instance) GetPartials(buffer, scaleIndex int, out []float64) error {
	return in.eng.GetPartials(buffer, scaleIndex, out)
}

// SetTransitionMatrix installs caller-provided probability blocks.
func (in *Instance) SetTransitionMatrix(matrix int, values []float64, padValue float64) error {
	return in.eng.SetTransitionMatrix(matrix, values, padValue)
}

// SetDifferentialMatrix installs pre-scaled Q or Q² blocks for the
// derivative reductions.
func (in *Instance) SetDifferentialMatrix(matrix int, values []float64) error {
	return in.eng.SetDifferentialMatrix(matrix, values)
}

// GetTransitionMatrix reads a matrix slot back.
func (in *Instance) GetTransitionMatrix(matrix int, out []float64) error {
	return in.eng.GetTransitionMatrix(matrix, out)
}

// TransposeTransitionMatrices writes per-category transposes of src slots
// into dst slots (used with manual pre-order transpose handling).
func (in *Instance) TransposeTransitionMatrices(src, dst []int) error {
	return in.eng.TransposeTransitionMatrices(src, dst)
}

// SetEigenDecomposition installs an eigen model: eigenvectors, inverse
// eigenvectors and eigenvalues (length StateCount, or 2·StateCount for the
// complex form). Under action-mode computation the three arrays carry a
// sparse triplet encoding of Q instead.
func (in *Instance) SetEigenDecomposition(index int, evec, ivec, eval []float64) error {
	return in.eng.SetEigenDecomposition(index, evec, ivec, eval)
}

// SetCategoryRates installs the rate multipliers of model zero.
func (in *Instance) SetCategoryRates(rates []float64) error {
	return in.eng.SetCategoryRates(rates)
}

// SetCategoryRatesWithIndex installs the rate multipliers of one model.
func (in *Instance) SetCategoryRatesWithIndex(index int, rates []float64) error {
	return in.eng.SetCategoryRatesWithIndex(index, rates)
}

// SetCategoryWeights installs the category weights of one model.
func (in *Instance) SetCategoryWeights(index int, weights []float64) error {
	return in.eng.SetCategoryWeights(index, weights)
}

// SetStateFrequencies installs the stationary frequencies of one model.
func (in *Instance) SetStateFrequencies(index int, freqs []float64) error {
	return in.eng.SetStateFrequencies(index, freqs)
}

// SetPatternWeights installs the per-pattern weights.
func (in *Instance) SetPatternWeights(weights []float64) error {
	return in.eng.SetPatternWeights(weights)
}

// SetPatternPartitions assigns every pattern to one of count partitions.
func (in *Instance) SetPatternPartitions(count int, assignments []int) error {
	return in.eng.SetPatternPartitions(count, assignments)
}

// UpdateTransitionMatrices builds probability matrices (and, when d1Idx or
// d2Idx name slots, derivative matrices) for the listed edges.
func (in *Instance) UpdateTransitionMatrices(eigenIndex int, probIdx, d1Idx, d2Idx []int, edgeLengths []float64) error {
	return in.eng.UpdateTransitionMatrices(eigenIndex, probIdx, d1Idx, d2Idx, edgeLengths)
}

// UpdatePartials executes a post-order operation list in order.
func (in *Instance) UpdatePartials(ops []Operation, cumulativeScale int) error {
	return in.eng.UpdatePartials(toEngineOps(ops), cumulativeScale)
}

// UpdatePartialsByPartition executes a partitioned operation list; each
// operation's Partition and CumulativeScale fields are honored.
func (in *Instance) UpdatePartialsByPartition(ops []Operation) error {
	return in.eng.UpdatePartialsByPartition(toEngineOps(ops))
}

// UpdatePrePartials executes a root-to-tip operation list computing
// pre-order partials for gradient work.
func (in *Instance) UpdatePrePartials(ops []Operation, cumulativeScale int) error {
	return in.eng.UpdatePrePartials(toEngineOps(ops), cumulativeScale)
}

// ResetScaleFactors zeroes a cumulative scale buffer.
func (in *Instance) ResetScaleFactors(index int) error {
	return in.eng.ResetScaleFactors(index)
}

// AccumulateScaleFactors folds the named scale buffers into a cumulative
// buffer.
func (in *Instance) AccumulateScaleFactors(indices []int, cumulative int) error {
	return in.eng.AccumulateScaleFactors(indices, cumulative)
}

// RemoveScaleFactors undoes a previous accumulation.
func (in *Instance) RemoveScaleFactors(indices []int, cumulative int) error {
	return in.eng.RemoveScaleFactors(indices, cumulative)
}

// CopyScaleFactors duplicates one scale buffer into another.
func (in *Instance) CopyScaleFactors(dst, src int) error {
	return in.eng.CopyScaleFactors(dst, src)
}

// CalculateRootLogLikelihoods integrates root partials against category
// weights and state frequencies. The four slices are parallel tuples; with
// more than one tuple the per-tuple log-likelihoods sum.
func (in *Instance) CalculateRootLogLikelihoods(buffers, weights, freqs, scales []int) (float64, error) {
	return in.eng.CalculateRootLogLikelihoods(buffers, weights, freqs, scales)
}

// CalculateRootLogLikelihoodsByPartition evaluates one tuple per partition
// and writes each partition's log-likelihood into outPartition.
func (in *Instance) CalculateRootLogLikelihoodsByPartition(buffers, weights, freqs, scales, partitions []int, outPartition []float64) (float64, error) {
	return in.eng.CalculateRootLogLikelihoodsByPartition(buffers, weights, freqs, scales, partitions, outPartition)
}

// GetSiteLogLikelihoods copies the per-pattern log-likelihoods of the most
// recent reduction.
func (in *Instance) GetSiteLogLikelihoods(out []float64) error {
	return in.eng.GetSiteLogLikelihoods(out)
}

// CalculateEdgeLogLikelihoods reduces across one edge. d1 and d2 name
// derivative matrix slots or None. With d1 set, the first derivative of the
// log-likelihood with respect to the edge length is returned; the second is
// returned only when d2 is set as well, and is zero otherwise.
func (in *Instance) CalculateEdgeLogLikelihoods(parent, child, prob, d1, d2, weights, freqs, scale int) (logL, dLogL, d2LogL float64, err error) {
	return in.eng.CalculateEdgeLogLikelihoods(parent, child, prob, d1, d2, weights, freqs, scale)
}

// CalculateEdgeDerivatives combines post-order and pre-order partials with
// differential matrices into per-pattern first derivatives per edge.
func (in *Instance) CalculateEdgeDerivatives(post, pre, derivMat []int, weights int, outFirst, outSum []float64) error {
	return in.eng.CalculateEdgeDerivatives(post, pre, derivMat, weights, outFirst, outSum)
}

// CalculateCrossProductDerivatives accumulates the StateCount×StateCount
// matrix of expected sufficient statistics over the listed edges.
func (in *Instance) CalculateCrossProductDerivatives(post, pre []int, weights, rates int, edgeLengths []float64, out []float64) error {
	return in.eng.CalculateCrossProductDerivatives(post, pre, weights, rates, edgeLengths, out)
}
