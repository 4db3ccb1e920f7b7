package cpu

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-yew/internal/codes"
	"github.com/23skdu/longbow-yew/internal/simd"
)

// ActionEngine evaluates partials by direct action of the rate matrix:
// instead of building P = exp(tQ), it applies the truncated, rescaled
// Taylor series of exp(tQ) to each child's partials. The eigen API carries
// a sparse triplet encoding of Q rather than a decomposition.
type ActionEngine[F simd.Real] struct {
	*Engine[F]

	// generators[eigenIndex] is the installed sparse Q.
	generators []*spMat
	// scaledQ[matrixSlot][category] is Q scaled by edge length × rate.
	scaledQ [][]*spMat
}

// NewAction builds the action-mode engine on top of the base CPU engine.
func NewAction[F simd.Real](cfg Config) (*ActionEngine[F], error) {
	base, err := New[F](cfg)
	if err != nil {
		return nil, err
	}
	e := &ActionEngine[F]{
		Engine:     base,
		generators: make([]*spMat, cfg.Eigens),
		scaledQ:    make([][]*spMat, cfg.Matrices),
	}
	log.Debug().Int("eigens", cfg.Eigens).Msg("action engine created")
	return e, nil
}

// SetEigenDecomposition installs a sparse generator conveyed through the
// eigen API as triplets: ivec[0] is the non-zero count, evec holds the
// (row, col) pairs and eval the values.
func (e *ActionEngine[F]) SetEigenDecomposition(idx int, evec, ivec, eval []float64) error {
	if err := e.checkEigen(idx); err != nil {
		return err
	}
	if len(ivec) < 1 {
		return fmt.Errorf("%w: missing non-zero count", codes.ErrSizeMismatch)
	}
	nnz := int(ivec[0])
	if nnz < 0 || len(evec) < 2*nnz || len(eval) < nnz {
		return fmt.Errorf("%w: %d triplets with %d coordinates and %d values",
			codes.ErrSizeMismatch, nnz, len(evec)/2, len(eval))
	}
	n := e.cfg.States
	ri := make([]int, nnz)
	ci := make([]int, nnz)
	vals := make([]float64, nnz)
	for t := 0; t < nnz; t++ {
		ri[t] = int(evec[2*t])
		ci[t] = int(evec[2*t+1])
		if ri[t] < 0 || ri[t] >= n || ci[t] < 0 || ci[t] >= n {
			return fmt.Errorf("%w: triplet (%d,%d) outside %d states", codes.ErrInvalidIndex, ri[t], ci[t], n)
		}
		vals[t] = eval[t]
	}
	e.generators[idx] = newSpMat(n, ri, ci, vals)
	return nil
}

// UpdateTransitionMatrices records scaled generators per matrix slot; no
// explicit probability matrix is built. Derivative slots are not supported
// in action mode.
func (e *ActionEngine[F]) UpdateTransitionMatrices(eigenIdx int, probIdx, d1Idx, d2Idx []int, edges []float64) error {
	if err := e.checkEigen(eigenIdx); err != nil {
		return err
	}
	if d1Idx != nil || d2Idx != nil {
		return fmt.Errorf("%w: derivative matrices in action mode", codes.ErrUnsupported)
	}
	if len(probIdx) != len(edges) {
		return fmt.Errorf("%w: %d indices for %d edges", codes.ErrSizeMismatch, len(probIdx), len(edges))
	}
	q := e.generators[eigenIdx]
	if q == nil {
		return fmt.Errorf("%w: generator %d never set", codes.ErrUninitialized, eigenIdx)
	}
	rates := e.catRates[eigenIdx]
	if rates == nil {
		return fmt.Errorf("%w: category rates for model %d", codes.ErrUninitialized, eigenIdx)
	}
	for i, b := range edges {
		if err := e.checkMatrix(probIdx[i]); err != nil {
			return err
		}
		per := make([]*spMat, e.cfg.Categories)
		for c, rate := range rates {
			per[c] = q.scaled(b * rate)
		}
		e.scaledQ[probIdx[i]] = per
	}
	matricesBuilt.Add(float64(len(edges)))
	return nil
}

// SetTransitionMatrix is accepted and ignored: action mode has no explicit
// probability matrices to install.
func (e *ActionEngine[F]) SetTransitionMatrix(idx int, m []float64, padValue float64) error {
	return e.checkMatrix(idx)
}

// GetTransitionMatrix has nothing to return in action mode.
func (e *ActionEngine[F]) GetTransitionMatrix(idx int, out []float64) error {
	return fmt.Errorf("%w: explicit transition matrices in action mode", codes.ErrUnsupported)
}

// TransposeTransitionMatrices has no matrices to transpose.
func (e *ActionEngine[F]) TransposeTransitionMatrices(src, dst []int) error {
	return fmt.Errorf("%w: transposition in action mode", codes.ErrUnsupported)
}

// UpdatePartialsByPartition is not offered by this backend.
func (e *ActionEngine[F]) UpdatePartialsByPartition(ops []Op) error {
	return fmt.Errorf("%w: partitioned updates in action mode", codes.ErrUnsupported)
}

// UpdatePrePartials requires explicit matrices.
func (e *ActionEngine[F]) UpdatePrePartials(ops []Op, cumulativeScale int) error {
	return fmt.Errorf("%w: pre-order propagation in action mode", codes.ErrUnsupported)
}

// CalculateEdgeLogLikelihoods requires explicit matrices.
func (e *ActionEngine[F]) CalculateEdgeLogLikelihoods(parentIdx, childIdx, probIdx, d1Idx, d2Idx, weightIdx, freqIdx, scaleIdx int) (float64, float64, float64, error) {
	return 0, 0, 0, fmt.Errorf("%w: edge reductions in action mode", codes.ErrUnsupported)
}

// UpdatePartials runs the post-order operation list with the action kernel.
// Children must be partials buffers; compact tips are not supported by this
// backend and must be expanded by the caller.
func (e *ActionEngine[F]) UpdatePartials(ops []Op, cumulativeScale int) error {
	var cum []F
	if cumulativeScale != None {
		if err := e.checkScale(cumulativeScale); err != nil {
			return err
		}
		cum = e.scales[cumulativeScale]
	}
	e.evalCount++
	rescaleEval := e.evalCount%e.cfg.RescaleFrequency == 0
	for _, op := range ops {
		if err := e.applyActionOp(op, cum, rescaleEval); err != nil {
			return err
		}
	}
	return nil
}

func (e *ActionEngine[F]) applyActionOp(op Op, cum []F, rescaleEval bool) error {
	if err := e.checkBuffer(op.Destination); err != nil {
		return err
	}
	dest := e.partials[op.Destination]
	if dest == nil {
		return fmt.Errorf("%w: destination %d is compact", codes.ErrUnsupported, op.Destination)
	}
	left, err := e.actionChild(op.Child1, op.Child1Matrix)
	if err != nil {
		return err
	}
	right, err := e.actionChild(op.Child2, op.Child2Matrix)
	if err != nil {
		return err
	}

	n, kTot := e.cfg.States, e.cfg.Patterns
	block := kTot * n
	lbuf := make([]float64, block)
	rbuf := make([]float64, block)
	for c := 0; c < e.cfg.Categories; c++ {
		off := c * block
		for x := 0; x < block; x++ {
			lbuf[x] = float64(left.partials[off+x])
			rbuf[x] = float64(right.partials[off+x])
		}
		expmvAction(left.q[c], lbuf, kTot)
		expmvAction(right.q[c], rbuf, kTot)
		for x := 0; x < block; x++ {
			dest[off+x] = F(lbuf[x] * rbuf[x])
		}
	}
	partialsOps.Inc()

	return e.applyScaling(op, dest, cum, nil, rescaleEval)
}

type actionChild[F simd.Real] struct {
	partials []F
	q        []*spMat
}

func (e *ActionEngine[F]) actionChild(buf, matrixSlot int) (actionChild[F], error) {
	var zero actionChild[F]
	states, parts, err := e.childData(buf)
	if err != nil {
		return zero, err
	}
	if states != nil {
		return zero, fmt.Errorf("%w: compact tip %d in action mode", codes.ErrUnsupported, buf)
	}
	if err := e.checkMatrix(matrixSlot); err != nil {
		return zero, err
	}
	q := e.scaledQ[matrixSlot]
	if q == nil {
		return zero, fmt.Errorf("%w: scaled generator %d never set", codes.ErrUninitialized, matrixSlot)
	}
	return actionChild[F]{partials: parts, q: q}, nil
}
