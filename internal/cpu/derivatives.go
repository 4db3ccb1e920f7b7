package cpu

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-yew/internal/codes"
)

// postStateVector expands one pattern of a post-order buffer into tmpState:
// compact tips become indicator (or all-ones) vectors.
func (e *Engine[F]) postStateVector(states []int32, parts []F, off, k int) []F {
	n := e.cfg.States
	if states == nil {
		return parts[off : off+n]
	}
	v := e.tmpState
	st := int(states[k])
	for i := 0; i < n; i++ {
		if st >= n || st == i {
			v[i] = 1
		} else {
			v[i] = 0
		}
	}
	return v
}

// checkReverseIndexConvention verifies that every (post, pre) pair in a
// batch sums to the same constant, the property that lets pre-order
// addresses be derived from post-order ones.
func (e *Engine[F]) checkReverseIndexConvention(postIdx, preIdx []int) error {
	if len(postIdx) == 0 || len(postIdx) != len(preIdx) {
		return fmt.Errorf("%w: %d post, %d pre buffers", codes.ErrSizeMismatch, len(postIdx), len(preIdx))
	}
	want := postIdx[0] + preIdx[0]
	for i := 1; i < len(postIdx); i++ {
		if postIdx[i]+preIdx[i] != want {
			return fmt.Errorf("%w: post %d + pre %d breaks the reverse index convention (expected sum %d)",
				codes.ErrInvalidIndex, postIdx[i], preIdx[i], want)
		}
	}
	return nil
}

// CalculateEdgeDerivatives combines post-order and pre-order partials with
// pre-scaled differential matrices to produce per-pattern first derivatives
// of the log-likelihood for each edge, plus their pattern-weighted sums.
// outFirst has length len(postIdx)*patternCount; outSum length len(postIdx).
func (e *Engine[F]) CalculateEdgeDerivatives(postIdx, preIdx, derivMatIdx []int, weightIdx int, outFirst, outSum []float64) error {
	if err := e.checkReverseIndexConvention(postIdx, preIdx); err != nil {
		return err
	}
	if len(derivMatIdx) != len(postIdx) {
		return fmt.Errorf("%w: %d derivative matrices for %d edges", codes.ErrSizeMismatch, len(derivMatIdx), len(postIdx))
	}
	kTot := e.cfg.Patterns
	if len(outFirst) < len(postIdx)*kTot {
		return fmt.Errorf("%w: outFirst %d for %d edges", codes.ErrSizeMismatch, len(outFirst), len(postIdx))
	}
	if outSum != nil && len(outSum) < len(postIdx) {
		return fmt.Errorf("%w: outSum %d for %d edges", codes.ErrSizeMismatch, len(outSum), len(postIdx))
	}
	if err := e.checkEigen(weightIdx); err != nil {
		return err
	}
	w := e.catWeights[weightIdx]
	if w == nil {
		return fmt.Errorf("%w: category weights %d never set", codes.ErrUninitialized, weightIdx)
	}

	n := e.cfg.States
	for x := range postIdx {
		postStates, postParts, err := e.childData(postIdx[x])
		if err != nil {
			return err
		}
		if err := e.checkBuffer(preIdx[x]); err != nil {
			return err
		}
		pre := e.partials[preIdx[x]]
		if pre == nil {
			return fmt.Errorf("%w: pre-order buffer %d is compact", codes.ErrUnsupported, preIdx[x])
		}
		if err := e.checkMatrix(derivMatIdx[x]); err != nil {
			return err
		}
		dmat := e.matrices[derivMatIdx[x]]

		var sum float64
		for k := 0; k < kTot; k++ {
			var num, denom float64
			for c := 0; c < e.cfg.Categories; c++ {
				off := c*kTot*n + k*n
				mo := c * n * n
				wc := float64(w[c])
				post := e.postStateVector(postStates, postParts, off, k)
				pv := pre[off : off+n]
				for i := 0; i < n; i++ {
					var act F
					row := dmat[mo+i*n : mo+(i+1)*n]
					for j := 0; j < n; j++ {
						act += row[j] * post[j]
					}
					num += wc * float64(pv[i]) * float64(act)
					denom += wc * float64(pv[i]) * float64(post[i])
				}
			}
			g := num / denom
			if math.IsNaN(g) || math.IsInf(g, 0) {
				return errNumerical
			}
			outFirst[x*kTot+k] = g
			sum += float64(e.patternWts[k]) * g
		}
		if outSum != nil {
			outSum[x] = sum
		}
	}
	return nil
}

// CalculateCrossProductDerivatives accumulates the S×S matrix of expected
// sufficient statistics: entry (i,j) sums, over edges and patterns,
// pre[i]·post[j] weighted by category weight, category rate, edge length
// and pattern weight, normalized by the per-pattern site likelihood.
func (e *Engine[F]) CalculateCrossProductDerivatives(postIdx, preIdx []int, weightIdx, rateIdx int, edgeLengths []float64, out []float64) error {
	if err := e.checkReverseIndexConvention(postIdx, preIdx); err != nil {
		return err
	}
	if len(edgeLengths) != len(postIdx) {
		return fmt.Errorf("%w: %d edge lengths for %d edges", codes.ErrSizeMismatch, len(edgeLengths), len(postIdx))
	}
	n := e.cfg.States
	if len(out) != n*n {
		return fmt.Errorf("%w: %d output entries for %d states", codes.ErrSizeMismatch, len(out), n)
	}
	if err := e.checkEigen(weightIdx); err != nil {
		return err
	}
	if err := e.checkEigen(rateIdx); err != nil {
		return err
	}
	w := e.catWeights[weightIdx]
	rates := e.catRates[rateIdx]
	if w == nil || rates == nil {
		return fmt.Errorf("%w: category weights or rates never set", codes.ErrUninitialized)
	}

	kTot := e.cfg.Patterns
	acc := make([]float64, n*n)
	outer := make([]float64, n*n)
	for x := range postIdx {
		postStates, postParts, err := e.childData(postIdx[x])
		if err != nil {
			return err
		}
		if err := e.checkBuffer(preIdx[x]); err != nil {
			return err
		}
		pre := e.partials[preIdx[x]]
		if pre == nil {
			return fmt.Errorf("%w: pre-order buffer %d is compact", codes.ErrUnsupported, preIdx[x])
		}
		t := edgeLengths[x]

		for k := 0; k < kTot; k++ {
			for i := range outer {
				outer[i] = 0
			}
			var denom float64
			for c := 0; c < e.cfg.Categories; c++ {
				off := c*kTot*n + k*n
				wc := float64(w[c])
				scale := wc * rates[c] * t
				post := e.postStateVector(postStates, postParts, off, k)
				pv := pre[off : off+n]
				for i := 0; i < n; i++ {
					pi := float64(pv[i])
					denom += wc * pi * float64(post[i])
					row := outer[i*n : (i+1)*n]
					for j := 0; j < n; j++ {
						row[j] += scale * pi * float64(post[j])
					}
				}
			}
			if denom == 0 {
				return errNumerical
			}
			wk := float64(e.patternWts[k]) / denom
			for i := range acc {
				acc[i] += wk * outer[i]
			}
		}
	}
	for i := range out {
		out[i] = acc[i]
	}
	return nil
}
