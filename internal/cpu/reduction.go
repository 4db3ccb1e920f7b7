package cpu

import (
	"fmt"
	"math"
	"time"

	"github.com/23skdu/longbow-yew/flags"
	"github.com/23skdu/longbow-yew/internal/codes"
)

// modelParams resolves the (weights, frequencies) buffers of one model.
func (e *Engine[F]) modelParams(weightIdx, freqIdx int) ([]F, []F, error) {
	if err := e.checkEigen(weightIdx); err != nil {
		return nil, nil, err
	}
	if err := e.checkEigen(freqIdx); err != nil {
		return nil, nil, err
	}
	w := e.catWeights[weightIdx]
	f := e.stateFreqs[freqIdx]
	if w == nil {
		return nil, nil, fmt.Errorf("%w: category weights %d never set", codes.ErrUninitialized, weightIdx)
	}
	if f == nil {
		return nil, nil, fmt.Errorf("%w: state frequencies %d never set", codes.ErrUninitialized, freqIdx)
	}
	return w, f, nil
}

// siteLikelihoods integrates one root buffer over categories and states
// into per-pattern likelihoods (no log, no scaling).
func (e *Engine[F]) siteLikelihoods(dst []float64, root []F, w, f []F, pats []int32) {
	n, kTot := e.cfg.States, e.cfg.Patterns
	for ki := 0; ki < e.patternCount(pats); ki++ {
		dst[e.patternAt(pats, ki)] = 0
	}
	for c := 0; c < e.cfg.Categories; c++ {
		po := c * kTot * n
		wc := float64(w[c])
		for ki := 0; ki < e.patternCount(pats); ki++ {
			k := e.patternAt(pats, ki)
			off := po + k*n
			var sum float64
			for i := 0; i < n; i++ {
				sum += float64(f[i]) * float64(root[off+i])
			}
			dst[k] += wc * sum
		}
	}
}

// scaleContribution resolves the log-space cumulative scale for a
// reduction: the caller's cumulative buffer under manual/dynamic scaling,
// or the engine-tracked node scalers under auto/always.
func (e *Engine[F]) scaleContribution(scaleIdx int) ([]float64, error) {
	if e.discipline == flags.ScalingAuto || e.discipline == flags.ScalingAlways {
		cum := make([]float64, e.cfg.Patterns)
		e.autoCumulative(cum)
		return cum, nil
	}
	if scaleIdx == None {
		return nil, nil
	}
	if err := e.checkScale(scaleIdx); err != nil {
		return nil, err
	}
	cum := make([]float64, e.cfg.Patterns)
	src := e.scales[scaleIdx]
	for k := range cum {
		cum[k] = float64(src[k])
	}
	return cum, nil
}

// CalculateRootLogLikelihoods integrates one or more root buffers. Each
// parallel tuple (buffer, weights, frequencies, scale) is an independent
// evaluation of the same patterns; their site log-likelihoods sum. The
// per-pattern sums are cached for GetSiteLogLikelihoods.
func (e *Engine[F]) CalculateRootLogLikelihoods(bufIdx, weightIdx, freqIdx, scaleIdx []int) (float64, error) {
	defer func(t0 time.Time) { rootReductions.Observe(time.Since(t0).Seconds()) }(time.Now())

	if len(bufIdx) == 0 || len(weightIdx) != len(bufIdx) || len(freqIdx) != len(bufIdx) || len(scaleIdx) != len(bufIdx) {
		return 0, fmt.Errorf("%w: root tuple lengths %d/%d/%d/%d",
			codes.ErrSizeMismatch, len(bufIdx), len(weightIdx), len(freqIdx), len(scaleIdx))
	}
	for i := range e.siteLogL {
		e.siteLogL[i] = 0
	}
	site := make([]float64, e.cfg.Patterns)
	var total float64
	for t := range bufIdx {
		if err := e.checkBuffer(bufIdx[t]); err != nil {
			return 0, err
		}
		root := e.partials[bufIdx[t]]
		if root == nil {
			return 0, fmt.Errorf("%w: root buffer %d is compact", codes.ErrUnsupported, bufIdx[t])
		}
		w, f, err := e.modelParams(weightIdx[t], freqIdx[t])
		if err != nil {
			return 0, err
		}
		cum, err := e.scaleContribution(scaleIdx[t])
		if err != nil {
			return 0, err
		}
		e.siteLikelihoods(site, root, w, f, nil)
		for k := 0; k < e.cfg.Patterns; k++ {
			lnL := math.Log(site[k])
			if cum != nil {
				lnL += cum[k]
			}
			if math.IsNaN(lnL) || math.IsInf(lnL, 0) {
				return 0, errNumerical
			}
			e.siteLogL[k] += lnL
			total += float64(e.patternWts[k]) * lnL
		}
	}
	e.haveSiteLnL = true
	return total, nil
}

// CalculateRootLogLikelihoodsByPartition evaluates one tuple per partition
// and writes each partition's log-likelihood into outPartition, returning
// the overall sum.
func (e *Engine[F]) CalculateRootLogLikelihoodsByPartition(bufIdx, weightIdx, freqIdx, scaleIdx, partitionIdx []int, outPartition []float64) (float64, error) {
	if e.partition == nil {
		return 0, fmt.Errorf("%w: pattern partitions never set", codes.ErrUninitialized)
	}
	if len(bufIdx) != len(partitionIdx) || len(outPartition) != len(bufIdx) ||
		len(weightIdx) != len(bufIdx) || len(freqIdx) != len(bufIdx) || len(scaleIdx) != len(bufIdx) {
		return 0, fmt.Errorf("%w: partition tuple lengths", codes.ErrSizeMismatch)
	}
	site := make([]float64, e.cfg.Patterns)
	var total float64
	for t := range bufIdx {
		p := partitionIdx[t]
		if p < 0 || p >= e.partitions {
			return 0, fmt.Errorf("%w: partition %d of %d", codes.ErrInvalidIndex, p, e.partitions)
		}
		pats := e.partitionList[p]
		if err := e.checkBuffer(bufIdx[t]); err != nil {
			return 0, err
		}
		root := e.partials[bufIdx[t]]
		if root == nil {
			return 0, fmt.Errorf("%w: root buffer %d is compact", codes.ErrUnsupported, bufIdx[t])
		}
		w, f, err := e.modelParams(weightIdx[t], freqIdx[t])
		if err != nil {
			return 0, err
		}
		cum, err := e.scaleContribution(scaleIdx[t])
		if err != nil {
			return 0, err
		}
		e.siteLikelihoods(site, root, w, f, pats)
		var sub float64
		for _, k32 := range pats {
			k := int(k32)
			lnL := math.Log(site[k])
			if cum != nil {
				lnL += cum[k]
			}
			if math.IsNaN(lnL) || math.IsInf(lnL, 0) {
				return 0, errNumerical
			}
			e.siteLogL[k] = lnL
			sub += float64(e.patternWts[k]) * lnL
		}
		outPartition[t] = sub
		total += sub
	}
	e.haveSiteLnL = true
	return total, nil
}

// GetSiteLogLikelihoods copies out the per-pattern log-likelihoods of the
// most recent root or edge reduction.
func (e *Engine[F]) GetSiteLogLikelihoods(out []float64) error {
	if !e.haveSiteLnL {
		return fmt.Errorf("%w: no reduction has run", codes.ErrUninitialized)
	}
	if len(out) != e.cfg.Patterns {
		return fmt.Errorf("%w: %d values for %d patterns", codes.ErrSizeMismatch, len(out), e.cfg.Patterns)
	}
	copy(out, e.siteLogL)
	return nil
}

// CalculateEdgeLogLikelihoods reduces over one edge joining a parent
// partials buffer and a child buffer. When d1Idx names a derivative
// matrix, the first derivative of the log-likelihood with respect to the
// edge length is returned as well, and the second when d2Idx also names
// one; with d1Idx None, d2 is zero whatever d2Idx names.
func (e *Engine[F]) CalculateEdgeLogLikelihoods(parentIdx, childIdx, probIdx, d1Idx, d2Idx, weightIdx, freqIdx, scaleIdx int) (logL, d1, d2 float64, err error) {
	if err = e.checkBuffer(parentIdx); err != nil {
		return
	}
	parent := e.partials[parentIdx]
	if parent == nil {
		err = fmt.Errorf("%w: parent buffer %d is compact", codes.ErrUnsupported, parentIdx)
		return
	}
	childStates, childParts, err := e.childData(childIdx)
	if err != nil {
		return
	}
	if err = e.checkMatrix(probIdx); err != nil {
		return
	}
	mats := [3][]F{e.matrices[probIdx], nil, nil}
	wantD1, wantD2 := d1Idx != None, d2Idx != None
	if wantD1 {
		if err = e.checkMatrix(d1Idx); err != nil {
			return
		}
		mats[1] = e.matrices[d1Idx]
	}
	if wantD2 {
		if err = e.checkMatrix(d2Idx); err != nil {
			return
		}
		mats[2] = e.matrices[d2Idx]
	}
	w, f, err := e.modelParams(weightIdx, freqIdx)
	if err != nil {
		return
	}
	cum, err := e.scaleContribution(scaleIdx)
	if err != nil {
		return
	}

	n, kTot := e.cfg.States, e.cfg.Patterns
	site := make([]float64, kTot)
	num1 := make([]float64, kTot)
	num2 := make([]float64, kTot)
	rowSums := make([]F, n)
	for c := 0; c < e.cfg.Categories; c++ {
		mo := c * n * n
		po := c * kTot * n
		wc := float64(w[c])
		for m := 0; m < 3; m++ {
			if mats[m] == nil {
				continue
			}
			mat := mats[m][mo : mo+n*n]
			if childStates != nil {
				for i := 0; i < n; i++ {
					var sum F
					for _, v := range mat[i*n : (i+1)*n] {
						sum += v
					}
					rowSums[i] = sum
				}
			}
			for k := 0; k < kTot; k++ {
				off := po + k*n
				var sum float64
				for i := 0; i < n; i++ {
					var lik float64
					if childStates != nil {
						if st := int(childStates[k]); st < n {
							lik = float64(mat[i*n+st])
						} else {
							lik = float64(rowSums[i])
						}
					} else {
						var acc F
						row := mat[i*n : (i+1)*n]
						child := childParts[off : off+n]
						for j := 0; j < n; j++ {
							acc += row[j] * child[j]
						}
						lik = float64(acc)
					}
					sum += float64(f[i]) * float64(parent[off+i]) * lik
				}
				switch m {
				case 0:
					site[k] += wc * sum
				case 1:
					num1[k] += wc * sum
				case 2:
					num2[k] += wc * sum
				}
			}
		}
	}

	for k := 0; k < kTot; k++ {
		lnL := math.Log(site[k])
		if cum != nil {
			lnL += cum[k]
		}
		if math.IsNaN(lnL) || math.IsInf(lnL, 0) {
			err = errNumerical
			return
		}
		e.siteLogL[k] = lnL
		wk := float64(e.patternWts[k])
		logL += wk * lnL
		if wantD1 {
			ratio := num1[k] / site[k]
			d1 += wk * ratio
			if wantD2 {
				d2 += wk * (num2[k]/site[k] - ratio*ratio)
			}
		}
	}
	e.haveSiteLnL = true
	return
}
