package cpu

import (
	"fmt"

	"github.com/23skdu/longbow-yew/internal/codes"
	"github.com/23skdu/longbow-yew/internal/simd"
)

// childData resolves a child buffer index to either a compact state vector
// or a partials tensor.
func (e *Engine[F]) childData(idx int) ([]int32, []F, error) {
	if err := e.checkBuffer(idx); err != nil {
		return nil, nil, err
	}
	if idx < e.cfg.Compact {
		st := e.tipStates[idx]
		if st == nil {
			return nil, nil, fmt.Errorf("%w: tip states %d never set", codes.ErrUninitialized, idx)
		}
		return st, nil, nil
	}
	return nil, e.partials[idx], nil
}

// UpdatePartials executes a post-order operation list. Operations run
// strictly in the order supplied; the caller guarantees children precede
// parents.
func (e *Engine[F]) UpdatePartials(ops []Op, cumulativeScale int) error {
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
		if err := e.applyOp(op, cum, nil, rescaleEval); err != nil {
			return err
		}
	}
	return nil
}

// UpdatePartialsByPartition executes a partitioned operation list; each
// operation carries its own partition and cumulative-scale fields and only
// touches the patterns assigned to that partition.
func (e *Engine[F]) UpdatePartialsByPartition(ops []Op) error {
	if e.partition == nil {
		return fmt.Errorf("%w: pattern partitions never set", codes.ErrUninitialized)
	}
	e.evalCount++
	rescaleEval := e.evalCount%e.cfg.RescaleFrequency == 0
	for _, op := range ops {
		if op.Partition < 0 || op.Partition >= e.partitions {
			return fmt.Errorf("%w: partition %d of %d", codes.ErrInvalidIndex, op.Partition, e.partitions)
		}
		var cum []F
		if op.CumulativeScale != None {
			if err := e.checkScale(op.CumulativeScale); err != nil {
				return err
			}
			cum = e.scales[op.CumulativeScale]
		}
		if err := e.applyOp(op, cum, e.partitionList[op.Partition], rescaleEval); err != nil {
			return err
		}
	}
	return nil
}

// applyOp computes one destination from its two children and applies the
// active scaling discipline. pats restricts the pattern set (nil = all).
func (e *Engine[F]) applyOp(op Op, cum []F, pats []int32, rescaleEval bool) error {
	if err := e.checkBuffer(op.Destination); err != nil {
		return err
	}
	dest := e.partials[op.Destination]
	if dest == nil {
		return fmt.Errorf("%w: destination %d is compact", codes.ErrUnsupported, op.Destination)
	}
	s1, p1, err := e.childData(op.Child1)
	if err != nil {
		return err
	}
	s2, p2, err := e.childData(op.Child2)
	if err != nil {
		return err
	}
	if err := e.checkMatrix(op.Child1Matrix); err != nil {
		return err
	}
	if err := e.checkMatrix(op.Child2Matrix); err != nil {
		return err
	}
	m1 := e.matrices[op.Child1Matrix]
	m2 := e.matrices[op.Child2Matrix]

	// Order the children states-first so only three kernel shapes exist.
	if s1 == nil && s2 != nil {
		s1, p1, m1, s2, p2, m2 = s2, p2, m2, s1, p1, m1
	}

	switch {
	case s1 != nil && s2 != nil:
		if e.use4 {
			e.calcStatesStates4(dest, s1, m1, s2, m2, pats)
		} else {
			e.computeRowSums(e.rowSums1, m1)
			e.computeRowSums(e.rowSums2, m2)
			e.calcStatesStates(dest, s1, m1, s2, m2, pats)
		}
	case s1 != nil:
		if e.use4 {
			e.calcStatesPartials4(dest, s1, m1, p2, m2, pats)
		} else {
			e.computeRowSums(e.rowSums1, m1)
			e.calcStatesPartials(dest, s1, m1, p2, m2, pats)
		}
	default:
		if e.use4 {
			e.calcPartialsPartials4(dest, p1, m1, p2, m2, pats)
		} else {
			e.calcPartialsPartials(dest, p1, m1, p2, m2, pats)
		}
	}
	partialsOps.Inc()

	return e.applyScaling(op, dest, cum, pats, rescaleEval)
}

// computeRowSums fills dst (R*S) with per-category row sums of a matrix;
// the row sum stands in for the ambiguous tip state.
func (e *Engine[F]) computeRowSums(dst, m []F) {
	n := e.cfg.States
	for c := 0; c < e.cfg.Categories; c++ {
		simd.RowSums(dst[c*n:(c+1)*n], m[c*n*n:(c+1)*n*n], n, n)
	}
}

func (e *Engine[F]) patternAt(pats []int32, i int) int {
	if pats == nil {
		return i
	}
	return int(pats[i])
}

func (e *Engine[F]) patternCount(pats []int32) int {
	if pats == nil {
		return e.cfg.Patterns
	}
	return len(pats)
}

func (e *Engine[F]) calcPartialsPartials(dest, p1, m1, p2, m2 []F, pats []int32) {
	n, kTot := e.cfg.States, e.cfg.Patterns
	e.parallelFor(e.patternCount(pats), func(a, b int) {
		for c := 0; c < e.cfg.Categories; c++ {
			mo := c * n * n
			po := c * kTot * n
			for ki := a; ki < b; ki++ {
				k := e.patternAt(pats, ki)
				off := po + k*n
				v1 := p1[off : off+n]
				v2 := p2[off : off+n]
				d := dest[off : off+n]
				for i := 0; i < n; i++ {
					row := mo + i*n
					d[i] = simd.DotProduct(m1[row:row+n], v1) *
						simd.DotProduct(m2[row:row+n], v2)
				}
			}
		}
	})
}

func (e *Engine[F]) calcStatesPartials(dest []F, s1 []int32, m1, p2, m2 []F, pats []int32) {
	n, kTot := e.cfg.States, e.cfg.Patterns
	e.parallelFor(e.patternCount(pats), func(a, b int) {
		for c := 0; c < e.cfg.Categories; c++ {
			mo := c * n * n
			po := c * kTot * n
			rs := e.rowSums1[c*n : (c+1)*n]
			for ki := a; ki < b; ki++ {
				k := e.patternAt(pats, ki)
				off := po + k*n
				st := int(s1[k])
				v2 := p2[off : off+n]
				d := dest[off : off+n]
				for i := 0; i < n; i++ {
					row := mo + i*n
					var left F
					if st < n {
						left = m1[row+st]
					} else {
						left = rs[i]
					}
					d[i] = left * simd.DotProduct(m2[row:row+n], v2)
				}
			}
		}
	})
}

func (e *Engine[F]) calcStatesStates(dest []F, s1 []int32, m1 []F, s2 []int32, m2 []F, pats []int32) {
	n, kTot := e.cfg.States, e.cfg.Patterns
	e.parallelFor(e.patternCount(pats), func(a, b int) {
		for c := 0; c < e.cfg.Categories; c++ {
			mo := c * n * n
			po := c * kTot * n
			rs1 := e.rowSums1[c*n : (c+1)*n]
			rs2 := e.rowSums2[c*n : (c+1)*n]
			for ki := a; ki < b; ki++ {
				k := e.patternAt(pats, ki)
				off := po + k*n
				st1 := int(s1[k])
				st2 := int(s2[k])
				d := dest[off : off+n]
				for i := 0; i < n; i++ {
					row := mo + i*n
					var left, right F
					if st1 < n {
						left = m1[row+st1]
					} else {
						left = rs1[i]
					}
					if st2 < n {
						right = m2[row+st2]
					} else {
						right = rs2[i]
					}
					d[i] = left * right
				}
			}
		}
	})
}

// UpdatePrePartials executes a root-to-tip operation list. For each
// operation the destination is a node's pre-order buffer, child1 is the
// parent's pre-order buffer with the node's own transition matrix, and
// child2 is the sibling's post-order buffer with the sibling's matrix.
func (e *Engine[F]) UpdatePrePartials(ops []Op, cumulativeScale int) error {
	var cum []F
	if cumulativeScale != None {
		if err := e.checkScale(cumulativeScale); err != nil {
			return err
		}
		cum = e.scales[cumulativeScale]
	}
	rescaleEval := e.evalCount%e.cfg.RescaleFrequency == 0
	for _, op := range ops {
		if err := e.applyPreOp(op, cum, nil, rescaleEval); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine[F]) applyPreOp(op Op, cum []F, pats []int32, rescaleEval bool) error {
	if err := e.checkBuffer(op.Destination); err != nil {
		return err
	}
	dest := e.partials[op.Destination]
	if dest == nil {
		return fmt.Errorf("%w: destination %d is compact", codes.ErrUnsupported, op.Destination)
	}
	_, pre, err := e.childData(op.Child1)
	if err != nil {
		return err
	}
	if pre == nil {
		return fmt.Errorf("%w: parent pre-order buffer %d is compact", codes.ErrUnsupported, op.Child1)
	}
	sibStates, sibParts, err := e.childData(op.Child2)
	if err != nil {
		return err
	}
	if err := e.checkMatrix(op.Child1Matrix); err != nil {
		return err
	}
	if err := e.checkMatrix(op.Child2Matrix); err != nil {
		return err
	}
	m1 := e.matrices[op.Child1Matrix]
	m2 := e.matrices[op.Child2Matrix]
	if sibStates != nil {
		e.computeRowSums(e.rowSums2, m2)
	}
	e.calcPrePartials(dest, pre, m1, sibStates, sibParts, m2, pats)
	partialsOps.Inc()

	return e.applyScaling(op, dest, cum, pats, rescaleEval)
}

// calcPrePartials computes dest[j] = Σᵢ M₁[i,j]·pre[i]·sib(i) where sib(i)
// collapses to a matrix lookup for compact siblings. With auto transpose
// handling M₁ is stored untransposed and applied by columns; in manual mode
// the caller installed the transpose and rows are used directly.
func (e *Engine[F]) calcPrePartials(dest, pre, m1 []F, sibStates []int32, sibParts, m2 []F, pats []int32) {
	n, kTot := e.cfg.States, e.cfg.Patterns
	e.parallelFor(e.patternCount(pats), func(a, b int) {
		h := make([]F, n)
		for c := 0; c < e.cfg.Categories; c++ {
			mo := c * n * n
			po := c * kTot * n
			mat1 := m1[mo : mo+n*n]
			rs2 := e.rowSums2[c*n : (c+1)*n]
			for ki := a; ki < b; ki++ {
				k := e.patternAt(pats, ki)
				off := po + k*n
				pv := pre[off : off+n]
				for i := 0; i < n; i++ {
					var sib F
					if sibStates != nil {
						st := int(sibStates[k])
						if st < n {
							sib = m2[mo+i*n+st]
						} else {
							sib = rs2[i]
						}
					} else {
						row := mo + i*n
						sib = simd.DotProduct(m2[row:row+n], sibParts[off:off+n])
					}
					h[i] = pv[i] * sib
				}
				d := dest[off : off+n]
				if e.preAuto {
					simd.MatTVecMul(d, mat1, h, n, n)
				} else {
					simd.MatVecMul(d, mat1, h, n, n)
				}
			}
		}
	})
}

