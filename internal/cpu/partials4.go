package cpu

// Four-state specializations of the partials kernels. The inner state loop
// is fully unrolled into one four-term sum per child and destination state.
// Results match the general kernels bit for bit up to floating-point
// associativity.

func (e *Engine[F]) calcPartialsPartials4(dest, p1, m1, p2, m2 []F, pats []int32) {
	kTot := e.cfg.Patterns
	e.parallelFor(e.patternCount(pats), func(a, b int) {
		for c := 0; c < e.cfg.Categories; c++ {
			mo := c * 16
			po := c * kTot * 4
			a00, a01, a02, a03 := m1[mo+0], m1[mo+1], m1[mo+2], m1[mo+3]
			a10, a11, a12, a13 := m1[mo+4], m1[mo+5], m1[mo+6], m1[mo+7]
			a20, a21, a22, a23 := m1[mo+8], m1[mo+9], m1[mo+10], m1[mo+11]
			a30, a31, a32, a33 := m1[mo+12], m1[mo+13], m1[mo+14], m1[mo+15]
			b00, b01, b02, b03 := m2[mo+0], m2[mo+1], m2[mo+2], m2[mo+3]
			b10, b11, b12, b13 := m2[mo+4], m2[mo+5], m2[mo+6], m2[mo+7]
			b20, b21, b22, b23 := m2[mo+8], m2[mo+9], m2[mo+10], m2[mo+11]
			b30, b31, b32, b33 := m2[mo+12], m2[mo+13], m2[mo+14], m2[mo+15]
			for ki := a; ki < b; ki++ {
				k := e.patternAt(pats, ki)
				off := po + k*4
				x0, x1, x2, x3 := p1[off], p1[off+1], p1[off+2], p1[off+3]
				y0, y1, y2, y3 := p2[off], p2[off+1], p2[off+2], p2[off+3]
				dest[off] = (a00*x0 + a01*x1 + a02*x2 + a03*x3) * (b00*y0 + b01*y1 + b02*y2 + b03*y3)
				dest[off+1] = (a10*x0 + a11*x1 + a12*x2 + a13*x3) * (b10*y0 + b11*y1 + b12*y2 + b13*y3)
				dest[off+2] = (a20*x0 + a21*x1 + a22*x2 + a23*x3) * (b20*y0 + b21*y1 + b22*y2 + b23*y3)
				dest[off+3] = (a30*x0 + a31*x1 + a32*x2 + a33*x3) * (b30*y0 + b31*y1 + b32*y2 + b33*y3)
			}
		}
	})
}

func (e *Engine[F]) calcStatesPartials4(dest []F, s1 []int32, m1, p2, m2 []F, pats []int32) {
	kTot := e.cfg.Patterns
	e.parallelFor(e.patternCount(pats), func(a, b int) {
		for c := 0; c < e.cfg.Categories; c++ {
			mo := c * 16
			po := c * kTot * 4
			// Row sums stand in for the ambiguous state.
			r0 := m1[mo+0] + m1[mo+1] + m1[mo+2] + m1[mo+3]
			r1 := m1[mo+4] + m1[mo+5] + m1[mo+6] + m1[mo+7]
			r2 := m1[mo+8] + m1[mo+9] + m1[mo+10] + m1[mo+11]
			r3 := m1[mo+12] + m1[mo+13] + m1[mo+14] + m1[mo+15]
			b00, b01, b02, b03 := m2[mo+0], m2[mo+1], m2[mo+2], m2[mo+3]
			b10, b11, b12, b13 := m2[mo+4], m2[mo+5], m2[mo+6], m2[mo+7]
			b20, b21, b22, b23 := m2[mo+8], m2[mo+9], m2[mo+10], m2[mo+11]
			b30, b31, b32, b33 := m2[mo+12], m2[mo+13], m2[mo+14], m2[mo+15]
			for ki := a; ki < b; ki++ {
				k := e.patternAt(pats, ki)
				off := po + k*4
				y0, y1, y2, y3 := p2[off], p2[off+1], p2[off+2], p2[off+3]
				var l0, l1, l2, l3 F
				if st := int(s1[k]); st < 4 {
					l0, l1, l2, l3 = m1[mo+st], m1[mo+4+st], m1[mo+8+st], m1[mo+12+st]
				} else {
					l0, l1, l2, l3 = r0, r1, r2, r3
				}
				dest[off] = l0 * (b00*y0 + b01*y1 + b02*y2 + b03*y3)
				dest[off+1] = l1 * (b10*y0 + b11*y1 + b12*y2 + b13*y3)
				dest[off+2] = l2 * (b20*y0 + b21*y1 + b22*y2 + b23*y3)
				dest[off+3] = l3 * (b30*y0 + b31*y1 + b32*y2 + b33*y3)
			}
		}
	})
}

func (e *Engine[F]) calcStatesStates4(dest []F, s1 []int32, m1 []F, s2 []int32, m2 []F, pats []int32) {
	kTot := e.cfg.Patterns
	e.parallelFor(e.patternCount(pats), func(a, b int) {
		for c := 0; c < e.cfg.Categories; c++ {
			mo := c * 16
			po := c * kTot * 4
			r10 := m1[mo+0] + m1[mo+1] + m1[mo+2] + m1[mo+3]
			r11 := m1[mo+4] + m1[mo+5] + m1[mo+6] + m1[mo+7]
			r12 := m1[mo+8] + m1[mo+9] + m1[mo+10] + m1[mo+11]
			r13 := m1[mo+12] + m1[mo+13] + m1[mo+14] + m1[mo+15]
			r20 := m2[mo+0] + m2[mo+1] + m2[mo+2] + m2[mo+3]
			r21 := m2[mo+4] + m2[mo+5] + m2[mo+6] + m2[mo+7]
			r22 := m2[mo+8] + m2[mo+9] + m2[mo+10] + m2[mo+11]
			r23 := m2[mo+12] + m2[mo+13] + m2[mo+14] + m2[mo+15]
			for ki := a; ki < b; ki++ {
				k := e.patternAt(pats, ki)
				off := po + k*4
				var l0, l1, l2, l3, g0, g1, g2, g3 F
				if st := int(s1[k]); st < 4 {
					l0, l1, l2, l3 = m1[mo+st], m1[mo+4+st], m1[mo+8+st], m1[mo+12+st]
				} else {
					l0, l1, l2, l3 = r10, r11, r12, r13
				}
				if st := int(s2[k]); st < 4 {
					g0, g1, g2, g3 = m2[mo+st], m2[mo+4+st], m2[mo+8+st], m2[mo+12+st]
				} else {
					g0, g1, g2, g3 = r20, r21, r22, r23
				}
				dest[off] = l0 * g0
				dest[off+1] = l1 * g1
				dest[off+2] = l2 * g2
				dest[off+3] = l3 * g3
			}
		}
	})
}
