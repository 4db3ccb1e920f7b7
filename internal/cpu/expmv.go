package cpu

import "math"

// Truncated Taylor action of a matrix exponential on a block of vectors,
// following Al-Mohy and Higham, "Computing the action of the matrix
// exponential, with an application to exponential integrators" (2011).
// The degree m and squaring count s are chosen from θ-bounds on ‖A‖₁ and
// the d_p = ‖Aᵖ‖₁^{1/p} sequence so the backward error stays below unit
// round-off.

const expmvMMax = 55

// thetaM maps Taylor degree m to the largest ‖A‖₁ for which a single
// product phase of degree m meets double-precision backward error.
var thetaM = map[int]float64{
	1: 2.29e-16, 2: 2.58e-8, 3: 1.39e-5, 4: 3.40e-4, 5: 2.40e-3,
	6: 9.07e-3, 7: 2.38e-2, 8: 5.00e-2, 9: 8.96e-2, 10: 1.44e-1,
	11: 2.14e-1, 12: 3.00e-1, 13: 4.00e-1, 14: 5.14e-1, 15: 6.41e-1,
	16: 7.81e-1, 17: 9.31e-1, 18: 1.09, 19: 1.26, 20: 1.44,
	21: 1.62, 22: 1.82, 23: 2.01, 24: 2.22, 25: 2.43,
	26: 2.64, 27: 2.86, 28: 3.08, 29: 3.31, 30: 3.54,
	35: 4.7, 40: 6.0, 45: 7.2, 50: 8.5, 55: 9.9,
}

var thetaKeys = func() []int {
	keys := make([]int, 0, len(thetaM))
	for m := 1; m <= expmvMMax; m++ {
		if _, ok := thetaM[m]; ok {
			keys = append(keys, m)
		}
	}
	return keys
}()

// expmvStatistics picks the Taylor degree m and squaring count s for
// exp(tA)·B where B has nCol columns.
func expmvStatistics(a1norm float64, a *spMat, t float64, nCol int) (m, s int) {
	if t*a1norm == 0 {
		return 0, 1
	}
	bestM, bestS := -1, -1
	theta := thetaM[expmvMMax]
	pMax := int(math.Floor(0.5 + 0.5*math.Sqrt(5.0+4.0*float64(expmvMMax))))

	// Equation 3.13 with l = 1: when the norm is modest the d_p sequence
	// cannot improve on the plain bound, so skip the power estimates.
	if a1norm <= 2.0*theta/float64(nCol*expmvMMax)*float64(pMax*(pMax+3)) {
		for _, thisM := range thetaKeys {
			thisS := int(math.Ceil(a1norm / thetaM[thisM]))
			if bestM < 0 || thisM*thisS < bestM*bestS {
				bestM, bestS = thisM, thisS
			}
		}
		s = bestS
	} else {
		d := map[int]float64{1: a1norm}
		powers := map[int]*spMat{1: a}
		dValue := func(p int) float64 {
			if v, ok := d[p]; ok {
				return v
			}
			highest := 1
			for k := range powers {
				if k > highest {
					highest = k
				}
			}
			for i := highest; i < p; i++ {
				powers[i+1] = powers[i].mul(powers[1])
			}
			d[p] = math.Pow(powers[p].norm1(), 1.0/float64(p))
			return d[p]
		}
		for p := 2; p < pMax; p++ {
			for thisM := p*(p-1) - 1; thisM <= expmvMMax; thisM++ {
				if _, ok := thetaM[thisM]; !ok {
					continue
				}
				alpha := math.Max(dValue(p), dValue(p+1))
				thisS := int(math.Ceil(alpha / thetaM[thisM]))
				if bestM < 0 || thisM*thisS < bestM*bestS {
					bestM, bestS = thisM, thisS
				}
			}
		}
		if bestS < 1 {
			bestS = 1
		}
		s = bestS
	}
	m = bestM
	if s < 1 {
		s = 1
	}
	return
}

// expmvAction overwrites the [patterns × n] block b with exp(A)·b (t = 1,
// the edge length and rate having been folded into A). A diagonal shift
// µ = tr(A)/n is removed before the series and restored as a scalar factor
// per squaring step.
func expmvAction(a *spMat, b []float64, patterns int) {
	const tol = 1.0 / (1 << 53) // 2^-53
	const t = 1.0
	n := a.n

	mu := a.trace() / float64(n)
	shifted := a.shiftedDiag(mu)
	a1norm := shifted.norm1()
	m, s := expmvStatistics(a1norm, shifted, t, patterns)

	f := make([]float64, len(b))
	tmp := make([]float64, len(b))
	copy(f, b)

	eta := math.Exp(t * mu / float64(s))
	for i := 0; i < s; i++ {
		c1 := normInf(b)
		for j := 1; j <= m; j++ {
			shifted.applyTo(tmp, b, patterns)
			scale := t / (float64(s) * float64(j))
			for x := range b {
				b[x] = tmp[x] * scale
			}
			c2 := normInf(b)
			for x := range f {
				f[x] += b[x]
			}
			if c1+c2 <= tol*normInf(f) {
				break
			}
			c1 = c2
		}
		for x := range f {
			f[x] *= eta
		}
		copy(b, f)
	}
}

func normInf(v []float64) float64 {
	var mx float64
	for _, x := range v {
		if x < 0 {
			x = -x
		}
		if x > mx {
			mx = x
		}
	}
	return mx
}
