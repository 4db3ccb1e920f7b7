// Package eigen holds rate-matrix eigen decompositions and builds
// per-category transition probability matrices from them.
//
// A decomposition is (U, U⁻¹, Λ) with Q = U·diag(Λ)·U⁻¹. Real and complex
// forms are supported; in the complex form the eigenvalue vector has length
// 2S, the upper half carrying the imaginary parts, and each conjugate pair
// occupies two adjacent eigenvector columns.
package eigen

import (
	"errors"
	"math"

	"github.com/23skdu/longbow-yew/internal/simd"
)

var ErrNotSet = errors.New("eigen: decomposition not set")

// Decomposition is one installed model.
type Decomposition[F simd.Real] struct {
	states  int
	cplx    bool
	evec    []F // S×S row-major
	ivec    []F // S×S row-major
	evalRe  []float64
	evalIm  []float64 // nil for the real form
	defined bool
}

// Store owns the decompositions of one instance.
type Store[F simd.Real] struct {
	states  int
	decomps []Decomposition[F]
}

func NewStore[F simd.Real](stateCount, eigenCount int) *Store[F] {
	return &Store[F]{
		states:  stateCount,
		decomps: make([]Decomposition[F], eigenCount),
	}
}

func (s *Store[F]) Count() int { return len(s.decomps) }

// Set installs a decomposition. eval carries S values for the real form or
// 2S (real parts then imaginary parts) for the complex form. When ivec is
// provided transposed, transposedInverse must be set. Conjugate pairs are
// normalized so the member with positive imaginary part comes first.
func (s *Store[F]) Set(index int, evec, ivec, eval []float64, transposedInverse bool) error {
	if index < 0 || index >= len(s.decomps) {
		return errors.New("eigen: index out of range")
	}
	n := s.states
	if len(evec) != n*n || len(ivec) != n*n {
		return errors.New("eigen: eigenvector size mismatch")
	}
	cplx := false
	switch len(eval) {
	case n:
	case 2 * n:
		cplx = true
	default:
		return errors.New("eigen: eigenvalue size mismatch")
	}

	d := &s.decomps[index]
	d.states = n
	d.cplx = cplx
	d.evec = make([]F, n*n)
	d.ivec = make([]F, n*n)
	for i := 0; i < n*n; i++ {
		d.evec[i] = F(evec[i])
	}
	if transposedInverse {
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				d.ivec[i*n+j] = F(ivec[j*n+i])
			}
		}
	} else {
		for i := 0; i < n*n; i++ {
			d.ivec[i] = F(ivec[i])
		}
	}
	d.evalRe = append([]float64(nil), eval[:n]...)
	if cplx {
		d.evalIm = append([]float64(nil), eval[n:2*n]...)
		d.normalizePairs()
	} else {
		d.evalIm = nil
	}
	d.defined = true
	return nil
}

func (s *Store[F]) Get(index int) (*Decomposition[F], error) {
	if index < 0 || index >= len(s.decomps) {
		return nil, errors.New("eigen: index out of range")
	}
	d := &s.decomps[index]
	if !d.defined {
		return nil, ErrNotSet
	}
	return d, nil
}

// normalizePairs orders each conjugate pair with the +β member first so
// that rebuilt matrices are independent of the caller's pair order.
func (d *Decomposition[F]) normalizePairs() {
	n := d.states
	for k := 0; k < n-1; k++ {
		if d.evalIm[k] == 0 {
			continue
		}
		if d.evalIm[k] < 0 && d.evalIm[k+1] > 0 {
			d.evalIm[k], d.evalIm[k+1] = d.evalIm[k+1], d.evalIm[k]
			for i := 0; i < n; i++ {
				d.evec[i*n+k], d.evec[i*n+k+1] = d.evec[i*n+k+1], d.evec[i*n+k]
			}
			for j := 0; j < n; j++ {
				d.ivec[k*n+j], d.ivec[(k+1)*n+j] = d.ivec[(k+1)*n+j], d.ivec[k*n+j]
			}
		}
		k++ // skip the partner
	}
}

// TransitionMatrix writes the R stacked S×S probability blocks for one edge
// into dst (length R·S·S). rates are the per-category rate multipliers.
// A zero edge length produces exact identity blocks.
func (d *Decomposition[F]) TransitionMatrix(dst []F, edge float64, rates []float64) {
	n := d.states
	if edge == 0 {
		for c := range rates {
			block := dst[c*n*n : (c+1)*n*n]
			for i := range block {
				block[i] = 0
			}
			for i := 0; i < n; i++ {
				block[i*n+i] = 1
			}
		}
		return
	}
	for c, rate := range rates {
		d.buildBlock(dst[c*n*n:(c+1)*n*n], edge*rate, 0)
	}
}

// DerivativeMatrices writes d¹P/db and d²P/db² blocks for one edge. Either
// destination may be nil.
func (d *Decomposition[F]) DerivativeMatrices(d1, d2 []F, edge float64, rates []float64) {
	n := d.states
	for c, rate := range rates {
		if d1 != nil {
			d.buildBlock(d1[c*n*n:(c+1)*n*n], edge*rate, 1)
			simd.VecScale(d1[c*n*n:(c+1)*n*n], F(rate))
		}
		if d2 != nil {
			d.buildBlock(d2[c*n*n:(c+1)*n*n], edge*rate, 2)
			simd.VecScale(d2[c*n*n:(c+1)*n*n], F(rate*rate))
		}
	}
}

// buildBlock computes U·Bᵒ·U⁻¹ for scaled time t = b·r, where Bᵒ is
// diag(exp(tΛ)) for order 0, diag(Λ·exp(tΛ)) for order 1 and
// diag(Λ²·exp(tΛ)) for order 2, with complex pairs expanded to their 2×2
// rotation blocks.
func (d *Decomposition[F]) buildBlock(dst []F, t float64, order int) {
	n := d.states
	// W = U·Bᵒ, built column by column.
	w := make([]F, n*n)
	for k := 0; k < n; k++ {
		if d.cplx && d.evalIm[k] != 0 {
			// Conjugate pair at columns (k, k+1).
			alpha, beta := d.evalRe[k], d.evalIm[k]
			e := math.Exp(t * alpha)
			a := e * math.Cos(t*beta)
			s := e * math.Sin(t*beta)
			var p, q float64
			switch order {
			case 0:
				p, q = a, s
			case 1:
				p = alpha*a - beta*s
				q = alpha*s + beta*a
			case 2:
				re := alpha*alpha - beta*beta
				im := 2 * alpha * beta
				p = re*a - im*s
				q = re*s + im*a
			}
			for i := 0; i < n; i++ {
				uk := d.evec[i*n+k]
				uk1 := d.evec[i*n+k+1]
				w[i*n+k] = F(p)*uk - F(q)*uk1
				w[i*n+k+1] = F(q)*uk + F(p)*uk1
			}
			k++
			continue
		}
		lambda := d.evalRe[k]
		p := math.Exp(t * lambda)
		switch order {
		case 1:
			p *= lambda
		case 2:
			p *= lambda * lambda
		}
		for i := 0; i < n; i++ {
			w[i*n+k] = F(p) * d.evec[i*n+k]
		}
	}
	// dst = W · U⁻¹.
	for i := range dst {
		dst[i] = 0
	}
	for k := 0; k < n; k++ {
		ivRow := d.ivec[k*n : (k+1)*n]
		for i := 0; i < n; i++ {
			simd.VecAddScaled(dst[i*n:(i+1)*n], ivRow, w[i*n+k])
		}
	}
}
