// Package cpu implements the CPU likelihood engines: the general-state
// engine, its four-state specialization, and the action-mode engine that
// applies exp(tQ) to partials without building probability matrices.
//
// An engine owns every buffer of an instance: tip states, partials,
// transition matrices, eigen decompositions and scale factors. The public
// package wraps exactly one engine per instance; all cross-references
// between buffers are integer indices validated here at the call boundary.
package cpu

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-yew/flags"
	"github.com/23skdu/longbow-yew/internal/codes"
	"github.com/23skdu/longbow-yew/internal/eigen"
	"github.com/23skdu/longbow-yew/internal/simd"
)

// None marks an unused index field in an operation.
const None = -1

// autoScaleThreshold triggers a rescale in auto mode when the per-pattern
// maximum drops below it. The same threshold applies under raw and log
// scaler representations.
const autoScaleThreshold = 1.0 / (1 << 50)

// Config carries the sizing and capability parameters fixed at creation.
type Config struct {
	Tips         int // tip count T
	Partials     int // additional partials buffers P
	Compact      int // tips stored as state indices, C <= T
	States       int // S >= 2
	Patterns     int // K
	Eigens       int // E
	Matrices     int // M
	Categories   int // R
	ScaleBuffers int // Z

	Flags            flags.Flags
	Threads          int
	RescaleFrequency int
}

// Op is one partials update operation. Partition and CumulativeScale are
// honored only by the partitioned entry points.
type Op struct {
	Destination     int
	WriteScale      int
	ReadScale       int
	Child1          int
	Child1Matrix    int
	Child2          int
	Child2Matrix    int
	Partition       int
	CumulativeScale int
}

// Engine is the general-state CPU implementation, generic over the partials
// element type. The public API traffics in float64 regardless of F; the
// engine converts at the copy boundary.
type Engine[F simd.Real] struct {
	cfg         Config
	bufferCount int // Tips + Partials

	tipStates [][]int32 // nil for non-compact buffers
	partials  [][]F     // nil for compact tips
	matrices  [][]F     // R stacked S×S blocks each
	scales    [][]F     // caller-visible scale buffers, length K each

	// Internal per-buffer scalers used by the auto and always
	// disciplines. active[i] marks buffers whose scalers are current.
	nodeScales [][]F
	active     []bool

	eigens        *eigen.Store[F]
	catRates      [][]float64
	catWeights    [][]F
	stateFreqs    [][]F
	patternWts    []F
	partition     []int32
	partitions    int
	partitionList [][]int32
	siteLogL      []float64
	haveSiteLnL   bool

	evalCount  int
	scalersLog bool
	discipline flags.Flags
	threads    int
	use4       bool // four-state unrolled kernels
	preAuto    bool // engine transposes matrices for pre-order ops

	// scratch, sized at create
	rowSums1 []F // R*S row sums for ambiguous tip states
	rowSums2 []F
	tmpState []F // S
}

// New allocates every buffer of an instance up front.
func New[F simd.Real](cfg Config) (*Engine[F], error) {
	if cfg.States < 2 {
		return nil, fmt.Errorf("%w: state count %d", codes.ErrSizeMismatch, cfg.States)
	}
	if cfg.Compact > cfg.Tips {
		return nil, fmt.Errorf("%w: compact count %d exceeds tip count %d", codes.ErrSizeMismatch, cfg.Compact, cfg.Tips)
	}
	e := &Engine[F]{
		cfg:         cfg,
		bufferCount: cfg.Tips + cfg.Partials,
		scalersLog:  cfg.Flags.Has(flags.ScalersLog),
		discipline:  cfg.Flags.Scaling(),
		threads:     cfg.Threads,
		preAuto:     !cfg.Flags.Has(flags.PreorderTransposeManual),
	}
	if e.threads < 1 {
		e.threads = 1
	}
	if e.cfg.RescaleFrequency < 1 {
		e.cfg.RescaleFrequency = 1
	}
	e.use4 = cfg.States == 4 && !cfg.Flags.Has(flags.VectorNone)

	n := cfg.States
	e.tipStates = make([][]int32, e.bufferCount)
	e.partials = make([][]F, e.bufferCount)
	for i := 0; i < e.bufferCount; i++ {
		if i >= cfg.Compact {
			e.partials[i] = make([]F, cfg.Categories*cfg.Patterns*n)
		}
	}
	e.matrices = make([][]F, cfg.Matrices)
	for i := range e.matrices {
		e.matrices[i] = make([]F, cfg.Categories*n*n)
	}
	e.scales = make([][]F, cfg.ScaleBuffers)
	for i := range e.scales {
		e.scales[i] = make([]F, cfg.Patterns)
	}
	if e.discipline == flags.ScalingAuto || e.discipline == flags.ScalingAlways {
		e.nodeScales = make([][]F, e.bufferCount)
		e.active = make([]bool, e.bufferCount)
	}
	e.eigens = eigen.NewStore[F](n, cfg.Eigens)
	e.catRates = make([][]float64, cfg.Eigens)
	e.catWeights = make([][]F, cfg.Eigens)
	e.stateFreqs = make([][]F, cfg.Eigens)
	e.patternWts = make([]F, cfg.Patterns)
	for i := range e.patternWts {
		e.patternWts[i] = 1
	}
	e.siteLogL = make([]float64, cfg.Patterns)
	e.rowSums1 = make([]F, cfg.Categories*n)
	e.rowSums2 = make([]F, cfg.Categories*n)
	e.tmpState = make([]F, n)

	log.Debug().
		Int("states", cfg.States).
		Int("patterns", cfg.Patterns).
		Int("categories", cfg.Categories).
		Int("buffers", e.bufferCount).
		Str("scaling", e.discipline.String()).
		Bool("fourState", e.use4).
		Msg("cpu engine created")
	return e, nil
}

// Flags reports the capability bits this engine actually runs with.
func (e *Engine[F]) Flags() flags.Flags { return e.cfg.Flags }

// SetThreadCount resizes the cooperative worker pool used by the
// pattern loops. Values below one force serial execution.
func (e *Engine[F]) SetThreadCount(n int) {
	if n < 1 {
		n = 1
	}
	e.threads = n
}

// Close releases the owned buffers.
func (e *Engine[F]) Close() {
	e.tipStates = nil
	e.partials = nil
	e.matrices = nil
	e.scales = nil
	e.nodeScales = nil
}

func (e *Engine[F]) checkBuffer(idx int) error {
	if idx < 0 || idx >= e.bufferCount {
		return fmt.Errorf("%w: buffer %d of %d", codes.ErrInvalidIndex, idx, e.bufferCount)
	}
	return nil
}

func (e *Engine[F]) checkMatrix(idx int) error {
	if idx < 0 || idx >= len(e.matrices) {
		return fmt.Errorf("%w: matrix %d of %d", codes.ErrInvalidIndex, idx, len(e.matrices))
	}
	return nil
}

func (e *Engine[F]) checkScale(idx int) error {
	if idx < 0 || idx >= len(e.scales) {
		return fmt.Errorf("%w: scale buffer %d of %d", codes.ErrInvalidIndex, idx, len(e.scales))
	}
	return nil
}

func (e *Engine[F]) checkEigen(idx int) error {
	if idx < 0 || idx >= e.cfg.Eigens {
		return fmt.Errorf("%w: eigen %d of %d", codes.ErrInvalidIndex, idx, e.cfg.Eigens)
	}
	return nil
}

// SetTipStates installs a compact tip. Values range 0..S, where S denotes
// the ambiguous state.
func (e *Engine[F]) SetTipStates(tip int, states []int) error {
	if tip < 0 || tip >= e.cfg.Compact {
		return fmt.Errorf("%w: compact tip %d of %d", codes.ErrInvalidIndex, tip, e.cfg.Compact)
	}
	if len(states) != e.cfg.Patterns {
		return fmt.Errorf("%w: %d states for %d patterns", codes.ErrSizeMismatch, len(states), e.cfg.Patterns)
	}
	buf := make([]int32, e.cfg.Patterns)
	for i, s := range states {
		if s < 0 || s > e.cfg.States {
			return fmt.Errorf("%w: state %d at pattern %d", codes.ErrInvalidIndex, s, i)
		}
		buf[i] = int32(s)
	}
	e.tipStates[tip] = buf
	return nil
}

// SetTipPartials installs a tip's partials; the tip must not be compact.
func (e *Engine[F]) SetTipPartials(tip int, p []float64) error {
	if tip < 0 || tip >= e.cfg.Tips {
		return fmt.Errorf("%w: tip %d of %d", codes.ErrInvalidIndex, tip, e.cfg.Tips)
	}
	if tip < e.cfg.Compact {
		return fmt.Errorf("%w: tip %d is compact", codes.ErrUnsupported, tip)
	}
	return e.SetPartials(tip, p)
}

// SetPartials copies a full partials tensor into a buffer.
func (e *Engine[F]) SetPartials(buf int, p []float64) error {
	if err := e.checkBuffer(buf); err != nil {
		return err
	}
	dst := e.partials[buf]
	if dst == nil {
		return fmt.Errorf("%w: buffer %d is compact", codes.ErrUnsupported, buf)
	}
	if len(p) != len(dst) {
		return fmt.Errorf("%w: %d values for partials of %d", codes.ErrSizeMismatch, len(p), len(dst))
	}
	for i, v := range p {
		dst[i] = F(v)
	}
	return nil
}

// GetPartials copies a buffer out. When scaleIndex names a scale buffer,
// each pattern column is divided by the stored factor (raw) or by
// exp(factor) (log) before the copy.
func (e *Engine[F]) GetPartials(buf, scaleIndex int, out []float64) error {
	if err := e.checkBuffer(buf); err != nil {
		return err
	}
	src := e.partials[buf]
	if src == nil {
		return fmt.Errorf("%w: buffer %d is compact", codes.ErrUnsupported, buf)
	}
	if len(out) != len(src) {
		return fmt.Errorf("%w: %d values for partials of %d", codes.ErrSizeMismatch, len(out), len(src))
	}
	if scaleIndex == None {
		for i, v := range src {
			out[i] = float64(v)
		}
		return nil
	}
	if err := e.checkScale(scaleIndex); err != nil {
		return err
	}
	sc := e.scales[scaleIndex]
	n := e.cfg.States
	for c := 0; c < e.cfg.Categories; c++ {
		for k := 0; k < e.cfg.Patterns; k++ {
			f := float64(sc[k])
			if e.scalersLog {
				f = math.Exp(f)
			}
			off := (c*e.cfg.Patterns + k) * n
			for i := 0; i < n; i++ {
				out[off+i] = float64(src[off+i]) / f
			}
		}
	}
	return nil
}

// SetTransitionMatrix installs caller-provided probability blocks verbatim.
// padValue is accepted for interface fidelity; the dense layout is unpadded.
func (e *Engine[F]) SetTransitionMatrix(idx int, m []float64, padValue float64) error {
	if err := e.checkMatrix(idx); err != nil {
		return err
	}
	dst := e.matrices[idx]
	if len(m) != len(dst) {
		return fmt.Errorf("%w: %d values for matrix of %d", codes.ErrSizeMismatch, len(m), len(dst))
	}
	for i, v := range m {
		dst[i] = F(v)
	}
	return nil
}

// SetDifferentialMatrix installs pre-scaled Q or Q² blocks used by the
// derivative reductions. The storage is shared with transition matrices.
func (e *Engine[F]) SetDifferentialMatrix(idx int, m []float64) error {
	return e.SetTransitionMatrix(idx, m, 0)
}

// GetTransitionMatrix copies a matrix slot out.
func (e *Engine[F]) GetTransitionMatrix(idx int, out []float64) error {
	if err := e.checkMatrix(idx); err != nil {
		return err
	}
	src := e.matrices[idx]
	if len(out) != len(src) {
		return fmt.Errorf("%w: %d values for matrix of %d", codes.ErrSizeMismatch, len(out), len(src))
	}
	for i, v := range src {
		out[i] = float64(v)
	}
	return nil
}

// TransposeTransitionMatrices writes the per-category transposes of the
// source slots into the destination slots.
func (e *Engine[F]) TransposeTransitionMatrices(src, dst []int) error {
	if len(src) != len(dst) {
		return fmt.Errorf("%w: %d sources, %d destinations", codes.ErrSizeMismatch, len(src), len(dst))
	}
	n := e.cfg.States
	for x := range src {
		if err := e.checkMatrix(src[x]); err != nil {
			return err
		}
		if err := e.checkMatrix(dst[x]); err != nil {
			return err
		}
		in, out := e.matrices[src[x]], e.matrices[dst[x]]
		for c := 0; c < e.cfg.Categories; c++ {
			b := c * n * n
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					out[b+j*n+i] = in[b+i*n+j]
				}
			}
		}
	}
	return nil
}

// SetEigenDecomposition installs an eigen model. eval carries S values for
// the real form or 2S for the complex form.
func (e *Engine[F]) SetEigenDecomposition(idx int, evec, ivec, eval []float64) error {
	if err := e.checkEigen(idx); err != nil {
		return err
	}
	transposed := e.cfg.Flags.Has(flags.InvEvecTransposed)
	if err := e.eigens.Set(idx, evec, ivec, eval, transposed); err != nil {
		return fmt.Errorf("%w: %v", codes.ErrSizeMismatch, err)
	}
	return nil
}

// SetCategoryRates installs the rate multipliers for model zero.
func (e *Engine[F]) SetCategoryRates(rates []float64) error {
	return e.SetCategoryRatesWithIndex(0, rates)
}

// SetCategoryRatesWithIndex installs the rate multipliers for one model.
func (e *Engine[F]) SetCategoryRatesWithIndex(idx int, rates []float64) error {
	if err := e.checkEigen(idx); err != nil {
		return err
	}
	if len(rates) != e.cfg.Categories {
		return fmt.Errorf("%w: %d rates for %d categories", codes.ErrSizeMismatch, len(rates), e.cfg.Categories)
	}
	e.catRates[idx] = append([]float64(nil), rates...)
	return nil
}

// SetCategoryWeights installs the category weights for one model.
func (e *Engine[F]) SetCategoryWeights(idx int, w []float64) error {
	if err := e.checkEigen(idx); err != nil {
		return err
	}
	if len(w) != e.cfg.Categories {
		return fmt.Errorf("%w: %d weights for %d categories", codes.ErrSizeMismatch, len(w), e.cfg.Categories)
	}
	buf := make([]F, len(w))
	for i, v := range w {
		buf[i] = F(v)
	}
	e.catWeights[idx] = buf
	return nil
}

// SetStateFrequencies installs the stationary frequencies for one model.
func (e *Engine[F]) SetStateFrequencies(idx int, f []float64) error {
	if err := e.checkEigen(idx); err != nil {
		return err
	}
	if len(f) != e.cfg.States {
		return fmt.Errorf("%w: %d frequencies for %d states", codes.ErrSizeMismatch, len(f), e.cfg.States)
	}
	buf := make([]F, len(f))
	for i, v := range f {
		buf[i] = F(v)
	}
	e.stateFreqs[idx] = buf
	return nil
}

// SetPatternWeights installs the per-pattern weights.
func (e *Engine[F]) SetPatternWeights(w []float64) error {
	if len(w) != e.cfg.Patterns {
		return fmt.Errorf("%w: %d weights for %d patterns", codes.ErrSizeMismatch, len(w), e.cfg.Patterns)
	}
	for i, v := range w {
		e.patternWts[i] = F(v)
	}
	return nil
}

// SetPatternPartitions assigns every pattern to one of count partitions.
func (e *Engine[F]) SetPatternPartitions(count int, parts []int) error {
	if count < 1 {
		return fmt.Errorf("%w: partition count %d", codes.ErrSizeMismatch, count)
	}
	if len(parts) != e.cfg.Patterns {
		return fmt.Errorf("%w: %d assignments for %d patterns", codes.ErrSizeMismatch, len(parts), e.cfg.Patterns)
	}
	buf := make([]int32, len(parts))
	for i, p := range parts {
		if p < 0 || p >= count {
			return fmt.Errorf("%w: partition %d at pattern %d", codes.ErrInvalidIndex, p, i)
		}
		buf[i] = int32(p)
	}
	e.partition = buf
	e.partitions = count
	e.partitionList = make([][]int32, count)
	for k, p := range buf {
		e.partitionList[p] = append(e.partitionList[p], int32(k))
	}
	return nil
}

// UpdateTransitionMatrices builds probability (and optionally derivative)
// matrices for a list of edges from one eigen model. d1Idx and d2Idx may be
// nil.
func (e *Engine[F]) UpdateTransitionMatrices(eigenIdx int, probIdx, d1Idx, d2Idx []int, edges []float64) error {
	if err := e.checkEigen(eigenIdx); err != nil {
		return err
	}
	if len(probIdx) != len(edges) {
		return fmt.Errorf("%w: %d indices for %d edges", codes.ErrSizeMismatch, len(probIdx), len(edges))
	}
	d, err := e.eigens.Get(eigenIdx)
	if err != nil {
		return fmt.Errorf("%w: eigen %d: %v", codes.ErrInvalidIndex, eigenIdx, err)
	}
	rates := e.catRates[eigenIdx]
	if rates == nil {
		return fmt.Errorf("%w: category rates for model %d", codes.ErrUninitialized, eigenIdx)
	}
	for i, b := range edges {
		if err := e.checkMatrix(probIdx[i]); err != nil {
			return err
		}
		d.TransitionMatrix(e.matrices[probIdx[i]], b, rates)
		var m1, m2 []F
		if d1Idx != nil {
			if err := e.checkMatrix(d1Idx[i]); err != nil {
				return err
			}
			m1 = e.matrices[d1Idx[i]]
		}
		if d2Idx != nil {
			if err := e.checkMatrix(d2Idx[i]); err != nil {
				return err
			}
			m2 = e.matrices[d2Idx[i]]
		}
		if m1 != nil || m2 != nil {
			d.DerivativeMatrices(m1, m2, b, rates)
		}
	}
	matricesBuilt.Add(float64(len(edges)))
	return nil
}
