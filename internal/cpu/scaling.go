package cpu

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-yew/flags"
	"github.com/23skdu/longbow-yew/internal/codes"
)

// applyScaling runs the instance's scaling discipline over a freshly
// written destination buffer. Cumulative buffers always accumulate in log
// space regardless of the per-node scaler representation.
func (e *Engine[F]) applyScaling(op Op, dest []F, cum []F, pats []int32, rescaleEval bool) error {
	switch e.discipline {
	case 0:
		return nil

	case flags.ScalingManual:
		if op.WriteScale != None {
			if err := e.checkScale(op.WriteScale); err != nil {
				return err
			}
			e.rescale(dest, e.scales[op.WriteScale], cum, pats)
		} else if op.ReadScale != None {
			if err := e.checkScale(op.ReadScale); err != nil {
				return err
			}
			e.applyFixedScale(dest, e.scales[op.ReadScale], pats)
		}

	case flags.ScalingDynamic:
		// On rescale evaluations the write index is refreshed; otherwise
		// the previous evaluation's factors are carried as fixed scaling.
		if op.WriteScale != None && rescaleEval {
			if err := e.checkScale(op.WriteScale); err != nil {
				return err
			}
			e.rescale(dest, e.scales[op.WriteScale], cum, pats)
		} else if op.WriteScale != None {
			if err := e.checkScale(op.WriteScale); err != nil {
				return err
			}
			e.applyFixedScale(dest, e.scales[op.WriteScale], pats)
		} else if op.ReadScale != None {
			if err := e.checkScale(op.ReadScale); err != nil {
				return err
			}
			e.applyFixedScale(dest, e.scales[op.ReadScale], pats)
		}

	case flags.ScalingAuto:
		mx := e.bufferMax(dest, pats)
		if float64(mx) < autoScaleThreshold {
			e.rescale(dest, e.nodeScale(op.Destination), nil, pats)
			e.active[op.Destination] = true
		} else {
			e.active[op.Destination] = false
		}

	case flags.ScalingAlways:
		e.rescale(dest, e.nodeScale(op.Destination), nil, pats)
		e.active[op.Destination] = true
	}
	return nil
}

// nodeScale returns the internal scaler vector for a buffer, allocating on
// first use.
func (e *Engine[F]) nodeScale(buf int) []F {
	if e.nodeScales[buf] == nil {
		e.nodeScales[buf] = make([]F, e.cfg.Patterns)
	}
	return e.nodeScales[buf]
}

func (e *Engine[F]) bufferMax(dest []F, pats []int32) F {
	n, kTot := e.cfg.States, e.cfg.Patterns
	var mx F
	for c := 0; c < e.cfg.Categories; c++ {
		po := c * kTot * n
		for ki := 0; ki < e.patternCount(pats); ki++ {
			k := e.patternAt(pats, ki)
			for _, v := range dest[po+k*n : po+(k+1)*n] {
				if v > mx {
					mx = v
				}
			}
		}
	}
	return mx
}

// rescale divides each pattern column of dest by its maximum over
// categories and states, records the factor (raw or log) in scaleBuf, and
// adds the log factor to the cumulative buffer when one is given. A zero
// column keeps factor one.
func (e *Engine[F]) rescale(dest, scaleBuf, cum []F, pats []int32) {
	n, kTot := e.cfg.States, e.cfg.Patterns
	for ki := 0; ki < e.patternCount(pats); ki++ {
		k := e.patternAt(pats, ki)
		var mx F
		for c := 0; c < e.cfg.Categories; c++ {
			off := c*kTot*n + k*n
			for _, v := range dest[off : off+n] {
				if v > mx {
					mx = v
				}
			}
		}
		if mx == 0 {
			mx = 1
		}
		inv := 1 / mx
		for c := 0; c < e.cfg.Categories; c++ {
			off := c*kTot*n + k*n
			for i := off; i < off+n; i++ {
				dest[i] *= inv
			}
		}
		logMax := math.Log(float64(mx))
		if e.scalersLog {
			scaleBuf[k] = F(logMax)
		} else {
			scaleBuf[k] = mx
		}
		if cum != nil {
			cum[k] += F(logMax)
		}
	}
	rescales.Inc()
}

// applyFixedScale divides dest by previously stored factors so a node
// rebuilt this evaluation stays consistent with scalers recorded earlier.
func (e *Engine[F]) applyFixedScale(dest, scaleBuf []F, pats []int32) {
	n, kTot := e.cfg.States, e.cfg.Patterns
	for ki := 0; ki < e.patternCount(pats); ki++ {
		k := e.patternAt(pats, ki)
		f := float64(scaleBuf[k])
		if e.scalersLog {
			f = math.Exp(f)
		}
		if f == 0 {
			continue
		}
		inv := F(1 / f)
		for c := 0; c < e.cfg.Categories; c++ {
			off := c*kTot*n + k*n
			for i := off; i < off+n; i++ {
				dest[i] *= inv
			}
		}
	}
}

// ResetScaleFactors zeroes a cumulative scale buffer.
func (e *Engine[F]) ResetScaleFactors(idx int) error {
	if err := e.checkScale(idx); err != nil {
		return err
	}
	buf := e.scales[idx]
	for i := range buf {
		buf[i] = 0
	}
	return nil
}

// AccumulateScaleFactors adds the named buffers' log factors into a
// cumulative buffer.
func (e *Engine[F]) AccumulateScaleFactors(idxs []int, cumulative int) error {
	if err := e.checkScale(cumulative); err != nil {
		return err
	}
	cum := e.scales[cumulative]
	for _, idx := range idxs {
		if err := e.checkScale(idx); err != nil {
			return err
		}
		src := e.scales[idx]
		if e.scalersLog {
			for k := range cum {
				cum[k] += src[k]
			}
		} else {
			for k := range cum {
				if src[k] != 0 {
					cum[k] += F(math.Log(float64(src[k])))
				}
			}
		}
	}
	return nil
}

// RemoveScaleFactors subtracts the named buffers' log factors from a
// cumulative buffer.
func (e *Engine[F]) RemoveScaleFactors(idxs []int, cumulative int) error {
	if err := e.checkScale(cumulative); err != nil {
		return err
	}
	cum := e.scales[cumulative]
	for _, idx := range idxs {
		if err := e.checkScale(idx); err != nil {
			return err
		}
		src := e.scales[idx]
		if e.scalersLog {
			for k := range cum {
				cum[k] -= src[k]
			}
		} else {
			for k := range cum {
				if src[k] != 0 {
					cum[k] -= F(math.Log(float64(src[k])))
				}
			}
		}
	}
	return nil
}

// CopyScaleFactors duplicates one scale buffer into another.
func (e *Engine[F]) CopyScaleFactors(dst, src int) error {
	if err := e.checkScale(dst); err != nil {
		return err
	}
	if err := e.checkScale(src); err != nil {
		return err
	}
	copy(e.scales[dst], e.scales[src])
	return nil
}

// autoCumulative sums the log factors of every buffer whose internal
// scalers are current; used by the reductions under auto/always scaling.
func (e *Engine[F]) autoCumulative(dst []float64) {
	for i := range dst {
		dst[i] = 0
	}
	if e.nodeScales == nil {
		return
	}
	for b, on := range e.active {
		if !on || e.nodeScales[b] == nil {
			continue
		}
		sc := e.nodeScales[b]
		if e.scalersLog {
			for k := range dst {
				dst[k] += float64(sc[k])
			}
		} else {
			for k := range dst {
				if sc[k] != 0 {
					dst[k] += math.Log(float64(sc[k]))
				}
			}
		}
	}
}

var errNumerical = fmt.Errorf("%w: non-finite site likelihood", codes.ErrNumerical)
