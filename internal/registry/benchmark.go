package registry

import (
	"math"
	"time"

	"github.com/23skdu/longbow-yew/flags"
	"github.com/23skdu/longbow-yew/internal/cpu"
)

// Benchmarked extends a resource entry with measured timings for a
// standard synthetic workload.
type Benchmarked struct {
	Resource
	ImplName     string
	BenchedFlags flags.Flags
	Millis       float64
	SpeedupVsCPU float64
}

// RunBenchmarks times every implementation a resource offers on a small
// synthetic post-order workload and reports per-entry wall time plus the
// speedup relative to the plain CPU implementation.
func RunBenchmarks(states, patterns, categories, reps int) ([]Benchmarked, error) {
	if reps < 1 {
		reps = 1
	}
	type variant struct {
		name string
		f    flags.Flags
	}
	variants := []variant{
		{"CPU-Plain", flags.VectorNone},
	}
	if states == 4 {
		variants = append(variants, variant{"CPU-4State-Vector", flags.VectorSSE})
	}

	var out []Benchmarked
	var baseline float64
	for _, v := range variants {
		ms, err := timeWorkload(states, patterns, categories, reps, v.f)
		if err != nil {
			return nil, err
		}
		if baseline == 0 {
			baseline = ms
		}
		r := List()[0]
		out = append(out, Benchmarked{
			Resource:     r,
			ImplName:     v.name,
			BenchedFlags: v.f | flags.PrecisionDouble | flags.ProcessorCPU | flags.FrameworkCPU,
			Millis:       ms,
			SpeedupVsCPU: baseline / ms,
		})
	}
	return out, nil
}

func timeWorkload(states, patterns, categories, reps int, vector flags.Flags) (float64, error) {
	const tips = 8
	eng, err := cpu.New[float64](cpu.Config{
		Tips:       tips,
		Partials:   tips - 1,
		Compact:    0,
		States:     states,
		Patterns:   patterns,
		Eigens:     1,
		Matrices:   2 * tips,
		Categories: categories,
		Flags:      vector | flags.PrecisionDouble,
	})
	if err != nil {
		return 0, err
	}
	defer eng.Close()

	// Deterministic pseudo-data; the values only need to stay positive.
	tip := make([]float64, categories*patterns*states)
	for i := range tip {
		tip[i] = 0.05 + 0.9*math.Abs(math.Sin(float64(i+1)))
	}
	for t := 0; t < tips; t++ {
		if err := eng.SetTipPartials(t, tip); err != nil {
			return 0, err
		}
	}
	mat := make([]float64, categories*states*states)
	for c := 0; c < categories; c++ {
		for i := 0; i < states; i++ {
			for j := 0; j < states; j++ {
				v := 0.05 / float64(states)
				if i == j {
					v = 1 - 0.05*float64(states-1)/float64(states)
				}
				mat[c*states*states+i*states+j] = v
			}
		}
	}
	for m := 0; m < 2*tips; m++ {
		if err := eng.SetTransitionMatrix(m, mat, 0); err != nil {
			return 0, err
		}
	}
	var ops []cpu.Op
	next := tips
	level := make([]int, tips)
	for i := range level {
		level[i] = i
	}
	for len(level) > 1 {
		var parents []int
		for i := 0; i+1 < len(level); i += 2 {
			ops = append(ops, cpu.Op{
				Destination:  next,
				WriteScale:   cpu.None,
				ReadScale:    cpu.None,
				Child1:       level[i],
				Child1Matrix: level[i] % (2 * tips),
				Child2:       level[i+1],
				Child2Matrix: level[i+1] % (2 * tips),
			})
			parents = append(parents, next)
			next++
		}
		if len(level)%2 == 1 {
			parents = append(parents, level[len(level)-1])
		}
		level = parents
	}

	start := time.Now()
	for r := 0; r < reps; r++ {
		if err := eng.UpdatePartials(ops, cpu.None); err != nil {
			return 0, err
		}
	}
	ms := float64(time.Since(start).Nanoseconds()) / 1e6 / float64(reps)
	if ms <= 0 {
		ms = 1e-3
	}
	return ms, nil
}
