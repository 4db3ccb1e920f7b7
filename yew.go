package yew

import (
	"fmt"
	"runtime"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-yew/flags"
	"github.com/23skdu/longbow-yew/internal/codes"
	"github.com/23skdu/longbow-yew/internal/cpu"
	"github.com/23skdu/longbow-yew/internal/registry"
)

// InstanceConfig carries the sizing fixed at creation plus the capability
// preference/requirement sets used to choose a backend.
type InstanceConfig struct {
	TipCount         int // T: leaves of the tree
	PartialsCount    int // P: additional partials buffers beyond the tips
	CompactCount     int // C <= T: tips stored as state indices
	StateCount       int // S >= 2
	PatternCount     int // K
	EigenCount       int // E
	MatrixCount      int // M
	CategoryCount    int // R
	ScaleBufferCount int // Z

	// Resource pins a specific resource number; None allows any.
	Resource    int
	Preference  flags.Flags
	Requirement flags.Flags

	// ThreadCount sizes the intra-instance worker pool when the chosen
	// flags enable threading; zero means one worker per logical CPU.
	ThreadCount int
	// RescaleFrequency drives the dynamic scaling discipline.
	RescaleFrequency int
}

// InstanceDetails reports what was actually chosen at creation.
type InstanceDetails struct {
	ResourceNumber  int
	ResourceName    string
	ImplName        string
	ImplDescription string
	Flags           flags.Flags
}

// ResourceDescription is one entry of the resource list.
type ResourceDescription struct {
	Number        int
	Name          string
	Description   string
	SupportFlags  flags.Flags
	RequiredFlags flags.Flags
}

// BenchmarkedResource extends a resource entry with measured timings.
type BenchmarkedResource struct {
	ResourceDescription
	ImplName     string
	BenchedFlags flags.Flags
	Millis       float64
	SpeedupVsCPU float64
}

// ResourceList enumerates the backends available to this process.
func ResourceList() []ResourceDescription {
	rs := registry.List()
	out := make([]ResourceDescription, len(rs))
	for i, r := range rs {
		out[i] = ResourceDescription{
			Number:        r.Number,
			Name:          r.Name,
			Description:   r.Description,
			SupportFlags:  r.Support,
			RequiredFlags: r.Required,
		}
	}
	return out
}

// BenchmarkResources times each implementation on a synthetic workload.
func BenchmarkResources(states, patterns, categories, reps int) ([]BenchmarkedResource, error) {
	bs, err := registry.RunBenchmarks(states, patterns, categories, reps)
	if err != nil {
		return nil, err
	}
	out := make([]BenchmarkedResource, len(bs))
	for i, b := range bs {
		out[i] = BenchmarkedResource{
			ResourceDescription: ResourceDescription{
				Number:        b.Number,
				Name:          b.Name,
				Description:   b.Description,
				SupportFlags:  b.Support,
				RequiredFlags: b.Required,
			},
			ImplName:     b.ImplName,
			BenchedFlags: b.BenchedFlags,
			Millis:       b.Millis,
			SpeedupVsCPU: b.SpeedupVsCPU,
		}
	}
	return out, nil
}

// pickGroup resolves one flag group: a required bit wins, then a preferred
// bit, then the default.
func pickGroup(pref, req, group, def flags.Flags) flags.Flags {
	if r := req & group; r != 0 {
		return r
	}
	if p := pref & group; p != 0 {
		return p
	}
	return def
}

// resolveFlags derives the instance's effective capability set.
func resolveFlags(cfg InstanceConfig, support flags.Flags) flags.Flags {
	pref, req := cfg.Preference, cfg.Requirement
	f := pickGroup(pref, req, flags.PrecisionSingle|flags.PrecisionDouble, flags.PrecisionDouble)
	f |= pickGroup(pref, req, flags.ComputationSynch|flags.ComputationAsynch|flags.ComputationAction, flags.ComputationSynch)
	f |= pickGroup(pref, req, flags.EigenReal|flags.EigenComplex, flags.EigenReal)
	f |= pickGroup(pref, req, flags.ScalingManual|flags.ScalingAuto|flags.ScalingDynamic|flags.ScalingAlways, 0)
	f |= pickGroup(pref, req, flags.ScalersRaw|flags.ScalersLog, flags.ScalersRaw)
	vecDefault := flags.VectorNone
	if cfg.StateCount == 4 && support.Has(flags.VectorSSE) {
		vecDefault = flags.VectorSSE
	}
	f |= pickGroup(pref, req, flags.VectorNone|flags.VectorSSE|flags.VectorAVX, vecDefault)
	f |= pickGroup(pref, req, flags.ThreadingNone|flags.ThreadingCPP, flags.ThreadingNone)
	f |= pickGroup(pref, req, flags.InvEvecStandard|flags.InvEvecTransposed, flags.InvEvecStandard)
	f |= pickGroup(pref, req, flags.PreorderTransposeManual|flags.PreorderTransposeAuto, flags.PreorderTransposeAuto)
	f |= flags.ProcessorCPU | flags.FrameworkCPU
	return f
}

// NewInstance selects a backend, allocates every buffer, and returns the
// instance handle.
func NewInstance(cfg InstanceConfig) (*Instance, error) {
	if cfg.StateCount < 2 {
		return nil, fmt.Errorf("%w: state count %d", codes.ErrSizeMismatch, cfg.StateCount)
	}
	res, err := registry.Select(cfg.Resource, cfg.Preference, cfg.Requirement)
	if err != nil {
		return nil, err
	}
	resolved := resolveFlags(cfg, res.Support)
	if resolved.Has(flags.ComputationAsynch) {
		return nil, fmt.Errorf("%w: asynchronous computation", codes.ErrUnsupported)
	}

	threads := 1
	if resolved.Has(flags.ThreadingCPP) {
		threads = cfg.ThreadCount
		if threads < 1 {
			threads = runtime.NumCPU()
		}
	}
	ec := cpu.Config{
		Tips:             cfg.TipCount,
		Partials:         cfg.PartialsCount,
		Compact:          cfg.CompactCount,
		States:           cfg.StateCount,
		Patterns:         cfg.PatternCount,
		Eigens:           cfg.EigenCount,
		Matrices:         cfg.MatrixCount,
		Categories:       cfg.CategoryCount,
		ScaleBuffers:     cfg.ScaleBufferCount,
		Flags:            resolved,
		Threads:          threads,
		RescaleFrequency: cfg.RescaleFrequency,
	}

	single := resolved.Has(flags.PrecisionSingle) && !resolved.Has(flags.PrecisionDouble)
	action := resolved.Has(flags.ComputationAction)

	var eng engine
	var implName string
	switch {
	case action && single:
		eng, err = cpu.NewAction[float32](ec)
		implName = "CPU-Action-Single"
	case action:
		eng, err = cpu.NewAction[float64](ec)
		implName = "CPU-Action-Double"
	case single:
		eng, err = cpu.New[float32](ec)
		implName = implFor(cfg.StateCount, resolved, "Single")
	default:
		eng, err = cpu.New[float64](ec)
		implName = implFor(cfg.StateCount, resolved, "Double")
	}
	if err != nil {
		return nil, err
	}

	inst := &Instance{
		eng: eng,
		details: InstanceDetails{
			ResourceNumber:  res.Number,
			ResourceName:    res.Name,
			ImplName:        implName,
			ImplDescription: res.Description,
			Flags:           resolved,
		},
	}
	log.Debug().
		Str("impl", implName).
		Str("resource", res.Name).
		Str("flags", resolved.String()).
		Msg("instance created")
	return inst, nil
}

func implFor(states int, f flags.Flags, precision string) string {
	if states == 4 && !f.Has(flags.VectorNone) {
		return "CPU-4State-Vector-" + precision
	}
	return "CPU-Plain-" + precision
}
