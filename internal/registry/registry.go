// Package registry enumerates the compute resources available to this
// process and matches instance requirements against their capability
// bitsets. The list is built once at first use and is read-only afterward.
package registry

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/klauspost/cpuid/v2"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-yew/flags"
	"github.com/23skdu/longbow-yew/internal/codes"
)

// Resource describes one backend.
type Resource struct {
	Number      int
	Name        string
	Description string
	Support     flags.Flags
	Required    flags.Flags
}

var (
	once sync.Once
	list []Resource
)

// cpuSupport builds the CPU resource's capability set from the host's
// feature flags.
func cpuSupport() flags.Flags {
	f := flags.PrecisionSingle | flags.PrecisionDouble |
		flags.ComputationSynch | flags.ComputationAction |
		flags.EigenReal | flags.EigenComplex |
		flags.ScalingManual | flags.ScalingAuto | flags.ScalingDynamic | flags.ScalingAlways |
		flags.ScalersRaw | flags.ScalersLog |
		flags.VectorNone |
		flags.ThreadingNone | flags.ThreadingCPP |
		flags.ProcessorCPU | flags.FrameworkCPU |
		flags.InvEvecStandard | flags.InvEvecTransposed |
		flags.PreorderTransposeManual | flags.PreorderTransposeAuto
	if cpuid.CPU.Supports(cpuid.SSE2) {
		f |= flags.VectorSSE
	}
	if cpuid.CPU.Supports(cpuid.AVX) {
		f |= flags.VectorAVX
	}
	return f
}

// List returns the available resources. Resource 0 is always the CPU, and
// it is the only entry: no GPU runtime is probed.
func List() []Resource {
	once.Do(func() {
		list = []Resource{{
			Number:      0,
			Name:        "CPU",
			Description: describeCPU(),
			Support:     cpuSupport(),
			Required:    flags.ProcessorCPU | flags.FrameworkCPU,
		}}
		// No vendor GPU runtime is linked into this build; the registry
		// stays CPU-only rather than advertising an unusable resource.
		log.Debug().Int("resources", len(list)).Msg("resource registry initialized")
	})
	return list
}

func describeCPU() string {
	brand := cpuid.CPU.BrandName
	if brand == "" {
		brand = "generic CPU"
	}
	return fmt.Sprintf("%s (%d cores)", brand, cpuid.CPU.LogicalCores)
}

// Select picks the resource for an instance. resource pins a specific
// entry (-1 means any); otherwise the highest-scoring resource whose
// support covers every required bit wins, with preference bits breaking
// ties.
func Select(resource int, preference, requirement flags.Flags) (Resource, error) {
	rs := List()
	if resource >= 0 {
		if resource >= len(rs) {
			return Resource{}, fmt.Errorf("%w: resource %d of %d", codes.ErrNoResource, resource, len(rs))
		}
		r := rs[resource]
		if !r.Support.Has(requirement) {
			return Resource{}, fmt.Errorf("%w: resource %d lacks required flags %s",
				codes.ErrNoResource, resource, (requirement &^ r.Support).String())
		}
		return r, nil
	}
	best := -1
	bestScore := -1
	for _, r := range rs {
		if !r.Support.Has(requirement) {
			continue
		}
		score := bits.OnesCount64(uint64(preference & r.Support))
		if score > bestScore {
			best, bestScore = r.Number, score
		}
	}
	if best < 0 {
		return Resource{}, fmt.Errorf("%w: no resource supports %s", codes.ErrNoResource, requirement.String())
	}
	return rs[best], nil
}
