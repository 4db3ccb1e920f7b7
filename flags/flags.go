// Package flags defines the capability bitset shared by instances and
// compute resources. A resource advertises the union of capabilities it
// supports; an instance is created with a set of required bits (all must be
// present on the chosen resource) and a set of preferred bits (used as
// tie-breaks between otherwise acceptable resources).
package flags

import "strings"

// Flags is a capability bitset.
type Flags uint64

const (
	// Precision of the partials representation.
	PrecisionSingle Flags = 1 << iota
	PrecisionDouble

	// Computation mode.
	ComputationSynch
	ComputationAsynch
	// ComputationAction evaluates exp(tQ)·v directly instead of building
	// explicit probability matrices.
	ComputationAction

	// Eigen decomposition form.
	EigenReal
	EigenComplex

	// Scaling discipline.
	ScalingManual
	ScalingAuto
	ScalingDynamic
	ScalingAlways

	// Scale factor representation.
	ScalersRaw
	ScalersLog

	// Vector ISA used by the partials kernels.
	VectorNone
	VectorSSE
	VectorAVX

	// Threading within a single instance.
	ThreadingNone
	ThreadingCPP

	// Processor class.
	ProcessorCPU
	ProcessorGPU

	// Framework.
	FrameworkCPU
	FrameworkCUDA
	FrameworkOpenCL

	// Inverse eigenvector layout.
	InvEvecStandard
	InvEvecTransposed

	// Pre-order transposition handling.
	PreorderTransposeManual
	PreorderTransposeAuto
	PreorderTransposeLowMemory
)

var names = []struct {
	f    Flags
	name string
}{
	{PrecisionSingle, "PRECISION_SINGLE"},
	{PrecisionDouble, "PRECISION_DOUBLE"},
	{ComputationSynch, "COMPUTATION_SYNCH"},
	{ComputationAsynch, "COMPUTATION_ASYNCH"},
	{ComputationAction, "COMPUTATION_ACTION"},
	{EigenReal, "EIGEN_REAL"},
	{EigenComplex, "EIGEN_COMPLEX"},
	{ScalingManual, "SCALING_MANUAL"},
	{ScalingAuto, "SCALING_AUTO"},
	{ScalingDynamic, "SCALING_DYNAMIC"},
	{ScalingAlways, "SCALING_ALWAYS"},
	{ScalersRaw, "SCALERS_RAW"},
	{ScalersLog, "SCALERS_LOG"},
	{VectorNone, "VECTOR_NONE"},
	{VectorSSE, "VECTOR_SSE"},
	{VectorAVX, "VECTOR_AVX"},
	{ThreadingNone, "THREADING_NONE"},
	{ThreadingCPP, "THREADING_CPP"},
	{ProcessorCPU, "PROCESSOR_CPU"},
	{ProcessorGPU, "PROCESSOR_GPU"},
	{FrameworkCPU, "FRAMEWORK_CPU"},
	{FrameworkCUDA, "FRAMEWORK_CUDA"},
	{FrameworkOpenCL, "FRAMEWORK_OPENCL"},
	{InvEvecStandard, "INVEVEC_STANDARD"},
	{InvEvecTransposed, "INVEVEC_TRANSPOSED"},
	{PreorderTransposeManual, "PREORDER_TRANSPOSE_MANUAL"},
	{PreorderTransposeAuto, "PREORDER_TRANSPOSE_AUTO"},
	{PreorderTransposeLowMemory, "PREORDER_TRANSPOSE_LOW_MEMORY"},
}

// Has reports whether every bit of want is present.
func (f Flags) Has(want Flags) bool {
	return f&want == want
}

// String renders the set bits as a space-separated list.
func (f Flags) String() string {
	if f == 0 {
		return "NONE"
	}
	var sb strings.Builder
	for _, n := range names {
		if f&n.f != 0 {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(n.name)
		}
	}
	return sb.String()
}

// Scaling extracts the scaling-discipline bits.
func (f Flags) Scaling() Flags {
	return f & (ScalingManual | ScalingAuto | ScalingDynamic | ScalingAlways)
}
