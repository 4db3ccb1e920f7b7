package flags

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHas(t *testing.T) {
	f := PrecisionDouble | ScalingManual | ProcessorCPU
	assert.True(t, f.Has(PrecisionDouble))
	assert.True(t, f.Has(PrecisionDouble|ProcessorCPU))
	assert.False(t, f.Has(PrecisionSingle))
	assert.False(t, f.Has(PrecisionDouble|ProcessorGPU))
}

func TestString(t *testing.T) {
	f := PrecisionDouble | VectorSSE
	s := f.String()
	assert.Contains(t, s, "PRECISION_DOUBLE")
	assert.Contains(t, s, "VECTOR_SSE")
	assert.Len(t, strings.Fields(s), 2)

	assert.Equal(t, "NONE", Flags(0).String())
}

func TestScaling(t *testing.T) {
	f := PrecisionDouble | ScalingAuto | ScalersLog
	assert.Equal(t, ScalingAuto, f.Scaling())
	assert.Equal(t, Flags(0), (PrecisionDouble | ScalersLog).Scaling())
}
