package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-yew/flags"
	"github.com/23skdu/longbow-yew/internal/codes"
)

func TestListHasCPU(t *testing.T) {
	rs := List()
	require.NotEmpty(t, rs)
	assert.Equal(t, 0, rs[0].Number)
	assert.Equal(t, "CPU", rs[0].Name)
	assert.True(t, rs[0].Support.Has(flags.ProcessorCPU))
	assert.True(t, rs[0].Support.Has(flags.PrecisionDouble|flags.PrecisionSingle))
	assert.True(t, rs[0].Support.Has(flags.ComputationAction))
}

func TestSelectByRequirement(t *testing.T) {
	r, err := Select(-1, 0, flags.ProcessorCPU|flags.ScalingAuto)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Number)

	_, err = Select(-1, 0, flags.ProcessorGPU)
	require.ErrorIs(t, err, codes.ErrNoResource)
}

func TestSelectPinned(t *testing.T) {
	r, err := Select(0, 0, flags.ProcessorCPU)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Number)

	_, err = Select(7, 0, 0)
	require.ErrorIs(t, err, codes.ErrNoResource)

	_, err = Select(0, 0, flags.FrameworkCUDA)
	require.ErrorIs(t, err, codes.ErrNoResource)
}

func TestRunBenchmarks(t *testing.T) {
	bs, err := RunBenchmarks(4, 64, 2, 2)
	require.NoError(t, err)
	require.Len(t, bs, 2) // plain + four-state vector
	for _, b := range bs {
		assert.Greater(t, b.Millis, 0.0)
		assert.Greater(t, b.SpeedupVsCPU, 0.0)
	}

	odd, err := RunBenchmarks(5, 16, 2, 1)
	require.NoError(t, err)
	require.Len(t, odd, 1)
}
