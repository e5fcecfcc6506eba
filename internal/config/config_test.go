package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwkcore/core/internal/errs"
	"github.com/lwkcore/core/internal/process"
)

func TestApply_AllKeys(t *testing.T) {
	doc, err := Parse([]byte(`
move-syscalls-disable: true
enable-rr: 20
disable-setaffinity: 5
stats-level: 2
util-threshold: "4:1"
overcommit-behaviour: only-compute
one-cpu-per-util: true
`))
	require.NoError(t, err)

	pol := process.DefaultPolicy()
	require.NoError(t, Apply(doc, &pol, 10))

	assert.True(t, pol.MoveSyscallsDisable)
	assert.Equal(t, 2, pol.EnableRR)
	assert.Equal(t, 5, pol.DisableSetaffinity)
	assert.Equal(t, 2, pol.StatsLevel)
	assert.Equal(t, 4, pol.MaxCPUsForUtil)
	assert.Equal(t, 1, pol.MaxUtilThreadsPerCPU)
	assert.Equal(t, process.OvercommitOnlyCompute, pol.OvercommitBehaviour)
	assert.Equal(t, process.AllowedOne, pol.AllowedCPUsPerUtil)
}

func TestApply_EnableRRBelowOneTickRejected(t *testing.T) {
	doc, err := Parse([]byte(`enable-rr: 5`))
	require.NoError(t, err)

	pol := process.DefaultPolicy()
	err = Apply(doc, &pol, 10)
	require.Error(t, err)
	var ce *errs.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, errs.ConfigInvalid, ce.Kind)
	assert.Equal(t, 0, pol.EnableRR)
}

func TestApply_NegativeDisableSetaffinityRejected(t *testing.T) {
	doc, err := Parse([]byte(`disable-setaffinity: -1`))
	require.NoError(t, err)

	pol := process.DefaultPolicy()
	err = Apply(doc, &pol, 10)
	require.Error(t, err)
}

func TestApply_MalformedUtilThresholdRejected(t *testing.T) {
	doc, err := Parse([]byte(`util-threshold: "not-a-pair"`))
	require.NoError(t, err)

	pol := process.DefaultPolicy()
	err = Apply(doc, &pol, 10)
	require.Error(t, err)
}

func TestApply_UnrecognisedOvercommitBehaviourRejected(t *testing.T) {
	doc, err := Parse([]byte(`overcommit-behaviour: sometimes`))
	require.NoError(t, err)

	pol := process.DefaultPolicy()
	err = Apply(doc, &pol, 10)
	require.Error(t, err)
}

func TestParse_MalformedYAMLRejected(t *testing.T) {
	_, err := Parse([]byte("move-syscalls-disable: [this is not a bool"))
	require.Error(t, err)
	var ce *errs.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, errs.ConfigInvalid, ce.Kind)
}

func TestRender_RoundTripsThroughApply(t *testing.T) {
	doc, err := Parse([]byte(`
move-syscalls-disable: true
enable-rr: 20
disable-setaffinity: 5
stats-level: 2
util-threshold: "4:1"
overcommit-behaviour: only-compute
one-cpu-per-util: true
`))
	require.NoError(t, err)

	pol := process.DefaultPolicy()
	require.NoError(t, Apply(doc, &pol, 10))

	rendered, err := Render(pol, 10)
	require.NoError(t, err)

	doc2, err := Parse(rendered)
	require.NoError(t, err)
	pol2 := process.DefaultPolicy()
	require.NoError(t, Apply(doc2, &pol2, 10))

	assert.Equal(t, pol, pol2)
}

func TestApply_PartialDocumentLeavesOtherFieldsUntouched(t *testing.T) {
	doc, err := Parse([]byte(`stats-level: 3`))
	require.NoError(t, err)

	pol := process.DefaultPolicy()
	pol.EnableRR = 7
	require.NoError(t, Apply(doc, &pol, 10))

	assert.Equal(t, 3, pol.StatsLevel)
	assert.Equal(t, 7, pol.EnableRR)
}
