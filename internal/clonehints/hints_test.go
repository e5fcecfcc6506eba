package clonehints

import (
	"errors"
	"testing"

	k8scpuset "k8s.io/utils/cpuset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwkcore/core/internal/errs"
)

func TestValidate_RejectsMultipleTopologySelectors(t *testing.T) {
	err := Validate(Record{Placement: PlacementSameL1 | PlacementSameL2})
	require.Error(t, err)
	var ce *errs.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, errs.AttrConflict, ce.Kind)
}

func TestValidate_RejectsLWKOnlyAndHostOnlyTogether(t *testing.T) {
	err := Validate(Record{Placement: PlacementLWKOnly | PlacementHostOnly})
	require.Error(t, err)
}

func TestValidate_RejectsHighAndLowPrioTogether(t *testing.T) {
	err := Validate(Record{Behaviour: BehaviourHighPrio | BehaviourLowPrio})
	require.Error(t, err)
}

func TestValidate_RejectsExclusiveWithHostOnly(t *testing.T) {
	err := Validate(Record{Behaviour: BehaviourExclusive, Placement: PlacementHostOnly})
	require.Error(t, err)
}

func TestValidate_RejectsNodeSetWithKey(t *testing.T) {
	k := uint64(1)
	err := Validate(Record{Placement: PlacementUseNodeSet, Nodes: k8scpuset.New(0), Key: &k})
	require.Error(t, err)
}

func TestValidate_RejectsEmptyNodeSetWithUseNodeSet(t *testing.T) {
	err := Validate(Record{Placement: PlacementUseNodeSet})
	require.Error(t, err)
}

func TestValidate_AcceptsWellFormedRecord(t *testing.T) {
	err := Validate(Record{Placement: PlacementSameL3, Behaviour: BehaviourHighPrio})
	assert.NoError(t, err)
}

func TestStore_StageThenTakeRoundTrips(t *testing.T) {
	var s Store
	r := Record{Behaviour: BehaviourUtility, Placement: PlacementSameNUMA}
	require.NoError(t, s.Stage(r))

	peek, ok := s.Peek()
	require.True(t, ok)
	assert.Equal(t, BehaviourUtility, peek.Behaviour)

	taken := s.Take()
	assert.Equal(t, PlacementSameNUMA, taken.Placement)

	_, ok = s.Peek()
	assert.False(t, ok)
}

func TestStore_TakeWithoutStageReturnsEmpty(t *testing.T) {
	var s Store
	r := s.Take()
	assert.True(t, r.IsZero())
}

func TestStore_ClearFlagWipesStagedHints(t *testing.T) {
	var s Store
	require.NoError(t, s.Stage(Record{Placement: PlacementSameL1}))
	require.NoError(t, s.Stage(Record{Flags: FlagClear}))

	_, ok := s.Peek()
	assert.False(t, ok)
}

func TestStore_StageRejectsInvalidRecord(t *testing.T) {
	var s Store
	err := s.Stage(Record{Behaviour: BehaviourHighPrio | BehaviourLowPrio})
	require.Error(t, err)
	_, ok := s.Peek()
	assert.False(t, ok)
}

func TestStore_StageSetsResultRequested(t *testing.T) {
	var s Store
	cell := &ResultCell{}
	require.NoError(t, s.Stage(Record{Result: cell}))
	assert.Equal(t, ResultRequested, cell.Code)
}
