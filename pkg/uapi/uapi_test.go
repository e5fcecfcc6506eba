package uapi

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwkcore/core/internal/errs"
)

func TestToRecord_RejectsWrongSize(t *testing.T) {
	_, err := ToRecord(CloneAttr{Size: 0})
	require.Error(t, err)
	var ce *errs.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, errs.UserFault, ce.Kind)
}

func TestToRecord_RejectsConflictingBehaviour(t *testing.T) {
	_, err := ToRecord(CloneAttr{
		Size:      WireSize,
		Behaviour: BehaviourHighPrio | BehaviourLowPrio,
	})
	require.Error(t, err)
	var ce *errs.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, errs.AttrConflict, ce.Kind)
}

func TestToRecord_RejectsEmptyNodeSetWithUseNodeSet(t *testing.T) {
	_, err := ToRecord(CloneAttr{
		Size:      WireSize,
		Placement: PlacementUseNodeSet,
	})
	require.Error(t, err)
}

func TestToRecord_ClearFlagBypassesValidation(t *testing.T) {
	r, err := ToRecord(CloneAttr{
		Size:      WireSize,
		Flags:     FlagClear,
		Behaviour: BehaviourHighPrio | BehaviourLowPrio, // would otherwise conflict
	})
	require.NoError(t, err)
	assert.NotZero(t, r.Flags&FlagClear)
}

func TestToRecord_ValidNodeSetAccepted(t *testing.T) {
	r, err := ToRecord(CloneAttr{
		Size:      WireSize,
		Placement: PlacementUseNodeSet,
		Nodes:     []int{0, 1},
	})
	require.NoError(t, err)
	assert.True(t, r.Nodes.Contains(0))
	assert.True(t, r.Nodes.Contains(1))
}

func TestToRecord_WantResultAllocatesCell(t *testing.T) {
	r, err := ToRecord(CloneAttr{Size: WireSize, WantResult: true})
	require.NoError(t, err)
	require.NotNil(t, r.Result)
}

func TestFromResult_NilCellReportsRequested(t *testing.T) {
	res := FromResult(nil)
	assert.Equal(t, int(0), int(res.Code)) // ResultRequested == 0
}
