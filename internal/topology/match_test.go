package topology

import (
	"testing"

	k8scpuset "k8s.io/utils/cpuset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fourCPUFacts(t *testing.T) *Facts {
	t.Helper()
	f, err := NewFacts([]Desc{
		{CPU: 0, NUMAID: 0, CoreID: 0, L1CacheID: 0, L2CacheID: 0, L3CacheID: 0},
		{CPU: 1, NUMAID: 0, CoreID: 1, L1CacheID: 1, L2CacheID: 0, L3CacheID: 0},
		{CPU: 2, NUMAID: 1, CoreID: 2, L1CacheID: 2, L2CacheID: 1, L3CacheID: 1},
		{CPU: 3, NUMAID: 1, CoreID: 3, L1CacheID: 3, L2CacheID: 1, L3CacheID: 1},
	})
	require.NoError(t, err)
	return f
}

func TestSatisfies_SameL3(t *testing.T) {
	f := fourCPUFacts(t)
	req := Request{Type: SameL3, ID: 1}
	assert.False(t, f.Satisfies(req, 0))
	assert.True(t, f.Satisfies(req, 2))
	assert.True(t, f.Satisfies(req, 3))
}

func TestSatisfies_OtherNUMA(t *testing.T) {
	f := fourCPUFacts(t)
	req := Request{Type: OtherNUMA, ID: 0}
	assert.False(t, f.Satisfies(req, 0))
	assert.True(t, f.Satisfies(req, 2))
}

func TestSatisfies_InNodeSet(t *testing.T) {
	f := fourCPUFacts(t)
	req := Request{Type: InNodeSet, Nodes: k8scpuset.New(1)}
	assert.False(t, f.Satisfies(req, 0))
	assert.True(t, f.Satisfies(req, 2))
}

func TestSatisfies_FirstAvailableAlwaysTrue(t *testing.T) {
	f := fourCPUFacts(t)
	assert.True(t, f.Satisfies(Request{Type: FirstAvailable}, 3))
}

func TestSatisfies_UnknownCPUFalse(t *testing.T) {
	f := fourCPUFacts(t)
	assert.False(t, f.Satisfies(Request{Type: FirstAvailable}, 99))
}

// anchor is CPU 3's descriptor from fourCPUFacts: L1CacheID=3,
// L2CacheID=1, L3CacheID=1, NUMAID=1 — the L1 id differs from the
// wider levels, so a test that only checked req.Type (and not req.ID)
// could not catch Relax carrying the L1 id forward into a wider
// request it no longer matches. The L2, L3 and NUMA ids coincide.
var anchor = Desc{CPU: 3, NUMAID: 1, CoreID: 3, L1CacheID: 3, L2CacheID: 1, L3CacheID: 1}

func TestRelax_SameLadderWidensToFirstAvailable(t *testing.T) {
	req := Request{Type: SameL1, ID: anchor.L1CacheID}

	req, ok := Relax(req, anchor)
	require.True(t, ok)
	assert.Equal(t, SameL2, req.Type)
	assert.Equal(t, anchor.L2CacheID, req.ID)

	req, ok = Relax(req, anchor)
	require.True(t, ok)
	assert.Equal(t, SameL3, req.Type)
	assert.Equal(t, anchor.L3CacheID, req.ID)

	req, ok = Relax(req, anchor)
	require.True(t, ok)
	assert.Equal(t, SameNUMA, req.Type)
	assert.Equal(t, anchor.NUMAID, req.ID)

	req, ok = Relax(req, anchor)
	require.True(t, ok)
	assert.Equal(t, FirstAvailable, req.Type)

	_, ok = Relax(req, anchor)
	assert.False(t, ok)
}

func TestRelax_OtherLadderNarrowsToFirstAvailable(t *testing.T) {
	req := Request{Type: OtherNUMA, ID: anchor.NUMAID}

	req, ok := Relax(req, anchor)
	require.True(t, ok)
	assert.Equal(t, OtherL3, req.Type)
	assert.Equal(t, anchor.L3CacheID, req.ID)

	req, ok = Relax(req, anchor)
	require.True(t, ok)
	assert.Equal(t, OtherL2, req.Type)
	assert.Equal(t, anchor.L2CacheID, req.ID)

	req, ok = Relax(req, anchor)
	require.True(t, ok)
	assert.Equal(t, OtherL1, req.Type)
	assert.Equal(t, anchor.L1CacheID, req.ID)

	req, ok = Relax(req, anchor)
	require.True(t, ok)
	assert.Equal(t, FirstAvailable, req.Type)
}

func TestRelax_OtherCoreGoesStraightToFirstAvailable(t *testing.T) {
	req, ok := Relax(Request{Type: OtherCore, ID: 7}, anchor)
	require.True(t, ok)
	assert.Equal(t, FirstAvailable, req.Type)
}

func TestRelax_InNodeSetGoesStraightToFirstAvailable(t *testing.T) {
	req, ok := Relax(Request{Type: InNodeSet}, anchor)
	require.True(t, ok)
	assert.Equal(t, FirstAvailable, req.Type)
}

func TestRelax_WidenedRequestMatchesAnchorsOwnLevel(t *testing.T) {
	f := fourCPUFacts(t)
	req := Request{Type: SameL1, ID: anchor.L1CacheID}

	req, ok := Relax(req, anchor) // -> SameL2
	require.True(t, ok)
	assert.True(t, f.Satisfies(req, 2), "CPU 2 shares anchor's L2 domain")
	assert.True(t, f.Satisfies(req, 3), "CPU 3 is the anchor itself")
	assert.False(t, f.Satisfies(req, 0), "CPU 0 is a different L2 domain")
}
