package placement

import (
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	k8scpuset "k8s.io/utils/cpuset"
	"golang.org/x/sync/errgroup"

	"github.com/lwkcore/core/internal/clonehints"
	"github.com/lwkcore/core/internal/commit"
	"github.com/lwkcore/core/internal/hostif"
	"github.com/lwkcore/core/internal/process"
	"github.com/lwkcore/core/internal/runqueue"
	"github.com/lwkcore/core/internal/stats"
	"github.com/lwkcore/core/internal/topology"
	"github.com/lwkcore/core/internal/utilgroup"
)

// newTestEngine builds a small 4-CPU, single-core-per-CPU fixture: CPUs
// 0-3 all share one NUMA node and one L3, but each sits in its own L2
// and core, matching perflock's "flat" test topology in spirit.
func newTestEngine(t *testing.T) (*Engine, *topology.Facts, *hostif.SimHostScheduler) {
	t.Helper()
	descs := make([]topology.Desc, 0, 4)
	for i := 0; i < 4; i++ {
		descs = append(descs, topology.Desc{
			CPU: topology.CPUID(i), NUMAID: 0, CoreID: i,
			L1CacheID: i, L2CacheID: i, L3CacheID: 0,
		})
	}
	facts, err := topology.NewFacts(descs)
	require.NoError(t, err)

	st := stats.NewRegistry([]int{0, 1, 2, 3})
	commits := commit.New(facts, st)
	rqs := map[int]*runqueue.RunQueue{}
	for i := 0; i < 4; i++ {
		rqs[i] = runqueue.New(i, st.CPU(i))
	}
	sim := hostif.NewSimHostScheduler()
	log := testr.New(t)
	return NewEngine(facts, commits, rqs, sim, hostif.NopTracer{}, st, log), facts, sim
}

func newProc(t *testing.T, pid int, lwk []int) *process.Record {
	t.Helper()
	return process.New(pid, k8scpuset.New(lwk...), lwk, k8scpuset.New(), process.DefaultPolicy(), utilgroup.New(testr.New(t)))
}

// S1: a process's initial thread lands on its LWK sequence's first CPU.
func TestSelectCPUCandidate_MainThreadHome(t *testing.T) {
	e, _, _ := newTestEngine(t)
	proc := newProc(t, 100, []int{2, 0, 1, 3})
	task := runqueue.NewEntity(100, 100, commit.Normal, runqueue.RT(10))

	cpu, ok := e.SelectCPUCandidate(proc, task, 0, false, 0)
	require.True(t, ok)
	assert.Equal(t, 2, cpu)
}

// S2: with commit-limit = CommitMax, later compute threads still fall
// back to the least-committed CPU rather than failing outright.
func TestSelectCPUCandidate_FallsBackToLeastCommitted(t *testing.T) {
	e, _, _ := newTestEngine(t)
	proc := newProc(t, 101, []int{0, 1, 2, 3})

	for i := 0; i < 3; i++ {
		task := runqueue.NewEntity(101+i, 101, commit.Normal, runqueue.RT(10))
		cpu, ok := e.SelectCPUCandidate(proc, task, CommitMax, false, 0)
		require.True(t, ok)
		e.commits.Commit(task, cpu)
	}

	task := runqueue.NewEntity(104, 101, commit.Normal, runqueue.RT(10))
	cpu, ok := e.SelectCPUCandidate(proc, task, CommitMax, false, 0)
	require.True(t, ok)
	assert.Equal(t, 3, cpu, "fourth compute thread should land on the still-uncommitted CPU")
	e.commits.Commit(task, cpu)

	// Every CPU now holds one compute thread: the fifth falls back to the
	// least-committed CPU, ties broken by sequence order.
	task = runqueue.NewEntity(105, 101, commit.Normal, runqueue.RT(10))
	cpu, ok = e.SelectCPUCandidate(proc, task, CommitMax, false, 0)
	require.True(t, ok)
	assert.Equal(t, 0, cpu, "fifth compute thread should fall back to the first least-committed CPU")
}

// An exclusive reservation request fails when every candidate CPU is
// exclusively owned by another pid.
func TestSelectCPUCandidate_ExclusiveConflict(t *testing.T) {
	e, _, _ := newTestEngine(t)
	proc := newProc(t, 102, []int{0})
	require.True(t, e.commits.TryExclusive(0, 999))

	task := runqueue.NewEntity(102, 102, commit.Normal, runqueue.RT(10))
	_, ok := e.SelectCPUCandidate(proc, task, 0, false, 102)
	assert.False(t, ok)
}

func TestPlaceUtility_SameL2Anchor(t *testing.T) {
	e, _, _ := newTestEngine(t)
	proc := newProc(t, 200, []int{0, 1, 2, 3})

	anchor := runqueue.NewEntity(200, 200, commit.Utility, runqueue.FairGuestBand())
	home, err := e.PlaceUtility(proc, anchor, clonehints.Record{}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, home, "no placement bits set falls back to FirstAvailable, anchor CPU itself qualifies")

	follower := runqueue.NewEntity(201, 200, commit.Utility, runqueue.FairGuestBand())
	hints := clonehints.Record{Placement: clonehints.PlacementSameL2}
	_, err = e.PlaceUtility(proc, follower, hints, 1)
	require.NoError(t, err)
	assert.Equal(t, runqueue.OutcomeAccepted, follower.AcceptedHints)
}

func TestPlaceUtility_GroupSharesAnchor(t *testing.T) {
	e, _, _ := newTestEngine(t)
	proc := newProc(t, 210, []int{0, 1, 2, 3})
	key := uint64(42)

	first := runqueue.NewEntity(210, 210, commit.Utility, runqueue.FairGuestBand())
	home1, err := e.PlaceUtility(proc, first, clonehints.Record{Key: &key}, 2)
	require.NoError(t, err)

	entry, found := proc.UtilGroups.Lookup(key)
	require.True(t, found)
	assert.Equal(t, home1, entry.Anchor)

	second := runqueue.NewEntity(211, 210, commit.Utility, runqueue.FairGuestBand())
	_, err = e.PlaceUtility(proc, second, clonehints.Record{Key: &key}, 0)
	require.NoError(t, err)

	entry, found = proc.UtilGroups.Lookup(key)
	require.True(t, found)
	assert.Equal(t, 2, entry.RefCount)
}

func TestPlaceUtility_Unsatisfiable(t *testing.T) {
	e, _, _ := newTestEngine(t)
	proc := newProc(t, 220, []int{0})
	proc.Policy.MaxUtilThreadsPerCPU = 1

	first := runqueue.NewEntity(220, 220, commit.Utility, runqueue.FairGuestBand())
	hints := clonehints.Record{Placement: clonehints.PlacementLWKOnly}
	_, err := e.PlaceUtility(proc, first, hints, 0)
	require.NoError(t, err)

	second := runqueue.NewEntity(221, 220, commit.Utility, runqueue.FairGuestBand())
	_, err = e.PlaceUtility(proc, second, hints, 0)
	require.Error(t, err)
	assert.Equal(t, runqueue.OutcomeRejected, second.AcceptedHints)
}

func TestPushRebalance_GivesBackMostRecentMoveable(t *testing.T) {
	e, _, sim := newTestEngine(t)
	proc := newProc(t, 230, []int{0})

	u1 := runqueue.NewEntity(230, 230, commit.Utility, runqueue.FairGuestBand())
	_, err := e.PlaceUtility(proc, u1, clonehints.Record{Placement: clonehints.PlacementLWKOnly}, 0)
	require.NoError(t, err)

	compute := runqueue.NewEntity(231, 230, commit.Normal, runqueue.RT(10))
	cpu, ok := e.SelectCPUCandidate(proc, compute, 0, false, 0)
	require.True(t, ok)
	e.commits.Commit(compute, cpu)

	require.True(t, e.needsPushRebalance(proc))
	require.NoError(t, e.PushRebalance(proc))

	transfers := sim.Transfers()
	require.NotEmpty(t, transfers)
	assert.Equal(t, u1.PIDVal, transfers[len(transfers)-1].PID)
	assert.True(t, proc.MoveableEmpty())
}

// Push-rebalance honours a NodeSet hint at the original placement
// (§9 open question (b), §4.3 push-rebalance wording): a utility
// thread placed with USE_NODE_SET restricted to NUMA node 1 must still
// land on a node-1 host CPU after being pushed, even though node 0's
// host CPUs are tried first in plain sequence order.
func TestPushRebalance_HonoursOriginalNodeSet(t *testing.T) {
	descs := []topology.Desc{
		{CPU: 0, NUMAID: 0, CoreID: 0, L1CacheID: 0, L2CacheID: 0, L3CacheID: 0},
		{CPU: 10, NUMAID: 0, CoreID: 10, L1CacheID: 10, L2CacheID: 10, L3CacheID: 10},
		{CPU: 20, NUMAID: 1, CoreID: 20, L1CacheID: 20, L2CacheID: 20, L3CacheID: 20},
	}
	facts, err := topology.NewFacts(descs)
	require.NoError(t, err)
	st := stats.NewRegistry([]int{0, 10, 20})
	commits := commit.New(facts, st)
	rqs := map[int]*runqueue.RunQueue{0: runqueue.New(0, st.CPU(0))}
	sim := hostif.NewSimHostScheduler()
	e := NewEngine(facts, commits, rqs, sim, hostif.NopTracer{}, st, testr.New(t))

	proc := process.New(300, k8scpuset.New(0), []int{0}, k8scpuset.New(10, 20), process.DefaultPolicy(), utilgroup.New(testr.New(t)))

	u1 := runqueue.NewEntity(300, 300, commit.Utility, runqueue.FairGuestBand())
	hints := clonehints.Record{Placement: clonehints.PlacementLWKOnly | clonehints.PlacementUseNodeSet, Nodes: k8scpuset.New(1)}
	_, err = e.PlaceUtility(proc, u1, hints, 0)
	require.NoError(t, err)
	assert.True(t, u1.HasPushNodeSet)

	compute := runqueue.NewEntity(301, 300, commit.Normal, runqueue.RT(10))
	e.commits.Commit(compute, 0)

	require.True(t, e.needsPushRebalance(proc))
	require.NoError(t, e.PushRebalance(proc))

	assert.Equal(t, 20, u1.HomeCPU())
}

// S4: two concurrent utility-thread forks sharing a grouping key with
// no prior registry entry converge on exactly one entry at refcount 2,
// both placed at the same anchor CPU. The registry's Reserve/Populate
// lock span is what makes this safe to run concurrently; errgroup fans
// the two forks out the way the pack's own concurrent-reconcile tests
// do.
func TestPlaceUtility_ConcurrentSameKeyForksConverge(t *testing.T) {
	e, _, _ := newTestEngine(t)
	proc := newProc(t, 240, []int{0, 1, 2, 3})
	key := uint64(99)

	homes := make([]int, 2)
	var g errgroup.Group
	for i := 0; i < 2; i++ {
		i := i
		g.Go(func() error {
			task := runqueue.NewEntity(241+i, 240, commit.Utility, runqueue.FairGuestBand())
			home, err := e.PlaceUtility(proc, task, clonehints.Record{Key: &key}, i)
			if err != nil {
				return err
			}
			homes[i] = home
			return nil
		})
	}
	require.NoError(t, g.Wait())

	entry, found := proc.UtilGroups.Lookup(key)
	require.True(t, found)
	assert.Equal(t, 2, entry.RefCount)
	assert.Equal(t, entry.Anchor, homes[0])
	assert.Equal(t, entry.Anchor, homes[1])
}

func TestAdjustUtilBehaviour_HighPrioPins(t *testing.T) {
	e, _, _ := newTestEngine(t)
	task := runqueue.NewEntity(300, 300, commit.Utility, runqueue.FairGuestBand())
	require.NoError(t, e.AdjustUtilBehaviour(task, clonehints.BehaviourHighPrio))
	assert.Equal(t, runqueue.RT(0), task.Priority)
}

func TestMoveToHostScheduler_NiceMapping(t *testing.T) {
	e, _, sim := newTestEngine(t)
	task := runqueue.NewEntity(301, 301, commit.Utility, runqueue.FairGuestBand())
	e.commits.Commit(task, 0)

	require.NoError(t, e.MoveToHostScheduler(task, clonehints.BehaviourLowPrio))
	transfers := sim.Transfers()
	require.NotEmpty(t, transfers)
	assert.Equal(t, 19, transfers[len(transfers)-1].Nice)
}
