package adapter

import (
	"syscall"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	k8scpuset "k8s.io/utils/cpuset"

	"github.com/lwkcore/core/internal/clonehints"
	"github.com/lwkcore/core/internal/commit"
	"github.com/lwkcore/core/internal/hostif"
	"github.com/lwkcore/core/internal/placement"
	"github.com/lwkcore/core/internal/process"
	"github.com/lwkcore/core/internal/runqueue"
	"github.com/lwkcore/core/internal/stats"
	"github.com/lwkcore/core/internal/topology"
	"github.com/lwkcore/core/internal/utilgroup"
)

func newTestAdapter(t *testing.T) (*Adapter, *hostif.SimHostScheduler) {
	t.Helper()
	descs := []topology.Desc{
		{CPU: 0, NUMAID: 0, CoreID: 0, L1CacheID: 0, L2CacheID: 0, L3CacheID: 0},
		{CPU: 1, NUMAID: 0, CoreID: 1, L1CacheID: 1, L2CacheID: 0, L3CacheID: 0},
	}
	facts, err := topology.NewFacts(descs)
	require.NoError(t, err)

	st := stats.NewRegistry([]int{0, 1})
	commits := commit.New(facts, st)
	rqs := map[int]*runqueue.RunQueue{0: runqueue.New(0, st.CPU(0)), 1: runqueue.New(1, st.CPU(1))}
	sim := hostif.NewSimHostScheduler()
	log := testr.New(t)
	engine := placement.NewEngine(facts, commits, rqs, sim, hostif.NopTracer{}, st, log)
	return New(engine, commits, rqs, sim, hostif.NopTracer{}, st, log), sim
}

func newTestProc(t *testing.T, pid int, lwk []int) *process.Record {
	t.Helper()
	return process.New(pid, k8scpuset.New(lwk...), lwk, k8scpuset.New(), process.DefaultPolicy(), utilgroup.New(testr.New(t)))
}

func TestYield_AloneAtSlotNoReschedule(t *testing.T) {
	a, _ := newTestAdapter(t)
	task := runqueue.NewEntity(1, 1, commit.Normal, runqueue.RT(5))
	a.Enqueue(0, task, false)
	assert.False(t, a.Yield(0, task))
}

func TestYield_ContendedSlotRotates(t *testing.T) {
	a, _ := newTestAdapter(t)
	t1 := runqueue.NewEntity(1, 1, commit.Normal, runqueue.RT(5))
	t2 := runqueue.NewEntity(2, 2, commit.Normal, runqueue.RT(5))
	a.Enqueue(0, t1, false)
	a.Enqueue(0, t2, false)
	assert.True(t, a.Yield(0, t1))
}

func TestTick_RoundRobinReloadsAndRequeues(t *testing.T) {
	a, _ := newTestAdapter(t)
	proc := newTestProc(t, 1, []int{0})
	proc.Policy.EnableRR = 2

	t1 := runqueue.NewEntity(1, 1, commit.Normal, runqueue.RT(5))
	t1.SliceRemaining = 1
	t1.SliceReload = 2
	t2 := runqueue.NewEntity(2, 2, commit.Normal, runqueue.RT(5))
	a.Enqueue(0, t1, false)
	a.Enqueue(0, t2, false)

	assert.True(t, a.Tick(0, proc, t1))
	assert.Equal(t, 2, t1.SliceRemaining)
}

func TestAssimilateTask_HostFairBecomesGuest(t *testing.T) {
	a, _ := newTestAdapter(t)
	task := runqueue.NewEntity(9, 9, commit.Normal, runqueue.FairGuestBand())

	err := a.AssimilateTask(0, task, runqueue.ClassHostFair, 0, true, nil)
	require.NoError(t, err)
	assert.True(t, task.Assimilated)
	assert.Equal(t, commit.Guest, task.Type())
	assert.True(t, task.Orig.Set)
	assert.Equal(t, runqueue.ClassHostFair, task.Orig.Class)
}

func TestAssimilateTask_GiveBackRestoresOriginal(t *testing.T) {
	a, sim := newTestAdapter(t)
	task := runqueue.NewEntity(9, 9, commit.Guest, runqueue.FairGuestBand())
	task.Assimilated = true
	task.Orig = runqueue.OrigClass{Set: true, Class: runqueue.ClassHostFair, Policy: 3}

	err := a.AssimilateTask(0, task, runqueue.ClassHostFair, 3, false, nil)
	require.NoError(t, err)
	assert.False(t, task.Assimilated)
	transfers := sim.Transfers()
	require.NotEmpty(t, transfers)
	assert.Equal(t, "restore", transfers[len(transfers)-1].Kind)
}

func TestAssimilateTask_StopClassLeftAlone(t *testing.T) {
	a, _ := newTestAdapter(t)
	task := runqueue.NewEntity(9, 9, commit.Normal, runqueue.FairGuestBand())
	err := a.AssimilateTask(0, task, runqueue.ClassHostStop, 0, true, nil)
	require.NoError(t, err)
	assert.False(t, task.Assimilated)
}

func TestSetCPUsAllowed_DisabledReturnsConfiguredErrno(t *testing.T) {
	a, sim := newTestAdapter(t)
	proc := newTestProc(t, 1, []int{0, 1})
	proc.Policy.DisableSetaffinity = 22 // EINVAL

	task := runqueue.NewEntity(1, 1, commit.Normal, runqueue.RT(5))
	err := a.SetCPUsAllowed(0, proc, task, []int{1})
	require.Error(t, err)
	assert.Equal(t, syscall.Errno(22), err)
	assert.Empty(t, sim.Transfers())
}

func TestSetCPUsAllowed_EnabledForwardsToHost(t *testing.T) {
	a, _ := newTestAdapter(t)
	proc := newTestProc(t, 1, []int{0, 1})

	task := runqueue.NewEntity(1, 1, commit.Normal, runqueue.RT(5))
	require.NoError(t, a.SetCPUsAllowed(0, proc, task, []int{1}))
}

func TestFork_ThreadCreationRoutesToUtilityPlacement(t *testing.T) {
	a, _ := newTestAdapter(t)
	proc := newTestProc(t, 1, []int{0, 1})
	proc.Policy.NumUtilThreads = 10

	caller := runqueue.NewEntity(1, 1, commit.Normal, runqueue.RT(5))
	caller.SetHomeCPU(0)
	var callerHints, childHints clonehints.Store

	child, err := a.Fork(proc, caller, 2, true, &callerHints, &childHints)
	require.NoError(t, err)
	assert.Equal(t, commit.Utility, child.Type())
	assert.Equal(t, 1, proc.CreatedThreads())
}

func TestFork_ProcessCreationGoesToHost(t *testing.T) {
	a, sim := newTestAdapter(t)
	proc := newTestProc(t, 1, []int{0, 1})
	caller := runqueue.NewEntity(1, 1, commit.Normal, runqueue.RT(5))
	var callerHints, childHints clonehints.Store

	child, err := a.Fork(proc, caller, 50, false, &callerHints, &childHints)
	require.NoError(t, err)
	assert.Equal(t, 50, child.PIDVal)
	transfers := sim.Transfers()
	require.NotEmpty(t, transfers)
	assert.Equal(t, "fair", transfers[0].Kind)
}
