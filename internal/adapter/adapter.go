// Package adapter implements the Scheduler Class Adapter (§4.5): the
// hook surface the host scheduler invokes, binding the Run Queue and
// Placement Engine to the host's enqueue/dequeue/pick-next/tick
// contract.
package adapter

import (
	"syscall"

	"github.com/go-logr/logr"

	"github.com/lwkcore/core/internal/commit"
	"github.com/lwkcore/core/internal/hostif"
	"github.com/lwkcore/core/internal/placement"
	"github.com/lwkcore/core/internal/process"
	"github.com/lwkcore/core/internal/runqueue"
	"github.com/lwkcore/core/internal/stats"
)

// Adapter binds one daemon-wide Placement Engine and run-queue table to
// the host's scheduling-class hook contract.
type Adapter struct {
	engine    *placement.Engine
	commits   *commit.Accounting
	runqueues map[int]*runqueue.RunQueue
	host      hostif.HostScheduler
	tracer    hostif.TraceEmitter
	stats     *stats.Registry
	log       logr.Logger
}

func New(engine *placement.Engine, commits *commit.Accounting, rqs map[int]*runqueue.RunQueue, host hostif.HostScheduler, tracer hostif.TraceEmitter, st *stats.Registry, log logr.Logger) *Adapter {
	if tracer == nil {
		tracer = hostif.NopTracer{}
	}
	return &Adapter{engine: engine, commits: commits, runqueues: rqs, host: host, tracer: tracer, stats: st, log: log}
}

func (a *Adapter) rq(cpu int) *runqueue.RunQueue { return a.runqueues[cpu] }

// Enqueue implements the enqueue hook (§4.2, §4.5).
func (a *Adapter) Enqueue(cpu int, task *runqueue.Entity, head bool) {
	if rq := a.rq(cpu); rq != nil {
		rq.Enqueue(task, head)
	}
}

// Dequeue implements the dequeue hook.
func (a *Adapter) Dequeue(cpu int, task *runqueue.Entity) {
	if rq := a.rq(cpu); rq != nil {
		rq.Dequeue(task)
	}
}

// Yield implements the yield hook (§6): returns false immediately when
// the caller is the only non-idle entity queued on its LWK CPU;
// otherwise rotates to tail and reports that a reschedule is needed.
// The check counts every queued entity on the CPU, not only those in
// the caller's priority slot, so a caller alone in its slot still
// rotates when other slots are occupied.
func (a *Adapter) Yield(cpu int, task *runqueue.Entity) (reschedule bool) {
	rq := a.rq(cpu)
	if rq == nil || !task.Queued() {
		return false
	}
	if rq.NrRunning() <= 1 {
		return false
	}
	rq.RequeueToTail(task)
	return true
}

// CheckPreemptCurr implements check_preempt_curr (§4.5): reschedule iff
// newTask's queue index is strictly lower than the CPU's current task.
func (a *Adapter) CheckPreemptCurr(cpu int, newTask *runqueue.Entity) bool {
	rq := a.rq(cpu)
	if rq == nil {
		return false
	}
	return rq.Preempts(newTask)
}

// PickNext implements pick_next (§4.2, §4.5).
func (a *Adapter) PickNext(cpu int) (*runqueue.Entity, bool) {
	rq := a.rq(cpu)
	if rq == nil {
		return nil, false
	}
	next, ok := rq.PickNext()
	if ok {
		rq.Current = next
	}
	return next, ok
}

// Tick implements the tick hook (§4.5): when the process has enable_rr
// set and the task is round-robin scheduled, decrement its remaining
// slice; on reaching zero, reload it and, if it is not the only
// non-idle entity queued on the CPU, requeue to tail and request a
// reschedule. As in Yield, entities in other priority slots count.
func (a *Adapter) Tick(cpu int, proc *process.Record, task *runqueue.Entity) (reschedule bool) {
	if a.stats != nil {
		if st := a.stats.CPU(cpu); st != nil {
			st.TimerTicks.Add(1)
		}
	}
	if proc == nil || proc.Policy.EnableRR <= 0 || task.IsIdle() {
		return false
	}
	if task.SliceRemaining > 0 {
		task.SliceRemaining--
	}
	if task.SliceRemaining > 0 {
		return false
	}
	task.SliceRemaining = task.SliceReload
	rq := a.rq(cpu)
	if rq == nil {
		return false
	}
	if rq.NrRunning() <= 1 {
		return false
	}
	rq.RequeueToTail(task)
	return true
}

// PrioChanged and SwitchedTo both reschedule iff the queue-index
// ordering now favours a different task than the one currently running
// (§4.5). Both hooks reduce to the same preempt check once the task's
// priority (and thus queue slot) has already been updated by the
// caller.
func (a *Adapter) PrioChanged(cpu int, task *runqueue.Entity) bool  { return a.CheckPreemptCurr(cpu, task) }
func (a *Adapter) SwitchedTo(cpu int, task *runqueue.Entity) bool   { return a.CheckPreemptCurr(cpu, task) }

// SetCPUsAllowed implements set_cpus_allowed (§4.5): forwards the mask
// to the host boundary and bumps the per-CPU setaffinity statistic.
// When proc has disable-setaffinity configured (§6), the call is
// rejected with the configured errno and the mask is left untouched,
// matching the boot/yod "disable-setaffinity: errno ≥ 0" knob.
func (a *Adapter) SetCPUsAllowed(cpu int, proc *process.Record, task *runqueue.Entity, allowed []int) error {
	if proc != nil && proc.Policy.DisableSetaffinity != 0 {
		return syscall.Errno(proc.Policy.DisableSetaffinity)
	}
	if a.stats != nil {
		if st := a.stats.CPU(cpu); st != nil {
			st.SetaffinityCount.Add(1)
		}
	}
	return a.host.SetCPUsAllowed(task, allowed)
}

// SelectReason distinguishes the three select_task_rq call sites named
// in §4.5.
type SelectReason int

const (
	SelectWake SelectReason = iota
	SelectFork
	SelectOther
)

// SelectTaskRQ implements select_task_rq (§4.5): a waking task prefers
// its cpu_home if it is in the process's LWK CPU set; a forking task
// delegates to compute placement with an unlimited commit cap;
// otherwise prefer the current CPU if it is in the LWK CPU set, else
// the least-committed CPU in sequence. The entity carries no allowed
// mask of its own, so a narrower per-task affinity is not consulted.
func (a *Adapter) SelectTaskRQ(reason SelectReason, proc *process.Record, task *runqueue.Entity, currentCPU int) (int, error) {
	switch reason {
	case SelectWake:
		if home := task.HomeCPU(); home >= 0 && proc.LWKCPUSet.Contains(home) {
			return home, nil
		}
	case SelectFork:
		if cpu, ok := a.engine.SelectCPUCandidate(proc, task, placement.CommitMax, false, 0); ok {
			return cpu, nil
		}
	default:
		if proc.LWKCPUSet.Contains(currentCPU) {
			return currentCPU, nil
		}
	}
	if cpu, ok := a.engine.SelectCPUCandidate(proc, task, placement.CommitMax, false, 0); ok {
		return cpu, nil
	}
	return currentCPU, nil
}
