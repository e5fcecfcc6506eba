package placement

import (
	"github.com/lwkcore/core/internal/clonehints"
	"github.com/lwkcore/core/internal/errs"
	"github.com/lwkcore/core/internal/runqueue"
)

// defaultNonCoopSlice is the time slice a NON_COOP utility thread is
// loaded with so it is round-robin sliced even when its process has
// no enable_rr policy of its own (§4.4: "a NON_COOP flag forces
// round-robin time-slicing").
const defaultNonCoopSlice = 10

// AdjustUtilBehaviour implements §4.4 adjust_util_behaviour: HIGH_PRIO
// pins the task at the top real-time level, LOW_PRIO at the bottom;
// independently, NON_COOP forces round-robin time-slicing regardless
// of priority. Unset bits leave the entity's current band/slice
// untouched.
func (e *Engine) AdjustUtilBehaviour(task *runqueue.Entity, b clonehints.Behaviour) error {
	prioChanged := true
	switch {
	case b&clonehints.BehaviourHighPrio != 0:
		task.Priority = runqueue.RT(0)
	case b&clonehints.BehaviourLowPrio != 0:
		task.Priority = runqueue.RT(runqueue.NumRTLevels - 1)
	default:
		prioChanged = false
	}
	if prioChanged && task.Queued() {
		if rq, ok := e.runqueues[task.HomeCPU()]; ok {
			rq.Dequeue(task)
			rq.Enqueue(task, false)
		}
	}

	if b&clonehints.BehaviourNonCoop != 0 {
		task.SliceReload = defaultNonCoopSlice
		task.SliceRemaining = defaultNonCoopSlice
	}
	return nil
}

// MoveToHostScheduler implements §4.4 move_to_host_scheduler: it
// uncommits task from its LWK CPU, derives a host nice value from its
// behaviour bits (HIGH_PRIO -> -20, LOW_PRIO -> +19, otherwise -10),
// and hands it to the host's fair class.
func (e *Engine) MoveToHostScheduler(task *runqueue.Entity, b clonehints.Behaviour) error {
	nice := -10
	switch {
	case b&clonehints.BehaviourHighPrio != 0:
		nice = -20
	case b&clonehints.BehaviourLowPrio != 0:
		nice = 19
	}

	old := task.HomeCPU()
	if rq, ok := e.runqueues[old]; ok {
		rq.Dequeue(task)
	}
	e.commits.Uncommit(task)

	if err := e.host.TransferToFair(task, nice); err != nil {
		return errs.New(errs.BehaviourUnacceptable, "move_to_host_scheduler: "+err.Error())
	}
	e.tracer.Emit("move_to_host_scheduler", map[string]any{"pid": task.PIDVal, "nice": nice, "from_cpu": old})
	return nil
}
