package adapter

import (
	"github.com/lwkcore/core/internal/commit"
	"github.com/lwkcore/core/internal/errs"
	"github.com/lwkcore/core/internal/process"
	"github.com/lwkcore/core/internal/runqueue"
)

// defaultGuestSlice is the time slice assimilated guest tasks load,
// absent any LWK-process round-robin policy of their own.
const defaultGuestSlice = 10

// AssimilateTask implements assimilate_task (§4.5): it converts an
// arbitrary arriving task into LWK scheduling, or gives one back,
// depending on its current assimilation state and the class it arrives
// with. proc is task's owning LWK process record, or nil when task does
// not belong to an LWK process.
func (a *Adapter) AssimilateTask(cpu int, task *runqueue.Entity, arriving runqueue.SchedClass, arrivingPolicy int, cpuIsLWK bool, proc *process.Record) error {
	switch {
	case task.Assimilated && proc != nil && cpuIsLWK:
		// Already-assimilated LWK-process task on an LWK CPU: no-op.
		return nil

	case task.Assimilated && task.Type() == commit.Guest && !cpuIsLWK:
		a.giveBack(cpu, task)
		return nil

	case proc != nil:
		a.installLWK(task, proc)
		return nil

	case arriving == runqueue.ClassHostStop || arriving == runqueue.ClassHostIdle:
		// Leave stop/idle-class tasks alone.
		return nil

	case arriving == runqueue.ClassHostFair || arriving == runqueue.ClassHostRT || arriving == runqueue.ClassHostDeadline:
		if !cpuIsLWK {
			return errs.New(errs.AssimilationUnexpected, "host task reached the guest-assimilation path on a non-LWK CPU")
		}
		a.assimilateGuest(cpu, task, arriving, arrivingPolicy)
		return nil

	default:
		a.log.Info("assimilation: unrecognised arriving class, leaving task on its original class", "pid", task.PIDVal, "class", arriving)
		return errs.New(errs.AssimilationUnexpected, "unrecognised scheduling class arriving on an LWK CPU")
	}
}

func (a *Adapter) giveBack(cpu int, task *runqueue.Entity) {
	orig := task.Orig
	task.Assimilated = false
	task.Orig = runqueue.OrigClass{}
	if orig.Set {
		if err := a.host.RestoreOriginalClass(task); err != nil {
			a.log.Error(err, "give-back: restoring original class failed", "pid", task.PIDVal)
		}
	}
	if a.stats != nil {
		if st := a.stats.CPU(cpu); st != nil {
			st.Givebacks.Add(1)
		}
	}
	a.tracer.Emit("give_back", map[string]any{"pid": task.PIDVal, "cpu": cpu})
}

func (a *Adapter) installLWK(task *runqueue.Entity, proc *process.Record) {
	if proc.Policy.EnableRR > 0 {
		task.SliceReload = proc.Policy.EnableRR
		task.SliceRemaining = proc.Policy.EnableRR
	}
	task.SetType(commit.Normal)
	task.Priority = runqueue.RT(runqueue.NumRTLevels - 1)
	task.Assimilated = true
}

func (a *Adapter) assimilateGuest(cpu int, task *runqueue.Entity, arriving runqueue.SchedClass, arrivingPolicy int) {
	task.Orig = runqueue.OrigClass{Set: true, Class: arriving, Policy: arrivingPolicy}
	task.SetType(commit.Guest)
	task.SliceReload = defaultGuestSlice
	task.SliceRemaining = defaultGuestSlice
	task.Assimilated = true
	if a.stats != nil {
		if st := a.stats.CPU(cpu); st != nil {
			st.Guests.Add(1)
			st.GuestDispatches.Add(1)
		}
	}
	a.tracer.Emit("assimilate_guest", map[string]any{"pid": task.PIDVal, "cpu": cpu, "orig_class": arriving})
}
