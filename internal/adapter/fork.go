package adapter

import (
	"github.com/lwkcore/core/internal/clonehints"
	"github.com/lwkcore/core/internal/commit"
	"github.com/lwkcore/core/internal/process"
	"github.com/lwkcore/core/internal/runqueue"
)

// resolveAnchor returns the caller's cpu_home, falling back to the
// first LWK CPU with a warning when the caller has none (§4.3 step 1).
func (a *Adapter) resolveAnchor(proc *process.Record, caller *runqueue.Entity, childPID int) int {
	if home := caller.HomeCPU(); home >= 0 {
		return home
	}
	if len(proc.LWKSequence) == 0 {
		return 0
	}
	a.log.Info("utility placement: caller has no cpu_home, falling back to first LWK CPU", "pid", childPID)
	return proc.LWKSequence[0]
}

// Fork implements the fork hook (§4.6). caller is the forking thread's
// own entity; callerHints/childHints are the Clone Hints stores on the
// calling thread's and the new child's task records respectively — both
// are cleared unconditionally once fork completes, per §4.6's "clear
// the Clone Hints record on both parent and child".
func (a *Adapter) Fork(proc *process.Record, caller *runqueue.Entity, childPID int, sameThreadGroup bool, callerHints, childHints *clonehints.Store) (*runqueue.Entity, error) {
	defer childHints.Take()

	hints := callerHints.Take()

	if !sameThreadGroup {
		child := runqueue.NewEntity(childPID, childPID, commit.Normal, caller.Priority)
		if err := a.host.TransferToFair(child, 0); err != nil {
			a.log.Error(err, "fork: transfer-to-fair failed for new process", "pid", childPID)
		}
		if err := a.host.SetCPUsAllowed(child, proc.SavedAllowed.List()); err != nil {
			a.log.Error(err, "fork: restoring original allowed set failed", "pid", childPID)
		}
		return child, nil
	}

	child := runqueue.NewEntity(childPID, proc.PID, commit.Normal, caller.Priority)
	ordinal := proc.NextThreadOrdinal()

	if ordinal > proc.Policy.NumUtilThreads && hints.Behaviour&clonehints.BehaviourUtility == 0 {
		// Compute-thread path: set the full LWK set as allowed and let
		// the subsequent select_task_rq fork path pick the actual CPU
		// (§4.6); a push may be needed first to free one up.
		if err := a.host.SetCPUsAllowed(child, proc.LWKCPUSet.List()); err != nil {
			a.log.Error(err, "fork: set_cpus_allowed failed for compute thread", "pid", childPID)
		}
		if err := a.engine.PushRebalance(proc); err != nil {
			a.log.Error(err, "fork: push-rebalance failed ahead of compute placement", "pid", childPID)
		}
		return child, nil
	}

	child.SetType(commit.Utility)
	anchor := a.resolveAnchor(proc, caller, childPID)
	if _, err := a.engine.PlaceUtility(proc, child, hints, anchor); err != nil {
		a.log.Info("fork: utility placement rejected", "pid", childPID, "err", err)
	}
	return child, nil
}
