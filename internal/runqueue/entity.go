// Package runqueue implements the per-CPU LWK run queue (§4.2): a
// priority-array-backed queue of LWK scheduling entities with O(1)
// enqueue/dequeue/pick-next.
package runqueue

import (
	"container/list"

	k8scpuset "k8s.io/utils/cpuset"

	"github.com/lwkcore/core/internal/commit"
)

// SchedClass tags which scheduler currently owns a task (§9:
// "Assimilation ... a tagged variant held on each task describing
// which scheduler currently owns it").
type SchedClass int

const (
	ClassHostFair SchedClass = iota
	ClassHostRT
	ClassHostDeadline
	ClassHostStop
	ClassHostIdle
	ClassLWK
)

// OrigClass is the sum-type "original class" slot used by give-back
// (§3, §4.5): None means the task was never assimilated.
type OrigClass struct {
	Set    bool
	Class  SchedClass
	Policy int // host-specific policy id, opaque to the core
}

// Entity is the LWK Scheduling Entity attached to every task (§3).
type Entity struct {
	PIDVal       int
	TGIDVal      int // thread-group (process) id; PIDVal == TGIDVal for the initial thread
	cpuHome      int // -1 or a CPU id it is accounted against
	threadType   commit.ThreadType
	Assimilated  bool
	Orig         OrigClass
	Priority     PriorityBand

	SliceRemaining int
	SliceReload    int

	MoveSyscallsDisable bool

	// AcceptedHints records the outcome of the last utility-placement
	// attempt for user-space to read back (§4.3 step 4, §6).
	AcceptedHints HintsOutcome

	// PushNodeSet remembers the node set a utility thread was placed
	// with, if any, so push-to-host rebalancing can re-consult it
	// (§4.3 push-rebalance: "honouring a NodeSet hint if present").
	// HasPushNodeSet is false when the original placement did not use
	// USE_NODE_SET.
	PushNodeSet    k8scpuset.CPUSet
	HasPushNodeSet bool

	// moveable-utility-thread list linkage (process-wide, §3). Owned
	// and mutated by internal/process under its list's lock.
	MoveElem *list.Element

	// queue linkage: which run queue and slot this entity currently
	// occupies, nil/−1 when not queued (§I3: on at most one queue).
	queue *RunQueue
	elem  *list.Element
	slot  int
}

// HintsOutcome is the user-visible accept/reject result for the last
// placement attempt, written back through a ResultPointer in the
// uapi/clonehints layer.
type HintsOutcome int

const (
	OutcomeNone HintsOutcome = iota
	OutcomeAccepted
	OutcomeRejected
)

func NewEntity(pid, tgid int, typ commit.ThreadType, prio PriorityBand) *Entity {
	return &Entity{
		PIDVal:     pid,
		TGIDVal:    tgid,
		cpuHome:    -1,
		threadType: typ,
		Priority:   prio,
		slot:       -1,
	}
}

// NewIdleEntity builds the dedicated idle entity for one CPU (§I4): it
// always sits at the lowest-priority slot and is never dequeued.
func NewIdleEntity(cpu int) *Entity {
	e := NewEntity(0, 0, commit.Idle, IdleBand())
	e.cpuHome = cpu
	return e
}

// commit.Task implementation.
func (e *Entity) HomeCPU() int               { return e.cpuHome }
func (e *Entity) SetHomeCPU(cpu int)         { e.cpuHome = cpu }
func (e *Entity) Type() commit.ThreadType    { return e.threadType }
func (e *Entity) SetType(t commit.ThreadType) { e.threadType = t }
func (e *Entity) PID() int                   { return e.PIDVal }

func (e *Entity) IsIdle() bool { return e.threadType == commit.Idle }

func (e *Entity) Queued() bool { return e.elem != nil }
