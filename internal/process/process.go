// Package process implements the LWK Process Record (§3): per-process
// CPU sets, policy knobs and the moveable-utility-thread list that the
// Placement Engine's push-rebalance walks.
package process

import (
	"container/list"
	"sync"

	k8scpuset "k8s.io/utils/cpuset"

	"github.com/lwkcore/core/internal/runqueue"
	"github.com/lwkcore/core/internal/utilgroup"
)

// OvercommitBehaviour controls which commit counters count toward
// "is this CPU already committed" during compute placement (§3).
type OvercommitBehaviour int

const (
	OvercommitAllCommits OvercommitBehaviour = iota
	OvercommitOnlyCompute
	OvercommitOnlyUtility
)

// AllowedCPUsPerUtil selects the utility sub-mode (§4.3 step 3).
type AllowedCPUsPerUtil int

const (
	AllowedMultiple AllowedCPUsPerUtil = iota
	AllowedOne
)

// Policy bundles the per-process knobs configurable over the
// boot/yod channel (§3, §6).
type Policy struct {
	MaxCPUsForUtil       int
	MaxUtilThreadsPerCPU int
	OvercommitBehaviour  OvercommitBehaviour
	AllowedCPUsPerUtil   AllowedCPUsPerUtil
	EnableRR             int // time-slice in ticks; 0 disables round robin
	DisableSetaffinity   int // errno to return, or 0
	MoveSyscallsDisable  bool
	StatsLevel           int
	NumUtilThreads       int // number of initial thread creations routed to utility placement; later ones are compute
}

// DefaultPolicy matches conservative defaults: no util-thread cap, RR
// disabled, setaffinity allowed.
func DefaultPolicy() Policy {
	return Policy{
		MaxCPUsForUtil:       0,
		MaxUtilThreadsPerCPU: 0,
		OvercommitBehaviour:  OvercommitAllCommits,
		AllowedCPUsPerUtil:   AllowedMultiple,
		EnableRR:             0,
		DisableSetaffinity:   0,
		MoveSyscallsDisable:  false,
		StatsLevel:           0,
		NumUtilThreads:       0,
	}
}

// Record is the LWK Process Record (§3).
type Record struct {
	PID int // tgid

	LWKCPUSet     k8scpuset.CPUSet
	LWKSequence   []int // ordered assignment preference, typically end-loaded for utility threads
	SharedUtilSet k8scpuset.CPUSet // host CPUs usable for utility threads
	SavedAllowed  k8scpuset.CPUSet // original allowed-CPU set, restored on process exit / give-back

	Policy Policy

	UtilGroups *utilgroup.Registry

	createdThreads int

	moveMu sync.Mutex
	moveable list.List // of *runqueue.Entity, linked via Entity.MoveElem
}

func New(pid int, lwkCPUs k8scpuset.CPUSet, sequence []int, sharedUtil k8scpuset.CPUSet, pol Policy, groups *utilgroup.Registry) *Record {
	seq := make([]int, len(sequence))
	copy(seq, sequence)
	return &Record{
		PID:           pid,
		LWKCPUSet:     lwkCPUs,
		LWKSequence:   seq,
		SharedUtilSet: sharedUtil,
		SavedAllowed:  lwkCPUs.Union(sharedUtil),
		Policy:        pol,
		UtilGroups:    groups,
	}
}

// NextThreadOrdinal increments and returns the created-thread counter
// (§4.6: "increment the process's created-thread counter").
func (r *Record) NextThreadOrdinal() int {
	r.createdThreads++
	return r.createdThreads
}

// CreatedThreads returns the current created-thread counter without
// incrementing it.
func (r *Record) CreatedThreads() int { return r.createdThreads }

// PushMoveable head-inserts task onto the moveable-utility list
// (§4.3 step 4: a freshly placed utility thread with no exclusive
// reservation and no explicit placement is eligible for push-rebalance).
func (r *Record) PushMoveable(task *runqueue.Entity) {
	r.moveMu.Lock()
	defer r.moveMu.Unlock()
	task.MoveElem = r.moveable.PushFront(task)
}

// PopMoveableHead removes and returns the head of the moveable-utility
// list (§4.3: push-rebalance "pop the head utility task").
func (r *Record) PopMoveableHead() (*runqueue.Entity, bool) {
	r.moveMu.Lock()
	defer r.moveMu.Unlock()
	front := r.moveable.Front()
	if front == nil {
		return nil, false
	}
	task := front.Value.(*runqueue.Entity)
	r.moveable.Remove(front)
	task.MoveElem = nil
	return task, true
}

// RemoveMoveable unlinks task from the moveable-utility list if it is
// currently on it (e.g. the task exits or is pinned explicitly).
func (r *Record) RemoveMoveable(task *runqueue.Entity) {
	r.moveMu.Lock()
	defer r.moveMu.Unlock()
	if task.MoveElem != nil {
		r.moveable.Remove(task.MoveElem)
		task.MoveElem = nil
	}
}

// MoveableLen reports the current moveable-utility list length, for
// introspection.
func (r *Record) MoveableLen() int {
	r.moveMu.Lock()
	defer r.moveMu.Unlock()
	return r.moveable.Len()
}

// MoveableEmpty reports whether the moveable-utility list is empty,
// without taking a snapshot of its contents.
func (r *Record) MoveableEmpty() bool {
	r.moveMu.Lock()
	defer r.moveMu.Unlock()
	return r.moveable.Len() == 0
}

