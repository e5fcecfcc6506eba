package runqueue

import (
	"container/list"

	"github.com/lwkcore/core/internal/errs"
	"github.com/lwkcore/core/internal/stats"
)

// LowPowerHint is an opaque hint word the Idle Driver issues to the
// host's low-power instruction layer (§3, §4.7); its concrete meaning
// belongs to internal/idle and internal/hostif.
type LowPowerHint string

// RunQueue is the per-CPU priority-indexed LWK run queue (§4.2). The
// host is expected to hold this CPU's runqueue lock across every call
// (§5); RunQueue itself does no locking.
type RunQueue struct {
	CPU int

	slots [NumSlots]list.List
	bits  bitset

	total int // entries including idle, if present
	idle  *Entity

	OwningPID int

	ShallowHint LowPowerHint
	DeepHint    LowPowerHint

	Current *Entity // the entity the host believes is running, for preempt/tick checks

	stats *stats.CPU
}

func New(cpu int, st *stats.CPU) *RunQueue {
	rq := &RunQueue{CPU: cpu, stats: st}
	idle := NewIdleEntity(cpu)
	rq.installIdle(idle)
	return rq
}

func (rq *RunQueue) installIdle(idle *Entity) {
	rq.idle = idle
	idle.queue = rq
	idle.slot = slotIdle
	idle.elem = rq.slots[slotIdle].PushBack(idle)
	rq.bits.set(slotIdle)
	rq.total++
}

// Enqueue places task at head or tail of its priority slot (§4.2),
// sets the slot's bit, increments the running count, and updates the
// running-max statistic. Enqueuing the idle entity is a no-op beyond
// what New already did (§I4).
func (rq *RunQueue) Enqueue(task *Entity, head bool) {
	if task.IsIdle() {
		return
	}
	if task.queue != nil {
		panic(&errs.Fatal{Msg: "enqueue of task already queued on a runqueue"})
	}
	slot := task.Priority.slotIndex()
	task.queue = rq
	task.slot = slot
	if head {
		task.elem = rq.slots[slot].PushFront(task)
	} else {
		task.elem = rq.slots[slot].PushBack(task)
	}
	rq.bits.set(slot)
	rq.total++
	if rq.stats != nil {
		rq.stats.NoteConcurrentRun(int64(rq.NrRunning()))
	}
}

// Dequeue removes task from its slot, clearing the slot's bit if the
// slot becomes empty. No-op for the idle entity (§I4).
func (rq *RunQueue) Dequeue(task *Entity) {
	if task.IsIdle() {
		return
	}
	if task.queue != rq || task.elem == nil {
		return
	}
	rq.slots[task.slot].Remove(task.elem)
	if rq.slots[task.slot].Len() == 0 {
		rq.bits.clear(task.slot)
	}
	task.queue = nil
	task.elem = nil
	task.slot = -1
	rq.total--
}

// RequeueToTail rotates task within its current slot (yield/tick
// reload, §4.5).
func (rq *RunQueue) RequeueToTail(task *Entity) {
	if task.IsIdle() || task.queue != rq || task.elem == nil {
		return
	}
	rq.slots[task.slot].Remove(task.elem)
	task.elem = rq.slots[task.slot].PushBack(task)
}

// PickNext returns the first entity from the lowest-indexed non-empty
// slot, or (nil, false) if the queue holds nothing but (possibly) the
// idle entity removed — in practice the idle slot is always present,
// so callers that want "no LWK work" should check IsIdle() on the
// result (§4.2: "no candidate" lets the host scheduler continue its
// own selection; here that maps to returning the idle entity itself).
func (rq *RunQueue) PickNext() (*Entity, bool) {
	idx, ok := rq.bits.lowestSet()
	if !ok {
		return nil, false
	}
	front := rq.slots[idx].Front()
	if front == nil {
		// Invariant violation: bit set without a matching slot (§7: fatal).
		panic(&errs.Fatal{Msg: "runqueue: bit set with empty slot"})
	}
	return front.Value.(*Entity), true
}

// NrRunning returns the number of queue entries excluding the idle
// entity (§I5, mos_nr_running).
func (rq *RunQueue) NrRunning() int {
	n := rq.total
	if rq.idle != nil && rq.idle.queue == rq {
		n--
	}
	return n
}

// BitSnapshot returns a copy of which slots are currently non-empty,
// for introspection/tests (§I5: "the bit set reflects non-empty queue
// slots exactly").
func (rq *RunQueue) BitSnapshot() [NumSlots]bool {
	var out [NumSlots]bool
	for i := 0; i < NumSlots; i++ {
		out[i] = rq.bits.isSet(i)
	}
	return out
}

// Idle returns this CPU's dedicated idle entity.
func (rq *RunQueue) Idle() *Entity { return rq.idle }

// Preempts reports whether newTask should preempt the currently
// running task: its queue index must be strictly lower (§4.2, §4.5
// check_preempt_curr).
func (rq *RunQueue) Preempts(newTask *Entity) bool {
	if rq.Current == nil {
		return true
	}
	return newTask.Priority.Less(rq.Current.Priority)
}
