// Package commit implements Commit Accounting (§4.1): the per-CPU
// compute/utility counters and exclusive-owner slot that every
// placement decision reads.
package commit

import (
	"sync"
	"sync/atomic"

	"github.com/lwkcore/core/internal/errs"
	"github.com/lwkcore/core/internal/stats"
	"github.com/lwkcore/core/internal/topology"
)

// ThreadType classifies an LWK scheduling entity (§3).
type ThreadType int

const (
	Normal ThreadType = iota // compute thread
	Utility
	Guest
	Idle
)

// counterSaturationBound is the point at which a compute/utility
// counter is treated as saturated rather than allowed to keep climbing
// (§4.1: "Counter saturation at a large positive bound must be
// tolerated and flagged, not wrapped.").
const counterSaturationBound = 1 << 30

// Task is the minimal view of an LWK scheduling entity Commit
// Accounting needs: its current home CPU and thread type. The
// runqueue.Entity type implements this.
type Task interface {
	HomeCPU() int
	SetHomeCPU(int)
	Type() ThreadType
	PID() int
}

// perCPU holds one CPU's compute/utility counters and exclusive-owner
// slot. The counters share the per-CPU mutex mu (§5: "Each ... Commit
// Accounting uses its own per-CPU lock held only across counter
// read-modify-write"); the owner slot is an atomic updated by CAS.
type perCPU struct {
	mu       sync.Mutex
	compute  int64
	utility  int64
	saturated bool

	exclusiveOwner atomic.Int64 // pid, 0 means unowned (§I2)
}

// Accounting owns the per-CPU counter table.
type Accounting struct {
	cpus  map[int]*perCPU
	stats *stats.Registry
}

func New(facts *topology.Facts, st *stats.Registry) *Accounting {
	a := &Accounting{cpus: make(map[int]*perCPU), stats: st}
	for _, id := range facts.All() {
		a.cpus[int(id)] = &perCPU{}
	}
	return a
}

func (a *Accounting) cpu(id int) *perCPU {
	c, ok := a.cpus[id]
	if !ok {
		c = &perCPU{}
		a.cpus[id] = c
	}
	return c
}

// Commit increments the counter matching task's thread type and
// records cpu into task's home, per §4.1. Records new maxima into
// statistics.
func (a *Accounting) Commit(task Task, cpu int) {
	c := a.cpu(cpu)
	c.mu.Lock()
	switch task.Type() {
	case Utility:
		c.utility++
		if c.utility >= counterSaturationBound {
			c.utility = counterSaturationBound
			c.saturated = true
		}
	default: // Normal, Guest and Idle commits all count as compute-style occupancy
		c.compute++
		if c.compute >= counterSaturationBound {
			c.compute = counterSaturationBound
			c.saturated = true
		}
	}
	compute, utility := c.compute, c.utility
	c.mu.Unlock()

	task.SetHomeCPU(cpu)

	if a.stats != nil {
		if st := a.stats.CPU(cpu); st != nil {
			st.NoteComputeDepth(compute)
			st.NoteUtilityDepth(utility)
		}
	}
}

// Uncommit decrements the counter matching task's thread type if
// task.cpu_home >= 0, and clears cpu_home. Underflow is counted, never
// panics (§4.1, §7 CounterUnderflow).
func (a *Accounting) Uncommit(task Task) {
	home := task.HomeCPU()
	if home < 0 {
		return
	}
	c := a.cpu(home)
	c.mu.Lock()
	switch task.Type() {
	case Utility:
		if c.utility > 0 {
			c.utility--
		} else {
			c.mu.Unlock()
			a.noteUnderflow(home)
			task.SetHomeCPU(-1)
			return
		}
	default:
		if c.compute > 0 {
			c.compute--
		} else {
			c.mu.Unlock()
			a.noteUnderflow(home)
			task.SetHomeCPU(-1)
			return
		}
	}
	c.mu.Unlock()
	task.SetHomeCPU(-1)
}

func (a *Accounting) noteUnderflow(cpu int) {
	if a.stats != nil {
		if st := a.stats.CPU(cpu); st != nil {
			st.CounterUnderflows.Add(1)
		}
	}
}

// ReadCommits returns (compute, utility) atomically with respect to a
// concurrent Commit on the same CPU.
func (a *Accounting) ReadCommits(cpu int) (compute, utility int64) {
	c := a.cpu(cpu)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compute, c.utility
}

// IsOvercommitted reports whether compute+utility > 1 on cpu (§4.1).
func (a *Accounting) IsOvercommitted(cpu int) bool {
	compute, utility := a.ReadCommits(cpu)
	return compute+utility > 1
}

// IsSaturated reports whether either counter on cpu hit the
// saturation bound.
func (a *Accounting) IsSaturated(cpu int) bool {
	c := a.cpu(cpu)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saturated
}

// TryExclusive attempts a compare-and-swap of cpu's exclusive-owner
// slot from 0 to pid (§4.3, §I2). Returns true on success; false if
// the CPU is already exclusively owned, including by pid itself.
func (a *Accounting) TryExclusive(cpu int, pid int) bool {
	c := a.cpu(cpu)
	return c.exclusiveOwner.CompareAndSwap(0, int64(pid))
}

// ExclusiveOwner returns the pid holding cpu's exclusive reservation,
// or 0 if unowned.
func (a *Accounting) ExclusiveOwner(cpu int) int {
	return int(a.cpu(cpu).exclusiveOwner.Load())
}

// ClearExclusive releases cpu's exclusive reservation if pid is the
// current owner.
func (a *Accounting) ClearExclusive(cpu int, pid int) {
	a.cpu(cpu).exclusiveOwner.CompareAndSwap(int64(pid), 0)
}

// Err builds a §7 error for the rare case a caller needs to surface an
// accounting failure (e.g. an allocation failure upstream of commit).
func Err(kind errs.Kind, msg string) error { return errs.New(kind, msg) }
