// Package idle implements the per-CPU LWK idle loop (§4.7): a
// cooperative loop that runs while its CPU is marked LWK, picking a
// shallow or deep low-power hint depending on whether the CPU currently
// belongs to a running LWK process, and issuing the host's low-power
// wait through the hostif.LowPowerProbe collaborator.
package idle

import (
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/lwkcore/core/internal/hostif"
	"github.com/lwkcore/core/internal/runqueue"
)

// Driver runs one CPU's idle loop.
type Driver struct {
	cpu   int
	probe hostif.LowPowerProbe
	log   logr.Logger

	isLWK   atomic.Bool // flips off to request the loop exit (§5: memory-barrier-ordered wake)
	owned   atomic.Bool // true while this CPU belongs to a running LWK process
	running atomic.Bool

	shallow, deep runqueue.LowPowerHint

	needResched func() bool
}

// New builds a Driver for cpu. needResched is polled on every idle
// iteration and between arm/commit of the low-power wait; a nil value
// defaults to "never" (used by tests that drive the loop by toggling
// SetLWK directly).
func New(cpu int, probe hostif.LowPowerProbe, shallow, deep runqueue.LowPowerHint, needResched func() bool, log logr.Logger) *Driver {
	if needResched == nil {
		needResched = func() bool { return false }
	}
	d := &Driver{cpu: cpu, probe: probe, log: log, shallow: shallow, deep: deep, needResched: needResched}
	d.isLWK.Store(true)
	return d
}

// SetLWK flips whether this CPU is currently ceded to the LWK (§3
// is_lwk). Per §5, a full barrier must precede waking the idle task;
// atomic.Bool's store/load pair gives that ordering on every supported
// Go platform.
func (d *Driver) SetLWK(v bool) { d.isLWK.Store(v) }

// SetOwned reports whether the CPU currently has an owning LWK process
// (any thread committed to it), selecting the shallow hint when
// true and the deep hint otherwise.
func (d *Driver) SetOwned(v bool) { d.owned.Store(v) }

// Run executes the cooperative idle loop until is_lwk flips off, then
// returns so the caller can mark the task Guest and let the host
// terminate it normally (§4.7). It issues at most one low-power wait
// per iteration.
func (d *Driver) Run() {
	d.running.Store(true)
	defer d.running.Store(false)

	for d.isLWK.Load() {
		hint := d.deep
		if d.owned.Load() {
			hint = d.shallow
		}
		d.probe.IdleForQuantum(hint, d.needResched)
	}
	d.log.V(2).Info("idle loop exiting, CPU no longer LWK", "cpu", d.cpu)
}

// Running reports whether the loop is currently executing, for tests
// and CLI introspection.
func (d *Driver) Running() bool { return d.running.Load() }
