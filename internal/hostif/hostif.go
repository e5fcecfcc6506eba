// Package hostif defines the external-collaborator interfaces named
// in §6: the host scheduler, host topology/low-power probes, and
// tracing emission. The core consumes these; it never implements the
// real host OS task-control data structures, context switcher,
// topology discovery, MSR/low-power instruction issue, or tracing
// pipeline itself (§1 Non-goals).
package hostif

import (
	"github.com/lwkcore/core/internal/runqueue"
	"github.com/lwkcore/core/internal/topology"
)

// TopologyQuery is the host topology-discovery collaborator (§6): a
// query returning NUMA id, sibling mask, and cache-level shared-CPU
// maps per CPU, from which topology.Facts can be built. The daemon
// loads its Facts from a fixture file (topology.LoadFixture) and does
// not call Query; the core never re-probes live topology itself.
type TopologyQuery interface {
	Query() ([]topology.Desc, error)
}

// LowPowerProbe is the low-power capability probe (§6): it reports
// which hint words the host's idle instruction layer supports, and
// performs the actual architecture-specific idle-for-one-quantum
// operation (monitor/mwait pair with a need-resched double-check, or
// halt) behind the interface described in §9.
type LowPowerProbe interface {
	SupportedHints() []runqueue.LowPowerHint
	// IdleForQuantum issues the low-power wait for hint. needResched
	// is polled between arming and committing the wait, exactly as
	// the monitor/mwait pair double-checks need-resched (§4.7).
	IdleForQuantum(hint runqueue.LowPowerHint, needResched func() bool)
}

// HostScheduler is the give-back / transfer contract (§4.4, §4.5,
// §6): "a 'give back' convention to restore a prior scheduling
// class," plus the fair-class transfer used when utility or compute
// threads move off an LWK CPU.
type HostScheduler interface {
	// TransferToFair reassigns task to the host's fair class with the
	// given nice value (§4.4 move_to_host_scheduler).
	TransferToFair(task *runqueue.Entity, nice int) error
	// RestoreOriginalClass restores task to task.Orig (§4.5 give-back).
	RestoreOriginalClass(task *runqueue.Entity) error
	// SetCPUsAllowed installs allowed as task's allowed-CPU mask at
	// the host runqueue-lock boundary (§4.5 set_cpus_allowed, §5).
	SetCPUsAllowed(task *runqueue.Entity, allowed []int) error
}

// TraceEmitter is the tracing-emission collaborator (§1, §6). The
// core never implements real tracepoints; it only calls this
// interface so a host integration can wire in its own.
type TraceEmitter interface {
	Emit(event string, fields map[string]any)
}

// NopTracer discards every event.
type NopTracer struct{}

func (NopTracer) Emit(string, map[string]any) {}
