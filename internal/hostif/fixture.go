package hostif

import (
	"github.com/go-logr/logr"

	"github.com/lwkcore/core/internal/runqueue"
	"github.com/lwkcore/core/internal/topology"
)

// FixtureTopology implements TopologyQuery from a pre-parsed
// topology.Facts table, standing in for a live host topology probe
// (§1: topology discovery is out of scope; its facts are supplied).
type FixtureTopology struct {
	facts *topology.Facts
}

func NewFixtureTopology(facts *topology.Facts) *FixtureTopology {
	return &FixtureTopology{facts: facts}
}

func (f *FixtureTopology) Query() ([]topology.Desc, error) {
	out := make([]topology.Desc, 0, f.facts.Len())
	for _, id := range f.facts.All() {
		d, _ := f.facts.Lookup(id)
		out = append(out, d)
	}
	return out, nil
}

// Hint words this core recognizes; their real meaning (an actual
// low-power C-state) is entirely up to the LowPowerProbe
// implementation.
const (
	HintShallow runqueue.LowPowerHint = "shallow"
	HintDeep    runqueue.LowPowerHint = "deep"
)

// PortableIdle implements LowPowerProbe with a halt-equivalent: no
// architecture-specific monitor/mwait instructions, just a single
// needResched poll. This is the "portable halt-equivalent"
// implementation named in §9, used by hosts or tests that have no
// low-power instruction layer wired in.
type PortableIdle struct {
	log logr.Logger
}

func NewPortableIdle(log logr.Logger) *PortableIdle {
	return &PortableIdle{log: log}
}

func (p *PortableIdle) SupportedHints() []runqueue.LowPowerHint {
	return []runqueue.LowPowerHint{HintShallow, HintDeep}
}

func (p *PortableIdle) IdleForQuantum(hint runqueue.LowPowerHint, needResched func() bool) {
	// A real host would halt here until the next interrupt. The
	// portable stand-in just checks once, matching "halt" semantics
	// for a harness with no hardware wait instruction.
	if needResched() {
		return
	}
	p.log.V(2).Info("idle quantum (halt-equivalent)", "hint", hint)
}

// MonitorMwaitIdle implements LowPowerProbe by modelling the
// monitor/mwait pair: arm, double-check need-resched, then "commit"
// the wait (§4.7: "issue the monitor/mwait pair, double-checking
// need-resched between them"). The actual instruction issuance is
// architecture-specific and out of this core's scope (§1); this type
// models the protocol around it for hosts that inject a real issuer.
type MonitorMwaitIdle struct {
	log    logr.Logger
	Issue  func(hint runqueue.LowPowerHint) // the actual mwait issuance, host-supplied
}

func NewMonitorMwaitIdle(log logr.Logger, issue func(runqueue.LowPowerHint)) *MonitorMwaitIdle {
	return &MonitorMwaitIdle{log: log, Issue: issue}
}

func (m *MonitorMwaitIdle) SupportedHints() []runqueue.LowPowerHint {
	return []runqueue.LowPowerHint{HintShallow, HintDeep}
}

func (m *MonitorMwaitIdle) IdleForQuantum(hint runqueue.LowPowerHint, needResched func() bool) {
	// Arm (monitor): in a real implementation this registers the
	// address range to watch. Modeled here as a no-op since the core
	// holds no address to monitor of its own.
	if needResched() {
		// Already have work; skip the wait entirely.
		return
	}
	if m.Issue != nil {
		m.Issue(hint)
		return
	}
	m.log.V(2).Info("idle quantum (mwait, no issuer wired)", "hint", hint)
}
