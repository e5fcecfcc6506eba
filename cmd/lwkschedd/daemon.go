// Command lwkschedd is the LWK companion scheduler daemon: it owns
// the topology facts, commit accounting, run queues, placement
// engine, scheduler-class adapter and the per-process registry, and
// serves the lwkschedctl wire protocol over a unix-domain socket, the
// way the teacher daemon serves PerfLockAction over its own socket.
package main

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-logr/logr"
	k8scpuset "k8s.io/utils/cpuset"

	"github.com/lwkcore/core/internal/adapter"
	"github.com/lwkcore/core/internal/clonehints"
	"github.com/lwkcore/core/internal/commit"
	"github.com/lwkcore/core/internal/config"
	"github.com/lwkcore/core/internal/errs"
	"github.com/lwkcore/core/internal/hostif"
	"github.com/lwkcore/core/internal/placement"
	"github.com/lwkcore/core/internal/process"
	"github.com/lwkcore/core/internal/runqueue"
	"github.com/lwkcore/core/internal/stats"
	"github.com/lwkcore/core/internal/topology"
	"github.com/lwkcore/core/internal/utilgroup"
	"github.com/lwkcore/core/pkg/uapi"
)

// Daemon holds every piece of daemon-wide state: the immutable
// topology facts, the shared commit/runqueue/placement/adapter
// machinery, and the mutable table of registered LWK processes.
type Daemon struct {
	facts     *topology.Facts
	stats     *stats.Registry
	commits   *commit.Accounting
	runqueues map[int]*runqueue.RunQueue
	host      hostif.HostScheduler
	tracer    hostif.TraceEmitter
	engine    *placement.Engine
	adapter   *adapter.Adapter
	log       logr.Logger

	defaultPolicy process.Policy
	tickMS        int

	mu        sync.RWMutex
	processes map[int]*process.Record
	tasks     map[int]*runqueue.Entity // by pid, every thread the daemon has seen
	hints     map[int]*clonehints.Store // by calling pid
}

// NewDaemon wires every core component from a loaded topology, the
// way NewEngine wires an Engine from a Facts table in internal/placement.
// host/tracer let the caller swap in a real host integration; passing
// nil for either installs the in-memory SimHostScheduler / NopTracer,
// the harness-mode default the core ships with (§1: the real host
// scheduler and tracing pipeline are out of the core's scope).
func NewDaemon(facts *topology.Facts, host hostif.HostScheduler, tracer hostif.TraceEmitter, tickMS int, log logr.Logger) *Daemon {
	if host == nil {
		host = hostif.NewSimHostScheduler()
	}
	if tracer == nil {
		tracer = hostif.NopTracer{}
	}

	ids := make([]int, 0, facts.Len())
	for _, id := range facts.All() {
		ids = append(ids, int(id))
	}
	st := stats.NewRegistry(ids)
	commits := commit.New(facts, st)

	rqs := make(map[int]*runqueue.RunQueue, len(ids))
	for _, id := range ids {
		rqs[id] = runqueue.New(id, st.CPU(id))
	}

	engine := placement.NewEngine(facts, commits, rqs, host, tracer, st, log)
	a := adapter.New(engine, commits, rqs, host, tracer, st, log)

	return &Daemon{
		facts:         facts,
		stats:         st,
		commits:       commits,
		runqueues:     rqs,
		host:          host,
		tracer:        tracer,
		engine:        engine,
		adapter:       a,
		log:           log,
		defaultPolicy: process.DefaultPolicy(),
		tickMS:        tickMS,
		processes:     make(map[int]*process.Record),
		tasks:         make(map[int]*runqueue.Entity),
		hints:         make(map[int]*clonehints.Store),
	}
}

// RegisterProcess creates an LWK Process Record for pid with the
// given LWK/shared-util CPU sets, under the daemon's current default
// policy (§3), places its initial thread via compute placement and
// commits it (§4.3). A process already registered is returned
// unchanged.
func (d *Daemon) RegisterProcess(pid int, lwkCPUs []int, sharedUtil []int) *process.Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rec, ok := d.processes[pid]; ok {
		return rec
	}
	rec := process.New(pid, k8scpuset.New(lwkCPUs...), lwkCPUs, k8scpuset.New(sharedUtil...), d.defaultPolicy, utilgroup.New(d.log))
	d.processes[pid] = rec

	initial := runqueue.NewEntity(pid, pid, commit.Normal, runqueue.RT(runqueue.NumRTLevels-1))
	if cpu, ok := d.engine.SelectCPUCandidate(rec, initial, placement.CommitMax, false, 0); ok {
		d.commits.Commit(initial, cpu)
		if rq := d.runqueues[cpu]; rq != nil {
			rq.Enqueue(initial, false)
		}
	}
	d.tasks[pid] = initial
	d.hints[pid] = &clonehints.Store{}
	return rec
}

// hintStore returns pid's Clone Hints staging slot, creating one on
// first use (a thread may stage hints before its process record is
// registered, e.g. from a boot-time launcher).
func (d *Daemon) hintStore(pid int) *clonehints.Store {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.hints[pid]
	if !ok {
		s = &clonehints.Store{}
		d.hints[pid] = s
	}
	return s
}

// SetCloneAttr validates and stages a "set clone attributes" call
// (§6) for pid.
func (d *Daemon) SetCloneAttr(pid int, attr uapi.CloneAttr) (uapi.Result, error) {
	rec, err := uapi.ToRecord(attr)
	if err != nil {
		return uapi.Result{}, err
	}
	if err := d.hintStore(pid).Stage(rec); err != nil {
		return uapi.Result{}, err
	}
	return uapi.FromResult(rec.Result), nil
}

// Yield implements the yield call (§6) for pid's task on cpu.
func (d *Daemon) Yield(pid, cpu int) bool {
	d.mu.RLock()
	task, ok := d.tasks[pid]
	d.mu.RUnlock()
	if !ok {
		return false
	}
	return d.adapter.Yield(cpu, task)
}

// Fork implements the fork hook (§4.6) for a new thread childPID
// created by callerPID.
func (d *Daemon) Fork(callerPID, childPID int, sameThreadGroup bool) (*runqueue.Entity, error) {
	d.mu.Lock()
	caller, ok := d.tasks[callerPID]
	if !ok {
		d.mu.Unlock()
		return nil, errNoSuchTask(callerPID)
	}
	var rec *process.Record
	if sameThreadGroup {
		rec, ok = d.processes[caller.TGIDVal]
		if !ok {
			d.mu.Unlock()
			return nil, errNoSuchTask(caller.TGIDVal)
		}
	}
	callerHints, ok := d.hints[callerPID]
	if !ok {
		callerHints = &clonehints.Store{}
		d.hints[callerPID] = callerHints
	}
	childHints := &clonehints.Store{}
	d.mu.Unlock()

	child, err := d.adapter.Fork(rec, caller, childPID, sameThreadGroup, callerHints, childHints)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.tasks[childPID] = child
	d.hints[childPID] = childHints
	d.mu.Unlock()
	return child, nil
}

// Process looks up a registered process record.
func (d *Daemon) Process(pid int) (*process.Record, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.processes[pid]
	return rec, ok
}

// Unregister drops pid's process record (process exit).
func (d *Daemon) Unregister(pid int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.processes, pid)
}

// Processes returns a stable-order snapshot of every registered pid.
func (d *Daemon) Processes() []*process.Record {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*process.Record, 0, len(d.processes))
	for _, rec := range d.processes {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// ApplyConfig validates and merges a boot/yod YAML document into pid's
// policy (§6, §7 ConfigInvalid). An unregistered pid updates the
// daemon-wide default policy applied to processes registered
// afterwards.
func (d *Daemon) ApplyConfig(pid int, yamlDoc []byte) error {
	doc, err := config.Parse(yamlDoc)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if pid == 0 {
		return config.Apply(doc, &d.defaultPolicy, d.tickMS)
	}
	rec, ok := d.processes[pid]
	if !ok {
		return config.Apply(doc, &d.defaultPolicy, d.tickMS)
	}
	return config.Apply(doc, &rec.Policy, d.tickMS)
}

func errNoSuchTask(pid int) error {
	return errs.New(errs.UserFault, fmt.Sprintf("no task registered for pid %d", pid))
}
