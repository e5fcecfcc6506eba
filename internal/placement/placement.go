// Package placement implements the Placement Engine (§4.3): compute-
// and utility-thread clone-time placement, topology matching and
// relaxation, exclusive reservation, and push-to-host rebalancing.
package placement

import (
	"context"
	"math"
	"sort"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"golang.org/x/sync/semaphore"

	"github.com/lwkcore/core/internal/clonehints"
	"github.com/lwkcore/core/internal/commit"
	"github.com/lwkcore/core/internal/errs"
	"github.com/lwkcore/core/internal/hostif"
	"github.com/lwkcore/core/internal/process"
	"github.com/lwkcore/core/internal/runqueue"
	"github.com/lwkcore/core/internal/stats"
	"github.com/lwkcore/core/internal/topology"
	"github.com/lwkcore/core/internal/utilgroup"
)

// CommitMax is the sentinel "no cap" commit-limit (§8 scenario S2:
// "commit-limit = COMMIT_MAX").
const CommitMax = math.MaxInt32

// maxUtilityRetries bounds the utility-placement retry loop (§4.3,
// §5, §8 P5): "Bounded retry (≤ 100 iterations)."
const maxUtilityRetries = 100

// counterScanGuard bounds the One sub-mode's commitment-level scan
// (§4.3 step 3) so a pathological counter state cannot spin forever.
const counterScanGuard = 64

// Engine is the Placement Engine. It reads Topology Facts and Commit
// Accounting and writes back commits, allowed-CPU sets and (via
// HostScheduler) transfers to the host.
type Engine struct {
	facts     *topology.Facts
	commits   *commit.Accounting
	runqueues map[int]*runqueue.RunQueue
	host      hostif.HostScheduler
	tracer    hostif.TraceEmitter
	stats     *stats.Registry
	log       logr.Logger

	// utilSem bounds concurrent in-flight utility-placement searches
	// so the bounded retry loop never spins on a contended resource
	// (§5).
	utilSem *semaphore.Weighted
}

func NewEngine(facts *topology.Facts, commits *commit.Accounting, rqs map[int]*runqueue.RunQueue, host hostif.HostScheduler, tracer hostif.TraceEmitter, st *stats.Registry, log logr.Logger) *Engine {
	if tracer == nil {
		tracer = hostif.NopTracer{}
	}
	return &Engine{
		facts:     facts,
		commits:   commits,
		runqueues: rqs,
		host:      host,
		tracer:    tracer,
		stats:     st,
		log:       log,
		utilSem:   semaphore.NewWeighted(int64(facts.Len())),
	}
}

func (e *Engine) countsFor(b process.OvercommitBehaviour, compute, utility int64) (c, u int64) {
	switch b {
	case process.OvercommitOnlyCompute:
		return compute, 0
	case process.OvercommitOnlyUtility:
		return 0, utility
	default:
		return compute, utility
	}
}

// isUncommitted reports whether cpu counts as fully free under proc's
// overcommit policy (§4.3 push-rebalance trigger: "no uncompletely-
// uncommitted LWK CPU exists").
func (e *Engine) isUncommitted(proc *process.Record, cpu int) bool {
	c, u := e.commits.ReadCommits(cpu)
	rc, ru := e.countsFor(proc.Policy.OvercommitBehaviour, c, u)
	return rc == 0 && ru == 0
}

// sequence returns proc's LWK CPU sequence, reversed if reverse is
// set (§4.3: "ReverseSearch flag reverses the walk").
func sequence(proc *process.Record, reverse bool) []int {
	seq := make([]int, len(proc.LWKSequence))
	copy(seq, proc.LWKSequence)
	if reverse {
		for i, j := 0, len(seq)-1; i < j; i, j = i+1, j-1 {
			seq[i], seq[j] = seq[j], seq[i]
		}
	}
	return seq
}

// candidateOK reports whether cpu may be considered at all: it must
// not be exclusively owned by a different pid, and its counted total
// must stay under limit (a limit of 0 or less means no cap).
func (e *Engine) candidateOK(proc *process.Record, task *runqueue.Entity, cpu, limit int) (ok bool, countedTotal int64) {
	owner := e.commits.ExclusiveOwner(cpu)
	if owner != 0 && owner != task.PID() {
		return false, 0
	}
	c, u := e.commits.ReadCommits(cpu)
	rc, ru := e.countsFor(proc.Policy.OvercommitBehaviour, c, u)
	total := rc + ru
	if limit > 0 && total >= int64(limit) {
		return false, 0
	}
	return true, total
}

// SelectCPUCandidate implements §4.3 compute-thread placement,
// including the main-thread-home optimisation. reverse reverses the
// sequence walk; exclusivePID, if non-zero, requests an atomic
// exclusive reservation on the winning CPU; a CPU whose reservation
// fails is skipped and the next-best candidate is tried, and the call
// reports failure only when no candidate can be reserved.
func (e *Engine) SelectCPUCandidate(proc *process.Record, task *runqueue.Entity, limit int, reverse bool, exclusivePID int) (int, bool) {
	if task.PIDVal == task.TGIDVal && len(proc.LWKSequence) > 0 {
		first := proc.LWKSequence[0]
		if proc.LWKCPUSet.Contains(first) {
			if c, _ := e.commits.ReadCommits(first); c == 0 {
				if exclusivePID == 0 || e.commits.TryExclusive(first, exclusivePID) {
					return first, true
				}
			}
		}
	}

	seq := sequence(proc, reverse)
	for len(seq) > 0 {
		best, ok := e.tierAndPick(proc, task, seq, limit)
		if !ok {
			return 0, false
		}
		if exclusivePID == 0 || e.commits.TryExclusive(best, exclusivePID) {
			return best, true
		}
		// Reservation lost the race: skip this CPU and try the next candidate.
		seq = lo.Without(seq, best)
	}
	return 0, false
}

// tierAndPick implements the compute-placement preference order
// (§4.3): an entirely uncommitted CPU beats one uncommitted-by-compute
// (sharing only with utility), beats the least-committed CPU, with
// ties broken by cands' own order — callers supply cands pre-ordered
// per the process's LWK CPU sequence (or its reverse).
func (e *Engine) tierAndPick(proc *process.Record, task *runqueue.Entity, cands []int, limit int) (int, bool) {
	type scored struct {
		cpu   int
		tier  int
		score int64
		order int
	}
	var out []scored
	for i, cpu := range cands {
		ok, total := e.candidateOK(proc, task, cpu, limit)
		if !ok {
			continue
		}
		c, u := e.commits.ReadCommits(cpu)
		rcC, ruC := e.countsFor(proc.Policy.OvercommitBehaviour, c, u)
		tier := 2
		switch {
		case rcC == 0 && ruC == 0:
			tier = 0
		case rcC == 0:
			tier = 1
		}
		out = append(out, scored{cpu: cpu, tier: tier, score: total, order: i})
	}
	if len(out) == 0 {
		return 0, false
	}
	best := lo.MinBy(out, func(a, b scored) bool {
		if a.tier != b.tier {
			return a.tier < b.tier
		}
		if a.score != b.score {
			return a.score < b.score
		}
		return a.order < b.order
	})
	return best.cpu, true
}

// rotateToAnchor reorders seq to start at anchor's position, wrapping
// the CPUs before it to the end, so a topology search walks outward
// from the calling thread's own CPU first (§4.3 step 3: the anchor
// CPU is tried before the rest of the sequence).
func rotateToAnchor(seq []int, anchor int) []int {
	idx := -1
	for i, cpu := range seq {
		if cpu == anchor {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return seq
	}
	out := make([]int, 0, len(seq))
	out = append(out, seq[idx:]...)
	out = append(out, seq[:idx]...)
	return out
}

// orderBySequence stably sorts cands by their position in seq, placing
// any CPU absent from seq after every listed CPU (§4.3: "Ties broken
// by sequence order").
func orderBySequence(seq []int, cands []int) []int {
	pos := make(map[int]int, len(seq))
	for i, cpu := range seq {
		pos[cpu] = i
	}
	out := make([]int, len(cands))
	copy(out, cands)
	sort.SliceStable(out, func(i, j int) bool {
		pi, oki := pos[out[i]]
		pj, okj := pos[out[j]]
		if !oki {
			pi = len(seq)
		}
		if !okj {
			pj = len(seq)
		}
		return pi < pj
	})
	return out
}

// requestFromPlacement derives the (match_type, id[, node_set]) topology
// request from a Clone Hints record's placement bits (§4.3 step 2).
// anchorKnown is false only for the first member of a fresh utility
// group, whose anchor CPU is not yet decided (it is whichever CPU this
// very call resolves to); that case falls back to FirstAvailable
// rather than consulting a meaningless anchorCPU. The discovered CPU
// becomes the anchor for every later request with the same grouping
// key.
func requestFromPlacement(facts *topology.Facts, hints clonehints.Record, anchorCPU int, anchorKnown bool) topology.Request {
	if hints.Placement&clonehints.PlacementUseNodeSet != 0 {
		return topology.Request{Type: topology.InNodeSet, Nodes: hints.Nodes}
	}
	if !anchorKnown {
		return topology.Request{Type: topology.FirstAvailable}
	}
	d, ok := facts.Lookup(topology.CPUID(anchorCPU))
	if !ok {
		return topology.Request{Type: topology.FirstAvailable}
	}
	switch {
	case hints.Placement&clonehints.PlacementSameL1 != 0:
		return topology.Request{Type: topology.SameL1, ID: d.L1CacheID}
	case hints.Placement&clonehints.PlacementSameL2 != 0:
		return topology.Request{Type: topology.SameL2, ID: d.L2CacheID}
	case hints.Placement&clonehints.PlacementSameL3 != 0:
		return topology.Request{Type: topology.SameL3, ID: d.L3CacheID}
	case hints.Placement&clonehints.PlacementSameNUMA != 0:
		return topology.Request{Type: topology.SameNUMA, ID: d.NUMAID}
	case hints.Placement&clonehints.PlacementDiffEachOfSame != 0:
		// "each distinct core" reduces to preferring a CPU outside the
		// anchor's own core, the nearest thing the relaxation ladder
		// expresses to spreading utility threads one-per-core.
		return topology.Request{Type: topology.OtherCore, ID: d.CoreID}
	default:
		return topology.Request{Type: topology.FirstAvailable}
	}
}

// PlaceUtility implements §4.3 steps 1-4: utility-group anchor
// resolution, topology-request derivation, the bounded relaxation
// retry loop, and the final commit plus moveable-utility-list linkage.
func (e *Engine) PlaceUtility(proc *process.Record, task *runqueue.Entity, hints clonehints.Record, fallbackAnchor int) (int, error) {
	var pending *utilgroup.Reservation
	anchorCPU := fallbackAnchor
	anchorKnown := true
	if hints.Key != nil {
		existing, found, p := proc.UtilGroups.Reserve(*hints.Key)
		switch {
		case found:
			anchorCPU = existing.Anchor
		case p != nil:
			pending = p
			anchorKnown = false
		default:
			// Registry full: degrade to the fallback anchor (§7,
			// AllocFail-style: state is left unchanged, search proceeds
			// unconstrained by group membership).
		}
	}

	hostOnly := hints.Placement&clonehints.PlacementHostOnly != 0
	lwkOnly := hints.Placement&clonehints.PlacementLWKOnly != 0
	exclusive := hints.Behaviour&clonehints.BehaviourExclusive != 0
	req := requestFromPlacement(e.facts, hints, anchorCPU, anchorKnown)

	// Exclusive requests force commit-limit = 1: candidateOK rejects
	// any CPU whose counted total is already >= limit, so a limit of 1
	// admits only a CPU carrying zero commits, matched below by
	// filterExclusiveFree's stricter "nothing at all, not even another
	// exclusive owner" check (§4.3 step 2). Otherwise the commit-limit
	// starts at the configured per-CPU cap (0 meaning uncapped) and may
	// be raised one at a time in the loop below.
	limit := proc.Policy.MaxUtilThreadsPerCPU
	if exclusive {
		limit = 1
	}

	var chosen []int
	var onLWK bool
	for attempt := 0; attempt < maxUtilityRetries; attempt++ {
		if err := e.utilSem.Acquire(context.Background(), 1); err != nil {
			if pending != nil {
				pending.Abort()
			}
			return 0, errs.New(errs.AllocFail, "utility placement search interrupted: "+err.Error())
		}

		var lwkCands, hostCands []int
		if !hostOnly {
			matched := e.matchingIn(proc.LWKCPUSet.List(), req)
			if exclusive {
				matched = e.filterExclusiveFree(matched)
			}
			seq := rotateToAnchor(proc.LWKSequence, anchorCPU)
			if best, ok := e.tierAndPick(proc, task, orderBySequence(seq, matched), limit); ok {
				lwkCands = []int{best}
			}
		}
		if len(lwkCands) == 0 && !lwkOnly {
			hostCands = e.matchingIn(proc.SharedUtilSet.List(), req)
		}
		e.utilSem.Release(1)

		if len(lwkCands) > 0 {
			chosen, onLWK = lwkCands, true
			break
		}
		if len(hostCands) > 0 {
			chosen, onLWK = hostCands, false
			break
		}
		if req.Type == topology.FirstAvailable && lwkOnly && !exclusive &&
			(proc.Policy.MaxUtilThreadsPerCPU <= 0 || limit < proc.Policy.MaxUtilThreadsPerCPU) {
			limit++
			continue
		}
		anchorDesc, _ := e.facts.Lookup(topology.CPUID(anchorCPU))
		next, more := topology.Relax(req, anchorDesc)
		if !more {
			break
		}
		req = next
	}

	if len(chosen) == 0 {
		if pending != nil {
			pending.Abort()
		}
		if hints.Result != nil {
			hints.Result.Code = clonehints.ResultRejected
		}
		task.AcceptedHints = runqueue.OutcomeRejected
		return 0, errs.New(errs.PlacementUnsatisfiable, "no CPU satisfies utility placement even after full relaxation")
	}

	// The Multiple/One sub-mode choice only governs the host-CPU-set
	// search (§4.3 step 3); the LWK branch above already narrowed to
	// its single best candidate via compute-style tiering.
	if !onLWK {
		switch proc.Policy.AllowedCPUsPerUtil {
		case process.AllowedOne:
			chosen = e.oneCPUPerUtilPick(chosen)
		default:
			chosen = e.tightenToSharedAttribute(chosen)
			if proc.Policy.MaxCPUsForUtil > 0 && len(chosen) > proc.Policy.MaxCPUsForUtil {
				// §9 open question (a): truncate to the configured cap
				// rather than reject outright.
				chosen = chosen[:proc.Policy.MaxCPUsForUtil]
			}
		}
	}

	home := chosen[0]
	if exclusive && onLWK {
		if !e.commits.TryExclusive(home, task.PID()) {
			if pending != nil {
				pending.Abort()
			}
			return 0, errs.New(errs.PlacementUnsatisfiable, "exclusive reservation lost the race for the chosen CPU")
		}
	}
	if pending != nil {
		pending.Populate(home)
	}

	if onLWK {
		if hints.Placement&clonehints.PlacementUseNodeSet != 0 {
			task.PushNodeSet = hints.Nodes
			task.HasPushNodeSet = true
		} else {
			task.HasPushNodeSet = false
		}
		if err := e.AdjustUtilBehaviour(task, hints.Behaviour); err != nil {
			e.log.Error(err, "utility placement: behaviour adjustment failed", "pid", task.PIDVal)
		}
		e.commits.Commit(task, home)
		if !exclusive && !hints.HasExplicitPlacement() {
			proc.PushMoveable(task)
		}
		if rq, ok := e.runqueues[home]; ok {
			rq.Enqueue(task, false)
		}
		if err := e.host.SetCPUsAllowed(task, chosen); err != nil {
			e.log.Error(err, "set_cpus_allowed failed after utility placement", "pid", task.PIDVal)
		}
	} else {
		// A host CPU was selected: transfer the task to the host
		// scheduler outright (§4.3 step 3, §4.4).
		if err := e.host.SetCPUsAllowed(task, chosen); err != nil {
			e.log.Error(err, "set_cpus_allowed failed ahead of host transfer", "pid", task.PIDVal)
		}
		if err := e.MoveToHostScheduler(task, hints.Behaviour); err != nil {
			e.log.Error(err, "utility placement: transfer to host scheduler failed", "pid", task.PIDVal)
		}
	}

	task.AcceptedHints = runqueue.OutcomeAccepted
	if hints.Result != nil {
		hints.Result.Code = clonehints.ResultAccepted
	}
	e.tracer.Emit("utility_placed", map[string]any{"pid": task.PIDVal, "cpu": home, "on_lwk": onLWK, "candidates": len(chosen)})
	return home, nil
}

// matchingIn is matchingCPUs restricted to an explicit candidate pool,
// used to search the LWK set and the shared-utility (host) set as two
// independent phases (§4.3 step 3).
func (e *Engine) matchingIn(pool []int, req topology.Request) []int {
	var out []int
	for _, cpu := range pool {
		if e.facts.Satisfies(req, topology.CPUID(cpu)) {
			out = append(out, cpu)
		}
	}
	return out
}

// filterExclusiveFree drops any CPU already carrying a commit or an
// exclusive owner, since an exclusive reservation demands a CPU with
// nothing else on it yet.
func (e *Engine) filterExclusiveFree(cands []int) []int {
	out := make([]int, 0, len(cands))
	for _, cpu := range cands {
		c, u := e.commits.ReadCommits(cpu)
		if c == 0 && u == 0 && e.commits.ExclusiveOwner(cpu) == 0 {
			out = append(out, cpu)
		}
	}
	return out
}

// tightenToSharedAttribute implements the Multiple sub-mode's "wide
// affinity, then tighten" rule (§4.3 step 3): the first match is kept,
// and any further CPU is kept only if it shares a topology attribute
// with it — here, the same L1 cache domain, the tightest attribute two
// arbitrary matched CPUs are likely to share.
func (e *Engine) tightenToSharedAttribute(cands []int) []int {
	if len(cands) <= 1 {
		return cands
	}
	first, ok := e.facts.Lookup(topology.CPUID(cands[0]))
	if !ok {
		return cands[:1]
	}
	out := []int{cands[0]}
	for _, cpu := range cands[1:] {
		if d, ok := e.facts.Lookup(topology.CPUID(cpu)); ok && d.L1CacheID == first.L1CacheID {
			out = append(out, cpu)
		}
	}
	return out
}

// oneCPUPerUtilPick implements the One sub-mode (§4.3 step 3): scan
// commitment levels 0..∞ and return the first CPU whose utility-commits
// equals the current level.
func (e *Engine) oneCPUPerUtilPick(cands []int) []int {
	sorted := lo.Uniq(cands)
	for level := int64(0); ; level++ {
		for _, cpu := range sorted {
			if _, u := e.commits.ReadCommits(cpu); u == level {
				return []int{cpu}
			}
		}
		if level > int64(len(sorted))+counterScanGuard {
			// No CPU will ever match an ever-increasing level once
			// every candidate's utility-commits has been passed; fall
			// back to the first candidate rather than loop forever.
			return sorted[:1]
		}
	}
}

// needsPushRebalance reports whether every LWK CPU in proc's set already
// carries some commit, the push-rebalance trigger condition (§4.3: "no
// uncommitted LWK CPU exists").
func (e *Engine) needsPushRebalance(proc *process.Record) bool {
	for _, cpu := range proc.LWKCPUSet.List() {
		if e.isUncommitted(proc, cpu) {
			return false
		}
	}
	return true
}

// pushDestination picks the host CPU set a pushed utility thread is
// handed off onto (§4.3 push-rebalance: "honouring a NodeSet hint if
// present, else FirstAvailable with the same relaxation ladder"). Per
// §9 open question (b), only the NodeSet hint is re-consulted at push
// time — any other placement hint from the original clone is moot once
// the thread is leaving the LWK CPU set entirely.
func (e *Engine) pushDestination(proc *process.Record, task *runqueue.Entity) []int {
	req := topology.Request{Type: topology.FirstAvailable}
	if task.HasPushNodeSet {
		req = topology.Request{Type: topology.InNodeSet, Nodes: task.PushNodeSet}
	}
	pool := proc.SharedUtilSet.List()
	for {
		if matched := e.matchingIn(pool, req); len(matched) > 0 {
			return matched
		}
		// InNodeSet and FirstAvailable both relax straight to
		// FirstAvailable without consulting any cache-level id, so no
		// real anchor descriptor is needed here.
		next, more := topology.Relax(req, topology.Desc{})
		if !more {
			break
		}
		req = next
	}
	return pool
}

// PushRebalance gives moveable utility threads back to the host's fair
// class, freeing their LWK commits, while no LWK CPU in proc's set is
// uncommitted and the moveable list is non-empty (§4.3 push-to-host
// rebalancing: "stop when either an LWK CPU becomes uncommitted or the
// list empties"). A single pop can leave every LWK CPU still committed
// when a CPU carries more than one utility commit (legal whenever
// max_util_threads_per_cpu > 1), so the loop re-checks the trigger
// after every pop rather than assuming one task is always enough.
func (e *Engine) PushRebalance(proc *process.Record) error {
	var errAgg *multierror.Error
	for e.needsPushRebalance(proc) {
		task, ok := proc.PopMoveableHead()
		if !ok {
			break
		}

		old := task.HomeCPU()
		if rq, ok := e.runqueues[old]; ok {
			rq.Dequeue(task)
		}
		e.commits.Uncommit(task)

		dest := e.pushDestination(proc, task)
		if len(dest) > 0 {
			e.commits.Commit(task, dest[0])
		}

		if err := e.host.SetCPUsAllowed(task, dest); err != nil {
			errAgg = multierror.Append(errAgg, err)
		}
		if err := e.host.TransferToFair(task, 0); err != nil {
			errAgg = multierror.Append(errAgg, err)
		}
		if e.stats != nil {
			if st := e.stats.CPU(old); st != nil {
				st.PushCount.Add(1)
			}
		}
		e.tracer.Emit("push_rebalance", map[string]any{"pid": task.PIDVal, "from_cpu": old})
	}
	return errAgg.ErrorOrNil()
}
