// Package clonehints implements the Clone-Hint Channel (§3, §6): the
// per-caller staging record describing the next thread creation's
// desired placement and behaviour, set by the "set clone attributes"
// call and consumed exactly once by fork.
package clonehints

import (
	"math/bits"

	k8scpuset "k8s.io/utils/cpuset"

	"github.com/lwkcore/core/internal/errs"
)

// Flags is the general-purpose flags word. Only Clear is defined; the
// rest are reserved for future behaviour not named by the
// specification.
type Flags uint32

const (
	FlagClear Flags = 1 << iota
)

// Behaviour is the behaviour-word bitmask.
type Behaviour uint32

const (
	BehaviourExclusive Behaviour = 1 << iota
	BehaviourHighPrio
	BehaviourLowPrio
	BehaviourNonCoop
	BehaviourUtility
)

// Placement is the placement-word bitmask (§3). At most one
// topology-selecting bit and at most one of {LWKOnly, HostOnly} may be
// set; Validate enforces this.
type Placement uint32

const (
	PlacementSameL1 Placement = 1 << iota
	PlacementSameL2
	PlacementSameL3
	PlacementSameNUMA
	PlacementDiffEachOfSame
	PlacementLWKOnly
	PlacementHostOnly
	PlacementUseNodeSet
	PlacementFabricInterrupt
)

// topologySelectors is the set of bits that choose a topology match
// strategy; at most one may be set (§6: "no conflicting placement
// bits").
const topologySelectors = PlacementSameL1 | PlacementSameL2 | PlacementSameL3 |
	PlacementSameNUMA | PlacementDiffEachOfSame | PlacementUseNodeSet | PlacementFabricInterrupt

// relativeTopologySelectors is topologySelectors minus PlacementUseNodeSet:
// the bits that pick a placement *relative to* an anchor CPU, as
// opposed to naming an absolute CPU mask. §4.3 step 4 gates
// moveable-utility-list linkage on "no explicit placement"; NodeSet is
// excluded from that gate so a NodeSet-placed utility thread still
// becomes push-rebalance-eligible, matching push-rebalance's own
// explicit carve-out for re-consulting NodeSet (§4.3, §9 open
// question (b)) — a rule that would otherwise never fire.
const relativeTopologySelectors = topologySelectors &^ PlacementUseNodeSet

// ResultCode is the accept/reject outcome written back into the
// staging record's optional result pointer (§4.3 step 4, §6).
type ResultCode int

const (
	ResultRequested ResultCode = iota
	ResultAccepted
	ResultRejected
)

// ResultCell is the optional result-writeback location named in the
// Clone Hints record. A nil *ResultCell means the caller supplied no
// writeback pointer.
type ResultCell struct {
	Code ResultCode
}

// Record is the staged Clone Hints for one caller (§3). It lives on
// the calling thread's task record and is consumed exactly once by
// fork, which replaces it with an empty Record (§4.6, §9).
type Record struct {
	Flags     Flags
	Behaviour Behaviour
	Placement Placement
	Nodes     k8scpuset.CPUSet // NUMA node ids, only meaningful with PlacementUseNodeSet
	Key       *uint64          // opaque grouping key; nil if absent
	Result    *ResultCell
}

// IsZero reports whether r is the empty/consumed record.
func (r Record) IsZero() bool {
	return r.Flags == 0 && r.Behaviour == 0 && r.Placement == 0 && r.Key == nil
}

// HasExplicitPlacement reports whether r names a specific topology
// match strategy, as opposed to requesting the default/FirstAvailable
// search (§4.3 step 4: "no explicit placement" gates moveable-list
// linkage).
func (r Record) HasExplicitPlacement() bool {
	return r.Placement&relativeTopologySelectors != 0
}

// Empty is the sentinel record fork installs after consuming hints
// (§4.6: "replaces with an empty" option).
var Empty = Record{}

// Validate enforces the "set clone attributes" semantics from §6:
// no conflicting placement bits, no HIGH+LOW together, no EXCL on
// host-only, node-set and key mutually exclusive, node-set requires a
// non-empty mask. Returns an *errs.Error with Kind AttrConflict on any
// violation.
func Validate(r Record) error {
	if bits.OnesCount32(uint32(r.Placement&topologySelectors)) > 1 {
		return errs.New(errs.AttrConflict, "more than one topology-selecting placement bit set")
	}
	if r.Placement&PlacementLWKOnly != 0 && r.Placement&PlacementHostOnly != 0 {
		return errs.New(errs.AttrConflict, "LWK-only and host-only are mutually exclusive")
	}
	if r.Behaviour&BehaviourHighPrio != 0 && r.Behaviour&BehaviourLowPrio != 0 {
		return errs.New(errs.AttrConflict, "HIGH_PRIO and LOW_PRIO cannot both be set")
	}
	if r.Behaviour&BehaviourExclusive != 0 && r.Placement&PlacementHostOnly != 0 {
		return errs.New(errs.AttrConflict, "EXCL is not allowed with host-only placement")
	}
	if r.Key != nil && r.Placement&PlacementUseNodeSet != 0 {
		return errs.New(errs.AttrConflict, "node-set and grouping key are mutually exclusive")
	}
	if r.Placement&PlacementUseNodeSet != 0 && r.Nodes.IsEmpty() {
		return errs.New(errs.AttrConflict, "use-node-set placement requires a non-empty node mask")
	}
	return nil
}

// Store is the per-task staging slot. It is intentionally unsynchronized:
// the specification models it as task-local state mutated only by the
// owning thread via the set-clone-attr syscall and consumed by that
// same thread's subsequent fork.
type Store struct {
	staged Record
	has    bool
}

// Stage validates and installs r, or clears staged hints if
// r.Flags&FlagClear is set.
func (s *Store) Stage(r Record) error {
	if r.Flags&FlagClear != 0 {
		s.staged = Empty
		s.has = false
		return nil
	}
	if err := Validate(r); err != nil {
		return err
	}
	if r.Result != nil {
		r.Result.Code = ResultRequested
	}
	s.staged = r
	s.has = true
	return nil
}

// Take consumes and clears the staged record (§4.6: "consumed exactly
// once by fork ... replaces it with empty").
func (s *Store) Take() Record {
	r := s.staged
	s.staged = Empty
	s.has = false
	return r
}

// Peek returns the staged record without consuming it, and whether
// anything is staged.
func (s *Store) Peek() (Record, bool) {
	return s.staged, s.has
}
