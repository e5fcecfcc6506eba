// Package uapi defines the user-space-facing "set clone attributes"
// record (§6) in a wire-friendly shape: plain value types only, so it
// gob-encodes cleanly across the daemon/client unix-socket boundary
// without needing to teach encoding/gob about k8s.io/utils/cpuset's
// internal representation.
package uapi

import (
	k8scpuset "k8s.io/utils/cpuset"

	"github.com/lwkcore/core/internal/clonehints"
	"github.com/lwkcore/core/internal/errs"
)

// Flags mirrors clonehints.Flags on the wire.
type Flags = clonehints.Flags

// Behaviour mirrors clonehints.Behaviour on the wire.
type Behaviour = clonehints.Behaviour

// Placement mirrors clonehints.Placement on the wire.
type Placement = clonehints.Placement

const (
	FlagClear = clonehints.FlagClear

	BehaviourExclusive = clonehints.BehaviourExclusive
	BehaviourHighPrio  = clonehints.BehaviourHighPrio
	BehaviourLowPrio   = clonehints.BehaviourLowPrio
	BehaviourNonCoop   = clonehints.BehaviourNonCoop
	BehaviourUtility   = clonehints.BehaviourUtility

	PlacementSameL1          = clonehints.PlacementSameL1
	PlacementSameL2          = clonehints.PlacementSameL2
	PlacementSameL3          = clonehints.PlacementSameL3
	PlacementSameNUMA        = clonehints.PlacementSameNUMA
	PlacementDiffEachOfSame  = clonehints.PlacementDiffEachOfSame
	PlacementLWKOnly         = clonehints.PlacementLWKOnly
	PlacementHostOnly        = clonehints.PlacementHostOnly
	PlacementUseNodeSet      = clonehints.PlacementUseNodeSet
	PlacementFabricInterrupt = clonehints.PlacementFabricInterrupt
)

// CloneAttr is the "set clone attributes" call's argument record
// (§6): {size, flags, behaviour bits, placement bits, optional result
// pointer} plus a node bitmap and an optional grouping key. Size is
// carried explicitly so a version mismatch between an older client and
// a newer daemon is caught as UserFault rather than silently
// misinterpreting trailing fields.
type CloneAttr struct {
	Size      int
	Flags     Flags
	Behaviour Behaviour
	Placement Placement
	Nodes      []int   // NUMA node ids; only meaningful with PlacementUseNodeSet
	Key        *uint64 // opaque grouping key; nil if absent
	WantResult bool    // caller wants a result code back
}

// WireSize is the only CloneAttr.Size value this daemon accepts.
// Bumped whenever the record's shape changes.
const WireSize = 1

// Result is returned to the client after staging; Code mirrors
// clonehints.ResultCode.
type Result struct {
	Code clonehints.ResultCode
}

// ToRecord validates and converts a wire CloneAttr into an internal
// clonehints.Record. A size mismatch is reported as UserFault (§6:
// "fault for bad user-space addresses"); conflicting bits and node-set
// problems surface as the AttrConflict errors clonehints.Validate
// already produces.
func ToRecord(a CloneAttr) (clonehints.Record, error) {
	if a.Size != WireSize {
		return clonehints.Record{}, errs.New(errs.UserFault, "clone attr record size mismatch")
	}

	var nodes k8scpuset.CPUSet
	if len(a.Nodes) > 0 {
		nodes = k8scpuset.New(a.Nodes...)
	}

	var result *clonehints.ResultCell
	if a.WantResult {
		result = &clonehints.ResultCell{}
	}

	r := clonehints.Record{
		Flags:     a.Flags,
		Behaviour: a.Behaviour,
		Placement: a.Placement,
		Nodes:     nodes,
		Key:       a.Key,
		Result:    result,
	}
	if r.Flags&FlagClear == 0 {
		if err := clonehints.Validate(r); err != nil {
			return clonehints.Record{}, err
		}
	}
	return r, nil
}

// FromResult converts a staged record's writeback cell into a wire
// Result. A nil cell (no writeback requested) reports ResultRequested
// as a harmless default.
func FromResult(cell *clonehints.ResultCell) Result {
	if cell == nil {
		return Result{Code: clonehints.ResultRequested}
	}
	return Result{Code: cell.Code}
}

// YieldRequest carries the yielding thread's identity; YieldReply
// reports whether a reschedule was needed, matching the yield call's
// "returns 0 immediately ... otherwise rotates to tail and reschedules"
// semantics (§6) — Rescheduled false is the zero/immediate-return case.
type YieldRequest struct {
	PID int
}

type YieldReply struct {
	Rescheduled bool
}
