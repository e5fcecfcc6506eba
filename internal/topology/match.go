package topology

import k8scpuset "k8s.io/utils/cpuset"

// MatchType is one half of a topology match request (type, id) as
// described in §4.3.
type MatchType int

const (
	FirstAvailable MatchType = iota
	SameCore
	SameL1
	SameL2
	SameL3
	SameNUMA
	OtherCore
	OtherL1
	OtherL2
	OtherL3
	OtherNUMA
	InNodeSet
)

// Request is a topology match request: a type plus the reference id
// (ignored for FirstAvailable, a NUMA node set for InNodeSet).
type Request struct {
	Type    MatchType
	ID      int
	Nodes   k8scpuset.CPUSet // interpreted as a NUMA node-id set for InNodeSet
}

// Satisfies reports whether the candidate CPU's descriptor satisfies
// the match request.
func (f *Facts) Satisfies(req Request, cpu CPUID) bool {
	d, ok := f.byID[cpu]
	if !ok {
		return false
	}
	switch req.Type {
	case FirstAvailable:
		return true
	case SameCore:
		return d.CoreID == req.ID
	case SameL1:
		return d.L1CacheID == req.ID
	case SameL2:
		return d.L2CacheID == req.ID
	case SameL3:
		return d.L3CacheID == req.ID
	case SameNUMA:
		return d.NUMAID == req.ID
	case OtherCore:
		return d.CoreID != req.ID
	case OtherL1:
		return d.L1CacheID != req.ID
	case OtherL2:
		return d.L2CacheID != req.ID
	case OtherL3:
		return d.L3CacheID != req.ID
	case OtherNUMA:
		return d.NUMAID != req.ID
	case InNodeSet:
		return req.Nodes.Contains(d.NUMAID)
	default:
		return false
	}
}

// Relax widens a Same-X request to the next-larger cache domain and
// finally to FirstAvailable, or narrows an Other-X request through
// OtherL3 -> OtherL2 -> OtherL1 -> FirstAvailable, per §4.3's
// relaxation ladder. It returns the next request in the ladder and
// false once req was already FirstAvailable (fully relaxed).
//
// anchor is the calling thread's own CPU descriptor: each widened
// level's ID must be re-derived from anchor at that level (its L2
// cache id when widening to SameL2, its L3 cache id when widening to
// SameL3, and so on) rather than carried over from the narrower
// request — a SameL2 request compares against d.L2CacheID, so reusing
// a SameL1 request's L1 cache id there would compare the wrong field
// and match nothing but the coincidental case where the two ids agree.
// Terminal transitions (…→FirstAvailable, OtherCore/OtherL1→
// FirstAvailable, InNodeSet→FirstAvailable) ignore anchor entirely.
func Relax(req Request, anchor Desc) (Request, bool) {
	switch req.Type {
	case SameCore:
		return Request{Type: SameL1, ID: anchor.L1CacheID}, true
	case SameL1:
		return Request{Type: SameL2, ID: anchor.L2CacheID}, true
	case SameL2:
		return Request{Type: SameL3, ID: anchor.L3CacheID}, true
	case SameL3:
		return Request{Type: SameNUMA, ID: anchor.NUMAID}, true
	case SameNUMA:
		return Request{Type: FirstAvailable}, true
	case OtherNUMA:
		return Request{Type: OtherL3, ID: anchor.L3CacheID}, true
	case OtherL3:
		return Request{Type: OtherL2, ID: anchor.L2CacheID}, true
	case OtherL2:
		return Request{Type: OtherL1, ID: anchor.L1CacheID}, true
	case OtherL1, OtherCore:
		return Request{Type: FirstAvailable}, true
	case InNodeSet:
		return Request{Type: FirstAvailable}, true
	case FirstAvailable:
		return req, false
	default:
		return Request{Type: FirstAvailable}, true
	}
}
