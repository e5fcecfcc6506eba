// Package topology holds the immutable per-CPU topology facts the rest
// of the core reads but never mutates. The facts are supplied from
// outside (a fixture file, or hostif.TopologyQuery) rather than
// discovered here (§1: topology discovery is out of scope for the core
// itself; it is supplied as facts).
package topology

import (
	"fmt"
	"sort"

	"github.com/go-logr/logr"
	k8scpuset "k8s.io/utils/cpuset"
	"sigs.k8s.io/yaml"
)

// CPUID identifies one present CPU by its host-assigned number.
type CPUID int

// Desc is the immutable topology record for one present CPU (§3: CPU
// Descriptor's topology fields). It never changes after it is loaded;
// `IsLWK` is the single mutable piece of per-CPU state the Idle Driver
// observes, and it lives in the idle package's Driver, not here.
type Desc struct {
	CPU          CPUID
	NUMAID       int
	CoreID       int
	L1CacheID    int
	L2CacheID    int
	L3CacheID    int
	ThreadIndex  int // hyperthread/SMT sibling index within CoreID
}

// Facts is the full per-CPU topology table, keyed by CPU id.
type Facts struct {
	byID map[CPUID]Desc
	all  []CPUID // stable iteration order, ascending CPU id
}

// NewFacts builds a Facts table from a descriptor slice, validating
// that CPU ids are unique.
func NewFacts(descs []Desc) (*Facts, error) {
	f := &Facts{byID: make(map[CPUID]Desc, len(descs))}
	for _, d := range descs {
		if _, dup := f.byID[d.CPU]; dup {
			return nil, fmt.Errorf("topology: duplicate CPU id %d", d.CPU)
		}
		f.byID[d.CPU] = d
		f.all = append(f.all, d.CPU)
	}
	sort.Slice(f.all, func(i, j int) bool { return f.all[i] < f.all[j] })
	return f, nil
}

func (f *Facts) Lookup(cpu CPUID) (Desc, bool) {
	d, ok := f.byID[cpu]
	return d, ok
}

func (f *Facts) All() []CPUID {
	out := make([]CPUID, len(f.all))
	copy(out, f.all)
	return out
}

func (f *Facts) Len() int { return len(f.all) }

// AsCPUSet converts a slice of CPU ids into a k8s.io/utils/cpuset.CPUSet,
// the set-algebra type used throughout internal/process for LWK/utility
// CPU-set bookkeeping.
func AsCPUSet(ids []CPUID) k8scpuset.CPUSet {
	ints := make([]int, len(ids))
	for i, id := range ids {
		ints[i] = int(id)
	}
	return k8scpuset.New(ints...)
}

// fixtureDoc is the on-disk shape for a YAML topology fixture, standing
// in for a live topology probe in the harness (§1/§9: topology
// discovery is an external collaborator; its facts are fed in).
type fixtureDoc struct {
	CPUs []struct {
		CPU         int `json:"cpu"`
		NUMA        int `json:"numa"`
		Core        int `json:"core"`
		L1          int `json:"l1"`
		L2          int `json:"l2"`
		L3          int `json:"l3"`
		ThreadIndex int `json:"threadIndex"`
	} `json:"cpus"`
}

// LoadFixture parses a YAML topology document into Facts. Used by the
// daemon at startup and by tests in place of a live topology probe.
func LoadFixture(doc []byte, log logr.Logger) (*Facts, error) {
	var parsed fixtureDoc
	if err := yaml.Unmarshal(doc, &parsed); err != nil {
		return nil, fmt.Errorf("topology: parsing fixture: %w", err)
	}
	descs := make([]Desc, 0, len(parsed.CPUs))
	for _, c := range parsed.CPUs {
		descs = append(descs, Desc{
			CPU:         CPUID(c.CPU),
			NUMAID:      c.NUMA,
			CoreID:      c.Core,
			L1CacheID:   c.L1,
			L2CacheID:   c.L2,
			L3CacheID:   c.L3,
			ThreadIndex: c.ThreadIndex,
		})
	}
	log.V(1).Info("loaded topology fixture", "cpus", len(descs))
	return NewFacts(descs)
}
