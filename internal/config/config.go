// Package config parses and validates the process-level configuration
// keys accepted from the boot/yod channel (§6): move-syscalls-disable,
// enable-rr, disable-setaffinity, stats level, util-threshold,
// overcommit-behaviour, and one-cpu-per-util. Documents arrive as YAML,
// parsed with sigs.k8s.io/yaml the way the boot/yod static config in
// the pack's k3s and nri-resmgr trees loads theirs.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/lwkcore/core/internal/errs"
	"github.com/lwkcore/core/internal/process"
)

// Document is the raw, not-yet-validated shape of a boot/yod config
// payload. Every field is optional; only keys present in the document
// are applied, leaving the rest of the policy at its prior value.
type Document struct {
	MoveSyscallsDisable *bool   `json:"move-syscalls-disable,omitempty"`
	EnableRR            *int    `json:"enable-rr,omitempty"` // milliseconds
	DisableSetaffinity  *int    `json:"disable-setaffinity,omitempty"`
	StatsLevel          *int    `json:"stats-level,omitempty"`
	UtilThreshold       *string `json:"util-threshold,omitempty"`
	OvercommitBehaviour *string `json:"overcommit-behaviour,omitempty"`
	OneCPUPerUtil       *bool   `json:"one-cpu-per-util,omitempty"`
}

// Parse decodes a YAML document into a Document. Malformed YAML is a
// ConfigInvalid error, matching §7's "user-supplied config string
// malformed" case.
func Parse(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, errs.New(errs.ConfigInvalid, "malformed config document: "+err.Error())
	}
	return doc, nil
}

// overcommitNames are the three enum values §6 accepts for
// overcommit-behaviour.
var overcommitNames = map[string]process.OvercommitBehaviour{
	"all-commits":  process.OvercommitAllCommits,
	"only-compute": process.OvercommitOnlyCompute,
	"only-utility": process.OvercommitOnlyUtility,
}

// Apply validates d's fields and merges them into pol in place.
// tickMS is the host's scheduling tick length, needed to convert
// enable-rr's millisecond timeslice into the tick count the Run Queue
// operates on; a value below one tick is rejected (§6: "rejected below
// one tick").
func Apply(d Document, pol *process.Policy, tickMS int) error {
	if d.MoveSyscallsDisable != nil {
		pol.MoveSyscallsDisable = *d.MoveSyscallsDisable
	}

	if d.EnableRR != nil {
		if tickMS <= 0 {
			return errs.New(errs.ConfigInvalid, "enable-rr: host tick length unknown")
		}
		ticks := *d.EnableRR / tickMS
		if ticks < 1 {
			return errs.New(errs.ConfigInvalid, fmt.Sprintf("enable-rr: %dms is below one scheduling tick (%dms)", *d.EnableRR, tickMS))
		}
		pol.EnableRR = ticks
	}

	if d.DisableSetaffinity != nil {
		if *d.DisableSetaffinity < 0 {
			return errs.New(errs.ConfigInvalid, "disable-setaffinity: errno must be >= 0")
		}
		pol.DisableSetaffinity = *d.DisableSetaffinity
	}

	if d.StatsLevel != nil {
		if *d.StatsLevel < 0 {
			return errs.New(errs.ConfigInvalid, "stats level: must be >= 0")
		}
		pol.StatsLevel = *d.StatsLevel
	}

	if d.UtilThreshold != nil {
		maxCPUs, maxPerCPU, err := parseUtilThreshold(*d.UtilThreshold)
		if err != nil {
			return err
		}
		pol.MaxCPUsForUtil = maxCPUs
		pol.MaxUtilThreadsPerCPU = maxPerCPU
	}

	if d.OvercommitBehaviour != nil {
		b, ok := overcommitNames[*d.OvercommitBehaviour]
		if !ok {
			return errs.New(errs.ConfigInvalid, fmt.Sprintf("overcommit-behaviour: unrecognised value %q", *d.OvercommitBehaviour))
		}
		pol.OvercommitBehaviour = b
	}

	if d.OneCPUPerUtil != nil {
		if *d.OneCPUPerUtil {
			pol.AllowedCPUsPerUtil = process.AllowedOne
		} else {
			pol.AllowedCPUsPerUtil = process.AllowedMultiple
		}
	}

	return nil
}

// overcommitValues inverts overcommitNames for Render.
var overcommitValues = map[process.OvercommitBehaviour]string{
	process.OvercommitAllCommits:  "all-commits",
	process.OvercommitOnlyCompute: "only-compute",
	process.OvercommitOnlyUtility: "only-utility",
}

// Render produces the effective-policy YAML document for pol, the
// inverse of Parse+Apply, for the config-readback call (§6). tickMS
// converts the policy's tick-denominated EnableRR back into
// milliseconds so the rendered document round-trips through Apply.
func Render(pol process.Policy, tickMS int) ([]byte, error) {
	enableRR := pol.EnableRR * tickMS
	doc := Document{
		MoveSyscallsDisable: &pol.MoveSyscallsDisable,
		EnableRR:            &enableRR,
		DisableSetaffinity:  &pol.DisableSetaffinity,
		StatsLevel:          &pol.StatsLevel,
		UtilThreshold:       boolToThreshold(pol.MaxCPUsForUtil, pol.MaxUtilThreadsPerCPU),
		OvercommitBehaviour: boolToOvercommit(pol.OvercommitBehaviour),
		OneCPUPerUtil:       boolPtr(pol.AllowedCPUsPerUtil == process.AllowedOne),
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, errs.New(errs.ConfigInvalid, "rendering effective policy: "+err.Error())
	}
	return out, nil
}

func boolToThreshold(maxCPUs, maxPerCPU int) *string {
	s := fmt.Sprintf("%d:%d", maxCPUs, maxPerCPU)
	return &s
}

func boolToOvercommit(b process.OvercommitBehaviour) *string {
	name, ok := overcommitValues[b]
	if !ok {
		name = "all-commits"
	}
	return &name
}

func boolPtr(b bool) *bool { return &b }

// parseUtilThreshold decodes the "max_cpus:max_per_cpu" form (§6).
func parseUtilThreshold(s string) (maxCPUs, maxPerCPU int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, errs.New(errs.ConfigInvalid, fmt.Sprintf("util-threshold: expected \"max_cpus:max_per_cpu\", got %q", s))
	}
	maxCPUs, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	maxPerCPU, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || maxCPUs < 0 || maxPerCPU < 0 {
		return 0, 0, errs.New(errs.ConfigInvalid, fmt.Sprintf("util-threshold: non-negative integers required, got %q", s))
	}
	return maxCPUs, maxPerCPU, nil
}
