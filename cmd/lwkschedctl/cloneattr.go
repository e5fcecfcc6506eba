package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/lwkcore/core/internal/wire"
	"github.com/lwkcore/core/pkg/uapi"
)

// runCloneAttr stages a "set clone attributes" record (§6) for -pid's
// next thread creation.
func runCloneAttr(c *Client, args []string) {
	fs := flag.NewFlagSet("clone-attr", flag.ExitOnError)
	pid := fs.Int("pid", 0, "calling thread's pid")
	clear := fs.Bool("clear", false, "wipe any staged hints instead of setting new ones")
	exclusive := fs.Bool("exclusive", false, "request exclusive CPU reservation")
	highPrio := fs.Bool("high-prio", false, "request the HIGH_PRIO behaviour")
	lowPrio := fs.Bool("low-prio", false, "request the LOW_PRIO behaviour")
	nonCoop := fs.Bool("non-coop", false, "request the NON_COOP behaviour")
	utility := fs.Bool("utility", false, "mark the next thread as a utility thread regardless of ordinal")
	sameL1 := fs.Bool("same-l1", false, "placement: same L1 cache domain as the caller")
	sameL2 := fs.Bool("same-l2", false, "placement: same L2 cache domain as the caller")
	sameL3 := fs.Bool("same-l3", false, "placement: same L3 cache domain as the caller")
	sameNUMA := fs.Bool("same-numa", false, "placement: same NUMA node as the caller")
	diffCore := fs.Bool("diff-core", false, "placement: a different core than the caller")
	lwkOnly := fs.Bool("lwk-only", false, "placement: restrict to LWK CPUs")
	hostOnly := fs.Bool("host-only", false, "placement: restrict to shared/host CPUs")
	nodes := fs.String("nodes", "", "comma-separated NUMA node ids (mutually exclusive with the same-* flags)")
	key := fs.Uint64("key", 0, "opaque grouping key shared across sibling threads (0 means absent)")
	wantResult := fs.Bool("result", false, "request the accept/reject result back")
	fs.Parse(args)

	attr := uapi.CloneAttr{Size: uapi.WireSize, WantResult: *wantResult}

	if *clear {
		attr.Flags |= uapi.FlagClear
	}
	if *exclusive {
		attr.Behaviour |= uapi.BehaviourExclusive
	}
	if *highPrio {
		attr.Behaviour |= uapi.BehaviourHighPrio
	}
	if *lowPrio {
		attr.Behaviour |= uapi.BehaviourLowPrio
	}
	if *nonCoop {
		attr.Behaviour |= uapi.BehaviourNonCoop
	}
	if *utility {
		attr.Behaviour |= uapi.BehaviourUtility
	}
	switch {
	case *sameL1:
		attr.Placement |= uapi.PlacementSameL1
	case *sameL2:
		attr.Placement |= uapi.PlacementSameL2
	case *sameL3:
		attr.Placement |= uapi.PlacementSameL3
	case *sameNUMA:
		attr.Placement |= uapi.PlacementSameNUMA
	case *diffCore:
		attr.Placement |= uapi.PlacementDiffEachOfSame
	case *nodes != "":
		attr.Placement |= uapi.PlacementUseNodeSet
		ids, err := parseIntList(*nodes)
		if err != nil {
			fmt.Fprintln(os.Stderr, "clone-attr: -nodes:", err)
			os.Exit(2)
		}
		attr.Nodes = ids
	}
	if *lwkOnly {
		attr.Placement |= uapi.PlacementLWKOnly
	}
	if *hostOnly {
		attr.Placement |= uapi.PlacementHostOnly
	}
	if *key != 0 {
		k := *key
		attr.Key = &k
	}

	resp := c.SetCloneAttr(*pid, wire.ActionSetCloneAttr{Attr: attr})
	if resp.Err != "" {
		fmt.Fprintf(os.Stderr, "clone-attr rejected: %s\n", resp.Err)
		os.Exit(1)
	}
	if *wantResult {
		fmt.Println("requested")
	}
}

func parseIntList(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid node id %q: %w", p, err)
		}
		out = append(out, n)
	}
	return out, nil
}
