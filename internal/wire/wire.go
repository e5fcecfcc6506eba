// Package wire defines the gob-encoded request/response envelope
// exchanged between lwkschedd and lwkschedctl over a unix-domain
// socket, modeled directly on the teacher daemon's own PerfLockAction
// envelope and its gob.Register-at-init-time pattern.
package wire

import (
	"encoding/gob"

	"github.com/lwkcore/core/pkg/uapi"
)

// Request wraps one client-to-daemon action. Action holds one of the
// Action* types registered below.
type Request struct {
	Action interface{}
}

// ActionSetCloneAttr stages Clone Hints for the calling process (§6).
type ActionSetCloneAttr struct {
	PID  int
	Attr uapi.CloneAttr
}

// ActionSetCloneAttrResponse carries back the writeback result when
// the caller asked for one.
type ActionSetCloneAttrResponse struct {
	Result uapi.Result
	Err    string
}

// ActionYield implements the yield call (§6).
type ActionYield struct {
	PID int
	CPU int
}

type ActionYieldResponse struct {
	Rescheduled bool
	Err         string
}

// ActionConfigSet ships a boot/yod YAML document for one process
// (§6); an empty PID targets daemon-wide defaults applied to
// subsequently registered processes.
type ActionConfigSet struct {
	PID  int
	YAML []byte
}

type ActionConfigSetResponse struct {
	Err string
}

// ActionConfigGet requests the effective policy for PID back as YAML.
type ActionConfigGet struct {
	PID int
}

type ActionConfigGetResponse struct {
	YAML []byte
	Err  string
}

// ActionRegisterProcess creates an LWK Process Record for PID with the
// given LWK/shared-util CPU sets (§3). A PID already registered is
// returned unchanged.
type ActionRegisterProcess struct {
	PID        int
	LWKCPUs    []int
	SharedUtil []int
}

type ActionRegisterProcessResponse struct {
	Summary ProcessSummary
	Err     string
}

// ActionFork implements the fork hook (§4.6) for a new thread ChildPID
// created by CallerPID.
type ActionFork struct {
	CallerPID       int
	ChildPID        int
	SameThreadGroup bool
}

type ActionForkResponse struct {
	Err string
}

// ActionList requests a summary of every registered LWK process.
type ActionList struct{}

// ProcessSummary is one row of an ActionListResponse.
type ProcessSummary struct {
	PID     int
	LWKCPUs []int
	NumUtil int
}

type ActionListResponse struct {
	Processes []ProcessSummary
}

// ActionStats requests the per-CPU counters snapshot (§3 Per-CPU
// Statistics).
type ActionStats struct {
	CPU int // -1 for all CPUs
}

// CPUStatsSnapshot is a gob-friendly copy of one CPU's live commit
// counters (internal/commit) and statistics (internal/stats).
type CPUStatsSnapshot struct {
	CPU              int
	ComputeCommits   int64
	UtilityCommits   int64
	MaxComputeDepth  int64
	MaxUtilityDepth  int64
	PushCount        int64
	SetaffinityCount int64
	TimerTicks       int64
	Guests           int64
	GuestDispatches  int64
	Givebacks        int64
}

type ActionStatsResponse struct {
	CPUs []CPUStatsSnapshot
}

func init() {
	gob.Register(ActionSetCloneAttr{})
	gob.Register(ActionSetCloneAttrResponse{})
	gob.Register(ActionYield{})
	gob.Register(ActionYieldResponse{})
	gob.Register(ActionConfigSet{})
	gob.Register(ActionConfigSetResponse{})
	gob.Register(ActionConfigGet{})
	gob.Register(ActionConfigGetResponse{})
	gob.Register(ActionRegisterProcess{})
	gob.Register(ActionRegisterProcessResponse{})
	gob.Register(ActionFork{})
	gob.Register(ActionForkResponse{})
	gob.Register(ActionList{})
	gob.Register(ActionListResponse{})
	gob.Register(ActionStats{})
	gob.Register(ActionStatsResponse{})
}
