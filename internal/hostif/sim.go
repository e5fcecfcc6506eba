package hostif

import (
	"sync"

	"github.com/lwkcore/core/internal/runqueue"
)

// Transfer records one TransferToFair/RestoreOriginalClass/
// SetCPUsAllowed call, for test assertions.
type Transfer struct {
	PID     int
	Kind    string // "fair", "restore", "setaffinity"
	Nice    int
	Allowed []int
}

// SimHostScheduler is an in-memory HostScheduler sink used by the
// daemon's harness mode and by tests: it records every give-back and
// transfer instead of touching a real host runqueue (§1: the real
// host scheduler is out of scope).
type SimHostScheduler struct {
	mu        sync.Mutex
	transfers []Transfer
}

func NewSimHostScheduler() *SimHostScheduler {
	return &SimHostScheduler{}
}

func (s *SimHostScheduler) TransferToFair(task *runqueue.Entity, nice int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers = append(s.transfers, Transfer{PID: task.PIDVal, Kind: "fair", Nice: nice})
	return nil
}

func (s *SimHostScheduler) RestoreOriginalClass(task *runqueue.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers = append(s.transfers, Transfer{PID: task.PIDVal, Kind: "restore"})
	return nil
}

func (s *SimHostScheduler) SetCPUsAllowed(task *runqueue.Entity, allowed []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]int, len(allowed))
	copy(cp, allowed)
	s.transfers = append(s.transfers, Transfer{PID: task.PIDVal, Kind: "setaffinity", Allowed: cp})
	return nil
}

// Transfers returns a snapshot of every recorded call, in order.
func (s *SimHostScheduler) Transfers() []Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transfer, len(s.transfers))
	copy(out, s.transfers)
	return out
}
