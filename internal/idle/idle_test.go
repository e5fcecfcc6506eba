package idle

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwkcore/core/internal/hostif"
	"github.com/lwkcore/core/internal/runqueue"
)

// countingProbe records which hint each idle quantum used.
type countingProbe struct {
	shallow, deep atomic.Int64
}

func (c *countingProbe) SupportedHints() []runqueue.LowPowerHint {
	return []runqueue.LowPowerHint{hostif.HintShallow, hostif.HintDeep}
}

func (c *countingProbe) IdleForQuantum(hint runqueue.LowPowerHint, needResched func() bool) {
	if needResched() {
		return
	}
	if hint == hostif.HintShallow {
		c.shallow.Add(1)
	} else {
		c.deep.Add(1)
	}
}

func TestDriver_PicksDeepHintWhenUnowned(t *testing.T) {
	probe := &countingProbe{}
	d := New(0, probe, hostif.HintShallow, hostif.HintDeep, nil, testr.New(t))

	done := make(chan struct{})
	go func() {
		d.Run()
		close(done)
	}()

	require.Eventually(t, func() bool { return probe.deep.Load() > 0 }, time.Second, time.Millisecond)
	assert.Zero(t, probe.shallow.Load())

	d.SetLWK(false)
	<-done
	assert.False(t, d.Running())
}

func TestDriver_PicksShallowHintWhenOwned(t *testing.T) {
	probe := &countingProbe{}
	d := New(1, probe, hostif.HintShallow, hostif.HintDeep, nil, testr.New(t))
	d.SetOwned(true)

	done := make(chan struct{})
	go func() {
		d.Run()
		close(done)
	}()

	require.Eventually(t, func() bool { return probe.shallow.Load() > 0 }, time.Second, time.Millisecond)
	assert.Zero(t, probe.deep.Load())

	d.SetLWK(false)
	<-done
}

func TestDriver_ExitsWhenNoLongerLWK(t *testing.T) {
	probe := &countingProbe{}
	d := New(0, probe, hostif.HintShallow, hostif.HintDeep, nil, testr.New(t))
	d.SetLWK(false)

	done := make(chan struct{})
	go func() {
		d.Run()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("idle loop did not exit after is_lwk flipped off before Run started")
	}
}

func TestDriver_NeedReschedSkipsWait(t *testing.T) {
	var reschedCalls atomic.Int64
	needResched := func() bool {
		reschedCalls.Add(1)
		return true
	}
	probe := &countingProbe{}
	d := New(0, probe, hostif.HintShallow, hostif.HintDeep, needResched, testr.New(t))

	done := make(chan struct{})
	go func() {
		d.Run()
		close(done)
	}()

	require.Eventually(t, func() bool { return reschedCalls.Load() > 2 }, time.Second, time.Millisecond)
	d.SetLWK(false)
	<-done
}
