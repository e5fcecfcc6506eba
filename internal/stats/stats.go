// Package stats holds the per-CPU statistics named in §3 (CPU
// Descriptor) and exports them as Prometheus collectors, mirroring the
// DescribeMetrics/CollectMetrics split used by cri-resource-manager's
// topology-aware policy. Per §9, these updates must stay off the
// pick_next hot path: maxima use relaxed loads and guarded writes
// rather than a lock held across the read-modify-write.
package stats

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// CPU is the statistics block for one CPU, guarded only where a
// read-modify-write on a maximum requires it; counters are plain
// atomics.
type CPU struct {
	MaxComputeDepth     atomic.Int64
	MaxUtilityDepth     atomic.Int64
	MaxConcurrentRun    atomic.Int64
	GuestDispatches     atomic.Int64
	TimerTicks          atomic.Int64
	SyscMigrations      atomic.Int64
	SetaffinityCount    atomic.Int64
	PushCount           atomic.Int64
	Guests              atomic.Int64
	Givebacks           atomic.Int64
	CounterUnderflows   atomic.Int64
}

// NoteComputeDepth records a new compute-commit depth observation,
// bumping the maximum if it grew. Safe for concurrent callers: the
// compare-and-swap loop in bumpMax keeps the maximum correct without
// any outside lock.
func (c *CPU) NoteComputeDepth(depth int64) {
	bumpMax(&c.MaxComputeDepth, depth)
}

func (c *CPU) NoteUtilityDepth(depth int64) {
	bumpMax(&c.MaxUtilityDepth, depth)
}

func (c *CPU) NoteConcurrentRun(n int64) {
	bumpMax(&c.MaxConcurrentRun, n)
}

func bumpMax(slot *atomic.Int64, v int64) {
	for {
		cur := slot.Load()
		if v <= cur {
			return
		}
		if slot.CompareAndSwap(cur, v) {
			return
		}
	}
}

// Registry tracks CPU stats blocks by CPU id and exposes them as
// Prometheus collectors (bound into cmd/lwkschedd's /metrics handler).
type Registry struct {
	cpus map[int]*CPU

	computeDepth   *prometheus.GaugeVec
	utilityDepth   *prometheus.GaugeVec
	concurrentRun  *prometheus.GaugeVec
	guestDispatch  *prometheus.CounterVec
	timerTicks     *prometheus.CounterVec
	syscMigrations *prometheus.CounterVec
	setaffinity    *prometheus.CounterVec
	pushes         *prometheus.CounterVec
	guests         *prometheus.CounterVec
	givebacks      *prometheus.CounterVec
	underflows     *prometheus.CounterVec
}

func NewRegistry(cpuIDs []int) *Registry {
	r := &Registry{
		cpus: make(map[int]*CPU, len(cpuIDs)),
		computeDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lwkcore", Name: "max_compute_depth", Help: "maximum observed compute-commit depth per CPU",
		}, []string{"cpu"}),
		utilityDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lwkcore", Name: "max_utility_depth", Help: "maximum observed utility-commit depth per CPU",
		}, []string{"cpu"}),
		concurrentRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lwkcore", Name: "max_concurrent_runnable", Help: "maximum observed concurrently runnable entities per CPU",
		}, []string{"cpu"}),
		guestDispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lwkcore", Name: "guest_dispatches_total", Help: "host tasks assimilated as guests per CPU",
		}, []string{"cpu"}),
		timerTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lwkcore", Name: "timer_ticks_total", Help: "scheduler tick hook invocations per CPU",
		}, []string{"cpu"}),
		syscMigrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lwkcore", Name: "sysc_migrations_total", Help: "select_task_rq migrations per CPU",
		}, []string{"cpu"}),
		setaffinity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lwkcore", Name: "setaffinity_total", Help: "set_cpus_allowed hook invocations per CPU",
		}, []string{"cpu"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lwkcore", Name: "utility_pushes_total", Help: "utility threads pushed off per CPU",
		}, []string{"cpu"}),
		guests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lwkcore", Name: "guests_total", Help: "guest assimilations per CPU",
		}, []string{"cpu"}),
		givebacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lwkcore", Name: "givebacks_total", Help: "give-backs per CPU",
		}, []string{"cpu"}),
		underflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lwkcore", Name: "counter_underflows_total", Help: "uncommit-on-zero events per CPU",
		}, []string{"cpu"}),
	}
	for _, id := range cpuIDs {
		r.cpus[id] = &CPU{}
	}
	return r
}

func (r *Registry) CPU(id int) *CPU { return r.cpus[id] }

// MustRegister registers every collector into reg (typically
// prometheus.DefaultRegisterer).
func (r *Registry) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(r.computeDepth, r.utilityDepth, r.concurrentRun,
		r.guestDispatch, r.timerTicks, r.syscMigrations, r.setaffinity,
		r.pushes, r.guests, r.givebacks, r.underflows)
}

// Collect snapshots the atomic counters into the Prometheus vectors.
// Called periodically by the daemon's collection ticker rather than
// per-op, to keep the hot path free of Prometheus bookkeeping.
func (r *Registry) Collect() {
	for id, c := range r.cpus {
		label := strconv.Itoa(id)
		r.computeDepth.WithLabelValues(label).Set(float64(c.MaxComputeDepth.Load()))
		r.utilityDepth.WithLabelValues(label).Set(float64(c.MaxUtilityDepth.Load()))
		r.concurrentRun.WithLabelValues(label).Set(float64(c.MaxConcurrentRun.Load()))
		r.guestDispatch.WithLabelValues(label).Add(drain(&c.GuestDispatches))
		r.timerTicks.WithLabelValues(label).Add(drain(&c.TimerTicks))
		r.syscMigrations.WithLabelValues(label).Add(drain(&c.SyscMigrations))
		r.setaffinity.WithLabelValues(label).Add(drain(&c.SetaffinityCount))
		r.pushes.WithLabelValues(label).Add(drain(&c.PushCount))
		r.guests.WithLabelValues(label).Add(drain(&c.Guests))
		r.givebacks.WithLabelValues(label).Add(drain(&c.Givebacks))
		r.underflows.WithLabelValues(label).Add(drain(&c.CounterUnderflows))
	}
}

// drain atomically reads and zeroes a counter so repeated Collect
// calls produce monotonically-correct Prometheus counter increments.
func drain(slot *atomic.Int64) float64 {
	return float64(slot.Swap(0))
}

