package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// update outcomes - counts grants vs blocks vs rejections
	// labels: outcome (granted/blocked/rejected)
	UpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnstile_updates_total",
			Help: "total number of lock update attempts by outcome",
		},
		[]string{"outcome"},
	)

	// time a blocked request spends parked before being granted
	// p99 here is the scheduling latency jobs actually feel
	WaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "turnstile_wait_duration_seconds",
			Help:    "time a blocked request waited before being granted",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4.5min
		},
	)

	// currently parked owners - should hover near zero on a healthy
	// cluster; sustained growth means lock contention
	QueuedOwners = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "turnstile_queued_owners",
			Help: "current number of owners with a parked request",
		},
	)

	// cancellations - timeouts and withdrawn requests
	CancelsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "turnstile_cancels_total",
			Help: "total number of withdrawn pending requests",
		},
	)

	// owners woken per update - the size of the unblocking cascade
	// large values mean one release rippled through many waiters
	NotifySize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "turnstile_notify_size",
			Help:    "owners woken per applied update",
			Buckets: prometheus.LinearBuckets(0, 1, 10),
		},
	)

	// raft leader status - 1 if this node is leader, 0 otherwise
	// exactly one node in the cluster should report 1
	RaftIsLeader = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "turnstile_raft_is_leader",
			Help: "whether this node is the raft leader (1 = leader, 0 = follower)",
		},
	)

	// service uptime marker - always 1 when running
	Up = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "turnstile_up",
			Help: "whether the service is up (always 1 when running)",
		},
	)
)

func init() {
	Up.Set(1)
}
