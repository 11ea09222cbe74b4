package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poolbridge_polls_total",
		Help: "Snapshot poll attempts by outcome.",
	}, []string{"device", "result"})

	pollInterval = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "poolbridge_poll_interval_seconds",
		Help: "Current adaptive polling interval.",
	}, []string{"device"})

	writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poolbridge_writes_total",
		Help: "Outbound command drains by outcome.",
	}, []string{"device", "result"})

	writesCoalesced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poolbridge_writes_coalesced_total",
		Help: "Write intents merged into an already pending command.",
	}, []string{"device"})
)

const (
	resultSuccess     = "success"
	resultRateLimited = "rate_limited"
	resultError       = "error"
	resultSkipped     = "skipped"
	resultRetried     = "retried"
	resultFailed      = "failed"
)
