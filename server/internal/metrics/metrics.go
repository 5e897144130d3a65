package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 轮次结果标签值。
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeFallback = "fallback"
)

// 协作方调用结果标签值。
const (
	IntelSuccess = "success"
	IntelTimeout = "timeout"
	IntelError   = "error"
)

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stibot_turns_total",
		Help: "Processed turns by outcome",
	}, []string{"outcome"})

	turnDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stibot_turn_duration_seconds",
		Help:    "End-to-end turn processing latency",
		Buckets: prometheus.DefBuckets,
	})

	violationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stibot_contract_violations_total",
		Help: "Contract violations recorded in turn logs, by code and severity",
	}, []string{"code", "severity"})

	intelRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stibot_intel_requests_total",
		Help: "Intelligence collaborator calls by outcome",
	}, []string{"outcome"})

	sessionsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stibot_sessions_started_total",
		Help: "Sessions created via greeting bootstrap",
	})

	flushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stibot_store_flush_total",
		Help: "Write-back flush attempts by trigger and outcome",
	}, []string{"trigger", "outcome"})

	dirtySessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stibot_store_dirty_sessions",
		Help: "Sessions currently buffered and awaiting write-back",
	})
)

func ObserveTurn(outcome string, d time.Duration) {
	turnsTotal.WithLabelValues(outcome).Inc()
	turnDurationSeconds.Observe(d.Seconds())
}

func IncViolation(code, severity string) {
	violationsTotal.WithLabelValues(code, severity).Inc()
}

func IncIntelRequest(outcome string) {
	intelRequestsTotal.WithLabelValues(outcome).Inc()
}

func IncSessionStarted() { sessionsStartedTotal.Inc() }

func IncFlush(trigger, outcome string) {
	flushTotal.WithLabelValues(trigger, outcome).Inc()
}

func SetDirtySessions(n int) { dirtySessions.Set(float64(n)) }
