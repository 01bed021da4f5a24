package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "torvus_workflow_transitions_total",
		Help: "Total number of request state transitions by workflow and target status",
	}, []string{"workflow", "status"})
	decisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "torvus_workflow_decisions_total",
		Help: "Total number of approval decisions recorded by workflow and decision",
	}, []string{"workflow", "decision"})
	decisionConflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "torvus_workflow_decision_conflicts_total",
		Help: "Total number of duplicate decisions rejected by the approval ledger",
	}, []string{"workflow"})
	auditFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "torvus_audit_failures_total",
		Help: "Total number of audit records that could not be persisted",
	})
	notificationFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "torvus_notification_failures_total",
		Help: "Total number of failed notification deliveries by channel",
	}, []string{"channel"})
	expiredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "torvus_sweep_expired_total",
		Help: "Total number of requests expired by the sweep",
	}, []string{"workflow"})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry prometheus.Registerer) {
	registry.MustRegister(
		transitionsTotal,
		decisionsTotal,
		decisionConflictsTotal,
		auditFailuresTotal,
		notificationFailuresTotal,
		expiredTotal,
	)
}

// IncTransition counts a request entering status.
func IncTransition(workflow, status string) { transitionsTotal.WithLabelValues(workflow, status).Inc() }

// IncDecision counts a recorded approval decision.
func IncDecision(workflow, decision string) { decisionsTotal.WithLabelValues(workflow, decision).Inc() }

// IncDecisionConflict counts a duplicate decision.
func IncDecisionConflict(workflow string) { decisionConflictsTotal.WithLabelValues(workflow).Inc() }

// IncAuditFailure counts an audit record that was dropped.
func IncAuditFailure() { auditFailuresTotal.Inc() }

// IncNotificationFailure counts a failed delivery.
func IncNotificationFailure(channel string) { notificationFailuresTotal.WithLabelValues(channel).Inc() }

// AddExpired counts requests expired by one sweep run.
func AddExpired(workflow string, n int) { expiredTotal.WithLabelValues(workflow).Add(float64(n)) }
