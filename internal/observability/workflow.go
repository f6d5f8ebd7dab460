package observability

import "github.com/prometheus/client_golang/prometheus"

// WorkflowMetrics counts warehouse workflow events.
type WorkflowMetrics struct {
	ledgerMovements   *prometheus.CounterVec
	tasksCreated      *prometheus.CounterVec
	statusTransitions *prometheus.CounterVec
	summaries         *prometheus.CounterVec
	decisions         *prometheus.CounterVec
}

// NewWorkflowMetrics registers workflow collectors on the registerer.
func NewWorkflowMetrics(registerer prometheus.Registerer) *WorkflowMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &WorkflowMetrics{
		ledgerMovements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_wms_ledger_movements_total",
			Help: "Inventory ledger movements by type.",
		}, []string{"type"}),
		tasksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_wms_tasks_created_total",
			Help: "Fulfillment items created by source.",
		}, []string{"source"}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_wms_status_transitions_total",
			Help: "Fulfillment item status transitions by target status.",
		}, []string{"status"}),
		summaries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_wms_order_summaries_total",
			Help: "First-check summary capture attempts by outcome.",
		}, []string{"outcome"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_wms_workflow_decisions_total",
			Help: "Requisition, borrow and return decisions by module and action.",
		}, []string{"module", "action"}),
	}
	registerer.MustRegister(m.ledgerMovements, m.tasksCreated, m.statusTransitions, m.summaries, m.decisions)
	return m
}

// LedgerMovement counts one ledger movement.
func (m *WorkflowMetrics) LedgerMovement(movementType string) {
	if m == nil {
		return
	}
	m.ledgerMovements.WithLabelValues(movementType).Inc()
}

// TasksCreated counts created fulfillment items.
func (m *WorkflowMetrics) TasksCreated(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tasksCreated.WithLabelValues(source).Add(float64(n))
}

// StatusTransition counts one item transition.
func (m *WorkflowMetrics) StatusTransition(status string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(status).Inc()
}

// SummaryCapture counts a capture attempt; outcome is "captured" or "exists".
func (m *WorkflowMetrics) SummaryCapture(outcome string) {
	if m == nil {
		return
	}
	m.summaries.WithLabelValues(outcome).Inc()
}

// Decision counts a workflow decision.
func (m *WorkflowMetrics) Decision(module, action string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(module, action).Inc()
}
