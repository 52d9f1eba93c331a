package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"sourcebridge.dev/internal/source"
)

var (
	taskExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sourcebridge_task_executions_total",
		Help: "Task executions handled, by source.",
	}, []string{"source"})

	taskErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sourcebridge_task_errors_total",
		Help: "Task executions that produced an error result, by source.",
	}, []string{"source"})
)

func observeTaskExecution(s source.Source) {
	taskExecutions.WithLabelValues(string(s)).Inc()
}

func observeTaskError(s source.Source) {
	taskErrors.WithLabelValues(string(s)).Inc()
}
