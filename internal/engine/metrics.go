package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: задачи по типу агента и итоговому статусу
	TasksTotal *prometheus.CounterVec

	// Latency: длительность выполнения агента
	TaskDuration *prometheus.HistogramVec

	// Задачи, пропущенные из-за нераспознанного типа агента
	TaskSkips prometheus.Counter

	// Итерации основного цикла (ok / error)
	SchedulerIterations *prometheus.CounterVec

	// Исходы корректирующих действий: executed, failed, pending_approval, simulated
	RemediationActions *prometheus.CounterVec

	// Вызовы LLM и сколько раз сработал fallback
	LLMRequests  *prometheus.CounterVec
	LLMFallbacks *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker (0 - ок, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		TasksTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentops_tasks_total",
			Help: "Total number of executed agent runs by final status.",
		}, []string{"agent_type", "status"}),

		TaskDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentops_task_duration_seconds",
			Help:    "Histogram of agent execution latencies.",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"agent_type"}),

		TaskSkips: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "agentops_task_skips_total",
			Help: "Pending tasks skipped because their agent type could not be resolved.",
		}),

		SchedulerIterations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentops_scheduler_iterations_total",
			Help: "Scheduler loop iterations by outcome.",
		}, []string{"outcome"}),

		RemediationActions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentops_remediation_actions_total",
			Help: "Remediation actions by type and outcome.",
		}, []string{"action_type", "outcome"}),

		LLMRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentops_llm_requests_total",
			Help: "LLM completion requests by provider and status.",
		}, []string{"provider", "status"}),

		LLMFallbacks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentops_llm_fallbacks_total",
			Help: "Structured LLM answers replaced by the fallback object.",
		}, []string{"kind"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentops_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=open).",
		}, []string{"name"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "agentops_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),
	}
}
