package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the engine's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	tasks         *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	llmRequests   *prometheus.CounterVec
	llmTokens     *prometheus.CounterVec
	notifications *prometheus.CounterVec
	verdicts      *prometheus.CounterVec
}

// New builds the collectors and registers them on reg when reg is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasks_total",
				Help: "Background tasks processed, by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "task_duration_seconds",
				Help:    "Duration of background task handlers",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"op"},
		),
		llmRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Completion requests, by purpose and outcome",
			},
			[]string{"purpose", "outcome"},
		),
		llmTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Completion tokens, by purpose and direction",
			},
			[]string{"purpose", "direction"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_upserted_total",
				Help: "Notification upserts, by type and action",
			},
			[]string{"type", "action"},
		),
		verdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "judgement_verdicts_total",
				Help: "Evaluator verdicts, by evaluator and verdict",
			},
			[]string{"evaluator", "verdict"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.tasks, m.taskDuration, m.llmRequests, m.llmTokens, m.notifications, m.verdicts)
	}
	return m
}

func (m *Metrics) TaskFinished(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(op, outcome).Inc()
	m.taskDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) LLMCall(purpose, outcome string, promptTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.llmRequests.WithLabelValues(purpose, outcome).Inc()
	m.llmTokens.WithLabelValues(purpose, "prompt").Add(float64(promptTokens))
	m.llmTokens.WithLabelValues(purpose, "output").Add(float64(outputTokens))
}

func (m *Metrics) NotificationUpserted(notificationType, action string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(notificationType, action).Inc()
}

func (m *Metrics) Verdict(evaluator, verdict string) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(evaluator, verdict).Inc()
}
