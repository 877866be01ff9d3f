package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TaskFinished("generate", "done", time.Second)
		m.LLMCall("generate", "ok", 10, 20)
		m.NotificationUpserted("problem_like", "created")
		m.Verdict("bundle", "wrong")
	})
}

func TestCollectorsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.TaskFinished("judge_all", "done", 2*time.Second)
	m.TaskFinished("judge_all", "done", time.Second)
	m.LLMCall("judge_bundle", "ok", 120, 30)
	m.NotificationUpserted("explanation_wrong", "merged")
	m.Verdict("explanation", "ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.tasks.WithLabelValues("judge_all", "done")))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.llmTokens.WithLabelValues("judge_bundle", "prompt")))
	assert.Equal(t, 30.0, testutil.ToFloat64(m.llmTokens.WithLabelValues("judge_bundle", "output")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("explanation_wrong", "merged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verdicts.WithLabelValues("explanation", "ok")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"tasks_total", "task_duration_seconds", "llm_requests_total", "llm_tokens_total", "notifications_upserted_total", "judgement_verdicts_total"} {
		assert.True(t, names[want], want)
	}
}
