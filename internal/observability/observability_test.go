package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug", "json")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	logger, err = NewLogger("WARN", "console")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(0))

	_, err = NewLogger("loud", "json")
	assert.Error(t, err)
}

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordCompletion("cerebras", "success", 120*time.Millisecond)
	m.RecordCompletion("cerebras", "success", 80*time.Millisecond)
	m.RecordAttempt("groq", "error")
	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)
	m.RecordCacheLookup(false)
	m.RecordCooldown("groq")
	m.SetProvidersAvailable(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.completions.WithLabelValues("cerebras", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("groq", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cooldowns.WithLabelValues("groq")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.providersOnline))

	count, err := testutil.GatherAndCount(reg, "tavern_oracle_completion_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordCompletion("groq", "success", time.Second)
		m.RecordAttempt("groq", "ok")
		m.RecordCacheLookup(true)
		m.RecordCooldown("groq")
		m.SetProvidersAvailable(1)
	})
}
