package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerMeasuresElapsed(t *testing.T) {
	timer := NewTimer()
	require.NotNil(t, timer)

	time.Sleep(20 * time.Millisecond)
	first := timer.Duration()
	assert.GreaterOrEqual(t, first, 20*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Greater(t, timer.Duration(), first, "duration keeps growing from the same start")
}

func TestTimerObservesIntoHistograms(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_duration_seconds",
		Help: "Test duration histogram",
	})
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_duration_vec_seconds",
		Help: "Test duration histogram vec",
	}, []string{"operation"})

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDuration(histogram)
	timer.ObserveDurationVec(vec, "balance")

	assert.Greater(t, timer.Duration(), time.Duration(0))
}
