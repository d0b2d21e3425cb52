package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CollectorsAreObservable(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.StageDuration.WithLabelValues("step1").Observe(0.25)
	m.ProviderErrors.WithLabelValues("claude", "step2").Inc()
	m.ProviderRetries.WithLabelValues("claude", "step1").Inc()
	m.ActiveStreams.Set(3)
	m.PipelinesStarted.Inc()
	m.PipelinesFailed.WithLabelValues("insufficient_providers").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	var foundActiveStreams bool
	for _, f := range families {
		if f.GetName() == "kea_provider_active_streams" {
			foundActiveStreams = true
			require.Len(t, f.Metric, 1)
			assert.Equal(t, float64(3), f.Metric[0].GetGauge().GetValue())
		}
	}
	assert.True(t, foundActiveStreams)
}

func TestNew_DistinctRegistriesDoNotCollide(t *testing.T) {
	regA := prometheus.NewRegistry()
	regB := prometheus.NewRegistry()

	assert.NotPanics(t, func() {
		New(regA)
		New(regB)
	})
}
