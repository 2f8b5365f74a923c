package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewRecorder(reg)
	require.NoError(t, err)

	r.ObserveProbe("ldc", true)
	r.ObserveProbe("heidi", false)
	r.ObserveProbe("heidi", false)
	r.SetConsecutiveFailures(2)
	r.SetPrimary("heidi", "ldc", "heidi")
	r.RecordPromotion(true)
	r.RecordPromotion(false)
	r.RecordAlert("delivered")
	r.RecordManagementCall("ldc", "pause", "success")
	r.SetOutage(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.reachable.WithLabelValues("ldc")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.reachable.WithLabelValues("heidi")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.probesTotal.WithLabelValues("heidi", "unreachable")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.failures))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.primary.WithLabelValues("heidi")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.primary.WithLabelValues("ldc")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.promotionsTotal.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.alertsTotal.WithLabelValues("delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.mgmtCallsTotal.WithLabelValues("ldc", "pause", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.outage))
}

func TestRecorderDoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewRecorder(reg)
	require.NoError(t, err)
	_, err = NewRecorder(reg)
	assert.Error(t, err)
}

// TestNilRecorder verifies a nil recorder is a safe no-op.
func TestNilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveProbe("ldc", true)
		r.SetConsecutiveFailures(1)
		r.SetPrimary("ldc", "ldc")
		r.SetOutage(false)
		r.RecordPromotion(true)
		r.RecordAlert("dropped")
		r.RecordManagementCall("ldc", "pause", "rejected")
	})
}
