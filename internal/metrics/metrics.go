// Package metrics exposes the controller's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "drswing"

// Recorder holds the controller metrics. A nil *Recorder is valid and
// records nothing, so components can take one optionally.
type Recorder struct {
	reachable       *prometheus.GaugeVec
	probesTotal     *prometheus.CounterVec
	failures        prometheus.Gauge
	primary         *prometheus.GaugeVec
	promotionsTotal *prometheus.CounterVec
	alertsTotal     *prometheus.CounterVec
	mgmtCallsTotal  *prometheus.CounterVec
	outage          prometheus.Gauge
}

// NewRecorder creates the instruments and registers them with reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		reachable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_reachable",
			Help:      "1 if the node answered its last reachability probe.",
		}, []string{"node"}),
		probesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Reachability probes by node and result.",
		}, []string{"node", "result"}),
		failures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consecutive_failures",
			Help:      "Consecutive ticks the current primary has been unreachable.",
		}),
		primary: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_is_primary",
			Help:      "1 for the node currently holding the primary role.",
		}, []string{"node"}),
		promotionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotions_total",
			Help:      "Promotion attempts by result.",
		}, []string{"result"}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Outage alerts by delivery result.",
		}, []string{"result"}),
		mgmtCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "management_calls_total",
			Help:      "Management API calls by node, operation and outcome.",
		}, []string{"node", "operation", "outcome"}),
		outage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outage",
			Help:      "1 while both nodes are unreachable.",
		}),
	}

	for _, c := range []prometheus.Collector{
		r.reachable, r.probesTotal, r.failures, r.primary,
		r.promotionsTotal, r.alertsTotal, r.mgmtCallsTotal, r.outage,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) ObserveProbe(node string, reachable bool) {
	if r == nil {
		return
	}
	result := "unreachable"
	if reachable {
		result = "reachable"
	}
	r.reachable.WithLabelValues(node).Set(boolFloat(reachable))
	r.probesTotal.WithLabelValues(node, result).Inc()
}

func (r *Recorder) SetConsecutiveFailures(n uint) {
	if r == nil {
		return
	}
	r.failures.Set(float64(n))
}

// SetPrimary marks primary as 1 and every other listed node as 0.
func (r *Recorder) SetPrimary(primary string, nodes ...string) {
	if r == nil {
		return
	}
	for _, n := range nodes {
		r.primary.WithLabelValues(n).Set(boolFloat(n == primary))
	}
}

func (r *Recorder) SetOutage(active bool) {
	if r == nil {
		return
	}
	r.outage.Set(boolFloat(active))
}

func (r *Recorder) RecordPromotion(ok bool) {
	if r == nil {
		return
	}
	r.promotionsTotal.WithLabelValues(resultLabel(ok)).Inc()
}

func (r *Recorder) RecordAlert(result string) {
	if r == nil {
		return
	}
	r.alertsTotal.WithLabelValues(result).Inc()
}

func (r *Recorder) RecordManagementCall(node, operation, outcome string) {
	if r == nil {
		return
	}
	r.mgmtCallsTotal.WithLabelValues(node, operation, outcome).Inc()
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
