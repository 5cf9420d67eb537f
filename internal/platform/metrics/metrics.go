package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for patient operations.
type Metrics struct {
	IDsGenerated   *prometheus.CounterVec
	WidgetOutcomes *prometheus.CounterVec
	ObjectsCreated *prometheus.CounterVec
	MRNLookups     *prometheus.CounterVec
	IDGenLatency   prometheus.Histogram
}

// New registers the collectors with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		IDsGenerated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lims_patient_ids_generated_total",
			Help: "Total number of identifiers handed out by the id server, labeled by kind",
		}, []string{"kind"}),
		WidgetOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lims_patient_widget_values_total",
			Help: "Processed form widget values, labeled by widget and outcome",
		}, []string{"widget", "outcome"}),
		ObjectsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lims_patient_objects_created_total",
			Help: "Content objects created, labeled by type",
		}, []string{"type"}),
		MRNLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lims_patient_mrn_lookups_total",
			Help: "Patient lookups by medical record number, labeled by result",
		}, []string{"result"}),
		IDGenLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "lims_patient_id_generation_latency_seconds",
			Help:    "Latency of id server calls in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}
}

func (m *Metrics) IncrementIDsGenerated(kind string) {
	if m == nil {
		return
	}
	m.IDsGenerated.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveIDGeneration(seconds float64) {
	if m == nil {
		return
	}
	m.IDGenLatency.Observe(seconds)
}

func (m *Metrics) IncrementWidgetOutcome(widget, outcome string) {
	if m == nil {
		return
	}
	m.WidgetOutcomes.WithLabelValues(widget, outcome).Inc()
}

func (m *Metrics) IncrementObjectsCreated(typeName string) {
	if m == nil {
		return
	}
	m.ObjectsCreated.WithLabelValues(typeName).Inc()
}

func (m *Metrics) IncrementMRNLookup(result string) {
	if m == nil {
		return
	}
	m.MRNLookups.WithLabelValues(result).Inc()
}
