package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "evidence_rag"

// Stage labels for StageDuration.
const (
	StageIngest = "ingest"
	StageIndex  = "index"
	StageAnswer = "answer"
	StageLocate = "locate"
	StageRender = "render"
	StageVerify = "verify"
)

// Metrics owns its registry so tests and multiple sessions never collide on
// the global one.
type Metrics struct {
	Registry *prometheus.Registry

	UploadedFiles *prometheus.CounterVec
	IndexedChunks prometheus.Gauge
	Questions     *prometheus.CounterVec
	Evidence      *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	HTTPRequests  *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		UploadedFiles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_files_total",
			Help:      "Uploaded files by outcome",
		}, []string{"outcome"}), // indexed, duplicate, rejected
		IndexedChunks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexed_chunks",
			Help:      "Chunks in the current index",
		}),
		Questions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "questions_total",
			Help:      "Questions by outcome",
		}, []string{"outcome"}), // answered, rejected, failed
		Evidence: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evidence_total",
			Help:      "Evidence lookups by outcome",
		}, []string{"outcome"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
	}
}

// ObserveStage records time since start. Safe on a nil *Metrics.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *Metrics) CountUpload(outcome string) {
	if m == nil {
		return
	}
	m.UploadedFiles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CountQuestion(outcome string) {
	if m == nil {
		return
	}
	m.Questions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CountEvidence(outcome string) {
	if m == nil {
		return
	}
	m.Evidence.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetIndexedChunks(n int) {
	if m == nil {
		return
	}
	m.IndexedChunks.Set(float64(n))
}
