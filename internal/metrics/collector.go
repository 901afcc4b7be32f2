// Package metrics exposes Prometheus instrumentation for screening runs and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ckd-screening-service/internal/domain"
)

// Collector owns every metric the service records. A nil *Collector is valid and records nothing.
type Collector struct {
	registry prometheus.Gatherer

	patientsScanned  prometheus.Counter
	patientsExcluded prometheus.Counter
	classified       *prometheus.CounterVec
	warnings         *prometheus.CounterVec
	faults           prometheus.Counter
	runDuration      prometheus.Histogram
	worklistEntries  *prometheus.GaugeVec

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector registers the screening metrics on reg.
func NewCollector(reg *prometheus.Registry) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		patientsScanned: factory.NewCounter(prometheus.CounterOpts{
			Name: "ckd_screening_patients_scanned_total",
			Help: "Total number of patients evaluated by the screening funnel",
		}),
		patientsExcluded: factory.NewCounter(prometheus.CounterOpts{
			Name: "ckd_screening_patients_excluded_total",
			Help: "Total number of patients without any qualifying risk factor",
		}),
		classified: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ckd_screening_classifications_total",
			Help: "Total number of classifications by branch and risk level",
		}, []string{"branch", "risk_level"}),
		warnings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ckd_screening_data_quality_warnings_total",
			Help: "Total number of data-quality warnings by code",
		}, []string{"code"}),
		faults: factory.NewCounter(prometheus.CounterOpts{
			Name: "ckd_screening_invariant_faults_total",
			Help: "Total number of internal-logic faults raised by the funnel",
		}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ckd_screening_run_duration_seconds",
			Help:    "Duration of a classification run in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
		}),
		worklistEntries: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ckd_screening_worklist_entries",
			Help: "Entries in the most recent worklist by action category",
		}, []string{"action"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ckd_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ckd_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "path"}),
	}
}

// ObserveBatch records the outcome of one Classify call.
func (c *Collector) ObserveBatch(batch *domain.ScreeningBatch, elapsed time.Duration) {
	if c == nil || batch == nil {
		return
	}
	c.patientsScanned.Add(float64(batch.Summary.PatientsScanned))
	c.patientsExcluded.Add(float64(batch.Summary.PatientsExcluded))
	for _, cl := range batch.Classifications {
		c.classified.WithLabelValues(cl.Branch.String(), cl.RiskLevel.String()).Inc()
	}
	for _, w := range batch.Warnings {
		c.warnings.WithLabelValues(w.Code).Inc()
	}
	c.runDuration.Observe(elapsed.Seconds())
}

// ObserveWorklist replaces the per-action gauges with the latest worklist.
func (c *Collector) ObserveWorklist(worklist *domain.Worklist) {
	if c == nil || worklist == nil {
		return
	}
	for _, action := range []domain.ActionCategory{
		domain.ActionOrderLabs, domain.ActionConfirmResults, domain.ActionRoutineMonitoring,
	} {
		c.worklistEntries.WithLabelValues(action.String()).Set(float64(worklist.ByAction[action]))
	}
}

// ObserveFault counts an internal-logic fault.
func (c *Collector) ObserveFault() {
	if c == nil {
		return
	}
	c.faults.Inc()
}

// Handler serves the collector's registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// GinMiddleware records request counts and latencies keyed by the matched route.
func (c *Collector) GinMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if c == nil {
			ctx.Next()
			return
		}
		start := time.Now()
		ctx.Next()

		path := ctx.FullPath()
		if path == "" {
			path = "unmatched"
		}
		c.httpRequests.WithLabelValues(ctx.Request.Method, path, strconv.Itoa(ctx.Writer.Status())).Inc()
		c.httpRequestDuration.WithLabelValues(ctx.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
