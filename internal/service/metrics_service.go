package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation. A nil *MetricsService
// is valid and records nothing.
type MetricsService struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	attemptsStarted   prometheus.Counter
	answersSaved      prometheus.Counter
	attemptsSubmitted *prometheus.CounterVec
	gradeIntegrations *prometheus.CounterVec
	resultsPublished  prometheus.Counter
	paperCache        *prometheus.CounterVec
}

// NewMetricsService registers the HTTP and exam-engine collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	attemptsStarted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exam_attempts_started_total",
		Help: "Attempts created by a start call",
	})

	answersSaved := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exam_answers_saved_total",
		Help: "Answers persisted to ONGOING attempts",
	})

	attemptsSubmitted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "exam_attempts_submitted_total",
		Help: "Attempts moved to SUBMITTED, by trigger",
	}, []string{"trigger"})

	gradeIntegrations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grade_integrations_total",
		Help: "Grade integrations by outcome",
	}, []string{"outcome"})

	resultsPublished := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exam_results_published_total",
		Help: "Results publications",
	})

	paperCache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "exam_paper_cache_lookups_total",
		Help: "Question paper cache lookups by result",
	}, []string{"result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, attemptsStarted, answersSaved,
		attemptsSubmitted, gradeIntegrations, resultsPublished, paperCache, goroutines)

	return &MetricsService{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		attemptsStarted:   attemptsStarted,
		answersSaved:      answersSaved,
		attemptsSubmitted: attemptsSubmitted,
		gradeIntegrations: gradeIntegrations,
		resultsPublished:  resultsPublished,
		paperCache:        paperCache,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

func (m *MetricsService) AttemptStarted() {
	if m == nil {
		return
	}
	m.attemptsStarted.Inc()
}

func (m *MetricsService) AnswerSaved() {
	if m == nil {
		return
	}
	m.answersSaved.Inc()
}

// AttemptSubmitted counts a submission; trigger is "student" or "timeout".
func (m *MetricsService) AttemptSubmitted(trigger string) {
	if m == nil {
		return
	}
	m.attemptsSubmitted.WithLabelValues(trigger).Inc()
}

// GradeIntegration counts an integration; outcome is "success", "failure", "retried" or "superseded".
func (m *MetricsService) GradeIntegration(outcome string) {
	if m == nil {
		return
	}
	m.gradeIntegrations.WithLabelValues(outcome).Inc()
}

func (m *MetricsService) ResultsPublished() {
	if m == nil {
		return
	}
	m.resultsPublished.Inc()
}

// PaperCacheLookup counts a paper cache hit or miss.
func (m *MetricsService) PaperCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.paperCache.WithLabelValues(result).Inc()
}
