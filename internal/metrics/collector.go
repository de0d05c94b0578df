// Package metrics exposes batch and HTTP activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lehigh-university-libraries/imagebatch/internal/batch"
	"github.com/lehigh-university-libraries/imagebatch/internal/models"
)

// Collector records batch and HTTP metrics on its own registry
type Collector struct {
	registry *prometheus.Registry

	itemsTotal    *prometheus.CounterVec
	itemDuration  prometheus.Histogram
	runsTotal     *prometheus.CounterVec
	runDuration   prometheus.Histogram
	runInProgress prometheus.Gauge
	currentItem   prometheus.Gauge

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	mu      sync.Mutex
	started map[int]time.Time
}

func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		started:  make(map[int]time.Time),

		itemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_total",
				Help:      "Total number of resolved batch items",
			},
			[]string{"status"},
		),
		itemDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "item_duration_seconds",
				Help:      "Time from an item entering processing until it resolves",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of batch runs",
			},
			[]string{"result"},
		),
		runDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Batch run duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
		runInProgress: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "run_in_progress",
				Help:      "1 while a batch run is iterating",
			},
		),
		currentItem: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "current_item",
				Help:      "Index of the item being processed",
			},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// Observe is a batch.Observer
func (c *Collector) Observe(e batch.Event) {
	switch e.Kind {
	case batch.EventState:
		if e.State == nil {
			return
		}
		if e.State.IsRunning {
			c.runInProgress.Set(1)
		} else {
			c.runInProgress.Set(0)
		}
		c.currentItem.Set(float64(e.State.CurrentIndex))
	case batch.EventItem:
		if e.Item != nil {
			c.recordItem(*e.Item)
		}
	case batch.EventDone:
		if e.Summary != nil {
			c.RecordRun(*e.Summary)
		}
	}
}

func (c *Collector) recordItem(item models.WorkItem) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch item.Status {
	case models.StatusProcessing:
		c.started[item.ID] = time.Now()
	case models.StatusDone, models.StatusError:
		c.itemsTotal.WithLabelValues(string(item.Status)).Inc()
		if start, ok := c.started[item.ID]; ok {
			c.itemDuration.Observe(time.Since(start).Seconds())
			delete(c.started, item.ID)
		}
	}
}

// RecordRun records a finished run. Runs that left items pending count as stopped.
func (c *Collector) RecordRun(s models.Summary) {
	result := "completed"
	if s.Pending > 0 {
		result = "stopped"
	}
	c.runsTotal.WithLabelValues(result).Inc()
	c.runDuration.Observe(s.Duration.Seconds())
	c.runInProgress.Set(0)
	c.currentItem.Set(0)

	c.mu.Lock()
	clear(c.started)
	c.mu.Unlock()
}

// RecordHTTPRequest records one served request
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Middleware records every request under its mux pattern
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		c.RecordHTTPRequest(r.Method, path, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps server-sent events working through the middleware
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return strconv.Itoa(code)
	}
}
