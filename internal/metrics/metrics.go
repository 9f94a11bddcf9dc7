package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes counters and gauges for the cache, waiting list and
// notification flows. A nil *Collector is valid and records nothing, so
// components can be constructed without metrics in tests.
type Collector struct {
	cacheLookups  *prometheus.CounterVec
	cacheRefresh  *prometheus.CounterVec
	bookingsTotal *prometheus.CounterVec
	waitlistDepth prometheus.Gauge
	promotions    *prometheus.CounterVec
	notifications *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Entity index lookups by entity kind and result (hit, miss, stale).",
		}, []string{"kind", "result"}),
		cacheRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "cache",
			Name:      "refreshes_total",
			Help:      "Background entity refreshes by kind and outcome.",
		}, []string{"kind", "outcome"}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by final status (confirmed, queued, failed).",
		}, []string{"status"}),
		waitlistDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clinic",
			Subsystem: "waitlist",
			Name:      "depth",
			Help:      "Pending requests currently in the waiting list.",
		}),
		promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "waitlist",
			Name:      "promotions_total",
			Help:      "Waiting list promotion attempts by outcome (confirmed, retried, exhausted, empty).",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "notify",
			Name:      "items_total",
			Help:      "Notification items by outcome (queued, delivered, retried, dropped).",
		}, []string{"outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, path and status code.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		c.cacheLookups,
		c.cacheRefresh,
		c.bookingsTotal,
		c.waitlistDepth,
		c.promotions,
		c.notifications,
		c.httpRequests,
		c.httpDuration,
	)
	return c
}

func (c *Collector) ObserveCacheLookup(kind, result string) {
	if c == nil {
		return
	}
	c.cacheLookups.WithLabelValues(kind, result).Inc()
}

func (c *Collector) ObserveCacheRefresh(kind, outcome string) {
	if c == nil {
		return
	}
	c.cacheRefresh.WithLabelValues(kind, outcome).Inc()
}

func (c *Collector) ObserveBooking(status string) {
	if c == nil {
		return
	}
	c.bookingsTotal.WithLabelValues(status).Inc()
}

func (c *Collector) SetWaitlistDepth(n int) {
	if c == nil {
		return
	}
	c.waitlistDepth.Set(float64(n))
}

func (c *Collector) ObservePromotion(outcome string) {
	if c == nil {
		return
	}
	c.promotions.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObserveNotification(outcome string) {
	if c == nil {
		return
	}
	c.notifications.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObserveHTTPRequest(method, path, status string, seconds float64) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, path, status).Inc()
	c.httpDuration.WithLabelValues(method, path).Observe(seconds)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
