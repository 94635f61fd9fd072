package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus is the opt-in Recorder, grounded on
// telepresenceio-telepresence's cmd/traffic/cmd/manager/prometheus.go use
// of prometheus.NewCounterVec/NewHistogramVec plus a dedicated registry
// rather than the global default one.
type Prometheus struct {
	registry *prometheus.Registry

	queries          *prometheus.CounterVec
	queryLatency     *prometheus.HistogramVec
	cacheLookups     *prometheus.CounterVec
	outboundAttempts *prometheus.CounterVec
	outboundLatency  *prometheus.HistogramVec
	validations      *prometheus.CounterVec
}

// NewPrometheus builds a Recorder registered on its own registry (the
// caller wires Gatherer into an HTTP handler; see cmd/resolvd).
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resolvd_queries_total",
			Help: "Queries served, by query type, rcode and security status.",
		}, []string{"qtype", "rcode", "security"}),
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "resolvd_query_duration_seconds",
			Help:    "End-to-end query latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"qtype"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resolvd_cache_lookups_total",
			Help: "Cache lookups, by cache name and hit/miss.",
		}, []string{"cache", "result"}),
		outboundAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resolvd_outbound_attempts_total",
			Help: "Outbound query attempts, by target and outcome.",
		}, []string{"target", "result"}),
		outboundLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "resolvd_outbound_duration_seconds",
			Help:    "Outbound query round-trip time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"target"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resolvd_validations_total",
			Help: "DNSSEC validation verdicts.",
		}, []string{"status"}),
	}
	p.registry.MustRegister(p.queries, p.queryLatency, p.cacheLookups, p.outboundAttempts, p.outboundLatency, p.validations)
	return p
}

// Registry exposes the Gatherer for cmd/resolvd to serve over HTTP.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

func (p *Prometheus) QueryServed(qtype uint16, rcode int, security string, d time.Duration) {
	qt := strconv.Itoa(int(qtype))
	p.queries.WithLabelValues(qt, strconv.Itoa(rcode), security).Inc()
	p.queryLatency.WithLabelValues(qt).Observe(d.Seconds())
}

func (p *Prometheus) CacheLookup(cacheName string, hit bool) {
	p.cacheLookups.WithLabelValues(cacheName, boolLabel(hit, "hit", "miss")).Inc()
}

func (p *Prometheus) OutboundAttempt(target string, ok bool, d time.Duration) {
	p.outboundAttempts.WithLabelValues(target, boolLabel(ok, "ok", "fail")).Inc()
	p.outboundLatency.WithLabelValues(target).Observe(d.Seconds())
}

func (p *Prometheus) ValidationResult(status string) {
	p.validations.WithLabelValues(status).Inc()
}

func boolLabel(v bool, whenTrue, whenFalse string) string {
	if v {
		return whenTrue
	}
	return whenFalse
}
