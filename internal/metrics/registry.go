// Package metrics implements C10: per-component request/error counters,
// latency histograms, provider token/cost totals, and the RSS-based leak
// profiler, all exposed locally via promhttp. Recording and local
// exposition are in scope; shipping to an external collector is not.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// latencyBuckets are the recommended histogram buckets, in seconds:
// 100us, 1ms, 10ms, 100ms, 1s.
var latencyBuckets = []float64{0.0001, 0.001, 0.01, 0.1, 1.0}

// Registry holds every Prometheus instrument C1-C9 report through. It is
// safe to share a single Registry across every component instantiated for
// one workspace; components that don't need metrics may be passed a nil
// *Registry (every Record* method below is nil-receiver safe).
type Registry struct {
	reg *prometheus.Registry

	requestsTotal *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	bytesIn       *prometheus.CounterVec
	bytesOut      *prometheus.CounterVec
	tokensTotal   prometheus.Counter
	costTotal     prometheus.Counter

	queryLatency  prometheus.Histogram
	batchEmbedDur prometheus.Histogram
	upsertDur     prometheus.Histogram

	cacheHitRate prometheus.Gauge
	rssBytes     prometheus.Gauge
	goroutines   prometheus.Gauge
}

// New builds a Registry with its own Prometheus registry, so multiple
// Workspace instances in one process never collide on metric names.
func New() *Registry {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Registry{
		reg: reg,
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "semcore_requests_total",
			Help: "Requests processed, partitioned by component and operation.",
		}, []string{"component", "operation"}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "semcore_errors_total",
			Help: "Errors encountered, partitioned by component and error kind.",
		}, []string{"component", "kind"}),
		bytesIn: f.NewCounterVec(prometheus.CounterOpts{
			Name: "semcore_bytes_in_total",
			Help: "Bytes read, partitioned by component.",
		}, []string{"component"}),
		bytesOut: f.NewCounterVec(prometheus.CounterOpts{
			Name: "semcore_bytes_out_total",
			Help: "Bytes written, partitioned by component.",
		}, []string{"component"}),
		tokensTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "semcore_embedder_tokens_total",
			Help: "Total tokens billed by the embedding provider.",
		}),
		costTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "semcore_embedder_cost_total",
			Help: "Estimated cumulative embedding provider cost, in USD.",
		}),
		queryLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "semcore_query_latency_seconds",
			Help:    "End-to-end semantic_search latency.",
			Buckets: latencyBuckets,
		}),
		batchEmbedDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "semcore_batch_embed_duration_seconds",
			Help:    "Duration of one scanner/orchestrator embed batch call.",
			Buckets: latencyBuckets,
		}),
		upsertDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "semcore_point_upsert_duration_seconds",
			Help:    "Duration of one vector-store upsert call.",
			Buckets: latencyBuckets,
		}),
		cacheHitRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "semcore_cache_l1_hit_rate",
			Help: "L1 cache hit rate, sampled on demand (targets >=0.95 steady state).",
		}),
		rssBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "semcore_process_rss_bytes",
			Help: "Process resident set size, sampled by the memory profiler.",
		}),
		goroutines: f.NewGauge(prometheus.GaugeOpts{
			Name: "semcore_goroutines",
			Help: "Current goroutine count.",
		}),
	}
}

// Handler returns the promhttp handler serving this Registry's instruments.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing Handler() at addr until ctx is
// cancelled. Dispatched onto its own goroutine by the caller; Serve blocks.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// RecordRequest increments the request counter for component/operation.
func (r *Registry) RecordRequest(component, operation string) {
	if r == nil {
		return
	}
	r.requestsTotal.WithLabelValues(component, operation).Inc()
}

// RecordError increments the error counter for component, partitioned by
// the semerr.Kind string the caller passes.
func (r *Registry) RecordError(component, kind string) {
	if r == nil {
		return
	}
	r.errorsTotal.WithLabelValues(component, kind).Inc()
}

// RecordBytes tracks bytes read/written by a component.
func (r *Registry) RecordBytes(component string, in, out int64) {
	if r == nil {
		return
	}
	if in > 0 {
		r.bytesIn.WithLabelValues(component).Add(float64(in))
	}
	if out > 0 {
		r.bytesOut.WithLabelValues(component).Add(float64(out))
	}
}

// RecordTokens adds to the cumulative provider token/cost totals.
func (r *Registry) RecordTokens(tokens int64, costUSD float64) {
	if r == nil {
		return
	}
	if tokens > 0 {
		r.tokensTotal.Add(float64(tokens))
	}
	if costUSD > 0 {
		r.costTotal.Add(costUSD)
	}
}

// ObserveQueryLatency records one semantic_search call's wall time.
func (r *Registry) ObserveQueryLatency(d time.Duration) {
	if r == nil {
		return
	}
	r.queryLatency.Observe(d.Seconds())
}

// ObserveBatchEmbedDuration records one embed batch's wall time.
func (r *Registry) ObserveBatchEmbedDuration(d time.Duration) {
	if r == nil {
		return
	}
	r.batchEmbedDur.Observe(d.Seconds())
}

// ObserveUpsertDuration records one vector-store upsert call's wall time.
func (r *Registry) ObserveUpsertDuration(d time.Duration) {
	if r == nil {
		return
	}
	r.upsertDur.Observe(d.Seconds())
}

// SetCacheHitRate publishes the cache's current L1 hit rate (see
// cache.Stats.HitRate) as a gauge for the /metrics endpoint and the
// dashboard.
func (r *Registry) SetCacheHitRate(rate float64) {
	if r == nil {
		return
	}
	r.cacheHitRate.Set(rate)
}

// Snapshot gathers every instrument into a plain struct for in-process
// consumers like a status TUI, which would otherwise need to scrape its
// own /metrics endpoint over loopback HTTP just to read its own numbers.
type Snapshot struct {
	RequestsTotal   float64
	ErrorsTotal     float64
	BytesIn         float64
	BytesOut        float64
	TokensTotal     float64
	CostTotal       float64
	QueryLatencyAvg time.Duration
	BatchEmbedAvg   time.Duration
	UpsertAvg       time.Duration
	CacheHitRate    float64
	RSSBytes        uint64
	Goroutines      int
}

func (r *Registry) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	families, err := r.reg.Gather()
	if err != nil {
		return Snapshot{}
	}

	var s Snapshot
	for _, f := range families {
		switch f.GetName() {
		case "semcore_requests_total":
			s.RequestsTotal = sumCounters(f)
		case "semcore_errors_total":
			s.ErrorsTotal = sumCounters(f)
		case "semcore_bytes_in_total":
			s.BytesIn = sumCounters(f)
		case "semcore_bytes_out_total":
			s.BytesOut = sumCounters(f)
		case "semcore_embedder_tokens_total":
			s.TokensTotal = sumCounters(f)
		case "semcore_embedder_cost_total":
			s.CostTotal = sumCounters(f)
		case "semcore_query_latency_seconds":
			s.QueryLatencyAvg = avgHistogram(f)
		case "semcore_batch_embed_duration_seconds":
			s.BatchEmbedAvg = avgHistogram(f)
		case "semcore_point_upsert_duration_seconds":
			s.UpsertAvg = avgHistogram(f)
		case "semcore_cache_l1_hit_rate":
			s.CacheHitRate = sumGauges(f)
		case "semcore_process_rss_bytes":
			s.RSSBytes = uint64(sumGauges(f))
		case "semcore_goroutines":
			s.Goroutines = int(sumGauges(f))
		}
	}
	return s
}

func sumCounters(f *dto.MetricFamily) float64 {
	var total float64
	for _, m := range f.GetMetric() {
		total += m.GetCounter().GetValue()
	}
	return total
}

func sumGauges(f *dto.MetricFamily) float64 {
	var total float64
	for _, m := range f.GetMetric() {
		total += m.GetGauge().GetValue()
	}
	return total
}

func avgHistogram(f *dto.MetricFamily) time.Duration {
	var sum float64
	var count uint64
	for _, m := range f.GetMetric() {
		h := m.GetHistogram()
		sum += h.GetSampleSum()
		count += h.GetSampleCount()
	}
	if count == 0 {
		return 0
	}
	return time.Duration(sum / float64(count) * float64(time.Second))
}

// setProcessStats is called by the profiler on each sample tick.
func (r *Registry) setProcessStats(rssBytes uint64, goroutines int) {
	if r == nil {
		return
	}
	r.rssBytes.Set(float64(rssBytes))
	r.goroutines.Set(float64(goroutines))
}
