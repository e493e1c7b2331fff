package na

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the Prometheus instrumentation surface for a domain: ops
// in flight, per-context completion-queue depth, address-cache hit/miss
// counts, and cancellations. Nothing in pkg/na requires a Metrics to be
// attached; Domain.Metrics is nil until NewMetrics is called and wired in,
// matching the rest of the plugin's "framework decides what it wants"
// posture.
type Metrics struct {
	opsInFlight *prometheus.GaugeVec
	cqDepth     *prometheus.GaugeVec
	cacheHits   prometheus.GaugeFunc
	cacheMisses prometheus.GaugeFunc
	cancels     prometheus.Counter
}

// NewMetrics builds and registers the domain's collectors against reg,
// sourcing the cache hit/miss series from d's live counters.
func NewMetrics(reg prometheus.Registerer, d *Domain) *Metrics {
	m := &Metrics{
		opsInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "na_ofi",
			Name:      "ops_in_flight",
			Help:      "Operations posted to the provider and not yet completed, per context.",
		}, []string{"context_id"}),
		cqDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "na_ofi",
			Name:      "cq_depth",
			Help:      "Completion events read off a context's CQ in its last progress() pass.",
		}, []string{"context_id"}),
		cancels: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "na_ofi",
			Name:      "cancels_total",
			Help:      "Operations cancelled via Cancel.",
		}),
	}
	m.cacheHits = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "na_ofi",
		Name:      "addr_cache_hits_total",
		Help:      "Address-cache lookups resolved without a provider round trip.",
	}, func() float64 { return float64(d.cache.Hits()) })
	m.cacheMisses = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "na_ofi",
		Name:      "addr_cache_misses_total",
		Help:      "Address-cache lookups that required an address-vector insert.",
	}, func() float64 { return float64(d.cache.Misses()) })

	reg.MustRegister(m.opsInFlight, m.cqDepth, m.cacheHits, m.cacheMisses, m.cancels)
	return m
}

// ObserveCQDepth records how many events a context's last drainOnce call
// read off its CQ.
func (m *Metrics) ObserveCQDepth(contextID int, n int) {
	m.cqDepth.WithLabelValues(strconv.Itoa(contextID)).Set(float64(n))
}

// SetOpsInFlight records a context's count of posted, uncompleted ops.
func (m *Metrics) SetOpsInFlight(contextID int, n int) {
	m.opsInFlight.WithLabelValues(strconv.Itoa(contextID)).Set(float64(n))
}

// IncCancel records one cancellation.
func (m *Metrics) IncCancel() {
	m.cancels.Inc()
}
