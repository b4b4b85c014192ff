package obs

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the counters/histograms/gauges the engine, reaper, and
// stores touch. Each operation gets its own CounterVec labeled by result.
type Metrics struct {
	ReserveTotal *prometheus.CounterVec // result=success|idempotent|insufficient|conflict|unavailable
	ExtendTotal  *prometheus.CounterVec // result=success|not_found|unavailable
	CommitTotal  *prometheus.CounterVec // result=success|conflict|unavailable
	ReleaseTotal *prometheus.CounterVec // result=success|absent|unavailable

	OpLatencyMS *prometheus.HistogramVec // op=reserve|extend|commit|release|snapshot

	HoldsLive       prometheus.Gauge
	ExpiredTotal    prometheus.Counter
	ReaperBatchSize prometheus.Histogram
	DivergenceTotal prometheus.Counter // commit step-3 ACS retries exhausted (DSS ahead of ACS)
	ACSErrorsTotal  *prometheus.CounterVec
	DSSErrorsTotal  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		ReserveTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "reservation_reserve_total", Help: "Total reserve attempts by result"},
			[]string{"result"},
		),
		ExtendTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "reservation_extend_total", Help: "Total extend attempts by result"},
			[]string{"result"},
		),
		CommitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "reservation_commit_total", Help: "Total commit attempts by result"},
			[]string{"result"},
		),
		ReleaseTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "reservation_release_total", Help: "Total release attempts by result"},
			[]string{"result"},
		),
		OpLatencyMS: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reservation_op_latency_ms",
				Help:    "Latency of reservation operations (ms)",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"op"},
		),
		HoldsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reservation_holds_live",
			Help: "Number of unexpired holds known to the ACS at last sweep",
		}),
		ExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reservation_expired_total",
			Help: "Total number of holds released by the reaper due to expiry",
		}),
		ReaperBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reservation_reaper_batch_size",
			Help:    "Number of holds released per reaper sweep",
			Buckets: prometheus.LinearBuckets(0, 16, 9),
		}),
		DivergenceTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reservation_commit_divergence_total",
			Help: "Commits where the ACS-side decrement could not be confirmed after bounded retry",
		}),
		ACSErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "reservation_acs_errors_total", Help: "ACS I/O errors by op"},
			[]string{"op"},
		),
		DSSErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "reservation_dss_errors_total", Help: "DSS I/O errors by op"},
			[]string{"op"},
		),
	}

	prometheus.MustRegister(
		m.ReserveTotal,
		m.ExtendTotal,
		m.CommitTotal,
		m.ReleaseTotal,
		m.OpLatencyMS,
		m.HoldsLive,
		m.ExpiredTotal,
		m.ReaperBatchSize,
		m.DivergenceTotal,
		m.ACSErrorsTotal,
		m.DSSErrorsTotal,
	)

	return m
}
