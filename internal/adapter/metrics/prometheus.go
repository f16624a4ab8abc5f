// Package metrics exposes reconciler counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"mccapes-reconciler/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mccapes_reconciler"

// Prometheus implements ports.Metrics on its own registry.
type Prometheus struct {
	registry        *prometheus.Registry
	walletOutcomes  *prometheus.CounterVec
	settlements     *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	ordersExpired   prometheus.Counter
	batchDuration   prometheus.Histogram
	lastBatchUnixTS prometheus.Gauge
}

// NewPrometheus registers the collectors on a fresh registry.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	p := &Prometheus{
		registry: reg,
		walletOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_checks_total",
			Help:      "Wallets checked by the reconciler, by chain and outcome.",
		}, []string{"chain", "outcome"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlement attempts, by source and outcome.",
		}, []string{"source", "outcome"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_rate_limited_total",
			Help:      "Calls skipped or refused because a provider was rate limiting.",
		}, []string{"provider"}),
		ordersExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_expired_total",
			Help:      "Stale non-crypto orders cancelled.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of reconcile batches.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		lastBatchUnixTS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_batch_timestamp_seconds",
			Help:      "Unix time the last reconcile batch finished.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.walletOutcomes, p.settlements, p.rateLimited,
		p.ordersExpired, p.batchDuration, p.lastBatchUnixTS,
	)
	return p
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *Prometheus) ObserveWallet(chain domain.Chain, outcome domain.WalletOutcome) {
	p.walletOutcomes.WithLabelValues(string(chain), string(outcome)).Inc()
}

func (p *Prometheus) ObserveSettlement(source domain.SettlementSource, outcome string) {
	p.settlements.WithLabelValues(string(source), outcome).Inc()
}

func (p *Prometheus) ObserveRateLimited(provider domain.Provider) {
	p.rateLimited.WithLabelValues(string(provider)).Inc()
}

func (p *Prometheus) ObserveExpired(n int) {
	if n > 0 {
		p.ordersExpired.Add(float64(n))
	}
}

func (p *Prometheus) ObserveBatch(d time.Duration) {
	p.batchDuration.Observe(d.Seconds())
	p.lastBatchUnixTS.Set(float64(time.Now().Unix()))
}

// Nop discards every observation.
type Nop struct{}

func (Nop) ObserveWallet(domain.Chain, domain.WalletOutcome)  {}
func (Nop) ObserveSettlement(domain.SettlementSource, string) {}
func (Nop) ObserveRateLimited(domain.Provider)                {}
func (Nop) ObserveExpired(int)                                {}
func (Nop) ObserveBatch(time.Duration)                        {}
