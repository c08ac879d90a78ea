// Package metrics exposes forwarding outcomes as Prometheus series.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/DabengBa/ccg-gateway/internal/models"
	"github.com/DabengBa/ccg-gateway/internal/services/outcome"
)

// Collector implements outcome.Consumer.
type Collector struct {
	attempts         *prometheus.CounterVec
	attemptDuration  *prometheus.HistogramVec
	providerFailures *prometheus.CounterVec
	noProvider       *prometheus.CounterVec
	blacklisted      *prometheus.CounterVec
	blacklistedUntil *prometheus.GaugeVec
}

// NewCollector registers the series on reg. Pass prometheus.DefaultRegisterer
// to expose them through promhttp.Handler().
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		attempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ccg_forward_attempts_total",
				Help: "Total number of forwarding attempts",
			},
			[]string{"category", "provider", "mode", "result"},
		),
		attemptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ccg_forward_duration_seconds",
				Help:    "Forwarding attempt duration in seconds, streams included",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"category", "provider", "mode"},
		),
		providerFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ccg_provider_failures_total",
				Help: "Failed forwarding attempts by reason",
			},
			[]string{"provider", "reason", "status"},
		),
		noProvider: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ccg_no_provider_available_total",
				Help: "Requests rejected because every provider was blacklisted or none was configured",
			},
			[]string{"category"},
		),
		blacklisted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ccg_provider_blacklisted_total",
				Help: "Blacklist windows opened per provider",
			},
			[]string{"provider", "category"},
		),
		blacklistedUntil: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ccg_provider_blacklisted_until_seconds",
				Help: "Unix time at which the latest blacklist window of a provider ends",
			},
			[]string{"provider", "category"},
		),
	}
}

func (c *Collector) OnOutcome(_ context.Context, ev outcome.Event) {
	mode := "buffered"
	if ev.Streaming {
		mode = "stream"
	}
	result := "success"
	if !ev.Success {
		result = "failure"
	}

	c.attempts.WithLabelValues(string(ev.Category), ev.ProviderName, mode, result).Inc()
	c.attemptDuration.WithLabelValues(string(ev.Category), ev.ProviderName, mode).Observe(ev.Duration.Seconds())

	if !ev.Success {
		status := ""
		if ev.StatusCode > 0 {
			status = strconv.Itoa(ev.StatusCode)
		}
		c.providerFailures.WithLabelValues(ev.ProviderName, ev.Reason, status).Inc()
	}
}

// NoProviderAvailable counts a request rejected with 503.
func (c *Collector) NoProviderAvailable(category string) {
	c.noProvider.WithLabelValues(category).Inc()
}

// ProviderBlacklisted records a newly opened blacklist window. It matches
// health.Tracker.OnBlacklist.
func (c *Collector) ProviderBlacklisted(p *models.Provider, until time.Time) {
	c.blacklisted.WithLabelValues(p.Name, string(p.Category)).Inc()
	c.blacklistedUntil.WithLabelValues(p.Name, string(p.Category)).Set(float64(until.Unix()))
}
