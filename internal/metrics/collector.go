// Package metrics exposes dispatch pipeline metrics to Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/davidbz/heyboss/internal/domain"
)

const namespace = "heyboss"

// Collector turns pipeline events into Prometheus metrics.
// It is an observability.Subscriber.
type Collector struct {
	registry *prometheus.Registry

	dispatchTotal     *prometheus.CounterVec
	dispatchDuration  *prometheus.HistogramVec
	transportAttempts *prometheus.CounterVec
	mediaSaved        *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		dispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_total",
				Help:      "Total number of dispatch calls by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		dispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Dispatch duration in seconds, until the stream ends for streaming calls",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"mode"},
		),
		transportAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_attempts_total",
				Help:      "Total number of HTTP attempts by result",
			},
			[]string{"result"},
		),
		mediaSaved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "media_saved_total",
				Help:      "Total number of files written by media type",
			},
			[]string{"type"},
		),
	}
}

// Publish records the event. Unknown event types are ignored.
func (c *Collector) Publish(_ context.Context, eventType string, data map[string]interface{}) {
	switch eventType {
	case domain.EventDispatchCompleted:
		mode := label(data, "mode")
		c.dispatchTotal.WithLabelValues(mode, label(data, "outcome")).Inc()
		if seconds, ok := data["duration"].(float64); ok {
			c.dispatchDuration.WithLabelValues(mode).Observe(seconds)
		}
	case domain.EventTransportAttempt:
		c.transportAttempts.WithLabelValues(label(data, "result")).Inc()
	case domain.EventMediaSaved:
		c.mediaSaved.WithLabelValues(label(data, "type")).Inc()
	}
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func label(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok && v != "" {
		return v
	}
	return "unknown"
}
