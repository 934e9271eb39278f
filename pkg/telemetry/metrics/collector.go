package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Collector holds the process registry and the gateway's own metrics.
type Collector struct {
	registry *prometheus.Registry

	*RequestMetrics
}

// NewCollector creates a collector on registry. A nil registry gets a fresh
// one with the Go runtime and process collectors installed.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return &Collector{
		registry:       registry,
		RequestMetrics: NewRequestMetrics(registry),
	}
}

// Registry returns the registry other components register on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
