package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// BuildInfoName is the constant gauge carrying the running version.
const BuildInfoName = "graylogic_bulb_build_info"

// NewRegistry builds a registry holding the Go runtime and process
// collectors, a build_info gauge and the given collectors.
//
// It panics if a collector is registered twice, like MustRegister.
func NewRegistry(version string, extra ...prometheus.Collector) *prometheus.Registry {
	registry := prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        BuildInfoName,
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"version": version},
		}, func() float64 { return 1 }),
	)

	for _, c := range extra {
		registry.MustRegister(c)
	}

	return registry
}
