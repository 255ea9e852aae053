package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConfigReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glone_config_reloads_total",
			Help: "Number of configuration reloads in watch mode by result",
		},
		[]string{"result"},
	)

	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "glone_active_workers",
			Help: "Number of provider workers scheduled in watch mode",
		},
	)
)
