package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterStatsCollector registers a StatsCollector with the default registry.
func RegisterStatsCollector(source StatsSource) error {
	return prometheus.Register(NewStatsCollector(source))
}

// HTTPHandler returns the Prometheus metrics HTTP handler.
// This serves all promauto-registered metrics plus registered collectors.
func HTTPHandler() http.Handler {
	return promhttp.Handler()
}
