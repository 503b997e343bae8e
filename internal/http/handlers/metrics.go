package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes the Prometheus registry. Mounted outside the
// authenticated API group; scrape access is the deployment's concern.
func Metrics() http.Handler {
	return promhttp.Handler()
}
