// Package metrics exposes the server's ambient observability surface:
// gauges and counters for the components that make up the running server,
// registered under the "kvsd" docker/go-metrics namespace and served over
// Prometheus's text exposition format.
package metrics

import (
	"net/http"

	dockermetrics "github.com/docker/go-metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the handles used throughout the server to report state.
type Metrics struct {
	SessionsActive     dockermetrics.Gauge
	BackupsActive      dockermetrics.Gauge
	NotificationsTotal dockermetrics.Counter
	JobsProcessedTotal dockermetrics.Counter
}

// New builds and registers every metric under one namespace. Calling it more
// than once per process would panic on duplicate registration, so the
// server constructs exactly one Metrics value at boot.
func New() *Metrics {
	ns := dockermetrics.NewNamespace("kvsd", "", nil)

	m := &Metrics{
		SessionsActive:     ns.NewGauge("sessions_active", "current count of non-FREE session slots", dockermetrics.Total),
		BackupsActive:      ns.NewGauge("backups_active", "in-flight BACKUP goroutines holding the snapshot semaphore", dockermetrics.Total),
		NotificationsTotal: ns.NewCounter("notifications_total", "store mutations published to the notification bus", dockermetrics.Total),
		JobsProcessedTotal: ns.NewCounter("jobs_processed_total", "job files the dispatcher finished, successfully or not", dockermetrics.Total),
	}

	dockermetrics.Register(ns)
	return m
}

// Handler serves the Prometheus text exposition format for every metric
// registered via New.
func Handler() http.Handler {
	return promhttp.Handler()
}
