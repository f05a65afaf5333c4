package metrics

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection metrics
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_active",
		Help: "The current number of active WebSocket connections.",
	})
	TotalConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_connections_total",
		Help: "The total number of WebSocket connections accepted.",
	})
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_sessions_active",
		Help: "The current number of review sessions with at least one member.",
	})

	// Event metrics
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_received_total",
		Help: "The total number of events received from clients, by kind.",
	}, []string{"kind"})
	EventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_delivered_total",
		Help: "The total number of events delivered to clients, by kind.",
	}, []string{"kind"})
	EventsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_discarded_total",
		Help: "The total number of inbound events discarded, by reason.",
	}, []string{"reason"})
	DroppedWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_writes_dropped_total",
		Help: "The total number of deliveries dropped because a connection write failed.",
	})

	// Bus metrics
	BusPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_bus_published_total",
		Help: "The total number of envelopes published to the shared bus.",
	}, []string{"broker_type"})
	BusReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_bus_received_total",
		Help: "The total number of envelopes received from the shared bus.",
	}, []string{"broker_type"})
	BusErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_bus_errors_total",
		Help: "The total number of bus publish/subscribe failures.",
	}, []string{"broker_type"})
)

// StartServer starts the HTTP server for Prometheus metrics.
func StartServer(port int, path string) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	slog.Info("starting metrics server", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics server failed", "error", err)
			os.Exit(1)
		}
	}()
}
