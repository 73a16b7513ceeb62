package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gaugeClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "telemetry_clients_connected",
		Help: "Telemetry WebSocket clients currently connected.",
	})
	metricConnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_connections_total",
		Help: "Telemetry WebSocket connections accepted.",
	}, []string{"authenticated"})
	metricMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_messages_total",
		Help: "Telemetry client messages by type.",
	}, []string{"type"})
)
