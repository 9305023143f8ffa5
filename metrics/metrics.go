package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "relay_"

var (
	registerOnce sync.Once

	connectedClients   prometheus.Gauge
	registeredVehicles prometheus.Gauge

	eventsTotal   *prometheus.CounterVec
	commandsTotal prometheus.Counter
	droppedTotal  *prometheus.CounterVec
)

// Init registers the relay's collectors with the default registry. Safe to
// call more than once; recording functions are no-ops until it runs.
func Init() {
	registerOnce.Do(func() {
		connectedClients = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "connected_clients",
				Help: "Currently connected sessions",
			},
		)
		registeredVehicles = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "registered_vehicles",
				Help: "Vehicle ids with an active source registration",
			},
		)
		eventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_total",
				Help: "Fanned-out events by message type",
			},
			[]string{"type"},
		)
		commandsTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_total",
				Help: "Commands forwarded to vehicle channels",
			},
		)
		droppedTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dropped_messages_total",
				Help: "Messages dropped by reason",
			},
			[]string{"reason"},
		)

		prometheus.MustRegister(
			connectedClients,
			registeredVehicles,
			eventsTotal,
			commandsTotal,
			droppedTotal,
		)
	})
}

// SetConnectedClients records the current session count.
func SetConnectedClients(n int) {
	if connectedClients != nil {
		connectedClients.Set(float64(n))
	}
}

// SetRegisteredVehicles records the current registration count.
func SetRegisteredVehicles(n int) {
	if registeredVehicles != nil {
		registeredVehicles.Set(float64(n))
	}
}

// IncEvent counts one fanned-out event of the given message type.
func IncEvent(msgType string) {
	if eventsTotal != nil {
		eventsTotal.WithLabelValues(msgType).Inc()
	}
}

// IncCommand counts one forwarded command.
func IncCommand() {
	if commandsTotal != nil {
		commandsTotal.Inc()
	}
}

// IncDropped counts one dropped message by reason.
func IncDropped(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if droppedTotal != nil {
		droppedTotal.WithLabelValues(reason).Inc()
	}
}
