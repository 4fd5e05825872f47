// Package metrics holds the prometheus collectors shared by the agent and
// the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RemoteOperations counts calls made through the remote sync adapter
	RemoteOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wishsync",
		Name:      "remote_operations_total",
		Help:      "Remote store operations by table, operation and result.",
	}, []string{"table", "op", "result"})

	// SessionTransitions counts session state changes by target state
	SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wishsync",
		Name:      "session_transitions_total",
		Help:      "Session state transitions by target state.",
	}, []string{"state"})

	// CollabPatches counts collaboration patches by direction (inbound, outbound)
	CollabPatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wishsync",
		Name:      "collab_patches_total",
		Help:      "Collaboration patches by direction.",
	}, []string{"direction"})

	// CollabOpenChannels is the number of open collaboration channels
	CollabOpenChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wishsync",
		Name:      "collab_open_channels",
		Help:      "Collaboration channels currently open.",
	})

	// RelayConnections is the number of websocket clients connected to the relay
	RelayConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wishsync",
		Name:      "relay_connections",
		Help:      "Websocket clients connected to the relay.",
	})
)

// ObserveRemote records the outcome of a remote operation
func ObserveRemote(table, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	RemoteOperations.WithLabelValues(table, op, result).Inc()
}

// Handler returns the HTTP handler serving the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
