// Package metrics exposes the prometheus counters of the daemon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPMetrics is the registry for the public HTTP surface.
	HTTPMetrics = prometheus.NewRegistry()

	// SessionsStarted counts key generation sessions opened on this node.
	SessionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dkg_sessions_started",
		Help: "Number of key generation sessions opened",
	})
	// SessionsCompleted counts sessions that reached key derivation.
	SessionsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dkg_sessions_completed",
		Help: "Number of key generation sessions completed",
	})
	// PeerFaults counts provably invalid protocol messages by fault kind.
	PeerFaults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dkg_peer_faults",
		Help: "Number of provably invalid protocol messages received",
	}, []string{"kind"})
	// APICallCounter counts requests by route.
	APICallCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "api_call_counter",
		Help: "Number of API calls that we have received",
	}, []string{"api_method"})
)

func init() {
	HTTPMetrics.MustRegister(collectors.NewGoCollector())
	HTTPMetrics.MustRegister(SessionsStarted, SessionsCompleted, PeerFaults, APICallCounter)
}

// Handler serves the HTTP metrics registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(HTTPMetrics, promhttp.HandlerOpts{})
}
