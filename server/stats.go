package server

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Stats collects server counters on a dedicated prometheus registry. All
// increment methods are safe to call on a nil receiver, turning collection
// into a no-op.
type Stats struct {
	registry *prometheus.Registry

	received    prometheus.Counter
	sent        prometheus.Counter
	parseErrors prometheus.Counter
	dispatched  prometheus.Counter
	deferred    prometheus.Counter
	dropped     prometheus.Counter
}

// NewStats creates the counters and registers them.
func NewStats() *Stats {
	st := &Stats{
		registry: prometheus.NewRegistry(),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "osc_server_received_datagrams_total",
			Help: "Number of datagrams received",
		}),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "osc_server_sent_datagrams_total",
			Help: "Number of datagrams sent",
		}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "osc_server_parse_errors_total",
			Help: "Number of datagrams discarded due to codec errors",
		}),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "osc_server_dispatched_messages_total",
			Help: "Number of message deliveries to matching nodes",
		}),
		deferred: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "osc_server_deferred_bundles_total",
			Help: "Number of bundles held for future delivery",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "osc_server_dropped_items_total",
			Help: "Number of queue items dropped on full queues",
		}),
	}

	st.registry.MustRegister(
		st.received, st.sent, st.parseErrors,
		st.dispatched, st.deferred, st.dropped,
	)

	return st
}

// Registry exposes the underlying registry, e.g. for additional collectors.
func (st *Stats) Registry() *prometheus.Registry { return st.registry }

// Start serves the metrics over HTTP on the given port.
func (st *Stats) Start(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(st.registry, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf(":%d", port)
	log.Debugf("starting metrics server on %s", addr)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Errorf("metrics server failed: %v", err)
		}
	}()
}

// IncReceived counts a received datagram.
func (st *Stats) IncReceived() {
	if st != nil {
		st.received.Inc()
	}
}

// IncSent counts a sent datagram.
func (st *Stats) IncSent() {
	if st != nil {
		st.sent.Inc()
	}
}

// IncParseError counts a datagram discarded due to a codec error.
func (st *Stats) IncParseError() {
	if st != nil {
		st.parseErrors.Inc()
	}
}

// IncDispatched counts a message delivery to a matching node.
func (st *Stats) IncDispatched() {
	if st != nil {
		st.dispatched.Inc()
	}
}

// IncDeferred counts a bundle held for future delivery.
func (st *Stats) IncDeferred() {
	if st != nil {
		st.deferred.Inc()
	}
}

// IncDropped counts a queue item dropped on a full queue.
func (st *Stats) IncDropped() {
	if st != nil {
		st.dropped.Inc()
	}
}
