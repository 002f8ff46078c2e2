package port

import (
	"time"

	"github.com/gezibash/ifrau/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus meters a port reports to. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	MessagesDropped  *prometheus.CounterVec
	PendingRequests  prometheus.Gauge
	WaitingRequests  prometheus.Gauge
	RequestDuration  *prometheus.HistogramVec
	HandlerErrors    prometheus.Counter
}

// NewMetrics creates port meters and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ifrau_messages_sent_total",
			Help: "Messages posted to the channel.",
		}, []string{"type"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ifrau_messages_received_total",
			Help: "Inbound messages accepted by the validator.",
		}, []string{"type"}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ifrau_messages_dropped_total",
			Help: "Inbound messages ignored.",
		}, []string{"reason"}),
		PendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ifrau_pending_requests",
			Help: "Outbound requests awaiting a response.",
		}),
		WaitingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ifrau_waiting_requests",
			Help: "Inbound requests buffered until a handler is registered.",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ifrau_request_duration_seconds",
			Help:    "Time from sending a request to its response.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		HandlerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ifrau_handler_errors_total",
			Help: "Request handlers that returned an error.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.MessagesSent,
			m.MessagesReceived,
			m.MessagesDropped,
			m.PendingRequests,
			m.WaitingRequests,
			m.RequestDuration,
			m.HandlerErrors,
		)
	}
	return m
}

func (m *Metrics) sent(kind protocol.Kind) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) received(kind protocol.Kind) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) dropped(reason string) {
	if m == nil {
		return
	}
	m.MessagesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) pending(delta int) {
	if m == nil {
		return
	}
	m.PendingRequests.Add(float64(delta))
}

func (m *Metrics) waiting(delta int) {
	if m == nil {
		return
	}
	m.WaitingRequests.Add(float64(delta))
}

func (m *Metrics) completed(start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RequestDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

func (m *Metrics) handlerFailed() {
	if m == nil {
		return
	}
	m.HandlerErrors.Inc()
}
