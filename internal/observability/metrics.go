package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gezibash/ifrau/pkg/port"
)

// Metrics holds the Prometheus registry, the command and stream meters, and
// the port meters every port in the process reports to.
type Metrics struct {
	Registry          *prometheus.Registry
	OperationDuration *prometheus.HistogramVec
	OperationTotal    *prometheus.CounterVec
	StreamFrames      *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	Port              *port.Metrics
}

// NewMetrics creates a custom Prometheus registry with the ifrau meters.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	opDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ifrau_operation_duration_seconds",
		Help:    "Duration of commands and channel streams in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	opTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ifrau_operation_total",
		Help: "Commands and channel streams by outcome.",
	}, []string{"operation", "status"})

	frames := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ifrau_stream_frames_total",
		Help: "Channel frames carried over gRPC streams.",
	}, []string{"direction"})

	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ifrau_errors_total",
		Help: "Errors by operation and type.",
	}, []string{"operation", "type"})

	reg.MustRegister(opDuration, opTotal, frames, errorsTotal)

	return &Metrics{
		Registry:          reg,
		OperationDuration: opDuration,
		OperationTotal:    opTotal,
		StreamFrames:      frames,
		ErrorsTotal:       errorsTotal,
		Port:              port.NewMetrics(reg),
	}
}
