package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/EthanQC/guildgate/services/gateway_service/internal/ports/out"
)

const namespace = "gateway"

// Prometheus 网关指标
type Prometheus struct {
	connections      prometheus.Gauge
	connOpened       *prometheus.CounterVec
	connClosed       *prometheus.CounterVec
	authFailures     prometheus.Counter
	presenceChanges  *prometheus.CounterVec
	storeErrors      *prometheus.CounterVec
	eventsRouted     *prometheus.CounterVec
	framesDelivered  *prometheus.CounterVec
	framesDropped    *prometheus.CounterVec
	recipientsDenied *prometheus.CounterVec
	eventsRejected   *prometheus.CounterVec
}

var _ out.Metrics = (*Prometheus)(nil)

// NewPrometheus 创建并注册指标
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	byCategory := []string{"category"}
	m := &Prometheus{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections",
			Help: "Currently authenticated connections on this instance.",
		}),
		connOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_opened_total",
			Help: "Authenticated connections by client type.",
		}, []string{"client_type"}),
		connClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_closed_total",
			Help: "Closed connections by reason.",
		}, []string{"reason"}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "auth_failures_total",
			Help: "Handshakes rejected with an invalid, expired or missing token.",
		}),
		presenceChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "presence_changes_total",
			Help: "Users going online or offline.",
		}, []string{"status"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "presence_store_errors_total",
			Help: "Presence store operations that failed after retry.",
		}, []string{"op"}),
		eventsRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_routed_total",
			Help: "Domain events routed.",
		}, byCategory),
		framesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_delivered_total",
			Help: "Frames queued onto connections.",
		}, byCategory),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_dropped_total",
			Help: "Frames dropped because the connection queue was full or closed.",
		}, byCategory),
		recipientsDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "recipients_filtered_total",
			Help: "Recipients excluded by the channel view check.",
		}, byCategory),
		eventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_rejected_total",
			Help: "Domain events that could not be routed.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.connections, m.connOpened, m.connClosed, m.authFailures, m.presenceChanges, m.storeErrors,
		m.eventsRouted, m.framesDelivered, m.framesDropped, m.recipientsDenied, m.eventsRejected,
	)
	return m
}

func (m *Prometheus) ConnectionOpened(clientType string) {
	m.connections.Inc()
	m.connOpened.WithLabelValues(clientType).Inc()
}

func (m *Prometheus) ConnectionClosed(reason string) {
	m.connections.Dec()
	m.connClosed.WithLabelValues(reason).Inc()
}

func (m *Prometheus) AuthFailed() { m.authFailures.Inc() }

func (m *Prometheus) PresenceChanged(status string) {
	m.presenceChanges.WithLabelValues(status).Inc()
}

func (m *Prometheus) StoreError(op string) { m.storeErrors.WithLabelValues(op).Inc() }

func (m *Prometheus) EventRouted(category string, delivered, dropped, filtered int) {
	m.eventsRouted.WithLabelValues(category).Inc()
	m.framesDelivered.WithLabelValues(category).Add(float64(delivered))
	m.framesDropped.WithLabelValues(category).Add(float64(dropped))
	m.recipientsDenied.WithLabelValues(category).Add(float64(filtered))
}

func (m *Prometheus) EventRejected(reason string) {
	m.eventsRejected.WithLabelValues(reason).Inc()
}
