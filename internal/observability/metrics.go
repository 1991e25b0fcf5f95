package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	gatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_gateway_requests_total",
			Help: "Total number of REST calls made to the chat gateway.",
		},
		[]string{"op", "status"},
	)
	gatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "console_gateway_request_duration_seconds",
			Help:    "Chat gateway request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	wsConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "console_ws_connected",
			Help: "Whether the websocket of the given kind is connected.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	wsReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_ws_reconnects_total",
			Help: "Total number of websocket reconnect attempts.",
		},
		[]string{"kind"},
	)
	unreadMessages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "console_unread_messages",
			Help: "Unread messages summed over all inactive sessions.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "console_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		gatewayRequestsTotal,
		gatewayRequestDuration,
		wsConnected,
		wsEventsTotal,
		wsReconnectsTotal,
		unreadMessages,
		amqpPublishErrorsTotal,
	)
}

func ObserveGatewayRequest(op, status string, seconds float64) {
	gatewayRequestsTotal.WithLabelValues(op, status).Inc()
	gatewayRequestDuration.WithLabelValues(op).Observe(seconds)
}

func SetWSConnected(kind string, connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	wsConnected.WithLabelValues(kind).Set(value)
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncWSReconnect(kind string) {
	wsReconnectsTotal.WithLabelValues(kind).Inc()
}

func SetUnreadTotal(count int) {
	unreadMessages.Set(float64(count))
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
