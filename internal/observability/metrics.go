package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "im_http_requests_total",
			Help: "Total number of HTTP requests processed by the messaging service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "im_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "im_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "im_ws_events_total",
			Help: "Total number of inbound websocket events by outcome.",
		},
		[]string{"event", "outcome"},
	)
	onlineUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "im_presence_online_users",
			Help: "Number of users currently registered as online.",
		},
	)
	presenceTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "im_presence_transitions_total",
			Help: "Total number of presence transitions.",
		},
		[]string{"state"},
	)
	messagesRoutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "im_messages_routed_total",
			Help: "Total number of messages persisted and routed, by conversation type.",
		},
		[]string{"type"},
	)
	deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "im_deliveries_total",
			Help: "Total number of frames pushed to connections, by event.",
		},
		[]string{"event"},
	)
	slowConsumerDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "im_ws_slow_consumer_drops_total",
			Help: "Total number of connections dropped because their send queue was full.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "im_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		onlineUsers,
		presenceTransitionsTotal,
		messagesRoutedTotal,
		deliveriesTotal,
		slowConsumerDropsTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event, outcome string) {
	wsEventsTotal.WithLabelValues(event, outcome).Inc()
}

func SetOnlineUsers(n int) {
	onlineUsers.Set(float64(n))
}

func IncPresenceTransition(state string) {
	presenceTransitionsTotal.WithLabelValues(state).Inc()
}

func IncMessageRouted(conversationType string) {
	messagesRoutedTotal.WithLabelValues(conversationType).Inc()
}

func AddDeliveries(event string, n int) {
	deliveriesTotal.WithLabelValues(event).Add(float64(n))
}

func IncSlowConsumerDrop() {
	slowConsumerDropsTotal.Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
