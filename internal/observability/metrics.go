package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webchat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webchat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcClientHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webchat_grpc_client_handled_total",
			Help: "Total number of gRPC calls made to the identity service.",
		},
		[]string{"grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "webchat_ws_active_connections",
			Help: "Number of joined websocket sessions.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webchat_ws_events_total",
			Help: "Total number of websocket lifecycle events.",
		},
		[]string{"event"},
	)
	authRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webchat_auth_rejections_total",
			Help: "Handshakes closed because the credential did not resolve.",
		},
		[]string{"reason"},
	)
	messagesPersistedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webchat_messages_persisted_total",
			Help: "Messages stored before fan-out.",
		},
	)
	inboundRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webchat_inbound_rejected_total",
			Help: "Inbound events reported back to their sender instead of broadcast.",
		},
		[]string{"code"},
	)
	fanoutDeliveriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webchat_fanout_deliveries_total",
			Help: "Events enqueued to member sessions.",
		},
	)
	fanoutDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webchat_fanout_dropped_members_total",
			Help: "Members removed from a group because their queue was full or closed.",
		},
	)
	brokerPublishErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webchat_broker_publish_errors_total",
			Help: "Failed publishes to the cross-process fan-out broker.",
		},
		[]string{"broker"},
	)
	brokerSubscribeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webchat_broker_subscribe_errors_total",
			Help: "Group subscriptions the fan-out broker failed or did not confirm.",
		},
		[]string{"broker"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webchat_amqp_publish_errors_total",
			Help: "Total number of lifecycle/audit event publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcClientHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		authRejectionsTotal,
		messagesPersistedTotal,
		inboundRejectedTotal,
		fanoutDeliveriesTotal,
		fanoutDroppedTotal,
		brokerPublishErrorsTotal,
		brokerSubscribeErrorsTotal,
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

// GRPCClientMetricsUnaryInterceptor counts identity-service calls by result code.
func GRPCClientMetricsUnaryInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		err := invoker(ctx, method, req, reply, cc, opts...)
		grpcClientHandledTotal.WithLabelValues(method, status.Code(err).String()).Inc()
		return err
	}
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncAuthRejection(reason string) {
	authRejectionsTotal.WithLabelValues(reason).Inc()
}

func IncMessagePersisted() {
	messagesPersistedTotal.Inc()
}

func IncInboundRejected(code string) {
	inboundRejectedTotal.WithLabelValues(code).Inc()
}

func AddFanoutDeliveries(n int) {
	fanoutDeliveriesTotal.Add(float64(n))
}

func IncFanoutDropped() {
	fanoutDroppedTotal.Inc()
}

func IncBrokerPublishError(broker string) {
	brokerPublishErrorsTotal.WithLabelValues(broker).Inc()
}

func IncBrokerSubscribeError(broker string) {
	brokerSubscribeErrorsTotal.WithLabelValues(broker).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
