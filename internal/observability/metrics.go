package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/visitpay/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	operationStatusError = "error"
	unmatchedRoute       = "unmatched"
)

// Metrics holds the prometheus collectors exported by visitpayd.
type Metrics struct {
	operations       *prometheus.CounterVec
	deliveryFailures prometheus.Counter
	httpRequests     *prometheus.CounterVec
	httpLatency      *prometheus.HistogramVec
}

// NewMetrics registers the visitpay collectors with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "visitpay_ledger_operations_total",
			Help: "Ledger operations processed, labeled by operation and status",
		}, []string{"operation", "status"}),
		deliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "visitpay_code_delivery_failures_total",
			Help: "One-time code deliveries that failed or had no sender",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "visitpay_http_requests_total",
			Help: "Total HTTP requests processed, labeled by status code",
		}, []string{"method", "route", "status"}),
		httpLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "visitpay_http_request_duration_seconds",
			Help:    "Latency distribution of HTTP requests",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"method", "route"}),
	}
}

// LogOperation counts ledger operations. It satisfies ledger.OperationLogger.
func (metrics *Metrics) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	metrics.operations.WithLabelValues(entry.Operation, entry.Status).Inc()
	if entry.Operation == ledger.OperationDeliverCode && entry.Status == operationStatusError {
		metrics.deliveryFailures.Inc()
	}
}

// GinMiddleware records request counts and latency per matched route.
func (metrics *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		started := time.Now()
		ctx.Next()
		route := ctx.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := ctx.Request.Method
		metrics.httpRequests.WithLabelValues(method, route, strconv.Itoa(ctx.Writer.Status())).Inc()
		metrics.httpLatency.WithLabelValues(method, route).Observe(time.Since(started).Seconds())
	}
}
