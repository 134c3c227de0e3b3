package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	FeedConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_feed_connections",
		Help: "Current number of active change feed subscriptions",
	})
	ChangeEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_change_events_total",
		Help: "Total number of row change notifications published",
	}, []string{"table", "type"})
	AIRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_ai_requests_total",
		Help: "Total number of AI assistant requests",
	}, []string{"kind", "outcome"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(FeedConnections, ChangeEventsTotal, AIRequestsTotal, HttpRequestsTotal, HttpRequestDuration)
}

// ObserveAI 记录一次 AI 调用结果。
func ObserveAI(kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	AIRequestsTotal.WithLabelValues(kind, outcome).Inc()
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
