package http

import (
	"docexport/internal/controller/http/handlers"
	"docexport/pkg/health"
	"docexport/pkg/logger"
	"docexport/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Router struct {
	queue    handlers.QueueHandler
	registry *health.Registry
}

func NewRouter(queue handlers.QueueHandler, registry *health.Registry) *Router {
	return &Router{
		queue:    queue,
		registry: registry,
	}
}

func (r *Router) SetUp(engine *gin.Engine) {
	engine.Use(logger.CorrelationMiddleware())
	engine.Use(logger.GinRequestLogger())
	engine.Use(metrics.GinMiddleware())

	engine.GET("/health/live", health.LivenessHandler())
	engine.GET("/health/ready", health.ReadinessHandler(r.registry, health.DefaultTimeout))
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	v1 := engine.Group("/api/v1/queue")
	{
		v1.POST("/export", r.queue.Export)
		v1.POST("/export/batch", r.queue.ExportBatch)
		v1.GET("/status", r.queue.Status)
		v1.GET("/health", r.queue.Health)
		v1.GET("/metrics", r.queue.Metrics)
		v1.GET("/monitoring/export", r.queue.MonitoringExport)
		v1.GET("/consumer/lag", r.queue.ConsumerLag)
		v1.GET("/topic/stats", r.queue.TopicStats)
		v1.POST("/consumer/restart", r.queue.RestartConsumer)
		v1.POST("/producer/restart", r.queue.RestartProducer)
	}
}
