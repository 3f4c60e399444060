package handlers

import (
	"errors"
	"net/http"

	"docexport/internal/queue"
	"github.com/gin-gonic/gin"
)

type QueueHandler struct {
	manager *queue.Manager
}

func NewQueueHandler(m *queue.Manager) QueueHandler {
	return QueueHandler{manager: m}
}

type ExportRequest struct {
	TemplateID      string         `json:"template_id" binding:"required"`
	TemplateVersion string         `json:"template_version"`
	Data            map[string]any `json:"data"`
	OutputFormat    string         `json:"output_format" binding:"omitempty,oneof=pdf docx xlsx html"`
	Priority        int            `json:"priority" binding:"omitempty,min=0,max=9"`
}

type BatchExportRequest struct {
	TemplateID      string           `json:"template_id" binding:"required"`
	TemplateVersion string           `json:"template_version"`
	DataList        []map[string]any `json:"data_list" binding:"required,min=1"`
	OutputFormat    string           `json:"output_format" binding:"omitempty,oneof=pdf docx xlsx html"`
	Priority        int              `json:"priority" binding:"omitempty,min=0,max=9"`
}

func (h *QueueHandler) Export(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	taskID, err := h.manager.SendExportTask(c.Request.Context(), queue.ExportTask{
		TemplateID:      req.TemplateID,
		TemplateVersion: req.TemplateVersion,
		Data:            req.Data,
		OutputFormat:    req.OutputFormat,
		Priority:        req.Priority,
	})
	if err != nil {
		respondQueueError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID, "status": "queued"})
}

func (h *QueueHandler) ExportBatch(c *gin.Context) {
	var req BatchExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	taskIDs, err := h.manager.SendBatchExportTasks(c.Request.Context(), queue.BatchExportTask{
		TemplateID:      req.TemplateID,
		TemplateVersion: req.TemplateVersion,
		DataList:        req.DataList,
		OutputFormat:    req.OutputFormat,
		Priority:        req.Priority,
	})
	if err != nil {
		// Partial acceptance is still reported so the caller can
		// retry only the remainder.
		c.JSON(http.StatusInternalServerError, gin.H{
			"message":  err.Error(),
			"task_ids": taskIDs,
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"task_ids": taskIDs, "status": "queued", "count": len(taskIDs)})
}

func (h *QueueHandler) Status(c *gin.Context) {
	status, err := h.manager.GetQueueStatus(c.Request.Context())
	if err != nil {
		respondQueueError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *QueueHandler) Health(c *gin.Context) {
	status, err := h.manager.GetQueueStatus(c.Request.Context())
	if err != nil {
		respondQueueError(c, err)
		return
	}

	code := http.StatusOK
	if !status.Health.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status.Health)
}

func (h *QueueHandler) Metrics(c *gin.Context) {
	m, err := h.manager.GetPerformanceMetrics(c.Request.Context())
	if err != nil {
		respondQueueError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *QueueHandler) MonitoringExport(c *gin.Context) {
	data, err := h.manager.ExportMonitoringData(c.Request.Context())
	if err != nil {
		respondQueueError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", []byte(data))
}

func (h *QueueHandler) ConsumerLag(c *gin.Context) {
	status, err := h.manager.GetQueueStatus(c.Request.Context())
	if err != nil {
		respondQueueError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"consumer_group": status.ConsumerGroup,
		"topic":          status.Topic,
		"lag":            status.Metrics.ConsumerLag,
		"total_lag":      status.Metrics.TotalLag,
	})
}

func (h *QueueHandler) TopicStats(c *gin.Context) {
	stats, err := h.manager.GetTopicStats(c.Request.Context())
	if err != nil {
		respondQueueError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *QueueHandler) RestartConsumer(c *gin.Context) {
	if err := h.manager.RestartConsumer(); err != nil {
		respondQueueError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "consumer restarted"})
}

func (h *QueueHandler) RestartProducer(c *gin.Context) {
	if err := h.manager.RestartProducer(); err != nil {
		respondQueueError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "producer restarted"})
}

func respondQueueError(c *gin.Context, err error) {
	var cfgErr *queue.ConfigError
	var sendErr *queue.SendError

	switch {
	case errors.Is(err, queue.ErrNotInitialized):
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": err.Error()})
	case errors.As(err, &cfgErr):
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	case errors.As(err, &sendErr):
		c.JSON(http.StatusBadGateway, gin.H{"message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
	}
}
