package httpapi

import (
	"net/http"

	"ecorewards-engine/services/task"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Distribute is the webhook trigger. It runs synchronously so the caller
// sees the outcome; the scheduler goes through the queue instead.
func (h *Handler) Distribute(c *gin.Context) {
	period := c.Query("period")
	res, err := h.tasks.RunDistribution(c.Request.Context(), period, task.TriggerWebhook, "")
	if err != nil {
		zap.L().Warn("webhook distribution failed", zap.String("period", period), zap.Error(err))
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListDistributions(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}
	data, info, err := h.rewards.List(c.Request.Context(), page)
	if err != nil {
		c.Error(err)
		return
	}
	list(c, data, info)
}

func (h *Handler) GetDistribution(c *gin.Context) {
	d, err := h.rewards.Get(c.Request.Context(), c.Param("period"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) ListJobs(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}
	data, info, err := h.tasks.ListJobs(c.Request.Context(), c.Query("period"), page)
	if err != nil {
		c.Error(err)
		return
	}
	list(c, data, info)
}
