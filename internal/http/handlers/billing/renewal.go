package billing

import (
	"context"
	"strconv"
	"strings"

	"github.com/zhushou-next/internal/http/response"

	"github.com/gin-gonic/gin"
)

// StartRenewal 启动续费调度循环。重复启动是幂等的。
func (h *Handler) StartRenewal(c *gin.Context) {
	// 调度器生命周期独立于请求
	h.RenewalService.Start(context.Background())
	response.Success(c, gin.H{"running": h.RenewalService.Running()})
}

// StopRenewal 停止续费调度循环
func (h *Handler) StopRenewal(c *gin.Context) {
	h.RenewalService.Stop()
	response.Success(c, gin.H{"running": h.RenewalService.Running()})
}

// TriggerRenewal 手动触发续费
func (h *Handler) TriggerRenewal(c *gin.Context) {
	subscriptionID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	task, err := h.RenewalService.TriggerRenewal(c.Request.Context(), subscriptionID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, task)
}

// ListRenewalTasks 查询订阅的续费任务
func (h *Handler) ListRenewalTasks(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("subscription_id"))
	subscriptionID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || subscriptionID == 0 {
		response.BadRequest(c, "subscription_id 参数错误")
		return
	}
	tasks, err := h.RenewalService.GetTasks(uint(subscriptionID))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, tasks)
}

// CancelRenewalTask 取消未完结的续费任务
func (h *Handler) CancelRenewalTask(c *gin.Context) {
	taskID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	if err := h.RenewalService.CancelTask(taskID); err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, nil)
}

func parseUintParam(c *gin.Context, key string) (uint, bool) {
	raw := strings.TrimSpace(c.Param(key))
	parsed, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || parsed == 0 {
		response.BadRequest(c, key+" 参数错误")
		return 0, false
	}
	return uint(parsed), true
}
