package billing

import (
	"io"
	"net/http"
	"strings"

	"github.com/zhushou-next/internal/constants"
	"github.com/zhushou-next/internal/logger"
	"github.com/zhushou-next/internal/payment/wechatpay"

	"github.com/gin-gonic/gin"
)

// HandleWechatNotify 微信支付回调入口。
// 验签和解密在任何订单处理之前完成，验签失败直接拒绝。
func (h *Handler) HandleWechatNotify(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		logger.Warnw("wechat_notify_body_read_failed", "error", err)
		respondWechatNotify(c, false)
		return
	}

	headers := wechatpay.NotifyHeaders{
		Timestamp: strings.TrimSpace(c.GetHeader("Wechatpay-Timestamp")),
		Nonce:     strings.TrimSpace(c.GetHeader("Wechatpay-Nonce")),
		Signature: strings.TrimSpace(c.GetHeader("Wechatpay-Signature")),
		Serial:    strings.TrimSpace(c.GetHeader("Wechatpay-Serial")),
	}
	logger.Infow("wechat_notify_received",
		"client_ip", c.ClientIP(),
		"body_size", len(body),
		"wechatpay_serial", headers.Serial,
	)

	decoded, err := wechatpay.VerifyAndDecodeNotify(h.WechatConfig, headers, body)
	if err != nil {
		logger.Warnw("wechat_notify_verify_failed", "error", err)
		respondWechatNotify(c, false)
		return
	}
	if decoded.Notification == nil {
		// 非终态事件（如 USERPAYING），直接确认
		logger.Infow("wechat_notify_ignored", "event_type", decoded.EventType)
		respondWechatNotify(c, true)
		return
	}

	if h.BillingService.IsNotifyProcessed(c.Request.Context(), constants.ProviderWechat, decoded.NotifyID) {
		logger.Infow("wechat_notify_duplicate", "notify_id", decoded.NotifyID)
		respondWechatNotify(c, true)
		return
	}

	// 处理失败时不写去重标记，FAIL 应答触发的重投可以再次处理
	if err := h.BillingService.HandleNotification(c.Request.Context(), decoded.Notification); err != nil {
		logger.Errorw("wechat_notify_handle_failed",
			"notify_id", decoded.NotifyID,
			"order_no", decoded.Notification.OrderNo,
			"error", err,
		)
		respondWechatNotify(c, false)
		return
	}
	h.BillingService.MarkNotifyProcessed(c.Request.Context(), constants.ProviderWechat, decoded.NotifyID)

	logger.Infow("wechat_notify_processed",
		"notify_id", decoded.NotifyID,
		"event_type", decoded.EventType,
		"order_no", decoded.Notification.OrderNo,
	)
	respondWechatNotify(c, true)
}

func respondWechatNotify(c *gin.Context, success bool) {
	if success {
		c.JSON(http.StatusOK, gin.H{
			"code":    "SUCCESS",
			"message": "成功",
		})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"code":    "FAIL",
		"message": "失败",
	})
}
