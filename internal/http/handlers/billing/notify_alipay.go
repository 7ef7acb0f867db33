package billing

import (
	"strings"

	"github.com/zhushou-next/internal/constants"
	"github.com/zhushou-next/internal/logger"
	"github.com/zhushou-next/internal/payment/alipay"

	"github.com/gin-gonic/gin"
)

// HandleAlipayNotify 支付宝异步通知入口。
// 验签先于任何订单访问，失败直接回 fail。
func (h *Handler) HandleAlipayNotify(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		logger.Warnw("alipay_notify_form_parse_failed", "error", err)
		c.String(200, constants.AlipayNotifyAckFail)
		return
	}
	form := c.Request.Form

	logger.Infow("alipay_notify_received",
		"client_ip", c.ClientIP(),
		"out_trade_no", strings.TrimSpace(form.Get("out_trade_no")),
		"trade_no", strings.TrimSpace(form.Get("trade_no")),
		"trade_status", strings.TrimSpace(form.Get("trade_status")),
	)

	if err := alipay.VerifyNotify(h.AlipayConfig, form); err != nil {
		logger.Warnw("alipay_notify_signature_invalid",
			"out_trade_no", strings.TrimSpace(form.Get("out_trade_no")),
			"error", err,
		)
		c.String(200, constants.AlipayNotifyAckFail)
		return
	}

	notification, err := alipay.ParseNotify(form)
	if err != nil {
		logger.Warnw("alipay_notify_parse_failed", "error", err)
		c.String(200, constants.AlipayNotifyAckFail)
		return
	}
	if notification == nil {
		// 中间态（如 WAIT_BUYER_PAY），确认收到即可
		c.String(200, constants.AlipayNotifyAckSuccess)
		return
	}

	notifyID := strings.TrimSpace(form.Get("notify_id"))
	if h.BillingService.IsNotifyProcessed(c.Request.Context(), constants.ProviderAlipay, notifyID) {
		logger.Infow("alipay_notify_duplicate", "notify_id", notifyID)
		c.String(200, constants.AlipayNotifyAckSuccess)
		return
	}

	// 处理失败时不写去重标记，fail 应答触发的重投可以再次处理
	if err := h.BillingService.HandleNotification(c.Request.Context(), notification); err != nil {
		logger.Errorw("alipay_notify_handle_failed",
			"order_no", notification.OrderNo,
			"error", err,
		)
		c.String(200, constants.AlipayNotifyAckFail)
		return
	}
	h.BillingService.MarkNotifyProcessed(c.Request.Context(), constants.ProviderAlipay, notifyID)

	logger.Infow("alipay_notify_processed",
		"order_no", notification.OrderNo,
		"kind", notification.Kind,
	)
	c.String(200, constants.AlipayNotifyAckSuccess)
}
