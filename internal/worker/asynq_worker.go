package worker

import (
	"context"
	"encoding/json"

	"github.com/zhushou-next/internal/constants"
	"github.com/zhushou-next/internal/logger"
	"github.com/zhushou-next/internal/provider"
	"github.com/zhushou-next/internal/queue"

	"github.com/hibiken/asynq"
)

// Consumer 异步任务消费者
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskEntitlementUnlock, c.handleEntitlementUnlock)
	mux.HandleFunc(queue.TaskBillingAlert, c.handleBillingAlert)
	mux.HandleFunc(queue.TaskRenewalNotify, c.handleRenewalNotify)
}

// handleEntitlementUnlock 支付成功后的权益解锁。
// 订单状态为准：只有本地确认已支付的订单才解锁。
func (c *Consumer) handleEntitlementUnlock(_ context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		return nil
	}
	var payload queue.EntitlementUnlockPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_entitlement_unlock_unmarshal_failed", "error", err)
		return err
	}
	if payload.OrderNo == "" || payload.UserID == "" {
		logger.Debugw("worker_entitlement_unlock_skip_invalid_payload", "order_no", payload.OrderNo)
		return nil
	}
	order, err := c.OrderRepo.GetByOrderNo(payload.OrderNo)
	if err != nil {
		logger.Warnw("worker_entitlement_unlock_fetch_order_failed", "order_no", payload.OrderNo, "error", err)
		return err
	}
	if order == nil {
		logger.Debugw("worker_entitlement_unlock_skip_order_not_found", "order_no", payload.OrderNo)
		return nil
	}
	// 任务可能晚于后续退款执行，以当前订单状态为准
	if order.Status != constants.OrderStatusPaid {
		logger.Infow("entitlement_unlock_skipped",
			"order_no", order.OrderNo,
			"status", order.Status,
		)
		return nil
	}
	logger.Infow("entitlement_unlocked",
		"order_no", order.OrderNo,
		"user_id", order.UserID,
		"order_type", order.OrderType,
		"amount_fen", order.Amount,
	)
	return nil
}

// handleBillingAlert 计费告警任务：输出告警日志，供外部采集
func (c *Consumer) handleBillingAlert(_ context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		return nil
	}
	var payload queue.BillingAlertPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_billing_alert_unmarshal_failed", "error", err)
		return err
	}
	logger.Errorw("billing_alert",
		"kind", payload.Kind,
		"order_no", payload.OrderNo,
		"user_id", payload.UserID,
		"detail", payload.Detail,
	)
	return nil
}

// handleRenewalNotify 续费结果通知任务
func (c *Consumer) handleRenewalNotify(_ context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		return nil
	}
	var payload queue.RenewalNotifyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_renewal_notify_unmarshal_failed", "error", err)
		return err
	}
	if payload.SubscriptionID == 0 {
		logger.Debugw("worker_renewal_notify_skip_invalid_payload")
		return nil
	}
	sub, err := c.SubscriptionRepo.GetByID(payload.SubscriptionID)
	if err != nil {
		logger.Warnw("worker_renewal_notify_fetch_subscription_failed",
			"subscription_id", payload.SubscriptionID, "error", err)
		return err
	}
	if sub == nil {
		logger.Debugw("worker_renewal_notify_skip_subscription_not_found",
			"subscription_id", payload.SubscriptionID)
		return nil
	}
	if payload.Success {
		logger.Infow("renewal_notify_success",
			"subscription_id", sub.ID,
			"user_id", sub.UserID,
			"order_no", payload.OrderNo,
			"current_period_end", sub.CurrentPeriodEnd,
		)
		return nil
	}
	logger.Warnw("renewal_notify_failure",
		"subscription_id", sub.ID,
		"user_id", sub.UserID,
		"reason", payload.Reason,
	)
	return nil
}
