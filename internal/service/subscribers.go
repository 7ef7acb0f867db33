package service

import (
	"context"
	"fmt"

	"github.com/zhushou-next/internal/constants"
	"github.com/zhushou-next/internal/event"
	"github.com/zhushou-next/internal/logger"
	"github.com/zhushou-next/internal/queue"
)

// RegisterSubscribers 注册计费域的事件订阅者。
// 权益解锁、续费收口、告警都通过事件总线与生命周期驱动解耦。
func RegisterSubscribers(bus *event.Bus, billing *BillingService, renewal *RenewalService, queueClient *queue.Client) {
	// 支付成功：推送权益解锁任务
	bus.Register(constants.EventPaymentSuccess, "entitlement_unlock", func(ctx context.Context, evt event.Event) error {
		if evt.UserID == "" {
			return nil
		}
		applied, _ := evt.Payload["applied"].(bool)
		if !applied {
			return nil
		}
		amountFen, _ := evt.Payload["amount_fen"].(int64)
		return queueClient.EnqueueEntitlementUnlock(queue.EntitlementUnlockPayload{
			OrderNo:   evt.OrderNo,
			UserID:    evt.UserID,
			AmountFen: amountFen,
		})
	})

	// 支付成功：续费订单收口
	if renewal != nil {
		bus.Register(constants.EventPaymentSuccess, "renewal_completion", func(ctx context.Context, evt event.Event) error {
			return renewal.HandleOrderPaid(ctx, evt.OrderNo)
		})
		bus.Register(constants.EventPaymentFailed, "renewal_retry", func(ctx context.Context, evt event.Event) error {
			return renewal.HandleOrderFailed(ctx, evt.OrderNo, payloadString(evt.Payload, "reason"))
		})
	}

	// 无法匹配订单的通知：user_id 为空，推送告警
	bus.Register(constants.EventWildcard, "unmatched_alert", func(ctx context.Context, evt event.Event) error {
		if evt.UserID != "" {
			return nil
		}
		return queueClient.EnqueueBillingAlert(queue.BillingAlertPayload{
			Kind:    "unmatched_notification",
			OrderNo: evt.OrderNo,
			Detail:  fmt.Sprintf("事件 %s 未匹配到订单", evt.Type),
		})
	})

	// 退款失败：推送告警
	bus.Register(constants.EventRefundFailed, "refund_failed_alert", func(ctx context.Context, evt event.Event) error {
		return queueClient.EnqueueBillingAlert(queue.BillingAlertPayload{
			Kind:    "refund_failed",
			OrderNo: evt.OrderNo,
			UserID:  evt.UserID,
			Detail:  payloadString(evt.Payload, "reason"),
		})
	})

	logger.Infow("billing_subscribers_registered")
}

func payloadString(payload map[string]interface{}, key string) string {
	if payload == nil {
		return ""
	}
	if value, ok := payload[key].(string); ok {
		return value
	}
	return ""
}
