package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zhushou-next/internal/cache"
	"github.com/zhushou-next/internal/constants"
	"github.com/zhushou-next/internal/event"
	"github.com/zhushou-next/internal/logger"
	"github.com/zhushou-next/internal/models"
	"github.com/zhushou-next/internal/payment"
	"github.com/zhushou-next/internal/payment/alipay"
	"github.com/zhushou-next/internal/payment/wechatpay"
	"github.com/zhushou-next/internal/queue"
	"github.com/zhushou-next/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const notifyReplayTTL = 24 * time.Hour

// BillingService 订单生命周期驱动。
// 回调归一化后的通知、续费调度器与管理接口都经由该服务
// 推进订单状态：守卫式状态迁移、流水落账、事件发布。
type BillingService struct {
	db           *gorm.DB
	orders       repository.OrderRepository
	transactions repository.TransactionRepository
	couponSvc    *CouponService
	bus          *event.Bus
	queueClient  *queue.Client
	wechatCfg    *wechatpay.Config
	alipayCfg    *alipay.Config
}

// NewBillingService 创建计费服务
func NewBillingService(
	db *gorm.DB,
	orders repository.OrderRepository,
	transactions repository.TransactionRepository,
	couponSvc *CouponService,
	bus *event.Bus,
	queueClient *queue.Client,
	wechatCfg *wechatpay.Config,
	alipayCfg *alipay.Config,
) *BillingService {
	return &BillingService{
		db:           db,
		orders:       orders,
		transactions: transactions,
		couponSvc:    couponSvc,
		bus:          bus,
		queueClient:  queueClient,
		wechatCfg:    wechatCfg,
		alipayCfg:    alipayCfg,
	}
}

// Bus 返回事件总线，供订阅方注册
func (s *BillingService) Bus() *event.Bus {
	return s.bus
}

// CreateOrderInput 下单输入
type CreateOrderInput struct {
	UserID          string
	OrderType       string
	Title           string
	AmountFen       int64
	Currency        string
	Provider        string
	InteractionMode string
	CouponCode      string
	ScopeRefID      uint
	ClientIP        string
}

// CreateOrderResult 下单结果
type CreateOrderResult struct {
	Order    *models.PaymentOrder
	PayURL   string
	QRCode   string
	Discount int64
}

// CreateOrder 创建支付订单并发起第三方下单。
// 优惠券校验、额度占用与订单落库在同一事务内完成。
func (s *BillingService) CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error) {
	input.UserID = strings.TrimSpace(input.UserID)
	input.Title = strings.TrimSpace(input.Title)
	if input.UserID == "" || input.AmountFen <= 0 {
		return nil, fmt.Errorf("%w: user_id 和 amount 必填", ErrOrderInputInvalid)
	}
	if !isValidOrderType(input.OrderType) {
		return nil, fmt.Errorf("%w: order_type %s", ErrOrderInputInvalid, input.OrderType)
	}
	if input.Provider != constants.ProviderWechat && input.Provider != constants.ProviderAlipay {
		return nil, fmt.Errorf("%w: %s", ErrProviderUnknown, input.Provider)
	}
	if input.Currency == "" {
		input.Currency = constants.CurrencyCNY
	}
	if input.InteractionMode == "" {
		input.InteractionMode = constants.PaymentInteractionQR
	}

	payableFen := input.AmountFen
	var validation *CouponValidation
	if strings.TrimSpace(input.CouponCode) != "" {
		var err error
		validation, err = s.couponSvc.Validate(input.CouponCode, input.UserID, input.OrderType, input.ScopeRefID, input.AmountFen)
		if err != nil {
			return nil, err
		}
		if !validation.Valid {
			return nil, fmt.Errorf("%w: %s", ErrCouponInvalid, validation.Reason)
		}
		payableFen = input.AmountFen - validation.Discount
	}
	if payableFen <= 0 {
		return nil, fmt.Errorf("%w: 折后金额必须大于零", ErrOrderInputInvalid)
	}

	order := &models.PaymentOrder{
		OrderNo:   generateOrderNo(),
		UserID:    input.UserID,
		OrderType: input.OrderType,
		Title:     input.Title,
		Amount:    payableFen,
		Currency:  input.Currency,
		Status:    constants.OrderStatusPending,
		Provider:  input.Provider,
		ClientIP:  strings.TrimSpace(input.ClientIP),
	}
	if validation != nil {
		order.CouponID = &validation.Coupon.ID
	}

	if err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.orders.WithTx(tx).Create(order); err != nil {
			return err
		}
		if validation != nil {
			return s.couponSvc.Redeem(tx, validation.Coupon, input.UserID, order.ID, validation.Discount)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	result := &CreateOrderResult{Order: order}
	if validation != nil {
		result.Discount = validation.Discount
	}

	switch input.Provider {
	case constants.ProviderWechat:
		created, err := wechatpay.CreatePayment(ctx, s.wechatCfg, wechatpay.CreateInput{
			OrderNo:     order.OrderNo,
			AmountFen:   order.Amount,
			Description: order.Title,
			ClientIP:    order.ClientIP,
		}, input.InteractionMode)
		if err != nil {
			s.rollbackUnpaidOrder(order)
			return nil, err
		}
		result.PayURL = created.PayURL
		result.QRCode = created.QRCode
	case constants.ProviderAlipay:
		created, err := alipay.CreatePayment(ctx, s.alipayCfg, alipay.CreateInput{
			OrderNo:   order.OrderNo,
			AmountFen: order.Amount,
			Subject:   order.Title,
		}, input.InteractionMode)
		if err != nil {
			s.rollbackUnpaidOrder(order)
			return nil, err
		}
		result.PayURL = created.PayURL
		result.QRCode = created.QRCode
	}

	logger.Infow("billing_order_created",
		"order_no", order.OrderNo,
		"user_id", order.UserID,
		"order_type", order.OrderType,
		"amount_fen", order.Amount,
		"discount_fen", result.Discount,
		"provider", order.Provider,
	)
	return result, nil
}

// IsNotifyProcessed 判断回调是否已成功处理过。
// 标记只在处理成功后写入（见 MarkNotifyProcessed），处理失败不占用标记，
// 渠道按非成功应答重投时可以再次驱动生命周期；并发重投由守卫式状态迁移兜底。
func (s *BillingService) IsNotifyProcessed(ctx context.Context, provider, notifyID string) bool {
	notifyID = strings.TrimSpace(notifyID)
	if notifyID == "" {
		return false
	}
	processed, err := cache.Exists(ctx, notifyDedupKey(provider, notifyID))
	if err != nil {
		logger.Warnw("billing_notify_dedup_failed", "provider", provider, "notify_id", notifyID, "error", err)
		return false
	}
	return processed
}

// MarkNotifyProcessed 回调处理成功后写入去重标记
func (s *BillingService) MarkNotifyProcessed(ctx context.Context, provider, notifyID string) {
	notifyID = strings.TrimSpace(notifyID)
	if notifyID == "" {
		return
	}
	if err := cache.SetJSON(ctx, notifyDedupKey(provider, notifyID), 1, notifyReplayTTL); err != nil {
		logger.Warnw("billing_notify_mark_failed", "provider", provider, "notify_id", notifyID, "error", err)
	}
}

func notifyDedupKey(provider, notifyID string) string {
	return fmt.Sprintf("billing:notify:%s:%s", provider, notifyID)
}

// HandleNotification 按通知种类分发到各生命周期入口
func (s *BillingService) HandleNotification(ctx context.Context, notification *payment.Notification) error {
	if notification == nil {
		return nil
	}
	switch notification.Kind {
	case payment.KindPaymentSuccess:
		return s.HandlePaymentSuccess(ctx, notification.Provider, notification.OrderNo,
			notification.ProviderRef, notification.AmountFen, notification.PaidAt, notification.Raw)
	case payment.KindPaymentFailed:
		return s.HandlePaymentFailed(ctx, notification.Provider, notification.OrderNo, notification.Reason)
	case payment.KindRefundSuccess:
		return s.HandleRefundSuccess(ctx, notification.Provider, notification.OrderNo,
			notification.ProviderRef, notification.RefundFen)
	case payment.KindRefundFailed:
		return s.HandleRefundFailed(ctx, notification.Provider, notification.OrderNo, notification.Reason)
	default:
		return fmt.Errorf("未知通知种类: %s", notification.Kind)
	}
}

// HandlePaymentSuccess 处理支付成功通知。
// 顺序固定：守卫迁移 -> 迁移生效才落流水 -> 无条件发事件。
// 订单缺失时事件仍然发出（user_id 为空），供告警订阅方感知。
func (s *BillingService) HandlePaymentSuccess(ctx context.Context, provider, orderNo, providerRef string, amountFen int64, paidAt *time.Time, raw map[string]interface{}) error {
	order, err := s.orders.GetByOrderNo(orderNo)
	if err != nil {
		return err
	}

	if order != nil && amountFen > 0 && amountFen != order.Amount {
		logger.Errorw("payment_amount_mismatch",
			"order_no", orderNo,
			"provider", provider,
			"expected_fen", order.Amount,
			"notified_fen", amountFen,
		)
		s.enqueueAlert("amount_mismatch", orderNo, order.UserID,
			fmt.Sprintf("期望 %d 分，通知 %d 分", order.Amount, amountFen))
		s.emit(ctx, constants.EventPaymentFailed, provider, orderNo, order.UserID, map[string]interface{}{
			"reason":       "amount_mismatch",
			"notified_fen": amountFen,
		})
		return nil
	}

	applied := false
	if order != nil {
		when := time.Now()
		if paidAt != nil {
			when = *paidAt
		}
		err = s.db.Transaction(func(tx *gorm.DB) error {
			var txErr error
			applied, txErr = s.orders.WithTx(tx).UpdateStatusGuarded(orderNo,
				[]string{constants.OrderStatusPending}, constants.OrderStatusPaid,
				map[string]interface{}{
					"provider_ref": providerRef,
					"paid_at":      when,
				})
			if txErr != nil {
				return txErr
			}
			if !applied {
				return nil
			}
			return s.transactions.WithTx(tx).Create(&models.Transaction{
				OrderID:     order.ID,
				OrderNo:     orderNo,
				Type:        constants.TransactionTypePayment,
				Status:      constants.TransactionStatusSuccess,
				Amount:      order.Amount,
				Currency:    order.Currency,
				Provider:    provider,
				ProviderRef: providerRef,
			})
		})
		if err != nil {
			return err
		}
	}

	userID := ""
	if order != nil {
		userID = order.UserID
	}
	s.emit(ctx, constants.EventPaymentSuccess, provider, orderNo, userID, map[string]interface{}{
		"provider_ref": providerRef,
		"amount_fen":   amountFen,
		"applied":      applied,
	})

	logger.Infow("payment_callback_processed",
		"order_no", orderNo,
		"provider", provider,
		"provider_ref", providerRef,
		"applied", applied,
		"order_found", order != nil,
	)
	return nil
}

// HandlePaymentFailed 处理支付失败/关单通知
func (s *BillingService) HandlePaymentFailed(ctx context.Context, provider, orderNo, reason string) error {
	order, err := s.orders.GetByOrderNo(orderNo)
	if err != nil {
		return err
	}

	applied := false
	if order != nil {
		err = s.db.Transaction(func(tx *gorm.DB) error {
			var txErr error
			applied, txErr = s.orders.WithTx(tx).UpdateStatusGuarded(orderNo,
				[]string{constants.OrderStatusPending}, constants.OrderStatusFailed, nil)
			if txErr != nil {
				return txErr
			}
			if !applied {
				return nil
			}
			return s.transactions.WithTx(tx).Create(&models.Transaction{
				OrderID:  order.ID,
				OrderNo:  orderNo,
				Type:     constants.TransactionTypePayment,
				Status:   constants.TransactionStatusFailed,
				Amount:   order.Amount,
				Currency: order.Currency,
				Provider: provider,
				Remark:   reason,
			})
		})
		if err != nil {
			return err
		}
	}

	userID := ""
	if order != nil {
		userID = order.UserID
	}
	s.emit(ctx, constants.EventPaymentFailed, provider, orderNo, userID, map[string]interface{}{
		"reason":  reason,
		"applied": applied,
	})
	return nil
}

// HandleRefundSuccess 处理退款成功通知。
// 按累计退款金额区分整单退款与部分退款：
// 累计达到订单金额 -> refunded，否则 -> partially_refunded。
func (s *BillingService) HandleRefundSuccess(ctx context.Context, provider, orderNo, providerRef string, refundFen int64) error {
	order, err := s.orders.GetByOrderNo(orderNo)
	if err != nil {
		return err
	}

	applied := false
	if order != nil && refundFen > 0 {
		duplicate, err := s.transactions.ExistsByProviderRef(constants.TransactionTypeRefund, providerRef)
		if err != nil {
			return err
		}
		if !duplicate {
			err = s.db.Transaction(func(tx *gorm.DB) error {
				ordersTx := s.orders.WithTx(tx)
				var txErr error
				applied, txErr = ordersTx.UpdateStatusGuarded(orderNo,
					[]string{constants.OrderStatusPaid, constants.OrderStatusPartiallyRefunded},
					constants.OrderStatusPartiallyRefunded,
					map[string]interface{}{
						"refund_amount": gorm.Expr("refund_amount + ?", refundFen),
					})
				if txErr != nil {
					return txErr
				}
				if !applied {
					return nil
				}
				// 终态判定基于累加后的行内值，并发退款下入口处的快照可能已过期
				fresh, txErr := ordersTx.GetByOrderNo(orderNo)
				if txErr != nil {
					return txErr
				}
				if fresh != nil && fresh.RefundAmount >= fresh.Amount {
					if _, txErr = ordersTx.UpdateStatusGuarded(orderNo,
						[]string{constants.OrderStatusPartiallyRefunded},
						constants.OrderStatusRefunded,
						map[string]interface{}{"refunded_at": time.Now()}); txErr != nil {
						return txErr
					}
				}
				return s.transactions.WithTx(tx).Create(&models.Transaction{
					OrderID:     order.ID,
					OrderNo:     orderNo,
					Type:        constants.TransactionTypeRefund,
					Status:      constants.TransactionStatusSuccess,
					Amount:      refundFen,
					Currency:    order.Currency,
					Provider:    provider,
					ProviderRef: providerRef,
				})
			})
			if err != nil {
				return err
			}
		}
	}

	userID := ""
	if order != nil {
		userID = order.UserID
	}
	s.emit(ctx, constants.EventRefundSuccess, provider, orderNo, userID, map[string]interface{}{
		"provider_ref": providerRef,
		"refund_fen":   refundFen,
		"applied":      applied,
	})
	return nil
}

// HandleRefundFailed 处理退款失败通知。订单状态不变，只落流水并发事件。
func (s *BillingService) HandleRefundFailed(ctx context.Context, provider, orderNo, reason string) error {
	order, err := s.orders.GetByOrderNo(orderNo)
	if err != nil {
		return err
	}

	if order != nil {
		if err := s.transactions.Create(&models.Transaction{
			OrderID:  order.ID,
			OrderNo:  orderNo,
			Type:     constants.TransactionTypeRefund,
			Status:   constants.TransactionStatusFailed,
			Amount:   0,
			Currency: order.Currency,
			Provider: provider,
			Remark:   reason,
		}); err != nil {
			// 审计落账失败不阻断主流程
			logger.Warnw("refund_failed_record_error", "order_no", orderNo, "error", err)
		}
	}

	userID := ""
	if order != nil {
		userID = order.UserID
	}
	s.emit(ctx, constants.EventRefundFailed, provider, orderNo, userID, map[string]interface{}{
		"reason": reason,
	})
	return nil
}

// CreateRefund 发起退款。
// 支付宝退款为同步接口，成功后立即推进退款生命周期；
// 微信退款异步，最终以 REFUND.SUCCESS 回调推进。
func (s *BillingService) CreateRefund(ctx context.Context, orderNo string, refundFen int64, reason string) error {
	order, err := s.orders.GetByOrderNo(orderNo)
	if err != nil {
		return err
	}
	if order == nil {
		return ErrOrderNotFound
	}
	if order.Status != constants.OrderStatusPaid && order.Status != constants.OrderStatusPartiallyRefunded {
		return fmt.Errorf("%w: 当前状态 %s", ErrOrderStateInvalid, order.Status)
	}
	if refundFen <= 0 || refundFen > order.RemainingRefundable() {
		return ErrRefundExceedsPaid
	}

	outRequestNo := "RF" + uuid.NewString()[:18]
	switch order.Provider {
	case constants.ProviderWechat:
		_, err := wechatpay.CreateRefund(ctx, s.wechatCfg, wechatpay.RefundInput{
			OrderNo:     orderNo,
			OutRefundNo: outRequestNo,
			TotalFen:    order.Amount,
			RefundFen:   refundFen,
			Reason:      reason,
		})
		return err
	case constants.ProviderAlipay:
		result, err := alipay.CreateRefund(ctx, s.alipayCfg, alipay.RefundInput{
			OrderNo:      orderNo,
			RefundFen:    refundFen,
			OutRequestNo: outRequestNo,
			Reason:       reason,
		})
		if err != nil {
			return err
		}
		if result.FundChange {
			return s.HandleRefundSuccess(ctx, constants.ProviderAlipay, orderNo, outRequestNo, result.RefundFen)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrProviderUnknown, order.Provider)
	}
}

// rollbackUnpaidOrder 第三方下单失败后回收本地订单并释放优惠券额度，
// 避免留下永远无人支付的 pending 订单
func (s *BillingService) rollbackUnpaidOrder(order *models.PaymentOrder) {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		applied, txErr := s.orders.WithTx(tx).UpdateStatusGuarded(order.OrderNo,
			[]string{constants.OrderStatusPending}, constants.OrderStatusCanceled,
			map[string]interface{}{"canceled_at": time.Now()})
		if txErr != nil {
			return txErr
		}
		if applied && order.CouponID != nil {
			return s.couponSvc.Release(tx, *order.CouponID)
		}
		return nil
	})
	if err != nil {
		logger.Warnw("order_rollback_failed", "order_no", order.OrderNo, "error", err)
	}
}

// CancelOrder 取消未支付订单，释放优惠券额度并尝试关闭第三方单
func (s *BillingService) CancelOrder(ctx context.Context, orderNo string) error {
	order, err := s.orders.GetByOrderNo(orderNo)
	if err != nil {
		return err
	}
	if order == nil {
		return ErrOrderNotFound
	}

	applied := false
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		applied, txErr = s.orders.WithTx(tx).UpdateStatusGuarded(orderNo,
			[]string{constants.OrderStatusPending}, constants.OrderStatusCanceled,
			map[string]interface{}{"canceled_at": time.Now()})
		if txErr != nil {
			return txErr
		}
		if applied && order.CouponID != nil {
			return s.couponSvc.Release(tx, *order.CouponID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("%w: 当前状态 %s", ErrOrderStateInvalid, order.Status)
	}

	// 关单失败不影响本地取消结果
	var closeErr error
	switch order.Provider {
	case constants.ProviderWechat:
		closeErr = wechatpay.CloseOrder(ctx, s.wechatCfg, orderNo)
	case constants.ProviderAlipay:
		closeErr = alipay.CloseOrder(ctx, s.alipayCfg, orderNo)
	}
	if closeErr != nil {
		logger.Warnw("provider_close_order_failed", "order_no", orderNo, "provider", order.Provider, "error", closeErr)
	}
	return nil
}

// QueryOrder 查询订单；pending 订单同时反查第三方状态并对账。
// 第三方已成功而回调未达时，以查询结果推进生命周期。
func (s *BillingService) QueryOrder(ctx context.Context, orderNo string) (*models.PaymentOrder, error) {
	order, err := s.orders.GetByOrderNo(orderNo)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.Status != constants.OrderStatusPending {
		return order, nil
	}

	switch order.Provider {
	case constants.ProviderWechat:
		result, queryErr := wechatpay.QueryOrderByOutTradeNo(ctx, s.wechatCfg, orderNo)
		if queryErr != nil {
			logger.Warnw("provider_query_failed", "order_no", orderNo, "provider", order.Provider, "error", queryErr)
			return order, nil
		}
		if result.TradeState == constants.WechatTradeStateSuccess {
			if err := s.HandlePaymentSuccess(ctx, constants.ProviderWechat, orderNo,
				result.TransactionID, result.TotalFen, result.PaidAt, result.Raw); err != nil {
				return nil, err
			}
		}
	case constants.ProviderAlipay:
		result, queryErr := alipay.QueryOrder(ctx, s.alipayCfg, orderNo)
		if queryErr != nil {
			logger.Warnw("provider_query_failed", "order_no", orderNo, "provider", order.Provider, "error", queryErr)
			return order, nil
		}
		if result.TradeStatus == constants.AlipayTradeStatusSuccess ||
			result.TradeStatus == constants.AlipayTradeStatusFinished {
			if err := s.HandlePaymentSuccess(ctx, constants.ProviderAlipay, orderNo,
				result.TradeNo, result.TotalFen, nil, result.Raw); err != nil {
				return nil, err
			}
		}
	}
	return s.orders.GetByOrderNo(orderNo)
}

// ListOrders 订单列表
func (s *BillingService) ListOrders(filter repository.OrderListFilter) ([]models.PaymentOrder, int64, error) {
	return s.orders.List(filter)
}

// ListTransactions 订单流水
func (s *BillingService) ListTransactions(orderNo string) ([]models.Transaction, error) {
	return s.transactions.ListByOrderNo(orderNo)
}

func (s *BillingService) emit(ctx context.Context, eventType, provider, orderNo, userID string, payload map[string]interface{}) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	s.bus.Emit(ctx, event.Event{
		Type:     eventType,
		Provider: provider,
		OrderNo:  orderNo,
		UserID:   userID,
		Payload:  payload,
	})
}

func (s *BillingService) enqueueAlert(kind, orderNo, userID, detail string) {
	if err := s.queueClient.EnqueueBillingAlert(queue.BillingAlertPayload{
		Kind:    kind,
		OrderNo: orderNo,
		UserID:  userID,
		Detail:  detail,
	}); err != nil {
		logger.Warnw("billing_alert_enqueue_failed", "kind", kind, "order_no", orderNo, "error", err)
	}
}

func isValidOrderType(orderType string) bool {
	switch orderType {
	case constants.OrderTypeSubscription, constants.OrderTypeSkill, constants.OrderTypeTokens, constants.OrderTypeAddon:
		return true
	default:
		return false
	}
}

func generateOrderNo() string {
	return "B" + time.Now().Format("20060102150405") + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}
