package service

import "errors"

var (
	ErrOrderNotFound        = errors.New("订单不存在")
	ErrOrderInputInvalid    = errors.New("订单参数无效")
	ErrOrderStateInvalid    = errors.New("订单状态不允许该操作")
	ErrRefundExceedsPaid    = errors.New("退款金额超过可退余额")
	ErrProviderUnknown      = errors.New("不支持的支付提供方")
	ErrCouponInvalid        = errors.New("优惠券不可用")
	ErrCouponExhausted      = errors.New("优惠券额度已用尽")
	ErrSubscriptionNotFound = errors.New("订阅不存在")
	ErrRenewalTaskNotFound  = errors.New("续费任务不存在")
	ErrRenewalTaskConflict  = errors.New("订阅已存在未完结的续费任务")
)
