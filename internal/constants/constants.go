package constants

// 订单状态常量
const (
	OrderStatusPending           = "pending"
	OrderStatusPaid              = "paid"
	OrderStatusFailed            = "failed"
	OrderStatusRefunded          = "refunded"
	OrderStatusPartiallyRefunded = "partially_refunded"
	OrderStatusCanceled          = "canceled"
)

// 订单类型常量
const (
	OrderTypeSubscription = "subscription"
	OrderTypeSkill        = "skill"
	OrderTypeTokens       = "tokens"
	OrderTypeAddon        = "addon"
)

// 支付提供方常量
const (
	ProviderWechat = "wechat"
	ProviderAlipay = "alipay"
)

// 币种常量
const (
	CurrencyCNY = "CNY"
	CurrencyUSD = "USD"
)

// 交易流水类型常量
const (
	TransactionTypePayment = "payment"
	TransactionTypeRefund  = "refund"
)

// 交易流水状态常量
const (
	TransactionStatusSuccess = "success"
	TransactionStatusFailed  = "failed"
)

// 支付事件类型常量
const (
	EventPaymentSuccess      = "payment.success"
	EventPaymentFailed       = "payment.failed"
	EventRefundSuccess       = "refund.success"
	EventRefundFailed        = "refund.failed"
	EventSubscriptionRenewed = "subscription.renewed"
	EventWildcard            = "*"
)

// 订阅状态常量
const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusExpired  = "expired"
)

// 续费任务状态常量
const (
	RenewalTaskStatusPending    = "pending"
	RenewalTaskStatusProcessing = "processing"
	RenewalTaskStatusSuccess    = "success"
	RenewalTaskStatusFailed     = "failed"
	RenewalTaskStatusRetrying   = "retrying"
	RenewalTaskStatusCanceled   = "canceled"
)

// 优惠券类型常量
const (
	CouponTypePercentage = "percentage"
	CouponTypeFixed      = "fixed"
)

// 优惠券适用范围常量
const (
	CouponScopeAll   = "all"
	CouponScopePlan  = "plan"
	CouponScopeSkill = "skill"
)

// 支付交互方式常量
const (
	PaymentInteractionQR       = "qr"
	PaymentInteractionRedirect = "redirect"
	PaymentInteractionWAP      = "wap"
	PaymentInteractionPage     = "page"
)

// 微信交易状态常量
const (
	WechatTradeStateSuccess    = "SUCCESS"
	WechatTradeStateRefund     = "REFUND"
	WechatTradeStateNotPay     = "NOTPAY"
	WechatTradeStateClosed     = "CLOSED"
	WechatTradeStateRevoked    = "REVOKED"
	WechatTradeStateUserPaying = "USERPAYING"
	WechatTradeStatePayError   = "PAYERROR"
)

// 支付宝交易状态常量
const (
	AlipayTradeStatusSuccess      = "TRADE_SUCCESS"
	AlipayTradeStatusFinished     = "TRADE_FINISHED"
	AlipayTradeStatusClosed       = "TRADE_CLOSED"
	AlipayTradeStatusWaitBuyerPay = "WAIT_BUYER_PAY"
)

// 支付宝回调应答常量
const (
	AlipayNotifyAckSuccess = "success"
	AlipayNotifyAckFail    = "fail"
)

// 异步任务名称常量
const (
	TaskEntitlementUnlock = "billing:entitlement_unlock"
	TaskBillingAlert      = "billing:alert"
	TaskRenewalNotify     = "billing:renewal_notify"
)

// 队列名称常量
const (
	QueueDefault  = "default"
	QueueCritical = "critical"
)
