package payment

import "time"

// 规范化通知种类
const (
	KindPaymentSuccess = "payment_success"
	KindPaymentFailed  = "payment_failed"
	KindRefundSuccess  = "refund_success"
	KindRefundFailed   = "refund_failed"
)

// Notification 提供方无关的规范化通知。
// 由各适配器在验签/解密之后产出，生命周期驱动只消费该结构，
// 不接触任何提供方原始报文字段。
type Notification struct {
	Kind        string                 // 通知种类
	Provider    string                 // 支付提供方（wechat/alipay）
	OrderNo     string                 // 商户订单编号
	ProviderRef string                 // 第三方交易号/退款单号
	AmountFen   int64                  // 订单金额（分）
	RefundFen   int64                  // 退款金额（分），仅退款通知有效
	PaidAt      *time.Time             // 支付完成时间
	Reason      string                 // 失败原因，仅失败通知有效
	Raw         map[string]interface{} // 解密/解析后的原始载荷
}
