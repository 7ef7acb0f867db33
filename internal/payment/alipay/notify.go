package alipay

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/zhushou-next/internal/constants"
	"github.com/zhushou-next/internal/payment"
)

// VerifyNotify 验证支付宝异步通知签名。
// 验签失败直接拒绝，不做任何订单查询。
func VerifyNotify(cfg *Config, form url.Values) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if form == nil {
		return fmt.Errorf("%w: form is empty", ErrSignatureInvalid)
	}

	sign := strings.TrimSpace(form.Get("sign"))
	if sign == "" {
		return fmt.Errorf("%w: sign is missing", ErrSignatureInvalid)
	}
	signType := strings.ToUpper(strings.TrimSpace(form.Get("sign_type")))
	if signType == "" {
		signType = cfg.SignType
	}
	if signType != "RSA2" && signType != "RSA" {
		return fmt.Errorf("%w: sign_type %s is not supported", ErrSignatureInvalid, signType)
	}

	params := make(map[string]string, len(form))
	for key := range form {
		params[key] = form.Get(key)
	}
	return verifySign(buildSignContent(params), sign, cfg.AlipayPublicKey, signType)
}

// ParseNotify 将已验签的支付宝通知转换为规范化通知。
// WAIT_BUYER_PAY 等非终态通知返回 nil 表示忽略。
func ParseNotify(form url.Values) (*payment.Notification, error) {
	if form == nil {
		return nil, fmt.Errorf("%w: form is empty", ErrResponseInvalid)
	}
	orderNo := strings.TrimSpace(form.Get("out_trade_no"))
	if orderNo == "" {
		return nil, fmt.Errorf("%w: out_trade_no is missing", ErrResponseInvalid)
	}
	tradeStatus := strings.TrimSpace(form.Get("trade_status"))

	raw := make(map[string]interface{}, len(form))
	for key := range form {
		raw[key] = form.Get(key)
	}

	notification := &payment.Notification{
		Provider:    constants.ProviderAlipay,
		OrderNo:     orderNo,
		ProviderRef: strings.TrimSpace(form.Get("trade_no")),
		Raw:         raw,
	}

	// 退款异步通知复用交易通知报文，以 refund_fee 字段区分
	if refundFee := strings.TrimSpace(form.Get("refund_fee")); refundFee != "" {
		fen, err := YuanToFen(refundFee)
		if err != nil {
			return nil, err
		}
		if fen > 0 {
			notification.Kind = payment.KindRefundSuccess
			notification.RefundFen = fen
			return notification, nil
		}
	}

	switch tradeStatus {
	case constants.AlipayTradeStatusSuccess, constants.AlipayTradeStatusFinished:
		notification.Kind = payment.KindPaymentSuccess
		if amount := strings.TrimSpace(form.Get("total_amount")); amount != "" {
			fen, err := YuanToFen(amount)
			if err != nil {
				return nil, err
			}
			notification.AmountFen = fen
		}
		if paidAt := parseNotifyTime(form.Get("gmt_payment")); paidAt != nil {
			notification.PaidAt = paidAt
		}
		return notification, nil
	case constants.AlipayTradeStatusClosed:
		notification.Kind = payment.KindPaymentFailed
		notification.Reason = "trade_closed"
		return notification, nil
	case constants.AlipayTradeStatusWaitBuyerPay:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: trade_status %s is not supported", ErrResponseInvalid, tradeStatus)
	}
}

// parseNotifyTime 解析支付宝通知时间（北京时间）。
func parseNotifyTime(value string) *time.Time {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	location, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		location = time.FixedZone("CST", 8*3600)
	}
	parsed, err := time.ParseInLocation("2006-01-02 15:04:05", trimmed, location)
	if err != nil {
		return nil
	}
	return &parsed
}
