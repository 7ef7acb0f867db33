package wechatpay

import (
	"context"
	"fmt"
	"strings"
)

// RefundInput 微信退款输入。
type RefundInput struct {
	OrderNo      string
	OutRefundNo  string
	TotalFen     int64
	RefundFen    int64
	Reason       string
	NotifyURL    string
	FundsAccount string
}

// RefundResult 微信退款返回。
type RefundResult struct {
	RefundID    string
	OutRefundNo string
	Status      string
	RefundFen   int64
	Raw         map[string]interface{}
}

// CreateRefund 发起微信退款（/v3/refund/domestic/refunds）。
// 微信退款为异步流程，最终结果以 REFUND.SUCCESS 回调为准。
func CreateRefund(ctx context.Context, cfg *Config, input RefundInput) (*RefundResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	input.OrderNo = strings.TrimSpace(input.OrderNo)
	input.OutRefundNo = strings.TrimSpace(input.OutRefundNo)
	if input.OrderNo == "" {
		return nil, fmt.Errorf("%w: order_no is required", ErrConfigInvalid)
	}
	if input.OutRefundNo == "" {
		return nil, fmt.Errorf("%w: out_refund_no is required", ErrConfigInvalid)
	}
	if input.RefundFen <= 0 || input.TotalFen <= 0 || input.RefundFen > input.TotalFen {
		return nil, fmt.Errorf("%w: refund amount is invalid", ErrConfigInvalid)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	client, err := createAPIClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"out_trade_no":  input.OrderNo,
		"out_refund_no": input.OutRefundNo,
		"amount": map[string]interface{}{
			"refund":   input.RefundFen,
			"total":    input.TotalFen,
			"currency": "CNY",
		},
	}
	if strings.TrimSpace(input.Reason) != "" {
		payload["reason"] = strings.TrimSpace(input.Reason)
	}
	if notifyURL := pickFirstNonEmpty(input.NotifyURL, cfg.NotifyURL); notifyURL != "" {
		payload["notify_url"] = notifyURL
	}
	if strings.TrimSpace(input.FundsAccount) != "" {
		payload["funds_account"] = strings.TrimSpace(input.FundsAccount)
	}

	raw, err := doPostJSON(ctx, client, cfg.BaseURL+"/v3/refund/domestic/refunds", payload)
	if err != nil {
		return nil, err
	}
	result := &RefundResult{
		RefundID:    readString(raw, "refund_id"),
		OutRefundNo: pickFirstNonEmpty(readString(raw, "out_refund_no"), input.OutRefundNo),
		Status:      strings.ToUpper(readString(raw, "status")),
		Raw:         raw,
	}
	if refund, ok := readInt64(raw, "amount", "refund"); ok {
		result.RefundFen = refund
	} else {
		result.RefundFen = input.RefundFen
	}
	return result, nil
}
