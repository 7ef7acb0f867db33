package alipay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// QueryResult 支付宝订单查询结果。
type QueryResult struct {
	OutTradeNo  string
	TradeNo     string
	TradeStatus string
	TotalFen    int64
	Raw         map[string]interface{}
}

// QueryOrder 查询支付宝订单状态（alipay.trade.query）。
func QueryOrder(ctx context.Context, cfg *Config, orderNo string) (*QueryResult, error) {
	node, raw, err := executeBiz(ctx, cfg, "alipay.trade.query", map[string]interface{}{
		"out_trade_no": strings.TrimSpace(orderNo),
	})
	if err != nil {
		return nil, err
	}
	result := &QueryResult{
		OutTradeNo:  readString(node, "out_trade_no"),
		TradeNo:     readString(node, "trade_no"),
		TradeStatus: readString(node, "trade_status"),
		Raw:         raw,
	}
	if amount := readString(node, "total_amount"); amount != "" {
		fen, err := YuanToFen(amount)
		if err != nil {
			return nil, err
		}
		result.TotalFen = fen
	}
	return result, nil
}

// CloseOrder 关闭支付宝订单（alipay.trade.close）。
// 订单已不可关闭（ACQ.TRADE_STATUS_ERROR）按幂等成功处理。
func CloseOrder(ctx context.Context, cfg *Config, orderNo string) error {
	_, _, err := executeBiz(ctx, cfg, "alipay.trade.close", map[string]interface{}{
		"out_trade_no": strings.TrimSpace(orderNo),
	})
	if err != nil && strings.Contains(err.Error(), "ACQ.TRADE_STATUS_ERROR") {
		return nil
	}
	return err
}

// RefundInput 支付宝退款输入。
type RefundInput struct {
	OrderNo      string
	RefundFen    int64
	OutRequestNo string // 退款请求号，部分退款时用于幂等区分
	Reason       string
}

// RefundResult 支付宝退款结果。
type RefundResult struct {
	TradeNo    string
	OutTradeNo string
	RefundFen  int64
	FundChange bool
	Raw        map[string]interface{}
}

// CreateRefund 发起支付宝退款（alipay.trade.refund）。
// 该接口为同步退款，fund_change=Y 表示本次请求实际发生资金变动。
func CreateRefund(ctx context.Context, cfg *Config, input RefundInput) (*RefundResult, error) {
	input.OrderNo = strings.TrimSpace(input.OrderNo)
	if input.OrderNo == "" {
		return nil, fmt.Errorf("%w: order_no is required", ErrConfigInvalid)
	}
	if input.RefundFen <= 0 {
		return nil, fmt.Errorf("%w: refund amount must be greater than zero", ErrConfigInvalid)
	}
	bizContent := map[string]interface{}{
		"out_trade_no":  input.OrderNo,
		"refund_amount": FenToYuan(input.RefundFen),
	}
	if strings.TrimSpace(input.OutRequestNo) != "" {
		bizContent["out_request_no"] = strings.TrimSpace(input.OutRequestNo)
	}
	if strings.TrimSpace(input.Reason) != "" {
		bizContent["refund_reason"] = strings.TrimSpace(input.Reason)
	}

	node, raw, err := executeBiz(ctx, cfg, "alipay.trade.refund", bizContent)
	if err != nil {
		return nil, err
	}
	result := &RefundResult{
		TradeNo:    readString(node, "trade_no"),
		OutTradeNo: pickFirstNonEmpty(readString(node, "out_trade_no"), input.OrderNo),
		FundChange: strings.EqualFold(readString(node, "fund_change"), "Y"),
		Raw:        raw,
	}
	if amount := readString(node, "refund_fee"); amount != "" {
		fen, err := YuanToFen(amount)
		if err != nil {
			return nil, err
		}
		result.RefundFen = fen
	} else {
		result.RefundFen = input.RefundFen
	}
	return result, nil
}

// executeBiz 组装、签名并执行一次网关调用。
func executeBiz(ctx context.Context, cfg *Config, method string, bizContent map[string]interface{}) (map[string]interface{}, map[string]interface{}, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	params, err := buildRequestParams(cfg, method, bizContent, requestURLs{})
	if err != nil {
		return nil, nil, err
	}
	return execute(ctx, cfg, method, params)
}

// execute 提交已签名参数并解析业务响应节点。
func execute(ctx context.Context, cfg *Config, method string, params map[string]string) (map[string]interface{}, map[string]interface{}, error) {
	body, err := postGateway(ctx, cfg.GatewayURL, params)
	if err != nil {
		return nil, nil, err
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, nil, fmt.Errorf("%w: body is not json", ErrResponseInvalid)
	}

	nodeKey := strings.ReplaceAll(method, ".", "_") + "_response"
	nodeRaw, ok := envelope[nodeKey]
	if !ok {
		if errRaw, hasErr := envelope["error_response"]; hasErr {
			nodeRaw = errRaw
		} else {
			return nil, nil, fmt.Errorf("%w: response node %s missing", ErrResponseInvalid, nodeKey)
		}
	}

	// 网关响应验签：签名内容为响应节点的原始 JSON 串
	if signRaw, hasSign := envelope["sign"]; hasSign {
		var sign string
		if err := json.Unmarshal(signRaw, &sign); err == nil && sign != "" {
			if err := verifySign(string(nodeRaw), sign, cfg.AlipayPublicKey, cfg.SignType); err != nil {
				return nil, nil, err
			}
		}
	}

	var node map[string]interface{}
	if err := json.Unmarshal(nodeRaw, &node); err != nil {
		return nil, nil, fmt.Errorf("%w: response node is not object", ErrResponseInvalid)
	}

	code := readString(node, "code")
	if code != bizSuccessCode {
		return nil, nil, fmt.Errorf("%w: code=%s sub_code=%s sub_msg=%s",
			ErrBizError, code, readString(node, "sub_code"), readString(node, "sub_msg"))
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		raw = map[string]interface{}{}
	}
	return node, raw, nil
}

// postGateway 以表单编码向网关发起 POST 请求。
func postGateway(ctx context.Context, gatewayURL string, params map[string]string) ([]byte, error) {
	form := url.Values{}
	for key, value := range params {
		form.Set(key, value)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gatewayURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: build request failed", ErrRequestFailed)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body failed", ErrRequestFailed)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http status %d", ErrRequestFailed, resp.StatusCode)
	}
	return body, nil
}
