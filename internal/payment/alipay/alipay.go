package alipay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/zhushou-next/internal/constants"
)

var (
	ErrConfigInvalid    = errors.New("alipay config invalid")
	ErrSignGenerate     = errors.New("alipay sign generate failed")
	ErrRequestFailed    = errors.New("alipay request failed")
	ErrResponseInvalid  = errors.New("alipay response invalid")
	ErrBizError         = errors.New("alipay business error")
	ErrSignatureInvalid = errors.New("alipay signature invalid")
)

const (
	defaultTimeout    = 12 * time.Second
	defaultGatewayURL = "https://openapi.alipay.com/gateway.do"
	bizSuccessCode    = "10000"
)

// Config 支付宝官方配置。
type Config struct {
	AppID           string
	PrivateKey      string
	AlipayPublicKey string
	GatewayURL      string
	NotifyURL       string
	ReturnURL       string
	SignType        string // RSA2（SHA256）或 RSA（SHA1）
}

// Normalize 归一化配置并补齐默认值。
func (c *Config) Normalize() {
	c.AppID = strings.TrimSpace(c.AppID)
	c.PrivateKey = strings.TrimSpace(c.PrivateKey)
	c.AlipayPublicKey = strings.TrimSpace(c.AlipayPublicKey)
	c.GatewayURL = strings.TrimSpace(c.GatewayURL)
	c.NotifyURL = strings.TrimSpace(c.NotifyURL)
	c.ReturnURL = strings.TrimSpace(c.ReturnURL)
	c.SignType = strings.ToUpper(strings.TrimSpace(c.SignType))
	if c.SignType == "" {
		c.SignType = "RSA2"
	}
	if c.GatewayURL == "" {
		c.GatewayURL = defaultGatewayURL
	}
}

// Validate 校验配置完整性。
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrConfigInvalid)
	}
	if c.AppID == "" {
		return fmt.Errorf("%w: app_id is required", ErrConfigInvalid)
	}
	if c.PrivateKey == "" {
		return fmt.Errorf("%w: private_key is required", ErrConfigInvalid)
	}
	if c.AlipayPublicKey == "" {
		return fmt.Errorf("%w: alipay_public_key is required", ErrConfigInvalid)
	}
	if _, err := url.ParseRequestURI(c.GatewayURL); err != nil {
		return fmt.Errorf("%w: gateway_url is invalid", ErrConfigInvalid)
	}
	if c.NotifyURL != "" {
		if _, err := url.ParseRequestURI(c.NotifyURL); err != nil {
			return fmt.Errorf("%w: notify_url is invalid", ErrConfigInvalid)
		}
	}
	if c.SignType != "RSA2" && c.SignType != "RSA" {
		return fmt.Errorf("%w: sign_type is invalid", ErrConfigInvalid)
	}
	return nil
}

// CreateInput 支付宝下单输入。
type CreateInput struct {
	OrderNo        string
	AmountFen      int64
	Subject        string
	NotifyURL      string
	ReturnURL      string
	TimeoutExpress string
	PassbackParams string
}

// CreateResult 支付宝下单返回。
type CreateResult struct {
	PayURL     string
	QRCode     string
	TradeNo    string
	OutTradeNo string
	Method     string
	Raw        map[string]interface{}
}

// CreatePayment 发起支付宝下单。
func CreatePayment(ctx context.Context, cfg *Config, input CreateInput, interactionMode string) (*CreateResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	input.OrderNo = strings.TrimSpace(input.OrderNo)
	if input.OrderNo == "" {
		return nil, fmt.Errorf("%w: order_no is required", ErrConfigInvalid)
	}
	if input.AmountFen <= 0 {
		return nil, fmt.Errorf("%w: amount must be greater than zero", ErrConfigInvalid)
	}
	if strings.TrimSpace(input.Subject) == "" {
		input.Subject = input.OrderNo
	}

	mode := strings.ToLower(strings.TrimSpace(interactionMode))
	method, err := resolveMethod(mode)
	if err != nil {
		return nil, err
	}
	bizContent := map[string]interface{}{
		"out_trade_no": input.OrderNo,
		"total_amount": FenToYuan(input.AmountFen),
		"subject":      strings.TrimSpace(input.Subject),
	}
	if strings.TrimSpace(input.TimeoutExpress) != "" {
		bizContent["timeout_express"] = strings.TrimSpace(input.TimeoutExpress)
	}
	if strings.TrimSpace(input.PassbackParams) != "" {
		bizContent["passback_params"] = strings.TrimSpace(input.PassbackParams)
	}
	switch mode {
	case constants.PaymentInteractionQR:
		bizContent["product_code"] = "FACE_TO_FACE_PAYMENT"
	case constants.PaymentInteractionWAP:
		bizContent["product_code"] = "QUICK_WAP_WAY"
	case constants.PaymentInteractionPage, constants.PaymentInteractionRedirect:
		bizContent["product_code"] = "FAST_INSTANT_TRADE_PAY"
	}

	params, err := buildRequestParams(cfg, method, bizContent, requestURLs{
		NotifyURL: pickFirstNonEmpty(input.NotifyURL, cfg.NotifyURL),
		ReturnURL: pickFirstNonEmpty(input.ReturnURL, cfg.ReturnURL),
	})
	if err != nil {
		return nil, err
	}

	if mode == constants.PaymentInteractionQR {
		node, raw, err := execute(ctx, cfg, method, params)
		if err != nil {
			return nil, err
		}
		result := &CreateResult{
			QRCode:     strings.TrimSpace(readString(node, "qr_code")),
			TradeNo:    strings.TrimSpace(readString(node, "trade_no")),
			OutTradeNo: pickFirstNonEmpty(readString(node, "out_trade_no"), input.OrderNo),
			Method:     method,
			Raw:        raw,
		}
		if result.QRCode == "" {
			return nil, fmt.Errorf("%w: qr_code is empty", ErrResponseInvalid)
		}
		return result, nil
	}

	payURL := buildGatewayPayURL(cfg.GatewayURL, params)
	return &CreateResult{
		PayURL:     payURL,
		OutTradeNo: input.OrderNo,
		Method:     method,
		Raw: map[string]interface{}{
			"pay_url":      payURL,
			"method":       method,
			"out_trade_no": input.OrderNo,
		},
	}, nil
}

type requestURLs struct {
	NotifyURL string
	ReturnURL string
}

// buildRequestParams 组装公共参数并签名。
func buildRequestParams(cfg *Config, method string, bizContent map[string]interface{}, urls requestURLs) (map[string]string, error) {
	bizContentBytes, err := json.Marshal(bizContent)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal biz_content failed", ErrConfigInvalid)
	}
	params := map[string]string{
		"app_id":      cfg.AppID,
		"method":      method,
		"format":      "JSON",
		"charset":     "utf-8",
		"sign_type":   cfg.SignType,
		"timestamp":   time.Now().Format("2006-01-02 15:04:05"),
		"version":     "1.0",
		"biz_content": string(bizContentBytes),
	}
	if strings.TrimSpace(urls.NotifyURL) != "" {
		params["notify_url"] = strings.TrimSpace(urls.NotifyURL)
	}
	if strings.TrimSpace(urls.ReturnURL) != "" {
		params["return_url"] = strings.TrimSpace(urls.ReturnURL)
	}
	sign, err := signContent(buildSignContent(params), cfg.PrivateKey, cfg.SignType)
	if err != nil {
		return nil, err
	}
	params["sign"] = sign
	return params, nil
}

func resolveMethod(mode string) (string, error) {
	switch mode {
	case constants.PaymentInteractionQR:
		return "alipay.trade.precreate", nil
	case constants.PaymentInteractionWAP:
		return "alipay.trade.wap.pay", nil
	case constants.PaymentInteractionPage, constants.PaymentInteractionRedirect:
		return "alipay.trade.page.pay", nil
	default:
		return "", fmt.Errorf("%w: interaction_mode %s is not supported", ErrConfigInvalid, mode)
	}
}

func buildGatewayPayURL(gatewayURL string, params map[string]string) string {
	form := url.Values{}
	for key, value := range params {
		key = strings.TrimSpace(key)
		if key == "" || strings.TrimSpace(value) == "" {
			continue
		}
		form.Set(key, value)
	}
	parsed, err := url.Parse(strings.TrimSpace(gatewayURL))
	if err != nil {
		return gatewayURL + "?" + form.Encode()
	}
	parsed.RawQuery = form.Encode()
	return parsed.String()
}

func pickFirstNonEmpty(values ...string) string {
	for _, val := range values {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
