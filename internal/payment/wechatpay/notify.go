package wechatpay

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/zhushou-next/internal/constants"
	"github.com/zhushou-next/internal/logger"
	"github.com/zhushou-next/internal/payment"

	"github.com/wechatpay-apiv3/wechatpay-go/utils"
)

// NotifyHeaders 微信回调验签所需头部。
type NotifyHeaders struct {
	Timestamp string
	Nonce     string
	Signature string
	Serial    string
}

// notifyEnvelope 微信回调外层报文。
type notifyEnvelope struct {
	ID           string `json:"id"`
	CreateTime   string `json:"create_time"`
	EventType    string `json:"event_type"`
	ResourceType string `json:"resource_type"`
	Resource     struct {
		Algorithm      string `json:"algorithm"`
		Ciphertext     string `json:"ciphertext"`
		AssociatedData string `json:"associated_data"`
		Nonce          string `json:"nonce"`
	} `json:"resource"`
}

// DecodedNotify 验签解密后的微信回调。
type DecodedNotify struct {
	NotifyID     string
	EventType    string
	Notification *payment.Notification
}

// VerifyAndDecodeNotify 验签并解密微信回调。
// 平台证书缺失时默认拒绝，仅当显式开启 allow_unverified_notify 才放行。
// 验签在任何订单查询之前完成，失败直接返回。
func VerifyAndDecodeNotify(cfg *Config, headers NotifyHeaders, body []byte) (*DecodedNotify, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty notify body", ErrResponseInvalid)
	}

	if err := verifyNotifySignature(cfg, headers, body); err != nil {
		return nil, err
	}

	var envelope notifyEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: decode notify body failed", ErrResponseInvalid)
	}
	if envelope.Resource.Ciphertext == "" {
		return nil, fmt.Errorf("%w: notify resource is empty", ErrResponseInvalid)
	}
	if envelope.Resource.Algorithm != "" && envelope.Resource.Algorithm != "AEAD_AES_256_GCM" {
		return nil, fmt.Errorf("%w: algorithm %s is not supported", ErrResponseInvalid, envelope.Resource.Algorithm)
	}

	plaintext, err := utils.DecryptAES256GCM(
		cfg.APIV3Key,
		envelope.Resource.AssociatedData,
		envelope.Resource.Nonce,
		envelope.Resource.Ciphertext,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt notify resource failed", ErrResponseInvalid)
	}

	resource := map[string]interface{}{}
	if err := json.Unmarshal([]byte(plaintext), &resource); err != nil {
		return nil, fmt.Errorf("%w: decode notify resource failed", ErrResponseInvalid)
	}

	notification, err := mapNotify(envelope.EventType, resource)
	if err != nil {
		return nil, err
	}
	return &DecodedNotify{
		NotifyID:     strings.TrimSpace(envelope.ID),
		EventType:    strings.TrimSpace(envelope.EventType),
		Notification: notification,
	}, nil
}

// verifyNotifySignature 校验平台签名：timestamp\nnonce\nbody\n。
func verifyNotifySignature(cfg *Config, headers NotifyHeaders, body []byte) error {
	if cfg.PlatformCertificate == "" {
		if cfg.AllowUnverifiedNotify {
			logger.Warnw("wechat_notify_signature_skipped",
				"mchid", cfg.MerchantID,
				"reason", "platform certificate missing, allow_unverified_notify enabled",
			)
			return nil
		}
		return fmt.Errorf("%w: platform certificate is not configured", ErrSignatureInvalid)
	}

	timestamp := strings.TrimSpace(headers.Timestamp)
	nonce := strings.TrimSpace(headers.Nonce)
	signature := strings.TrimSpace(headers.Signature)
	if timestamp == "" || nonce == "" || signature == "" {
		return fmt.Errorf("%w: signature headers are missing", ErrSignatureInvalid)
	}

	publicKey, err := parsePlatformPublicKey(cfg.PlatformCertificate)
	if err != nil {
		return err
	}

	signatureBytes, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: signature is not base64", ErrSignatureInvalid)
	}

	message := timestamp + "\n" + nonce + "\n" + string(body) + "\n"
	digest := sha256.Sum256([]byte(message))
	if err := rsa.VerifyPKCS1v15(publicKey, crypto.SHA256, digest[:], signatureBytes); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}

// mapNotify 将解密后的资源映射为规范化通知。
// 非终态（NOTPAY/USERPAYING）返回 nil 表示忽略。
func mapNotify(eventType string, resource map[string]interface{}) (*payment.Notification, error) {
	eventType = strings.ToUpper(strings.TrimSpace(eventType))

	switch {
	case strings.HasPrefix(eventType, "REFUND."):
		return mapRefundNotify(eventType, resource)
	default:
		return mapTransactionNotify(resource)
	}
}

func mapTransactionNotify(resource map[string]interface{}) (*payment.Notification, error) {
	orderNo := readString(resource, "out_trade_no")
	if orderNo == "" {
		return nil, fmt.Errorf("%w: out_trade_no is missing", ErrResponseInvalid)
	}
	notification := &payment.Notification{
		Provider:    constants.ProviderWechat,
		OrderNo:     orderNo,
		ProviderRef: readString(resource, "transaction_id"),
		Raw:         resource,
	}
	if total, ok := readInt64(resource, "amount", "total"); ok {
		notification.AmountFen = total
	}

	tradeState := strings.ToUpper(readString(resource, "trade_state"))
	switch tradeState {
	case constants.WechatTradeStateSuccess:
		notification.Kind = payment.KindPaymentSuccess
		notification.PaidAt = parseTransactionTime(readString(resource, "success_time"))
		return notification, nil
	case constants.WechatTradeStateClosed, constants.WechatTradeStateRevoked, constants.WechatTradeStatePayError:
		notification.Kind = payment.KindPaymentFailed
		notification.Reason = strings.ToLower(tradeState)
		return notification, nil
	case constants.WechatTradeStateNotPay, constants.WechatTradeStateUserPaying:
		return nil, nil
	case constants.WechatTradeStateRefund:
		// 退款状态变化走 REFUND.* 事件，交易通知里出现视为忽略
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: trade_state %s is not supported", ErrResponseInvalid, tradeState)
	}
}

func mapRefundNotify(eventType string, resource map[string]interface{}) (*payment.Notification, error) {
	orderNo := readString(resource, "out_trade_no")
	if orderNo == "" {
		return nil, fmt.Errorf("%w: out_trade_no is missing", ErrResponseInvalid)
	}
	notification := &payment.Notification{
		Provider:    constants.ProviderWechat,
		OrderNo:     orderNo,
		ProviderRef: pickFirstNonEmpty(readString(resource, "refund_id"), readString(resource, "transaction_id")),
		Raw:         resource,
	}
	if refund, ok := readInt64(resource, "amount", "refund"); ok {
		notification.RefundFen = refund
	}

	switch eventType {
	case "REFUND.SUCCESS":
		notification.Kind = payment.KindRefundSuccess
		return notification, nil
	case "REFUND.ABNORMAL", "REFUND.CLOSED":
		notification.Kind = payment.KindRefundFailed
		notification.Reason = strings.ToLower(strings.TrimPrefix(eventType, "REFUND."))
		return notification, nil
	default:
		return nil, fmt.Errorf("%w: event_type %s is not supported", ErrResponseInvalid, eventType)
	}
}

// parsePlatformPublicKey 从平台证书 PEM 中提取 RSA 公钥。
func parsePlatformPublicKey(certPEM string) (*rsa.PublicKey, error) {
	normalized := strings.TrimSpace(strings.ReplaceAll(certPEM, "\\n", "\n"))
	block, _ := pem.Decode([]byte(normalized))
	if block == nil {
		return nil, fmt.Errorf("%w: platform_certificate pem decode failed", ErrConfigInvalid)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		// 允许直接配置公钥而非完整证书
		if parsed, pkixErr := x509.ParsePKIXPublicKey(block.Bytes); pkixErr == nil {
			if publicKey, ok := parsed.(*rsa.PublicKey); ok {
				return publicKey, nil
			}
		}
		return nil, fmt.Errorf("%w: platform_certificate parse failed", ErrConfigInvalid)
	}
	publicKey, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: platform_certificate key is not rsa", ErrConfigInvalid)
	}
	if time.Now().After(cert.NotAfter) {
		return nil, fmt.Errorf("%w: platform_certificate expired", ErrConfigInvalid)
	}
	return publicKey, nil
}
