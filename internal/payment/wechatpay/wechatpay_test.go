package wechatpay

import (
	"context"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zhushou-next/internal/constants"
	"github.com/zhushou-next/internal/logger"
	"github.com/zhushou-next/internal/payment"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testAPIV3Key = "0123456789abcdef0123456789abcdef"

func generateMerchantKey(t *testing.T) (string, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), key
}

func generatePlatformKey(t *testing.T) (string, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate platform key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), key
}

func testWechatConfig(t *testing.T) (*Config, *rsa.PrivateKey) {
	t.Helper()
	merchantPEM, _ := generateMerchantKey(t)
	platformPEM, platformKey := generatePlatformKey(t)
	cfg := &Config{
		AppID:               "wx1234567890",
		MerchantID:          "1900000001",
		MerchantSerialNo:    "5157F09EFDC096DE15EBE81A47057A72",
		MerchantPrivateKey:  merchantPEM,
		APIV3Key:            testAPIV3Key,
		PlatformCertificate: platformPEM,
		NotifyURL:           "https://example.com/api/v1/billing/notify/wechat",
	}
	cfg.Normalize()
	return cfg, platformKey
}

func encryptResource(t *testing.T, resource map[string]interface{}) (ciphertext, nonce, associatedData string) {
	t.Helper()
	plaintext, err := json.Marshal(resource)
	if err != nil {
		t.Fatalf("marshal resource: %v", err)
	}
	block, err := aes.NewCipher([]byte(testAPIV3Key))
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("new gcm: %v", err)
	}
	rawNonce := make([]byte, gcm.NonceSize()/2)
	if _, err := rand.Read(rawNonce); err != nil {
		t.Fatalf("rand nonce: %v", err)
	}
	// nonce 必须是合法 UTF-8，否则 JSON 往返后长度改变导致 GCM 解密失败
	nonceBytes := []byte(hex.EncodeToString(rawNonce))
	associatedData = "transaction"
	sealed := gcm.Seal(nil, nonceBytes, plaintext, []byte(associatedData))
	return base64.StdEncoding.EncodeToString(sealed), string(nonceBytes), associatedData
}

func signedNotify(t *testing.T, platformKey *rsa.PrivateKey, eventType string, resource map[string]interface{}) (NotifyHeaders, []byte) {
	t.Helper()
	ciphertext, nonce, associatedData := encryptResource(t, resource)
	body, err := json.Marshal(map[string]interface{}{
		"id":            "notify-0001",
		"create_time":   "2026-08-24T12:30:00+08:00",
		"event_type":    eventType,
		"resource_type": "encrypt-resource",
		"resource": map[string]interface{}{
			"algorithm":       "AEAD_AES_256_GCM",
			"ciphertext":      ciphertext,
			"associated_data": associatedData,
			"nonce":           nonce,
		},
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}

	timestamp := "1787891400"
	headerNonce := "abc123"
	message := timestamp + "\n" + headerNonce + "\n" + string(body) + "\n"
	digest := sha256.Sum256([]byte(message))
	signature, err := rsa.SignPKCS1v15(rand.Reader, platformKey, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatalf("sign notify: %v", err)
	}
	return NotifyHeaders{
		Timestamp: timestamp,
		Nonce:     headerNonce,
		Signature: base64.StdEncoding.EncodeToString(signature),
		Serial:    "PLATFORM-SERIAL",
	}, body
}

func TestConfigValidate(t *testing.T) {
	cfg, _ := testWechatConfig(t)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	broken := *cfg
	broken.APIV3Key = "short"
	if err := broken.Validate(); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid for api_v3_key, got %v", err)
	}

	broken = *cfg
	broken.MerchantID = ""
	if err := broken.Validate(); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid for mchid, got %v", err)
	}
}

func TestVerifyAndDecodeNotifyPaymentSuccess(t *testing.T) {
	cfg, platformKey := testWechatConfig(t)
	headers, body := signedNotify(t, platformKey, "TRANSACTION.SUCCESS", map[string]interface{}{
		"out_trade_no":   "ORD123",
		"transaction_id": "4200001234202608240001",
		"trade_state":    constants.WechatTradeStateSuccess,
		"success_time":   "2026-08-24T12:30:00+08:00",
		"amount": map[string]interface{}{
			"total":    2900,
			"currency": "CNY",
		},
	})

	decoded, err := VerifyAndDecodeNotify(cfg, headers, body)
	if err != nil {
		t.Fatalf("verify and decode: %v", err)
	}
	if decoded.NotifyID != "notify-0001" {
		t.Fatalf("notify id = %s", decoded.NotifyID)
	}
	notification := decoded.Notification
	if notification == nil {
		t.Fatal("expected notification")
	}
	if notification.Kind != payment.KindPaymentSuccess {
		t.Fatalf("kind = %s", notification.Kind)
	}
	if notification.OrderNo != "ORD123" {
		t.Fatalf("order_no = %s", notification.OrderNo)
	}
	if notification.AmountFen != 2900 {
		t.Fatalf("amount = %d, want 2900", notification.AmountFen)
	}
	if notification.ProviderRef != "4200001234202608240001" {
		t.Fatalf("provider_ref = %s", notification.ProviderRef)
	}
	if notification.PaidAt == nil {
		t.Fatal("expected paid_at")
	}
}

func TestVerifyAndDecodeNotifyTamperedBody(t *testing.T) {
	cfg, platformKey := testWechatConfig(t)
	headers, body := signedNotify(t, platformKey, "TRANSACTION.SUCCESS", map[string]interface{}{
		"out_trade_no": "ORD123",
		"trade_state":  constants.WechatTradeStateSuccess,
	})
	tampered := append([]byte{}, body...)
	tampered[len(tampered)-2] = 'X'

	if _, err := VerifyAndDecodeNotify(cfg, headers, tampered); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestVerifyAndDecodeNotifyMissingCertFailsClosed(t *testing.T) {
	cfg, platformKey := testWechatConfig(t)
	headers, body := signedNotify(t, platformKey, "TRANSACTION.SUCCESS", map[string]interface{}{
		"out_trade_no": "ORD123",
		"trade_state":  constants.WechatTradeStateSuccess,
	})
	cfg.PlatformCertificate = ""

	if _, err := VerifyAndDecodeNotify(cfg, headers, body); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}

	cfg.AllowUnverifiedNotify = true
	decoded, err := VerifyAndDecodeNotify(cfg, headers, body)
	if err != nil {
		t.Fatalf("bypass flag should allow notify: %v", err)
	}
	if decoded.Notification == nil || decoded.Notification.OrderNo != "ORD123" {
		t.Fatalf("unexpected decoded: %+v", decoded)
	}
}

// 放行未验签回调属于降级信任，必须留下告警日志
func TestVerifyAndDecodeNotifyBypassLogsWarning(t *testing.T) {
	core, observed := observer.New(zapcore.WarnLevel)
	previous := logger.L
	logger.L = zap.New(core)
	defer func() { logger.L = previous }()

	cfg, platformKey := testWechatConfig(t)
	headers, body := signedNotify(t, platformKey, "TRANSACTION.SUCCESS", map[string]interface{}{
		"out_trade_no": "ORD123",
		"trade_state":  constants.WechatTradeStateSuccess,
	})
	cfg.PlatformCertificate = ""
	cfg.AllowUnverifiedNotify = true

	if _, err := VerifyAndDecodeNotify(cfg, headers, body); err != nil {
		t.Fatalf("verify with bypass flag: %v", err)
	}

	entries := observed.FilterMessage("wechat_notify_signature_skipped").All()
	if len(entries) != 1 {
		t.Fatalf("degraded-trust warnings = %d, want 1", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("log level = %s, want warn", entries[0].Level)
	}
}

func TestVerifyAndDecodeNotifyRefundSuccess(t *testing.T) {
	cfg, platformKey := testWechatConfig(t)
	headers, body := signedNotify(t, platformKey, "REFUND.SUCCESS", map[string]interface{}{
		"out_trade_no":  "ORD123",
		"out_refund_no": "RF001",
		"refund_id":     "50300001234",
		"refund_status": "SUCCESS",
		"amount": map[string]interface{}{
			"refund": 1000,
			"total":  2900,
		},
	})

	decoded, err := VerifyAndDecodeNotify(cfg, headers, body)
	if err != nil {
		t.Fatalf("verify and decode: %v", err)
	}
	notification := decoded.Notification
	if notification.Kind != payment.KindRefundSuccess {
		t.Fatalf("kind = %s", notification.Kind)
	}
	if notification.RefundFen != 1000 {
		t.Fatalf("refund = %d, want 1000", notification.RefundFen)
	}
	if notification.ProviderRef != "50300001234" {
		t.Fatalf("provider_ref = %s", notification.ProviderRef)
	}
}

func TestVerifyAndDecodeNotifyNonTerminalIgnored(t *testing.T) {
	cfg, platformKey := testWechatConfig(t)
	headers, body := signedNotify(t, platformKey, "TRANSACTION.SUCCESS", map[string]interface{}{
		"out_trade_no": "ORD123",
		"trade_state":  constants.WechatTradeStateUserPaying,
	})

	decoded, err := VerifyAndDecodeNotify(cfg, headers, body)
	if err != nil {
		t.Fatalf("verify and decode: %v", err)
	}
	if decoded.Notification != nil {
		t.Fatalf("expected nil notification, got %+v", decoded.Notification)
	}
}

func TestVerifyAndDecodeNotifyPayError(t *testing.T) {
	cfg, platformKey := testWechatConfig(t)
	headers, body := signedNotify(t, platformKey, "TRANSACTION.SUCCESS", map[string]interface{}{
		"out_trade_no": "ORD123",
		"trade_state":  constants.WechatTradeStatePayError,
	})

	decoded, err := VerifyAndDecodeNotify(cfg, headers, body)
	if err != nil {
		t.Fatalf("verify and decode: %v", err)
	}
	if decoded.Notification.Kind != payment.KindPaymentFailed {
		t.Fatalf("kind = %s", decoded.Notification.Kind)
	}
	if decoded.Notification.Reason != "payerror" {
		t.Fatalf("reason = %s", decoded.Notification.Reason)
	}
}

func TestCreatePaymentNative(t *testing.T) {
	cfg, _ := testWechatConfig(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/pay/transactions/native" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload["out_trade_no"] != "ORD123" {
			t.Errorf("out_trade_no = %v", payload["out_trade_no"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code_url":"weixin://wxpay/bizpayurl?pr=abc123"}`))
	}))
	defer server.Close()
	cfg.BaseURL = server.URL

	result, err := CreatePayment(context.Background(), cfg, CreateInput{
		OrderNo:     "ORD123",
		AmountFen:   2900,
		Description: "专业版订阅",
	}, constants.PaymentInteractionQR)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if result.QRCode != "weixin://wxpay/bizpayurl?pr=abc123" {
		t.Fatalf("qr = %s", result.QRCode)
	}
}

func TestCreatePaymentRejectsBadInput(t *testing.T) {
	cfg, _ := testWechatConfig(t)
	if _, err := CreatePayment(context.Background(), cfg, CreateInput{OrderNo: "", AmountFen: 100}, constants.PaymentInteractionQR); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid for empty order_no, got %v", err)
	}
	if _, err := CreatePayment(context.Background(), cfg, CreateInput{OrderNo: "O1", AmountFen: 0}, constants.PaymentInteractionQR); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid for zero amount, got %v", err)
	}
	if _, err := CreatePayment(context.Background(), cfg, CreateInput{OrderNo: "O1", AmountFen: 100}, "jsapi"); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid for unsupported mode, got %v", err)
	}
}

func TestQueryOrderByOutTradeNo(t *testing.T) {
	cfg, _ := testWechatConfig(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"out_trade_no": "ORD123",
			"transaction_id": "4200001234202608240001",
			"trade_state": "SUCCESS",
			"success_time": "2026-08-24T12:30:00+08:00",
			"amount": {"total": 2900, "currency": "CNY"}
		}`))
	}))
	defer server.Close()
	cfg.BaseURL = server.URL

	result, err := QueryOrderByOutTradeNo(context.Background(), cfg, "ORD123")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if result.TradeState != constants.WechatTradeStateSuccess {
		t.Fatalf("trade_state = %s", result.TradeState)
	}
	if result.TotalFen != 2900 {
		t.Fatalf("total = %d", result.TotalFen)
	}
	if result.PaidAt == nil {
		t.Fatal("expected paid_at")
	}
}

func TestCreateRefund(t *testing.T) {
	cfg, _ := testWechatConfig(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/refund/domestic/refunds" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"refund_id": "50300001234",
			"out_refund_no": "RF001",
			"status": "PROCESSING",
			"amount": {"refund": 1000, "total": 2900}
		}`))
	}))
	defer server.Close()
	cfg.BaseURL = server.URL

	result, err := CreateRefund(context.Background(), cfg, RefundInput{
		OrderNo:     "ORD123",
		OutRefundNo: "RF001",
		TotalFen:    2900,
		RefundFen:   1000,
		Reason:      "用户申请",
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if result.RefundID != "50300001234" || result.RefundFen != 1000 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCreateRefundRejectsOverRefund(t *testing.T) {
	cfg, _ := testWechatConfig(t)
	_, err := CreateRefund(context.Background(), cfg, RefundInput{
		OrderNo:     "ORD123",
		OutRefundNo: "RF001",
		TotalFen:    2900,
		RefundFen:   3000,
	})
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestFenToAmountString(t *testing.T) {
	if got := FenToAmountString(2900); got != "29.00" {
		t.Fatalf("FenToAmountString(2900) = %s", got)
	}
}
