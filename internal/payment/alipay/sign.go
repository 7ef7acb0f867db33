package alipay

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// FenToYuan 将分转换为元字符串（两位小数）。
func FenToYuan(fen int64) string {
	return decimal.NewFromInt(fen).Div(decimal.NewFromInt(100)).StringFixed(2)
}

// YuanToFen 将元字符串转换为分，四舍五入只发生在此边界一次。
func YuanToFen(yuan string) (int64, error) {
	trimmed := strings.TrimSpace(yuan)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: amount is empty", ErrResponseInvalid)
	}
	amount, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q is not a number", ErrResponseInvalid, trimmed)
	}
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart(), nil
}

// buildSignContent 按参数名 ASCII 升序拼接 key=value 待签名串。
// sign 与 sign_type 不参与签名，空值跳过。
func buildSignContent(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		if key == "sign" || key == "sign_type" {
			continue
		}
		if strings.TrimSpace(params[key]) == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+params[key])
	}
	return strings.Join(pairs, "&")
}

// signContent 用商户私钥对待签名串签名，返回 base64。
func signContent(content, privateKey, signType string) (string, error) {
	key, err := parsePrivateKey(privateKey)
	if err != nil {
		return "", err
	}

	var digest []byte
	var hash crypto.Hash
	if strings.EqualFold(signType, "RSA") {
		sum := sha1.Sum([]byte(content))
		digest = sum[:]
		hash = crypto.SHA1
	} else {
		sum := sha256.Sum256([]byte(content))
		digest = sum[:]
		hash = crypto.SHA256
	}

	signature, err := rsa.SignPKCS1v15(rand.Reader, key, hash, digest)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignGenerate, err)
	}
	return base64.StdEncoding.EncodeToString(signature), nil
}

// verifySign 用支付宝公钥验签。
func verifySign(content, sign, publicKey, signType string) error {
	key, err := parsePublicKey(publicKey)
	if err != nil {
		return err
	}

	signature, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sign))
	if err != nil {
		return fmt.Errorf("%w: sign is not base64", ErrSignatureInvalid)
	}

	var digest []byte
	var hash crypto.Hash
	if strings.EqualFold(signType, "RSA") {
		sum := sha1.Sum([]byte(content))
		digest = sum[:]
		hash = crypto.SHA1
	} else {
		sum := sha256.Sum256([]byte(content))
		digest = sum[:]
		hash = crypto.SHA256
	}

	if err := rsa.VerifyPKCS1v15(key, hash, digest, signature); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}

// parsePrivateKey 解析 PKCS1/PKCS8 商户私钥，兼容无 PEM 头的裸 base64。
func parsePrivateKey(raw string) (*rsa.PrivateKey, error) {
	block, err := decodePEMBlock(raw, "RSA PRIVATE KEY")
	if err != nil {
		return nil, fmt.Errorf("%w: private_key decode failed", ErrConfigInvalid)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: private_key parse failed", ErrConfigInvalid)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private_key is not RSA", ErrConfigInvalid)
	}
	return key, nil
}

// parsePublicKey 解析支付宝公钥，兼容无 PEM 头的裸 base64。
func parsePublicKey(raw string) (*rsa.PublicKey, error) {
	block, err := decodePEMBlock(raw, "PUBLIC KEY")
	if err != nil {
		return nil, fmt.Errorf("%w: alipay_public_key decode failed", ErrConfigInvalid)
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		if key, pkcs1Err := x509.ParsePKCS1PublicKey(block.Bytes); pkcs1Err == nil {
			return key, nil
		}
		return nil, fmt.Errorf("%w: alipay_public_key parse failed", ErrConfigInvalid)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: alipay_public_key is not RSA", ErrConfigInvalid)
	}
	return key, nil
}

func decodePEMBlock(raw, header string) (*pem.Block, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("key is empty")
	}
	if block, _ := pem.Decode([]byte(trimmed)); block != nil {
		return block, nil
	}
	// 裸 base64：去掉空白后补 PEM 头重试
	compact := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, trimmed)
	der, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return nil, fmt.Errorf("key is not PEM or base64")
	}
	return &pem.Block{Type: header, Bytes: der}, nil
}

func readString(node map[string]interface{}, key string) string {
	if node == nil {
		return ""
	}
	if value, ok := node[key].(string); ok {
		return value
	}
	return ""
}
