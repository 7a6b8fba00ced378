package strategy

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lawsowl_billing/internal/domain/payment/model"
	"lawsowl_billing/internal/pkg/config"
)

// 蓝新金流没有官方 Go SDK, 按技术手册自行实现 AES-256-CBC + SHA256 检查码

type newebpayCipher struct {
	key []byte
	iv  []byte
}

func newNewebpayCipher(cfg config.NewebpayConfig) (*newebpayCipher, error) {
	if len(cfg.HashKey) != 32 || len(cfg.HashIV) != 16 {
		return nil, errors.New("newebpay hash key/iv length invalid")
	}
	return &newebpayCipher{key: []byte(cfg.HashKey), iv: []byte(cfg.HashIV)}, nil
}

// encrypt AES-256-CBC + PKCS7, 输出 hex
func (c *newebpayCipher) encrypt(plain string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}

	data := pkcs7Pad([]byte(plain), block.BlockSize())
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, c.iv).CryptBlocks(out, data)
	return hex.EncodeToString(out), nil
}

// decrypt hex 输入, 手动去 PKCS7 padding
func (c *newebpayCipher) decrypt(encHex string) (string, error) {
	data, err := hex.DecodeString(encHex)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	if len(data) == 0 || len(data)%block.BlockSize() != 0 {
		return "", errors.New("invalid ciphertext length")
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, c.iv).CryptBlocks(out, data)

	plain, err := pkcs7Unpad(out, block.BlockSize())
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// checksum SHA256("HashKey=K&<enc>&HashIV=IV") 大写
func (c *newebpayCipher) checksum(encrypted string) string {
	s := fmt.Sprintf("HashKey=%s&%s&HashIV=%s", c.key, encrypted, c.iv)
	sum := sha256.Sum256([]byte(s))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty data")
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize || pad > len(data) {
		return nil, errors.New("invalid padding")
	}
	// 每个填充字节都必须等于填充长度
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-pad], nil
}

// ---------------- MPG 一次性支付 ----------------

// NewebpayMpgStrategy 蓝新幕前支付 (一次性)
type NewebpayMpgStrategy struct {
	cipher *newebpayCipher
	config config.NewebpayConfig
}

func NewNewebpayMpgStrategy() (*NewebpayMpgStrategy, error) {
	cfg := config.GlobalConfig.Newebpay
	if cfg.MerchantID == "" {
		return nil, errors.New("newebpay config missing")
	}
	c, err := newNewebpayCipher(cfg)
	if err != nil {
		return nil, err
	}
	return &NewebpayMpgStrategy{cipher: c, config: cfg}, nil
}

func (s *NewebpayMpgStrategy) Pay(order *model.Order, opts *CheckoutOptions) (*CheckoutParams, error) {
	params := url.Values{}
	params.Set("MerchantID", s.config.MerchantID)
	params.Set("RespondType", "JSON")
	params.Set("TimeStamp", strconv.FormatInt(time.Now().Unix(), 10))
	params.Set("Version", "2.0")
	params.Set("MerchantOrderNo", order.OrderNo)
	params.Set("Amt", strconv.FormatInt(order.Amount, 10))
	params.Set("ItemDesc", order.Description)
	params.Set("NotifyURL", s.config.NotifyBaseURL+"/payment/notify/mpg")
	params.Set("ReturnURL", s.config.NotifyBaseURL+"/payment/return/mpg")
	if opts != nil && opts.Email != "" {
		params.Set("Email", opts.Email)
	}

	encrypted, err := s.cipher.encrypt(params.Encode())
	if err != nil {
		return nil, err
	}

	return &CheckoutParams{
		GatewayURL: s.config.MpgURL,
		Method:     "POST",
		Fields: map[string]string{
			"MerchantID": s.config.MerchantID,
			"TradeInfo":  encrypted,
			"TradeSha":   s.cipher.checksum(encrypted),
			"Version":    "2.0",
		},
	}, nil
}

// mpgPayload MPG 回调解密后的 JSON 结构
type mpgPayload struct {
	Status  string `json:"Status"`
	Message string `json:"Message"`
	Result  struct {
		MerchantOrderNo string      `json:"MerchantOrderNo"`
		TradeNo         string      `json:"TradeNo"`
		TradeStatus     string      `json:"TradeStatus"`
		Amt             json.Number `json:"Amt"`
		PaymentType     string      `json:"PaymentType"`
		PayTime         string      `json:"PayTime"`
		RespondCode     string      `json:"RespondCode"`
	} `json:"Result"`
}

func (s *NewebpayMpgStrategy) Notify(params interface{}) (*model.PaymentEvent, error) {
	values, ok := params.(url.Values)
	if !ok {
		return nil, errors.New("invalid params type, expected url.Values")
	}

	tradeInfo := values.Get("TradeInfo")
	tradeSha := values.Get("TradeSha")
	if tradeInfo == "" || tradeSha == "" {
		return nil, ErrVerificationFailed
	}

	// 先比对检查码再解密
	if s.cipher.checksum(tradeInfo) != strings.ToUpper(tradeSha) {
		return nil, ErrVerificationFailed
	}

	plain, err := s.cipher.decrypt(tradeInfo)
	if err != nil {
		return nil, ErrVerificationFailed
	}

	var payload mpgPayload
	if err := json.Unmarshal([]byte(plain), &payload); err != nil {
		return nil, ErrVerificationFailed
	}

	amt, _ := payload.Result.Amt.Int64()
	success := payload.Status == "SUCCESS" && payload.Result.TradeStatus == "1"

	return &model.PaymentEvent{
		Kind:           model.EventOneTimeResult,
		Channel:        "newebpay",
		OrderNo:        payload.Result.MerchantOrderNo,
		Success:        success,
		RespondCode:    payload.Status,
		Message:        payload.Message,
		GatewayTradeNo: payload.Result.TradeNo,
		AmountPaid:     amt,
		Raw:            plain,
	}, nil
}

var _ GatewayStrategy = (*NewebpayMpgStrategy)(nil)

// ---------------- 定期定额委托 ----------------

// NewebpayPeriodStrategy 蓝新信用卡定期定额 (月付订阅)
type NewebpayPeriodStrategy struct {
	cipher *newebpayCipher
	config config.NewebpayConfig
}

func NewNewebpayPeriodStrategy() (*NewebpayPeriodStrategy, error) {
	cfg := config.GlobalConfig.Newebpay
	if cfg.MerchantID == "" {
		return nil, errors.New("newebpay config missing")
	}
	c, err := newNewebpayCipher(cfg)
	if err != nil {
		return nil, err
	}
	return &NewebpayPeriodStrategy{cipher: c, config: cfg}, nil
}

func (s *NewebpayPeriodStrategy) Pay(order *model.Order, opts *CheckoutOptions) (*CheckoutParams, error) {
	if opts == nil || opts.PeriodTimes <= 0 {
		return nil, errors.New("period options required")
	}

	point := opts.PeriodPoint
	if point == "" {
		// 默认扣款日取下单当天, 超过 28 号钳到 28 避免短月漏扣
		day := time.Now().Day()
		if day > 28 {
			day = 28
		}
		point = fmt.Sprintf("%02d", day)
	}

	startType := opts.PeriodStartType
	if startType == "" {
		startType = "2" // 立即全额授权
	}

	params := url.Values{}
	params.Set("RespondType", "JSON")
	params.Set("TimeStamp", strconv.FormatInt(time.Now().Unix(), 10))
	params.Set("Version", "1.5")
	params.Set("MerOrderNo", order.OrderNo)
	params.Set("ProdDesc", order.Description)
	params.Set("PeriodAmt", strconv.FormatInt(order.Amount, 10))
	params.Set("PeriodType", "M")
	params.Set("PeriodPoint", point)
	params.Set("PeriodStartType", startType)
	params.Set("PeriodTimes", strconv.Itoa(opts.PeriodTimes))
	params.Set("NotifyURL", s.config.NotifyBaseURL+"/payment/notify/period")
	params.Set("ReturnURL", s.config.NotifyBaseURL+"/payment/return/period")
	if opts.Email != "" {
		params.Set("PayerEmail", opts.Email)
	}

	encrypted, err := s.cipher.encrypt(params.Encode())
	if err != nil {
		return nil, err
	}

	return &CheckoutParams{
		GatewayURL: s.config.PeriodURL,
		Method:     "POST",
		Fields: map[string]string{
			"MerchantID_": s.config.MerchantID,
			"PostData_":   encrypted,
		},
	}, nil
}

// periodPayload 定期定额回调的 JSON 结构
// Result 字段因事件不同而异, 且数值型字段有时是字符串, 用 map 兜着
type periodPayload struct {
	Status  string                 `json:"Status"`
	Message string                 `json:"Message"`
	Result  map[string]interface{} `json:"Result"`
}

func (s *NewebpayPeriodStrategy) Notify(params interface{}) (*model.PaymentEvent, error) {
	values, ok := params.(url.Values)
	if !ok {
		return nil, errors.New("invalid params type, expected url.Values")
	}

	encrypted := values.Get("Period")
	if encrypted == "" {
		return nil, ErrVerificationFailed
	}

	plain, err := s.cipher.decrypt(encrypted)
	if err != nil {
		return nil, ErrVerificationFailed
	}

	var payload periodPayload
	if err := json.Unmarshal([]byte(plain), &payload); err != nil {
		return nil, ErrVerificationFailed
	}

	r := payload.Result
	event := &model.PaymentEvent{
		Channel:         "newebpay",
		OrderNo:         asString(r["MerchantOrderNo"]),
		GatewayPeriodNo: asString(r["PeriodNo"]),
		Success:         payload.Status == "SUCCESS",
		RespondCode:     asString(r["RespondCode"]),
		Message:         payload.Message,
		GatewayTradeNo:  asString(r["TradeNo"]),
		AuthCode:        asString(r["AuthCode"]),
		AuthDate:        asString(r["AuthDate"]),
		AmountPaid:      asInt64(r["AuthAmt"]),
		Raw:             plain,
	}
	if event.OrderNo == "" {
		event.OrderNo = asString(r["MerOrderNo"])
	}

	// 委托建立回调带 AuthTimes + DateArray, 每期授权回调带 AuthDate + AlreadyTimes
	switch {
	case r["AuthTimes"] != nil && r["DateArray"] != nil:
		event.Kind = model.EventAgreementCreated
		event.TotalInstallments = int(asInt64(r["AuthTimes"]))
		event.InstallmentNo = 1
	case r["AuthDate"] != nil && r["AlreadyTimes"] != nil:
		event.Kind = model.EventInstallmentResult
		event.InstallmentNo = int(asInt64(r["AlreadyTimes"]))
	default:
		// 失败回调可能两组字段都没有, 归到委托建立失败,
		// 对账器按订单当前状态决定落点
		event.Kind = model.EventAgreementCreated
	}

	return event, nil
}

var _ GatewayStrategy = (*NewebpayPeriodStrategy)(nil)

func asString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatInt(int64(t), 10)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	case json.Number:
		n, _ := t.Int64()
		return n
	default:
		return 0
	}
}
