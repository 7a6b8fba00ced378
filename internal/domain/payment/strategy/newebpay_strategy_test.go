package strategy

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"testing"

	"lawsowl_billing/internal/domain/payment/model"
	"lawsowl_billing/internal/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNewebpayConfig() config.NewebpayConfig {
	return config.NewebpayConfig{
		MerchantID:    "MS123456789",
		HashKey:       "abcdefghijklmnopqrstuvwxyz123456", // 32 字节
		HashIV:        "1234567890abcdef",                 // 16 字节
		MpgURL:        "https://ccore.newebpay.com/MPG/mpg_gateway",
		PeriodURL:     "https://ccore.newebpay.com/MPG/period",
		NotifyBaseURL: "https://api.example.com",
	}
}

func setupNewebpay(t *testing.T) (*NewebpayMpgStrategy, *NewebpayPeriodStrategy) {
	t.Helper()
	config.GlobalConfig.Newebpay = testNewebpayConfig()

	mpg, err := NewNewebpayMpgStrategy()
	require.NoError(t, err)
	period, err := NewNewebpayPeriodStrategy()
	require.NoError(t, err)
	return mpg, period
}

func TestNewebpayCipherRoundTrip(t *testing.T) {
	c, err := newNewebpayCipher(testNewebpayConfig())
	require.NoError(t, err)

	plain := "MerchantID=MS123456789&Amt=2990&MerchantOrderNo=LAWSOWL_0123456789abcdef"
	enc, err := c.encrypt(plain)
	require.NoError(t, err)

	dec, err := c.decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, plain, dec)

	// 检查码对同一密文是确定的
	assert.Equal(t, c.checksum(enc), c.checksum(enc))

	t.Run("Invalid key length is rejected", func(t *testing.T) {
		bad := testNewebpayConfig()
		bad.HashKey = "short"
		_, err := newNewebpayCipher(bad)
		assert.Error(t, err)
	})

	t.Run("Garbage ciphertext fails to decrypt", func(t *testing.T) {
		_, err := c.decrypt("not-hex")
		assert.Error(t, err)

		_, err = c.decrypt("abcd") // 长度不是块大小倍数
		assert.Error(t, err)
	})
}

func TestPkcs7Unpad(t *testing.T) {
	t.Run("Valid padding strips exactly pad bytes", func(t *testing.T) {
		data := append([]byte("hello"), bytes.Repeat([]byte{11}, 11)...)
		out, err := pkcs7Unpad(data, 16)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), out)
	})

	t.Run("Pad byte larger than block size is rejected", func(t *testing.T) {
		data := bytes.Repeat([]byte{0x20}, 16)
		_, err := pkcs7Unpad(data, 16)
		assert.Error(t, err)
	})

	t.Run("Inconsistent trailing bytes are rejected", func(t *testing.T) {
		// 末字节声称填充 11, 但前面的填充字节不是 11
		data := append([]byte("hello"), bytes.Repeat([]byte{7}, 10)...)
		data = append(data, 11)
		_, err := pkcs7Unpad(data, 16)
		assert.Error(t, err)
	})

	t.Run("Forged ciphertext with inconsistent padding fails decryption", func(t *testing.T) {
		// 定期定额通知没有 TradeSha 可验, 解密必须自己挡掉伪造的 padding
		cfg := testNewebpayConfig()
		c, err := newNewebpayCipher(cfg)
		require.NoError(t, err)

		blockData := append([]byte("Amt="), bytes.Repeat([]byte{1}, 11)...)
		blockData = append(blockData, 12)
		require.Len(t, blockData, 16)

		blk, err := aes.NewCipher([]byte(cfg.HashKey))
		require.NoError(t, err)
		out := make([]byte, len(blockData))
		cipher.NewCBCEncrypter(blk, []byte(cfg.HashIV)).CryptBlocks(out, blockData)

		_, err = c.decrypt(hex.EncodeToString(out))
		assert.Error(t, err)
	})
}

func TestNewebpayMpgPay(t *testing.T) {
	mpg, _ := setupNewebpay(t)

	order := &model.Order{
		OrderNo:     "LAWSOWL_0123456789abcdef",
		Amount:      2990,
		Description: "訂閱 基本方案 (annually)",
	}

	params, err := mpg.Pay(order, &CheckoutOptions{Email: "buyer@example.com"})
	require.NoError(t, err)

	assert.Equal(t, testNewebpayConfig().MpgURL, params.GatewayURL)
	assert.Equal(t, "POST", params.Method)
	assert.Equal(t, "MS123456789", params.Fields["MerchantID"])
	assert.NotEmpty(t, params.Fields["TradeInfo"])
	// TradeSha 必须能用同一把钥匙重算出来
	assert.Equal(t, mpg.cipher.checksum(params.Fields["TradeInfo"]), params.Fields["TradeSha"])

	// 解开 TradeInfo 验证关键字段都在
	plain, err := mpg.cipher.decrypt(params.Fields["TradeInfo"])
	require.NoError(t, err)
	values, err := url.ParseQuery(plain)
	require.NoError(t, err)
	assert.Equal(t, "LAWSOWL_0123456789abcdef", values.Get("MerchantOrderNo"))
	assert.Equal(t, "2990", values.Get("Amt"))
	assert.Equal(t, "https://api.example.com/payment/notify/mpg", values.Get("NotifyURL"))
}

// encryptMpgNotify 按网关格式造一条回调
func encryptMpgNotify(t *testing.T, c *newebpayCipher, payload mpgPayload) url.Values {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	enc, err := c.encrypt(string(raw))
	require.NoError(t, err)

	values := url.Values{}
	values.Set("TradeInfo", enc)
	values.Set("TradeSha", c.checksum(enc))
	return values
}

func TestNewebpayMpgNotify(t *testing.T) {
	mpg, _ := setupNewebpay(t)

	t.Run("Successful payment maps to one-time event", func(t *testing.T) {
		var payload mpgPayload
		payload.Status = "SUCCESS"
		payload.Result.MerchantOrderNo = "LAWSOWL_0123456789abcdef"
		payload.Result.TradeNo = "26051012345"
		payload.Result.TradeStatus = "1"
		payload.Result.Amt = json.Number("2990")

		event, err := mpg.Notify(encryptMpgNotify(t, mpg.cipher, payload))
		require.NoError(t, err)

		assert.Equal(t, model.EventOneTimeResult, event.Kind)
		assert.Equal(t, "LAWSOWL_0123456789abcdef", event.OrderNo)
		assert.True(t, event.Success)
		assert.Equal(t, "26051012345", event.GatewayTradeNo)
		assert.Equal(t, int64(2990), event.AmountPaid)
	})

	t.Run("Gateway failure maps to unsuccessful event", func(t *testing.T) {
		var payload mpgPayload
		payload.Status = "TRA10003"
		payload.Message = "卡號錯誤"
		payload.Result.MerchantOrderNo = "LAWSOWL_0123456789abcdef"

		event, err := mpg.Notify(encryptMpgNotify(t, mpg.cipher, payload))
		require.NoError(t, err)
		assert.False(t, event.Success)
		assert.Equal(t, "TRA10003", event.RespondCode)
	})

	t.Run("Tampered checksum is rejected before decryption", func(t *testing.T) {
		var payload mpgPayload
		payload.Status = "SUCCESS"
		values := encryptMpgNotify(t, mpg.cipher, payload)
		values.Set("TradeSha", "0000000000000000000000000000000000000000000000000000000000000000")

		_, err := mpg.Notify(values)
		assert.ErrorIs(t, err, ErrVerificationFailed)
	})

	t.Run("Missing fields are rejected", func(t *testing.T) {
		_, err := mpg.Notify(url.Values{})
		assert.ErrorIs(t, err, ErrVerificationFailed)
	})
}

func encryptPeriodNotify(t *testing.T, c *newebpayCipher, payload map[string]interface{}) url.Values {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	enc, err := c.encrypt(string(raw))
	require.NoError(t, err)

	values := url.Values{}
	values.Set("Period", enc)
	return values
}

func TestNewebpayPeriodNotify(t *testing.T) {
	_, period := setupNewebpay(t)

	t.Run("Agreement creation callback with first authorization", func(t *testing.T) {
		payload := map[string]interface{}{
			"Status":  "SUCCESS",
			"Message": "委託建立成功",
			"Result": map[string]interface{}{
				"MerOrderNo":  "LAWSOWL_0123456789abcdef",
				"PeriodNo":    "P26051012345",
				"AuthTimes":   12,
				"DateArray":   "2026-05-10,2026-06-10",
				"RespondCode": "00",
				"AuthCode":    "A12345",
				"TradeNo":     "T555",
				"AuthAmt":     299,
			},
		}

		event, err := period.Notify(encryptPeriodNotify(t, period.cipher, payload))
		require.NoError(t, err)

		assert.Equal(t, model.EventAgreementCreated, event.Kind)
		assert.Equal(t, "LAWSOWL_0123456789abcdef", event.OrderNo)
		assert.Equal(t, "P26051012345", event.GatewayPeriodNo)
		assert.True(t, event.Success)
		assert.Equal(t, 12, event.TotalInstallments)
		assert.Equal(t, 1, event.InstallmentNo)
		assert.Equal(t, "00", event.RespondCode)
		assert.Equal(t, "A12345", event.AuthCode)
		assert.Equal(t, int64(299), event.AmountPaid)
	})

	t.Run("Installment callback with string-typed numbers", func(t *testing.T) {
		// 网关的数值字段时而是字符串
		payload := map[string]interface{}{
			"Status": "SUCCESS",
			"Result": map[string]interface{}{
				"MerchantOrderNo": "LAWSOWL_0123456789abcdef",
				"PeriodNo":        "P26051012345",
				"AlreadyTimes":    "3",
				"AuthDate":        "2026-08-10",
				"AuthCode":        "A777",
				"TradeNo":         "T777",
				"AuthAmt":         "299",
			},
		}

		event, err := period.Notify(encryptPeriodNotify(t, period.cipher, payload))
		require.NoError(t, err)

		assert.Equal(t, model.EventInstallmentResult, event.Kind)
		assert.Equal(t, 3, event.InstallmentNo)
		assert.Equal(t, int64(299), event.AmountPaid)
		assert.True(t, event.Success)
	})

	t.Run("Failure without classifying fields falls back to agreement kind", func(t *testing.T) {
		payload := map[string]interface{}{
			"Status":  "PER10001",
			"Message": "授權失敗",
			"Result": map[string]interface{}{
				"MerOrderNo": "LAWSOWL_0123456789abcdef",
			},
		}

		event, err := period.Notify(encryptPeriodNotify(t, period.cipher, payload))
		require.NoError(t, err)
		assert.Equal(t, model.EventAgreementCreated, event.Kind)
		assert.False(t, event.Success)
	})

	t.Run("Undecryptable payload is rejected", func(t *testing.T) {
		values := url.Values{}
		values.Set("Period", "ffffffffffffffffffffffffffffffff")
		_, err := period.Notify(values)
		assert.ErrorIs(t, err, ErrVerificationFailed)
	})
}

func TestNewebpayPeriodPay(t *testing.T) {
	_, period := setupNewebpay(t)

	order := &model.Order{
		OrderNo:     "LAWSOWL_0123456789abcdef",
		Amount:      299,
		Description: "訂閱 基本方案 (monthly)",
	}

	params, err := period.Pay(order, &CheckoutOptions{PeriodTimes: 12, Email: "buyer@example.com"})
	require.NoError(t, err)

	assert.Equal(t, "MS123456789", params.Fields["MerchantID_"])
	require.NotEmpty(t, params.Fields["PostData_"])

	plain, err := period.cipher.decrypt(params.Fields["PostData_"])
	require.NoError(t, err)
	values, err := url.ParseQuery(plain)
	require.NoError(t, err)
	assert.Equal(t, "LAWSOWL_0123456789abcdef", values.Get("MerOrderNo"))
	assert.Equal(t, "299", values.Get("PeriodAmt"))
	assert.Equal(t, "M", values.Get("PeriodType"))
	assert.Equal(t, "12", values.Get("PeriodTimes"))

	t.Run("Missing period options rejected", func(t *testing.T) {
		_, err := period.Pay(order, nil)
		assert.Error(t, err)
	})
}
