package strategy

import (
	"errors"

	"lawsowl_billing/internal/domain/payment/model"
)

// ErrVerificationFailed 验签或解密失败, 回调直接拒绝不对账
var ErrVerificationFailed = errors.New("gateway payload verification failed")

// CheckoutParams 发起支付所需的跳转参数
// 蓝新走表单自动提交, 支付宝返回跳转 URL, 微信返回 prepay 参数
type CheckoutParams struct {
	GatewayURL string            `json:"gatewayUrl"`
	Method     string            `json:"method"`
	Fields     map[string]string `json:"fields,omitempty"`
	PayParam   string            `json:"payParam,omitempty"`
}

// CheckoutOptions 下单附加参数
type CheckoutOptions struct {
	Subject string
	Email   string

	// 定期定额委托参数, 一次性支付忽略
	PeriodTimes     int    // 总期数
	PeriodPoint     string // 每月扣款日, 01-28
	PeriodStartType string // 1=10元验证, 2=立即全额, 3=不检查
}

// GatewayStrategy 支付渠道策略
type GatewayStrategy interface {
	// Pay 生成跳转参数
	Pay(order *model.Order, opts *CheckoutOptions) (*CheckoutParams, error)

	// Notify 验签解密回调, 映射为标准化事件
	// 验证失败返回 ErrVerificationFailed
	Notify(params interface{}) (*model.PaymentEvent, error)
}
