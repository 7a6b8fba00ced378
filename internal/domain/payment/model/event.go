package model

// 事件类型, 对应网关两条回调通道的三种语义
const (
	EventOneTimeResult     = "one_time_result"    // MPG 一次性支付结果
	EventAgreementCreated  = "agreement_created"  // 委托建立 (含首期授权)
	EventInstallmentResult = "installment_result" // 委托续扣结果
)

// PaymentEvent 验签解密后的标准化网关事件
// Kind 决定哪些字段有效, 对账器按 Kind 穷举分支
type PaymentEvent struct {
	Kind    string
	Channel string

	// 订单定位: 优先 OrderNo, 续扣回调可能只有委托单号
	OrderNo         string
	GatewayPeriodNo string

	Success     bool
	RespondCode string // 网关状态码, 失败时作为原因记录
	Message     string

	GatewayTradeNo string
	AmountPaid     int64

	// 委托相关
	AuthCode          string
	AuthDate          string
	InstallmentNo     int // 本次是第几期
	TotalInstallments int

	// 原始报文, 死信排查用
	Raw string
}
