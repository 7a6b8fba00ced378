package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 订单状态
const (
	StatusPendingPayment        = "PENDING_PAYMENT"
	StatusPaid                  = "PAID"
	StatusFailed                = "FAILED"
	StatusAgreementCreated      = "AGREEMENT_CREATED"
	StatusAgreementFailed       = "AGREEMENT_FAILED"
	StatusPeriodicPaymentFailed = "PERIODIC_PAYMENT_FAILED"
	StatusCompletedPeriods      = "COMPLETED_PERIODS"
)

// 商品类型
const (
	ItemTypePlan    = "plan"
	ItemTypePackage = "package"
)

// transitions 状态机允许的边
// AGREEMENT_CREATED 上成功的中间期数只记子表不换状态, 不在此表
var transitions = map[string][]string{
	StatusPendingPayment: {
		StatusPaid,
		StatusFailed,
		StatusAgreementCreated,
		StatusAgreementFailed,
	},
	StatusAgreementCreated: {
		StatusCompletedPeriods,
		StatusPeriodicPaymentFailed,
	},
	// 宽限期恢复: 扣款失败后网关下一期继续尝试, 成功可以回到正常轨道
	StatusPeriodicPaymentFailed: {
		StatusAgreementCreated,
		StatusCompletedPeriods,
	},
}

// CanTransition 判断状态迁移是否合法
func CanTransition(from, to string) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Order 支付订单, 只迁移状态从不删除, 是对账的审计轨迹
type Order struct {
	ID        string `gorm:"type:uuid;primaryKey" json:"id"`
	OrderNo   string `gorm:"uniqueIndex;size:64;not null" json:"orderNo"`
	UserID    string `gorm:"type:uuid;index;not null" json:"userId"`
	ItemID    string `gorm:"size:32;not null" json:"itemId"`
	ItemType  string `gorm:"size:16;not null" json:"itemType"`
	// 订阅方案专用, 点数包为空
	BillingCycle string `gorm:"size:16" json:"billingCycle"`
	Amount       int64  `gorm:"not null" json:"amount"` // TWD
	Description  string `gorm:"size:255" json:"description"`
	Status       string `gorm:"size:32;not null;index" json:"status"`
	Channel      string `gorm:"size:16;not null" json:"channel"`

	// 网关回填
	GatewayTradeNo  string `gorm:"size:64" json:"gatewayTradeNo"`
	GatewayPeriodNo string `gorm:"size:64;index" json:"gatewayPeriodNo"` // 定期定额委托单号
	FailureReason   string `gorm:"size:255" json:"failureReason"`
	// 委托总期数, 一次性订单为 0
	TotalInstallments int `json:"totalInstallments"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Order) TableName() string {
	return "orders"
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	return nil
}

// PeriodicPayment 定期定额单期扣款记录
// (order_no, installment_no) 唯一, 是续扣回调的幂等闸
type PeriodicPayment struct {
	ID             string    `gorm:"type:uuid;primaryKey" json:"id"`
	OrderNo        string    `gorm:"size:64;not null;uniqueIndex:uq_period_order_installment,priority:1" json:"orderNo"`
	InstallmentNo  int       `gorm:"not null;uniqueIndex:uq_period_order_installment,priority:2" json:"installmentNo"`
	AuthDate       string    `gorm:"size:32" json:"authDate"`
	AuthCode       string    `gorm:"size:32" json:"authCode"`
	GatewayTradeNo string    `gorm:"size:64" json:"gatewayTradeNo"`
	Amount         int64     `json:"amount"`
	Status         string    `gorm:"size:16;not null" json:"status"` // SUCCESS / FAILED
	ProcessedAt    time.Time `json:"processedAt"`
}

func (PeriodicPayment) TableName() string {
	return "periodic_payments"
}

func (p *PeriodicPayment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// UnmatchedNotification 找不到订单的回调, 落库供人工补单
type UnmatchedNotification struct {
	ID         string    `gorm:"type:uuid;primaryKey" json:"id"`
	Channel    string    `gorm:"size:16;not null" json:"channel"`
	OrderNo    string    `gorm:"size:64" json:"orderNo"`
	PeriodNo   string    `gorm:"size:64" json:"periodNo"`
	RawPayload string    `gorm:"type:text" json:"rawPayload"`
	Reason     string    `gorm:"size:255" json:"reason"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (UnmatchedNotification) TableName() string {
	return "unmatched_notifications"
}

func (n *UnmatchedNotification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	return nil
}
