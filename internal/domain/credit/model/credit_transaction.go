package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 流水类型
const (
	TypeDebit  = "DEBIT"  // 消费, Amount 为负
	TypeCredit = "CREDIT" // 入账, Amount 为正
)

// 入账用途前缀, 完整 purpose 形如 purchase_credit_package_100
const (
	PurposePrefixPackage      = "purchase_credit_package_"
	PurposePrefixGrant        = "subscription_grant_"
	PurposePrefixRenewalGrant = "subscription_renewal_grant_"
	PurposeSignupBonus        = "signup_bonus"
)

// CreditTransaction 积分流水, 只追加不修改
// 余额快照用于审计: 任意一行都能独立校验 Before + Amount == After
type CreditTransaction struct {
	ID            string    `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        string    `gorm:"type:uuid;index:idx_credit_tx_user_time,priority:1;not null" json:"userId"`
	Type          string    `gorm:"size:16;not null" json:"type"`
	Amount        int64     `gorm:"not null" json:"amount"` // 带符号
	BalanceBefore int64     `gorm:"not null" json:"balanceBefore"`
	BalanceAfter  int64     `gorm:"not null" json:"balanceAfter"`
	Purpose       string    `gorm:"size:128;not null" json:"purpose"`
	OrderNo       string    `gorm:"size:64;index" json:"orderNo"` // 关联订单号, 非订单入账为空
	Description   string    `gorm:"size:255" json:"description"`
	CreatedAt     time.Time `gorm:"index:idx_credit_tx_user_time,priority:2" json:"createdAt"`
}

func (CreditTransaction) TableName() string {
	return "credit_transactions"
}

func (t *CreditTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}
