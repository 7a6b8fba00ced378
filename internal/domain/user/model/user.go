package model

import (
	"time"

	"lawsowl_billing/pkg/model"
)

// 角色
const (
	RoleUser  = 0
	RoleAdmin = 1
)

// 会员等级, Rank 比较见 subscription/catalog
const (
	LevelFree        = "free"
	LevelBasic       = "basic"
	LevelAdvanced    = "advanced"
	LevelPremiumPlus = "premium_plus"
)

// 计费周期
const (
	BillingCycleMonthly  = "monthly"
	BillingCycleAnnually = "annually"
)

// 订阅状态
const (
	SubStatusNone          = ""               // 从未订阅
	SubStatusActive        = "active"         // 委托生效, 持续扣款中
	SubStatusPaymentFailed = "payment_failed" // 最近一期扣款失败, 宽限期内
	SubStatusCompleted     = "completed"      // 委托期数走完
	SubStatusExpired       = "expired"        // 已到期降回 free
)

// User 用户模型, 积分余额与订阅状态都挂在用户上
type User struct {
	model.BaseModel
	Email    string `gorm:"uniqueIndex;size:255" json:"email"`
	Nickname string `gorm:"size:64" json:"nickname"`
	Password string `gorm:"size:255" json:"-"` // 密码不返回给前端
	Role     int    `gorm:"default:0" json:"role"`

	// 积分余额, 只允许通过 credits = credits + ? 增量修改
	Credits int64 `gorm:"not null;default:0" json:"credits"`

	Level        string `gorm:"size:32;not null;default:'free'" json:"level"`
	BillingCycle string `gorm:"size:16" json:"billingCycle"`

	SubscriptionStatus    string     `gorm:"size:32" json:"subscriptionStatus"`
	SubscriptionStartDate *time.Time `json:"subscriptionStartDate"`
	SubscriptionEndDate   *time.Time `json:"subscriptionEndDate"`

	// 最近一次扣款失败的网关响应码, 供客服排查
	LastSubscriptionFailureReason string `gorm:"size:255" json:"-"`

	// 降级预约: 到当前周期结束才生效
	PendingDowngradeToLevel       string     `gorm:"size:32" json:"pendingDowngradeToLevel"`
	PendingDowngradeEffectiveDate *time.Time `json:"pendingDowngradeEffectiveDate"`

	// 网关侧委托标识, 续扣回调靠它找回用户
	GatewaySubscriptionID string `gorm:"size:64;index" json:"-"`
	SubscriptionOrderNo   string `gorm:"size:64" json:"-"`

	SignupBonusGranted bool `gorm:"default:false" json:"-"`
}

func (User) TableName() string {
	return "users"
}
