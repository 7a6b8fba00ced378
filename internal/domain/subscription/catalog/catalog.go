package catalog

import (
	"lawsowl_billing/internal/domain/user/model"
)

// Plan 订阅方案, 静态配置
type Plan struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Rank            int    `json:"rank"` // 等级序, 升级奖励按它比较
	MonthlyPrice    int64  `json:"monthlyPrice"`  // TWD
	AnnuallyPrice   int64  `json:"annuallyPrice"` // TWD
	CreditsPerMonth int64  `json:"creditsPerMonth"`
	CreditsForYear  int64  `json:"creditsForYear"`
	// UpgradeBonus 首次开通时按旧等级查的额外赠点
	UpgradeBonus map[string]int64 `json:"upgradeBonus"`
}

// Package 一次性点数包
type Package struct {
	ID             string `json:"id"`
	Credits        int64  `json:"credits"`
	Price          int64  `json:"price"` // TWD
	DiscountApplies bool  `json:"discountApplies"` // 是否参与会员折扣
}

// MemberDiscount 会员买点折扣, 达到门槛点数才生效
type MemberDiscount struct {
	Level      string  `json:"level"`
	MinCredits int64   `json:"minCredits"`
	Rate       float64 `json:"rate"`
}

var plans = map[string]Plan{
	model.LevelBasic: {
		ID:              model.LevelBasic,
		Name:            "基本方案",
		Rank:            1,
		MonthlyPrice:    299,
		AnnuallyPrice:   2990,
		CreditsPerMonth: 250,
		CreditsForYear:  3000,
		UpgradeBonus: map[string]int64{
			model.LevelFree: 100,
		},
	},
	model.LevelAdvanced: {
		ID:              model.LevelAdvanced,
		Name:            "進階方案",
		Rank:            2,
		MonthlyPrice:    999,
		AnnuallyPrice:   9990,
		CreditsPerMonth: 2500,
		CreditsForYear:  30000,
		UpgradeBonus: map[string]int64{
			model.LevelFree:  1000,
			model.LevelBasic: 500,
		},
	},
	model.LevelPremiumPlus: {
		ID:              model.LevelPremiumPlus,
		Name:            "尊榮方案",
		Rank:            3,
		MonthlyPrice:    3000,
		AnnuallyPrice:   30000,
		CreditsPerMonth: 5000,
		CreditsForYear:  60000,
		UpgradeBonus: map[string]int64{
			model.LevelFree:     2500,
			model.LevelBasic:    2000,
			model.LevelAdvanced: 1000,
		},
	},
}

var packages = map[string]Package{
	"20":   {ID: "20", Credits: 20, Price: 60, DiscountApplies: false},
	"50":   {ID: "50", Credits: 50, Price: 100, DiscountApplies: false},
	"100":  {ID: "100", Credits: 100, Price: 180, DiscountApplies: false},
	"300":  {ID: "300", Credits: 300, Price: 510, DiscountApplies: false},
	"500":  {ID: "500", Credits: 500, Price: 850, DiscountApplies: true},
	"1000": {ID: "1000", Credits: 1000, Price: 1500, DiscountApplies: true},
	"3000": {ID: "3000", Credits: 3000, Price: 4000, DiscountApplies: true},
}

// 進階 8 折 / 尊榮 7 折, 都从 500 点包起跳
var discounts = []MemberDiscount{
	{Level: model.LevelAdvanced, MinCredits: 500, Rate: 0.8},
	{Level: model.LevelPremiumPlus, MinCredits: 500, Rate: 0.7},
}

// GetPlan 查方案, 不存在返回 false
func GetPlan(id string) (Plan, bool) {
	p, ok := plans[id]
	return p, ok
}

// GetPackage 查点数包
func GetPackage(id string) (Package, bool) {
	p, ok := packages[id]
	return p, ok
}

// Plans 全部方案列表
func Plans() []Plan {
	out := make([]Plan, 0, len(plans))
	for _, id := range []string{model.LevelBasic, model.LevelAdvanced, model.LevelPremiumPlus} {
		out = append(out, plans[id])
	}
	return out
}

// Packages 全部点数包, 按点数从小到大
func Packages() []Package {
	out := make([]Package, 0, len(packages))
	for _, id := range []string{"20", "50", "100", "300", "500", "1000", "3000"} {
		out = append(out, packages[id])
	}
	return out
}

// LevelRank 等级序, 未知等级(含 free)为 0
func LevelRank(level string) int {
	if p, ok := plans[level]; ok {
		return p.Rank
	}
	return 0
}

// DiscountedPrice 按会员等级算点数包实付价, 不满足门槛原价
func DiscountedPrice(pkg Package, level string) int64 {
	if !pkg.DiscountApplies {
		return pkg.Price
	}
	for _, d := range discounts {
		if d.Level == level && pkg.Credits >= d.MinCredits {
			return int64(float64(pkg.Price) * d.Rate)
		}
	}
	return pkg.Price
}

// PlanPrice 方案按周期取价, 周期非法返回 0
func PlanPrice(p Plan, billingCycle string) int64 {
	switch billingCycle {
	case model.BillingCycleMonthly:
		return p.MonthlyPrice
	case model.BillingCycleAnnually:
		return p.AnnuallyPrice
	}
	return 0
}
