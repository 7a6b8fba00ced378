package service

import (
	"context"
	"errors"
	"time"

	creditmodel "lawsowl_billing/internal/domain/credit/model"
	creditrepo "lawsowl_billing/internal/domain/credit/repository"
	creditsvc "lawsowl_billing/internal/domain/credit/service"
	"lawsowl_billing/internal/domain/subscription/catalog"
	subrepo "lawsowl_billing/internal/domain/subscription/repository"
	usermodel "lawsowl_billing/internal/domain/user/model"
	"lawsowl_billing/pkg/logger"

	"go.uber.org/zap"
)

var (
	ErrPlanNotFound         = errors.New("plan not found")
	ErrInvalidDowngrade     = errors.New("target level must be lower than current level")
	ErrNoPendingDowngrade   = errors.New("no pending downgrade to cancel")
	ErrNoActiveSubscription = errors.New("no active subscription")
)

// Tx 对账写阶段的完整事务视图: 订阅字段 + 积分账本
type Tx interface {
	creditrepo.Tx
	subrepo.Tx
}

// StatusInfo 订阅状态查询结果
type StatusInfo struct {
	Level                         string     `json:"level"`
	BillingCycle                  string     `json:"billingCycle"`
	SubscriptionStatus            string     `json:"subscriptionStatus"`
	SubscriptionStartDate         *time.Time `json:"subscriptionStartDate"`
	SubscriptionEndDate           *time.Time `json:"subscriptionEndDate"`
	PendingDowngradeToLevel       string     `json:"pendingDowngradeToLevel,omitempty"`
	PendingDowngradeEffectiveDate *time.Time `json:"pendingDowngradeEffectiveDate,omitempty"`
	Credits                       int64      `json:"credits"`
}

// LifecycleService 订阅生命周期
// 带 Tx 参数的方法运行在对账事务里, 调用方保证读已完成
type LifecycleService interface {
	// Activate 首次开通: 设置周期与到期日, 发放周期赠点和升级奖励
	Activate(tx Tx, user *usermodel.User, planID, billingCycle, orderNo string, now time.Time) error

	// Renew 续期成功一期: 发放月赠点并顺延到期日
	Renew(tx Tx, user *usermodel.User, planID, orderNo string, now time.Time) error

	// Complete 最后一期扣款成功: 发放赠点后委托结束, 降回 free
	Complete(tx Tx, user *usermodel.User, planID, orderNo string, now time.Time) error

	// MarkPaymentFailed 记录扣款失败, 进入宽限期
	MarkPaymentFailed(tx Tx, user *usermodel.User, reason string) error

	// Expire 外部取消或到期, 清空订阅字段降回 free; 只动订阅字段, 不碰账本
	Expire(tx subrepo.Tx, user *usermodel.User) error

	// ExpireSubscription 独立事务版 Expire, 后台处理外部取消用
	ExpireSubscription(ctx context.Context, userID string) error

	// ScheduleDowngrade 预约降级, 到当前周期结束生效
	ScheduleDowngrade(ctx context.Context, userID, targetLevel string) error

	// CancelDowngrade 取消降级预约
	CancelDowngrade(ctx context.Context, userID string) error

	// Status 订阅状态查询
	Status(ctx context.Context, userID string) (*StatusInfo, error)
}

type lifecycleService struct {
	repo    subrepo.SubscriptionRepository
	credits creditsvc.CreditService
}

func NewLifecycleService(repo subrepo.SubscriptionRepository, credits creditsvc.CreditService) LifecycleService {
	return &lifecycleService{repo: repo, credits: credits}
}

func (s *lifecycleService) Activate(tx Tx, user *usermodel.User, planID, billingCycle, orderNo string, now time.Time) error {
	plan, ok := catalog.GetPlan(planID)
	if !ok {
		return ErrPlanNotFound
	}

	// 周期赠点: 月付发当月额度, 年付一次发全年额度
	grant := plan.CreditsPerMonth
	purpose := grantPurpose(planID)
	months := 1
	if billingCycle == usermodel.BillingCycleAnnually {
		grant = plan.CreditsForYear
		months = 12
	}

	if grant > 0 {
		if _, err := s.credits.CreditInTx(tx, user, grant, purpose, orderNo, plan.Name); err != nil {
			return err
		}
	}

	// 升级奖励只在首次开通且等级确实上升时发
	if plan.Rank > catalog.LevelRank(user.Level) {
		if bonus, ok := plan.UpgradeBonus[user.Level]; ok && bonus > 0 {
			if _, err := s.credits.CreditInTx(tx, user, bonus, purpose, orderNo, "升級獎勵"); err != nil {
				return err
			}
		}
	}

	end := addMonthsClamped(now, months)
	return tx.UpdateUser(user.ID, map[string]interface{}{
		"level":                            plan.ID,
		"billing_cycle":                    billingCycle,
		"subscription_status":              usermodel.SubStatusActive,
		"subscription_start_date":          now,
		"subscription_end_date":            end,
		"subscription_order_no":            orderNo,
		"last_subscription_failure_reason": "",
		"pending_downgrade_to_level":       "",
		"pending_downgrade_effective_date": nil,
	})
}

func (s *lifecycleService) Renew(tx Tx, user *usermodel.User, planID, orderNo string, now time.Time) error {
	plan, ok := catalog.GetPlan(planID)
	if !ok {
		return ErrPlanNotFound
	}

	if plan.CreditsPerMonth > 0 {
		purpose := renewalPurpose(planID)
		if _, err := s.credits.CreditInTx(tx, user, plan.CreditsPerMonth, purpose, orderNo, plan.Name); err != nil {
			return err
		}
	}

	// 到期日正常从旧到期日顺延; 已经过期则从现在重算, 避免欠期累积
	base := now
	if user.SubscriptionEndDate != nil && user.SubscriptionEndDate.After(now) {
		base = *user.SubscriptionEndDate
	}
	end := addMonthsClamped(base, 1)

	return tx.UpdateUser(user.ID, map[string]interface{}{
		"level":                            plan.ID,
		"subscription_status":              usermodel.SubStatusActive,
		"subscription_end_date":            end,
		"last_subscription_failure_reason": "",
	})
}

func (s *lifecycleService) Complete(tx Tx, user *usermodel.User, planID, orderNo string, now time.Time) error {
	plan, ok := catalog.GetPlan(planID)
	if !ok {
		return ErrPlanNotFound
	}

	// 最后一期照常发赠点, 然后委托结束
	if plan.CreditsPerMonth > 0 {
		purpose := renewalPurpose(planID)
		if _, err := s.credits.CreditInTx(tx, user, plan.CreditsPerMonth, purpose, orderNo, plan.Name); err != nil {
			return err
		}
	}

	logger.Log.Info("訂閱委託期滿",
		zap.String("user_id", user.ID),
		zap.String("plan", planID),
		zap.String("order_no", orderNo))

	return tx.UpdateUser(user.ID, map[string]interface{}{
		"level":                            usermodel.LevelFree,
		"billing_cycle":                    "",
		"subscription_status":              usermodel.SubStatusCompleted,
		"subscription_end_date":            addMonthsClamped(now, 1), // 最后一期的权益保留一个月
		"gateway_subscription_id":          "",
		"subscription_order_no":            "",
		"pending_downgrade_to_level":       "",
		"pending_downgrade_effective_date": nil,
	})
}

func (s *lifecycleService) MarkPaymentFailed(tx Tx, user *usermodel.User, reason string) error {
	return tx.UpdateUser(user.ID, map[string]interface{}{
		"subscription_status":              usermodel.SubStatusPaymentFailed,
		"last_subscription_failure_reason": reason,
	})
}

func (s *lifecycleService) Expire(tx subrepo.Tx, user *usermodel.User) error {
	return tx.UpdateUser(user.ID, map[string]interface{}{
		"level":                            usermodel.LevelFree,
		"billing_cycle":                    "",
		"subscription_status":              usermodel.SubStatusExpired,
		"gateway_subscription_id":          "",
		"subscription_order_no":            "",
		"pending_downgrade_to_level":       "",
		"pending_downgrade_effective_date": nil,
	})
}

func (s *lifecycleService) ExpireSubscription(ctx context.Context, userID string) error {
	return s.repo.Transact(ctx, func(tx subrepo.Tx) error {
		user, err := tx.UserByID(userID)
		if err != nil {
			return err
		}
		if user.Level == usermodel.LevelFree {
			return ErrNoActiveSubscription
		}

		logger.Log.Info("訂閱外部取消",
			zap.String("user_id", userID),
			zap.String("level", user.Level),
			zap.String("status", user.SubscriptionStatus))
		return s.Expire(tx, user)
	})
}

func (s *lifecycleService) ScheduleDowngrade(ctx context.Context, userID, targetLevel string) error {
	if targetLevel != usermodel.LevelFree {
		if _, ok := catalog.GetPlan(targetLevel); !ok {
			return ErrPlanNotFound
		}
	}

	return s.repo.Transact(ctx, func(tx subrepo.Tx) error {
		user, err := tx.UserByID(userID)
		if err != nil {
			return err
		}

		if user.SubscriptionStatus != usermodel.SubStatusActive || user.SubscriptionEndDate == nil {
			return ErrNoActiveSubscription
		}
		if catalog.LevelRank(targetLevel) >= catalog.LevelRank(user.Level) {
			return ErrInvalidDowngrade
		}

		return tx.UpdateUser(userID, map[string]interface{}{
			"pending_downgrade_to_level":       targetLevel,
			"pending_downgrade_effective_date": *user.SubscriptionEndDate,
		})
	})
}

func (s *lifecycleService) CancelDowngrade(ctx context.Context, userID string) error {
	return s.repo.Transact(ctx, func(tx subrepo.Tx) error {
		user, err := tx.UserByID(userID)
		if err != nil {
			return err
		}
		if user.PendingDowngradeToLevel == "" {
			return ErrNoPendingDowngrade
		}

		return tx.UpdateUser(userID, map[string]interface{}{
			"pending_downgrade_to_level":       "",
			"pending_downgrade_effective_date": nil,
		})
	})
}

func (s *lifecycleService) Status(ctx context.Context, userID string) (*StatusInfo, error) {
	var info StatusInfo
	err := s.repo.Transact(ctx, func(tx subrepo.Tx) error {
		user, err := tx.UserByID(userID)
		if err != nil {
			return err
		}
		info = StatusInfo{
			Level:                         user.Level,
			BillingCycle:                  user.BillingCycle,
			SubscriptionStatus:            user.SubscriptionStatus,
			SubscriptionStartDate:         user.SubscriptionStartDate,
			SubscriptionEndDate:           user.SubscriptionEndDate,
			PendingDowngradeToLevel:       user.PendingDowngradeToLevel,
			PendingDowngradeEffectiveDate: user.PendingDowngradeEffectiveDate,
			Credits:                       user.Credits,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// addMonthsClamped 加月并把日钳到目标月最后一天
// 1/31 + 1 个月得 2/28, 不会滚到 3 月
func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func grantPurpose(planID string) string {
	return creditmodel.PurposePrefixGrant + planID
}

func renewalPurpose(planID string) string {
	return creditmodel.PurposePrefixRenewalGrant + planID
}
