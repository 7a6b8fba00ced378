package service

import (
	"context"
	"errors"
	"fmt"

	creditmodel "lawsowl_billing/internal/domain/credit/model"
	"lawsowl_billing/internal/domain/credit/repository"
	usermodel "lawsowl_billing/internal/domain/user/model"
	"lawsowl_billing/pkg/logger"
	"lawsowl_billing/pkg/metrics"

	"go.uber.org/zap"
)

// ErrInvalidAmount 入账金额必须为正整数, 出现即代码缺陷
var ErrInvalidAmount = errors.New("credit amount must be a positive integer")

// DebitResult 扣点结果
// Sufficient 为 false 时余额未动, 由调用方提示充值
type DebitResult struct {
	Sufficient    bool  `json:"sufficient"`
	BalanceBefore int64 `json:"balanceBefore"`
	BalanceAfter  int64 `json:"balanceAfter"`
}

// CreditService 积分账本
type CreditService interface {
	// CheckAndDebit 余额充足则扣点并记流水, 不足则原样返回余额
	CheckAndDebit(ctx context.Context, userID string, amount int64, purpose, description string) (*DebitResult, error)

	// Credit 独立事务入账
	Credit(ctx context.Context, userID string, amount int64, purpose, orderNo, description string) (int64, error)

	// CreditInTx 在已有事务内入账, 对账写阶段专用
	// user 是读阶段取出的快照, 入账只发写语句, 余额从快照推进并回写到 user.Credits,
	// 同一事务连续入账直接复用同一个快照
	CreditInTx(tx repository.Tx, user *usermodel.User, amount int64, purpose, orderNo, description string) (int64, error)

	// GrantSignupBonus 注册赠点, 靠用户标记位幂等
	GrantSignupBonus(ctx context.Context, userID string) error

	// History 流水分页
	History(userID string, offset, limit int) ([]creditmodel.CreditTransaction, int64, error)
}

type creditService struct {
	repo    repository.CreditRepository
	metrics *metrics.Collector
	bonus   int64 // 注册赠点数量, 0 表示关闭
}

func NewCreditService(repo repository.CreditRepository, m *metrics.Collector, signupBonus int64) CreditService {
	return &creditService{repo: repo, metrics: m, bonus: signupBonus}
}

func (s *creditService) CheckAndDebit(ctx context.Context, userID string, amount int64, purpose, description string) (*DebitResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var result DebitResult
	err := s.repo.Transact(ctx, func(tx repository.Tx) error {
		user, err := tx.UserByID(userID)
		if err != nil {
			return err
		}

		result.BalanceBefore = user.Credits
		if user.Credits < amount {
			// 余额不足不是错误, 事务内无任何写入
			result.Sufficient = false
			result.BalanceAfter = user.Credits
			return nil
		}

		after := user.Credits - amount
		if err := tx.AddCredits(userID, -amount); err != nil {
			return err
		}

		result.Sufficient = true
		result.BalanceAfter = after

		return tx.AppendTransaction(&creditmodel.CreditTransaction{
			UserID:        userID,
			Type:          creditmodel.TypeDebit,
			Amount:        -amount,
			BalanceBefore: result.BalanceBefore,
			BalanceAfter:  after,
			Purpose:       purpose,
			Description:   description,
		})
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		if result.Sufficient {
			s.metrics.ObserveLedgerOp(creditmodel.TypeDebit, purpose)
		} else {
			s.metrics.ObserveDebitReject()
		}
	}
	return &result, nil
}

func (s *creditService) Credit(ctx context.Context, userID string, amount int64, purpose, orderNo, description string) (int64, error) {
	var after int64
	err := s.repo.Transact(ctx, func(tx repository.Tx) error {
		user, err := tx.UserByID(userID)
		if err != nil {
			return err
		}
		after, err = s.CreditInTx(tx, user, amount, purpose, orderNo, description)
		return err
	})
	return after, err
}

func (s *creditService) CreditInTx(tx repository.Tx, user *usermodel.User, amount int64, purpose, orderNo, description string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	before := user.Credits
	after := before + amount
	if err := tx.AddCredits(user.ID, amount); err != nil {
		return 0, err
	}

	if err := tx.AppendTransaction(&creditmodel.CreditTransaction{
		UserID:        user.ID,
		Type:          creditmodel.TypeCredit,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Purpose:       purpose,
		OrderNo:       orderNo,
		Description:   description,
	}); err != nil {
		return 0, err
	}

	// 推进快照, 同事务下一笔入账接着算
	user.Credits = after

	if s.metrics != nil {
		s.metrics.ObserveLedgerOp(creditmodel.TypeCredit, purpose)
	}
	return after, nil
}

func (s *creditService) GrantSignupBonus(ctx context.Context, userID string) error {
	if s.bonus <= 0 {
		return nil
	}

	return s.repo.Transact(ctx, func(tx repository.Tx) error {
		user, err := tx.UserByID(userID)
		if err != nil {
			return err
		}
		if user.SignupBonusGranted {
			return nil
		}

		after := user.Credits + s.bonus
		if err := tx.AddCredits(userID, s.bonus); err != nil {
			return err
		}

		if err := tx.AppendTransaction(&creditmodel.CreditTransaction{
			UserID:        userID,
			Type:          creditmodel.TypeCredit,
			Amount:        s.bonus,
			BalanceBefore: user.Credits,
			BalanceAfter:  after,
			Purpose:       creditmodel.PurposeSignupBonus,
		}); err != nil {
			return err
		}

		if err := tx.MarkSignupBonusGranted(userID); err != nil {
			return err
		}

		logger.Log.Info("注册赠点发放", zap.String("user_id", userID), zap.Int64("amount", s.bonus))
		return nil
	})
}

func (s *creditService) History(userID string, offset, limit int) ([]creditmodel.CreditTransaction, int64, error) {
	return s.repo.History(userID, offset, limit)
}
