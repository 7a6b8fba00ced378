package repository

import (
	"context"
	"database/sql"

	creditmodel "lawsowl_billing/internal/domain/credit/model"
	usermodel "lawsowl_billing/internal/domain/user/model"
	"lawsowl_billing/pkg/database"

	"gorm.io/gorm"
)

// Tx 单个数据库事务内可用的积分操作
// 所有余额变动必须走这里, 禁止直接 Save 用户覆盖余额
// 约定: 用户行先在读阶段取出, AddCredits 之后不再查询,
// 变动后的余额由调用方从已读快照推算
type Tx interface {
	// UserByID 事务内读取用户
	UserByID(userID string) (*usermodel.User, error)

	// AddCredits 以增量方式修改余额 (credits = credits + delta), 纯写不回读
	AddCredits(userID string, delta int64) error

	// AppendTransaction 追加一条流水
	AppendTransaction(t *creditmodel.CreditTransaction) error

	// MarkSignupBonusGranted 置位注册赠点标记
	MarkSignupBonusGranted(userID string) error
}

// CreditRepository 积分仓储
type CreditRepository interface {
	// Transact 在 SERIALIZABLE 事务内执行 fn, 串行化冲突翻译为 database.ErrConflict
	Transact(ctx context.Context, fn func(tx Tx) error) error

	// History 分页查询用户流水, 按时间倒序
	History(userID string, offset, limit int) ([]creditmodel.CreditTransaction, int64, error)
}

type creditRepository struct {
	db *gorm.DB
}

func NewCreditRepository(db *gorm.DB) CreditRepository {
	return &creditRepository{db: db}
}

func (r *creditRepository) Transact(ctx context.Context, fn func(tx Tx) error) error {
	err := r.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(&gormTx{db: gtx})
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
	return database.TranslateTxError(err)
}

func (r *creditRepository) History(userID string, offset, limit int) ([]creditmodel.CreditTransaction, int64, error) {
	var items []creditmodel.CreditTransaction
	var total int64

	q := r.db.Model(&creditmodel.CreditTransaction{}).Where("user_id = ?", userID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// gormTx 事务内操作的 gorm 实现
type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) UserByID(userID string) (*usermodel.User, error) {
	var user usermodel.User
	if err := t.db.Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (t *gormTx) AddCredits(userID string, delta int64) error {
	return t.db.Model(&usermodel.User{}).
		Where("id = ?", userID).
		UpdateColumn("credits", gorm.Expr("credits + ?", delta)).Error
}

func (t *gormTx) AppendTransaction(ct *creditmodel.CreditTransaction) error {
	return t.db.Create(ct).Error
}

func (t *gormTx) MarkSignupBonusGranted(userID string) error {
	return t.db.Model(&usermodel.User{}).
		Where("id = ?", userID).
		UpdateColumn("signup_bonus_granted", true).Error
}
