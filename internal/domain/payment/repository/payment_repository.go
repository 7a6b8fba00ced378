package repository

import (
	"context"
	"database/sql"
	"errors"

	paymentmodel "lawsowl_billing/internal/domain/payment/model"
	subsvc "lawsowl_billing/internal/domain/subscription/service"
	usermodel "lawsowl_billing/internal/domain/user/model"
	"lawsowl_billing/pkg/database"

	creditmodel "lawsowl_billing/internal/domain/credit/model"

	"gorm.io/gorm"
)

// ReconcileTx 对账事务视图: 订单 + 期数记录 + 订阅字段 + 积分账本
// 读阶段只用查询方法, 写阶段才调用写方法
type ReconcileTx interface {
	subsvc.Tx

	// OrderByNo 按订单号查订单, 不存在返回 gorm.ErrRecordNotFound
	OrderByNo(orderNo string) (*paymentmodel.Order, error)

	// OrderByPeriodNo 按网关委托单号查订单
	OrderByPeriodNo(periodNo string) (*paymentmodel.Order, error)

	// PeriodicPayment 查某期扣款记录, 不存在返回 nil, nil
	PeriodicPayment(orderNo string, installmentNo int) (*paymentmodel.PeriodicPayment, error)

	// UpdateOrder 更新订单字段
	UpdateOrder(orderNo string, fields map[string]interface{}) error

	// CreatePeriodicPayment 落一期扣款记录
	CreatePeriodicPayment(p *paymentmodel.PeriodicPayment) error
}

// PaymentRepository 支付仓储
type PaymentRepository interface {
	CreateOrder(order *paymentmodel.Order) error
	GetOrderByNo(orderNo string) (*paymentmodel.Order, error)
	CreateUnmatchedNotification(n *paymentmodel.UnmatchedNotification) error

	// ListUnmatchedNotifications 人工补单用, 按时间倒序分页
	ListUnmatchedNotifications(offset, limit int) ([]paymentmodel.UnmatchedNotification, int64, error)

	// Reconcile 在 SERIALIZABLE 事务内跑对账, 冲突翻译为 database.ErrConflict
	Reconcile(ctx context.Context, fn func(tx ReconcileTx) error) error
}

type paymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) CreateOrder(order *paymentmodel.Order) error {
	return r.db.Create(order).Error
}

func (r *paymentRepository) GetOrderByNo(orderNo string) (*paymentmodel.Order, error) {
	var order paymentmodel.Order
	if err := r.db.Where("order_no = ?", orderNo).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *paymentRepository) CreateUnmatchedNotification(n *paymentmodel.UnmatchedNotification) error {
	return r.db.Create(n).Error
}

func (r *paymentRepository) ListUnmatchedNotifications(offset, limit int) ([]paymentmodel.UnmatchedNotification, int64, error) {
	var items []paymentmodel.UnmatchedNotification
	var total int64

	q := r.db.Model(&paymentmodel.UnmatchedNotification{})
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *paymentRepository) Reconcile(ctx context.Context, fn func(tx ReconcileTx) error) error {
	err := r.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(&reconcileTx{db: gtx})
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
	return database.TranslateTxError(err)
}

// reconcileTx gorm 实现
type reconcileTx struct {
	db *gorm.DB
}

func (t *reconcileTx) UserByID(userID string) (*usermodel.User, error) {
	var user usermodel.User
	if err := t.db.Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (t *reconcileTx) UpdateUser(userID string, fields map[string]interface{}) error {
	return t.db.Model(&usermodel.User{}).Where("id = ?", userID).Updates(fields).Error
}

func (t *reconcileTx) AddCredits(userID string, delta int64) error {
	return t.db.Model(&usermodel.User{}).
		Where("id = ?", userID).
		UpdateColumn("credits", gorm.Expr("credits + ?", delta)).Error
}

func (t *reconcileTx) AppendTransaction(ct *creditmodel.CreditTransaction) error {
	return t.db.Create(ct).Error
}

func (t *reconcileTx) MarkSignupBonusGranted(userID string) error {
	return t.db.Model(&usermodel.User{}).
		Where("id = ?", userID).
		UpdateColumn("signup_bonus_granted", true).Error
}

func (t *reconcileTx) OrderByNo(orderNo string) (*paymentmodel.Order, error) {
	var order paymentmodel.Order
	if err := t.db.Where("order_no = ?", orderNo).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (t *reconcileTx) OrderByPeriodNo(periodNo string) (*paymentmodel.Order, error) {
	var order paymentmodel.Order
	if err := t.db.Where("gateway_period_no = ?", periodNo).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (t *reconcileTx) PeriodicPayment(orderNo string, installmentNo int) (*paymentmodel.PeriodicPayment, error) {
	var p paymentmodel.PeriodicPayment
	err := t.db.Where("order_no = ? AND installment_no = ?", orderNo, installmentNo).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *reconcileTx) UpdateOrder(orderNo string, fields map[string]interface{}) error {
	return t.db.Model(&paymentmodel.Order{}).Where("order_no = ?", orderNo).Updates(fields).Error
}

func (t *reconcileTx) CreatePeriodicPayment(p *paymentmodel.PeriodicPayment) error {
	return t.db.Create(p).Error
}
