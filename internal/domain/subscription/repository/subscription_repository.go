package repository

import (
	"context"
	"database/sql"

	usermodel "lawsowl_billing/internal/domain/user/model"
	"lawsowl_billing/pkg/database"

	"gorm.io/gorm"
)

// Tx 事务内的订阅字段操作
type Tx interface {
	UserByID(userID string) (*usermodel.User, error)

	// UpdateUser 更新订阅相关字段, 余额字段不在此列
	UpdateUser(userID string, fields map[string]interface{}) error
}

// SubscriptionRepository 订阅仓储
type SubscriptionRepository interface {
	Transact(ctx context.Context, fn func(tx Tx) error) error
}

type subscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) Transact(ctx context.Context, fn func(tx Tx) error) error {
	err := r.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(&gormTx{db: gtx})
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
	return database.TranslateTxError(err)
}

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

func (t *gormTx) UpdateUser(userID string, fields map[string]interface{}) error {
	return t.db.Model(&usermodel.User{}).Where("id = ?", userID).Updates(fields).Error
}
