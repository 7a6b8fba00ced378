package repository

import (
	"lawsowl_billing/internal/domain/user/model"

	"gorm.io/gorm"
)

// UserRepository 只读用户查询
// 用户的增改都走订阅/积分事务里的写方法, 这里只留下单前的校验入口
type UserRepository interface {
	GetByID(id string) (*model.User, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建新的仓库实例
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// GetByID 根据ID获取用户
func (r *userRepository) GetByID(id string) (*model.User, error) {
	var user model.User
	if err := r.db.Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
