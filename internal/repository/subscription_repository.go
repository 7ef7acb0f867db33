package repository

import (
	"errors"
	"time"

	"github.com/zhushou-next/internal/constants"
	"github.com/zhushou-next/internal/models"

	"gorm.io/gorm"
)

// SubscriptionRepository 订阅数据访问接口
type SubscriptionRepository interface {
	Create(subscription *models.Subscription) error
	GetByID(id uint) (*models.Subscription, error)
	GetActiveByUserAndPlan(userID, planID string) (*models.Subscription, error)
	ListDueForRenewal(before time.Time, limit int) ([]models.Subscription, error)
	Update(id uint, updates map[string]interface{}) error
	ExtendPeriod(id uint, newPeriodEnd time.Time) error
	WithTx(tx *gorm.DB) SubscriptionRepository
}

// GormSubscriptionRepository GORM 实现
type GormSubscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository 创建订阅仓库
func NewSubscriptionRepository(db *gorm.DB) *GormSubscriptionRepository {
	return &GormSubscriptionRepository{db: db}
}

// WithTx 绑定事务
func (r *GormSubscriptionRepository) WithTx(tx *gorm.DB) SubscriptionRepository {
	if tx == nil {
		return r
	}
	return &GormSubscriptionRepository{db: tx}
}

// Create 创建订阅
func (r *GormSubscriptionRepository) Create(subscription *models.Subscription) error {
	return r.db.Create(subscription).Error
}

// GetByID 根据 ID 获取订阅
func (r *GormSubscriptionRepository) GetByID(id uint) (*models.Subscription, error) {
	var subscription models.Subscription
	if err := r.db.First(&subscription, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

// GetActiveByUserAndPlan 获取用户在指定套餐下的有效订阅
func (r *GormSubscriptionRepository) GetActiveByUserAndPlan(userID, planID string) (*models.Subscription, error) {
	var subscription models.Subscription
	if err := r.db.
		Where("user_id = ? AND plan_id = ? AND status = ?", userID, planID, constants.SubscriptionStatusActive).
		First(&subscription).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

// ListDueForRenewal 列出到期需要续费的订阅（开启自动续费且当前周期在 before 之前结束）
func (r *GormSubscriptionRepository) ListDueForRenewal(before time.Time, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	var subscriptions []models.Subscription
	if err := r.db.
		Where("auto_renew = ? AND status = ? AND current_period_end <= ?", true, constants.SubscriptionStatusActive, before).
		Order("current_period_end asc").
		Limit(limit).
		Find(&subscriptions).Error; err != nil {
		return nil, err
	}
	return subscriptions, nil
}

// Update 更新订阅字段
func (r *GormSubscriptionRepository) Update(id uint, updates map[string]interface{}) error {
	return r.db.Model(&models.Subscription{}).Where("id = ?", id).Updates(updates).Error
}

// ExtendPeriod 延长当前计费周期
func (r *GormSubscriptionRepository) ExtendPeriod(id uint, newPeriodEnd time.Time) error {
	return r.db.Model(&models.Subscription{}).
		Where("id = ?", id).
		Update("current_period_end", newPeriodEnd).Error
}
