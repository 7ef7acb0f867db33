package repository

import (
	"errors"
	"time"

	"github.com/zhushou-next/internal/constants"
	"github.com/zhushou-next/internal/models"

	"gorm.io/gorm"
)

// RenewalTaskRepository 续费任务数据访问接口
type RenewalTaskRepository interface {
	Create(task *models.RenewalTask) error
	GetByID(id uint) (*models.RenewalTask, error)
	GetInFlightBySubscription(subscriptionID uint) (*models.RenewalTask, error)
	GetByOrderNo(orderNo string) (*models.RenewalTask, error)
	ListRunnable(now time.Time, limit int) ([]models.RenewalTask, error)
	ListBySubscription(subscriptionID uint) ([]models.RenewalTask, error)
	Update(id uint, updates map[string]interface{}) error
	MarkProcessingGuarded(id uint) (bool, error)
	WithTx(tx *gorm.DB) RenewalTaskRepository
}

// GormRenewalTaskRepository GORM 实现
type GormRenewalTaskRepository struct {
	db *gorm.DB
}

// NewRenewalTaskRepository 创建续费任务仓库
func NewRenewalTaskRepository(db *gorm.DB) *GormRenewalTaskRepository {
	return &GormRenewalTaskRepository{db: db}
}

// WithTx 绑定事务
func (r *GormRenewalTaskRepository) WithTx(tx *gorm.DB) RenewalTaskRepository {
	if tx == nil {
		return r
	}
	return &GormRenewalTaskRepository{db: tx}
}

// Create 创建续费任务
func (r *GormRenewalTaskRepository) Create(task *models.RenewalTask) error {
	return r.db.Create(task).Error
}

// GetByID 根据 ID 获取任务
func (r *GormRenewalTaskRepository) GetByID(id uint) (*models.RenewalTask, error) {
	var task models.RenewalTask
	if err := r.db.First(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

// GetInFlightBySubscription 获取订阅下未完结的续费任务。
// 同一订阅同时最多只有一个未完结任务。
func (r *GormRenewalTaskRepository) GetInFlightBySubscription(subscriptionID uint) (*models.RenewalTask, error) {
	var task models.RenewalTask
	if err := r.db.
		Where("subscription_id = ? AND status IN ?", subscriptionID, inFlightStatuses()).
		Order("id desc").
		First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

// GetByOrderNo 根据续费订单号获取任务
func (r *GormRenewalTaskRepository) GetByOrderNo(orderNo string) (*models.RenewalTask, error) {
	if orderNo == "" {
		return nil, nil
	}
	var task models.RenewalTask
	if err := r.db.Where("order_no = ?", orderNo).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

// ListRunnable 列出可执行的任务：pending 立即可跑，retrying 需到达重试时间
func (r *GormRenewalTaskRepository) ListRunnable(now time.Time, limit int) ([]models.RenewalTask, error) {
	if limit <= 0 {
		limit = 100
	}
	var tasks []models.RenewalTask
	if err := r.db.
		Where("status = ?", constants.RenewalTaskStatusPending).
		Or("status = ? AND next_attempt_at <= ?", constants.RenewalTaskStatusRetrying, now).
		Order("id asc").
		Limit(limit).
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListBySubscription 按订阅列出任务
func (r *GormRenewalTaskRepository) ListBySubscription(subscriptionID uint) ([]models.RenewalTask, error) {
	var tasks []models.RenewalTask
	if err := r.db.
		Where("subscription_id = ?", subscriptionID).
		Order("id desc").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// Update 更新任务字段
func (r *GormRenewalTaskRepository) Update(id uint, updates map[string]interface{}) error {
	return r.db.Model(&models.RenewalTask{}).Where("id = ?", id).Updates(updates).Error
}

// MarkProcessingGuarded 将任务置为执行中，并发场景下只有一个执行者成功
func (r *GormRenewalTaskRepository) MarkProcessingGuarded(id uint) (bool, error) {
	result := r.db.Model(&models.RenewalTask{}).
		Where("id = ? AND status IN ?", id, []string{
			constants.RenewalTaskStatusPending,
			constants.RenewalTaskStatusRetrying,
		}).
		Updates(map[string]interface{}{
			"status":   constants.RenewalTaskStatusProcessing,
			"attempts": gorm.Expr("attempts + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func inFlightStatuses() []string {
	return []string{
		constants.RenewalTaskStatusPending,
		constants.RenewalTaskStatusProcessing,
		constants.RenewalTaskStatusRetrying,
	}
}
