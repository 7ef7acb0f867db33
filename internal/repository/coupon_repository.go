package repository

import (
	"errors"
	"strings"

	"github.com/zhushou-next/internal/models"

	"gorm.io/gorm"
)

// CouponRepository 优惠券数据访问接口
type CouponRepository interface {
	Create(coupon *models.Coupon) error
	GetByID(id uint) (*models.Coupon, error)
	GetByCode(code string) (*models.Coupon, error)
	List(page, pageSize int) ([]models.Coupon, int64, error)
	IncrementUsage(id uint) (bool, error)
	DecrementUsage(id uint) error
	CountUsageByUser(couponID uint, userID string) (int64, error)
	CreateUsage(usage *models.CouponUsage) error
	WithTx(tx *gorm.DB) CouponRepository
}

// GormCouponRepository GORM 实现
type GormCouponRepository struct {
	db *gorm.DB
}

// NewCouponRepository 创建优惠券仓库
func NewCouponRepository(db *gorm.DB) *GormCouponRepository {
	return &GormCouponRepository{db: db}
}

// WithTx 绑定事务
func (r *GormCouponRepository) WithTx(tx *gorm.DB) CouponRepository {
	if tx == nil {
		return r
	}
	return &GormCouponRepository{db: tx}
}

// Create 创建优惠券
func (r *GormCouponRepository) Create(coupon *models.Coupon) error {
	coupon.Code = strings.TrimSpace(coupon.Code)
	return r.db.Create(coupon).Error
}

// GetByID 根据 ID 获取优惠券
func (r *GormCouponRepository) GetByID(id uint) (*models.Coupon, error) {
	var coupon models.Coupon
	if err := r.db.First(&coupon, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &coupon, nil
}

// GetByCode 根据兑换码获取优惠券
func (r *GormCouponRepository) GetByCode(code string) (*models.Coupon, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	var coupon models.Coupon
	if err := r.db.Where("code = ?", code).First(&coupon).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &coupon, nil
}

// List 优惠券列表
func (r *GormCouponRepository) List(page, pageSize int) ([]models.Coupon, int64, error) {
	var total int64
	if err := r.db.Model(&models.Coupon{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var coupons []models.Coupon
	query := applyPagination(r.db.Model(&models.Coupon{}), page, pageSize)
	if err := query.Order("id desc").Find(&coupons).Error; err != nil {
		return nil, 0, err
	}
	return coupons, total, nil
}

// IncrementUsage 占用一次使用额度。
// usage_limit 为 0 表示不限量；返回 false 表示额度已用尽。
func (r *GormCouponRepository) IncrementUsage(id uint) (bool, error) {
	result := r.db.Model(&models.Coupon{}).
		Where("id = ? AND (usage_limit = 0 OR used_count < usage_limit)", id).
		Update("used_count", gorm.Expr("used_count + 1"))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// DecrementUsage 回退一次使用额度（订单取消时）
func (r *GormCouponRepository) DecrementUsage(id uint) error {
	return r.db.Model(&models.Coupon{}).
		Where("id = ? AND used_count > 0", id).
		Update("used_count", gorm.Expr("used_count - 1")).Error
}

// CountUsageByUser 统计用户已使用次数
func (r *GormCouponRepository) CountUsageByUser(couponID uint, userID string) (int64, error) {
	var count int64
	if err := r.db.Model(&models.CouponUsage{}).
		Where("coupon_id = ? AND user_id = ?", couponID, userID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// CreateUsage 记录一次使用
func (r *GormCouponRepository) CreateUsage(usage *models.CouponUsage) error {
	return r.db.Create(usage).Error
}
