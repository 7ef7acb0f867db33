package repository

import (
	"errors"
	"time"

	"github.com/zhushou-next/internal/models"

	"gorm.io/gorm"
)

// OrderListFilter 订单列表过滤条件
type OrderListFilter struct {
	UserID      string
	Status      string
	OrderType   string
	Provider    string
	OrderNo     string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Page        int
	PageSize    int
}

// OrderRepository 支付订单数据访问接口
type OrderRepository interface {
	Create(order *models.PaymentOrder) error
	GetByID(id uint) (*models.PaymentOrder, error)
	GetByOrderNo(orderNo string) (*models.PaymentOrder, error)
	GetByOrderNoAndUser(orderNo string, userID string) (*models.PaymentOrder, error)
	List(filter OrderListFilter) ([]models.PaymentOrder, int64, error)
	UpdateStatusGuarded(orderNo string, fromStatuses []string, toStatus string, updates map[string]interface{}) (bool, error)
	AddRefundAmount(orderNo string, deltaFen int64) error
	WithTx(tx *gorm.DB) OrderRepository
}

// GormOrderRepository GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓库
func NewOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// WithTx 绑定事务
func (r *GormOrderRepository) WithTx(tx *gorm.DB) OrderRepository {
	if tx == nil {
		return r
	}
	return &GormOrderRepository{db: tx}
}

// Create 创建支付订单
func (r *GormOrderRepository) Create(order *models.PaymentOrder) error {
	return r.db.Create(order).Error
}

// GetByID 根据 ID 获取订单
func (r *GormOrderRepository) GetByID(id uint) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	if err := r.db.First(&order, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetByOrderNo 根据订单号获取订单
func (r *GormOrderRepository) GetByOrderNo(orderNo string) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	if err := r.db.Where("order_no = ?", orderNo).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetByOrderNoAndUser 获取用户订单详情
func (r *GormOrderRepository) GetByOrderNoAndUser(orderNo string, userID string) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	if err := r.db.Where("order_no = ? AND user_id = ?", orderNo, userID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// List 订单列表
func (r *GormOrderRepository) List(filter OrderListFilter) ([]models.PaymentOrder, int64, error) {
	query := r.db.Model(&models.PaymentOrder{})

	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.OrderType != "" {
		query = query.Where("order_type = ?", filter.OrderType)
	}
	if filter.Provider != "" {
		query = query.Where("provider = ?", filter.Provider)
	}
	if filter.OrderNo != "" {
		query = query.Where("order_no = ?", filter.OrderNo)
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		query = query.Where("created_at <= ?", *filter.CreatedTo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []models.PaymentOrder
	query = applyPagination(query, filter.Page, filter.PageSize)
	if err := query.Order("id desc").Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// UpdateStatusGuarded 带前置状态条件的状态迁移。
// 返回 false 表示订单当前状态不在 fromStatuses 中，迁移未发生。
func (r *GormOrderRepository) UpdateStatusGuarded(orderNo string, fromStatuses []string, toStatus string, updates map[string]interface{}) (bool, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = toStatus
	result := r.db.Model(&models.PaymentOrder{}).
		Where("order_no = ? AND status IN ?", orderNo, fromStatuses).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// AddRefundAmount 累加已退款金额
func (r *GormOrderRepository) AddRefundAmount(orderNo string, deltaFen int64) error {
	return r.db.Model(&models.PaymentOrder{}).
		Where("order_no = ?", orderNo).
		Update("refund_amount", gorm.Expr("refund_amount + ?", deltaFen)).Error
}
