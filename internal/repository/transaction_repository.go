package repository

import (
	"github.com/zhushou-next/internal/models"

	"gorm.io/gorm"
)

// TransactionRepository 交易流水数据访问接口。流水只增不改。
type TransactionRepository interface {
	Create(transaction *models.Transaction) error
	ListByOrderNo(orderNo string) ([]models.Transaction, error)
	ExistsByProviderRef(transactionType, providerRef string) (bool, error)
	WithTx(tx *gorm.DB) TransactionRepository
}

// GormTransactionRepository GORM 实现
type GormTransactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository 创建流水仓库
func NewTransactionRepository(db *gorm.DB) *GormTransactionRepository {
	return &GormTransactionRepository{db: db}
}

// WithTx 绑定事务
func (r *GormTransactionRepository) WithTx(tx *gorm.DB) TransactionRepository {
	if tx == nil {
		return r
	}
	return &GormTransactionRepository{db: tx}
}

// Create 写入一条交易流水
func (r *GormTransactionRepository) Create(transaction *models.Transaction) error {
	return r.db.Create(transaction).Error
}

// ListByOrderNo 按订单号列出流水
func (r *GormTransactionRepository) ListByOrderNo(orderNo string) ([]models.Transaction, error) {
	var transactions []models.Transaction
	if err := r.db.Where("order_no = ?", orderNo).Order("id asc").Find(&transactions).Error; err != nil {
		return nil, err
	}
	return transactions, nil
}

// ExistsByProviderRef 判断指定类型的流水是否已存在（按第三方单号）
func (r *GormTransactionRepository) ExistsByProviderRef(transactionType, providerRef string) (bool, error) {
	if providerRef == "" {
		return false, nil
	}
	var count int64
	if err := r.db.Model(&models.Transaction{}).
		Where("type = ? AND provider_ref = ?", transactionType, providerRef).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
