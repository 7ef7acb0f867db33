package models

import "time"

// Transaction 资金流水表（只增不改的审计记录）
type Transaction struct {
	ID          uint      `gorm:"primarykey" json:"id"`                  // 主键
	OrderID     uint      `gorm:"index;not null" json:"order_id"`        // 订单ID
	OrderNo     string    `gorm:"index;not null" json:"order_no"`        // 订单编号
	Type        string    `gorm:"index;not null" json:"type"`            // 流水类型（payment/refund）
	Status      string    `gorm:"index;not null" json:"status"`          // 流水状态（success/failed）
	Amount      int64     `gorm:"not null" json:"amount"`                // 金额（分）
	Currency    string    `gorm:"not null;default:CNY" json:"currency"`  // 币种
	Provider    string    `gorm:"index;not null" json:"provider"`        // 支付提供方
	ProviderRef string    `gorm:"index" json:"provider_ref"`             // 第三方交易号/退款单号
	Remark      string    `gorm:"type:varchar(500)" json:"remark"`       // 备注（失败原因等）
	CreatedAt   time.Time `gorm:"index" json:"created_at"`               // 创建时间
}

// TableName 指定表名
func (Transaction) TableName() string {
	return "transactions"
}
