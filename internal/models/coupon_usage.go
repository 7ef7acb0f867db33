package models

import "time"

// CouponUsage 优惠券使用记录
type CouponUsage struct {
	ID        uint      `gorm:"primarykey" json:"id"`                  // 主键
	CouponID  uint      `gorm:"index;not null" json:"coupon_id"`       // 优惠券ID
	UserID    string    `gorm:"index;type:varchar(64)" json:"user_id"` // 用户ID
	OrderID   uint      `gorm:"index;not null" json:"order_id"`        // 订单ID
	Discount  int64     `gorm:"not null" json:"discount"`              // 抵扣金额（分）
	CreatedAt time.Time `gorm:"index" json:"created_at"`               // 创建时间
}

// TableName 指定表名
func (CouponUsage) TableName() string {
	return "coupon_usages"
}
