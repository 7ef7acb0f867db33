package models

import (
	"time"

	"gorm.io/gorm"
)

// PaymentOrder 计费订单表（金额一律为最小货币单位，人民币为分）
type PaymentOrder struct {
	ID           uint           `gorm:"primarykey" json:"id"`                             // 主键
	OrderNo      string         `gorm:"uniqueIndex;not null" json:"order_no"`             // 订单编号
	UserID       string         `gorm:"index;type:varchar(64)" json:"user_id"`            // 用户ID
	OrderType    string         `gorm:"index;not null" json:"order_type"`                 // 订单类型（subscription/skill/tokens/addon）
	Title        string         `gorm:"type:varchar(200)" json:"title"`                   // 订单标题
	Amount       int64          `gorm:"not null;default:0" json:"amount"`                 // 实付金额（分）
	RefundAmount int64          `gorm:"not null;default:0" json:"refund_amount"`          // 累计退款金额（分）
	Currency     string         `gorm:"not null;default:CNY" json:"currency"`             // 币种
	Status       string         `gorm:"index;not null" json:"status"`                     // 订单状态
	Provider     string         `gorm:"index" json:"provider"`                            // 支付提供方（wechat/alipay）
	ProviderRef  string         `gorm:"index" json:"provider_ref"`                        // 第三方交易号（支付成功前为空）
	CouponID     *uint          `gorm:"index" json:"coupon_id,omitempty"`                 // 优惠券ID
	ClientIP     string         `gorm:"type:varchar(64)" json:"client_ip,omitempty"`      // 下单客户端IP
	PaidAt       *time.Time     `gorm:"index" json:"paid_at"`                             // 支付时间
	RefundedAt   *time.Time     `gorm:"index" json:"refunded_at"`                         // 退款完成时间
	CanceledAt   *time.Time     `gorm:"index" json:"canceled_at"`                         // 取消时间
	CreatedAt    time.Time      `gorm:"index" json:"created_at"`                          // 创建时间
	UpdatedAt    time.Time      `gorm:"index" json:"updated_at"`                          // 更新时间
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`                                   // 软删除时间
}

// TableName 指定表名
func (PaymentOrder) TableName() string {
	return "payment_orders"
}

// RemainingRefundable 剩余可退金额（分）
func (o *PaymentOrder) RemainingRefundable() int64 {
	remaining := o.Amount - o.RefundAmount
	if remaining < 0 {
		return 0
	}
	return remaining
}
