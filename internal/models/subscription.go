package models

import (
	"time"

	"gorm.io/gorm"
)

// Subscription 订阅表
type Subscription struct {
	ID               uint           `gorm:"primarykey" json:"id"`                         // 主键
	UserID           string         `gorm:"index;type:varchar(64)" json:"user_id"`        // 用户ID
	PlanID           string         `gorm:"index;type:varchar(64)" json:"plan_id"`        // 套餐ID
	Status           string         `gorm:"index;not null" json:"status"`                 // 订阅状态
	Provider         string         `gorm:"not null" json:"provider"`                     // 续费支付提供方
	RenewalPrice     int64          `gorm:"not null;default:0" json:"renewal_price"`      // 续费价格（分）
	Currency         string         `gorm:"not null;default:CNY" json:"currency"`         // 币种
	PeriodDays       int            `gorm:"not null;default:30" json:"period_days"`       // 订阅周期天数
	CurrentPeriodEnd time.Time      `gorm:"index;not null" json:"current_period_end"`     // 当前周期到期时间
	AutoRenew        bool           `gorm:"not null;default:false" json:"auto_renew"`     // 是否自动续费
	CreatedAt        time.Time      `gorm:"index" json:"created_at"`                      // 创建时间
	UpdatedAt        time.Time      `gorm:"index" json:"updated_at"`                      // 更新时间
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`                               // 软删除时间
}

// TableName 指定表名
func (Subscription) TableName() string {
	return "subscriptions"
}
