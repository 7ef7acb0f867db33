package models

import (
	"time"

	"github.com/zhushou-next/internal/constants"
)

// RenewalTask 续费任务表
type RenewalTask struct {
	ID             uint       `gorm:"primarykey" json:"id"`                      // 主键
	SubscriptionID uint       `gorm:"index;not null" json:"subscription_id"`     // 订阅ID
	Status         string     `gorm:"index;not null" json:"status"`              // 任务状态
	Attempts       int        `gorm:"not null;default:0" json:"attempts"`        // 已尝试次数
	NextAttemptAt  *time.Time `gorm:"index" json:"next_attempt_at"`              // 下次尝试时间
	OrderNo        string     `gorm:"index" json:"order_no"`                     // 在途续费订单编号
	LastError      string     `gorm:"type:varchar(500)" json:"last_error"`       // 最近一次失败原因
	CompletedAt    *time.Time `json:"completed_at"`                              // 终态时间
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`                   // 创建时间
	UpdatedAt      time.Time  `gorm:"index" json:"updated_at"`                   // 更新时间
}

// TableName 指定表名
func (RenewalTask) TableName() string {
	return "renewal_tasks"
}

// InFlight 任务是否仍在途（未到终态）
func (t *RenewalTask) InFlight() bool {
	switch t.Status {
	case constants.RenewalTaskStatusPending, constants.RenewalTaskStatusProcessing, constants.RenewalTaskStatusRetrying:
		return true
	default:
		return false
	}
}
