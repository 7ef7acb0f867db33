package queue

import (
	"encoding/json"

	"github.com/zhushou-next/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskEntitlementUnlock 权益解锁任务
	TaskEntitlementUnlock = constants.TaskEntitlementUnlock
	// TaskBillingAlert 计费告警任务
	TaskBillingAlert = constants.TaskBillingAlert
	// TaskRenewalNotify 续费结果通知任务
	TaskRenewalNotify = constants.TaskRenewalNotify
)

// EntitlementUnlockPayload 权益解锁任务载荷
type EntitlementUnlockPayload struct {
	OrderNo   string `json:"order_no"`
	UserID    string `json:"user_id"`
	OrderType string `json:"order_type"`
	AmountFen int64  `json:"amount_fen"`
}

// BillingAlertPayload 计费告警任务载荷
type BillingAlertPayload struct {
	Kind    string `json:"kind"`
	OrderNo string `json:"order_no,omitempty"`
	UserID  string `json:"user_id,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// RenewalNotifyPayload 续费结果通知任务载荷
type RenewalNotifyPayload struct {
	SubscriptionID uint   `json:"subscription_id"`
	UserID         string `json:"user_id"`
	Success        bool   `json:"success"`
	OrderNo        string `json:"order_no,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// NewEntitlementUnlockTask 创建权益解锁任务
func NewEntitlementUnlockTask(payload EntitlementUnlockPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskEntitlementUnlock, body), nil
}

// NewBillingAlertTask 创建计费告警任务
func NewBillingAlertTask(payload BillingAlertPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBillingAlert, body), nil
}

// NewRenewalNotifyTask 创建续费结果通知任务
func NewRenewalNotifyTask(payload RenewalNotifyPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRenewalNotify, body), nil
}
