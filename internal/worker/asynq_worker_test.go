package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/zhushou-next/internal/constants"
	"github.com/zhushou-next/internal/logger"
	"github.com/zhushou-next/internal/models"
	"github.com/zhushou-next/internal/provider"
	"github.com/zhushou-next/internal/queue"
	"github.com/zhushou-next/internal/repository"

	"github.com/glebarez/sqlite"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newConsumerEnv(t *testing.T) (*Consumer, repository.OrderRepository) {
	t.Helper()
	dsn := fmt.Sprintf("file:worker_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.PaymentOrder{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	orders := repository.NewOrderRepository(db)
	consumer := NewConsumer(&provider.Container{OrderRepo: orders})
	return consumer, orders
}

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, observed := observer.New(zapcore.InfoLevel)
	previous := logger.L
	logger.L = zap.New(core)
	t.Cleanup(func() { logger.L = previous })
	return observed
}

func entitlementTask(t *testing.T, orderNo string) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(queue.EntitlementUnlockPayload{
		OrderNo:   orderNo,
		UserID:    "user-1",
		OrderType: constants.OrderTypeSubscription,
		AmountFen: 2900,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return asynq.NewTask(queue.TaskEntitlementUnlock, payload)
}

func seedWorkerOrder(t *testing.T, orders repository.OrderRepository, orderNo, status string) {
	t.Helper()
	if err := orders.Create(&models.PaymentOrder{
		OrderNo:   orderNo,
		UserID:    "user-1",
		OrderType: constants.OrderTypeSubscription,
		Title:     "专业版订阅",
		Amount:    2900,
		Currency:  constants.CurrencyCNY,
		Status:    status,
		Provider:  constants.ProviderWechat,
	}); err != nil {
		t.Fatalf("seed order: %v", err)
	}
}

func TestEntitlementUnlockPaidOrder(t *testing.T) {
	consumer, orders := newConsumerEnv(t)
	seedWorkerOrder(t, orders, "ORD123", constants.OrderStatusPaid)
	observed := observeLogs(t)

	if err := consumer.handleEntitlementUnlock(context.Background(), entitlementTask(t, "ORD123")); err != nil {
		t.Fatalf("handle task: %v", err)
	}
	if got := observed.FilterMessage("entitlement_unlocked").Len(); got != 1 {
		t.Fatalf("entitlement_unlocked logs = %d, want 1", got)
	}
}

// 解锁任务可能晚于退款执行，订单已不在 paid 时必须跳过
func TestEntitlementUnlockSkipsNonPaidOrder(t *testing.T) {
	consumer, orders := newConsumerEnv(t)
	seedWorkerOrder(t, orders, "ORD123", constants.OrderStatusRefunded)
	observed := observeLogs(t)

	if err := consumer.handleEntitlementUnlock(context.Background(), entitlementTask(t, "ORD123")); err != nil {
		t.Fatalf("handle task: %v", err)
	}
	if got := observed.FilterMessage("entitlement_unlocked").Len(); got != 0 {
		t.Fatalf("entitlement_unlocked logs = %d, want 0 for refunded order", got)
	}
	if got := observed.FilterMessage("entitlement_unlock_skipped").Len(); got != 1 {
		t.Fatalf("entitlement_unlock_skipped logs = %d, want 1", got)
	}
}
