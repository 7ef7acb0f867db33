package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zhushou-next/internal/cache"
	"github.com/zhushou-next/internal/constants"
	"github.com/zhushou-next/internal/event"
	"github.com/zhushou-next/internal/logger"
	"github.com/zhushou-next/internal/models"
	"github.com/zhushou-next/internal/queue"
	"github.com/zhushou-next/internal/repository"

	"github.com/google/uuid"
)

const renewalLockKey = "billing:renewal:lock"

// RenewalOptions 续费调度配置
type RenewalOptions struct {
	CheckInterval time.Duration
	AdvanceWindow time.Duration
	MaxRetries    int
	BackoffBase   time.Duration
	BackoffCap    time.Duration
}

func (o *RenewalOptions) normalize() {
	if o.CheckInterval <= 0 {
		o.CheckInterval = 5 * time.Minute
	}
	if o.AdvanceWindow <= 0 {
		o.AdvanceWindow = 3 * 24 * time.Hour
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 5
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Minute
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = time.Hour
	}
}

// RenewalService 自动续费调度器。
// 定时扫描临近到期的订阅，为每个订阅保持至多一个未完结任务，
// 经 BillingService 发起续费支付，失败按指数退避重试。
type RenewalService struct {
	subscriptions repository.SubscriptionRepository
	tasks         repository.RenewalTaskRepository
	billing       *BillingService
	queueClient   *queue.Client
	opts          RenewalOptions

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRenewalService 创建续费调度器
func NewRenewalService(
	subscriptions repository.SubscriptionRepository,
	tasks repository.RenewalTaskRepository,
	billing *BillingService,
	queueClient *queue.Client,
	opts RenewalOptions,
) *RenewalService {
	opts.normalize()
	return &RenewalService{
		subscriptions: subscriptions,
		tasks:         tasks,
		billing:       billing,
		queueClient:   queueClient,
		opts:          opts,
	}
}

// Start 启动调度循环。重复调用是幂等的。
func (s *RenewalService) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.runLoop(loopCtx, s.done)
	logger.Infow("renewal_scheduler_started",
		"check_interval", s.opts.CheckInterval.String(),
		"advance_window", s.opts.AdvanceWindow.String(),
		"max_retries", s.opts.MaxRetries,
	)
}

// Stop 停止调度循环并等待当前一轮结束。重复调用是幂等的。
func (s *RenewalService) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	logger.Infow("renewal_scheduler_stopped")
}

// Running 判断调度循环是否在运行
func (s *RenewalService) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *RenewalService) runLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.opts.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick 执行一轮扫描与任务推进。多实例部署下用分布式锁互斥。
func (s *RenewalService) Tick(ctx context.Context) {
	token := uuid.NewString()
	acquired, err := cache.AcquireLock(ctx, renewalLockKey, token, s.opts.CheckInterval)
	if err != nil {
		logger.Warnw("renewal_lock_failed", "error", err)
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := cache.ReleaseLock(ctx, renewalLockKey, token); err != nil {
			logger.Warnw("renewal_unlock_failed", "error", err)
		}
	}()

	s.scanDueSubscriptions(ctx)
	s.runTasks(ctx)
}

// scanDueSubscriptions 为临近到期的订阅创建续费任务
func (s *RenewalService) scanDueSubscriptions(ctx context.Context) {
	before := time.Now().Add(s.opts.AdvanceWindow)
	subscriptions, err := s.subscriptions.ListDueForRenewal(before, 200)
	if err != nil {
		logger.Errorw("renewal_scan_failed", "error", err)
		return
	}
	for i := range subscriptions {
		sub := &subscriptions[i]
		inFlight, err := s.tasks.GetInFlightBySubscription(sub.ID)
		if err != nil {
			logger.Errorw("renewal_inflight_check_failed", "subscription_id", sub.ID, "error", err)
			continue
		}
		if inFlight != nil {
			continue
		}
		task := &models.RenewalTask{
			SubscriptionID: sub.ID,
			Status:         constants.RenewalTaskStatusPending,
		}
		if err := s.tasks.Create(task); err != nil {
			logger.Errorw("renewal_task_create_failed", "subscription_id", sub.ID, "error", err)
			continue
		}
		logger.Infow("renewal_task_created", "task_id", task.ID, "subscription_id", sub.ID)
	}
}

// runTasks 推进当前可执行的任务
func (s *RenewalService) runTasks(ctx context.Context) {
	tasks, err := s.tasks.ListRunnable(time.Now(), 100)
	if err != nil {
		logger.Errorw("renewal_runnable_list_failed", "error", err)
		return
	}
	for i := range tasks {
		s.attempt(ctx, &tasks[i])
	}
}

// attempt 发起一次续费支付。
// 下单成功后任务停留在 processing，等待支付回调收口；
// 下单失败按退避重试，重试耗尽则任务置为 failed 并触发告警。
func (s *RenewalService) attempt(ctx context.Context, task *models.RenewalTask) {
	ok, err := s.tasks.MarkProcessingGuarded(task.ID)
	if err != nil {
		logger.Errorw("renewal_mark_processing_failed", "task_id", task.ID, "error", err)
		return
	}
	if !ok {
		return
	}
	attempts := task.Attempts + 1

	sub, err := s.subscriptions.GetByID(task.SubscriptionID)
	if err != nil {
		s.scheduleRetry(task, attempts, "", fmt.Sprintf("读取订阅失败: %v", err))
		return
	}
	if sub == nil || sub.Status != constants.SubscriptionStatusActive || !sub.AutoRenew {
		if err := s.tasks.Update(task.ID, map[string]interface{}{
			"status":     constants.RenewalTaskStatusCanceled,
			"last_error": "订阅不可续费",
		}); err != nil {
			logger.Errorw("renewal_task_update_failed", "task_id", task.ID, "error", err)
		}
		return
	}

	result, err := s.billing.CreateOrder(ctx, CreateOrderInput{
		UserID:          sub.UserID,
		OrderType:       constants.OrderTypeSubscription,
		Title:           fmt.Sprintf("订阅自动续费（套餐 %s）", sub.PlanID),
		AmountFen:       sub.RenewalPrice,
		Currency:        sub.Currency,
		Provider:        sub.Provider,
		InteractionMode: constants.PaymentInteractionQR,
	})
	if err != nil {
		s.scheduleRetry(task, attempts, sub.UserID, fmt.Sprintf("续费下单失败: %v", err))
		return
	}

	if err := s.tasks.Update(task.ID, map[string]interface{}{
		"order_no":   result.Order.OrderNo,
		"last_error": "",
	}); err != nil {
		logger.Errorw("renewal_task_update_failed", "task_id", task.ID, "error", err)
	}
	logger.Infow("renewal_payment_initiated",
		"task_id", task.ID,
		"subscription_id", sub.ID,
		"order_no", result.Order.OrderNo,
		"attempt", attempts,
	)
}

// scheduleRetry 失败重试：指数退避有上限，耗尽后置为 failed 并告警
func (s *RenewalService) scheduleRetry(task *models.RenewalTask, attempts int, userID, reason string) {
	s.cancelSupersededOrder(task)
	if attempts >= s.opts.MaxRetries {
		if err := s.tasks.Update(task.ID, map[string]interface{}{
			"status":     constants.RenewalTaskStatusFailed,
			"last_error": reason,
		}); err != nil {
			logger.Errorw("renewal_task_update_failed", "task_id", task.ID, "error", err)
		}
		if err := s.subscriptions.Update(task.SubscriptionID, map[string]interface{}{
			"status": constants.SubscriptionStatusPastDue,
		}); err != nil {
			logger.Errorw("subscription_update_failed", "subscription_id", task.SubscriptionID, "error", err)
		}
		logger.Errorw("renewal_retries_exhausted",
			"task_id", task.ID,
			"subscription_id", task.SubscriptionID,
			"attempts", attempts,
			"reason", reason,
		)
		if err := s.queueClient.EnqueueBillingAlert(queue.BillingAlertPayload{
			Kind:   "renewal_exhausted",
			UserID: userID,
			Detail: reason,
		}); err != nil {
			logger.Warnw("billing_alert_enqueue_failed", "kind", "renewal_exhausted", "error", err)
		}
		if err := s.queueClient.EnqueueRenewalNotify(queue.RenewalNotifyPayload{
			SubscriptionID: task.SubscriptionID,
			UserID:         userID,
			Success:        false,
			Reason:         reason,
		}); err != nil {
			logger.Warnw("renewal_notify_enqueue_failed", "error", err)
		}
		return
	}

	next := time.Now().Add(s.backoff(attempts))
	if err := s.tasks.Update(task.ID, map[string]interface{}{
		"status":          constants.RenewalTaskStatusRetrying,
		"next_attempt_at": next,
		"last_error":      reason,
	}); err != nil {
		logger.Errorw("renewal_task_update_failed", "task_id", task.ID, "error", err)
	}
	logger.Warnw("renewal_attempt_failed",
		"task_id", task.ID,
		"subscription_id", task.SubscriptionID,
		"attempt", attempts,
		"next_attempt_at", next,
		"reason", reason,
	)
}

// cancelSupersededOrder 回收上一次尝试遗留的未支付订单。
// 新的尝试会生成新订单，旧单留在 pending 会永远无人支付。
func (s *RenewalService) cancelSupersededOrder(task *models.RenewalTask) {
	if task.OrderNo == "" {
		return
	}
	err := s.billing.CancelOrder(context.Background(), task.OrderNo)
	if err != nil && !errors.Is(err, ErrOrderStateInvalid) && !errors.Is(err, ErrOrderNotFound) {
		logger.Warnw("renewal_superseded_order_cancel_failed",
			"task_id", task.ID,
			"order_no", task.OrderNo,
			"error", err,
		)
	}
}

// backoff 第 attempts 次失败后的等待时长：base * 2^(attempts-1)，有上限
func (s *RenewalService) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := s.opts.BackoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= s.opts.BackoffCap {
			return s.opts.BackoffCap
		}
	}
	if delay > s.opts.BackoffCap {
		return s.opts.BackoffCap
	}
	return delay
}

// HandleOrderPaid 续费订单支付成功的收口：任务置为 success，
// 延长订阅周期并发布 subscription.renewed 事件。
// 由事件总线 payment.success 订阅者调用。
func (s *RenewalService) HandleOrderPaid(ctx context.Context, orderNo string) error {
	task, err := s.tasks.GetByOrderNo(orderNo)
	if err != nil {
		return err
	}
	if task == nil || !task.InFlight() {
		return nil
	}
	sub, err := s.subscriptions.GetByID(task.SubscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		return ErrSubscriptionNotFound
	}

	now := time.Now()
	base := sub.CurrentPeriodEnd
	if base.Before(now) {
		base = now
	}
	newPeriodEnd := base.Add(time.Duration(sub.PeriodDays) * 24 * time.Hour)

	if err := s.tasks.Update(task.ID, map[string]interface{}{
		"status":       constants.RenewalTaskStatusSuccess,
		"completed_at": now,
	}); err != nil {
		return err
	}
	if err := s.subscriptions.Update(sub.ID, map[string]interface{}{
		"status":             constants.SubscriptionStatusActive,
		"current_period_end": newPeriodEnd,
	}); err != nil {
		return err
	}

	s.billing.Bus().Emit(ctx, event.Event{
		Type:     constants.EventSubscriptionRenewed,
		Provider: sub.Provider,
		OrderNo:  orderNo,
		UserID:   sub.UserID,
		Payload: map[string]interface{}{
			"subscription_id":    sub.ID,
			"current_period_end": newPeriodEnd,
		},
	})
	if err := s.queueClient.EnqueueRenewalNotify(queue.RenewalNotifyPayload{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Success:        true,
		OrderNo:        orderNo,
	}); err != nil {
		logger.Warnw("renewal_notify_enqueue_failed", "error", err)
	}
	logger.Infow("subscription_renewed",
		"subscription_id", sub.ID,
		"order_no", orderNo,
		"current_period_end", newPeriodEnd,
	)
	return nil
}

// HandleOrderFailed 续费订单支付失败的收口：按退避重试。
// 由事件总线 payment.failed 订阅者调用。
func (s *RenewalService) HandleOrderFailed(ctx context.Context, orderNo, reason string) error {
	task, err := s.tasks.GetByOrderNo(orderNo)
	if err != nil {
		return err
	}
	if task == nil || task.Status != constants.RenewalTaskStatusProcessing {
		return nil
	}
	sub, err := s.subscriptions.GetByID(task.SubscriptionID)
	userID := ""
	if err == nil && sub != nil {
		userID = sub.UserID
	}
	s.scheduleRetry(task, task.Attempts, userID, fmt.Sprintf("续费支付失败: %s", reason))
	return nil
}

// TriggerRenewal 手动触发续费。订阅存在未完结任务时拒绝。
func (s *RenewalService) TriggerRenewal(ctx context.Context, subscriptionID uint) (*models.RenewalTask, error) {
	sub, err := s.subscriptions.GetByID(subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrSubscriptionNotFound
	}
	inFlight, err := s.tasks.GetInFlightBySubscription(subscriptionID)
	if err != nil {
		return nil, err
	}
	if inFlight != nil {
		return nil, ErrRenewalTaskConflict
	}

	task := &models.RenewalTask{
		SubscriptionID: subscriptionID,
		Status:         constants.RenewalTaskStatusPending,
	}
	if err := s.tasks.Create(task); err != nil {
		return nil, err
	}
	s.attempt(ctx, task)
	return s.tasks.GetByID(task.ID)
}

// CancelTask 取消未完结的续费任务
func (s *RenewalService) CancelTask(taskID uint) error {
	task, err := s.tasks.GetByID(taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return ErrRenewalTaskNotFound
	}
	if !task.InFlight() {
		return fmt.Errorf("%w: 当前状态 %s", ErrOrderStateInvalid, task.Status)
	}
	return s.tasks.Update(taskID, map[string]interface{}{
		"status": constants.RenewalTaskStatusCanceled,
	})
}

// GetTasks 按订阅查询续费任务
func (s *RenewalService) GetTasks(subscriptionID uint) ([]models.RenewalTask, error) {
	return s.tasks.ListBySubscription(subscriptionID)
}
