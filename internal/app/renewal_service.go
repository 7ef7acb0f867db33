package app

import (
	"context"
	"errors"

	"github.com/zhushou-next/internal/service"
)

// RenewalSchedulerService 续费调度器的服务封装
type RenewalSchedulerService struct {
	name    string
	renewal *service.RenewalService
}

// NewRenewalSchedulerService 创建续费调度服务
func NewRenewalSchedulerService(renewal *service.RenewalService) *RenewalSchedulerService {
	return &RenewalSchedulerService{
		name:    "renewal_scheduler",
		renewal: renewal,
	}
}

// Name 服务名称
func (s *RenewalSchedulerService) Name() string {
	if s == nil || s.name == "" {
		return "renewal_scheduler"
	}
	return s.name
}

// Start 启动调度器并阻塞到上下文取消
func (s *RenewalSchedulerService) Start(ctx context.Context) error {
	if s == nil || s.renewal == nil {
		return errors.New("renewal scheduler not initialized")
	}
	s.renewal.Start(ctx)
	<-ctx.Done()
	return ctx.Err()
}

// Stop 停止调度器
func (s *RenewalSchedulerService) Stop(ctx context.Context) error {
	if s == nil || s.renewal == nil {
		return nil
	}
	_ = ctx
	s.renewal.Stop()
	return nil
}
