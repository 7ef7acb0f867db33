package provider

import (
	"time"

	"github.com/zhushou-next/internal/cache"
	"github.com/zhushou-next/internal/config"
	"github.com/zhushou-next/internal/event"
	"github.com/zhushou-next/internal/logger"
	"github.com/zhushou-next/internal/models"
	"github.com/zhushou-next/internal/payment/alipay"
	"github.com/zhushou-next/internal/payment/wechatpay"
	"github.com/zhushou-next/internal/queue"
	"github.com/zhushou-next/internal/repository"
	"github.com/zhushou-next/internal/service"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client
	Bus         *event.Bus

	// Repositories
	OrderRepo        repository.OrderRepository
	TransactionRepo  repository.TransactionRepository
	CouponRepo       repository.CouponRepository
	SubscriptionRepo repository.SubscriptionRepository
	RenewalTaskRepo  repository.RenewalTaskRepository

	// Provider configs
	WechatConfig *wechatpay.Config
	AlipayConfig *alipay.Config

	// Services
	CouponService  *service.CouponService
	BillingService *service.BillingService
	RenewalService *service.RenewalService
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) *Container {
	if err := cache.InitRedis(cache.Options{
		Enabled:  cfg.Redis.Enabled,
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
	}); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	queueClient, err := queue.NewClient(&cfg.Queue)
	if err != nil {
		logger.Errorw("provider_init_queue_client_failed", "error", err)
		queueClient, _ = queue.NewClient(nil)
	}

	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
		Bus:         event.NewBus(),
	}

	c.initRepositories()
	c.initPaymentConfigs()
	c.initServices()

	return c
}

func (c *Container) initRepositories() {
	db := models.DB
	c.OrderRepo = repository.NewOrderRepository(db)
	c.TransactionRepo = repository.NewTransactionRepository(db)
	c.CouponRepo = repository.NewCouponRepository(db)
	c.SubscriptionRepo = repository.NewSubscriptionRepository(db)
	c.RenewalTaskRepo = repository.NewRenewalTaskRepository(db)
}

func (c *Container) initPaymentConfigs() {
	c.WechatConfig = &wechatpay.Config{
		AppID:                 c.Config.Billing.Wechat.AppID,
		MerchantID:            c.Config.Billing.Wechat.MerchantID,
		MerchantSerialNo:      c.Config.Billing.Wechat.MerchantSerialNo,
		MerchantPrivateKey:    c.Config.Billing.Wechat.MerchantPrivateKey,
		APIV3Key:              c.Config.Billing.Wechat.APIV3Key,
		PlatformCertificate:   c.Config.Billing.Wechat.PlatformCertificate,
		NotifyURL:             c.Config.Billing.Wechat.NotifyURL,
		BaseURL:               c.Config.Billing.Wechat.BaseURL,
		AllowUnverifiedNotify: c.Config.Billing.Wechat.AllowUnverifiedNotify,
	}
	c.WechatConfig.Normalize()

	c.AlipayConfig = &alipay.Config{
		AppID:           c.Config.Billing.Alipay.AppID,
		PrivateKey:      c.Config.Billing.Alipay.PrivateKey,
		AlipayPublicKey: c.Config.Billing.Alipay.AlipayPublicKey,
		GatewayURL:      c.Config.Billing.Alipay.GatewayURL,
		NotifyURL:       c.Config.Billing.Alipay.NotifyURL,
		ReturnURL:       c.Config.Billing.Alipay.ReturnURL,
		SignType:        c.Config.Billing.Alipay.SignType,
	}
	c.AlipayConfig.Normalize()
}

func (c *Container) initServices() {
	c.CouponService = service.NewCouponService(c.CouponRepo)
	c.BillingService = service.NewBillingService(
		models.DB,
		c.OrderRepo,
		c.TransactionRepo,
		c.CouponService,
		c.Bus,
		c.QueueClient,
		c.WechatConfig,
		c.AlipayConfig,
	)

	renewalCfg := c.Config.Billing.Renewal
	c.RenewalService = service.NewRenewalService(
		c.SubscriptionRepo,
		c.RenewalTaskRepo,
		c.BillingService,
		c.QueueClient,
		service.RenewalOptions{
			CheckInterval: time.Duration(renewalCfg.CheckIntervalSec) * time.Second,
			AdvanceWindow: time.Duration(renewalCfg.RenewalAdvanceDays) * 24 * time.Hour,
			MaxRetries:    renewalCfg.MaxRetries,
			BackoffBase:   time.Duration(renewalCfg.RetryBackoffBaseSec) * time.Second,
			BackoffCap:    time.Duration(renewalCfg.RetryBackoffCapSec) * time.Second,
		},
	)

	service.RegisterSubscribers(c.Bus, c.BillingService, c.RenewalService, c.QueueClient)
}
