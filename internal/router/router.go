package router

import (
	"github.com/zhushou-next/internal/config"
	billinghandlers "github.com/zhushou-next/internal/http/handlers/billing"
	"github.com/zhushou-next/internal/logger"
	"github.com/zhushou-next/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	billingHandler := billinghandlers.New(c)

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	apiV1 := r.Group("/api/v1")
	{
		billing := apiV1.Group("/billing")
		{
			// 第三方回调入口，验签在 handler 内完成
			billing.POST("/notify/wechat", billingHandler.HandleWechatNotify)
			billing.POST("/notify/alipay", billingHandler.HandleAlipayNotify)

			// 订单
			billing.POST("/orders", billingHandler.CreateOrder)
			billing.GET("/orders", billingHandler.ListOrders)
			billing.GET("/orders/:order_no", billingHandler.GetOrder)
			billing.GET("/orders/:order_no/transactions", billingHandler.ListTransactions)
			billing.POST("/orders/:order_no/cancel", billingHandler.CancelOrder)
			billing.POST("/orders/:order_no/refund", billingHandler.CreateRefund)

			// 续费调度
			renewal := billing.Group("/renewal")
			{
				renewal.POST("/start", billingHandler.StartRenewal)
				renewal.POST("/stop", billingHandler.StopRenewal)
				renewal.GET("/tasks", billingHandler.ListRenewalTasks)
				renewal.POST("/tasks/:id/cancel", billingHandler.CancelRenewalTask)
				renewal.POST("/subscriptions/:id/trigger", billingHandler.TriggerRenewal)
			}
		}
	}

	return r
}
