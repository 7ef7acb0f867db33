package billing

import (
	"errors"

	"github.com/zhushou-next/internal/http/response"
	"github.com/zhushou-next/internal/service"

	"github.com/gin-gonic/gin"
)

// respondServiceError 将服务层错误映射为统一响应
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrSubscriptionNotFound),
		errors.Is(err, service.ErrRenewalTaskNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrOrderInputInvalid),
		errors.Is(err, service.ErrCouponInvalid),
		errors.Is(err, service.ErrCouponExhausted),
		errors.Is(err, service.ErrRefundExceedsPaid),
		errors.Is(err, service.ErrProviderUnknown):
		response.BadRequest(c, err.Error())
	case errors.Is(err, service.ErrOrderStateInvalid),
		errors.Is(err, service.ErrRenewalTaskConflict):
		response.Error(c, response.CodeConflict, err.Error())
	default:
		response.Internal(c, "内部错误")
	}
}
