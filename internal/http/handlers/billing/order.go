package billing

import (
	"strconv"
	"strings"
	"time"

	"github.com/zhushou-next/internal/http/response"
	"github.com/zhushou-next/internal/repository"
	"github.com/zhushou-next/internal/service"

	"github.com/gin-gonic/gin"
)

// CreateOrderRequest 下单请求
type CreateOrderRequest struct {
	UserID          string `json:"user_id" binding:"required"`
	OrderType       string `json:"order_type" binding:"required"`
	Title           string `json:"title" binding:"required"`
	AmountFen       int64  `json:"amount_fen" binding:"required"`
	Currency        string `json:"currency"`
	Provider        string `json:"provider" binding:"required"`
	InteractionMode string `json:"interaction_mode"`
	CouponCode      string `json:"coupon_code"`
	ScopeRefID      uint   `json:"scope_ref_id"`
}

// CreateOrder 创建支付订单
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.BillingService.CreateOrder(c.Request.Context(), service.CreateOrderInput{
		UserID:          req.UserID,
		OrderType:       req.OrderType,
		Title:           req.Title,
		AmountFen:       req.AmountFen,
		Currency:        req.Currency,
		Provider:        req.Provider,
		InteractionMode: req.InteractionMode,
		CouponCode:      req.CouponCode,
		ScopeRefID:      req.ScopeRefID,
		ClientIP:        c.ClientIP(),
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"order":    result.Order,
		"pay_url":  result.PayURL,
		"qr_code":  result.QRCode,
		"discount": result.Discount,
	})
}

// GetOrder 查询订单，pending 订单会反查第三方对账
func (h *Handler) GetOrder(c *gin.Context) {
	orderNo := strings.TrimSpace(c.Param("order_no"))
	if orderNo == "" {
		response.BadRequest(c, "order_no 必填")
		return
	}
	order, err := h.BillingService.QueryOrder(c.Request.Context(), orderNo)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, order)
}

// ListOrders 订单列表
func (h *Handler) ListOrders(c *gin.Context) {
	filter := repository.OrderListFilter{
		UserID:    strings.TrimSpace(c.Query("user_id")),
		Status:    strings.TrimSpace(c.Query("status")),
		OrderType: strings.TrimSpace(c.Query("order_type")),
		Provider:  strings.TrimSpace(c.Query("provider")),
		OrderNo:   strings.TrimSpace(c.Query("order_no")),
		Page:      parseIntQuery(c, "page", 1),
		PageSize:  parseIntQuery(c, "page_size", 20),
	}
	if from := strings.TrimSpace(c.Query("created_from")); from != "" {
		if parsed, err := time.Parse(time.RFC3339, from); err == nil {
			filter.CreatedFrom = &parsed
		}
	}
	if to := strings.TrimSpace(c.Query("created_to")); to != "" {
		if parsed, err := time.Parse(time.RFC3339, to); err == nil {
			filter.CreatedTo = &parsed
		}
	}

	orders, total, err := h.BillingService.ListOrders(filter)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	totalPage := int64(0)
	if filter.PageSize > 0 {
		totalPage = (total + int64(filter.PageSize) - 1) / int64(filter.PageSize)
	}
	response.SuccessWithPage(c, orders, response.Pagination{
		Page:      filter.Page,
		PageSize:  filter.PageSize,
		Total:     total,
		TotalPage: totalPage,
	})
}

// ListTransactions 订单流水
func (h *Handler) ListTransactions(c *gin.Context) {
	orderNo := strings.TrimSpace(c.Param("order_no"))
	if orderNo == "" {
		response.BadRequest(c, "order_no 必填")
		return
	}
	transactions, err := h.BillingService.ListTransactions(orderNo)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, transactions)
}

// CancelOrder 取消未支付订单
func (h *Handler) CancelOrder(c *gin.Context) {
	orderNo := strings.TrimSpace(c.Param("order_no"))
	if orderNo == "" {
		response.BadRequest(c, "order_no 必填")
		return
	}
	if err := h.BillingService.CancelOrder(c.Request.Context(), orderNo); err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, nil)
}

// RefundRequest 退款请求
type RefundRequest struct {
	RefundFen int64  `json:"refund_fen" binding:"required"`
	Reason    string `json:"reason"`
}

// CreateRefund 发起退款
func (h *Handler) CreateRefund(c *gin.Context) {
	orderNo := strings.TrimSpace(c.Param("order_no"))
	if orderNo == "" {
		response.BadRequest(c, "order_no 必填")
		return
	}
	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}
	if err := h.BillingService.CreateRefund(c.Request.Context(), orderNo, req.RefundFen, req.Reason); err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, nil)
}

func parseIntQuery(c *gin.Context, key string, fallback int) int {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
