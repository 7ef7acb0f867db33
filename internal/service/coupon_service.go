package service

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/zhushou-next/internal/constants"
	"github.com/zhushou-next/internal/models"
	"github.com/zhushou-next/internal/repository"

	"gorm.io/gorm"
)

// 校验失败原因
const (
	CouponReasonNotFound     = "not_found"
	CouponReasonInactive     = "inactive"
	CouponReasonNotStarted   = "not_started"
	CouponReasonExpired      = "expired"
	CouponReasonMinAmount    = "min_amount_not_met"
	CouponReasonScope        = "scope_mismatch"
	CouponReasonUsageLimit   = "usage_limit_reached"
	CouponReasonPerUserLimit = "per_user_limit_reached"
)

// CouponValidation 优惠券校验结果。
// 校验失败是常态而非异常，以带标记的结果返回，不抛错误。
type CouponValidation struct {
	Valid    bool
	Reason   string
	Coupon   *models.Coupon
	Discount int64
}

// CouponService 优惠券折扣引擎
type CouponService struct {
	coupons repository.CouponRepository
}

// NewCouponService 创建优惠券服务
func NewCouponService(coupons repository.CouponRepository) *CouponService {
	return &CouponService{coupons: coupons}
}

// CalculateDiscount 计算折扣金额（分）。纯函数。
// percentage：amount * value / 100，value 为百分数，向下取整，
// max_discount 大于 0 时封顶；fixed：固定面额。
// 结果恒满足 0 <= discount <= orderAmount。
func CalculateDiscount(coupon *models.Coupon, orderAmountFen int64) int64 {
	if coupon == nil || orderAmountFen <= 0 {
		return 0
	}
	var discount int64
	switch coupon.Type {
	case constants.CouponTypePercentage:
		if coupon.Value <= 0 {
			return 0
		}
		discount = orderAmountFen * coupon.Value / 100
		if coupon.MaxDiscount > 0 && discount > coupon.MaxDiscount {
			discount = coupon.MaxDiscount
		}
	case constants.CouponTypeFixed:
		discount = coupon.Value
	default:
		return 0
	}
	if discount < 0 {
		return 0
	}
	if discount > orderAmountFen {
		discount = orderAmountFen
	}
	return discount
}

// Validate 校验优惠码对指定用户与订单是否可用，并计算折扣。
func (s *CouponService) Validate(code, userID, orderType string, scopeRefID uint, orderAmountFen int64) (*CouponValidation, error) {
	coupon, err := s.coupons.GetByCode(strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	if coupon == nil {
		return &CouponValidation{Valid: false, Reason: CouponReasonNotFound}, nil
	}
	if !coupon.IsActive {
		return &CouponValidation{Valid: false, Reason: CouponReasonInactive, Coupon: coupon}, nil
	}

	now := time.Now()
	if coupon.StartsAt != nil && now.Before(*coupon.StartsAt) {
		return &CouponValidation{Valid: false, Reason: CouponReasonNotStarted, Coupon: coupon}, nil
	}
	if coupon.ExpiresAt != nil && now.After(*coupon.ExpiresAt) {
		return &CouponValidation{Valid: false, Reason: CouponReasonExpired, Coupon: coupon}, nil
	}
	if coupon.MinAmount > 0 && orderAmountFen < coupon.MinAmount {
		return &CouponValidation{Valid: false, Reason: CouponReasonMinAmount, Coupon: coupon}, nil
	}
	if !couponScopeMatches(coupon, orderType, scopeRefID) {
		return &CouponValidation{Valid: false, Reason: CouponReasonScope, Coupon: coupon}, nil
	}
	if coupon.UsageLimit > 0 && coupon.UsedCount >= coupon.UsageLimit {
		return &CouponValidation{Valid: false, Reason: CouponReasonUsageLimit, Coupon: coupon}, nil
	}
	if coupon.PerUserLimit > 0 && userID != "" {
		used, err := s.coupons.CountUsageByUser(coupon.ID, userID)
		if err != nil {
			return nil, err
		}
		if used >= int64(coupon.PerUserLimit) {
			return &CouponValidation{Valid: false, Reason: CouponReasonPerUserLimit, Coupon: coupon}, nil
		}
	}

	return &CouponValidation{
		Valid:    true,
		Coupon:   coupon,
		Discount: CalculateDiscount(coupon, orderAmountFen),
	}, nil
}

// Redeem 在事务内占用优惠券额度并记录使用。
// 额度争用失败返回 ErrCouponExhausted。
func (s *CouponService) Redeem(tx *gorm.DB, coupon *models.Coupon, userID string, orderID uint, discountFen int64) error {
	repo := s.coupons.WithTx(tx)
	ok, err := repo.IncrementUsage(coupon.ID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCouponExhausted
	}
	return repo.CreateUsage(&models.CouponUsage{
		CouponID: coupon.ID,
		UserID:   userID,
		OrderID:  orderID,
		Discount: discountFen,
	})
}

// Release 回退一次优惠券使用（订单取消时）
func (s *CouponService) Release(tx *gorm.DB, couponID uint) error {
	return s.coupons.WithTx(tx).DecrementUsage(couponID)
}

// couponScopeMatches 判断优惠券适用范围。
// scope_ref_ids 为 JSON 数组，空数组表示该范围下全部适用。
func couponScopeMatches(coupon *models.Coupon, orderType string, scopeRefID uint) bool {
	switch coupon.ScopeType {
	case "", constants.CouponScopeAll:
		return true
	case constants.CouponScopePlan:
		if orderType != constants.OrderTypeSubscription {
			return false
		}
	case constants.CouponScopeSkill:
		if orderType != constants.OrderTypeSkill {
			return false
		}
	default:
		return false
	}

	refIDs := parseScopeRefIDs(coupon.ScopeRefIDs)
	if len(refIDs) == 0 {
		return true
	}
	for _, id := range refIDs {
		if id == scopeRefID {
			return true
		}
	}
	return false
}

func parseScopeRefIDs(raw string) []uint {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var ids []uint
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil
	}
	return ids
}
