package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zhushou-next/internal/constants"
	"github.com/zhushou-next/internal/event"
	"github.com/zhushou-next/internal/models"
	"github.com/zhushou-next/internal/payment"
	"github.com/zhushou-next/internal/payment/alipay"
	"github.com/zhushou-next/internal/payment/wechatpay"
	"github.com/zhushou-next/internal/queue"
	"github.com/zhushou-next/internal/repository"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:billing_svc_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.PaymentOrder{},
		&models.Transaction{},
		&models.Coupon{},
		&models.CouponUsage{},
		&models.Subscription{},
		&models.RenewalTask{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func testAlipayKeys(t *testing.T) (privatePEM, publicPEM string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	privatePEM = string(pem.EncodeToMemory(&pem.Block{
		Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	publicPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER}))
	return privatePEM, publicPEM
}

// fakeAlipayGateway 对任意方法返回成功响应节点（不带响应签名）
func fakeAlipayGateway(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		method := r.Form.Get("method")
		nodeKey := ""
		node := `{"code":"10000","msg":"Success","qr_code":"https://qr.alipay.com/test"}`
		switch method {
		case "alipay.trade.precreate":
			nodeKey = "alipay_trade_precreate_response"
		case "alipay.trade.close":
			nodeKey = "alipay_trade_close_response"
			node = `{"code":"10000","msg":"Success"}`
		case "alipay.trade.query":
			nodeKey = "alipay_trade_query_response"
			node = `{"code":"10000","trade_status":"TRADE_SUCCESS","trade_no":"ali-tx-1","total_amount":"29.00"}`
		case "alipay.trade.refund":
			nodeKey = "alipay_trade_refund_response"
			node = `{"code":"10000","fund_change":"Y","refund_fee":"10.00"}`
		default:
			nodeKey = "error_response"
			node = `{"code":"40004","sub_code":"unsupported"}`
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"%s":%s}`, nodeKey, node)
	}))
}

type testEnv struct {
	db      *gorm.DB
	billing *BillingService
	bus     *event.Bus
	orders  repository.OrderRepository
	txs     repository.TransactionRepository
	coupons repository.CouponRepository
	gateway *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	orders := repository.NewOrderRepository(db)
	txs := repository.NewTransactionRepository(db)
	coupons := repository.NewCouponRepository(db)
	bus := event.NewBus()
	queueClient, err := queue.NewClient(nil)
	if err != nil {
		t.Fatalf("queue client: %v", err)
	}

	gateway := fakeAlipayGateway(t)
	t.Cleanup(gateway.Close)
	privatePEM, publicPEM := testAlipayKeys(t)
	alipayCfg := &alipay.Config{
		AppID:           "2021000000000001",
		PrivateKey:      privatePEM,
		AlipayPublicKey: publicPEM,
		GatewayURL:      gateway.URL,
		NotifyURL:       "https://example.com/api/v1/billing/notify/alipay",
	}
	alipayCfg.Normalize()
	wechatCfg := &wechatpay.Config{}

	billing := NewBillingService(db, orders, txs,
		NewCouponService(coupons), bus, queueClient, wechatCfg, alipayCfg)
	return &testEnv{
		db:      db,
		billing: billing,
		bus:     bus,
		orders:  orders,
		txs:     txs,
		coupons: coupons,
		gateway: gateway,
	}
}

func seedOrder(t *testing.T, env *testEnv, orderNo, status string, amountFen int64) *models.PaymentOrder {
	t.Helper()
	order := &models.PaymentOrder{
		OrderNo:   orderNo,
		UserID:    "user-1",
		OrderType: constants.OrderTypeSubscription,
		Title:     "专业版订阅",
		Amount:    amountFen,
		Currency:  constants.CurrencyCNY,
		Status:    status,
		Provider:  constants.ProviderWechat,
	}
	if err := env.orders.Create(order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func countTransactions(t *testing.T, env *testEnv, orderNo string) int {
	t.Helper()
	txs, err := env.txs.ListByOrderNo(orderNo)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	return len(txs)
}

func TestHandlePaymentSuccessRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	seedOrder(t, env, "ORD123", constants.OrderStatusPending, 2900)

	var events int64
	var gotEvent event.Event
	env.bus.Register(constants.EventPaymentSuccess, "probe", func(ctx context.Context, evt event.Event) error {
		atomic.AddInt64(&events, 1)
		gotEvent = evt
		return nil
	})

	paidAt := time.Now()
	if err := env.billing.HandlePaymentSuccess(context.Background(),
		constants.ProviderWechat, "ORD123", "4200001234", 2900, &paidAt, nil); err != nil {
		t.Fatalf("handle success: %v", err)
	}

	order, err := env.orders.GetByOrderNo("ORD123")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Status != constants.OrderStatusPaid {
		t.Fatalf("status = %s, want paid", order.Status)
	}
	if order.ProviderRef != "4200001234" {
		t.Fatalf("provider_ref = %s", order.ProviderRef)
	}
	if order.PaidAt == nil {
		t.Fatal("expected paid_at to be set")
	}
	if got := countTransactions(t, env, "ORD123"); got != 1 {
		t.Fatalf("transactions = %d, want 1", got)
	}
	if atomic.LoadInt64(&events) != 1 {
		t.Fatalf("events = %d, want 1", events)
	}
	if gotEvent.UserID != "user-1" {
		t.Fatalf("event user_id = %s", gotEvent.UserID)
	}
	if gotEvent.OrderNo != "ORD123" {
		t.Fatalf("event order_no = %s", gotEvent.OrderNo)
	}
	if gotEvent.Provider != constants.ProviderWechat {
		t.Fatalf("event provider = %s", gotEvent.Provider)
	}
}

func TestHandlePaymentSuccessIdempotent(t *testing.T) {
	env := newTestEnv(t)
	seedOrder(t, env, "ORD123", constants.OrderStatusPending, 2900)

	for i := 0; i < 3; i++ {
		if err := env.billing.HandlePaymentSuccess(context.Background(),
			constants.ProviderWechat, "ORD123", "4200001234", 2900, nil, nil); err != nil {
			t.Fatalf("handle success #%d: %v", i, err)
		}
	}

	order, _ := env.orders.GetByOrderNo("ORD123")
	if order.Status != constants.OrderStatusPaid {
		t.Fatalf("status = %s", order.Status)
	}
	if got := countTransactions(t, env, "ORD123"); got != 1 {
		t.Fatalf("transactions = %d, want exactly 1 after duplicate callbacks", got)
	}
}

func TestHandlePaymentSuccessUnknownOrderStillEmits(t *testing.T) {
	env := newTestEnv(t)

	var gotEvent event.Event
	var fired atomic.Bool
	env.bus.Register(constants.EventPaymentSuccess, "probe", func(ctx context.Context, evt event.Event) error {
		gotEvent = evt
		fired.Store(true)
		return nil
	})

	if err := env.billing.HandlePaymentSuccess(context.Background(),
		constants.ProviderWechat, "ORD404", "tx-404", 1000, nil, nil); err != nil {
		t.Fatalf("handle success: %v", err)
	}

	if !fired.Load() {
		t.Fatal("event must be emitted even when order lookup fails")
	}
	if gotEvent.UserID != "" {
		t.Fatalf("event user_id = %q, want empty for unknown order", gotEvent.UserID)
	}
}

func TestHandlePaymentSuccessAmountMismatch(t *testing.T) {
	env := newTestEnv(t)
	seedOrder(t, env, "ORD123", constants.OrderStatusPending, 2900)

	var failedEvents atomic.Int64
	env.bus.Register(constants.EventPaymentFailed, "probe", func(ctx context.Context, evt event.Event) error {
		failedEvents.Add(1)
		return nil
	})

	if err := env.billing.HandlePaymentSuccess(context.Background(),
		constants.ProviderWechat, "ORD123", "tx-1", 100, nil, nil); err != nil {
		t.Fatalf("handle success: %v", err)
	}

	order, _ := env.orders.GetByOrderNo("ORD123")
	if order.Status != constants.OrderStatusPending {
		t.Fatalf("status = %s, amount mismatch must not mark paid", order.Status)
	}
	if got := countTransactions(t, env, "ORD123"); got != 0 {
		t.Fatalf("transactions = %d, want 0", got)
	}
	if failedEvents.Load() != 1 {
		t.Fatalf("payment.failed events = %d, want 1", failedEvents.Load())
	}
}

func TestStateMachineRejectsIllegalTransitions(t *testing.T) {
	env := newTestEnv(t)
	seedOrder(t, env, "ORD-REFUNDED", constants.OrderStatusRefunded, 2900)
	seedOrder(t, env, "ORD-CANCELED", constants.OrderStatusCanceled, 2900)

	for _, orderNo := range []string{"ORD-REFUNDED", "ORD-CANCELED"} {
		if err := env.billing.HandlePaymentSuccess(context.Background(),
			constants.ProviderWechat, orderNo, "tx-x", 2900, nil, nil); err != nil {
			t.Fatalf("handle success %s: %v", orderNo, err)
		}
	}

	refunded, _ := env.orders.GetByOrderNo("ORD-REFUNDED")
	if refunded.Status != constants.OrderStatusRefunded {
		t.Fatalf("refunded order mutated to %s", refunded.Status)
	}
	canceled, _ := env.orders.GetByOrderNo("ORD-CANCELED")
	if canceled.Status != constants.OrderStatusCanceled {
		t.Fatalf("canceled order mutated to %s", canceled.Status)
	}
	if countTransactions(t, env, "ORD-REFUNDED")+countTransactions(t, env, "ORD-CANCELED") != 0 {
		t.Fatal("rejected transitions must not record transactions")
	}
}

func TestHandlePaymentFailed(t *testing.T) {
	env := newTestEnv(t)
	seedOrder(t, env, "ORD123", constants.OrderStatusPending, 2900)

	if err := env.billing.HandlePaymentFailed(context.Background(),
		constants.ProviderWechat, "ORD123", "closed"); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	order, _ := env.orders.GetByOrderNo("ORD123")
	if order.Status != constants.OrderStatusFailed {
		t.Fatalf("status = %s, want failed", order.Status)
	}
	if got := countTransactions(t, env, "ORD123"); got != 1 {
		t.Fatalf("transactions = %d, want 1", got)
	}
}

func TestHandleRefundSuccessPartialThenFull(t *testing.T) {
	env := newTestEnv(t)
	seedOrder(t, env, "ORD123", constants.OrderStatusPaid, 2900)

	if err := env.billing.HandleRefundSuccess(context.Background(),
		constants.ProviderWechat, "ORD123", "rf-1", 1000); err != nil {
		t.Fatalf("refund 1: %v", err)
	}
	order, _ := env.orders.GetByOrderNo("ORD123")
	if order.Status != constants.OrderStatusPartiallyRefunded {
		t.Fatalf("status = %s, want partially_refunded", order.Status)
	}
	if order.RefundAmount != 1000 {
		t.Fatalf("refund_amount = %d, want 1000", order.RefundAmount)
	}

	if err := env.billing.HandleRefundSuccess(context.Background(),
		constants.ProviderWechat, "ORD123", "rf-2", 1900); err != nil {
		t.Fatalf("refund 2: %v", err)
	}
	order, _ = env.orders.GetByOrderNo("ORD123")
	if order.Status != constants.OrderStatusRefunded {
		t.Fatalf("status = %s, want refunded", order.Status)
	}
	if order.RefundAmount != 2900 {
		t.Fatalf("refund_amount = %d, want 2900", order.RefundAmount)
	}
	if order.RefundedAt == nil {
		t.Fatal("expected refunded_at to be set")
	}
	if got := countTransactions(t, env, "ORD123"); got != 2 {
		t.Fatalf("transactions = %d, want 2", got)
	}
}

// TestHandleRefundSuccessConcurrentAccumulation 两笔并发退款合计达到订单金额时
// 必须收敛到 refunded。用更新回调在守卫迁移执行前插入另一笔已落账的退款，
// 模拟入口处读到的订单快照已经过期。
func TestHandleRefundSuccessConcurrentAccumulation(t *testing.T) {
	env := newTestEnv(t)
	seedOrder(t, env, "ORD123", constants.OrderStatusPaid, 2900)

	fired := false
	if err := env.db.Callback().Update().Before("gorm:update").Register("interleaved_refund", func(d *gorm.DB) {
		if fired || d.Statement == nil || d.Statement.Table != "payment_orders" {
			return
		}
		fired = true
		if err := d.Session(&gorm.Session{NewDB: true}).
			Exec("UPDATE payment_orders SET refund_amount = refund_amount + ? WHERE order_no = ?",
				int64(1400), "ORD123").Error; err != nil {
			t.Errorf("interleaved refund: %v", err)
		}
	}); err != nil {
		t.Fatalf("register callback: %v", err)
	}
	defer func() {
		if err := env.db.Callback().Update().Remove("interleaved_refund"); err != nil {
			t.Errorf("remove callback: %v", err)
		}
	}()

	if err := env.billing.HandleRefundSuccess(context.Background(),
		constants.ProviderWechat, "ORD123", "rf-2", 1500); err != nil {
		t.Fatalf("refund: %v", err)
	}

	order, _ := env.orders.GetByOrderNo("ORD123")
	if order.RefundAmount != 2900 {
		t.Fatalf("refund_amount = %d, want 2900", order.RefundAmount)
	}
	if order.Status != constants.OrderStatusRefunded {
		t.Fatalf("status = %s, want refunded when accumulated refunds reach the paid amount", order.Status)
	}
	if order.RefundedAt == nil {
		t.Fatal("expected refunded_at to be set")
	}
}

func TestHandleRefundSuccessDuplicateProviderRef(t *testing.T) {
	env := newTestEnv(t)
	seedOrder(t, env, "ORD123", constants.OrderStatusPaid, 2900)

	for i := 0; i < 2; i++ {
		if err := env.billing.HandleRefundSuccess(context.Background(),
			constants.ProviderWechat, "ORD123", "rf-1", 1000); err != nil {
			t.Fatalf("refund #%d: %v", i, err)
		}
	}

	order, _ := env.orders.GetByOrderNo("ORD123")
	if order.RefundAmount != 1000 {
		t.Fatalf("refund_amount = %d, duplicate refund notify must not accumulate", order.RefundAmount)
	}
	if got := countTransactions(t, env, "ORD123"); got != 1 {
		t.Fatalf("transactions = %d, want 1", got)
	}
}

func TestHandleNotificationDispatch(t *testing.T) {
	env := newTestEnv(t)
	seedOrder(t, env, "ORD123", constants.OrderStatusPending, 2900)

	if err := env.billing.HandleNotification(context.Background(), &payment.Notification{
		Kind:        payment.KindPaymentSuccess,
		Provider:    constants.ProviderWechat,
		OrderNo:     "ORD123",
		ProviderRef: "tx-1",
		AmountFen:   2900,
	}); err != nil {
		t.Fatalf("handle notification: %v", err)
	}

	order, _ := env.orders.GetByOrderNo("ORD123")
	if order.Status != constants.OrderStatusPaid {
		t.Fatalf("status = %s", order.Status)
	}
}

func TestCreateOrderWithCoupon(t *testing.T) {
	env := newTestEnv(t)
	coupon := &models.Coupon{
		Code: "SAVE10", Type: constants.CouponTypePercentage, Value: 10,
		IsActive: true, UsageLimit: 10,
	}
	if err := env.coupons.Create(coupon); err != nil {
		t.Fatalf("create coupon: %v", err)
	}

	result, err := env.billing.CreateOrder(context.Background(), CreateOrderInput{
		UserID:          "user-1",
		OrderType:       constants.OrderTypeSubscription,
		Title:           "专业版订阅",
		AmountFen:       2900,
		Provider:        constants.ProviderAlipay,
		InteractionMode: constants.PaymentInteractionQR,
		CouponCode:      "SAVE10",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if result.Discount != 290 {
		t.Fatalf("discount = %d, want 290", result.Discount)
	}
	if result.Order.Amount != 2610 {
		t.Fatalf("amount = %d, want 2610", result.Order.Amount)
	}
	if result.QRCode == "" {
		t.Fatal("expected qr code from provider")
	}

	updated, _ := env.coupons.GetByID(coupon.ID)
	if updated.UsedCount != 1 {
		t.Fatalf("used_count = %d, want 1", updated.UsedCount)
	}
}

// TestCreateOrderRollsBackWhenProviderFails 第三方下单失败后本地订单不能悬挂在
// pending，优惠券额度同步释放。微信配置为空时下单必然失败。
func TestCreateOrderRollsBackWhenProviderFails(t *testing.T) {
	env := newTestEnv(t)
	coupon := &models.Coupon{Code: "SAVE10", Type: constants.CouponTypeFixed, Value: 500, IsActive: true, UsageLimit: 1}
	if err := env.coupons.Create(coupon); err != nil {
		t.Fatalf("create coupon: %v", err)
	}

	_, err := env.billing.CreateOrder(context.Background(), CreateOrderInput{
		UserID:          "user-1",
		OrderType:       constants.OrderTypeSubscription,
		Title:           "专业版订阅",
		AmountFen:       2900,
		Provider:        constants.ProviderWechat,
		InteractionMode: constants.PaymentInteractionQR,
		CouponCode:      "SAVE10",
	})
	if err == nil {
		t.Fatal("expected provider create failure")
	}

	var order models.PaymentOrder
	if err := env.db.Where("user_id = ?", "user-1").First(&order).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if order.Status != constants.OrderStatusCanceled {
		t.Fatalf("status = %s, want canceled after provider failure", order.Status)
	}
	if order.CanceledAt == nil {
		t.Fatal("expected canceled_at to be set")
	}
	updated, _ := env.coupons.GetByID(coupon.ID)
	if updated.UsedCount != 0 {
		t.Fatalf("used_count = %d, want 0 after rollback", updated.UsedCount)
	}
}

func TestCreateOrderRejectsInvalidCoupon(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.billing.CreateOrder(context.Background(), CreateOrderInput{
		UserID:     "user-1",
		OrderType:  constants.OrderTypeSubscription,
		Title:      "专业版订阅",
		AmountFen:  2900,
		Provider:   constants.ProviderAlipay,
		CouponCode: "NOSUCH",
	})
	if !errors.Is(err, ErrCouponInvalid) {
		t.Fatalf("expected ErrCouponInvalid, got %v", err)
	}
}

func TestCancelOrderReleasesCoupon(t *testing.T) {
	env := newTestEnv(t)
	coupon := &models.Coupon{Code: "SAVE10", Type: constants.CouponTypeFixed, Value: 500, IsActive: true, UsageLimit: 1}
	if err := env.coupons.Create(coupon); err != nil {
		t.Fatalf("create coupon: %v", err)
	}

	result, err := env.billing.CreateOrder(context.Background(), CreateOrderInput{
		UserID:          "user-1",
		OrderType:       constants.OrderTypeSubscription,
		Title:           "专业版订阅",
		AmountFen:       2900,
		Provider:        constants.ProviderAlipay,
		InteractionMode: constants.PaymentInteractionQR,
		CouponCode:      "SAVE10",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if err := env.billing.CancelOrder(context.Background(), result.Order.OrderNo); err != nil {
		t.Fatalf("cancel order: %v", err)
	}

	order, _ := env.orders.GetByOrderNo(result.Order.OrderNo)
	if order.Status != constants.OrderStatusCanceled {
		t.Fatalf("status = %s", order.Status)
	}
	if order.CanceledAt == nil {
		t.Fatal("expected canceled_at to be set")
	}
	updated, _ := env.coupons.GetByID(coupon.ID)
	if updated.UsedCount != 0 {
		t.Fatalf("used_count = %d, want 0 after release", updated.UsedCount)
	}
}

func TestCancelOrderRejectsPaid(t *testing.T) {
	env := newTestEnv(t)
	seedOrder(t, env, "ORD123", constants.OrderStatusPaid, 2900)

	err := env.billing.CancelOrder(context.Background(), "ORD123")
	if !errors.Is(err, ErrOrderStateInvalid) {
		t.Fatalf("expected ErrOrderStateInvalid, got %v", err)
	}
}

func TestCreateRefundValidation(t *testing.T) {
	env := newTestEnv(t)
	seedOrder(t, env, "ORD-PENDING", constants.OrderStatusPending, 2900)

	if err := env.billing.CreateRefund(context.Background(), "ORD404", 100, ""); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if err := env.billing.CreateRefund(context.Background(), "ORD-PENDING", 100, ""); !errors.Is(err, ErrOrderStateInvalid) {
		t.Fatalf("expected ErrOrderStateInvalid, got %v", err)
	}

	seedOrder(t, env, "ORD-PAID", constants.OrderStatusPaid, 2900)
	if err := env.billing.CreateRefund(context.Background(), "ORD-PAID", 3000, ""); !errors.Is(err, ErrRefundExceedsPaid) {
		t.Fatalf("expected ErrRefundExceedsPaid, got %v", err)
	}
}

func TestCreateRefundAlipaySync(t *testing.T) {
	env := newTestEnv(t)
	order := seedOrder(t, env, "ORD-ALI", constants.OrderStatusPaid, 2900)
	if err := env.db.Model(order).Update("provider", constants.ProviderAlipay).Error; err != nil {
		t.Fatalf("update provider: %v", err)
	}

	if err := env.billing.CreateRefund(context.Background(), "ORD-ALI", 1000, "用户申请"); err != nil {
		t.Fatalf("create refund: %v", err)
	}

	updated, _ := env.orders.GetByOrderNo("ORD-ALI")
	if updated.Status != constants.OrderStatusPartiallyRefunded {
		t.Fatalf("status = %s, want partially_refunded", updated.Status)
	}
	if updated.RefundAmount != 1000 {
		t.Fatalf("refund_amount = %d, want 1000", updated.RefundAmount)
	}
}

func TestQueryOrderReconcilesAlipay(t *testing.T) {
	env := newTestEnv(t)
	order := seedOrder(t, env, "ORD-ALI", constants.OrderStatusPending, 2900)
	if err := env.db.Model(order).Update("provider", constants.ProviderAlipay).Error; err != nil {
		t.Fatalf("update provider: %v", err)
	}

	result, err := env.billing.QueryOrder(context.Background(), "ORD-ALI")
	if err != nil {
		t.Fatalf("query order: %v", err)
	}
	if result.Status != constants.OrderStatusPaid {
		t.Fatalf("status = %s, want paid after reconcile", result.Status)
	}
	if got := countTransactions(t, env, "ORD-ALI"); got != 1 {
		t.Fatalf("transactions = %d, want 1", got)
	}
}
