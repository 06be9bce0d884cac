package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tickets-next/internal/config"
	"github.com/tickets-next/internal/constants"
	"github.com/tickets-next/internal/models"
	"github.com/tickets-next/internal/repository"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// fakeCashfree 模拟托管网关：POST /orders 建单，GET /orders/{id} 按预设状态应答
type fakeCashfree struct {
	mu     sync.Mutex
	orders map[string]map[string]interface{}
}

func newFakeCashfree() *fakeCashfree {
	return &fakeCashfree{orders: map[string]map[string]interface{}{}}
}

func (f *fakeCashfree) setStatus(orderID, status, amount string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok {
		order = map[string]interface{}{"order_id": orderID, "order_currency": "INR"}
		f.orders[orderID] = order
	}
	order["order_status"] = status
	if amount != "" {
		order["order_amount"] = amount
	}
}

func (f *fakeCashfree) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		orderID, _ := payload["order_id"].(string)
		amount := fmt.Sprintf("%v", payload["order_amount"])
		f.mu.Lock()
		f.orders[orderID] = map[string]interface{}{
			"order_id":           orderID,
			"order_status":       "ACTIVE",
			"order_amount":       amount,
			"order_currency":     "INR",
			"payment_session_id": "session_" + orderID,
		}
		resp := f.orders[orderID]
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/orders/", func(w http.ResponseWriter, r *http.Request) {
		orderID := strings.TrimPrefix(r.URL.Path, "/orders/")
		f.mu.Lock()
		order, ok := f.orders[orderID]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"order not found"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(order)
	})
	return mux
}

func setupPaymentServiceTest(t *testing.T) (*PaymentService, *OrderService, *fakeCashfree, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:payment_service_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Order{},
		&models.Payment{},
		&models.PaymentReference{},
		&models.PaymentWebhookEvent{},
		&models.Setting{},
	); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	models.DB = db

	fake := newFakeCashfree()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	settingRepo := repository.NewSettingRepository(db)
	if _, err := settingRepo.Upsert(constants.SettingKeyCashfreeConfig, models.JSON{
		"api_base_url": server.URL,
	}); err != nil {
		t.Fatalf("seed gateway setting failed: %v", err)
	}

	cfg := &config.Config{}
	cfg.Server.PublicBaseURL = "https://tickets.example.com"
	cfg.Cashfree.ClientID = "cf_client"
	cfg.Cashfree.ClientSecret = "cf_secret"
	cfg.Cashfree.Sandbox = true
	cfg.Cashfree.APIVersion = "2023-08-01"

	binder := &memorySessionBinder{bindings: map[string]checkoutBinding{}}
	orderRepo := repository.NewOrderRepository(db)
	paymentSvc := NewPaymentService(
		orderRepo,
		repository.NewPaymentRepository(db),
		repository.NewPaymentReferenceRepository(db),
		repository.NewPaymentWebhookEventRepository(db),
		settingRepo,
		binder,
		nil,
		cfg,
	)
	orderSvc := NewOrderService(orderRepo, nil, 30)
	return paymentSvc, orderSvc, fake, db
}

func createTestOrder(t *testing.T, orderSvc *OrderService, unitPrice string, quantity int) *models.Order {
	t.Helper()
	price, err := decimal.NewFromString(unitPrice)
	if err != nil {
		t.Fatalf("parse unit price failed: %v", err)
	}
	order, err := orderSvc.CreateOrder(CreateOrderInput{
		EventName:     "Indie Night Live",
		TicketType:    "general",
		Quantity:      quantity,
		UnitPrice:     price,
		Currency:      "INR",
		CustomerEmail: "fan@example.com",
		CustomerPhone: "+91-98765 43210",
		ClientIP:      "203.0.113.9",
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	return order
}

func signWebhook(secret string, body []byte) map[string]string {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return map[string]string{
		"x-webhook-timestamp": timestamp,
		"x-webhook-signature": base64.StdEncoding.EncodeToString(mac.Sum(nil)),
	}
}

func successWebhookBody(orderID, remotePaymentID, amount string) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"type": "PAYMENT_SUCCESS_WEBHOOK",
		"data": map[string]interface{}{
			"order": map[string]interface{}{
				"order_id":       orderID,
				"order_amount":   amount,
				"order_currency": "INR",
			},
			"payment": map[string]interface{}{
				"cf_payment_id":  remotePaymentID,
				"payment_status": "SUCCESS",
				"payment_amount": amount,
				"payment_time":   time.Now().Format(time.RFC3339),
			},
		},
	})
	return body
}

func TestCreatePaymentAndConfirmVia500INRWebhook(t *testing.T) {
	paymentSvc, orderSvc, fake, db := setupPaymentServiceTest(t)
	order := createTestOrder(t, orderSvc, "250.00", 2)
	if order.TotalAmount.String() != "500.00" {
		t.Fatalf("expected order total 500.00, got %s", order.TotalAmount.String())
	}

	created, err := paymentSvc.CreatePayment(CreatePaymentInput{
		OrderNo:     order.OrderNo,
		CheckoutSID: "sid-1",
	})
	if err != nil {
		t.Fatalf("create payment failed: %v", err)
	}
	if created.Reused {
		t.Fatalf("fresh order must not reuse a payment")
	}
	if created.SessionToken == "" {
		t.Fatalf("expected hosted checkout session token")
	}
	if created.Payment.Status != constants.PaymentStatusPending {
		t.Fatalf("expected pending payment, got %s", created.Payment.Status)
	}
	if created.Payment.ProviderRef != created.Payment.PaymentNo {
		t.Fatalf("provider ref %q should equal payment no %q", created.Payment.ProviderRef, created.Payment.PaymentNo)
	}

	// 回跳时远端仍为 ACTIVE，只刷新会话令牌不动状态
	_, transition, err := paymentSvc.ValidateReturn(nil, created.Payment.PaymentNo, "sid-1")
	if err != nil {
		t.Fatalf("validate return failed: %v", err)
	}
	if transition.Kind != TransitionAwaitRedirect {
		t.Fatalf("expected await_redirect while remote is active, got %s", transition.Kind)
	}

	fake.setStatus(created.Payment.ProviderRef, "PAID", "500.00")
	body := successWebhookBody(created.Payment.ProviderRef, "rp_123", "500.00")
	if err := paymentSvc.HandleCashfreeWebhook(WebhookCallbackInput{
		Headers: signWebhook("cf_secret", body),
		Body:    body,
	}); err != nil {
		t.Fatalf("webhook handling failed: %v", err)
	}

	payment, err := paymentSvc.GetPaymentByNo(created.Payment.PaymentNo)
	if err != nil {
		t.Fatalf("reload payment failed: %v", err)
	}
	if payment.Status != constants.PaymentStatusSuccess {
		t.Fatalf("expected payment success, got %s", payment.Status)
	}
	reloaded, err := orderSvc.GetOrder(order.ID)
	if err != nil {
		t.Fatalf("reload order failed: %v", err)
	}
	if reloaded.Status != constants.OrderStatusPaid {
		t.Fatalf("expected order paid, got %s", reloaded.Status)
	}
	if reloaded.PaidAt == nil {
		t.Fatalf("expected paid_at to be set")
	}

	var eventCount int64
	if err := db.Model(&models.PaymentWebhookEvent{}).Count(&eventCount).Error; err != nil {
		t.Fatalf("count events failed: %v", err)
	}
	if eventCount != 1 {
		t.Fatalf("expected one webhook event row, got %d", eventCount)
	}
}

func TestWebhookReplayIsAbsorbedByFence(t *testing.T) {
	paymentSvc, orderSvc, fake, db := setupPaymentServiceTest(t)
	order := createTestOrder(t, orderSvc, "500.00", 1)
	created, err := paymentSvc.CreatePayment(CreatePaymentInput{OrderNo: order.OrderNo, CheckoutSID: "sid-1"})
	if err != nil {
		t.Fatalf("create payment failed: %v", err)
	}
	fake.setStatus(created.Payment.ProviderRef, "PAID", "500.00")

	body := successWebhookBody(created.Payment.ProviderRef, "rp_123", "500.00")
	for i := 0; i < 3; i++ {
		if err := paymentSvc.HandleCashfreeWebhook(WebhookCallbackInput{
			Headers: signWebhook("cf_secret", body),
			Body:    body,
		}); err != nil {
			t.Fatalf("delivery %d failed: %v", i+1, err)
		}
	}

	var eventCount int64
	if err := db.Model(&models.PaymentWebhookEvent{}).Count(&eventCount).Error; err != nil {
		t.Fatalf("count events failed: %v", err)
	}
	if eventCount != 1 {
		t.Fatalf("replays must not add event rows, got %d", eventCount)
	}
	payment, _ := paymentSvc.GetPaymentByNo(created.Payment.PaymentNo)
	if payment.Status != constants.PaymentStatusSuccess {
		t.Fatalf("expected payment success after replays, got %s", payment.Status)
	}
}

func TestWebhookSignatureFailureIsRejected(t *testing.T) {
	paymentSvc, orderSvc, _, db := setupPaymentServiceTest(t)
	order := createTestOrder(t, orderSvc, "500.00", 1)
	created, err := paymentSvc.CreatePayment(CreatePaymentInput{OrderNo: order.OrderNo, CheckoutSID: "sid-1"})
	if err != nil {
		t.Fatalf("create payment failed: %v", err)
	}

	body := successWebhookBody(created.Payment.ProviderRef, "rp_123", "500.00")
	err = paymentSvc.HandleCashfreeWebhook(WebhookCallbackInput{
		Headers: signWebhook("wrong_secret", body),
		Body:    body,
	})
	if !errors.Is(err, ErrPaymentSignatureInvalid) {
		t.Fatalf("expected signature error, got %v", err)
	}

	var eventCount int64
	if err := db.Model(&models.PaymentWebhookEvent{}).Count(&eventCount).Error; err != nil {
		t.Fatalf("count events failed: %v", err)
	}
	if eventCount != 0 {
		t.Fatalf("unverified webhook must not persist events, got %d", eventCount)
	}
}

func TestWebhookNonSuccessEventIgnored(t *testing.T) {
	paymentSvc, orderSvc, _, db := setupPaymentServiceTest(t)
	order := createTestOrder(t, orderSvc, "500.00", 1)
	created, err := paymentSvc.CreatePayment(CreatePaymentInput{OrderNo: order.OrderNo, CheckoutSID: "sid-1"})
	if err != nil {
		t.Fatalf("create payment failed: %v", err)
	}

	body, _ := json.Marshal(map[string]interface{}{
		"type": "PAYMENT_USER_DROPPED_WEBHOOK",
		"data": map[string]interface{}{
			"order":   map[string]interface{}{"order_id": created.Payment.ProviderRef},
			"payment": map[string]interface{}{"cf_payment_id": "rp_777", "payment_status": "USER_DROPPED"},
		},
	})
	if err := paymentSvc.HandleCashfreeWebhook(WebhookCallbackInput{
		Headers: signWebhook("cf_secret", body),
		Body:    body,
	}); err != nil {
		t.Fatalf("non-success event must be acknowledged, got %v", err)
	}

	var eventCount int64
	if err := db.Model(&models.PaymentWebhookEvent{}).Count(&eventCount).Error; err != nil {
		t.Fatalf("count events failed: %v", err)
	}
	if eventCount != 0 {
		t.Fatalf("ignored events must not pass the fence, got %d", eventCount)
	}
	payment, _ := paymentSvc.GetPaymentByNo(created.Payment.PaymentNo)
	if payment.Status != constants.PaymentStatusPending {
		t.Fatalf("payment must stay pending, got %s", payment.Status)
	}
}

func TestValidateReturnSessionMismatch(t *testing.T) {
	paymentSvc, orderSvc, _, _ := setupPaymentServiceTest(t)
	order := createTestOrder(t, orderSvc, "500.00", 1)
	created, err := paymentSvc.CreatePayment(CreatePaymentInput{OrderNo: order.OrderNo, CheckoutSID: "sid-1"})
	if err != nil {
		t.Fatalf("create payment failed: %v", err)
	}

	_, _, err = paymentSvc.ValidateReturn(nil, created.Payment.PaymentNo, "sid-2")
	if !errors.Is(err, ErrPaymentSessionMismatch) {
		t.Fatalf("expected session mismatch, got %v", err)
	}

	// 原会话仍可恢复继续
	_, transition, err := paymentSvc.ValidateReturn(nil, created.Payment.PaymentNo, "sid-1")
	if err != nil {
		t.Fatalf("original session must still work: %v", err)
	}
	if transition.Kind != TransitionAwaitRedirect {
		t.Fatalf("expected await_redirect, got %s", transition.Kind)
	}
}

func TestAmountMismatchNeverConfirms(t *testing.T) {
	paymentSvc, orderSvc, fake, _ := setupPaymentServiceTest(t)
	order := createTestOrder(t, orderSvc, "100.00", 1)
	created, err := paymentSvc.CreatePayment(CreatePaymentInput{OrderNo: order.OrderNo, CheckoutSID: "sid-1"})
	if err != nil {
		t.Fatalf("create payment failed: %v", err)
	}

	fake.setStatus(created.Payment.ProviderRef, "PAID", "99.00")
	payment, _ := paymentSvc.GetPaymentByNo(created.Payment.PaymentNo)
	transition, err := paymentSvc.SyncPaymentFromRemote(nil, payment)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if transition.Kind != TransitionReject {
		t.Fatalf("expected reject on amount mismatch, got %s", transition.Kind)
	}

	reloadedPayment, _ := paymentSvc.GetPaymentByNo(created.Payment.PaymentNo)
	if reloadedPayment.Status != constants.PaymentStatusFailed {
		t.Fatalf("expected failed payment, got %s", reloadedPayment.Status)
	}
	reloadedOrder, _ := orderSvc.GetOrder(order.ID)
	if reloadedOrder.Status != constants.OrderStatusPendingPayment {
		t.Fatalf("order must never be confirmed on mismatch, got %s", reloadedOrder.Status)
	}
}

func TestCreatePaymentReusesPendingPayment(t *testing.T) {
	paymentSvc, orderSvc, _, _ := setupPaymentServiceTest(t)
	order := createTestOrder(t, orderSvc, "500.00", 1)

	first, err := paymentSvc.CreatePayment(CreatePaymentInput{OrderNo: order.OrderNo, CheckoutSID: "sid-1"})
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	second, err := paymentSvc.CreatePayment(CreatePaymentInput{OrderNo: order.OrderNo, CheckoutSID: "sid-2"})
	if err != nil {
		t.Fatalf("second create failed: %v", err)
	}
	if !second.Reused {
		t.Fatalf("expected second attempt to reuse pending payment")
	}
	if second.Payment.PaymentNo != first.Payment.PaymentNo {
		t.Fatalf("expected same payment, got %s then %s", first.Payment.PaymentNo, second.Payment.PaymentNo)
	}
}

func TestRemoteOrderMissingStaysPendingWithinExpiry(t *testing.T) {
	paymentSvc, orderSvc, fake, db := setupPaymentServiceTest(t)
	order := createTestOrder(t, orderSvc, "500.00", 1)
	created, err := paymentSvc.CreatePayment(CreatePaymentInput{OrderNo: order.OrderNo, CheckoutSID: "sid-1"})
	if err != nil {
		t.Fatalf("create payment failed: %v", err)
	}

	fake.mu.Lock()
	delete(fake.orders, created.Payment.ProviderRef)
	fake.mu.Unlock()

	// 有效期内远端不可见只等待，交给轮询重试
	payment, _ := paymentSvc.GetPaymentByNo(created.Payment.PaymentNo)
	transition, err := paymentSvc.SyncPaymentFromRemote(nil, payment)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if transition.Kind != TransitionNoOp {
		t.Fatalf("missing remote order within expiry must wait, got %s", transition.Kind)
	}
	reloaded, _ := paymentSvc.GetPaymentByNo(created.Payment.PaymentNo)
	if reloaded.Status != constants.PaymentStatusPending {
		t.Fatalf("payment must stay pending, got %s", reloaded.Status)
	}

	// 有效期过后仍查不到才终态失败
	past := time.Now().Add(-time.Minute)
	if err := db.Model(&models.Payment{}).
		Where("payment_no = ?", created.Payment.PaymentNo).
		Update("expired_at", past).Error; err != nil {
		t.Fatalf("expire payment failed: %v", err)
	}
	payment, _ = paymentSvc.GetPaymentByNo(created.Payment.PaymentNo)
	transition, err = paymentSvc.SyncPaymentFromRemote(nil, payment)
	if err != nil {
		t.Fatalf("sync after expiry failed: %v", err)
	}
	if transition.Kind != TransitionFail {
		t.Fatalf("expected fail for expired missing remote order, got %s", transition.Kind)
	}
	reloaded, _ = paymentSvc.GetPaymentByNo(created.Payment.PaymentNo)
	if reloaded.Status != constants.PaymentStatusFailed {
		t.Fatalf("expected failed payment after expiry, got %s", reloaded.Status)
	}
}

func TestStaleSnapshotCannotDowngradeConfirmedPayment(t *testing.T) {
	paymentSvc, orderSvc, fake, _ := setupPaymentServiceTest(t)
	order := createTestOrder(t, orderSvc, "500.00", 1)
	created, err := paymentSvc.CreatePayment(CreatePaymentInput{OrderNo: order.OrderNo, CheckoutSID: "sid-1"})
	if err != nil {
		t.Fatalf("create payment failed: %v", err)
	}

	// 回跳/轮询一侧先读到待支付快照
	stale, err := paymentSvc.GetPaymentByNo(created.Payment.PaymentNo)
	if err != nil {
		t.Fatalf("load snapshot failed: %v", err)
	}

	// Webhook 一侧抢先确认
	fake.setStatus(created.Payment.ProviderRef, "PAID", "500.00")
	body := successWebhookBody(created.Payment.ProviderRef, "rp_123", "500.00")
	if err := paymentSvc.HandleCashfreeWebhook(WebhookCallbackInput{
		Headers: signWebhook("cf_secret", body),
		Body:    body,
	}); err != nil {
		t.Fatalf("webhook handling failed: %v", err)
	}

	// 过期快照随后带着一次 404 终态决策落库
	fake.mu.Lock()
	delete(fake.orders, created.Payment.ProviderRef)
	fake.mu.Unlock()
	past := time.Now().Add(-time.Minute)
	stale.ExpiredAt = &past

	transition, err := paymentSvc.SyncPaymentFromRemote(nil, stale)
	if err != nil {
		t.Fatalf("sync on stale snapshot failed: %v", err)
	}
	if transition.Kind != TransitionNoOp {
		t.Fatalf("stale decision must be discarded, got %s", transition.Kind)
	}
	if stale.Status != constants.PaymentStatusSuccess {
		t.Fatalf("snapshot must refresh to persisted state, got %s", stale.Status)
	}

	reloaded, _ := paymentSvc.GetPaymentByNo(created.Payment.PaymentNo)
	if reloaded.Status != constants.PaymentStatusSuccess {
		t.Fatalf("confirmed payment must never be downgraded, got %s", reloaded.Status)
	}
	reloadedOrder, _ := orderSvc.GetOrder(order.ID)
	if reloadedOrder.Status != constants.OrderStatusPaid {
		t.Fatalf("paid order must stay paid, got %s", reloadedOrder.Status)
	}
}

func TestStaleSnapshotRejectCannotDowngradeConfirmedPayment(t *testing.T) {
	paymentSvc, orderSvc, fake, _ := setupPaymentServiceTest(t)
	order := createTestOrder(t, orderSvc, "500.00", 1)
	created, err := paymentSvc.CreatePayment(CreatePaymentInput{OrderNo: order.OrderNo, CheckoutSID: "sid-1"})
	if err != nil {
		t.Fatalf("create payment failed: %v", err)
	}

	stale, err := paymentSvc.GetPaymentByNo(created.Payment.PaymentNo)
	if err != nil {
		t.Fatalf("load snapshot failed: %v", err)
	}

	fake.setStatus(created.Payment.ProviderRef, "PAID", "500.00")
	body := successWebhookBody(created.Payment.ProviderRef, "rp_123", "500.00")
	if err := paymentSvc.HandleCashfreeWebhook(WebhookCallbackInput{
		Headers: signWebhook("cf_secret", body),
		Body:    body,
	}); err != nil {
		t.Fatalf("webhook handling failed: %v", err)
	}

	// 远端金额随后被改动，过期快照会产出拒绝决策
	fake.setStatus(created.Payment.ProviderRef, "PAID", "1.00")
	transition, err := paymentSvc.SyncPaymentFromRemote(nil, stale)
	if err != nil {
		t.Fatalf("sync on stale snapshot failed: %v", err)
	}
	if transition.Kind != TransitionNoOp {
		t.Fatalf("stale reject must be discarded, got %s", transition.Kind)
	}

	reloaded, _ := paymentSvc.GetPaymentByNo(created.Payment.PaymentNo)
	if reloaded.Status != constants.PaymentStatusSuccess {
		t.Fatalf("confirmed payment must never be downgraded, got %s", reloaded.Status)
	}
}
