package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/tickets-next/internal/constants"
	"github.com/tickets-next/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func setupPaymentRepositoryTest(t *testing.T) (*GormPaymentRepository, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:payment_repo_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Order{},
		&models.Payment{},
		&models.PaymentReference{},
		&models.PaymentWebhookEvent{},
	); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	return NewPaymentRepository(db), db
}

func createTestOrder(t *testing.T, db *gorm.DB, orderNo string) *models.Order {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	order := &models.Order{
		OrderNo:       orderNo,
		EventName:     "Indie Night Live",
		TicketType:    "GA",
		Quantity:      2,
		UnitPrice:     models.NewMoneyFromDecimal(decimal.NewFromInt(250)),
		TotalAmount:   models.NewMoneyFromDecimal(decimal.NewFromInt(500)),
		Currency:      "INR",
		Status:        constants.OrderStatusPendingPayment,
		CustomerEmail: "buyer@example.com",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	return order
}

func TestPaymentRepositoryGetLatestPendingByOrder(t *testing.T) {
	repo, db := setupPaymentRepositoryTest(t)
	order := createTestOrder(t, db, "TKPAYREPO001")
	now := time.Now().UTC()
	future := now.Add(30 * time.Minute)
	past := now.Add(-time.Minute)

	// 无 session_token 的记录不可复用
	withoutSession := models.Payment{
		PaymentNo:       "TNREPO001",
		OrderID:         order.ID,
		OrderNo:         order.OrderNo,
		ProviderType:    constants.PaymentProviderCashfree,
		InteractionMode: constants.PaymentInteractionRedirect,
		Amount:          order.TotalAmount,
		Currency:        order.Currency,
		Status:          constants.PaymentStatusInitiated,
		ExpiredAt:       &future,
	}
	if err := repo.Create(&withoutSession); err != nil {
		t.Fatalf("create payment failed: %v", err)
	}

	got, err := repo.GetLatestPendingByOrder(order.ID, now)
	if err != nil {
		t.Fatalf("get latest pending failed: %v", err)
	}
	if got != nil {
		t.Fatalf("payment without session token should not be reusable, got %+v", got)
	}

	expired := models.Payment{
		PaymentNo:       "TNREPO002",
		OrderID:         order.ID,
		OrderNo:         order.OrderNo,
		ProviderType:    constants.PaymentProviderCashfree,
		InteractionMode: constants.PaymentInteractionRedirect,
		Amount:          order.TotalAmount,
		Currency:        order.Currency,
		Status:          constants.PaymentStatusPending,
		SessionToken:    "session_expired",
		ExpiredAt:       &past,
	}
	if err := repo.Create(&expired); err != nil {
		t.Fatalf("create payment failed: %v", err)
	}

	got, err = repo.GetLatestPendingByOrder(order.ID, now)
	if err != nil {
		t.Fatalf("get latest pending failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expired payment should not be reusable, got %+v", got)
	}

	reusable := models.Payment{
		PaymentNo:       "TNREPO003",
		OrderID:         order.ID,
		OrderNo:         order.OrderNo,
		ProviderType:    constants.PaymentProviderCashfree,
		InteractionMode: constants.PaymentInteractionRedirect,
		Amount:          order.TotalAmount,
		Currency:        order.Currency,
		Status:          constants.PaymentStatusPending,
		SessionToken:    "session_live",
		ProviderRef:     "TNREPO003",
		ExpiredAt:       &future,
	}
	if err := repo.Create(&reusable); err != nil {
		t.Fatalf("create payment failed: %v", err)
	}

	got, err = repo.GetLatestPendingByOrder(order.ID, now)
	if err != nil {
		t.Fatalf("get latest pending failed: %v", err)
	}
	if got == nil || got.PaymentNo != "TNREPO003" {
		t.Fatalf("want reusable payment TNREPO003, got %+v", got)
	}
}

func TestPaymentRepositoryListPendingCreatedBefore(t *testing.T) {
	repo, db := setupPaymentRepositoryTest(t)
	order := createTestOrder(t, db, "TKPAYREPO002")
	now := time.Now().UTC()

	rows := []models.Payment{
		{
			PaymentNo:       "TNSWEEP001",
			OrderID:         order.ID,
			OrderNo:         order.OrderNo,
			ProviderType:    constants.PaymentProviderCashfree,
			InteractionMode: constants.PaymentInteractionRedirect,
			Amount:          order.TotalAmount,
			Currency:        order.Currency,
			Status:          constants.PaymentStatusPending,
			ProviderRef:     "TNSWEEP001",
			CreatedAt:       now.Add(-10 * time.Minute),
		},
		{
			// 尚未拿到远端订单号，轮询无从查询
			PaymentNo:       "TNSWEEP002",
			OrderID:         order.ID,
			OrderNo:         order.OrderNo,
			ProviderType:    constants.PaymentProviderCashfree,
			InteractionMode: constants.PaymentInteractionRedirect,
			Amount:          order.TotalAmount,
			Currency:        order.Currency,
			Status:          constants.PaymentStatusInitiated,
			CreatedAt:       now.Add(-10 * time.Minute),
		},
		{
			PaymentNo:       "TNSWEEP003",
			OrderID:         order.ID,
			OrderNo:         order.OrderNo,
			ProviderType:    constants.PaymentProviderCashfree,
			InteractionMode: constants.PaymentInteractionRedirect,
			Amount:          order.TotalAmount,
			Currency:        order.Currency,
			Status:          constants.PaymentStatusSuccess,
			ProviderRef:     "TNSWEEP003",
			CreatedAt:       now.Add(-10 * time.Minute),
		},
		{
			PaymentNo:       "TNSWEEP004",
			OrderID:         order.ID,
			OrderNo:         order.OrderNo,
			ProviderType:    constants.PaymentProviderCashfree,
			InteractionMode: constants.PaymentInteractionRedirect,
			Amount:          order.TotalAmount,
			Currency:        order.Currency,
			Status:          constants.PaymentStatusPending,
			ProviderRef:     "TNSWEEP004",
			CreatedAt:       now,
		},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("create payment failed: %v", err)
		}
	}

	got, err := repo.ListPendingCreatedBefore(now.Add(-2*time.Minute), 50)
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	if len(got) != 1 || got[0].PaymentNo != "TNSWEEP001" {
		t.Fatalf("want only TNSWEEP001, got %+v", got)
	}
}

func TestPaymentRepositoryListAdminFilters(t *testing.T) {
	repo, db := setupPaymentRepositoryTest(t)
	order := createTestOrder(t, db, "TKPAYREPO003")
	now := time.Now().UTC()

	statuses := []string{
		constants.PaymentStatusSuccess,
		constants.PaymentStatusFailed,
		constants.PaymentStatusSuccess,
	}
	for i, status := range statuses {
		payment := models.Payment{
			PaymentNo:       fmt.Sprintf("TNADMIN%03d", i+1),
			OrderID:         order.ID,
			OrderNo:         order.OrderNo,
			ProviderType:    constants.PaymentProviderCashfree,
			InteractionMode: constants.PaymentInteractionRedirect,
			Amount:          order.TotalAmount,
			Currency:        order.Currency,
			Status:          status,
			ProviderRef:     fmt.Sprintf("TNADMIN%03d", i+1),
			CreatedAt:       now,
		}
		if err := db.Create(&payment).Error; err != nil {
			t.Fatalf("create payment failed: %v", err)
		}
	}

	got, total, err := repo.ListAdmin(PaymentListFilter{
		Page:     1,
		PageSize: 10,
		OrderNo:  order.OrderNo,
		Status:   constants.PaymentStatusSuccess,
	})
	if err != nil {
		t.Fatalf("list admin failed: %v", err)
	}
	if total != 2 || len(got) != 2 {
		t.Fatalf("want 2 success payments, got total=%d len=%d", total, len(got))
	}

	got, total, err = repo.ListAdmin(PaymentListFilter{
		Page:        1,
		PageSize:    10,
		ProviderRef: "TNADMIN002",
	})
	if err != nil {
		t.Fatalf("list admin by provider_ref failed: %v", err)
	}
	if total != 1 || len(got) != 1 || got[0].Status != constants.PaymentStatusFailed {
		t.Fatalf("want failed payment TNADMIN002, got total=%d rows=%+v", total, got)
	}
}

func TestPaymentReferenceRepositoryUpsert(t *testing.T) {
	_, db := setupPaymentRepositoryTest(t)
	refRepo := NewPaymentReferenceRepository(db)

	if err := refRepo.Upsert("TNREF001", nil); err != nil {
		t.Fatalf("upsert without payment id failed: %v", err)
	}

	paymentID := uint(42)
	if err := refRepo.Upsert("TNREF001", &paymentID); err != nil {
		t.Fatalf("upsert with payment id failed: %v", err)
	}

	row, err := refRepo.Lookup("TNREF001")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if row == nil || row.PaymentID == nil || *row.PaymentID != paymentID {
		t.Fatalf("want payment id %d bound, got %+v", paymentID, row)
	}

	var count int64
	if err := db.Model(&models.PaymentReference{}).Where("reference = ?", "TNREF001").Count(&count).Error; err != nil {
		t.Fatalf("count references failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("want single reference row, got %d", count)
	}
}

func TestWebhookEventRepositoryInsertIfAbsent(t *testing.T) {
	_, db := setupPaymentRepositoryTest(t)
	eventRepo := NewPaymentWebhookEventRepository(db)

	event := &models.PaymentWebhookEvent{
		RemotePaymentID: "rp_123",
		EventType:       "PAYMENT_SUCCESS_WEBHOOK",
		OrderNo:         "TNFENCE001",
		PaymentStatus:   "SUCCESS",
	}
	inserted, err := eventRepo.InsertIfAbsent(event)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if !inserted {
		t.Fatalf("first insert should report inserted")
	}

	replay := &models.PaymentWebhookEvent{
		RemotePaymentID: "rp_123",
		EventType:       "PAYMENT_SUCCESS_WEBHOOK",
		OrderNo:         "TNFENCE001",
		PaymentStatus:   "SUCCESS",
	}
	inserted, err = eventRepo.InsertIfAbsent(replay)
	if err != nil {
		t.Fatalf("replay insert failed: %v", err)
	}
	if inserted {
		t.Fatalf("replay should not report inserted")
	}

	var count int64
	if err := db.Model(&models.PaymentWebhookEvent{}).Where("remote_payment_id = ?", "rp_123").Count(&count).Error; err != nil {
		t.Fatalf("count events failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("want single event row, got %d", count)
	}

	inserted, err = eventRepo.InsertIfAbsent(&models.PaymentWebhookEvent{RemotePaymentID: "  "})
	if err != nil {
		t.Fatalf("blank remote payment id insert failed: %v", err)
	}
	if inserted {
		t.Fatalf("blank remote payment id should be ignored")
	}
}
