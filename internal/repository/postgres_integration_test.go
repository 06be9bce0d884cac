//go:build integration
// +build integration

package repository

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/tickets-next/internal/constants"
	"github.com/tickets-next/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// setupPostgresIntegrationDB 初始化 PostgreSQL 集成测试数据库。
func setupPostgresIntegrationDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("skip postgres integration test: TEST_POSTGRES_DSN is empty")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open postgres failed: %v", err)
	}

	cleanupModels := []interface{}{
		&models.PaymentWebhookEvent{},
		&models.PaymentReference{},
		&models.Payment{},
		&models.Order{},
	}
	_ = db.Migrator().DropTable(cleanupModels...)

	if err := db.AutoMigrate(
		&models.Order{},
		&models.Payment{},
		&models.PaymentReference{},
		&models.PaymentWebhookEvent{},
	); err != nil {
		t.Fatalf("migrate postgres models failed: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Migrator().DropTable(cleanupModels...)
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})

	return db
}

func TestPostgresWebhookEventFence(t *testing.T) {
	db := setupPostgresIntegrationDB(t)
	eventRepo := NewPaymentWebhookEventRepository(db)

	event := &models.PaymentWebhookEvent{
		RemotePaymentID: "pg_rp_001",
		EventType:       "PAYMENT_SUCCESS_WEBHOOK",
		OrderNo:         "PG-TN-001",
		PaymentStatus:   "SUCCESS",
		Payload:         models.JSON{"type": "PAYMENT_SUCCESS_WEBHOOK"},
	}
	inserted, err := eventRepo.InsertIfAbsent(event)
	if err != nil {
		t.Fatalf("insert event failed: %v", err)
	}
	if !inserted {
		t.Fatalf("first insert should report inserted")
	}

	inserted, err = eventRepo.InsertIfAbsent(&models.PaymentWebhookEvent{
		RemotePaymentID: "pg_rp_001",
		EventType:       "PAYMENT_SUCCESS_WEBHOOK",
		OrderNo:         "PG-TN-001",
		PaymentStatus:   "SUCCESS",
	})
	if err != nil {
		t.Fatalf("replay insert failed: %v", err)
	}
	if inserted {
		t.Fatalf("replay should be absorbed by unique index")
	}

	var count int64
	if err := db.Model(&models.PaymentWebhookEvent{}).Where("remote_payment_id = ?", "pg_rp_001").Count(&count).Error; err != nil {
		t.Fatalf("count events failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("want single event row, got %d", count)
	}
}

func TestPostgresOrderAndPaymentListFilters(t *testing.T) {
	db := setupPostgresIntegrationDB(t)
	orderRepo := NewOrderRepository(db)
	paymentRepo := NewPaymentRepository(db)
	now := time.Now().UTC().Truncate(time.Second)

	order := &models.Order{
		OrderNo:       "PG-TK-001",
		EventName:     "Classical Evening",
		TicketType:    "Balcony",
		Quantity:      1,
		UnitPrice:     models.NewMoneyFromDecimal(decimal.NewFromInt(1200)),
		TotalAmount:   models.NewMoneyFromDecimal(decimal.NewFromInt(1200)),
		Currency:      "INR",
		Status:        constants.OrderStatusPendingPayment,
		CustomerEmail: "pg_buyer@example.com",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := orderRepo.Create(order); err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	payment := &models.Payment{
		PaymentNo:       "PG-TN-001",
		OrderID:         order.ID,
		OrderNo:         order.OrderNo,
		ProviderType:    constants.PaymentProviderCashfree,
		InteractionMode: constants.PaymentInteractionRedirect,
		Amount:          order.TotalAmount,
		Currency:        order.Currency,
		Status:          constants.PaymentStatusPending,
		ProviderRef:     "PG-TN-001",
		ProviderPayload: models.JSON{"order_status": "ACTIVE"},
		CreatedAt:       now,
	}
	if err := paymentRepo.Create(payment); err != nil {
		t.Fatalf("create payment failed: %v", err)
	}

	orders, total, err := orderRepo.ListAdmin(OrderListFilter{
		Page:     1,
		PageSize: 10,
		Email:    "pg_buyer@example.com",
		Status:   constants.OrderStatusPendingPayment,
	})
	if err != nil {
		t.Fatalf("list orders failed: %v", err)
	}
	if total != 1 || len(orders) != 1 || orders[0].OrderNo != "PG-TK-001" {
		t.Fatalf("want order PG-TK-001, got total=%d rows=%+v", total, orders)
	}

	payments, total, err := paymentRepo.ListAdmin(PaymentListFilter{
		Page:        1,
		PageSize:    10,
		ProviderRef: "PG-TN-001",
	})
	if err != nil {
		t.Fatalf("list payments failed: %v", err)
	}
	if total != 1 || len(payments) != 1 || payments[0].PaymentNo != "PG-TN-001" {
		t.Fatalf("want payment PG-TN-001, got total=%d rows=%+v", total, payments)
	}

	// JSON 字段在 postgres 下应可正常读回
	got, err := paymentRepo.GetByPaymentNo("PG-TN-001")
	if err != nil {
		t.Fatalf("get payment failed: %v", err)
	}
	if got == nil || got.ProviderPayload["order_status"] != "ACTIVE" {
		t.Fatalf("want provider payload round-trip, got %+v", got)
	}
}
