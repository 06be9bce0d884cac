package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/tickets-next/internal/constants"
	"github.com/tickets-next/internal/logger"
	"github.com/tickets-next/internal/models"
	"github.com/tickets-next/internal/queue"
	"github.com/tickets-next/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderService 票务订单服务
type OrderService struct {
	orderRepo     repository.OrderRepository
	queueClient   *queue.Client
	expireMinutes int
}

// NewOrderService 创建订单服务
func NewOrderService(orderRepo repository.OrderRepository, queueClient *queue.Client, expireMinutes int) *OrderService {
	return &OrderService{
		orderRepo:     orderRepo,
		queueClient:   queueClient,
		expireMinutes: expireMinutes,
	}
}

// CreateOrderInput 创建订单请求
type CreateOrderInput struct {
	EventName     string
	TicketType    string
	Quantity      int
	UnitPrice     decimal.Decimal
	Currency      string
	CustomerEmail string
	CustomerPhone string
	ClientIP      string
}

// CreateOrder 创建待支付票务订单
func (s *OrderService) CreateOrder(input CreateOrderInput) (*models.Order, error) {
	eventName := strings.TrimSpace(input.EventName)
	if eventName == "" || input.Quantity <= 0 {
		return nil, ErrOrderCreateFailed
	}
	if input.UnitPrice.IsNegative() || input.UnitPrice.IsZero() {
		return nil, ErrOrderCreateFailed
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = constants.SiteCurrencyDefault
	}

	now := time.Now()
	expiresAt := now.Add(time.Duration(s.resolveExpireMinutes()) * time.Minute)
	total := input.UnitPrice.Mul(decimal.NewFromInt(int64(input.Quantity)))

	order := &models.Order{
		OrderNo:       generateOrderNo(),
		EventName:     eventName,
		TicketType:    strings.TrimSpace(input.TicketType),
		Quantity:      input.Quantity,
		UnitPrice:     models.NewMoneyFromDecimal(input.UnitPrice),
		TotalAmount:   models.NewMoneyFromDecimal(total),
		Currency:      currency,
		Status:        constants.OrderStatusPendingPayment,
		CustomerEmail: strings.ToLower(strings.TrimSpace(input.CustomerEmail)),
		CustomerPhone: strings.TrimSpace(input.CustomerPhone),
		ClientIP:      strings.TrimSpace(input.ClientIP),
		ExpiresAt:     &expiresAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.orderRepo.Create(order); err != nil {
		logger.SW("order_no", order.OrderNo).Errorw("order_create_failed", "error", err)
		return nil, ErrOrderCreateFailed
	}

	if s.queueClient != nil && s.queueClient.Enabled() {
		delay := time.Until(expiresAt) + time.Minute
		if err := s.queueClient.EnqueueOrderTimeoutCancel(queue.OrderTimeoutCancelPayload{OrderID: order.ID}, delay); err != nil {
			logger.SW("order_no", order.OrderNo).Warnw("order_timeout_enqueue_failed", "error", err)
		}
	}

	logger.SW("order_no", order.OrderNo).Infow("order_created",
		"event_name", order.EventName,
		"quantity", order.Quantity,
		"total_amount", order.TotalAmount.String(),
	)
	return order, nil
}

// GetOrderByOrderNo 根据订单编号获取订单
func (s *OrderService) GetOrderByOrderNo(orderNo string) (*models.Order, error) {
	order, err := s.orderRepo.GetByOrderNo(strings.TrimSpace(orderNo))
	if err != nil {
		return nil, ErrOrderFetchFailed
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// GetOrder 获取订单
func (s *OrderService) GetOrder(id uint) (*models.Order, error) {
	order, err := s.orderRepo.GetByID(id)
	if err != nil {
		return nil, ErrOrderFetchFailed
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// ListOrders 管理端订单列表
func (s *OrderService) ListOrders(filter repository.OrderListFilter) ([]models.Order, int64, error) {
	return s.orderRepo.ListAdmin(filter)
}

// CancelExpiredOrder 超时关单，仅作用于仍在待支付状态的订单
func (s *OrderService) CancelExpiredOrder(orderID uint) (*models.Order, error) {
	var canceled *models.Order
	err := models.DB.Transaction(func(tx *gorm.DB) error {
		var order models.Order
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", orderID).Limit(1).Find(&order)
		if result.Error != nil {
			return ErrOrderFetchFailed
		}
		if result.RowsAffected == 0 {
			return ErrOrderNotFound
		}
		if order.Status != constants.OrderStatusPendingPayment {
			canceled = &order
			return nil
		}
		if order.ExpiresAt != nil && order.ExpiresAt.After(time.Now()) {
			canceled = &order
			return nil
		}
		now := time.Now()
		if err := s.orderRepo.WithTx(tx).UpdateStatus(order.ID, constants.OrderStatusExpired, map[string]interface{}{
			"canceled_at": now,
			"updated_at":  now,
		}); err != nil {
			return ErrOrderUpdateFailed
		}
		order.Status = constants.OrderStatusExpired
		order.CanceledAt = &now
		canceled = &order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return canceled, nil
}

// SweepExpiredOrders 批量关闭超时订单
func (s *OrderService) SweepExpiredOrders(limit int) (int, error) {
	orders, err := s.orderRepo.ListExpiredPending(time.Now(), limit)
	if err != nil {
		return 0, ErrOrderFetchFailed
	}
	closed := 0
	for idx := range orders {
		if _, err := s.CancelExpiredOrder(orders[idx].ID); err != nil {
			logger.SW("order_id", orders[idx].ID).Warnw("order_expire_sweep_failed", "error", err)
			continue
		}
		closed++
	}
	return closed, nil
}

func (s *OrderService) resolveExpireMinutes() int {
	if s.expireMinutes > 0 {
		return s.expireMinutes
	}
	return 30
}

func generateOrderNo() string {
	now := time.Now().Format("20060102150405")
	return fmt.Sprintf("TK%s%s", now, randNumericCode(6))
}
