package public

import (
	"errors"

	"github.com/tickets-next/internal/http/response"
	"github.com/tickets-next/internal/models"
	"github.com/tickets-next/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// CreateOrderRequest 创建票务订单请求
type CreateOrderRequest struct {
	EventName     string `json:"event_name" binding:"required"`
	TicketType    string `json:"ticket_type" binding:"required"`
	Quantity      int    `json:"quantity" binding:"required,min=1"`
	UnitPrice     string `json:"unit_price" binding:"required"`
	Currency      string `json:"currency"`
	CustomerEmail string `json:"customer_email" binding:"required,email"`
	CustomerPhone string `json:"customer_phone"`
}

// CreateOrder 创建待支付票务订单
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "bad request", err)
		return
	}
	unitPrice, err := decimal.NewFromString(req.UnitPrice)
	if err != nil {
		respondError(c, response.CodeBadRequest, "unit price invalid", nil)
		return
	}

	order, err := h.OrderService.CreateOrder(service.CreateOrderInput{
		EventName:     req.EventName,
		TicketType:    req.TicketType,
		Quantity:      req.Quantity,
		UnitPrice:     unitPrice,
		Currency:      req.Currency,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
		ClientIP:      c.ClientIP(),
	})
	if err != nil {
		respondOrderCreateError(c, err)
		return
	}
	response.Success(c, orderView(order))
}

// GetOrder 根据订单编号查询订单，回跳后的订单详情页使用
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.OrderService.GetOrderByOrderNo(c.Param("order_no"))
	if err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			respondError(c, response.CodeNotFound, "order not found", nil)
			return
		}
		respondError(c, response.CodeInternal, "order fetch failed", err)
		return
	}
	response.Success(c, orderView(order))
}

func orderView(order *models.Order) gin.H {
	view := gin.H{
		"order_no":       order.OrderNo,
		"event_name":     order.EventName,
		"ticket_type":    order.TicketType,
		"quantity":       order.Quantity,
		"unit_price":     order.UnitPrice,
		"total_amount":   order.TotalAmount,
		"currency":       order.Currency,
		"status":         order.Status,
		"customer_email": order.CustomerEmail,
		"expires_at":     order.ExpiresAt,
		"paid_at":        order.PaidAt,
		"created_at":     order.CreatedAt,
	}
	return view
}
