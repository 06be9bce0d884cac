package public

import (
	"github.com/tickets-next/internal/http/response"
	"github.com/tickets-next/internal/service"

	"github.com/gin-gonic/gin"
)

// CreatePayment 为待支付订单发起 Cashfree 托管支付
func (h *Handler) CreatePayment(c *gin.Context) {
	orderNo := c.Param("order_no")
	if orderNo == "" {
		respondError(c, response.CodeBadRequest, "order no required", nil)
		return
	}

	sid := ensureCheckoutSID(c)
	result, err := h.PaymentService.CreatePayment(service.CreatePaymentInput{
		OrderNo:     orderNo,
		CheckoutSID: sid,
		ClientIP:    c.ClientIP(),
		Context:     c.Request.Context(),
	})
	if err != nil {
		respondPaymentCreateError(c, err)
		return
	}

	response.Success(c, gin.H{
		"payment_no":       result.Payment.PaymentNo,
		"order_no":         result.Payment.OrderNo,
		"provider_type":    result.Payment.ProviderType,
		"interaction_mode": result.Payment.InteractionMode,
		"amount":           result.Payment.Amount,
		"currency":         result.Payment.Currency,
		"session_token":    result.SessionToken,
		"redirect_url":     result.RedirectURL,
		"reused":           result.Reused,
		"expires_at":       result.Payment.ExpiredAt,
	})
}
