package public

import (
	"errors"
	"io"
	"net/http"

	handlershared "github.com/tickets-next/internal/http/handlers/shared"
	"github.com/tickets-next/internal/service"

	"github.com/gin-gonic/gin"
)

const webhookBodyLimit = 1 << 20

// CashfreeWebhook 接收 Cashfree 异步通知
// 签名校验失败返回 401；签名通过后无论对账结果如何都确认接收，
// 避免网关对已入库事件反复重投。
func (h *Handler) CashfreeWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, webhookBodyLimit))
	if err != nil {
		c.String(http.StatusBadRequest, "read body failed")
		return
	}

	headers := make(map[string]string, len(c.Request.Header))
	for key := range c.Request.Header {
		headers[key] = c.GetHeader(key)
	}

	handlershared.RequestLog(c).Infow("payment_webhook_received",
		"provider", "cashfree",
		"body_size", len(body),
	)

	err = h.PaymentService.HandleCashfreeWebhook(service.WebhookCallbackInput{
		Headers: headers,
		Body:    body,
		Context: c.Request.Context(),
	})
	if err != nil {
		if errors.Is(err, service.ErrPaymentSignatureInvalid) {
			c.String(http.StatusUnauthorized, "signature verification failed")
			return
		}
		// 配置类错误同样不能让网关认为投递成功
		c.String(http.StatusInternalServerError, "webhook processing unavailable")
		return
	}
	c.String(http.StatusOK, "ok")
}
