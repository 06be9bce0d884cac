package public

import (
	"errors"
	"html/template"
	"net/http"
	"strings"

	handlershared "github.com/tickets-next/internal/http/handlers/shared"
	"github.com/tickets-next/internal/http/response"
	"github.com/tickets-next/internal/service"

	"github.com/gin-gonic/gin"
)

// 托管收银台引导页，可被嵌入 iframe，由 checkout.js 消费会话令牌
var cashfreeRedirectPage = template.Must(template.New("cashfree_redirect").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Redirecting to payment</title>
</head>
<body>
<div id="cashfree-checkout"></div>
<script src="https://sdk.cashfree.com/js/v3/cashfree.js"></script>
<script>
(function () {
  var cashfree = Cashfree({ mode: {{.Mode}} });
  cashfree.checkout({
    paymentSessionId: {{.SessionToken}},
    redirectTarget: "_self"
  });
})();
</script>
</body>
</html>
`))

// CashfreeRedirect 输出嵌入支付会话令牌的收银台引导页
func (h *Handler) CashfreeRedirect(c *gin.Context) {
	paymentNo := strings.TrimSpace(c.Query("payment"))
	if paymentNo == "" {
		respondError(c, response.CodeBadRequest, "payment no required", nil)
		return
	}

	payment, err := h.PaymentService.GetPaymentByNo(paymentNo)
	if err != nil {
		if errors.Is(err, service.ErrPaymentNotFound) {
			respondError(c, response.CodeNotFound, "payment not found", nil)
			return
		}
		respondError(c, response.CodeInternal, "payment fetch failed", err)
		return
	}
	if payment.SessionToken == "" {
		respondError(c, response.CodeBadRequest, "payment has no checkout session", nil)
		return
	}

	mode := "production"
	if h.Config != nil && h.Config.Cashfree.Sandbox {
		mode = "sandbox"
	}

	// 该页面需要在 iframe 中可用，移除全局安全中间件写入的限制头
	c.Header("X-Frame-Options", "")
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := cashfreeRedirectPage.Execute(c.Writer, gin.H{
		"Mode":         mode,
		"SessionToken": payment.SessionToken,
	}); err != nil {
		// 响应头已写出，只能记录
		handlershared.RequestLog(c).Warnw("cashfree_redirect_render_failed", "error", err)
	}
}
