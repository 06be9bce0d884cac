package public

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tickets-next/internal/constants"
	handlershared "github.com/tickets-next/internal/http/handlers/shared"
	"github.com/tickets-next/internal/service"

	"github.com/gin-gonic/gin"
)

// CashfreeReturn 托管收银台回跳入口
// 浏览器侧回跳只用于引导页面，不作为支付凭据：
// 最终状态一律以远端订单对账结果为准，并通过 302 带回标记。
func (h *Handler) CashfreeReturn(c *gin.Context) {
	paymentNo := strings.TrimSpace(c.Query("payment"))
	log := handlershared.RequestLog(c)
	if paymentNo == "" {
		log.Warnw("payment_return_missing_payment_no")
		c.Redirect(http.StatusFound, "/")
		return
	}

	sid := currentCheckoutSID(c)
	payment, transition, err := h.PaymentService.ValidateReturn(c.Request.Context(), paymentNo, sid)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPaymentSessionMismatch):
			// 换了浏览器或会话过期，可重新发起，不视为支付失败
			c.Redirect(http.StatusFound, payStepURL(payment.OrderNo, constants.ReturnCodeSessionMismatch))
		case errors.Is(err, service.ErrPaymentNotFound):
			c.Redirect(http.StatusFound, "/")
		default:
			log.Warnw("payment_return_reconcile_failed", "payment_no", paymentNo, "error", err)
			orderNo := ""
			if payment != nil {
				orderNo = payment.OrderNo
			}
			c.Redirect(http.StatusFound, payStepURL(orderNo, constants.ReturnCodeUnknown))
		}
		return
	}

	switch transition.Kind {
	case service.TransitionConfirm, service.TransitionNoOp:
		if payment.Status == constants.PaymentStatusSuccess {
			c.Redirect(http.StatusFound, orderDetailPaidURL(payment.OrderNo))
			return
		}
		c.Redirect(http.StatusFound, payStepURL(payment.OrderNo, constants.ReturnCodePending))
	case service.TransitionAwaitRedirect:
		c.Redirect(http.StatusFound, payStepURL(payment.OrderNo, constants.ReturnCodePending))
	case service.TransitionReject:
		c.Redirect(http.StatusFound, payStepURL(payment.OrderNo, rejectReturnCode(transition)))
	default:
		c.Redirect(http.StatusFound, payStepURL(payment.OrderNo, constants.ReturnCodeFailed))
	}
}

func rejectReturnCode(transition service.Transition) string {
	switch {
	case errors.Is(transition.Cause, service.ErrPaymentAmountMismatch):
		return constants.ReturnCodeAmountMismatch
	case errors.Is(transition.Cause, service.ErrPaymentCurrencyMismatch):
		return constants.ReturnCodeCurrencyMismatch
	default:
		return constants.ReturnCodeUnknown
	}
}

func orderDetailPaidURL(orderNo string) string {
	return fmt.Sprintf("/orders/%s?%s=%s",
		url.PathEscape(orderNo), constants.ReturnFlagPaid, constants.ReturnFlagPaidYes)
}

func payStepURL(orderNo string, code string) string {
	if orderNo == "" {
		return "/"
	}
	return fmt.Sprintf("/orders/%s/pay?code=%s", url.PathEscape(orderNo), url.QueryEscape(code))
}
