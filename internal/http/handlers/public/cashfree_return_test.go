package public

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tickets-next/internal/constants"
	"github.com/tickets-next/internal/service"

	"github.com/gin-gonic/gin"
)

func TestCashfreeReturnMissingPaymentRedirectsHome(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/pay/cashfree/return", nil)

	h := &Handler{}
	h.CashfreeReturn(c)

	if w.Code != http.StatusFound {
		t.Fatalf("expected status %d, got %d", http.StatusFound, w.Code)
	}
	if got := w.Header().Get("Location"); got != "/" {
		t.Fatalf("expected redirect to /, got %q", got)
	}
}

func TestCashfreeRedirectRequiresPaymentNo(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/pay/cashfree/redirect", nil)

	h := &Handler{}
	h.CashfreeRedirect(c)

	var resp struct {
		StatusCode int    `json:"status_code"`
		Msg        string `json:"msg"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	if resp.StatusCode != 400 {
		t.Fatalf("expected status code 400, got %d", resp.StatusCode)
	}
}

func TestReturnRedirectURLs(t *testing.T) {
	if got := orderDetailPaidURL("TK20240101000000123456"); got != "/orders/TK20240101000000123456?paid=yes" {
		t.Fatalf("unexpected paid url %q", got)
	}
	if got := payStepURL("TK20240101000000123456", "payment_pending"); got != "/orders/TK20240101000000123456/pay?code=payment_pending" {
		t.Fatalf("unexpected pay step url %q", got)
	}
	if got := payStepURL("", "payment_pending"); got != "/" {
		t.Fatalf("blank order should fall back to /, got %q", got)
	}
}

func TestRejectReturnCode(t *testing.T) {
	cases := []struct {
		cause error
		want  string
	}{
		{service.ErrPaymentAmountMismatch, constants.ReturnCodeAmountMismatch},
		{service.ErrPaymentCurrencyMismatch, constants.ReturnCodeCurrencyMismatch},
		{service.ErrUnhandledRemoteStatus, constants.ReturnCodeUnknown},
		{nil, constants.ReturnCodeUnknown},
	}
	for _, tc := range cases {
		transition := service.Transition{Kind: service.TransitionReject, Cause: tc.cause}
		if got := rejectReturnCode(transition); got != tc.want {
			t.Fatalf("cause %v: expected code %q, got %q", tc.cause, tc.want, got)
		}
	}
}
