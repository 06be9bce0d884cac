package public

import (
	"strings"

	"github.com/tickets-next/internal/constants"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const checkoutSessionMaxAge = 2 * 60 * 60

// ensureCheckoutSID 读取结账会话 Cookie，缺失时签发新会话。
func ensureCheckoutSID(c *gin.Context) string {
	sid, err := c.Cookie(constants.CheckoutSessionCookie)
	if err == nil {
		sid = strings.TrimSpace(sid)
	}
	if sid == "" {
		sid = uuid.NewString()
		c.SetCookie(constants.CheckoutSessionCookie, sid, checkoutSessionMaxAge, "/", "", false, true)
	}
	return sid
}

// currentCheckoutSID 只读取结账会话，不签发新会话。
func currentCheckoutSID(c *gin.Context) string {
	sid, err := c.Cookie(constants.CheckoutSessionCookie)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(sid)
}
