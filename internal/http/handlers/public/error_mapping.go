package public

import (
	"errors"

	"github.com/tickets-next/internal/http/response"
	handlershared "github.com/tickets-next/internal/http/handlers/shared"
	"github.com/tickets-next/internal/service"

	"github.com/gin-gonic/gin"
)

func respondError(c *gin.Context, code int, msg string, err error) {
	handlershared.RespondError(c, code, msg, err)
}

// mappedHandlerError 定义业务错误到接口错误响应的映射关系。
type mappedHandlerError struct {
	target error
	code   int
	msg    string
}

func respondWithMappedError(c *gin.Context, err error, rules []mappedHandlerError, fallbackCode int, fallbackMsg string) {
	for _, rule := range rules {
		if errors.Is(err, rule.target) {
			respondError(c, rule.code, rule.msg, nil)
			return
		}
	}
	respondError(c, fallbackCode, fallbackMsg, err)
}

var orderCreateErrorRules = []mappedHandlerError{
	{target: service.ErrOrderCreateFailed, code: response.CodeBadRequest, msg: "order create failed"},
}

var paymentCreateErrorRules = []mappedHandlerError{
	{target: service.ErrPaymentInvalid, code: response.CodeBadRequest, msg: "payment invalid"},
	{target: service.ErrOrderNotFound, code: response.CodeNotFound, msg: "order not found"},
	{target: service.ErrOrderStatusInvalid, code: response.CodeBadRequest, msg: "order not payable"},
	{target: service.ErrPaymentChannelConfigInvalid, code: response.CodeBadRequest, msg: "payment channel config invalid"},
	{target: service.ErrPaymentGatewayRequestFailed, code: response.CodeBadRequest, msg: "payment gateway request failed"},
	{target: service.ErrPaymentGatewayResponseInvalid, code: response.CodeBadRequest, msg: "payment gateway response invalid"},
	{target: service.ErrPaymentCreateFailed, code: response.CodeInternal, msg: "payment create failed"},
}

func respondOrderCreateError(c *gin.Context, err error) {
	respondWithMappedError(c, err, orderCreateErrorRules, response.CodeInternal, "order create failed")
}

func respondPaymentCreateError(c *gin.Context, err error) {
	respondWithMappedError(c, err, paymentCreateErrorRules, response.CodeInternal, "payment create failed")
}
