package service

import "errors"

// 业务哨兵错误，边界层通过 errors.Is 映射为响应码
var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderFetchFailed   = errors.New("order fetch failed")
	ErrOrderUpdateFailed  = errors.New("order update failed")
	ErrOrderStatusInvalid = errors.New("order status invalid")
	ErrOrderCreateFailed  = errors.New("order create failed")

	ErrPaymentInvalid       = errors.New("payment invalid")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentCreateFailed  = errors.New("payment create failed")
	ErrPaymentUpdateFailed  = errors.New("payment update failed")
	ErrPaymentStatusInvalid = errors.New("payment status invalid")

	ErrPaymentAmountMismatch   = errors.New("payment amount mismatch")
	ErrPaymentCurrencyMismatch = errors.New("payment currency mismatch")
	ErrPaymentSessionMismatch  = errors.New("payment session mismatch")
	ErrUnhandledRemoteStatus   = errors.New("unhandled remote order status")

	ErrPaymentChannelConfigInvalid   = errors.New("payment channel config invalid")
	ErrPaymentGatewayRequestFailed   = errors.New("payment gateway request failed")
	ErrPaymentGatewayResponseInvalid = errors.New("payment gateway response invalid")
	ErrPaymentSignatureInvalid       = errors.New("payment signature invalid")

	ErrAdminNotFound           = errors.New("admin not found")
	ErrAdminCredentialsInvalid = errors.New("admin credentials invalid")
	ErrWeakPassword            = errors.New("password too weak")
)
