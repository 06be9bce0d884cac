package service

import (
	"fmt"
	"strings"

	"github.com/tickets-next/internal/constants"
	"github.com/tickets-next/internal/models"
	"github.com/tickets-next/internal/payment/cashfree"
)

// TransitionKind 对账决策类型
type TransitionKind string

const (
	TransitionNoOp          TransitionKind = "noop"
	TransitionConfirm       TransitionKind = "confirm"
	TransitionFail          TransitionKind = "fail"
	TransitionAwaitRedirect TransitionKind = "await_redirect"
	TransitionReject        TransitionKind = "reject"
)

// Transition 对账决策
// 纯数据：由 reconcilePayment 产出，applyTransition 落库
type Transition struct {
	Kind         TransitionKind
	SessionToken string // AwaitRedirect 时携带托管收银台会话令牌
	Reason       string // Reject 时的拒绝原因
	Cause        error  // Reject 时对应的哨兵错误，边界层通过 errors.Is 判别
}

// reconcilePayment 比对本地支付与远端订单，产出状态决策。
// 纯函数：不做 I/O、不读时钟、不修改入参。
// 已成功的本地支付永不回退；金额或币种不一致永不确认
func reconcilePayment(payment *models.Payment, remote *cashfree.RemoteOrder) Transition {
	if payment == nil || remote == nil {
		return Transition{Kind: TransitionReject, Reason: "missing payment or remote order", Cause: ErrPaymentInvalid}
	}
	if payment.Status == constants.PaymentStatusSuccess {
		return Transition{Kind: TransitionNoOp}
	}

	switch remote.Status {
	case cashfree.OrderStatusPaid:
		if remote.Currency != "" && !strings.EqualFold(remote.Currency, payment.Currency) {
			return Transition{Kind: TransitionReject, Reason: "currency mismatch", Cause: ErrPaymentCurrencyMismatch}
		}
		if payment.Amount.Decimal.Cmp(remote.AmountDecimal()) != 0 {
			return Transition{Kind: TransitionReject, Reason: "amount mismatch", Cause: ErrPaymentAmountMismatch}
		}
		return Transition{Kind: TransitionConfirm}
	case cashfree.OrderStatusExpired, cashfree.OrderStatusTerminated:
		return Transition{Kind: TransitionFail}
	case cashfree.OrderStatusActive:
		return Transition{Kind: TransitionAwaitRedirect, SessionToken: remote.PaymentSessionID}
	case cashfree.OrderStatusTerminationRequested:
		// 终止确认中，远端状态尚未稳定，等下一次对账
		return Transition{Kind: TransitionNoOp}
	default:
		return Transition{Kind: TransitionReject, Reason: fmt.Sprintf("unhandled status %s", remote.Status), Cause: ErrUnhandledRemoteStatus}
	}
}
