package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tickets-next/internal/models"
	"github.com/tickets-next/internal/payment/cashfree"
	"github.com/tickets-next/internal/queue"
)

// HandleCashfreeWebhook 处理 Cashfree 异步通知
// 仅签名校验失败向调用方返回错误；其余情况一律确认接收，
// 由幂等闸门和对账流程决定是否推进支付状态。
func (s *PaymentService) HandleCashfreeWebhook(input WebhookCallbackInput) error {
	ctx := input.Context
	if ctx == nil {
		ctx = context.Background()
	}

	gatewayCfg, err := s.GatewayConfig()
	if err != nil {
		paymentLogger().Errorw("webhook_gateway_config_invalid", "error", err)
		return err
	}

	result, err := cashfree.VerifyAndParseWebhook(gatewayCfg, input.Headers, input.Body, time.Now())
	if err != nil {
		if errors.Is(err, cashfree.ErrSignatureInvalid) {
			paymentLogger().Warnw("webhook_signature_invalid", "error", err)
			return ErrPaymentSignatureInvalid
		}
		// 签名已通过，载荷异常只记录，不向网关报错触发重试风暴
		paymentLogger().Warnw("webhook_payload_invalid", "error", err)
		return nil
	}

	log := paymentLogger(
		"event_type", result.EventType,
		"provider_ref", result.OrderID,
		"remote_payment_id", result.RemotePaymentID,
	)

	if result.EventType != cashfree.EventPaymentSuccess {
		log.Infow("webhook_event_ignored")
		return nil
	}

	event := &models.PaymentWebhookEvent{
		RemotePaymentID: result.RemotePaymentID,
		EventType:       result.EventType,
		OrderNo:         result.OrderID,
		PaymentStatus:   result.PaymentStatus,
		Payload:         models.JSON(result.Raw),
		CreatedAt:       time.Now(),
	}
	inserted, err := s.webhookEventRepo.InsertIfAbsent(event)
	if err != nil {
		log.Errorw("webhook_event_persist_failed", "error", err)
		return nil
	}
	if !inserted {
		// 同一 cf_payment_id 的重放，闸门直接吸收
		log.Infow("webhook_event_replayed")
		return nil
	}

	if s.queueClient != nil && s.queueClient.Enabled() {
		payload := queue.PaymentWebhookPayload{
			Reference:       result.OrderID,
			RemotePaymentID: result.RemotePaymentID,
		}
		if err := s.queueClient.EnqueuePaymentWebhook(payload); err != nil {
			log.Warnw("webhook_enqueue_failed", "error", err)
		} else {
			log.Infow("webhook_event_enqueued")
			return nil
		}
	}

	// 队列未启用或投递失败时同步对账
	if err := s.ProcessWebhookReconcile(ctx, result.OrderID); err != nil {
		log.Warnw("webhook_inline_reconcile_failed", "error", err)
	}
	return nil
}

// ProcessWebhookReconcile 根据远端订单号定位支付并对账
func (s *PaymentService) ProcessWebhookReconcile(ctx context.Context, reference string) error {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return ErrPaymentInvalid
	}
	if ctx == nil {
		ctx = context.Background()
	}

	payment, err := s.resolvePaymentByReference(reference)
	if err != nil {
		return err
	}
	if payment == nil {
		paymentLogger("provider_ref", reference).Warnw("webhook_payment_not_found")
		return ErrPaymentNotFound
	}

	_, err = s.SyncPaymentFromRemote(ctx, payment)
	return err
}

func (s *PaymentService) resolvePaymentByReference(reference string) (*models.Payment, error) {
	if s.referenceRepo != nil {
		ref, err := s.referenceRepo.Lookup(reference)
		if err != nil {
			return nil, ErrPaymentUpdateFailed
		}
		if ref != nil && ref.PaymentID != nil {
			payment, err := s.paymentRepo.GetByID(*ref.PaymentID)
			if err != nil {
				return nil, ErrPaymentUpdateFailed
			}
			if payment != nil {
				return payment, nil
			}
		}
	}

	payment, err := s.paymentRepo.GetLatestByProviderRef(reference)
	if err != nil {
		return nil, ErrPaymentUpdateFailed
	}
	if payment != nil {
		return payment, nil
	}

	// 支付单号本身即网关订单号，reference 表缺失时仍可回退
	payment, err = s.paymentRepo.GetByPaymentNo(reference)
	if err != nil {
		return nil, ErrPaymentUpdateFailed
	}
	return payment, nil
}
