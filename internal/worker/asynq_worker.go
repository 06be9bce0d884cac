package worker

import (
	"context"
	"encoding/json"

	"github.com/tickets-next/internal/logger"
	"github.com/tickets-next/internal/provider"
	"github.com/tickets-next/internal/queue"

	"github.com/hibiken/asynq"
)

const defaultSweepLimit = 50

// Consumer 异步任务消费者
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskPaymentWebhook, c.handlePaymentWebhook)
	mux.HandleFunc(queue.TaskPaymentPendingSweep, c.handlePaymentPendingSweep)
	mux.HandleFunc(queue.TaskOrderTimeoutCancel, c.handleOrderTimeoutCancel)
}

func (c *Consumer) handlePaymentWebhook(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		return nil
	}
	var payload queue.PaymentWebhookPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_payment_webhook_unmarshal_failed", "error", err)
		return err
	}
	if payload.Reference == "" {
		logger.Debugw("worker_payment_webhook_skip_empty_reference")
		return nil
	}
	if err := c.PaymentService.ProcessWebhookReconcile(ctx, payload.Reference); err != nil {
		logger.Warnw("worker_payment_webhook_reconcile_failed",
			"reference", payload.Reference,
			"remote_payment_id", payload.RemotePaymentID,
			"error", err,
		)
		return err
	}
	return nil
}

func (c *Consumer) handlePaymentPendingSweep(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		return nil
	}
	var payload queue.PaymentPendingSweepPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_payment_sweep_unmarshal_failed", "error", err)
		return err
	}
	limit := payload.Limit
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	processed, err := c.PaymentService.SweepPendingPayments(ctx, limit)
	if err != nil {
		logger.Warnw("worker_payment_sweep_failed", "error", err)
		return err
	}
	if processed > 0 {
		logger.Infow("worker_payment_sweep_done", "processed", processed)
	}
	return nil
}

func (c *Consumer) handleOrderTimeoutCancel(_ context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		return nil
	}
	var payload queue.OrderTimeoutCancelPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_order_timeout_unmarshal_failed", "error", err)
		return err
	}
	if payload.OrderID == 0 {
		return nil
	}
	order, err := c.OrderService.CancelExpiredOrder(payload.OrderID)
	if err != nil {
		logger.Warnw("worker_order_timeout_cancel_failed", "order_id", payload.OrderID, "error", err)
		return err
	}
	if order != nil {
		logger.Infow("worker_order_timeout_handled", "order_id", order.ID, "status", order.Status)
	}
	return nil
}
