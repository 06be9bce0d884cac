package queue

import (
	"encoding/json"

	"github.com/tickets-next/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskPaymentWebhook 回调对账任务
	TaskPaymentWebhook = constants.TaskPaymentWebhook
	// TaskPaymentPendingSweep 待支付轮询任务
	TaskPaymentPendingSweep = constants.TaskPaymentPendingSweep
	// TaskOrderTimeoutCancel 超时取消任务
	TaskOrderTimeoutCancel = constants.TaskOrderTimeoutCancel
)

// PaymentWebhookPayload 回调对账任务载荷
type PaymentWebhookPayload struct {
	Reference       string `json:"reference"`
	RemotePaymentID string `json:"remote_payment_id"`
}

// PaymentPendingSweepPayload 待支付轮询任务载荷
type PaymentPendingSweepPayload struct {
	Limit int `json:"limit"`
}

// OrderTimeoutCancelPayload 超时取消任务载荷
type OrderTimeoutCancelPayload struct {
	OrderID uint `json:"order_id"`
}

// NewPaymentWebhookTask 创建回调对账任务
func NewPaymentWebhookTask(payload PaymentWebhookPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPaymentWebhook, body), nil
}

// NewPaymentPendingSweepTask 创建待支付轮询任务
func NewPaymentPendingSweepTask(payload PaymentPendingSweepPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPaymentPendingSweep, body), nil
}

// NewOrderTimeoutCancelTask 创建超时取消任务
func NewOrderTimeoutCancelTask(payload OrderTimeoutCancelPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrderTimeoutCancel, body), nil
}
