package models

import (
	"time"
)

// PaymentWebhookEvent 已受理的网关回调事件
// remote_payment_id 唯一索引即幂等闸门：同一笔远端支付只会被受理一次
type PaymentWebhookEvent struct {
	ID              uint      `gorm:"primarykey" json:"id"`                          // 主键
	RemotePaymentID string    `gorm:"uniqueIndex;not null" json:"remote_payment_id"` // 远端支付流水号（cf_payment_id）
	EventType       string    `gorm:"index;not null" json:"event_type"`              // 事件类型
	OrderNo         string    `gorm:"index" json:"order_no"`                         // 关联订单编号
	PaymentID       *uint     `gorm:"index" json:"payment_id"`                       // 关联本地支付ID
	PaymentStatus   string    `json:"payment_status"`                                // 远端支付状态
	Payload         JSON      `gorm:"type:json" json:"payload,omitempty"`            // 回调原始数据
	CreatedAt       time.Time `gorm:"index" json:"created_at"`                       // 受理时间
}

// TableName 指定表名
func (PaymentWebhookEvent) TableName() string {
	return "payment_webhook_events"
}
