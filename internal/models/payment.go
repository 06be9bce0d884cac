package models

import (
	"time"

	"gorm.io/gorm"
)

// Payment 支付记录
type Payment struct {
	ID              uint           `gorm:"primarykey" json:"id"`                        // 主键
	PaymentNo       string         `gorm:"uniqueIndex;not null" json:"payment_no"`      // 支付单号
	OrderID         uint           `gorm:"index;not null" json:"order_id"`              // 订单ID
	OrderNo         string         `gorm:"index;not null" json:"order_no"`              // 订单编号（冗余，便于回调定位）
	ProviderType    string         `gorm:"not null" json:"provider_type"`               // 提供方类型（cashfree）
	InteractionMode string         `gorm:"not null" json:"interaction_mode"`            // 交互方式（redirect）
	Amount          Money          `gorm:"type:decimal(20,2);not null" json:"amount"`   // 支付金额
	Currency        string         `gorm:"not null" json:"currency"`                    // 币种
	Status          string         `gorm:"index;not null" json:"status"`                // 支付状态
	ProviderRef     string         `gorm:"index" json:"provider_ref"`                   // 远端订单号（Cashfree order_id）
	SessionToken    string         `gorm:"type:text" json:"-"`                          // 托管收银台会话令牌（payment_session_id）
	CheckoutSID     string         `gorm:"index;type:varchar(64)" json:"-"`             // 发起支付的结账会话标识
	ProviderPayload JSON           `gorm:"type:json" json:"provider_payload,omitempty"` // 远端订单/回调原始数据
	CreatedAt       time.Time      `gorm:"index" json:"created_at"`                     // 创建时间
	UpdatedAt       time.Time      `gorm:"index" json:"updated_at"`                     // 更新时间
	PaidAt          *time.Time     `gorm:"index" json:"paid_at"`                        // 支付时间
	ExpiredAt       *time.Time     `gorm:"index" json:"expired_at"`                     // 过期时间
	CallbackAt      *time.Time     `gorm:"index" json:"callback_at"`                    // 回调时间
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`                              // 软删除时间
}

// TableName 指定表名
func (Payment) TableName() string {
	return "payments"
}
