package models

import (
	"time"
)

// PaymentReference 远端订单号与本地支付的映射表
// reference 即 Cashfree 的 order_id，回调与回跳都先经此表定位本地支付
type PaymentReference struct {
	ID        uint      `gorm:"primarykey" json:"id"`                  // 主键
	Reference string    `gorm:"uniqueIndex;not null" json:"reference"` // 远端订单号
	PaymentID *uint     `gorm:"index" json:"payment_id"`               // 本地支付ID（创建早期可为空）
	CreatedAt time.Time `gorm:"index" json:"created_at"`               // 创建时间
	UpdatedAt time.Time `json:"updated_at"`                            // 更新时间
}

// TableName 指定表名
func (PaymentReference) TableName() string {
	return "payment_references"
}
