package models

import (
	"time"

	"gorm.io/gorm"
)

// Order 票务订单表
type Order struct {
	ID            uint           `gorm:"primarykey" json:"id"`                                      // 主键
	OrderNo       string         `gorm:"uniqueIndex;not null" json:"order_no"`                      // 订单编号
	EventName     string         `gorm:"not null" json:"event_name"`                                // 活动名称
	TicketType    string         `gorm:"not null" json:"ticket_type"`                               // 票种
	Quantity      int            `gorm:"not null;default:1" json:"quantity"`                        // 购票数量
	UnitPrice     Money          `gorm:"type:decimal(20,2);not null;default:0" json:"unit_price"`   // 单价
	TotalAmount   Money          `gorm:"type:decimal(20,2);not null;default:0" json:"total_amount"` // 实付金额
	Currency      string         `gorm:"not null" json:"currency"`                                  // 币种
	Status        string         `gorm:"index;not null" json:"status"`                              // 订单状态
	CustomerEmail string         `gorm:"index" json:"customer_email"`                               // 购票人邮箱
	CustomerPhone string         `gorm:"type:varchar(32)" json:"customer_phone,omitempty"`          // 购票人手机号
	ClientIP      string         `gorm:"type:varchar(64)" json:"client_ip,omitempty"`               // 下单客户端IP
	ExpiresAt     *time.Time     `gorm:"index" json:"expires_at"`                                   // 过期时间
	PaidAt        *time.Time     `gorm:"index" json:"paid_at"`                                      // 支付时间
	CanceledAt    *time.Time     `gorm:"index" json:"canceled_at"`                                  // 取消时间
	CreatedAt     time.Time      `gorm:"index" json:"created_at"`                                   // 创建时间
	UpdatedAt     time.Time      `gorm:"index" json:"updated_at"`                                   // 更新时间
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`                                            // 软删除时间

	Payments []Payment `gorm:"foreignKey:OrderID" json:"payments,omitempty"` // 支付记录
}

// TableName 指定表名
func (Order) TableName() string {
	return "orders"
}
