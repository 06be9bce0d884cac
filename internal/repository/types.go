package repository

import "time"

// OrderListFilter 查询订单列表的过滤条件
type OrderListFilter struct {
	Page        int
	PageSize    int
	Status      string
	OrderNo     string
	Email       string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// PaymentListFilter 查询支付列表的过滤条件
type PaymentListFilter struct {
	Page        int
	PageSize    int
	OrderID     uint
	OrderNo     string
	ProviderRef string
	Status      string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// WebhookEventListFilter 查询回调事件列表的过滤条件
type WebhookEventListFilter struct {
	Page        int
	PageSize    int
	EventType   string
	OrderNo     string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}
