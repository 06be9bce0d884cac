package constants

// 订单状态常量
const (
	OrderStatusPendingPayment = "pending_payment"
	OrderStatusPaid           = "paid"
	OrderStatusCanceled       = "canceled"
	OrderStatusExpired        = "expired"
)

// 支付状态常量
const (
	PaymentStatusInitiated = "initiated"
	PaymentStatusPending   = "pending"
	PaymentStatusSuccess   = "success"
	PaymentStatusFailed    = "failed"
	PaymentStatusExpired   = "expired"
)

// 支付提供方常量
const (
	PaymentProviderCashfree = "cashfree"
)

// 支付交互方式常量
const (
	PaymentInteractionRedirect = "redirect"
)

// 回跳结果标记常量
const (
	ReturnFlagPaid             = "paid"
	ReturnFlagPaidYes          = "yes"
	ReturnCodePending          = "payment_pending"
	ReturnCodeFailed           = "payment_failed"
	ReturnCodeAmountMismatch   = "amount_mismatch"
	ReturnCodeCurrencyMismatch = "currency_mismatch"
	ReturnCodeSessionMismatch  = "session_mismatch"
	ReturnCodeUnknown          = "payment_unknown"
)

// 结账会话常量
const (
	CheckoutSessionCookie = "tn_checkout_session"
)

// 队列常量
const (
	QueueDefault            = "default"
	TaskPaymentWebhook      = "payment:webhook_reconcile"
	TaskPaymentPendingSweep = "payment:pending_sweep"
	TaskOrderTimeoutCancel  = "order:timeout_cancel"
)

// 缓存默认配置常量
const (
	RedisPrefixDefault = "tn"
)

// 设置键常量
const (
	SettingKeySiteConfig             = "site_config"
	SettingKeyCashfreeConfig         = "cashfree_config"
	SettingFieldSiteCurrency         = "currency"
	SettingFieldPaymentExpireMinutes = "payment_expire_minutes"
)

// 币种常量
const (
	SiteCurrencyDefault = "INR"
)
