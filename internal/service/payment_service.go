package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tickets-next/internal/config"
	"github.com/tickets-next/internal/constants"
	"github.com/tickets-next/internal/logger"
	"github.com/tickets-next/internal/models"
	"github.com/tickets-next/internal/payment/cashfree"
	"github.com/tickets-next/internal/queue"
	"github.com/tickets-next/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaymentService 支付服务
type PaymentService struct {
	orderRepo        repository.OrderRepository
	paymentRepo      repository.PaymentRepository
	referenceRepo    repository.PaymentReferenceRepository
	webhookEventRepo repository.PaymentWebhookEventRepository
	settingRepo      repository.SettingRepository
	sessionBinder    SessionBinder
	queueClient      *queue.Client
	appCfg           *config.Config
}

// NewPaymentService 创建支付服务
func NewPaymentService(orderRepo repository.OrderRepository, paymentRepo repository.PaymentRepository, referenceRepo repository.PaymentReferenceRepository, webhookEventRepo repository.PaymentWebhookEventRepository, settingRepo repository.SettingRepository, sessionBinder SessionBinder, queueClient *queue.Client, appCfg *config.Config) *PaymentService {
	return &PaymentService{
		orderRepo:        orderRepo,
		paymentRepo:      paymentRepo,
		referenceRepo:    referenceRepo,
		webhookEventRepo: webhookEventRepo,
		settingRepo:      settingRepo,
		sessionBinder:    sessionBinder,
		queueClient:      queueClient,
		appCfg:           appCfg,
	}
}

// CreatePaymentInput 创建支付请求
type CreatePaymentInput struct {
	OrderNo     string
	CheckoutSID string
	ClientIP    string
	Context     context.Context
}

// CreatePaymentResult 创建支付结果
type CreatePaymentResult struct {
	Payment      *models.Payment
	SessionToken string
	RedirectURL  string
	Reused       bool
}

// WebhookCallbackInput Webhook 回调输入。
type WebhookCallbackInput struct {
	Headers map[string]string
	Body    []byte
	Context context.Context
}

func paymentLogger(kv ...interface{}) *zap.SugaredLogger {
	if len(kv) == 0 {
		return logger.S()
	}
	return logger.SW(kv...)
}

// GatewayConfig 构造本次调用使用的网关配置
// 数据库设置项覆盖部署配置；每次调用重新构造，不持有全局可变凭据
func (s *PaymentService) GatewayConfig() (*cashfree.Config, error) {
	raw := map[string]interface{}{}
	if s.appCfg != nil {
		raw["client_id"] = s.appCfg.Cashfree.ClientID
		raw["client_secret"] = s.appCfg.Cashfree.ClientSecret
		raw["webhook_secret"] = s.appCfg.Cashfree.WebhookSecret
		raw["sandbox"] = s.appCfg.Cashfree.Sandbox
		raw["api_version"] = s.appCfg.Cashfree.APIVersion
	}
	if s.settingRepo != nil {
		setting, err := s.settingRepo.GetByKey(constants.SettingKeyCashfreeConfig)
		if err != nil {
			return nil, ErrPaymentChannelConfigInvalid
		}
		if setting != nil {
			for key, value := range setting.ValueJSON {
				raw[key] = value
			}
		}
	}
	cfg, err := cashfree.ParseConfig(raw)
	if err != nil {
		return nil, ErrPaymentChannelConfigInvalid
	}
	if err := cashfree.ValidateConfig(cfg); err != nil {
		return nil, ErrPaymentChannelConfigInvalid
	}
	return cfg, nil
}

// CreatePayment 为待支付订单创建 Cashfree 托管支付
func (s *PaymentService) CreatePayment(input CreatePaymentInput) (*CreatePaymentResult, error) {
	orderNo := strings.TrimSpace(input.OrderNo)
	if orderNo == "" {
		return nil, ErrPaymentInvalid
	}
	ctx := input.Context
	if ctx == nil {
		ctx = context.Background()
	}

	log := paymentLogger(
		"order_no", orderNo,
		"checkout_sid", strings.TrimSpace(input.CheckoutSID),
	)

	gatewayCfg, err := s.GatewayConfig()
	if err != nil {
		log.Errorw("payment_create_gateway_config_invalid", "error", err)
		return nil, err
	}

	var payment *models.Payment
	reused := false
	now := time.Now()

	err = models.DB.Transaction(func(tx *gorm.DB) error {
		var lockedOrder models.Order
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("order_no = ?", orderNo).
			Limit(1).Find(&lockedOrder)
		if result.Error != nil {
			return ErrOrderFetchFailed
		}
		if result.RowsAffected == 0 {
			return ErrOrderNotFound
		}
		if lockedOrder.Status != constants.OrderStatusPendingPayment {
			return ErrOrderStatusInvalid
		}
		if lockedOrder.ExpiresAt != nil && !lockedOrder.ExpiresAt.After(now) {
			return ErrOrderStatusInvalid
		}

		paymentRepo := s.paymentRepo.WithTx(tx)
		existing, err := paymentRepo.GetLatestPendingByOrder(lockedOrder.ID, now)
		if err != nil {
			return ErrPaymentCreateFailed
		}
		if existing != nil {
			reused = true
			payment = existing
			return nil
		}

		payment = &models.Payment{
			PaymentNo:       generatePaymentNo(),
			OrderID:         lockedOrder.ID,
			OrderNo:         lockedOrder.OrderNo,
			ProviderType:    constants.PaymentProviderCashfree,
			InteractionMode: constants.PaymentInteractionRedirect,
			Amount:          lockedOrder.TotalAmount,
			Currency:        lockedOrder.Currency,
			Status:          constants.PaymentStatusInitiated,
			CheckoutSID:     strings.TrimSpace(input.CheckoutSID),
			ExpiredAt:       lockedOrder.ExpiresAt,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := paymentRepo.Create(payment); err != nil {
			return ErrPaymentCreateFailed
		}
		return nil
	})
	if err != nil {
		log.Warnw("payment_create_rejected", "error", err)
		return nil, err
	}

	if !reused {
		order, err := s.orderRepo.GetByID(payment.OrderID)
		if err != nil || order == nil {
			log.Errorw("payment_create_order_reload_failed", "order_id", payment.OrderID, "error", err)
			return nil, ErrOrderFetchFailed
		}
		created, err := cashfree.CreateOrder(ctx, gatewayCfg, cashfree.CreateOrderInput{
			OrderID:       payment.PaymentNo,
			Amount:        payment.Amount.String(),
			Currency:      payment.Currency,
			CustomerID:    fmt.Sprintf("cust_%d", order.ID),
			CustomerEmail: order.CustomerEmail,
			CustomerPhone: order.CustomerPhone,
			OrderNote:     order.EventName,
			ReturnURL:     s.buildReturnURL(payment.PaymentNo),
			NotifyURL:     s.buildNotifyURL(),
		})
		if err != nil {
			log.Errorw("payment_create_gateway_failed", "payment_no", payment.PaymentNo, "error", err)
			s.markPaymentFailedQuietly(payment)
			return nil, mapCashfreeGatewayError(err)
		}

		payment.ProviderRef = created.OrderID
		payment.SessionToken = created.PaymentSessionID
		payment.Status = constants.PaymentStatusPending
		payment.ProviderPayload = models.JSON(created.Raw)
		payment.UpdatedAt = time.Now()

		err = models.DB.Transaction(func(tx *gorm.DB) error {
			if err := s.paymentRepo.WithTx(tx).Update(payment); err != nil {
				return ErrPaymentUpdateFailed
			}
			paymentID := payment.ID
			if err := s.referenceRepo.WithTx(tx).Upsert(created.OrderID, &paymentID); err != nil {
				return ErrPaymentUpdateFailed
			}
			return nil
		})
		if err != nil {
			log.Errorw("payment_create_persist_failed", "payment_no", payment.PaymentNo, "error", err)
			return nil, err
		}
	}

	if s.sessionBinder != nil {
		if err := s.sessionBinder.Bind(ctx, input.CheckoutSID, payment.PaymentNo); err != nil {
			log.Warnw("payment_session_bind_failed", "payment_no", payment.PaymentNo, "error", err)
		}
	}

	log.Infow("payment_created",
		"payment_no", payment.PaymentNo,
		"provider_ref", payment.ProviderRef,
		"amount", payment.Amount.String(),
		"reused", reused,
	)
	return &CreatePaymentResult{
		Payment:      payment,
		SessionToken: payment.SessionToken,
		RedirectURL:  s.buildRedirectPageURL(payment.PaymentNo),
		Reused:       reused,
	}, nil
}

// ValidateReturn 处理支付回跳：校验会话绑定后与远端对账
// 会话不匹配返回 ErrPaymentSessionMismatch，属可恢复错误
func (s *PaymentService) ValidateReturn(ctx context.Context, paymentNo string, checkoutSID string) (*models.Payment, Transition, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	payment, err := s.paymentRepo.GetByPaymentNo(paymentNo)
	if err != nil {
		return nil, Transition{}, ErrPaymentUpdateFailed
	}
	if payment == nil {
		return nil, Transition{}, ErrPaymentNotFound
	}

	log := paymentLogger(
		"payment_no", payment.PaymentNo,
		"order_no", payment.OrderNo,
	)

	bound := ""
	if s.sessionBinder != nil {
		bound, err = s.sessionBinder.Current(ctx, checkoutSID)
		if err != nil {
			log.Warnw("payment_return_session_lookup_failed", "error", err)
		}
	}
	if bound == "" || bound != payment.PaymentNo {
		log.Warnw("payment_return_session_mismatch", "bound_payment_no", bound)
		return payment, Transition{}, ErrPaymentSessionMismatch
	}

	transition, err := s.SyncPaymentFromRemote(ctx, payment)
	if err != nil {
		return payment, transition, err
	}
	log.Infow("payment_return_processed", "transition", string(transition.Kind))
	return payment, transition, nil
}

// SyncPaymentFromRemote 拉取远端订单并对账落库
func (s *PaymentService) SyncPaymentFromRemote(ctx context.Context, payment *models.Payment) (Transition, error) {
	if payment == nil {
		return Transition{}, ErrPaymentNotFound
	}
	if ctx == nil {
		ctx = context.Background()
	}
	gatewayCfg, err := s.GatewayConfig()
	if err != nil {
		return Transition{}, err
	}

	reference := pickFirstNonEmpty(payment.ProviderRef, payment.PaymentNo)
	log := paymentLogger(
		"payment_no", payment.PaymentNo,
		"provider_ref", reference,
	)

	fetched, err := cashfree.FetchOrder(ctx, gatewayCfg, reference)
	if err != nil {
		log.Errorw("payment_remote_fetch_failed", "error", err)
		return Transition{}, mapCashfreeGatewayError(err)
	}
	if !fetched.Found {
		// 建单后远端存在可见性延迟，有效期内查不到先保持待支付，由轮询重试
		if payment.ExpiredAt == nil || payment.ExpiredAt.After(time.Now()) {
			log.Warnw("payment_remote_order_missing")
			return Transition{Kind: TransitionNoOp, Reason: "remote order missing"}, nil
		}
		log.Warnw("payment_remote_order_missing_expired")
		transition := Transition{Kind: TransitionFail, Reason: "remote order missing"}
		if err := s.applyTransition(payment, nil, transition); err != nil {
			return transition, err
		}
		if payment.Status == constants.PaymentStatusSuccess {
			// 落库时发现已被并发确认，本次决策作废
			transition = Transition{Kind: TransitionNoOp}
		}
		return transition, nil
	}

	transition := reconcilePayment(payment, fetched.Order)
	if err := s.applyTransition(payment, fetched.Order, transition); err != nil {
		return transition, err
	}
	if payment.Status == constants.PaymentStatusSuccess &&
		transition.Kind != TransitionConfirm && transition.Kind != TransitionNoOp {
		// 落库时发现已被并发确认，本次决策作废
		transition = Transition{Kind: TransitionNoOp}
	}
	log.Infow("payment_reconcile_transition",
		"remote_status", fetched.Order.Status,
		"transition", string(transition.Kind),
		"reason", transition.Reason,
	)
	return transition, nil
}

// applyTransition 将对账决策落库
// 持行锁重读当前支付再落库：决策基于的快照可能已过期，
// 重读发现支付已成功则放弃本次决策，已确认支付永不回退。
// 落库后入参刷新为当前行，调用方据此拿到真实状态
func (s *PaymentService) applyTransition(payment *models.Payment, remote *cashfree.RemoteOrder, transition Transition) error {
	if transition.Kind == TransitionNoOp {
		return nil
	}
	now := time.Now()
	log := paymentLogger("payment_no", payment.PaymentNo, "order_no", payment.OrderNo)

	return models.DB.Transaction(func(tx *gorm.DB) error {
		var current models.Payment
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("payment_no = ?", payment.PaymentNo).
			Limit(1).Find(&current)
		if result.Error != nil {
			return ErrPaymentUpdateFailed
		}
		if result.RowsAffected == 0 {
			return ErrPaymentNotFound
		}
		if current.Status == constants.PaymentStatusSuccess {
			*payment = current
			return nil
		}

		switch transition.Kind {
		case TransitionAwaitRedirect:
			changed := false
			if transition.SessionToken != "" && current.SessionToken != transition.SessionToken {
				current.SessionToken = transition.SessionToken
				changed = true
			}
			if current.Status == constants.PaymentStatusInitiated {
				current.Status = constants.PaymentStatusPending
				changed = true
			}
			if !changed {
				*payment = current
				return nil
			}
			current.UpdatedAt = now
		case TransitionConfirm:
			current.Status = constants.PaymentStatusSuccess
			current.PaidAt = &now
			current.CallbackAt = &now
			current.UpdatedAt = now
			if remote != nil {
				current.ProviderPayload = models.JSON(remote.Raw)
			}
		case TransitionFail:
			status := constants.PaymentStatusFailed
			if remote != nil && remote.Status == cashfree.OrderStatusExpired {
				status = constants.PaymentStatusExpired
				current.ExpiredAt = &now
			}
			current.Status = status
			current.CallbackAt = &now
			current.UpdatedAt = now
			if remote != nil {
				current.ProviderPayload = models.JSON(remote.Raw)
			}
		case TransitionReject:
			log.Errorw("payment_reconcile_rejected", "reason", transition.Reason)
			current.Status = constants.PaymentStatusFailed
			current.CallbackAt = &now
			current.UpdatedAt = now
			if remote != nil {
				current.ProviderPayload = models.JSON(remote.Raw)
			}
		default:
			return ErrPaymentStatusInvalid
		}

		if err := s.paymentRepo.WithTx(tx).Update(&current); err != nil {
			return ErrPaymentUpdateFailed
		}
		if transition.Kind == TransitionConfirm {
			if err := s.markOrderPaid(tx, current.OrderID, now); err != nil {
				return err
			}
		}
		*payment = current
		return nil
	})
}

// markOrderPaid 在事务内将订单更新为已支付
// 已支付订单直接跳过，保证确认路径幂等
func (s *PaymentService) markOrderPaid(tx *gorm.DB, orderID uint, now time.Time) error {
	var order models.Order
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOrderNotFound
		}
		return ErrOrderFetchFailed
	}
	if order.Status == constants.OrderStatusPaid {
		return nil
	}
	if order.Status != constants.OrderStatusPendingPayment {
		return ErrOrderStatusInvalid
	}
	if err := s.orderRepo.WithTx(tx).UpdateStatus(order.ID, constants.OrderStatusPaid, map[string]interface{}{
		"paid_at":    now,
		"updated_at": now,
	}); err != nil {
		return ErrOrderUpdateFailed
	}
	return nil
}

// SweepPendingPayments 轮询未终态支付并与远端对账
func (s *PaymentService) SweepPendingPayments(ctx context.Context, limit int) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cutoff := time.Now().Add(-2 * time.Minute)
	payments, err := s.paymentRepo.ListPendingCreatedBefore(cutoff, limit)
	if err != nil {
		return 0, ErrPaymentUpdateFailed
	}
	processed := 0
	for idx := range payments {
		payment := &payments[idx]
		if _, err := s.SyncPaymentFromRemote(ctx, payment); err != nil {
			paymentLogger("payment_no", payment.PaymentNo).Warnw("payment_sweep_sync_failed", "error", err)
			continue
		}
		processed++
	}
	return processed, nil
}

// GetPayment 获取支付记录
func (s *PaymentService) GetPayment(id uint) (*models.Payment, error) {
	payment, err := s.paymentRepo.GetByID(id)
	if err != nil {
		return nil, ErrPaymentUpdateFailed
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

// GetPaymentByNo 根据支付单号获取支付记录
func (s *PaymentService) GetPaymentByNo(paymentNo string) (*models.Payment, error) {
	payment, err := s.paymentRepo.GetByPaymentNo(paymentNo)
	if err != nil {
		return nil, ErrPaymentUpdateFailed
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

// ListPayments 管理端支付列表
func (s *PaymentService) ListPayments(filter repository.PaymentListFilter) ([]models.Payment, int64, error) {
	return s.paymentRepo.ListAdmin(filter)
}

// ListWebhookEvents 管理端回调事件列表
func (s *PaymentService) ListWebhookEvents(filter repository.WebhookEventListFilter) ([]models.PaymentWebhookEvent, int64, error) {
	return s.webhookEventRepo.ListAdmin(filter)
}

func (s *PaymentService) markPaymentFailedQuietly(payment *models.Payment) {
	if payment == nil {
		return
	}
	now := time.Now()
	payment.Status = constants.PaymentStatusFailed
	payment.UpdatedAt = now
	if err := s.paymentRepo.Update(payment); err != nil {
		paymentLogger("payment_no", payment.PaymentNo).Warnw("payment_mark_failed_failed", "error", err)
	}
}

func (s *PaymentService) publicBaseURL() string {
	if s.appCfg == nil {
		return ""
	}
	return strings.TrimRight(strings.TrimSpace(s.appCfg.Server.PublicBaseURL), "/")
}

func (s *PaymentService) buildReturnURL(paymentNo string) string {
	base := s.publicBaseURL() + "/pay/cashfree/return"
	// {order_id} 由 Cashfree 在跳转时替换为远端订单号
	return appendURLQuery(base, map[string]string{"payment": paymentNo}) + "&cf_order={order_id}"
}

func (s *PaymentService) buildNotifyURL() string {
	base := s.publicBaseURL()
	if s.appCfg != nil {
		if override := strings.TrimRight(strings.TrimSpace(s.appCfg.Cashfree.NotifyBaseURL), "/"); override != "" {
			base = override
		}
	}
	if base == "" {
		return ""
	}
	return base + "/pay/cashfree/webhook"
}

func (s *PaymentService) buildRedirectPageURL(paymentNo string) string {
	return appendURLQuery(s.publicBaseURL()+"/pay/cashfree/redirect", map[string]string{"payment": paymentNo})
}

func mapCashfreeGatewayError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, cashfree.ErrConfigInvalid):
		return ErrPaymentChannelConfigInvalid
	case errors.Is(err, cashfree.ErrSignatureInvalid):
		return ErrPaymentSignatureInvalid
	case errors.Is(err, cashfree.ErrResponseInvalid):
		return ErrPaymentGatewayResponseInvalid
	case errors.Is(err, cashfree.ErrRequestFailed):
		return ErrPaymentGatewayRequestFailed
	default:
		return ErrPaymentGatewayRequestFailed
	}
}

func pickFirstNonEmpty(values ...string) string {
	for _, val := range values {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func generatePaymentNo() string {
	now := time.Now().Format("20060102150405")
	return fmt.Sprintf("TN%s%s", now, randNumericCode(6))
}

func randNumericCode(length int) string {
	if length <= 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			b.WriteString("0")
			continue
		}
		b.WriteString(strconv.FormatInt(n.Int64(), 10))
	}
	return b.String()
}

func appendURLQuery(rawURL string, params map[string]string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	query := parsed.Query()
	for key, value := range params {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		query.Set(key, value)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}
