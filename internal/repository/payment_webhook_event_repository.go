package repository

import (
	"strings"

	"github.com/tickets-next/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaymentWebhookEventRepository 回调事件数据访问接口
type PaymentWebhookEventRepository interface {
	InsertIfAbsent(event *models.PaymentWebhookEvent) (bool, error)
	GetByRemotePaymentID(remotePaymentID string) (*models.PaymentWebhookEvent, error)
	ListAdmin(filter WebhookEventListFilter) ([]models.PaymentWebhookEvent, int64, error)
	WithTx(tx *gorm.DB) *GormPaymentWebhookEventRepository
}

// GormPaymentWebhookEventRepository GORM 实现
type GormPaymentWebhookEventRepository struct {
	db *gorm.DB
}

// NewPaymentWebhookEventRepository 创建回调事件仓库
func NewPaymentWebhookEventRepository(db *gorm.DB) *GormPaymentWebhookEventRepository {
	return &GormPaymentWebhookEventRepository{db: db}
}

// WithTx 绑定事务
func (r *GormPaymentWebhookEventRepository) WithTx(tx *gorm.DB) *GormPaymentWebhookEventRepository {
	if tx == nil {
		return r
	}
	return &GormPaymentWebhookEventRepository{db: tx}
}

// InsertIfAbsent 原子写入回调事件
// 依赖 remote_payment_id 的唯一索引：已存在时不报错且返回 false，
// 调用方以返回值判定事件是否首次受理
func (r *GormPaymentWebhookEventRepository) InsertIfAbsent(event *models.PaymentWebhookEvent) (bool, error) {
	if event == nil || strings.TrimSpace(event.RemotePaymentID) == "" {
		return false, nil
	}
	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "remote_payment_id"}},
		DoNothing: true,
	}).Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GetByRemotePaymentID 根据远端支付流水号获取事件
func (r *GormPaymentWebhookEventRepository) GetByRemotePaymentID(remotePaymentID string) (*models.PaymentWebhookEvent, error) {
	remotePaymentID = strings.TrimSpace(remotePaymentID)
	if remotePaymentID == "" {
		return nil, nil
	}
	var event models.PaymentWebhookEvent
	result := r.db.Where("remote_payment_id = ?", remotePaymentID).Limit(1).Find(&event)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &event, nil
}

// ListAdmin 管理端回调事件列表
func (r *GormPaymentWebhookEventRepository) ListAdmin(filter WebhookEventListFilter) ([]models.PaymentWebhookEvent, int64, error) {
	query := r.db.Model(&models.PaymentWebhookEvent{})

	if filter.EventType != "" {
		query = query.Where("event_type = ?", filter.EventType)
	}
	if filter.OrderNo != "" {
		query = query.Where("order_no = ?", filter.OrderNo)
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		query = query.Where("created_at <= ?", *filter.CreatedTo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = applyPagination(query, filter.Page, filter.PageSize)

	var events []models.PaymentWebhookEvent
	if err := query.Order("id desc").Find(&events).Error; err != nil {
		return nil, 0, err
	}
	return events, total, nil
}
