package repository

import (
	"strings"

	"github.com/tickets-next/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaymentReferenceRepository 远端订单号映射数据访问接口
type PaymentReferenceRepository interface {
	Upsert(reference string, paymentID *uint) error
	Lookup(reference string) (*models.PaymentReference, error)
	WithTx(tx *gorm.DB) *GormPaymentReferenceRepository
}

// GormPaymentReferenceRepository GORM 实现
type GormPaymentReferenceRepository struct {
	db *gorm.DB
}

// NewPaymentReferenceRepository 创建映射仓库
func NewPaymentReferenceRepository(db *gorm.DB) *GormPaymentReferenceRepository {
	return &GormPaymentReferenceRepository{db: db}
}

// WithTx 绑定事务
func (r *GormPaymentReferenceRepository) WithTx(tx *gorm.DB) *GormPaymentReferenceRepository {
	if tx == nil {
		return r
	}
	return &GormPaymentReferenceRepository{db: tx}
}

// Upsert 写入或更新映射
// reference 唯一，重复写入时只更新指向的支付ID
func (r *GormPaymentReferenceRepository) Upsert(reference string, paymentID *uint) error {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil
	}
	row := models.PaymentReference{
		Reference: reference,
		PaymentID: paymentID,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "reference"}},
		DoUpdates: clause.AssignmentColumns([]string{"payment_id", "updated_at"}),
	}).Create(&row).Error
}

// Lookup 根据远端订单号查询映射，未命中返回 nil
func (r *GormPaymentReferenceRepository) Lookup(reference string) (*models.PaymentReference, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, nil
	}
	var row models.PaymentReference
	result := r.db.Where("reference = ?", reference).Limit(1).Find(&row)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &row, nil
}
