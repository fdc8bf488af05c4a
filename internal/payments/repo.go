package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusstore-backend/pkg/db/models"
	"github.com/angelmondragon/campusstore-backend/pkg/enums"
)

// Repository persists payments and their append-only refund rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	// UpdateVersioned applies updates only while the stored version equals expected.
	UpdateVersioned(ctx context.Context, id uuid.UUID, expected int64, updates map[string]any) (bool, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, gatewayPaymentID string, at time.Time) (bool, error)
	CreateRefund(ctx context.Context, refund *models.Refund) error
	FindRefund(ctx context.Context, id uuid.UUID) (*models.Refund, error)
	TransitionRefund(ctx context.Context, id uuid.UUID, from enums.RefundStatus, updates map[string]any) (bool, error)
	SetGatewayRefundID(ctx context.Context, id uuid.UUID, gatewayRefundID string) error
	ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]models.Refund, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) UpdateVersioned(ctx context.Context, id uuid.UUID, expected int64, updates map[string]any) (bool, error) {
	fields := make(map[string]any, len(updates)+2)
	for k, v := range updates {
		fields[k] = v
	}
	fields["version"] = expected + 1
	fields["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND version = ?", id, expected).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) MarkCompleted(ctx context.Context, id uuid.UUID, gatewayPaymentID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, enums.PaymentStatusPending).
		Updates(map[string]any{
			"status":             enums.PaymentStatusCompleted,
			"gateway_payment_id": gatewayPaymentID,
			"completed_at":       at,
			"version":            gorm.Expr("version + 1"),
			"updated_at":         at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CreateRefund(ctx context.Context, refund *models.Refund) error {
	return r.db.WithContext(ctx).Create(refund).Error
}

func (r *repository) FindRefund(ctx context.Context, id uuid.UUID) (*models.Refund, error) {
	var refund models.Refund
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&refund).Error; err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *repository) TransitionRefund(ctx context.Context, id uuid.UUID, from enums.RefundStatus, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) SetGatewayRefundID(ctx context.Context, id uuid.UUID, gatewayRefundID string) error {
	return r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Where("id = ?", id).
		Update("gateway_refund_id", gatewayRefundID).Error
}

func (r *repository) ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]models.Refund, error) {
	var rows []models.Refund
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}
