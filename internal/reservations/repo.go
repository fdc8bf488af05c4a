package reservations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusstore-backend/pkg/db/models"
	"github.com/angelmondragon/campusstore-backend/pkg/enums"
)

// Repository persists reservation rows. Status changes go through Transition
// so concurrent claimants resolve on the row itself.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByKey(ctx context.Context, productID, orderID uuid.UUID, variant string) (*models.StockReservation, error)
	Create(ctx context.Context, reservation *models.StockReservation) error
	Reactivate(ctx context.Context, id uuid.UUID, qty int, actor uuid.UUID, expiresAt time.Time) (bool, error)
	Transition(ctx context.Context, id uuid.UUID, from, to enums.ReservationStatus) (bool, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.StockReservation, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.StockReservation, error)
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

func (r *repository) FindByKey(ctx context.Context, productID, orderID uuid.UUID, variant string) (*models.StockReservation, error) {
	var row models.StockReservation
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND order_id = ? AND variant = ?", productID, orderID, variant).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) Create(ctx context.Context, reservation *models.StockReservation) error {
	return r.db.WithContext(ctx).Create(reservation).Error
}

func (r *repository) Reactivate(ctx context.Context, id uuid.UUID, qty int, actor uuid.UUID, expiresAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.StockReservation{}).
		Where("id = ? AND status IN ?", id, []string{string(enums.ReservationReleased), string(enums.ReservationExpired)}).
		Updates(map[string]any{
			"status":     enums.ReservationActive,
			"quantity":   qty,
			"actor_id":   actor,
			"expires_at": expiresAt,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, from, to enums.ReservationStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.StockReservation{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.StockReservation, error) {
	var rows []models.StockReservation
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.StockReservation, error) {
	var rows []models.StockReservation
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", enums.ReservationActive, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
