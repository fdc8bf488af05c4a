package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusstore-backend/pkg/db/models"
	"github.com/angelmondragon/campusstore-backend/pkg/pagination"
)

// Repository persists ledgers, their append-only movements, and the current alert set.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, ledger *models.StockLedger) error
	FindByProductID(ctx context.Context, productID uuid.UUID) (*models.StockLedger, error)
	// CompareAndSwap writes next only if the stored version still equals expected.
	CompareAndSwap(ctx context.Context, next models.StockLedger, expected int64) (bool, error)
	AppendMovements(ctx context.Context, movements []models.StockMovement) error
	ListMovements(ctx context.Context, productID uuid.UUID, cursor *pagination.SequenceCursor, limit int) ([]models.StockMovement, error)
	LastMovement(ctx context.Context, productID uuid.UUID) (*models.StockMovement, error)
	AlertsFor(ctx context.Context, productID uuid.UUID) ([]models.StockAlert, error)
	ReplaceAlerts(ctx context.Context, productID uuid.UUID, alerts []models.StockAlert) error
	ListActiveAlerts(ctx context.Context, kinds []string) ([]models.StockAlert, error)
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

func (r *repository) Create(ctx context.Context, ledger *models.StockLedger) error {
	return r.db.WithContext(ctx).Create(ledger).Error
}

func (r *repository) FindByProductID(ctx context.Context, productID uuid.UUID) (*models.StockLedger, error) {
	var ledger models.StockLedger
	if err := r.db.WithContext(ctx).Where("product_id = ?", productID).First(&ledger).Error; err != nil {
		return nil, err
	}
	return &ledger, nil
}

func (r *repository) CompareAndSwap(ctx context.Context, next models.StockLedger, expected int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.StockLedger{}).
		Where("product_id = ? AND version = ?", next.ProductID, expected).
		Updates(map[string]any{
			"current_stock":       next.CurrentStock,
			"reserved_stock":      next.ReservedStock,
			"low_stock_threshold": next.LowStockThreshold,
			"reorder_level":       next.ReorderLevel,
			"max_stock_level":     next.MaxStockLevel,
			"expires_at":          next.ExpiresAt,
			"version":             next.Version,
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) AppendMovements(ctx context.Context, movements []models.StockMovement) error {
	if len(movements) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&movements).Error
}

func (r *repository) ListMovements(ctx context.Context, productID uuid.UUID, cursor *pagination.SequenceCursor, limit int) ([]models.StockMovement, error) {
	query := r.db.WithContext(ctx).Where("product_id = ?", productID)
	if cursor != nil {
		query = query.Where("(ledger_version < ?) OR (ledger_version = ? AND position < ?)", cursor.Version, cursor.Version, cursor.Position)
	}
	var rows []models.StockMovement
	err := query.Order("ledger_version DESC").Order("position DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *repository) LastMovement(ctx context.Context, productID uuid.UUID) (*models.StockMovement, error) {
	var row models.StockMovement
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("ledger_version DESC").
		Order("position DESC").
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) AlertsFor(ctx context.Context, productID uuid.UUID) ([]models.StockAlert, error) {
	var rows []models.StockAlert
	err := r.db.WithContext(ctx).Where("product_id = ? AND active = ?", productID, true).Find(&rows).Error
	return rows, err
}

func (r *repository) ReplaceAlerts(ctx context.Context, productID uuid.UUID, alerts []models.StockAlert) error {
	if err := r.db.WithContext(ctx).Where("product_id = ?", productID).Delete(&models.StockAlert{}).Error; err != nil {
		return err
	}
	if len(alerts) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&alerts).Error
}

func (r *repository) ListActiveAlerts(ctx context.Context, kinds []string) ([]models.StockAlert, error) {
	query := r.db.WithContext(ctx).Where("active = ?", true)
	if len(kinds) > 0 {
		query = query.Where("kind IN ?", kinds)
	}
	var rows []models.StockAlert
	err := query.Order("raised_at DESC").Order("product_id ASC").Find(&rows).Error
	return rows, err
}
