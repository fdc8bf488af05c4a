// Package catalog reads product prices from the catalog owned by another service.
package catalog

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusstore-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/campusstore-backend/pkg/errors"
)

// Reader resolves the products referenced by an order.
type Reader interface {
	// Products returns every requested product keyed by id. Unknown or
	// inactive products fail the whole lookup.
	Products(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error)
}

type reader struct {
	db *gorm.DB
}

func NewReader(db *gorm.DB) Reader {
	return &reader{db: db}
}

func (r *reader) Products(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]models.Product{}, nil
	}
	var rows []models.Product
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}
	byID := make(map[uuid.UUID]models.Product, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	for _, id := range ids {
		product, ok := byID[id]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
				WithDetails(map[string]any{"product_id": id.String()})
		}
		if !product.IsActive {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product is no longer available").
				WithDetails(map[string]any{"product_id": id.String()})
		}
	}
	return byID, nil
}
