// Package coupons prices coupon discounts and tracks their usage.
package coupons

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusstore-backend/pkg/db/models"
	"github.com/angelmondragon/campusstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusstore-backend/pkg/errors"
)

var hundred = decimal.NewFromInt(100)

// Quote is the discount a coupon yields for a subtotal.
type Quote struct {
	Code          string
	DiscountCents int64
	// Applied is false when the coupon exists but its usage limit is spent.
	Applied bool
}

type Service interface {
	Quote(ctx context.Context, code string, subtotalCents int64, now time.Time) (*Quote, error)
	// Redeem counts one use inside tx. It fails with CodeConflict when the
	// limit was reached after the quote.
	Redeem(ctx context.Context, tx *gorm.DB, code string) error
}

type service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) (Service, error) {
	if db == nil {
		return nil, fmt.Errorf("database required")
	}
	return &service{db: db}, nil
}

func (s *service) Quote(ctx context.Context, code string, subtotalCents int64, now time.Time) (*Quote, error) {
	code = Normalize(code)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon code required")
	}
	var coupon models.Coupon
	if err := s.db.WithContext(ctx).Where("code = ?", code).First(&coupon).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid coupon code").
				WithDetails(map[string]any{"coupon_code": code})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load coupon")
	}
	if !coupon.IsActive || (coupon.ExpiresAt != nil && !now.Before(*coupon.ExpiresAt)) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon is no longer valid").
			WithDetails(map[string]any{"coupon_code": code})
	}
	if !HasUsesLeft(coupon) {
		return &Quote{Code: code}, nil
	}
	return &Quote{Code: code, DiscountCents: Discount(coupon, subtotalCents), Applied: true}, nil
}

func (s *service) Redeem(ctx context.Context, tx *gorm.DB, code string) error {
	res := tx.WithContext(ctx).
		Model(&models.Coupon{}).
		Where("code = ? AND (usage_limit = 0 OR usage_count < usage_limit)", Normalize(code)).
		Update("usage_count", gorm.Expr("usage_count + 1"))
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "redeem coupon")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "coupon usage limit reached")
	}
	return nil
}

// HasUsesLeft reports whether the coupon may still be applied. A zero limit is unlimited.
func HasUsesLeft(c models.Coupon) bool {
	return c.UsageLimit == 0 || c.UsageCount < c.UsageLimit
}

// Discount returns the discount in cents, rounded half up and never above the subtotal.
func Discount(c models.Coupon, subtotalCents int64) int64 {
	if subtotalCents <= 0 || c.DiscountValue.Sign() <= 0 {
		return 0
	}
	var amount decimal.Decimal
	switch c.DiscountType {
	case enums.DiscountPercent:
		amount = decimal.NewFromInt(subtotalCents).Mul(c.DiscountValue).Div(hundred)
	case enums.DiscountFixed:
		amount = c.DiscountValue.Mul(hundred)
	default:
		return 0
	}
	cents := amount.Round(0).IntPart()
	if c.MaxDiscount != nil && cents > *c.MaxDiscount {
		cents = *c.MaxDiscount
	}
	if cents > subtotalCents {
		cents = subtotalCents
	}
	return cents
}

func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
