package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/campusstore-backend/pkg/enums"
)

type Coupon struct {
	Code          string             `gorm:"column:code;primaryKey"`
	DiscountType  enums.DiscountType `gorm:"column:discount_type;type:text;not null"`
	DiscountValue decimal.Decimal    `gorm:"column:discount_value;type:numeric(12,2);not null"`
	MaxDiscount   *int64             `gorm:"column:max_discount_cents"`
	UsageCount    int                `gorm:"column:usage_count;not null;default:0"`
	UsageLimit    int                `gorm:"column:usage_limit;not null;default:0"`
	IsActive      bool               `gorm:"column:is_active;not null;default:true"`
	ExpiresAt     *time.Time         `gorm:"column:expires_at"`
	CreatedAt     time.Time          `gorm:"column:created_at;autoCreateTime"`
}

func (Coupon) TableName() string { return "coupons" }
