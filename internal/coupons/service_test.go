package coupons

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusstore-backend/pkg/db/models"
	"github.com/angelmondragon/campusstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusstore-backend/pkg/errors"
)

func TestDiscount(t *testing.T) {
	maxTwenty := int64(2000)
	cases := []struct {
		name     string
		coupon   models.Coupon
		subtotal int64
		want     int64
	}{
		{"percent rounds half up", models.Coupon{DiscountType: enums.DiscountPercent, DiscountValue: decimal.RequireFromString("12.5")}, 999, 125},
		{"percent capped", models.Coupon{DiscountType: enums.DiscountPercent, DiscountValue: decimal.NewFromInt(50), MaxDiscount: &maxTwenty}, 10000, 2000},
		{"fixed in major units", models.Coupon{DiscountType: enums.DiscountFixed, DiscountValue: decimal.RequireFromString("15.50")}, 10000, 1550},
		{"fixed never exceeds subtotal", models.Coupon{DiscountType: enums.DiscountFixed, DiscountValue: decimal.NewFromInt(100)}, 4000, 4000},
		{"unknown type", models.Coupon{DiscountType: "bogo", DiscountValue: decimal.NewFromInt(10)}, 4000, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Discount(tc.coupon, tc.subtotal))
		})
	}
}

func TestQuoteAndRedeem(t *testing.T) {
	conn := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, conn.Create(&models.Coupon{
		Code:          "WELCOME10",
		DiscountType:  enums.DiscountPercent,
		DiscountValue: decimal.NewFromInt(10),
		UsageLimit:    1,
		IsActive:      true,
	}).Error)

	svc, err := NewService(conn)
	require.NoError(t, err)

	quote, err := svc.Quote(ctx, " welcome10 ", 5000, now)
	require.NoError(t, err)
	assert.True(t, quote.Applied)
	assert.EqualValues(t, 500, quote.DiscountCents)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return svc.Redeem(ctx, tx, quote.Code)
	}))

	err = conn.Transaction(func(tx *gorm.DB) error {
		return svc.Redeem(ctx, tx, quote.Code)
	})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeConflict), "got %v", err)

	quote, err = svc.Quote(ctx, "WELCOME10", 5000, now)
	require.NoError(t, err)
	assert.False(t, quote.Applied)
	assert.Zero(t, quote.DiscountCents)

	_, err = svc.Quote(ctx, "NOPE", 5000, now)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), "got %v", err)
}

func TestQuoteRejectsExpired(t *testing.T) {
	conn := newTestDB(t)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Hour)
	require.NoError(t, conn.Create(&models.Coupon{
		Code:          "SPRING",
		DiscountType:  enums.DiscountFixed,
		DiscountValue: decimal.NewFromInt(5),
		IsActive:      true,
		ExpiresAt:     &expired,
	}).Error)

	svc, err := NewService(conn)
	require.NoError(t, err)
	_, err = svc.Quote(context.Background(), "SPRING", 5000, now)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), "got %v", err)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:coupons_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.Coupon{}))
	return conn
}
