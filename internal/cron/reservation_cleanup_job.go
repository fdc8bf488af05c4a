package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/campusstore-backend/pkg/logger"
)

type reservationCleaner interface {
	CleanupExpired(ctx context.Context, now time.Time) (int, error)
}

type ReservationCleanupJobParams struct {
	Logger       *logger.Logger
	Reservations reservationCleaner
}

func NewReservationCleanupJob(params ReservationCleanupJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reservations == nil {
		return nil, fmt.Errorf("reservations service required")
	}
	return &reservationCleanupJob{
		logg:         params.Logger,
		reservations: params.Reservations,
		now:          time.Now,
	}, nil
}

// reservationCleanupJob hands expired holds back to available stock.
type reservationCleanupJob struct {
	logg         *logger.Logger
	reservations reservationCleaner
	now          func() time.Time
}

func (j *reservationCleanupJob) Name() string { return "reservation-cleanup" }

func (j *reservationCleanupJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	released, err := j.reservations.CleanupExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("reservation cleanup: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"as_of":    now,
		"released": released,
	}), "expired reservations released")
	return nil
}
