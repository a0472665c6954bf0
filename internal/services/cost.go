package services

import (
	"context"

	"github.com/bobarin/reels/internal/logging"
	"github.com/google/uuid"
)

// CostRecorder stores the estimated spend of external API calls.
type CostRecorder interface {
	LogCost(ctx context.Context, userID uuid.UUID, service, endpoint string, costUSD float64) error
}

// recordCost logs but never fails the caller.
func recordCost(ctx context.Context, rec CostRecorder, userID uuid.UUID, service, endpoint string, costUSD float64) {
	if rec == nil {
		return
	}
	if err := rec.LogCost(ctx, userID, service, endpoint, costUSD); err != nil {
		l := logging.WithComponent("cost")
		l.Warn().Err(err).Str("service", service).Str("endpoint", endpoint).Msg("failed to record api cost")
	}
}
