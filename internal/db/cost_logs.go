package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// LogCost records the estimated spend of one external API call.
func (db *DB) LogCost(ctx context.Context, userID uuid.UUID, service, endpoint string, costUSD float64) error {
	query := `
		INSERT INTO api_cost_logs (user_id, service, endpoint, cost_usd)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := db.ExecContext(ctx, query, userID, service, endpoint, fmt.Sprintf("%.4f", costUSD)); err != nil {
		return fmt.Errorf("failed to log cost: %w", err)
	}
	return nil
}
