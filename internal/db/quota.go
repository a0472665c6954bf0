package db

import (
	"context"
	"fmt"
	"time"

	"github.com/bobarin/reels/internal/models"
	"github.com/google/uuid"
)

// PeriodStart returns the first day of the billing month containing t.
func PeriodStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// RestoreCredits gives back credits debited for an operation in the current
// period and records an audit row. credits_used never goes below zero.
func (db *DB) RestoreCredits(ctx context.Context, userID uuid.UUID, amount int, reason string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	period := PeriodStart(time.Now().UTC())

	_, err = tx.ExecContext(ctx, `
		UPDATE quota_usage
		SET credits_used = GREATEST(credits_used - $3, 0)
		WHERE user_id = $1 AND period_start = $2
	`, userID, period.Format("2006-01-02"), amount)
	if err != nil {
		return fmt.Errorf("failed to restore credits: %w", err)
	}

	metadata := models.JSONB{
		"amount":       amount,
		"reason":       reason,
		"period_start": period.Format("2006-01-02"),
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_logs (user_id, action, metadata)
		VALUES ($1, 'credits_restored', $2)
	`, userID, metadata)
	if err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit credit restore: %w", err)
	}

	return nil
}
