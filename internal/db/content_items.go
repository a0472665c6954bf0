package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bobarin/reels/internal/models"
	"github.com/google/uuid"
)

const contentItemColumns = `
	id, user_id, type, title, status, style, format, duration,
	media_urls, generated_media_url, caption, hashtags, hook_text,
	cta_text, music_url, music_prompt, scheduled_at, created_at, updated_at
`

func scanContentItem(row interface{ Scan(...any) error }, item *models.ContentItem) error {
	return row.Scan(
		&item.ID, &item.UserID, &item.Type, &item.Title, &item.Status,
		&item.Style, &item.Format, &item.Duration,
		&item.MediaURLs, &item.GeneratedMediaURL, &item.Caption, &item.Hashtags,
		&item.HookText, &item.CTAText, &item.MusicURL, &item.MusicPrompt,
		&item.ScheduledAt, &item.CreatedAt, &item.UpdatedAt,
	)
}

func (db *DB) GetContentItem(ctx context.Context, id uuid.UUID) (*models.ContentItem, error) {
	query := `SELECT ` + contentItemColumns + ` FROM content_items WHERE id = $1`

	item := &models.ContentItem{}
	err := scanContentItem(db.QueryRowContext(ctx, query, id), item)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("content item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get content item: %w", err)
	}

	return item, nil
}

// UpdateContentStatus sets only the status column.
func (db *DB) UpdateContentStatus(ctx context.Context, id uuid.UUID, status models.ContentStatus) error {
	query := `UPDATE content_items SET status = $2, updated_at = NOW() WHERE id = $1`

	res, err := db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update content status: %w", err)
	}
	return expectOneRow(res, id)
}

// SaveRenderResult writes the final render outcome in a single update.
func (db *DB) SaveRenderResult(ctx context.Context, id uuid.UUID, result models.RenderResult) error {
	hashtags := result.Hashtags
	if hashtags == nil {
		hashtags = models.StringList{}
	}

	query := `
		UPDATE content_items SET
			status = $2,
			generated_media_url = $3,
			music_url = $4,
			caption = $5,
			hashtags = $6,
			hook_text = $7,
			cta_text = $8,
			media_urls = CASE WHEN $9 THEN '[]'::jsonb ELSE media_urls END,
			updated_at = NOW()
		WHERE id = $1
	`

	res, err := db.ExecContext(
		ctx, query,
		id, result.Status, result.GeneratedMediaURL, result.MusicURL,
		result.Caption, hashtags, result.HookText, result.CTAText,
		result.ClearMediaURLs,
	)
	if err != nil {
		return fmt.Errorf("failed to save render result: %w", err)
	}
	return expectOneRow(res, id)
}

// ClearMediaURLs empties the source clip list after all rushes were deleted.
func (db *DB) ClearMediaURLs(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE content_items SET media_urls = '[]'::jsonb, updated_at = NOW() WHERE id = $1`

	res, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to clear media urls: %w", err)
	}
	return expectOneRow(res, id)
}

// ListStaleRushItems returns rendered items that still reference source
// clips and have not been touched since olderThan.
func (db *DB) ListStaleRushItems(ctx context.Context, olderThan time.Time) ([]models.ContentItem, error) {
	query := `SELECT ` + contentItemColumns + `
		FROM content_items
		WHERE generated_media_url IS NOT NULL
		  AND jsonb_array_length(media_urls) > 0
		  AND updated_at < $1
		ORDER BY updated_at
	`

	rows, err := db.QueryContext(ctx, query, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale items: %w", err)
	}
	defer rows.Close()

	var items []models.ContentItem
	for rows.Next() {
		var item models.ContentItem
		if err := scanContentItem(rows, &item); err != nil {
			return nil, fmt.Errorf("failed to scan content item: %w", err)
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

func expectOneRow(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("content item %s: %w", id, ErrNotFound)
	}
	return nil
}
