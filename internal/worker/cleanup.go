package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// StartCleanup schedules the stale source sweep and starts the scheduler.
// The caller stops the returned cron on shutdown.
func (w *Worker) StartCleanup(ctx context.Context, schedule string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		w.log.Info().Msg("cleanup sweep triggered")
		if err := w.SweepStaleSources(ctx); err != nil {
			w.log.Error().Err(err).Msg("cleanup sweep failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add cleanup job: %w", err)
	}

	c.Start()
	w.log.Info().Str("schedule", schedule).Msg("cleanup sweep scheduled")
	return c, nil
}

// SweepStaleSources retries source deletion for rendered items that still
// list their rushes. The full list is retried every time and cleared only
// when every key is gone.
func (w *Worker) SweepStaleSources(ctx context.Context) error {
	items, err := w.Content.ListStaleRushItems(ctx, time.Now().Add(-w.opts.CleanupStaleAfter))
	if err != nil {
		return err
	}

	cleared := 0
	for _, item := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log := w.log.With().
			Str("user_id", item.UserID.String()).
			Str("content_item_id", item.ID.String()).
			Logger()

		if !w.deleteSources(ctx, log, item.MediaURLs) {
			continue
		}
		if err := w.Content.ClearMediaURLs(ctx, item.ID); err != nil {
			log.Error().Err(err).Msg("failed to clear media urls")
			continue
		}
		cleared++
	}

	w.log.Info().Int("candidates", len(items)).Int("cleared", cleared).Msg("cleanup sweep complete")
	return nil
}
