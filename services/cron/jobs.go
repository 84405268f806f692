package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/sahilchouksey/study-ingest/model"
)

// PromoteDelayedTasks moves scheduled uploads whose publish date has passed
// onto the ready queue
func (m *CronManager) PromoteDelayedTasks() {
	m.runJob("promote_delayed_tasks", func(ctx context.Context) (string, error) {
		n, err := m.promoter.PromoteDue(ctx, time.Now())
		if err != nil {
			return "", fmt.Errorf("failed to promote tasks: %w", err)
		}
		return fmt.Sprintf("Promoted %d tasks", n), nil
	})
}

// FailStaleTasks fails tasks that have been processing for longer than the
// configured limit, which releases their quota
func (m *CronManager) FailStaleTasks() {
	m.runJob("fail_stale_tasks", func(ctx context.Context) (string, error) {
		n, err := m.tasks.FailStaleTasks(ctx, m.staleAfter)
		if err != nil {
			return "", fmt.Errorf("failed to sweep stale tasks: %w", err)
		}
		return fmt.Sprintf("Failed %d stale tasks", n), nil
	})
}

// CleanupOldLogs removes job logs older than CronLogRetention
func (m *CronManager) CleanupOldLogs() {
	m.runJob("cleanup_cron_logs", func(ctx context.Context) (string, error) {
		cutoff := time.Now().Add(-CronLogRetention)
		result := m.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&model.CronJobLog{})
		if result.Error != nil {
			return "", fmt.Errorf("failed to clean cron logs: %w", result.Error)
		}
		return fmt.Sprintf("Cleaned %d old cron logs", result.RowsAffected), nil
	})
}
