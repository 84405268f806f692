package cron

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sahilchouksey/study-ingest/model"
	"github.com/sahilchouksey/study-ingest/utils"
	"gorm.io/gorm"
)

const (
	// DefaultStaleAfter is how long a task may stay processing before the
	// sweep fails it
	DefaultStaleAfter = time.Hour
	// CronLogRetention is how long job logs are kept
	CronLogRetention = 90 * 24 * time.Hour

	jobTimeout = 10 * time.Minute
)

// TaskPromoter moves scheduled tasks whose publish date has passed onto the
// ready queue
type TaskPromoter interface {
	PromoteDue(ctx context.Context, now time.Time) (int, error)
}

// StaleTaskFailer fails tasks stuck in processing
type StaleTaskFailer interface {
	FailStaleTasks(ctx context.Context, olderThan time.Duration) (int, error)
}

// CronManager manages all scheduled cron jobs
type CronManager struct {
	cron       *cron.Cron
	db         *gorm.DB
	promoter   TaskPromoter
	tasks      StaleTaskFailer
	staleAfter time.Duration
	log        *utils.Logger
}

// NewCronManager creates a new cron manager. A zero staleAfter uses
// DefaultStaleAfter.
func NewCronManager(db *gorm.DB, promoter TaskPromoter, tasks StaleTaskFailer, staleAfter time.Duration, log *utils.Logger) *CronManager {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	// Create cron with seconds precision
	c := cron.New(cron.WithSeconds())

	return &CronManager{
		cron:       c,
		db:         db,
		promoter:   promoter,
		tasks:      tasks,
		staleAfter: staleAfter,
		log:        log.With("component", "cron"),
	}
}

// Start starts all cron jobs
func (m *CronManager) Start() error {
	m.log.Info("starting cron jobs")

	if err := m.registerJobs(); err != nil {
		return err
	}

	m.cron.Start()

	m.log.Info("cron jobs started")
	return nil
}

// Stop stops all cron jobs and waits for running ones
func (m *CronManager) Stop() {
	m.log.Info("stopping cron jobs")
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.log.Info("cron jobs stopped")
}

// registerJobs registers all cron jobs with their schedules
func (m *CronManager) registerJobs() error {
	// 1. Every 30 seconds: release scheduled tasks whose publish date passed
	_, err := m.cron.AddFunc("*/30 * * * * *", m.PromoteDelayedTasks)
	if err != nil {
		return err
	}

	// 2. Every 5 minutes: fail tasks stuck in processing
	_, err = m.cron.AddFunc("0 */5 * * * *", m.FailStaleTasks)
	if err != nil {
		return err
	}

	// 3. Daily at 2 AM: drop old job logs
	_, err = m.cron.AddFunc("0 0 2 * * *", m.CleanupOldLogs)
	if err != nil {
		return err
	}

	m.log.Info("all cron jobs registered")
	return nil
}

// runJob brackets a job with its CronJobLog row
func (m *CronManager) runJob(jobName string, job func(ctx context.Context) (string, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	entry := m.logJobStart(jobName)
	message, err := job(ctx)
	if err != nil {
		m.logJobError(entry, err)
		return
	}
	m.logJobComplete(entry, message)
}

// logJobStart records the start of a cron job
func (m *CronManager) logJobStart(jobName string) *model.CronJobLog {
	m.log.Debug("starting job", "job", jobName)

	entry := &model.CronJobLog{
		JobName:   jobName,
		Status:    model.CronJobStatusRunning,
		StartedAt: time.Now(),
	}
	if err := m.db.Create(entry).Error; err != nil {
		m.log.Warn("failed to write cron log", "job", jobName, "error", err)
	}
	return entry
}

// logJobComplete records successful completion of a cron job
func (m *CronManager) logJobComplete(entry *model.CronJobLog, message string) {
	m.log.Debug("completed job", "job", entry.JobName, "message", message)
	m.finish(entry, map[string]interface{}{
		"status":  model.CronJobStatusCompleted,
		"message": message,
	})
}

// logJobError records a cron job error
func (m *CronManager) logJobError(entry *model.CronJobLog, err error) {
	m.log.Error("job failed", "job", entry.JobName, "error", err)
	m.finish(entry, map[string]interface{}{
		"status":    model.CronJobStatusFailed,
		"error_msg": err.Error(),
	})
}

func (m *CronManager) finish(entry *model.CronJobLog, updates map[string]interface{}) {
	if entry.ID == 0 {
		return
	}
	now := time.Now()
	updates["completed_at"] = now
	updates["duration"] = now.Sub(entry.StartedAt).Milliseconds()
	if err := m.db.Model(entry).Updates(updates).Error; err != nil {
		m.log.Warn("failed to update cron log", "job", entry.JobName, "error", err)
	}
}
