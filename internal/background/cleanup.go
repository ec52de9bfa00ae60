package background

import (
	"context"
	"log/slog"
	"time"
)

// ExpiredRecordCleaner deletes records that expired before cutoff
type ExpiredRecordCleaner interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupManager periodically purges expired secret codes and rate-limit buckets
type CleanupManager struct {
	cleaners  map[string]ExpiredRecordCleaner
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	clock     func() time.Time
	stopCh    chan struct{}
}

// NewCleanupManager creates a new cleanup manager. Records are kept for
// retention after they expire so investigations can still read them.
func NewCleanupManager(
	cleaners map[string]ExpiredRecordCleaner,
	logger *slog.Logger,
	interval time.Duration,
	retention time.Duration,
) *CleanupManager {
	return &CleanupManager{
		cleaners:  cleaners,
		logger:    logger,
		interval:  interval,
		retention: retention,
		clock:     time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce runs every cleaner a single time. A failing cleaner does not stop the others.
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoff := cm.clock().Add(-cm.retention)
	for name, cleaner := range cm.cleaners {
		rowsDeleted, err := cleaner.DeleteExpired(cleanupCtx, cutoff)
		if err != nil {
			cm.logger.Error("failed to cleanup expired records",
				slog.String("cleaner", name),
				slog.Any("error", err),
			)
			continue
		}

		if rowsDeleted > 0 {
			cm.logger.Info("expired record cleanup completed",
				slog.String("cleaner", name),
				slog.Int64("rows_deleted", rowsDeleted),
			)
		}
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
