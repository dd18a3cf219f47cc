package service

import (
	"context"
	"log/slog"
	"time"
)

// OrphanAuditor periodically counts blobs that nothing references and logs
// the result. Blobs are immutable and never garbage-collected, so the
// auditor only reports; it deletes nothing.
type OrphanAuditor struct {
	repo     Repository
	interval time.Duration
	done     chan struct{}
}

// NewOrphanAuditor creates a new auditor.
func NewOrphanAuditor(repo Repository, interval time.Duration) *OrphanAuditor {
	return &OrphanAuditor{
		repo:     repo,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the audit loop in a background goroutine.
func (a *OrphanAuditor) Start(ctx context.Context) {
	slog.Info("orphan auditor started", "interval", a.interval)

	go func() {
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()

		// Run once immediately on start
		a.runAudit(ctx)

		for {
			select {
			case <-ticker.C:
				a.runAudit(ctx)
			case <-ctx.Done():
				slog.Info("orphan auditor stopping")
				close(a.done)
				return
			}
		}
	}()
}

// Wait blocks until the auditor has fully stopped.
func (a *OrphanAuditor) Wait() {
	<-a.done
}

func (a *OrphanAuditor) runAudit(ctx context.Context) {
	orphans, err := a.repo.CountOrphanFiles(ctx)
	if err != nil {
		slog.Error("failed to count orphan files", "error", err)
		return
	}

	if orphans == 0 {
		slog.Info("orphan audit complete", "orphans", 0)
		return
	}

	slog.Warn("orphaned blobs present", "orphans", orphans)
}
