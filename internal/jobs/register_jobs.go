package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
)

// ScheduleRecurringJobs starts the background scheduler. The caller stops it
// on shutdown.
func ScheduleRecurringJobs(auditor LedgerAuditor, auditInterval time.Duration) (*gocron.Scheduler, error) {
	scheduler := gocron.NewScheduler(time.UTC)

	audit := NewLedgerAuditJob(auditor)
	_, err := scheduler.Every(auditInterval).SingletonMode().Do(func() {
		_, _ = audit.Run(context.Background())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule ledger audit: %w", err)
	}

	scheduler.StartAsync()
	return scheduler, nil
}
