package jobs

import (
	"context"
	"time"

	"github.com/gemxhub/backend/internal/services/wallet"
	"github.com/gemxhub/backend/pkg/logger"
	"go.uber.org/zap"
)

// LedgerAuditor finds wallets whose balance disagrees with their ledger
type LedgerAuditor interface {
	FindLedgerMismatches(ctx context.Context) ([]wallet.LedgerMismatch, error)
}

// LedgerAuditJob periodically checks that every balance equals the sum of
// its transactions. Mismatches are logged, never repaired.
type LedgerAuditJob struct {
	auditor LedgerAuditor
	timeout time.Duration
}

// NewLedgerAuditJob creates a new ledger audit job
func NewLedgerAuditJob(auditor LedgerAuditor) *LedgerAuditJob {
	return &LedgerAuditJob{auditor: auditor, timeout: 5 * time.Minute}
}

// Run performs one audit pass
func (j *LedgerAuditJob) Run(ctx context.Context) ([]wallet.LedgerMismatch, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	started := time.Now()
	mismatches, err := j.auditor.FindLedgerMismatches(ctx)
	if err != nil {
		logger.Log.Error("ledger audit failed", zap.Error(err))
		return nil, err
	}

	for _, m := range mismatches {
		logger.Log.Error("ledger mismatch",
			zap.Uint("wallet_id", m.WalletID),
			zap.Uint("user_id", m.UserID),
			zap.String("currency", m.Currency),
			zap.Int64("balance", m.Balance),
			zap.Int64("ledger", m.Ledger),
		)
	}
	logger.Log.Info("ledger audit finished",
		zap.Int("mismatches", len(mismatches)),
		zap.Duration("took", time.Since(started)),
	)
	return mismatches, nil
}
