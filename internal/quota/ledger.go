// Package quota enforces per-account storage caps for mirrored content.
package quota

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hxlab/bookmirror/internal/ingest"
)

// Ledger tracks byte consumption per storage account. It holds no state of
// its own: reads and the atomic increment go through the account store, so
// concurrent crawls sharing an account serialize at the database.
type Ledger struct {
	accounts   ingest.AccountStore
	defaultCap int64
	logger     *zap.Logger
}

// NewLedger builds a Ledger. defaultCap applies to accounts whose row
// carries no cap of its own.
func NewLedger(accounts ingest.AccountStore, defaultCap int64, logger *zap.Logger) *Ledger {
	return &Ledger{
		accounts:   accounts,
		defaultCap: defaultCap,
		logger:     logger,
	}
}

// Resolve looks up the destination account by exact email match. An unknown
// email is a hard failure; the pipeline never falls back to a default
// account.
func (l *Ledger) Resolve(ctx context.Context, email string) (ingest.StorageAccount, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return ingest.StorageAccount{}, fmt.Errorf("account email is required: %w", ingest.ErrAccountNotFound)
	}
	account, err := l.accounts.AccountByEmail(ctx, email)
	if err != nil {
		return ingest.StorageAccount{}, fmt.Errorf("resolve account %q: %w", email, err)
	}
	return account, nil
}

// CheckCapacity rejects accounts at or over their soft cap. A commit that
// pushed the account slightly over is allowed to stand; this check stops
// the next write.
func (l *Ledger) CheckCapacity(account ingest.StorageAccount) error {
	cap := account.CapBytes
	if cap <= 0 {
		cap = l.defaultCap
	}
	if account.BytesUsed >= cap {
		l.logger.Warn("storage account at capacity",
			zap.String("account", account.Name),
			zap.Int64("bytes_used", account.BytesUsed),
			zap.Int64("cap_bytes", cap))
		return fmt.Errorf("account %q holds %d of %d bytes: %w",
			account.Name, account.BytesUsed, cap, ingest.ErrQuotaExceeded)
	}
	return nil
}

// Commit atomically adds delta to the account's consumed bytes. It is only
// called after a batch of chapters persisted, never speculatively, so a
// mid-traversal failure leaves the ledger matching the committed chapters.
func (l *Ledger) Commit(ctx context.Context, accountName string, delta int64) error {
	if delta <= 0 {
		return nil
	}
	if err := l.accounts.AddBytesUsed(ctx, accountName, delta); err != nil {
		return fmt.Errorf("commit %d bytes to account %q: %w", delta, accountName, err)
	}
	return nil
}
