package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/upb/tavern-oracle/models"
)

// ErrCompletionLogNotFound is returned when no row matches a lookup
var ErrCompletionLogNotFound = errors.New("completion log not found")

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// CompletionLogRepository handles completion usage log operations
type CompletionLogRepository interface {
	// Insert inserts a single completion log row
	Insert(ctx context.Context, log *models.CompletionLog) error

	// InsertBatch inserts all rows in one transaction
	InsertBatch(ctx context.Context, logs []*models.CompletionLog) error

	// GetByRequestID retrieves the row written for a request
	GetByRequestID(ctx context.Context, requestID string) (*models.CompletionLog, error)

	// ListRecent retrieves rows newest first with pagination
	ListRecent(ctx context.Context, limit, offset int) ([]*models.CompletionLog, error)

	// SummarizeByProvider aggregates rows created at or after since
	SummarizeByProvider(ctx context.Context, since time.Time) ([]*models.ProviderUsage, error)

	// DeleteOlderThan removes rows created before cutoff and returns how many were removed
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	CompletionLogs CompletionLogRepository
}
