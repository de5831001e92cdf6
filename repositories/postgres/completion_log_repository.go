package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/upb/tavern-oracle/models"
	"github.com/upb/tavern-oracle/repositories"
	"go.uber.org/zap"
)

const completionLogColumns = `id, request_id, fingerprint, outcome, provider, model,
		       prompt_tokens, completion_tokens, total_tokens, latency_ms, error_message, created_at`

const insertCompletionLogQuery = `
		INSERT INTO completion_logs (
			id, request_id, fingerprint, outcome, provider, model,
			prompt_tokens, completion_tokens, total_tokens, latency_ms, error_message, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

// CompletionLogRepository implements repositories.CompletionLogRepository
type CompletionLogRepository struct {
	db     *DB
	tx     repositories.TransactionManager
	logger *zap.Logger
}

// NewCompletionLogRepository creates a new completion log repository
func NewCompletionLogRepository(db *DB, tx repositories.TransactionManager, logger *zap.Logger) *CompletionLogRepository {
	return &CompletionLogRepository{
		db:     db,
		tx:     tx,
		logger: logger,
	}
}

// Insert inserts a single completion log row
func (r *CompletionLogRepository) Insert(ctx context.Context, log *models.CompletionLog) error {
	if err := r.insert(ctx, GetExecutor(ctx, r.db), log); err != nil {
		return err
	}
	r.logger.Debug("completion log inserted",
		zap.String("request_id", log.RequestID),
		zap.String("outcome", string(log.Outcome)))
	return nil
}

// InsertBatch inserts all rows in a single transaction
func (r *CompletionLogRepository) InsertBatch(ctx context.Context, logs []*models.CompletionLog) error {
	if len(logs) == 0 {
		return nil
	}

	err := r.tx.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		executor := GetExecutor(txCtx, r.db)
		for _, log := range logs {
			if err := r.insert(txCtx, executor, log); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Debug("completion log batch inserted", zap.Int("rows", len(logs)))
	return nil
}

func (r *CompletionLogRepository) insert(ctx context.Context, executor Executor, log *models.CompletionLog) error {
	_, err := executor.ExecContext(ctx, insertCompletionLogQuery,
		log.ID,
		log.RequestID,
		log.Fingerprint,
		log.Outcome,
		log.Provider,
		log.Model,
		log.PromptTokens,
		log.CompletionTokens,
		log.TotalTokens,
		log.LatencyMs,
		log.ErrorMessage,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert completion log: %w", err)
	}
	return nil
}

// GetByRequestID retrieves the row written for a request
func (r *CompletionLogRepository) GetByRequestID(ctx context.Context, requestID string) (*models.CompletionLog, error) {
	query := `
		SELECT ` + completionLogColumns + `
		FROM completion_logs
		WHERE request_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	log := &models.CompletionLog{}
	err := scanCompletionLog(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, requestID), log)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", repositories.ErrCompletionLogNotFound, requestID)
		}
		return nil, fmt.Errorf("failed to get completion log: %w", err)
	}

	return log, nil
}

// ListRecent retrieves rows newest first with pagination
func (r *CompletionLogRepository) ListRecent(ctx context.Context, limit, offset int) ([]*models.CompletionLog, error) {
	query := `
		SELECT ` + completionLogColumns + `
		FROM completion_logs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list completion logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*models.CompletionLog, 0)
	for rows.Next() {
		log := &models.CompletionLog{}
		if err := scanCompletionLog(rows, log); err != nil {
			return nil, fmt.Errorf("failed to scan completion log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating completion logs: %w", err)
	}

	return logs, nil
}

// SummarizeByProvider aggregates rows created at or after since
func (r *CompletionLogRepository) SummarizeByProvider(ctx context.Context, since time.Time) ([]*models.ProviderUsage, error) {
	query := `
		SELECT provider, outcome, COUNT(*), COALESCE(SUM(total_tokens), 0), COALESCE(AVG(latency_ms), 0)
		FROM completion_logs
		WHERE created_at >= $1
		GROUP BY provider, outcome
		ORDER BY provider, outcome
	`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize completion logs: %w", err)
	}
	defer rows.Close()

	usage := make([]*models.ProviderUsage, 0)
	for rows.Next() {
		u := &models.ProviderUsage{}
		if err := rows.Scan(&u.Provider, &u.Outcome, &u.Requests, &u.TotalTokens, &u.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("failed to scan provider usage: %w", err)
		}
		usage = append(usage, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating provider usage: %w", err)
	}

	return usage, nil
}

// DeleteOlderThan removes rows created before cutoff
func (r *CompletionLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := GetExecutor(ctx, r.db).ExecContext(ctx, `DELETE FROM completion_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete completion logs: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Info("completion logs pruned", zap.Int64("deleted", deleted), zap.Time("cutoff", cutoff))
	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCompletionLog(row rowScanner, log *models.CompletionLog) error {
	return row.Scan(
		&log.ID,
		&log.RequestID,
		&log.Fingerprint,
		&log.Outcome,
		&log.Provider,
		&log.Model,
		&log.PromptTokens,
		&log.CompletionTokens,
		&log.TotalTokens,
		&log.LatencyMs,
		&log.ErrorMessage,
		&log.CreatedAt,
	)
}
