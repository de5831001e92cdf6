package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/tavern-oracle/models"
	"github.com/upb/tavern-oracle/repositories"
	"go.uber.org/zap"
)

var logColumns = []string{
	"id", "request_id", "fingerprint", "outcome", "provider", "model",
	"prompt_tokens", "completion_tokens", "total_tokens", "latency_ms", "error_message", "created_at",
}

func setupRepository(t *testing.T) (*CompletionLogRepository, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db := WrapDB(sqlDB, zap.NewNop())
	factory := NewRepositoryFactoryFromDB(db, zap.NewNop())
	repo, ok := factory.NewRepositories().CompletionLogs.(*CompletionLogRepository)
	require.True(t, ok)
	return repo, mock
}

func sampleLog(requestID string) *models.CompletionLog {
	return models.NewCompletionLog("abc123", models.CompletionResult{
		Content:   "Welcome, traveler!",
		Provider:  "groq",
		Model:     "llama-3.1-8b-instant",
		Usage:     &models.TokenUsage{PromptTokens: 12, CompletionTokens: 8, TotalTokens: 20},
		RequestID: requestID,
		LatencyMs: 340,
	})
}

func TestCompletionLogRepository_Insert(t *testing.T) {
	repo, mock := setupRepository(t)
	log := sampleLog("req-1")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO completion_logs")).
		WithArgs(log.ID, "req-1", "abc123", models.CompletionOutcomeSuccess, "groq", "llama-3.1-8b-instant",
			12, 8, 20, int64(340), nil, log.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Insert(context.Background(), log))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompletionLogRepository_InsertError(t *testing.T) {
	repo, mock := setupRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO completion_logs")).
		WillReturnError(errors.New("connection reset"))

	err := repo.Insert(context.Background(), sampleLog("req-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert completion log")
}

func TestCompletionLogRepository_InsertBatch(t *testing.T) {
	t.Run("commits all rows", func(t *testing.T) {
		repo, mock := setupRepository(t)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO completion_logs")).WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO completion_logs")).WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		err := repo.InsertBatch(context.Background(), []*models.CompletionLog{sampleLog("a"), sampleLog("b")})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		repo, mock := setupRepository(t)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO completion_logs")).WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO completion_logs")).WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := repo.InsertBatch(context.Background(), []*models.CompletionLog{sampleLog("a"), sampleLog("b")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		repo, mock := setupRepository(t)
		require.NoError(t, repo.InsertBatch(context.Background(), nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCompletionLogRepository_GetByRequestID(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		repo, mock := setupRepository(t)
		id := uuid.New()
		created := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
		reason := "all providers unavailable"

		mock.ExpectQuery(regexp.QuoteMeta("FROM completion_logs")).
			WithArgs("req-9").
			WillReturnRows(sqlmock.NewRows(logColumns).
				AddRow(id.String(), "req-9", "abc123", "fallback", "local-fallback", "keyword-matcher", 0, 0, 0, int64(3), reason, created))

		log, err := repo.GetByRequestID(context.Background(), "req-9")
		require.NoError(t, err)
		assert.Equal(t, id, log.ID)
		assert.Equal(t, models.CompletionOutcomeFallback, log.Outcome)
		assert.Equal(t, "local-fallback", log.Provider)
		require.NotNil(t, log.ErrorMessage)
		assert.Equal(t, reason, *log.ErrorMessage)
		assert.Equal(t, created, log.CreatedAt)
	})

	t.Run("not found", func(t *testing.T) {
		repo, mock := setupRepository(t)

		mock.ExpectQuery(regexp.QuoteMeta("FROM completion_logs")).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(logColumns))

		_, err := repo.GetByRequestID(context.Background(), "missing")
		assert.ErrorIs(t, err, repositories.ErrCompletionLogNotFound)
	})
}

func TestCompletionLogRepository_ListRecent(t *testing.T) {
	repo, mock := setupRepository(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC")).
		WithArgs(2, 0).
		WillReturnRows(sqlmock.NewRows(logColumns).
			AddRow(uuid.New().String(), "r2", "f2", "cached", "groq", "m", 0, 0, 0, int64(0), nil, now).
			AddRow(uuid.New().String(), "r1", "f1", "success", "groq", "m", 5, 5, 10, int64(200), nil, now.Add(-time.Minute)))

	logs, err := repo.ListRecent(context.Background(), 2, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "r2", logs[0].RequestID)
	assert.Equal(t, models.CompletionOutcomeCached, logs[0].Outcome)
	assert.Nil(t, logs[0].ErrorMessage)
	assert.Equal(t, 10, logs[1].TotalTokens)
}

func TestCompletionLogRepository_SummarizeByProvider(t *testing.T) {
	repo, mock := setupRepository(t)
	since := time.Now().Add(-24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY provider, outcome")).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"provider", "outcome", "count", "sum", "avg"}).
			AddRow("cerebras", "success", int64(4), int64(80), 210.5).
			AddRow("groq", "cached", int64(9), int64(0), 0.0))

	usage, err := repo.SummarizeByProvider(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, usage, 2)
	assert.Equal(t, &models.ProviderUsage{
		Provider: "cerebras", Outcome: models.CompletionOutcomeSuccess,
		Requests: 4, TotalTokens: 80, AvgLatencyMs: 210.5,
	}, usage[0])
	assert.Equal(t, int64(9), usage[1].Requests)
}

func TestCompletionLogRepository_DeleteOlderThan(t *testing.T) {
	repo, mock := setupRepository(t)
	cutoff := time.Now().Add(-30 * 24 * time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM completion_logs WHERE created_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 17))

	deleted, err := repo.DeleteOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(17), deleted)
}

func TestDB_HealthCheck(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	db := WrapDB(sqlDB, zap.NewNop())
	assert.NoError(t, db.HealthCheck(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDB_InitSchema(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS completion_logs")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	db := WrapDB(sqlDB, zap.NewNop())
	assert.NoError(t, db.InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
