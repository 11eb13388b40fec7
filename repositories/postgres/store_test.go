package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/models"
	"github.com/taskpilot/taskpilot/services"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &DB{DB: conn, logger: zap.NewNop()}, mock
}

func outcomeColumns() []string {
	return []string{
		"task_id", "description", "backend", "mode", "success",
		"content", "prompt_tokens", "completion_tokens", "cost_usd",
		"error_summary", "attempts", "latency_ms", "completed_at",
		"reported", "reported_at",
	}
}

func TestStateStoreLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("missing row yields pristine state", func(t *testing.T) {
		db, mock := newMockDB(t)
		store := NewStateStore(db, zap.NewNop())

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT document FROM fallback_state WHERE id = 1`)).
			WillReturnError(sql.ErrNoRows)

		state, err := store.Load(ctx)
		require.NoError(t, err)
		assert.False(t, state.Enabled)
		assert.Empty(t, state.Reason)
		assert.NotNil(t, state.ActiveTasks)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stored document round trips", func(t *testing.T) {
		db, mock := newMockDB(t)
		store := NewStateStore(db, zap.NewNop())

		until := time.Now().UTC().Add(time.Hour).Truncate(time.Millisecond)
		saved := models.NewFallbackState()
		saved.Enter(models.FallbackReasonRateLimit, &until, time.Now().UTC())
		document, err := json.Marshal(saved)
		require.NoError(t, err)

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT document FROM fallback_state WHERE id = 1`)).
			WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow(document))

		state, err := store.Load(ctx)
		require.NoError(t, err)
		assert.True(t, state.Enabled)
		assert.Equal(t, models.FallbackReasonRateLimit, state.Reason)
		require.NotNil(t, state.RateLimitUntil)
		assert.True(t, until.Equal(*state.RateLimitUntil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("corrupt document fails", func(t *testing.T) {
		db, mock := newMockDB(t)
		store := NewStateStore(db, zap.NewNop())

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT document FROM fallback_state WHERE id = 1`)).
			WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow([]byte("{not json")))

		_, err := store.Load(ctx)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "decode")
	})
}

func TestStateStoreSave(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t)
	store := NewStateStore(db, zap.NewNop())

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO fallback_state (id, document, updated_at)`)).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	state := models.NewFallbackState()
	state.Enter(models.FallbackReasonManual, nil, time.Now().UTC())

	require.NoError(t, store.Save(ctx, state))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutcomeStoreAppend(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t)
	store := NewOutcomeStore(db, zap.NewNop())

	completedAt := time.Now().UTC().Truncate(time.Millisecond)
	outcome := models.NewTaskOutcome("task_1", "summarize the report", "inference", models.ModeChat)
	outcome.MarkSucceeded("done", 120, 48, 0.0108, 420)
	outcome.CompletedAt = completedAt

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO task_outcomes`)).
		WithArgs(
			"task_1", "summarize the report", "inference", "chat", true,
			"done", 120, 48, 0.0108,
			"", outcome.Attempts, 420, completedAt.UnixMilli(),
			false, nil,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Append(ctx, outcome))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutcomeStoreGetByTaskID(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		db, mock := newMockDB(t)
		store := NewOutcomeStore(db, zap.NewNop())

		completedAt := time.Now().UTC().Truncate(time.Millisecond)
		rows := sqlmock.NewRows(outcomeColumns()).AddRow(
			"task_1", "summarize the report", "inference", "chat", true,
			"done", 120, 48, 0.0108,
			"", 1, 420, completedAt.UnixMilli(),
			false, nil,
		)

		mock.ExpectQuery(`SELECT (.+) FROM task_outcomes\s+WHERE task_id = \$1`).
			WithArgs("task_1").
			WillReturnRows(rows)

		outcome, err := store.GetByTaskID(ctx, "task_1")
		require.NoError(t, err)
		assert.Equal(t, "task_1", outcome.TaskID)
		assert.Equal(t, models.ModeChat, outcome.Mode)
		assert.True(t, outcome.Success)
		assert.True(t, completedAt.Equal(outcome.CompletedAt))
		assert.Nil(t, outcome.ReportedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := newMockDB(t)
		store := NewOutcomeStore(db, zap.NewNop())

		mock.ExpectQuery(`SELECT (.+) FROM task_outcomes\s+WHERE task_id = \$1`).
			WithArgs("task_missing").
			WillReturnError(sql.ErrNoRows)

		_, err := store.GetByTaskID(ctx, "task_missing")
		assert.True(t, services.IsNotFoundError(err))
	})
}

func TestOutcomeStoreListUnreported(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t)
	store := NewOutcomeStore(db, zap.NewNop())

	base := time.Now().UTC().Truncate(time.Millisecond)
	rows := sqlmock.NewRows(outcomeColumns()).
		AddRow("task_old", "first task", "agentcli", "code", true,
			"ok", 0, 0, 0.0, "", 1, 900, base.Add(-time.Hour).UnixMilli(), false, nil).
		AddRow("task_new", "second task", "reasoning", "chat", false,
			"", 0, 0, 0.0, "all backends exhausted", 3, 1500, base.UnixMilli(), false, nil)

	mock.ExpectQuery(`SELECT (.+) FROM task_outcomes\s+WHERE reported = FALSE`).
		WillReturnRows(rows)

	outcomes, err := store.ListUnreported(ctx)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, "task_old", outcomes[0].TaskID)
	assert.Equal(t, "task_new", outcomes[1].TaskID)
	assert.False(t, outcomes[1].Success)
	assert.Equal(t, "all backends exhausted", outcomes[1].ErrorSummary)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutcomeStoreMarkReported(t *testing.T) {
	ctx := context.Background()

	t.Run("marks existing outcome", func(t *testing.T) {
		db, mock := newMockDB(t)
		store := NewOutcomeStore(db, zap.NewNop())

		mock.ExpectExec(regexp.QuoteMeta(`UPDATE task_outcomes SET reported = TRUE, reported_at = $1 WHERE task_id = $2`)).
			WithArgs(sqlmock.AnyArg(), "task_1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.MarkReported(ctx, "task_1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown task id", func(t *testing.T) {
		db, mock := newMockDB(t)
		store := NewOutcomeStore(db, zap.NewNop())

		mock.ExpectExec(regexp.QuoteMeta(`UPDATE task_outcomes SET reported = TRUE, reported_at = $1 WHERE task_id = $2`)).
			WithArgs(sqlmock.AnyArg(), "task_missing").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.MarkReported(ctx, "task_missing")
		assert.True(t, services.IsNotFoundError(err))
	})
}

func TestOutcomeStoreCostSince(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t)
	store := NewOutcomeStore(db, zap.NewNop())

	since := time.Now().UTC().Add(-24 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(SUM(cost_usd), 0) FROM task_outcomes WHERE completed_at >= $1`)).
		WithArgs(since.UnixMilli()).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(6.25))

	total, err := store.CostSince(ctx, since)
	require.NoError(t, err)
	assert.InDelta(t, 6.25, total, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutcomeStoreCounts(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t)
	store := NewOutcomeStore(db, zap.NewNop())

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM task_outcomes`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM task_outcomes WHERE reported = FALSE`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	completed, err := store.CountCompleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, completed)

	unreported, err := store.CountUnreported(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, unreported)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitSchema(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS fallback_state`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, db.InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBPing(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		conn, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer conn.Close()

		db := &DB{DB: conn, logger: zap.NewNop()}

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").
			WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		assert.NoError(t, db.Ping(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query failure", func(t *testing.T) {
		conn, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer conn.Close()

		db := &DB{DB: conn, logger: zap.NewNop()}

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnError(sql.ErrConnDone)

		assert.Error(t, db.Ping(context.Background()))
	})
}
