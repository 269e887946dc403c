package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newMockStore(t *testing.T, logger *zap.Logger) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return s, mockPool
}

func sampleFindings(runID string) []schemas.Finding {
	observed := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	return []schemas.Finding{
		{
			ID: "f-1", RunID: runID, Module: "jwt", Severity: schemas.SeverityCritical,
			Title: "JWT accepts alg none", CVSS: schemas.CVSS(9.8), CWE: []string{"CWE-347"},
			Evidence: []byte(`{"alg":"none"}`), ObservedAt: observed,
		},
		{
			ID: "f-2", RunID: runID, Module: "headers", Severity: schemas.SeverityLow,
			Title: "Missing Referrer-Policy", ObservedAt: observed,
		},
	}
}

// -- Test Cases --

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("reports its backend name", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		assert.Equal(t, BackendName, s.Name())
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestEnsureSchema(t *testing.T) {
	t.Run("applies every statement in order", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		for _, stmt := range schemaStatements {
			mockPool.ExpectExec(flexibleSQLMatcher(stmt)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
		}
		require.NoError(t, s.EnsureSchema(context.Background()))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("stops at the first failure", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectExec(flexibleSQLMatcher(schemaStatements[0])).WillReturnError(errors.New("permission denied"))

		err := s.EnsureSchema(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "statement 1")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPersistFindings(t *testing.T) {
	ctx := context.Background()

	t.Run("empty batch is a no-op", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		require.NoError(t, s.PersistFindings(ctx, nil))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("copies findings in one transaction", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		batch := sampleFindings("run-1")

		mockPool.ExpectBegin()
		mockPool.ExpectCopyFrom(pgx.Identifier{"findings"}, findingColumns).WillReturnResult(int64(len(batch)))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.PersistFindings(ctx, batch))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("rejects invalid findings before touching the database", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		batch := sampleFindings("run-1")
		batch[1].Severity = "urgent"

		err := s.PersistFindings(ctx, batch)
		assert.ErrorIs(t, err, schemas.ErrValidation)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("count mismatch rolls back", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		batch := sampleFindings("run-1")

		mockPool.ExpectBegin()
		mockPool.ExpectCopyFrom(pgx.Identifier{"findings"}, findingColumns).WillReturnResult(1)
		mockPool.ExpectRollback()

		err := s.PersistFindings(ctx, batch)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mismatch in copied findings count")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("copy failure rolls back and logs rollback errors", func(t *testing.T) {
		core, logs := observer.New(zapcore.ErrorLevel)
		s, mockPool := newMockStore(t, zap.New(core))

		copyErr := errors.New("disk full")
		mockPool.ExpectBegin()
		mockPool.ExpectCopyFrom(pgx.Identifier{"findings"}, findingColumns).WillReturnError(copyErr)
		mockPool.ExpectRollback().WillReturnError(errors.New("connection lost"))

		err := s.PersistFindings(ctx, sampleFindings("run-1"))
		assert.ErrorIs(t, err, copyErr)
		assert.Equal(t, 1, logs.FilterMessage("Failed to rollback transaction").Len())
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectBegin().WillReturnError(errors.New("too many connections"))

		err := s.PersistFindings(ctx, sampleFindings("run-1"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to begin transaction")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestFindingsByRunID(t *testing.T) {
	ctx := context.Background()
	columns := []string{
		"id", "module", "severity", "title", "description", "recommendation",
		"affected_system", "impact", "cvss", "evidence", "cwe", "observed_at",
	}
	observed := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	t.Run("returns findings in insertion order", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		rows := pgxmock.NewRows(columns).
			AddRow("f-1", "jwt", "critical", "JWT accepts alg none", "", "", "", "", 9.8, []byte(`{"alg":"none"}`), []string{"CWE-347"}, observed).
			AddRow("f-2", "headers", "low", "Missing Referrer-Policy", "", "", "", "", nil, []byte(`{}`), []string{}, observed)
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectFindings)).WithArgs("run-1").WillReturnRows(rows)

		got, err := s.FindingsByRunID(ctx, "run-1")
		require.NoError(t, err)
		require.Len(t, got, 2)

		assert.Equal(t, "f-1", got[0].ID)
		assert.Equal(t, "run-1", got[0].RunID)
		assert.Equal(t, schemas.SeverityCritical, got[0].Severity)
		require.NotNil(t, got[0].CVSS)
		assert.Equal(t, 9.8, *got[0].CVSS)
		assert.JSONEq(t, `{"alg":"none"}`, string(got[0].Evidence))
		assert.Equal(t, []string{"CWE-347"}, got[0].CWE)

		assert.Equal(t, "f-2", got[1].ID)
		assert.Nil(t, got[1].CVSS)
		assert.Empty(t, got[1].Evidence)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("propagates query errors", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		queryErr := errors.New("relation findings does not exist")
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectFindings)).WithArgs("run-1").WillReturnError(queryErr)

		_, err := s.FindingsByRunID(ctx, "run-1")
		assert.ErrorIs(t, err, queryErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestLogEvent(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	t.Run("inserts the encoded event", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertEvent)).
			WithArgs("run-1", schemas.EventPentestStarted, ts, []byte(`{"modules":["headers"],"target":"https://example.com"}`)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err := s.LogEvent(ctx, schemas.Event{
			RunID:     "run-1",
			Type:      schemas.EventPentestStarted,
			Timestamp: ts,
			Data:      map[string]any{"target": "https://example.com", "modules": []string{"headers"}},
		})
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("wraps insert failures", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertEvent)).
			WithArgs("run-1", schemas.EventPentestError, pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(errors.New("read-only transaction"))

		err := s.LogEvent(ctx, schemas.Event{RunID: "run-1", Type: schemas.EventPentestError})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pentest_error")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
