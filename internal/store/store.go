package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// BackendName identifies this store in result references.
const BackendName = "postgres"

var findingColumns = []string{
	"id", "run_id", "module", "severity", "title", "description", "recommendation",
	"affected_system", "impact", "cvss", "evidence", "cwe", "observed_at",
}

const (
	sqlSelectFindings = `
        SELECT id, module, severity, title, description, recommendation,
               affected_system, impact, cvss, evidence, cwe, observed_at
        FROM findings
        WHERE run_id = $1
        ORDER BY seq ASC;
    `
	sqlInsertEvent = `
        INSERT INTO run_events (run_id, event_type, occurred_at, data)
        VALUES ($1, $2, $3, $4);
    `
)

// Store is the PostgreSQL results store and event log.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Name implements the result reference naming used by the orchestrator.
func (s *Store) Name() string { return BackendName }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the tables the store needs if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for i, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i+1, err)
		}
	}
	s.log.Debug("Database schema ensured.", zap.Int("statements", len(schemaStatements)))
	return nil
}

// PersistFindings writes a batch in one transaction using COPY.
func (s *Store) PersistFindings(ctx context.Context, findings []schemas.Finding) error {
	if len(findings) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(findings))
	for i, f := range findings {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("finding %s: %w", f.ID, err)
		}
		evidence := []byte(f.Evidence)
		if len(evidence) == 0 || string(evidence) == "null" {
			evidence = []byte("{}")
		}
		cwe := f.CWE
		if cwe == nil {
			cwe = []string{}
		}
		rows[i] = []interface{}{
			f.ID, f.RunID, f.Module, string(f.Severity), f.Title, f.Description, f.Recommendation,
			f.AffectedSystem, f.Impact, f.CVSS, evidence, cwe, f.ObservedAt.UTC(),
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"findings"}, findingColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy findings: %w", err)
	}
	if int(copyCount) != len(findings) {
		return fmt.Errorf("mismatch in copied findings count: expected %d, got %d", len(findings), copyCount)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FindingsByRunID returns a run's findings in insertion order.
func (s *Store) FindingsByRunID(ctx context.Context, runID string) ([]schemas.Finding, error) {
	rows, err := s.pool.Query(ctx, sqlSelectFindings, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	var findings []schemas.Finding
	for rows.Next() {
		var (
			f        schemas.Finding
			severity string
			cvss     pgtype.Float8
			evidence []byte
		)
		if err := rows.Scan(
			&f.ID, &f.Module, &severity, &f.Title, &f.Description, &f.Recommendation,
			&f.AffectedSystem, &f.Impact, &cvss, &evidence, &f.CWE, &f.ObservedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan finding row: %w", err)
		}
		f.RunID = runID
		f.Severity = schemas.Severity(severity)
		if cvss.Valid {
			f.CVSS = schemas.CVSS(cvss.Float64)
		}
		if len(evidence) > 0 && string(evidence) != "{}" {
			f.Evidence = evidence
		}
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return findings, nil
}

// LogEvent appends an audit event.
func (s *Store) LogEvent(ctx context.Context, event schemas.Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if _, err := s.pool.Exec(ctx, sqlInsertEvent, event.RunID, event.Type, ts.UTC(), data); err != nil {
		return fmt.Errorf("failed to insert %s event: %w", event.Type, err)
	}
	return nil
}
