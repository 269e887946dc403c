package store

// schemaStatements are applied in order by EnsureSchema. seq preserves
// insertion order independently of observed_at.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS findings (
        seq             BIGSERIAL PRIMARY KEY,
        id              TEXT NOT NULL UNIQUE,
        run_id          TEXT NOT NULL,
        module          TEXT NOT NULL DEFAULT '',
        severity        TEXT NOT NULL CHECK (severity IN ('critical', 'high', 'medium', 'low', 'info')),
        title           TEXT NOT NULL,
        description     TEXT NOT NULL DEFAULT '',
        recommendation  TEXT NOT NULL DEFAULT '',
        affected_system TEXT NOT NULL DEFAULT '',
        impact          TEXT NOT NULL DEFAULT '',
        cvss            DOUBLE PRECISION CHECK (cvss IS NULL OR (cvss >= 0 AND cvss <= 10)),
        evidence        JSONB NOT NULL DEFAULT '{}'::jsonb,
        cwe             TEXT[] NOT NULL DEFAULT '{}',
        observed_at     TIMESTAMPTZ NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_findings_run_id ON findings (run_id, seq)`,
	`CREATE TABLE IF NOT EXISTS run_events (
        id          BIGSERIAL PRIMARY KEY,
        run_id      TEXT NOT NULL,
        event_type  TEXT NOT NULL,
        occurred_at TIMESTAMPTZ NOT NULL,
        data        JSONB NOT NULL DEFAULT '{}'::jsonb
    )`,
	`CREATE INDEX IF NOT EXISTS idx_run_events_run_id ON run_events (run_id, occurred_at)`,
}
