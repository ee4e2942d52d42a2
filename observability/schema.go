package observability

import "database/sql"

// Schema contains the DDL for the metrics, audit and heartbeat tables.
const Schema = `
CREATE TABLE IF NOT EXISTS metrics_timeseries (
    metric_id   TEXT PRIMARY KEY DEFAULT ('met_' || hex(randomblob(16))),
    metric_name TEXT NOT NULL,
    timestamp   INTEGER NOT NULL,
    value       REAL NOT NULL,
    labels      TEXT,
    unit        TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_metrics_name_time
    ON metrics_timeseries(metric_name, timestamp DESC);

CREATE TABLE IF NOT EXISTS audit_log (
    entry_id       TEXT PRIMARY KEY,
    timestamp      INTEGER NOT NULL,
    component_name TEXT NOT NULL,
    operation_type TEXT NOT NULL,
    request_id     TEXT,
    transport      TEXT,
    parameters     TEXT NOT NULL DEFAULT '{}',
    result         TEXT,
    error_message  TEXT,
    duration_ms    INTEGER,
    status         TEXT NOT NULL CHECK(status IN ('success', 'error'))
);
CREATE INDEX IF NOT EXISTS idx_audit_time ON audit_log(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_component ON audit_log(component_name, operation_type);

CREATE TABLE IF NOT EXISTS worker_heartbeats (
    worker_name    TEXT NOT NULL,
    timestamp      INTEGER NOT NULL,
    hostname       TEXT,
    pid            INTEGER,
    goroutines     INTEGER,
    heap_alloc_mb  REAL,
    sys_mb         REAL,
    num_gc         INTEGER,
    uptime_seconds INTEGER
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_worker ON worker_heartbeats(worker_name, timestamp DESC);
`

// Init applies the observability schema.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
