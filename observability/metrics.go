// Package observability records contentvis counters as SQLite timeseries
// rows instead of exporting them to an external metrics system.
//
// Metrics live in the same database as the URL metrics by default; pass a
// separate *sql.DB to keep write traffic apart. Call Init(db) before
// NewMetricsManager.
//
// Persistence is asynchronous: Record only appends to an in-memory buffer
// that is flushed in one transaction when it is full, on every tick and on Close.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Metric names recorded by contentvis.
const (
	MetricPagesOptimized    = "pages_optimized"
	MetricNodesTracked      = "nodes_tracked"
	MetricCVRulesEmitted    = "cv_rules_emitted"
	MetricURLMetricsStored  = "url_metrics_stored"
	MetricURLMetricRejected = "url_metrics_rejected"
	MetricHeightsPersisted  = "cv_heights_persisted"
	MetricOptimizeDuration  = "optimize_duration_ms"
)

// Recorder is the write side used by services. *MetricsManager implements it;
// Discard drops everything.
type Recorder interface {
	Record(m *Metric)
}

type discard struct{}

func (discard) Record(*Metric) {}

// Discard is a Recorder that drops every metric.
var Discard Recorder = discard{}

// Metric is a single timeseries datapoint.
type Metric struct {
	Name      string
	Timestamp time.Time
	Value     float64
	Labels    map[string]string
	Unit      string // "count", "milliseconds"
}

// Count builds a count datapoint stamped now.
func Count(name string, n int, labels map[string]string) *Metric {
	return &Metric{Name: name, Timestamp: time.Now(), Value: float64(n), Labels: labels, Unit: "count"}
}

// MetricsManager buffers metrics and flushes them to SQLite in batches.
type MetricsManager struct {
	db            *sql.DB
	bufferSize    int
	flushInterval time.Duration
	buffer        []*Metric
	mu            sync.Mutex
	stop          chan struct{}
	done          chan struct{}
	closeOnce     sync.Once
}

// NewMetricsManager creates a manager flushing every flushInterval or every
// bufferSize datapoints, whichever comes first.
func NewMetricsManager(db *sql.DB, bufferSize int, flushInterval time.Duration) *MetricsManager {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	mm := &MetricsManager{
		db:            db,
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		buffer:        make([]*Metric, 0, bufferSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go mm.flushLoop()
	return mm
}

// Record queues a metric. Non-blocking apart from the flush triggered by a
// full buffer.
func (mm *MetricsManager) Record(m *Metric) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.buffer = append(mm.buffer, m)
	if len(mm.buffer) >= mm.bufferSize {
		mm.flushLocked()
	}
}

// Flush writes buffered metrics now.
func (mm *MetricsManager) Flush() {
	mm.mu.Lock()
	mm.flushLocked()
	mm.mu.Unlock()
}

// Query returns metrics filtered by name (empty = all) and start time
// (nil = unbounded), newest first.
func (mm *MetricsManager) Query(ctx context.Context, name string, since *time.Time, limit int) ([]*Metric, error) {
	q := "SELECT metric_name, timestamp, value, labels, unit FROM metrics_timeseries WHERE 1=1"
	var args []any
	if name != "" {
		q += " AND metric_name = ?"
		args = append(args, name)
	}
	if since != nil {
		q += " AND timestamp >= ?"
		args = append(args, since.Unix())
	}
	q += " ORDER BY timestamp DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := mm.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query metrics: %w", err)
	}
	defer rows.Close()

	var out []*Metric
	for rows.Next() {
		var m Metric
		var ts int64
		var labels sql.NullString
		if err := rows.Scan(&m.Name, &ts, &m.Value, &labels, &m.Unit); err != nil {
			return nil, fmt.Errorf("observability: scan metric: %w", err)
		}
		m.Timestamp = time.Unix(ts, 0)
		if labels.Valid {
			json.Unmarshal([]byte(labels.String), &m.Labels)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Totals sums every recorded metric by name.
func (mm *MetricsManager) Totals(ctx context.Context) (map[string]float64, error) {
	rows, err := mm.db.QueryContext(ctx,
		`SELECT metric_name, SUM(value) FROM metrics_timeseries GROUP BY metric_name`)
	if err != nil {
		return nil, fmt.Errorf("observability: totals: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var name string
		var sum float64
		if err := rows.Scan(&name, &sum); err != nil {
			return nil, err
		}
		out[name] = sum
	}
	return out, rows.Err()
}

// Close flushes remaining metrics and stops the flush loop. Safe to call twice.
func (mm *MetricsManager) Close() error {
	mm.closeOnce.Do(func() {
		close(mm.stop)
		<-mm.done
	})
	return nil
}

func (mm *MetricsManager) flushLoop() {
	defer close(mm.done)
	ticker := time.NewTicker(mm.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-mm.stop:
			mm.Flush()
			return
		case <-ticker.C:
			mm.Flush()
		}
	}
}

func (mm *MetricsManager) flushLocked() {
	if len(mm.buffer) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := mm.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("observability: begin tx", "error", err)
		return
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metrics_timeseries (metric_name, timestamp, value, labels, unit) VALUES (?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		slog.Error("observability: prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, m := range mm.buffer {
		var labels sql.NullString
		if len(m.Labels) > 0 {
			if b, err := json.Marshal(m.Labels); err == nil {
				labels = sql.NullString{String: string(b), Valid: true}
			}
		}
		if _, err := stmt.ExecContext(ctx, m.Name, m.Timestamp.Unix(), m.Value, labels, m.Unit); err != nil {
			slog.Error("observability: insert", "error", err, "metric", m.Name)
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("observability: commit", "error", err)
	}
	mm.buffer = mm.buffer[:0]
}
