package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/contentvis/idgen"
	"github.com/hazyhaar/contentvis/kit"
)

// Audit components.
const (
	ComponentDetective = "detective"
	ComponentCVAuto    = "cvauto"
	ComponentMCP       = "mcp"
)

// AuditEntry records one data-modifying or operator operation.
type AuditEntry struct {
	EntryID       string
	Timestamp     time.Time
	ComponentName string // "detective", "cvauto", "mcp"
	OperationType string // "store_url_metric", "persist_heights", tool name

	RequestID string // trace id of the HTTP request, if any
	Transport string // "http", "mcp"

	Parameters   string // JSON
	Result       string // JSON
	ErrorMessage string
	DurationMs   int64

	Status string // "success", "error"
}

// AuditFilter selects entries for Query.
type AuditFilter struct {
	Since         *time.Time
	ComponentName string
	OperationType string
	Status        string
	Limit         int    // default 100
	OrderBy       string // "timestamp" or "duration_ms"
	OrderDir      string // "ASC" or "DESC"
}

// Auditor is the write side of the audit trail used by services.
// *AuditLogger implements it; NopAuditor drops everything.
type Auditor interface {
	Audit(ctx context.Context, component, operation string, params, result any, err error, d time.Duration)
}

type nopAuditor struct{}

func (nopAuditor) Audit(context.Context, string, string, any, any, error, time.Duration) {}

// NopAuditor discards audit entries.
var NopAuditor Auditor = nopAuditor{}

// Audited wraps a kit endpoint so every call is audited under component and
// operation, with the request as parameters.
func Audited(a Auditor, component, operation string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			a.Audit(ctx, component, operation, req, resp, err, time.Since(start))
			return resp, err
		}
	}
}

// AuditLogger persists audit entries to the audit_log table asynchronously.
type AuditLogger struct {
	db        *sql.DB
	newID     idgen.Generator
	ch        chan *AuditEntry
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// AuditOption configures an AuditLogger.
type AuditOption func(*AuditLogger)

// WithAuditIDGenerator sets the entry id generator.
func WithAuditIDGenerator(gen idgen.Generator) AuditOption {
	return func(a *AuditLogger) { a.newID = gen }
}

// NewAuditLogger starts an async audit logger buffering up to bufferSize entries.
func NewAuditLogger(db *sql.DB, bufferSize int, opts ...AuditOption) *AuditLogger {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	a := &AuditLogger{
		db:    db,
		newID: idgen.Prefixed("audit_", idgen.Default),
		ch:    make(chan *AuditEntry, bufferSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	go a.flushLoop()
	return a
}

// Audit implements Auditor. The request trace id and transport are taken
// from ctx.
func (a *AuditLogger) Audit(ctx context.Context, component, operation string, params, result any, err error, d time.Duration) {
	e := a.NewAuditEntry(component, operation, params, result, err, d)
	e.RequestID = kit.GetTraceID(ctx)
	e.Transport = kit.GetTransport(ctx)
	a.LogAsync(e)
}

// Log inserts an entry synchronously.
func (a *AuditLogger) Log(ctx context.Context, e *AuditEntry) error {
	a.fillDefaults(e)
	return a.insert(ctx, e)
}

// LogAsync queues an entry. A full buffer falls back to a synchronous insert.
func (a *AuditLogger) LogAsync(e *AuditEntry) {
	a.fillDefaults(e)
	select {
	case a.ch <- e:
	default:
		slog.Warn("observability: audit buffer full, sync fallback", "component", e.ComponentName)
		if err := a.insert(context.Background(), e); err != nil {
			slog.Error("observability: audit sync fallback", "error", err)
		}
	}
}

// NewAuditEntry builds an entry. params and, on success, result are stored as JSON.
func (a *AuditLogger) NewAuditEntry(component, operation string, params, result any, err error, d time.Duration) *AuditEntry {
	e := &AuditEntry{
		EntryID:       a.newID(),
		Timestamp:     time.Now(),
		ComponentName: component,
		OperationType: operation,
		DurationMs:    d.Milliseconds(),
	}
	if params != nil {
		if b, jerr := json.Marshal(params); jerr == nil {
			e.Parameters = string(b)
		}
	}
	if err != nil {
		e.Status = "error"
		e.ErrorMessage = err.Error()
		return e
	}
	e.Status = "success"
	if result != nil {
		if b, jerr := json.Marshal(result); jerr == nil {
			e.Result = string(b)
		}
	}
	return e
}

// Query returns entries matching f.
func (a *AuditLogger) Query(ctx context.Context, f AuditFilter) ([]*AuditEntry, error) {
	q := `SELECT entry_id, timestamp, component_name, operation_type, request_id, transport,
		parameters, result, error_message, duration_ms, status
		FROM audit_log WHERE 1=1`
	var args []any
	if f.Since != nil {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.Unix())
	}
	if f.ComponentName != "" {
		q += " AND component_name = ?"
		args = append(args, f.ComponentName)
	}
	if f.OperationType != "" {
		q += " AND operation_type = ?"
		args = append(args, f.OperationType)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status)
	}

	orderBy := "timestamp"
	switch f.OrderBy {
	case "", "timestamp":
	case "duration_ms":
		orderBy = f.OrderBy
	default:
		return nil, fmt.Errorf("observability: invalid order_by %q", f.OrderBy)
	}
	orderDir := "DESC"
	switch strings.ToUpper(f.OrderDir) {
	case "", "DESC":
	case "ASC":
		orderDir = "ASC"
	default:
		return nil, fmt.Errorf("observability: invalid order_dir %q", f.OrderDir)
	}
	limit := 100
	if f.Limit > 0 {
		limit = f.Limit
	}
	q += fmt.Sprintf(" ORDER BY %s %s LIMIT ?", orderBy, orderDir)
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query audit log: %w", err)
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ts int64
		var requestID, transport, result, errMsg sql.NullString
		if err := rows.Scan(&e.EntryID, &ts, &e.ComponentName, &e.OperationType,
			&requestID, &transport, &e.Parameters, &result, &errMsg,
			&e.DurationMs, &e.Status); err != nil {
			return nil, fmt.Errorf("observability: scan audit entry: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0)
		e.RequestID = requestID.String
		e.Transport = transport.String
		e.Result = result.String
		e.ErrorMessage = errMsg.String
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Close drains the buffer and stops the flush loop. Safe to call twice.
func (a *AuditLogger) Close() error {
	a.closeOnce.Do(func() {
		close(a.stop)
		<-a.done
	})
	return nil
}

func (a *AuditLogger) fillDefaults(e *AuditEntry) {
	if e.EntryID == "" {
		e.EntryID = a.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Parameters == "" {
		e.Parameters = "{}"
	}
	if e.Status == "" {
		e.Status = "success"
		if e.ErrorMessage != "" {
			e.Status = "error"
		}
	}
}

func (a *AuditLogger) flushLoop() {
	defer close(a.done)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	batch := make([]*AuditEntry, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		tx, err := a.db.BeginTx(ctx, nil)
		if err != nil {
			slog.Error("observability: audit begin tx", "error", err)
			return
		}
		for _, e := range batch {
			if err := insertAudit(ctx, tx, e); err != nil {
				slog.Error("observability: audit insert", "error", err, "entry_id", e.EntryID)
			}
		}
		if err := tx.Commit(); err != nil {
			slog.Error("observability: audit commit", "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-a.stop:
			for {
				select {
				case e := <-a.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-a.ch:
			batch = append(batch, e)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (a *AuditLogger) insert(ctx context.Context, e *AuditEntry) error {
	return insertAudit(ctx, a.db, e)
}

func insertAudit(ctx context.Context, db execer, e *AuditEntry) error {
	_, err := db.ExecContext(ctx, `INSERT INTO audit_log
		(entry_id, timestamp, component_name, operation_type, request_id, transport,
		 parameters, result, error_message, duration_ms, status)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		e.EntryID, e.Timestamp.Unix(), e.ComponentName, e.OperationType,
		e.RequestID, e.Transport, e.Parameters, e.Result, e.ErrorMessage,
		e.DurationMs, e.Status)
	return err
}
