package observability

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RetentionConfig sets how many days each observability table keeps.
// Zero disables cleanup for that table.
type RetentionConfig struct {
	MetricsDays    int
	AuditDays      int
	HeartbeatsDays int
}

// retentionTables is the whitelist of tables Cleanup may touch.
var retentionTables = []struct {
	table string
	days  func(RetentionConfig) int
}{
	{"metrics_timeseries", func(c RetentionConfig) int { return c.MetricsDays }},
	{"audit_log", func(c RetentionConfig) int { return c.AuditDays }},
	{"worker_heartbeats", func(c RetentionConfig) int { return c.HeartbeatsDays }},
}

// Cleanup deletes rows older than the configured retention. Returns the
// number of rows deleted per table.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, rt := range retentionTables {
		days := rt.days(cfg)
		if days <= 0 {
			continue
		}
		threshold := time.Now().AddDate(0, 0, -days).Unix()
		res, err := db.ExecContext(ctx, "DELETE FROM "+rt.table+" WHERE timestamp < ?", threshold)
		if err != nil {
			return out, fmt.Errorf("observability: cleanup %s: %w", rt.table, err)
		}
		n, _ := res.RowsAffected()
		out[rt.table] = n
	}
	return out, nil
}
