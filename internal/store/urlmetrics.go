package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/contentvis/urlmetric"
)

// InsertURLMetric stores m under postID. m.ID must be set.
func (s *Store) InsertURLMetric(ctx context.Context, postID int64, m *urlmetric.URLMetric) error {
	if m.ID == "" {
		return fmt.Errorf("store: insert url metric: missing id")
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("store: marshal url metric: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO url_metrics (id, post_id, viewport_width, data, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.ID, postID, m.Viewport.Width, string(data), m.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: insert url metric: %w", err)
	}
	return nil
}

// ListURLMetrics returns the URL metrics of postID, newest first. limit <= 0
// returns all of them.
func (s *Store) ListURLMetrics(ctx context.Context, postID int64, limit int) ([]*urlmetric.URLMetric, error) {
	q := `SELECT data FROM url_metrics WHERE post_id = ? ORDER BY created_at DESC`
	args := []any{postID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list url metrics: %w", err)
	}
	defer rows.Close()

	var out []*urlmetric.URLMetric
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var m urlmetric.URLMetric
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return nil, fmt.Errorf("store: decode url metric: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// PruneURLMetrics keeps the newest keep metrics of postID whose viewport width
// is in [minWidth, maxWidth], one viewport group, and deletes the rest of
// that group.
func (s *Store) PruneURLMetrics(ctx context.Context, postID int64, minWidth, maxWidth, keep int) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM url_metrics WHERE id IN (
			SELECT id FROM url_metrics
			WHERE post_id = ? AND viewport_width BETWEEN ? AND ?
			ORDER BY created_at DESC, rowid DESC
			LIMIT -1 OFFSET ?
		)`, postID, minWidth, maxWidth, keep)
	if err != nil {
		return 0, fmt.Errorf("store: prune url metrics: %w", err)
	}
	return res.RowsAffected()
}
