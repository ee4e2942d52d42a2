package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// GetPostMeta returns the raw JSON value stored under key. ok is false when
// the key is absent.
func (s *Store) GetPostMeta(ctx context.Context, postID int64, key string) (json.RawMessage, bool, error) {
	var v string
	err := s.DB.QueryRowContext(ctx, `
		SELECT meta_value FROM post_meta WHERE post_id = ? AND meta_key = ?`,
		postID, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get post meta: %w", err)
	}
	return json.RawMessage(v), true, nil
}

// UpdatePostMeta stores value as JSON under key, replacing any previous value.
func (s *Store) UpdatePostMeta(ctx context.Context, postID int64, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: marshal post meta: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO post_meta (post_id, meta_key, meta_value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(post_id, meta_key) DO UPDATE SET
			meta_value = excluded.meta_value,
			updated_at = excluded.updated_at`,
		postID, key, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: update post meta: %w", err)
	}
	return nil
}

// DeletePostMeta removes key. Deleting an absent key is not an error.
func (s *Store) DeletePostMeta(ctx context.Context, postID int64, key string) error {
	if _, err := s.DB.ExecContext(ctx, `
		DELETE FROM post_meta WHERE post_id = ? AND meta_key = ?`, postID, key); err != nil {
		return fmt.Errorf("store: delete post meta: %w", err)
	}
	return nil
}

// ListPostMeta returns every meta value of postID whose key starts with prefix.
func (s *Store) ListPostMeta(ctx context.Context, postID int64, prefix string) (map[string]json.RawMessage, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT meta_key, meta_value FROM post_meta
		WHERE post_id = ? AND substr(meta_key, 1, ?) = ?
		ORDER BY meta_key`, postID, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("store: list post meta: %w", err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = json.RawMessage(v)
	}
	return out, rows.Err()
}
