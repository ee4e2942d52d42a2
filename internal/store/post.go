package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/contentvis/dbopen"
)

// Post groups the URL metrics of one page.
type Post struct {
	ID        int64
	Slug      string
	URL       string
	CreatedAt int64
	UpdatedAt int64
}

// GetPost returns the post for slug, or nil if none exists.
func (s *Store) GetPost(ctx context.Context, slug string) (*Post, error) {
	p := &Post{}
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, slug, url, created_at, updated_at
		FROM url_metrics_posts WHERE slug = ?`, slug).Scan(
		&p.ID, &p.Slug, &p.URL, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get post: %w", err)
	}
	return p, nil
}

// EnsurePost returns the post for slug, creating it when absent.
func (s *Store) EnsurePost(ctx context.Context, slug, url string) (*Post, error) {
	now := time.Now().UnixMilli()
	p := &Post{}
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO url_metrics_posts (slug, url, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(slug) DO UPDATE SET updated_at = excluded.updated_at`,
			slug, url, now, now); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `
			SELECT id, slug, url, created_at, updated_at
			FROM url_metrics_posts WHERE slug = ?`, slug).Scan(
			&p.ID, &p.Slug, &p.URL, &p.CreatedAt, &p.UpdatedAt,
		)
	})
	if err != nil {
		return nil, fmt.Errorf("store: ensure post: %w", err)
	}
	return p, nil
}

// DeletePost removes a post with its URL metrics and meta.
func (s *Store) DeletePost(ctx context.Context, id int64) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM url_metrics_posts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete post: %w", err)
	}
	return nil
}
