package detective

import (
	"context"
	"fmt"
	"time"

	"github.com/hazyhaar/contentvis/observability"
	"github.com/hazyhaar/contentvis/urlmetric"
)

// StoreResult reports a stored URL metric.
type StoreResult struct {
	ID     string `json:"uuid"`
	Slug   string `json:"slug"`
	PostID int64  `json:"post_id"`
	Group  string `json:"group"`
}

// StoreURLMetric validates raw, stores it and fires URLMetricStored on every
// extension. Extension failures are logged and do not fail the store.
// Accepted and rejected submissions both land in the audit trail.
func (s *Service) StoreURLMetric(ctx context.Context, raw []byte) (*StoreResult, error) {
	start := time.Now()
	res, m, err := s.storeURLMetric(ctx, raw)
	params := map[string]any{"bytes": len(raw)}
	if m != nil {
		params["url"] = m.URL
		params["viewport_width"] = m.Viewport.Width
	}
	s.cfg.Audit.Audit(ctx, observability.ComponentDetective, "store_url_metric", params, res, err, time.Since(start))
	return res, err
}

func (s *Service) storeURLMetric(ctx context.Context, raw []byte) (*StoreResult, *urlmetric.URLMetric, error) {
	m, err := s.schema.Validate(raw)
	if err != nil {
		s.cfg.Metrics.Record(observability.Count(observability.MetricURLMetricRejected, 1, nil))
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidURLMetric, err)
	}

	normalized, err := urlmetric.NormalizeURL(m.URL)
	if err != nil {
		return nil, m, fmt.Errorf("%w: %v", ErrInvalidURLMetric, err)
	}
	slug, err := urlmetric.Slug(normalized)
	if err != nil {
		return nil, m, fmt.Errorf("%w: %v", ErrInvalidURLMetric, err)
	}
	if m.Slug != "" && m.Slug != slug {
		return nil, m, fmt.Errorf("%w: slug %q does not match url", ErrInvalidURLMetric, m.Slug)
	}

	post, err := s.cfg.Store.EnsurePost(ctx, slug, normalized)
	if err != nil {
		return nil, m, fmt.Errorf("detective: store url metric: %w", err)
	}

	m.ID = s.cfg.IDs()
	m.URL = normalized
	m.Slug = slug
	m.Timestamp = time.Now()
	if err := s.cfg.Store.InsertURLMetric(ctx, post.ID, m); err != nil {
		return nil, m, fmt.Errorf("detective: store url metric: %w", err)
	}

	groups, err := s.groups(ctx, post)
	if err != nil {
		return nil, m, fmt.Errorf("detective: store url metric: load groups: %w", err)
	}
	group := groups.GroupFor(m.Viewport.Width)
	if _, err := s.cfg.Store.PruneURLMetrics(ctx, post.ID, group.Min(), group.Max(), s.cfg.SampleSize); err != nil {
		s.logger.Warn("prune url metrics", "post_id", post.ID, "group", group.Range(), "error", err)
	}

	rc := StoreRequestContext{
		PostID:    post.ID,
		Slug:      slug,
		URLMetric: m,
		Group:     group,
		Groups:    groups,
	}
	for _, ext := range s.cfg.Extensions {
		if err := ext.URLMetricStored(ctx, rc); err != nil {
			s.logger.Warn("extension store hook failed", "extension", ext.Name(), "slug", slug, "error", err)
		}
	}

	s.cfg.Metrics.Record(observability.Count(observability.MetricURLMetricsStored, 1, map[string]string{"group": group.Range()}))
	s.logger.Info("url metric stored", "uuid", m.ID, "slug", slug, "viewport_width", m.Viewport.Width, "group", group.Range())

	return &StoreResult{ID: m.ID, Slug: slug, PostID: post.ID, Group: group.Range()}, m, nil
}
