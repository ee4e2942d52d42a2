package cvauto

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hazyhaar/contentvis/detective"
	"github.com/hazyhaar/contentvis/urlmetric"
)

// HeightProperty is the element property carrying the revealed height.
const HeightProperty = "contentVisibilityVisibleHeight"

// MetaKeyPrefix prefixes the post meta keys holding visible heights.
const MetaKeyPrefix = "content_visibility_visible_heights:"

// MetaStore is the post meta persistence used for heights.
type MetaStore interface {
	GetPostMeta(ctx context.Context, postID int64, key string) (json.RawMessage, bool, error)
	UpdatePostMeta(ctx context.Context, postID int64, key string, value any) error
	DeletePostMeta(ctx context.Context, postID int64, key string) error
}

// MetaKey returns the post meta key of g's height map.
func MetaKey(g *urlmetric.Group) string {
	return MetaKeyPrefix + strconv.Itoa(g.Min())
}

// decodeHeights reads a stored height map, dropping entries that are not
// non-negative numbers. ok is false when raw is not a JSON object.
func decodeHeights(raw json.RawMessage) (heights map[string]float64, ok bool) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return nil, false
	}
	heights = make(map[string]float64, len(m))
	for xpath, v := range m {
		if h, ok := urlmetric.ToFloat(v); ok && h >= 0 {
			heights[xpath] = h
		}
	}
	return heights, true
}

// HeightCache serves stored visible heights for one page render. Every
// group's map is loaded on the first lookup.
type HeightCache struct {
	meta   MetaStore
	postID int64
	logger *slog.Logger

	loaded bool
	byMin  map[int]map[string]float64
}

// NewHeightCache creates a cache for the post postID. postID 0 means the page
// has no stored URL metrics.
func NewHeightCache(meta MetaStore, postID int64, logger *slog.Logger) *HeightCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &HeightCache{meta: meta, postID: postID, logger: logger}
}

// Height returns the stored height of xpath in group g.
func (c *HeightCache) Height(ctx context.Context, groups *urlmetric.GroupCollection, g *urlmetric.Group, xpath string) (float64, bool) {
	if !c.loaded {
		c.load(ctx, groups)
	}
	h, ok := c.byMin[g.Min()][xpath]
	return h, ok
}

func (c *HeightCache) load(ctx context.Context, groups *urlmetric.GroupCollection) {
	c.loaded = true
	c.byMin = make(map[int]map[string]float64)

	if c.postID == 0 || c.meta == nil {
		c.logger.Warn("cvauto: url metrics post unexpectedly missing")
		return
	}
	for _, g := range groups.Groups() {
		raw, ok, err := c.meta.GetPostMeta(ctx, c.postID, MetaKey(g))
		if err != nil {
			c.logger.Warn("cvauto: load visible heights", "post_id", c.postID, "group", g.Range(), "error", err)
			continue
		}
		if !ok {
			continue
		}
		if heights, ok := decodeHeights(raw); ok {
			c.byMin[g.Min()] = heights
		}
	}
}

// PersistHeights merges the heights reported by rc.URLMetric into the stored
// map of its group. Reported heights win; stored ones survive only for
// XPaths the metric still lists. An empty result deletes the key. It returns
// the number of heights kept.
func PersistHeights(ctx context.Context, meta MetaStore, rc detective.StoreRequestContext) (int, error) {
	if rc.Group == nil || rc.URLMetric == nil {
		return 0, fmt.Errorf("cvauto: persist heights: incomplete store context")
	}
	key := MetaKey(rc.Group)

	current := make(map[string]bool, len(rc.URLMetric.Elements))
	heights := make(map[string]float64)
	for i := range rc.URLMetric.Elements {
		el := &rc.URLMetric.Elements[i]
		current[el.XPath] = true
		if h, ok := el.Number(HeightProperty); ok {
			heights[el.XPath] = h
		}
	}

	raw, ok, err := meta.GetPostMeta(ctx, rc.PostID, key)
	if err != nil {
		return 0, fmt.Errorf("cvauto: persist heights: %w", err)
	}
	if ok {
		if stored, ok := decodeHeights(raw); ok {
			for xpath, h := range stored {
				if _, reported := heights[xpath]; current[xpath] && !reported {
					heights[xpath] = h
				}
			}
		}
	}

	if len(heights) == 0 {
		if err := meta.DeletePostMeta(ctx, rc.PostID, key); err != nil {
			return 0, fmt.Errorf("cvauto: persist heights: %w", err)
		}
		return 0, nil
	}
	if err := meta.UpdatePostMeta(ctx, rc.PostID, key, heights); err != nil {
		return 0, fmt.Errorf("cvauto: persist heights: %w", err)
	}
	return len(heights), nil
}
