package cvauto

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/contentvis/dbopen"
	"github.com/hazyhaar/contentvis/internal/store"
	"github.com/hazyhaar/contentvis/urlmetric"
)

const testURL = "https://blog.example.com/"

func openStore(t *testing.T) (*store.Store, int64) {
	t.Helper()
	s := store.New(dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)))
	slug, err := urlmetric.Slug(testURL)
	if err != nil {
		t.Fatal(err)
	}
	p, err := s.EnsurePost(context.Background(), slug, testURL)
	if err != nil {
		t.Fatal(err)
	}
	return s, p.ID
}

// groupsWith returns breakpoint-480 groups holding one sample at width with
// the given element ratios.
func groupsWith(t *testing.T, width int, ratios map[string]float64) *urlmetric.GroupCollection {
	t.Helper()
	m := &urlmetric.URLMetric{URL: testURL, Timestamp: time.Now(), Viewport: urlmetric.Viewport{Width: width, Height: 800}}
	for xpath, r := range ratios {
		m.Elements = append(m.Elements, urlmetric.Element{XPath: xpath, IntersectionRatio: r})
	}
	var metrics []*urlmetric.URLMetric
	if len(ratios) > 0 {
		metrics = append(metrics, m)
	}
	c, err := urlmetric.NewGroupCollection(metrics, []int{480}, 3)
	if err != nil {
		t.Fatal(err)
	}
	return c
}
