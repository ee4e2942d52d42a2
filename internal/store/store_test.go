package store

import (
	"context"
	"strconv"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/contentvis/dbopen"
	"github.com/hazyhaar/contentvis/urlmetric"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	return New(dbopen.OpenMemory(t, dbopen.WithSchema(Schema)))
}

func TestPosts(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	p, err := s.GetPost(ctx, "abc")
	if err != nil || p != nil {
		t.Fatalf("absent post: got %v, %v", p, err)
	}

	created, err := s.EnsurePost(ctx, "abc", "https://example.com/")
	if err != nil {
		t.Fatal(err)
	}
	again, err := s.EnsurePost(ctx, "abc", "https://example.com/")
	if err != nil {
		t.Fatal(err)
	}
	if created.ID == 0 || again.ID != created.ID {
		t.Fatalf("ids: %d %d", created.ID, again.ID)
	}

	got, err := s.GetPost(ctx, "abc")
	if err != nil || got == nil || got.URL != "https://example.com/" {
		t.Fatalf("got %+v, %v", got, err)
	}
}

func TestURLMetrics(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	p, _ := s.EnsurePost(ctx, "abc", "https://example.com/")

	now := time.Now()
	for i, w := range []int{400, 400, 1200} {
		m := &urlmetric.URLMetric{
			ID:        "um" + string(rune('a'+i)),
			URL:       "https://example.com/",
			Timestamp: now.Add(time.Duration(i) * time.Second),
			Viewport:  urlmetric.Viewport{Width: w, Height: 800},
			Elements: []urlmetric.Element{{
				XPath: "/html/body/div[1]",
				Extra: map[string]any{"contentVisibilityVisibleHeight": 240.0},
			}},
		}
		if err := s.InsertURLMetric(ctx, p.ID, m); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListURLMetrics(ctx, p.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "umc" {
		t.Fatalf("list: got %d, first %q", len(all), all[0].ID)
	}
	if h, ok := all[0].Elements[0].Number("contentVisibilityVisibleHeight"); !ok || h != 240 {
		t.Errorf("extra lost: %v %v", h, ok)
	}

	n, err := s.PruneURLMetrics(ctx, p.ID, 0, 480, 1)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("pruned: got %d, want 1", n)
	}
	left, _ := s.ListURLMetrics(ctx, p.ID, 0)
	if len(left) != 2 || left[1].ID != "umb" {
		t.Fatalf("after prune: %d", len(left))
	}

	if err := s.InsertURLMetric(ctx, p.ID, &urlmetric.URLMetric{}); err == nil {
		t.Error("missing id should fail")
	}
}

func TestPruneURLMetrics_PerGroup(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	p, _ := s.EnsurePost(ctx, "abc", "https://example.com/")

	insert := func(id string, width int) {
		t.Helper()
		m := &urlmetric.URLMetric{ID: id, URL: "https://example.com/", Viewport: urlmetric.Viewport{Width: width, Height: 800}}
		if err := s.InsertURLMetric(ctx, p.ID, m); err != nil {
			t.Fatal(err)
		}
	}
	insert("narrow", 400)
	for i := range 30 {
		insert("wide"+strconv.Itoa(i), 800+i)
	}

	n, err := s.PruneURLMetrics(ctx, p.ID, 783, urlmetric.Unbounded, 2)
	if err != nil {
		t.Fatal(err)
	}
	if n != 28 {
		t.Errorf("pruned %d, want 28", n)
	}
	left, _ := s.ListURLMetrics(ctx, p.ID, 0)
	if len(left) != 3 {
		t.Fatalf("left %d metrics, want 3", len(left))
	}
	ids := map[string]bool{}
	for _, m := range left {
		ids[m.ID] = true
	}
	if !ids["narrow"] || !ids["wide29"] || !ids["wide28"] {
		t.Errorf("kept %v", ids)
	}
}

func TestPostMeta(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	p, _ := s.EnsurePost(ctx, "abc", "https://example.com/")

	if _, ok, err := s.GetPostMeta(ctx, p.ID, "k"); ok || err != nil {
		t.Fatalf("absent: %v %v", ok, err)
	}

	if err := s.UpdatePostMeta(ctx, p.ID, "content_visibility_visible_heights:0", map[string]float64{"/html/body/div[1]": 240}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdatePostMeta(ctx, p.ID, "content_visibility_visible_heights:0", map[string]float64{"/html/body/div[1]": 300}); err != nil {
		t.Fatal(err)
	}
	s.UpdatePostMeta(ctx, p.ID, "content_visibility_visible_heights:481", map[string]float64{})
	s.UpdatePostMeta(ctx, p.ID, "other", 1)

	raw, ok, err := s.GetPostMeta(ctx, p.ID, "content_visibility_visible_heights:0")
	if err != nil || !ok || string(raw) != `{"/html/body/div[1]":300}` {
		t.Fatalf("got %s %v %v", raw, ok, err)
	}

	list, err := s.ListPostMeta(ctx, p.ID, "content_visibility_visible_heights:")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("list: got %d", len(list))
	}

	if err := s.DeletePostMeta(ctx, p.ID, "content_visibility_visible_heights:0"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.GetPostMeta(ctx, p.ID, "content_visibility_visible_heights:0"); ok {
		t.Error("meta not deleted")
	}
	if err := s.DeletePostMeta(ctx, p.ID, "never-set"); err != nil {
		t.Errorf("deleting absent key: %v", err)
	}
}

func TestDeletePost_Cascades(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	p, _ := s.EnsurePost(ctx, "abc", "https://example.com/")
	s.UpdatePostMeta(ctx, p.ID, "k", 1)

	if err := s.DeletePost(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	var n int
	s.DB.QueryRow(`SELECT COUNT(*) FROM post_meta`).Scan(&n)
	if n != 0 {
		t.Fatalf("meta rows left: %d", n)
	}
}
