package cvauto

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hazyhaar/contentvis/detective"
	"github.com/hazyhaar/contentvis/urlmetric"
)

func storeContext(postID int64, g *urlmetric.Group, els ...urlmetric.Element) detective.StoreRequestContext {
	return detective.StoreRequestContext{
		PostID:    postID,
		Group:     g,
		URLMetric: &urlmetric.URLMetric{URL: testURL, Viewport: urlmetric.Viewport{Width: 400}, Elements: els},
	}
}

func el(xpath string, height any) urlmetric.Element {
	e := urlmetric.Element{XPath: xpath}
	if height != nil {
		e.Extend(HeightProperty, height)
	}
	return e
}

func storedHeights(t *testing.T, st Store, postID int64, key string) (map[string]float64, bool) {
	t.Helper()
	raw, ok, err := st.GetPostMeta(context.Background(), postID, key)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		return nil, false
	}
	var m map[string]float64
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	return m, true
}

func TestMetaKey(t *testing.T) {
	if got := MetaKey(urlmetric.NewGroup(481, 600, 1)); got != "content_visibility_visible_heights:481" {
		t.Errorf("got %q", got)
	}
}

func TestPersistHeights_Merge(t *testing.T) {
	st, postID := openStore(t)
	ctx := context.Background()
	g := urlmetric.NewGroup(0, 480, 3)
	st.UpdatePostMeta(ctx, postID, MetaKey(g), map[string]any{
		"/html/body/div[1]": 100, // re-reported below
		"/html/body/div[2]": 200, // still present, not reported
		"/html/body/div[3]": 300, // gone from the page
		"/html/body/div[4]": -5,  // invalid
		"/html/body/div[5]": "x", // invalid
	})

	n, err := PersistHeights(ctx, st, storeContext(postID, g,
		el("/html/body/div[1]", 150.0),
		el("/html/body/div[2]", nil),
		el("/html/body/div[4]", nil),
		el("/html/body/div[5]", nil),
		el("/html/body/div[6]", 60.0),
	))
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("kept: got %d, want 3", n)
	}

	got, ok := storedHeights(t, st, postID, MetaKey(g))
	if !ok {
		t.Fatal("meta missing")
	}
	want := map[string]float64{"/html/body/div[1]": 150, "/html/body/div[2]": 200, "/html/body/div[6]": 60}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s: got %v, want %v", k, got[k], v)
		}
	}
}

func TestPersistHeights_DropsAbsentXPath(t *testing.T) {
	st, postID := openStore(t)
	ctx := context.Background()
	g := urlmetric.NewGroup(0, 480, 3)
	st.UpdatePostMeta(ctx, postID, MetaKey(g), map[string]float64{"/html/body/div[1]": 240, "/html/body/div[2]": 90})

	if _, err := PersistHeights(ctx, st, storeContext(postID, g, el("/html/body/div[2]", nil))); err != nil {
		t.Fatal(err)
	}
	got, _ := storedHeights(t, st, postID, MetaKey(g))
	if _, ok := got["/html/body/div[1]"]; ok {
		t.Errorf("absent xpath kept: %v", got)
	}
	if got["/html/body/div[2]"] != 90 {
		t.Errorf("present xpath lost: %v", got)
	}
}

func TestPersistHeights_EmptyDeletesKey(t *testing.T) {
	st, postID := openStore(t)
	ctx := context.Background()
	g := urlmetric.NewGroup(0, 480, 3)
	st.UpdatePostMeta(ctx, postID, MetaKey(g), map[string]float64{"/html/body/div[1]": 240})

	n, err := PersistHeights(ctx, st, storeContext(postID, g, el("/html/body/div[9]", nil)))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("kept: got %d", n)
	}
	if _, ok := storedHeights(t, st, postID, MetaKey(g)); ok {
		t.Error("empty map must delete the key")
	}
}

func TestPersistHeights_IgnoresMalformedStore(t *testing.T) {
	st, postID := openStore(t)
	ctx := context.Background()
	g := urlmetric.NewGroup(0, 480, 3)
	st.UpdatePostMeta(ctx, postID, MetaKey(g), []int{1, 2})

	if _, err := PersistHeights(ctx, st, storeContext(postID, g, el("/html/body/div[1]", 42.0))); err != nil {
		t.Fatal(err)
	}
	got, _ := storedHeights(t, st, postID, MetaKey(g))
	if len(got) != 1 || got["/html/body/div[1]"] != 42 {
		t.Errorf("got %v", got)
	}
}

func TestHeightCache_LoadsEveryGroupOnce(t *testing.T) {
	st, postID := openStore(t)
	ctx := context.Background()
	groups := groupsWith(t, 400, nil)
	narrow, wide := groups.Groups()[0], groups.Groups()[1]
	st.UpdatePostMeta(ctx, postID, MetaKey(narrow), map[string]any{"/a": 10, "/bad": -1})
	st.UpdatePostMeta(ctx, postID, MetaKey(wide), map[string]any{"/a": 20})

	cache := NewHeightCache(st, postID, nil)
	if h, ok := cache.Height(ctx, groups, narrow, "/a"); !ok || h != 10 {
		t.Errorf("narrow: %v %v", h, ok)
	}

	// Later writes are not seen by the same render.
	st.UpdatePostMeta(ctx, postID, MetaKey(wide), map[string]any{"/a": 99})
	if h, ok := cache.Height(ctx, groups, wide, "/a"); !ok || h != 20 {
		t.Errorf("wide: %v %v", h, ok)
	}
	if _, ok := cache.Height(ctx, groups, narrow, "/bad"); ok {
		t.Error("negative height must be ignored")
	}
}
