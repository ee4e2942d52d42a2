package urlmetric

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

func sample(width int, ts time.Time, els ...Element) *URLMetric {
	return &URLMetric{URL: "https://example.com/", Timestamp: ts, Viewport: Viewport{Width: width, Height: 800}, Elements: els}
}

func TestGroupCollection_Ranges(t *testing.T) {
	c, err := NewGroupCollection(nil, []int{480, 600, 782}, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := [][2]int{{0, 480}, {481, 600}, {601, 782}, {783, Unbounded}}
	groups := c.Groups()
	if len(groups) != len(want) {
		t.Fatalf("groups: got %d, want %d", len(groups), len(want))
	}
	for i, g := range groups {
		if g.Min() != want[i][0] || g.Max() != want[i][1] {
			t.Errorf("group %d: got [%d,%d], want %v", i, g.Min(), g.Max(), want[i])
		}
	}
	if !groups[3].IsUnbounded() || groups[2].IsUnbounded() {
		t.Error("only the last group is unbounded")
	}
	if groups[3].Range() != "783-" || groups[1].Range() != "481-600" {
		t.Errorf("ranges: %q %q", groups[3].Range(), groups[1].Range())
	}
	if g := c.GroupFor(600); g != groups[1] {
		t.Errorf("GroupFor(600): got %v", g)
	}
	if g := c.GroupFor(5000); g != groups[3] {
		t.Errorf("GroupFor(5000): got %v", g)
	}
	if g := c.GroupFor(-1); g != nil {
		t.Errorf("GroupFor(-1): got %v", g)
	}
}

func TestGroupCollection_NoBreakpoints(t *testing.T) {
	c, err := NewGroupCollection(nil, nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Groups()) != 1 || c.Groups()[0].Min() != 0 || !c.Groups()[0].IsUnbounded() {
		t.Fatalf("got %v", c.Groups())
	}
}

func TestGroupCollection_UnsortedBreakpoints(t *testing.T) {
	if _, err := NewGroupCollection(nil, []int{800, 400}, 1); err == nil {
		t.Fatal("expected error")
	}
}

func TestGroup_AddKeepsNewest(t *testing.T) {
	g := NewGroup(0, 480, 2)
	now := time.Now()
	a := sample(400, now.Add(-2*time.Hour))
	b := sample(400, now.Add(-1*time.Hour))
	c := sample(400, now)
	for _, m := range []*URLMetric{a, c, b} {
		if err := g.Add(m); err != nil {
			t.Fatal(err)
		}
	}
	got := g.URLMetrics()
	if len(got) != 2 || got[0] != c || got[1] != b {
		t.Fatalf("got %v", got)
	}
	if !g.IsComplete() {
		t.Error("group should be complete")
	}
	if err := g.Add(sample(900, now)); err == nil {
		t.Error("expected out-of-range error")
	}
}

func TestGroup_ElementMaxIntersectionRatio(t *testing.T) {
	g := NewGroup(0, Unbounded, 5)
	now := time.Now()
	g.Add(sample(1000, now, Element{XPath: "/html/body/div[1]", IntersectionRatio: 0}))
	g.Add(sample(1000, now.Add(time.Second), Element{XPath: "/html/body/div[1]", IntersectionRatio: 0.25}))

	if r, ok := g.ElementMaxIntersectionRatio("/html/body/div[1]"); !ok || r != 0.25 {
		t.Errorf("got %v %v", r, ok)
	}
	if _, ok := g.ElementMaxIntersectionRatio("/html/body/div[2]"); ok {
		t.Error("missing xpath should not be found")
	}
}

func TestMediaQuery(t *testing.T) {
	cases := []struct {
		min, max int
		want     string
		ok       bool
	}{
		{0, Unbounded, "", false},
		{0, 480, "(max-width: 480px)", true},
		{481, 600, "(min-width: 481px) and (max-width: 600px)", true},
		{783, Unbounded, "(min-width: 783px)", true},
		{600, 480, "", false},
	}
	for _, c := range cases {
		got, ok := MediaQuery(c.min, c.max)
		if got != c.want || ok != c.ok {
			t.Errorf("MediaQuery(%d,%d) = %q,%v want %q,%v", c.min, c.max, got, ok, c.want, c.ok)
		}
	}
}

func TestSlug(t *testing.T) {
	a, err := Slug("HTTPS://Example.com?b=2&a=1#top")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Slug("https://example.com/?a=1&b=2")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("normalized slugs differ: %s %s", a, b)
	}
	if len(a) != 32 {
		t.Errorf("slug length: got %d", len(a))
	}
	c, _ := Slug("https://example.com/page/2/")
	if c == a {
		t.Error("different pages share a slug")
	}
	if _, err := Slug("/relative"); err == nil {
		t.Error("relative url should fail")
	}
}

func TestElement_ExtraRoundTrip(t *testing.T) {
	raw := `{"xpath":"/html/body/div[1]","intersectionRatio":0,"boundingClientRect":{"width":10,"height":240},"contentVisibilityVisibleHeight":240}`
	var el Element
	if err := json.Unmarshal([]byte(raw), &el); err != nil {
		t.Fatal(err)
	}
	if h, ok := el.Number("contentVisibilityVisibleHeight"); !ok || h != 240 {
		t.Fatalf("extra: got %v %v", h, ok)
	}
	if el.BoundingClientRect.Height != 240 {
		t.Errorf("rect: got %+v", el.BoundingClientRect)
	}
	if _, ok := el.Get("xpath"); ok {
		t.Error("built-in field leaked into Extra")
	}

	out, err := json.Marshal(el)
	if err != nil {
		t.Fatal(err)
	}
	var back map[string]any
	json.Unmarshal(out, &back)
	if back["contentVisibilityVisibleHeight"] != float64(240) {
		t.Errorf("marshal lost extra: %s", out)
	}
}

func TestElement_NumberRejectsStrings(t *testing.T) {
	el := Element{}
	el.Extend("h", "240")
	if _, ok := el.Number("h"); ok {
		t.Error("string should not be numeric")
	}
	if _, ok := el.Number("missing"); ok {
		t.Error("missing should not be numeric")
	}
}

func TestSchema_Validate(t *testing.T) {
	zero := 0.0
	s, err := NewSchema(map[string]*jsonschema.Schema{
		"contentVisibilityVisibleHeight": {Type: "number", Minimum: &zero},
	})
	if err != nil {
		t.Fatal(err)
	}

	valid := `{"url":"https://example.com/","viewport":{"width":1024,"height":768},
		"elements":[{"xpath":"/html/body/div[1]","intersectionRatio":0,
		"boundingClientRect":{"width":100,"height":240},"contentVisibilityVisibleHeight":240}]}`
	m, err := s.Validate([]byte(valid))
	if err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
	if m.Viewport.Width != 1024 || len(m.Elements) != 1 {
		t.Fatalf("decoded: %+v", m)
	}

	invalid := map[string]string{
		"negative height": `{"url":"u","viewport":{"width":1,"height":1},"elements":[{"xpath":"/html","intersectionRatio":0,"boundingClientRect":{"width":1,"height":1},"contentVisibilityVisibleHeight":-1}]}`,
		"unknown prop":    `{"url":"u","viewport":{"width":1,"height":1},"elements":[{"xpath":"/html","intersectionRatio":0,"boundingClientRect":{"width":1,"height":1},"bogus":1}]}`,
		"missing url":     `{"viewport":{"width":1,"height":1},"elements":[]}`,
		"ratio above 1":   `{"url":"u","viewport":{"width":1,"height":1},"elements":[{"xpath":"/html","intersectionRatio":2,"boundingClientRect":{"width":1,"height":1}}]}`,
		"not json":        `{`,
	}
	for name, raw := range invalid {
		if _, err := s.Validate([]byte(raw)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestSchema_BuiltinNotOverridden(t *testing.T) {
	s, err := NewSchema(map[string]*jsonschema.Schema{"xpath": {Type: "number"}})
	if err != nil {
		t.Fatal(err)
	}
	if s.ElementProperties()["xpath"].Type != "string" {
		t.Error("extension overrode xpath")
	}
}
