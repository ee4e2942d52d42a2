package cvauto

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"

	"github.com/hazyhaar/contentvis/observability"
	"github.com/hazyhaar/contentvis/tagvisit"
	"github.com/hazyhaar/contentvis/urlmetric"
)

// Epsilon is the largest intersection ratio still treated as never visible:
// the float64 machine epsilon.
const Epsilon = 2.220446049250313e-16

// ViewportsAttr is the meta attribute listing the ranges styled for a node.
const ViewportsAttr = "cv-auto-viewports"

// Visitor applies content-visibility: auto to loop entries that were off
// screen in every sample of a viewport group and have a known height there.
type Visitor struct {
	marker  cascadia.Matcher
	heights *HeightCache
	metrics observability.Recorder
}

// NewVisitor returns a visitor matching elements with class entryClass.
func NewVisitor(heights *HeightCache, entryClass string, metrics observability.Recorder) (*Visitor, error) {
	sel, err := cascadia.Parse("." + entryClass)
	if err != nil {
		return nil, fmt.Errorf("cvauto: entry class %q: %w", entryClass, err)
	}
	if metrics == nil {
		metrics = observability.Discard
	}
	return &Visitor{marker: sel, heights: heights, metrics: metrics}, nil
}

// Visit implements tagvisit.Visitor. Every loop entry is tracked, styled or not.
func (v *Visitor) Visit(c *tagvisit.Context) bool {
	p := c.Processor
	if _, ok := p.Attr("class"); !ok {
		return false
	}
	if !v.marker.Match(p.Node()) {
		return false
	}

	xpath := p.XPath()
	// A bare id attribute and id="" parse to the same empty value.
	id, ok := p.Attr("id")
	if !ok || id == "" {
		id = ElementID(xpath)
		p.SetAttr("id", id)
	}

	var applied []*urlmetric.Group
	var rules []string
	for _, g := range c.Groups.Groups() {
		ratio, ok := g.ElementMaxIntersectionRatio(xpath)
		if !ok || ratio > Epsilon {
			continue
		}
		height, ok := v.heights.Height(c.Ctx, c.Groups, g, xpath)
		if !ok {
			continue
		}
		rules = append(rules, Rule(id, g, height))
		applied = append(applied, g)
	}

	p.SetMetaAttr(ViewportsAttr, FormatRanges(applied))

	if len(rules) > 0 {
		p.AppendHeadHTML("<style>" + strings.Join(rules, "\n") + "</style>")
		v.metrics.Record(observability.Count(observability.MetricCVRulesEmitted, len(rules), nil))
	}
	return true
}

// ElementID derives the id given to entries without one.
func ElementID(xpath string) string {
	sum := md5.Sum([]byte(xpath))
	return "odcv-" + hex.EncodeToString(sum[:])
}

// Rule returns the style rule for element id in group g.
func Rule(id string, g *urlmetric.Group, height float64) string {
	media := "screen"
	if cond, ok := urlmetric.MediaQuery(g.Min(), g.Max()); ok {
		media += " and " + cond
	}
	return "@media " + media + " { #" + cssIdent(id) +
		" { content-visibility: auto; contain-intrinsic-size: auto " +
		strconv.FormatFloat(height, 'f', -1, 64) + "px; } }"
}

// cssIdent escapes id for use after '#' in a selector.
func cssIdent(id string) string {
	var b strings.Builder
	for i, r := range id {
		switch {
		case r >= '0' && r <= '9' && (i == 0 || (i == 1 && id[0] == '-')):
			fmt.Fprintf(&b, "\\%x ", r)
		case r == '-' || r == '_' || r >= 0x80,
			r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}
