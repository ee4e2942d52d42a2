package cvauto

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hazyhaar/contentvis/urlmetric"
)

// Range is a viewport width range with content-visibility applied.
type Range struct {
	Min int
	Max int // urlmetric.Unbounded when open-ended
}

var rangeToken = regexp.MustCompile(`^(\d+)-(\d+)?$`)

// ParseRanges reads the whitespace-separated "min-max" / "min-" tokens of the
// cv-auto-viewports attribute. Malformed tokens are skipped.
func ParseRanges(attr string) []Range {
	var out []Range
	for _, tok := range strings.Fields(attr) {
		m := rangeToken.FindStringSubmatch(tok)
		if m == nil {
			continue
		}
		min, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		max := urlmetric.Unbounded
		if m[2] != "" {
			if max, err = strconv.Atoi(m[2]); err != nil {
				continue
			}
		}
		out = append(out, Range{Min: min, Max: max})
	}
	return out
}

// FormatRanges renders the attribute value for groups.
func FormatRanges(groups []*urlmetric.Group) string {
	toks := make([]string, len(groups))
	for i, g := range groups {
		toks[i] = g.Range()
	}
	return strings.Join(toks, " ")
}

// RangesCover reports whether any range includes width.
func RangesCover(ranges []Range, width int) bool {
	for _, r := range ranges {
		if width >= r.Min && width <= r.Max {
			return true
		}
	}
	return false
}
