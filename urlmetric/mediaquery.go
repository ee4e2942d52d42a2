package urlmetric

import (
	"fmt"
	"strings"
)

// MediaQuery returns the media conditions matching viewport widths in
// [min, max]. ok is false when the range needs no condition or is inverted.
func MediaQuery(min, max int) (query string, ok bool) {
	if min > max {
		return "", false
	}
	var parts []string
	if min > 0 {
		parts = append(parts, fmt.Sprintf("(min-width: %dpx)", min))
	}
	if max != Unbounded {
		parts = append(parts, fmt.Sprintf("(max-width: %dpx)", max))
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, " and "), true
}
