package urlmetric

import (
	"fmt"
	"slices"
	"strconv"
)

// Group holds the URL metrics sampled for one viewport width range.
type Group struct {
	min, max   int
	sampleSize int
	metrics    []*URLMetric
}

// NewGroup creates an empty group covering [min, max].
func NewGroup(min, max, sampleSize int) *Group {
	return &Group{min: min, max: max, sampleSize: sampleSize}
}

// Min returns the minimum viewport width (inclusive).
func (g *Group) Min() int { return g.min }

// Max returns the maximum viewport width (inclusive), Unbounded for the last group.
func (g *Group) Max() int { return g.max }

// IsUnbounded reports whether the group has no maximum width.
func (g *Group) IsUnbounded() bool { return g.max == Unbounded }

// Includes reports whether width falls in the group.
func (g *Group) Includes(width int) bool { return width >= g.min && width <= g.max }

// URLMetrics returns the group's samples, newest first.
func (g *Group) URLMetrics() []*URLMetric { return g.metrics }

// Len returns the number of samples.
func (g *Group) Len() int { return len(g.metrics) }

// IsComplete reports whether the group holds sampleSize samples.
func (g *Group) IsComplete() bool { return g.sampleSize > 0 && len(g.metrics) >= g.sampleSize }

// Add inserts m, keeping at most sampleSize samples and dropping the oldest.
func (g *Group) Add(m *URLMetric) error {
	if !g.Includes(m.Viewport.Width) {
		return fmt.Errorf("urlmetric: viewport width %d outside group %s", m.Viewport.Width, g)
	}
	g.metrics = append(g.metrics, m)
	slices.SortStableFunc(g.metrics, func(a, b *URLMetric) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	if g.sampleSize > 0 && len(g.metrics) > g.sampleSize {
		g.metrics = g.metrics[:g.sampleSize]
	}
	return nil
}

// ElementMaxIntersectionRatio returns the largest intersection ratio recorded
// for xpath across the group's samples. ok is false when no sample has it.
func (g *Group) ElementMaxIntersectionRatio(xpath string) (ratio float64, ok bool) {
	for _, m := range g.metrics {
		for i := range m.Elements {
			el := &m.Elements[i]
			if el.XPath != xpath {
				continue
			}
			if !ok || el.IntersectionRatio > ratio {
				ratio = el.IntersectionRatio
			}
			ok = true
		}
	}
	return ratio, ok
}

// Range formats the group as "min-max", or "min-" when unbounded.
func (g *Group) Range() string {
	s := strconv.Itoa(g.min) + "-"
	if !g.IsUnbounded() {
		s += strconv.Itoa(g.max)
	}
	return s
}

func (g *Group) String() string { return "[" + g.Range() + "]" }

// GroupCollection partitions URL metrics by viewport width.
type GroupCollection struct {
	breakpoints []int
	groups      []*Group
}

// NewGroupCollection builds groups [0,b0] [b0+1,b1] ... [bn+1,Unbounded] and
// adds metrics to them. Breakpoints must be ascending and positive.
func NewGroupCollection(metrics []*URLMetric, breakpoints []int, sampleSize int) (*GroupCollection, error) {
	if !slices.IsSorted(breakpoints) {
		return nil, fmt.Errorf("urlmetric: breakpoints not sorted: %v", breakpoints)
	}
	c := &GroupCollection{breakpoints: slices.Clone(breakpoints)}
	min := 0
	for _, b := range breakpoints {
		if b < min {
			return nil, fmt.Errorf("urlmetric: invalid breakpoint %d", b)
		}
		c.groups = append(c.groups, NewGroup(min, b, sampleSize))
		min = b + 1
	}
	c.groups = append(c.groups, NewGroup(min, Unbounded, sampleSize))

	for _, m := range metrics {
		if err := c.Add(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Breakpoints returns a copy of the breakpoints.
func (c *GroupCollection) Breakpoints() []int { return slices.Clone(c.breakpoints) }

// Groups returns the groups ordered by minimum width.
func (c *GroupCollection) Groups() []*Group { return c.groups }

// GroupFor returns the group including width, or nil for negative widths.
func (c *GroupCollection) GroupFor(width int) *Group {
	for _, g := range c.groups {
		if g.Includes(width) {
			return g
		}
	}
	return nil
}

// Add inserts m into the group matching its viewport width.
func (c *GroupCollection) Add(m *URLMetric) error {
	g := c.GroupFor(m.Viewport.Width)
	if g == nil {
		return fmt.Errorf("urlmetric: no group for viewport width %d", m.Viewport.Width)
	}
	return g.Add(m)
}

// Len returns the number of metrics across every group.
func (c *GroupCollection) Len() int {
	n := 0
	for _, g := range c.groups {
		n += g.Len()
	}
	return n
}
