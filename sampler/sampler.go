// Package sampler collects URL metrics for optimized pages with a headless
// Chrome, one page view per viewport group, so pages get heights and
// intersection data before real visitors report any.
//
// Each sample loads the page at the group's width, records the intersection
// and bounding rect of every tracked element, scrolls to the bottom while the
// content-visibility observer captures revealed heights, then posts the
// finalized metric to the page's store endpoint.
package sampler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/contentvis/cvauto"
	"github.com/hazyhaar/contentvis/detective"
	"github.com/hazyhaar/contentvis/urlmetric"
)

// Config configures a Sampler.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome. Empty launches one.
	RemoteURL string
	Stealth   bool
	// Height is the viewport height of every sample. Default: 900.
	Height int
	// Settle is how long to wait after scrolling for late state changes. Default: 2s.
	Settle time.Duration
	// NavTimeout bounds navigation and load. Default: 30s.
	NavTimeout time.Duration
	// MaxRetries bounds the resubmissions of a metric refused with 429 and a
	// Retry-After header. Default: 3. Negative disables retries.
	MaxRetries int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (c *Config) defaults() {
	if c.Height <= 0 {
		c.Height = 900
	}
	if c.Settle <= 0 {
		c.Settle = 2 * time.Second
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// unboundedWidth is sampled for the open-ended group when its minimum is lower.
const unboundedWidth = 1280

// Widths picks one viewport width per group of breakpoints: the midpoint of
// bounded groups and max(min, 1280) for the last one.
func Widths(breakpoints []int) []int {
	var out []int
	min := 0
	for _, b := range breakpoints {
		w := (min + b) / 2
		if w < 1 {
			w = 1
		}
		out = append(out, w)
		min = b + 1
	}
	return append(out, max(min, unboundedWidth))
}

// ElementSample is the in-page measurement of one tracked element.
type ElementSample struct {
	XPath              string            `json:"xpath"`
	Viewports          *string           `json:"viewports"`
	IntersectionRatio  float64           `json:"intersectionRatio"`
	IntersectionRect   urlmetric.DOMRect `json:"intersectionRect"`
	BoundingClientRect urlmetric.DOMRect `json:"boundingClientRect"`
}

// PageSample is what one page view yields before finalization.
type PageSample struct {
	Config   detective.DetectConfig `json:"config"`
	Viewport urlmetric.Viewport     `json:"viewport"`
	Elements []ElementSample        `json:"elements"`
}

// ParsePageSample decodes the JSON returned by the collection script.
func ParsePageSample(raw string) (*PageSample, error) {
	var ps PageSample
	if err := json.Unmarshal([]byte(raw), &ps); err != nil {
		return nil, fmt.Errorf("sampler: decode page sample: %w", err)
	}
	if ps.Config.StoreURL == "" {
		return nil, fmt.Errorf("sampler: page has no detect config")
	}
	return &ps, nil
}

// TrackAll subscribes obs to every element styled by the content-visibility
// visitor.
func TrackAll(obs *cvauto.Observer, ps *PageSample) {
	for _, el := range ps.Elements {
		if el.Viewports != nil {
			obs.Track(el.XPath, cvauto.ParseRanges(*el.Viewports))
		}
	}
}

// ModuleURL returns the content-visibility module listed in cfg, or "".
func ModuleURL(cfg detective.DetectConfig) string {
	marker := "/extensions/" + cvauto.Name + "/"
	for _, u := range cfg.ExtensionModuleURLs {
		if strings.Contains(u, marker) {
			return u
		}
	}
	return ""
}

func newMetric(ps *PageSample) (*urlmetric.URLMetric, map[string]int) {
	m := &urlmetric.URLMetric{
		URL:      ps.Config.URL,
		Slug:     ps.Config.Slug,
		Viewport: ps.Viewport,
	}
	index := make(map[string]int, len(ps.Elements))
	for _, el := range ps.Elements {
		index[el.XPath] = len(m.Elements)
		m.Elements = append(m.Elements, urlmetric.Element{
			XPath:              el.XPath,
			IntersectionRatio:  el.IntersectionRatio,
			IntersectionRect:   el.IntersectionRect,
			BoundingClientRect: el.BoundingClientRect,
		})
	}
	return m, index
}

// Assemble builds the URL metric payload of ps, letting obs add the heights.
func Assemble(ps *PageSample, obs *cvauto.Observer) *urlmetric.URLMetric {
	m, index := newMetric(ps)
	obs.Finalize(ps.Viewport.Width,
		func(xpath string) *urlmetric.Element {
			if i, ok := index[xpath]; ok {
				return &m.Elements[i]
			}
			return nil
		},
		func(xpath string, props map[string]any) {
			i, ok := index[xpath]
			if !ok {
				return
			}
			for k, v := range props {
				m.Elements[i].Extend(k, v)
			}
		},
	)
	return m
}

// AssembleExtended builds the URL metric payload of ps with the extension data
// reported by the in-page module. Data for unknown xpaths is dropped.
func AssembleExtended(ps *PageSample, ext map[string]map[string]any) *urlmetric.URLMetric {
	m, index := newMetric(ps)
	for xpath, props := range ext {
		i, ok := index[xpath]
		if !ok {
			continue
		}
		for k, v := range props {
			m.Elements[i].Extend(k, v)
		}
	}
	return m
}

// StatusError is a non-200 answer of the store endpoint.
type StatusError struct {
	Code int
	// RetryAfter is the wait announced by a locked endpoint, zero when absent.
	RetryAfter time.Duration
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sampler: submit: status %d: %s", e.Code, e.Message)
}

// Submit posts m to storeURL. Non-200 answers are returned as *StatusError.
func Submit(ctx context.Context, client *http.Client, storeURL string, m *urlmetric.URLMetric) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("sampler: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, storeURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sampler: submit: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sampler: submit: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		se := &StatusError{Code: resp.StatusCode, Message: string(bytes.TrimSpace(msg))}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			se.RetryAfter = time.Duration(secs) * time.Second
		}
		return se
	}
	return nil
}

// submit posts m, waiting out store locks up to MaxRetries times.
func (s *Sampler) submit(ctx context.Context, storeURL string, m *urlmetric.URLMetric) error {
	for attempt := 0; ; attempt++ {
		err := Submit(ctx, s.cfg.HTTPClient, storeURL, m)
		var se *StatusError
		if !errors.As(err, &se) || se.Code != http.StatusTooManyRequests || se.RetryAfter <= 0 || attempt >= s.cfg.MaxRetries {
			return err
		}
		s.cfg.Logger.Info("sampler: store locked, waiting", "retry_after", se.RetryAfter, "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(se.RetryAfter):
		}
	}
}
