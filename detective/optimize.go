package detective

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/contentvis/observability"
	"github.com/hazyhaar/contentvis/tagvisit"
	"github.com/hazyhaar/contentvis/urlmetric"
)

// DetectConfigID is the id of the JSON script element read by the client.
const DetectConfigID = "od-detect-config"

// StorePath is the URL metric ingestion endpoint.
const StorePath = "/url-metrics:store"

// DetectConfig is injected into optimized pages for the client loader.
type DetectConfig struct {
	Slug                string   `json:"slug"`
	URL                 string   `json:"url"`
	StoreURL            string   `json:"storeUrl"`
	Breakpoints         []int    `json:"breakpoints"`
	ExtensionModuleURLs []string `json:"extensionModuleUrls"`
}

// Result is an optimized page.
type Result struct {
	HTML    []byte
	Slug    string
	PostID  int64
	Tracked int
	Groups  []GroupSummary
}

// Optimize runs every extension's visitors over document and returns the
// rewritten markup. page.URL is required; Slug and PostID are filled in.
// A page without stored URL metrics is still rendered, with nothing styled.
func (s *Service) Optimize(ctx context.Context, page tagvisit.Page, document []byte) (*Result, error) {
	start := time.Now()

	normalized, err := urlmetric.NormalizeURL(page.URL)
	if err != nil {
		return nil, fmt.Errorf("detective: optimize: %w", err)
	}
	page.URL = normalized
	if page.Slug, err = urlmetric.Slug(normalized); err != nil {
		return nil, fmt.Errorf("detective: optimize: %w", err)
	}

	post, err := s.cfg.Store.GetPost(ctx, page.Slug)
	if err != nil {
		return nil, fmt.Errorf("detective: optimize: %w", err)
	}
	if post != nil {
		page.PostID = post.ID
	}
	groups, err := s.groups(ctx, post)
	if err != nil {
		return nil, fmt.Errorf("detective: optimize: load groups: %w", err)
	}

	proc, err := tagvisit.NewProcessor(bytes.NewReader(document))
	if err != nil {
		return nil, fmt.Errorf("detective: optimize: %w", err)
	}

	reg := tagvisit.NewRegistry()
	for _, ext := range s.cfg.Extensions {
		ext.RegisterVisitors(reg, page)
	}
	tracked := tagvisit.Run(reg, &tagvisit.Context{
		Ctx:       ctx,
		Processor: proc,
		Groups:    groups,
		Page:      page,
		Logger:    s.logger,
	})

	if err := s.injectDetectConfig(proc, page); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := proc.Render(&buf); err != nil {
		return nil, fmt.Errorf("detective: optimize: %w", err)
	}

	s.cfg.Metrics.Record(observability.Count(observability.MetricPagesOptimized, 1, nil))
	s.cfg.Metrics.Record(observability.Count(observability.MetricNodesTracked, tracked, nil))
	s.cfg.Metrics.Record(&observability.Metric{
		Name:      observability.MetricOptimizeDuration,
		Timestamp: time.Now(),
		Value:     float64(time.Since(start).Milliseconds()),
		Unit:      "milliseconds",
	})
	s.logger.Debug("page optimized", "slug", page.Slug, "post_id", page.PostID, "tracked", tracked, "visitors", reg.Len())

	return &Result{
		HTML:    buf.Bytes(),
		Slug:    page.Slug,
		PostID:  page.PostID,
		Tracked: tracked,
		Groups:  summarize(groups),
	}, nil
}

func (s *Service) injectDetectConfig(proc *tagvisit.Processor, page tagvisit.Page) error {
	cfg := DetectConfig{
		Slug:                page.Slug,
		URL:                 page.URL,
		StoreURL:            strings.TrimSuffix(s.cfg.BaseURL, "/") + StorePath,
		Breakpoints:         s.cfg.Breakpoints,
		ExtensionModuleURLs: s.moduleURLs(),
	}
	// json.Marshal escapes '<', so the payload cannot close the script element.
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("detective: marshal detect config: %w", err)
	}
	proc.AppendHeadHTML(`<script type="application/json" id="` + DetectConfigID + `">` + string(data) + `</script>`)
	return nil
}
