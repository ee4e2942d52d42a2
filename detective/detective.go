// Package detective hosts page optimization extensions.
//
// It owns the request lifecycle around them: Optimize loads the URL metrics
// stored for a page, runs a fresh visitor registry over its HTML and injects
// the client configuration; StoreURLMetric validates a browser report against
// the schema extended by every extension, stores it and notifies extensions.
//
// Usage:
//
//	svc, err := detective.New(detective.Config{Store: st, Extensions: []detective.Extension{ext}})
//	svc.RegisterHTTP(router)
//	svc.RegisterMCP(mcpServer)
package detective

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/contentvis/idgen"
	"github.com/hazyhaar/contentvis/internal/store"
	"github.com/hazyhaar/contentvis/observability"
	"github.com/hazyhaar/contentvis/tagvisit"
	"github.com/hazyhaar/contentvis/urlmetric"
)

// ErrInvalidURLMetric wraps every rejection of a submitted URL metric.
var ErrInvalidURLMetric = errors.New("detective: invalid url metric")

// StoreRequestContext describes a URL metric that was just stored.
type StoreRequestContext struct {
	PostID    int64
	Slug      string
	URLMetric *urlmetric.URLMetric
	Group     *urlmetric.Group
	Groups    *urlmetric.GroupCollection
}

// Extension plugs optimization behaviour into the service.
type Extension interface {
	// Name identifies the extension and prefixes its asset URLs.
	Name() string
	// RegisterVisitors adds the extension's visitors for one page render.
	RegisterVisitors(reg *tagvisit.Registry, page tagvisit.Page)
	// FilterModuleURLs returns the client module URLs with the extension's own appended.
	FilterModuleURLs(urls []string) []string
	// FilterElementSchema returns the element properties with the extension's own added.
	FilterElementSchema(props map[string]*jsonschema.Schema) map[string]*jsonschema.Schema
	// URLMetricStored is called after a URL metric has been stored.
	URLMetricStored(ctx context.Context, rc StoreRequestContext) error
}

// AssetProvider is implemented by extensions serving client files.
type AssetProvider interface {
	Assets() fs.FS
}

// MCPProvider is implemented by extensions exposing their own MCP tools.
type MCPProvider interface {
	RegisterMCP(srv *mcp.Server)
}

// Store is the persistence the service needs. *store.Store implements it.
type Store interface {
	GetPost(ctx context.Context, slug string) (*store.Post, error)
	EnsurePost(ctx context.Context, slug, url string) (*store.Post, error)
	InsertURLMetric(ctx context.Context, postID int64, m *urlmetric.URLMetric) error
	ListURLMetrics(ctx context.Context, postID int64, limit int) ([]*urlmetric.URLMetric, error)
	PruneURLMetrics(ctx context.Context, postID int64, minWidth, maxWidth, keep int) (int64, error)
}

// Config configures a Service.
type Config struct {
	Store       Store
	Extensions  []Extension
	Breakpoints []int
	SampleSize  int
	// BaseURL prefixes the store endpoint and asset URLs handed to browsers.
	BaseURL string
	Metrics observability.Recorder
	// Audit records every StoreURLMetric call and MCP tool call.
	Audit  observability.Auditor
	Logger *slog.Logger
	IDs    idgen.Generator
}

func (c *Config) defaults() {
	if c.Breakpoints == nil {
		c.Breakpoints = []int{480, 600, 782}
	}
	if c.SampleSize <= 0 {
		c.SampleSize = 3
	}
	if c.Metrics == nil {
		c.Metrics = observability.Discard
	}
	if c.Audit == nil {
		c.Audit = observability.NopAuditor
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.IDs == nil {
		c.IDs = idgen.Prefixed("um_", idgen.Default)
	}
}

// Service runs extensions over pages and ingests their URL metrics.
type Service struct {
	cfg    Config
	schema *urlmetric.Schema
	logger *slog.Logger
}

// New builds a Service. The URL metric schema is extended once by every
// extension.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("detective: nil store")
	}
	cfg.defaults()

	props := map[string]*jsonschema.Schema{}
	for _, ext := range cfg.Extensions {
		props = ext.FilterElementSchema(props)
	}
	schema, err := urlmetric.NewSchema(props)
	if err != nil {
		return nil, fmt.Errorf("detective: %w", err)
	}

	if _, err := urlmetric.NewGroupCollection(nil, cfg.Breakpoints, cfg.SampleSize); err != nil {
		return nil, fmt.Errorf("detective: %w", err)
	}

	return &Service{cfg: cfg, schema: schema, logger: cfg.Logger}, nil
}

// Schema returns the extended URL metric schema.
func (s *Service) Schema() *urlmetric.Schema { return s.schema }

// Extension returns the extension registered under name.
func (s *Service) Extension(name string) (Extension, bool) {
	for _, ext := range s.cfg.Extensions {
		if ext.Name() == name {
			return ext, true
		}
	}
	return nil, false
}

// moduleURLs runs the module URL filter chain.
func (s *Service) moduleURLs() []string {
	urls := []string{}
	for _, ext := range s.cfg.Extensions {
		urls = ext.FilterModuleURLs(urls)
	}
	return urls
}

// groups loads the stored URL metrics of post into a fresh collection. A nil
// post yields empty groups.
func (s *Service) groups(ctx context.Context, post *store.Post) (*urlmetric.GroupCollection, error) {
	var metrics []*urlmetric.URLMetric
	if post != nil {
		var err error
		metrics, err = s.cfg.Store.ListURLMetrics(ctx, post.ID, 0)
		if err != nil {
			return nil, err
		}
	}
	return urlmetric.NewGroupCollection(metrics, s.cfg.Breakpoints, s.cfg.SampleSize)
}

// GroupSummary describes one viewport group for operators.
type GroupSummary struct {
	Range     string `json:"range"`
	Min       int    `json:"min"`
	Max       int    `json:"max,omitempty"`
	Unbounded bool   `json:"unbounded,omitempty"`
	Samples   int    `json:"samples"`
	Complete  bool   `json:"complete"`
}

// PageGroups summarises the viewport groups of the page at pageURL.
func (s *Service) PageGroups(ctx context.Context, pageURL string) ([]GroupSummary, error) {
	slug, err := urlmetric.Slug(pageURL)
	if err != nil {
		return nil, err
	}
	post, err := s.cfg.Store.GetPost(ctx, slug)
	if err != nil {
		return nil, err
	}
	groups, err := s.groups(ctx, post)
	if err != nil {
		return nil, err
	}
	return summarize(groups), nil
}

func summarize(groups *urlmetric.GroupCollection) []GroupSummary {
	var out []GroupSummary
	for _, g := range groups.Groups() {
		gs := GroupSummary{
			Range:     g.Range(),
			Min:       g.Min(),
			Unbounded: g.IsUnbounded(),
			Samples:   g.Len(),
			Complete:  g.IsComplete(),
		}
		if !g.IsUnbounded() {
			gs.Max = g.Max()
		}
		out = append(out, gs)
	}
	return out
}
