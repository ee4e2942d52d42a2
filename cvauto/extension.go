// Package cvauto applies CSS content-visibility: auto to repeated loop entries
// (elements with the hentry class) that were off screen in every sampled page
// view of a viewport group, with contain-intrinsic-size set to the height the
// entry had once revealed, so skipped rendering does not shift layout.
//
// Heights are measured by detect.js in visitors' browsers when the browser
// reveals an entry, reported with the URL metric, and merged into one post
// meta map per viewport group by the store hook.
package cvauto

import (
	"context"
	"embed"
	"encoding/json"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/hazyhaar/contentvis/detective"
	"github.com/hazyhaar/contentvis/internal/store"
	"github.com/hazyhaar/contentvis/observability"
	"github.com/hazyhaar/contentvis/tagvisit"
)

// Version is appended to the client module URL.
const Version = "0.1.0"

// Name identifies the extension and its asset path.
const Name = "content-visibility"

// VisitorID is the registry id of the visitor.
const VisitorID = "od-content-visibility"

//go:embed detect.js
var assets embed.FS

// Store is where the extension persists heights and looks pages up.
type Store interface {
	MetaStore
	GetPost(ctx context.Context, slug string) (*store.Post, error)
	ListPostMeta(ctx context.Context, postID int64, prefix string) (map[string]json.RawMessage, error)
}

// Config configures the extension.
type Config struct {
	Store      Store
	BaseURL    string
	EntryClass string
	Metrics    observability.Recorder
	Audit      observability.Auditor
	Logger     *slog.Logger
}

// Extension implements detective.Extension.
type Extension struct {
	cfg    Config
	logger *slog.Logger
}

var _ detective.Extension = (*Extension)(nil)

// New creates the extension. EntryClass defaults to "hentry".
func New(cfg Config) *Extension {
	if cfg.EntryClass == "" {
		cfg.EntryClass = "hentry"
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.Discard
	}
	if cfg.Audit == nil {
		cfg.Audit = observability.NopAuditor
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Extension{cfg: cfg, logger: cfg.Logger}
}

// Name implements detective.Extension.
func (e *Extension) Name() string { return Name }

// RegisterVisitors registers a visitor with its own height cache. Singular
// pages are left alone.
func (e *Extension) RegisterVisitors(reg *tagvisit.Registry, page tagvisit.Page) {
	if page.Singular {
		return
	}
	v, err := NewVisitor(NewHeightCache(e.cfg.Store, page.PostID, e.logger), e.cfg.EntryClass, e.cfg.Metrics)
	if err != nil {
		e.logger.Error("cvauto: visitor not registered", "error", err)
		return
	}
	reg.Register(VisitorID, v)
}

// ModuleURL is the client module URL.
func (e *Extension) ModuleURL() string {
	return strings.TrimSuffix(e.cfg.BaseURL, "/") + "/extensions/" + Name + "/detect.js?ver=" + Version
}

// FilterModuleURLs implements detective.Extension.
func (e *Extension) FilterModuleURLs(urls []string) []string {
	return append(urls, e.ModuleURL())
}

// FilterElementSchema implements detective.Extension.
func (e *Extension) FilterElementSchema(props map[string]*jsonschema.Schema) map[string]*jsonschema.Schema {
	if props == nil {
		props = make(map[string]*jsonschema.Schema)
	}
	zero := 0.0
	props[HeightProperty] = &jsonschema.Schema{Type: "number", Minimum: &zero}
	return props
}

// URLMetricStored implements detective.Extension.
func (e *Extension) URLMetricStored(ctx context.Context, rc detective.StoreRequestContext) error {
	start := time.Now()
	n, err := PersistHeights(ctx, e.cfg.Store, rc)
	params := map[string]any{"post_id": rc.PostID}
	if rc.Group != nil {
		params["group"] = rc.Group.Range()
	}
	e.cfg.Audit.Audit(ctx, observability.ComponentCVAuto, "persist_heights", params, map[string]int{"heights": n}, err, time.Since(start))
	if err != nil {
		return err
	}
	e.cfg.Metrics.Record(observability.Count(observability.MetricHeightsPersisted, n, map[string]string{"group": rc.Group.Range()}))
	return nil
}

// Assets implements detective.AssetProvider.
func (e *Extension) Assets() fs.FS { return assets }

var (
	_ detective.AssetProvider = (*Extension)(nil)
	_ detective.MCPProvider   = (*Extension)(nil)
)
